package postgresql_test

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dukex/metis/pkg/models"
	"github.com/dukex/metis/pkg/persistence"
	"github.com/dukex/metis/pkg/persistence/postgresql"
	"github.com/dukex/metis/pkg/testutil"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{
	"id", "dataset_id", "ecloud_dataset_id", "status", "cancelling", "priority", "claimed_by",
	"plugins", "created_date", "started_date", "updated_date", "finished_date",
}

func newMockPersistence(t *testing.T) (*postgresql.Persistence, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return postgresql.NewPersistenceWithDB(logger, db), mock
}

func executionRow(t *testing.T, execution *models.Execution) *sqlmock.Rows {
	t.Helper()

	plugins, err := json.Marshal(execution.Plugins)
	require.NoError(t, err)

	var started, updated, finished driver.Value
	if execution.StartedDate != nil {
		started = *execution.StartedDate
	}

	if execution.UpdatedDate != nil {
		updated = *execution.UpdatedDate
	}

	if execution.FinishedDate != nil {
		finished = *execution.FinishedDate
	}

	return sqlmock.NewRows(columns).AddRow(
		execution.ID, execution.DatasetID, execution.EcloudDatasetID, string(execution.Status),
		execution.Cancelling, execution.Priority, execution.ClaimedBy, plugins,
		execution.CreatedDate, started, updated, finished,
	)
}

func TestExecutionRepository_GetByID(t *testing.T) {
	p, mock := newMockPersistence(t)
	execution := testutil.CreateTestExecution()

	mock.ExpectQuery(regexp.QuoteMeta("FROM executions WHERE id = $1")).
		WithArgs(execution.ID).
		WillReturnRows(executionRow(t, execution))

	stored, err := p.GetByID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.ID, stored.ID)
	assert.Equal(t, models.WorkflowStatusInQueue, stored.Status)
	require.Len(t, stored.Plugins, 2)
	assert.IsType(t, &models.EnrichmentMetadata{}, stored.Plugins[1].Metadata)
	assert.Nil(t, stored.StartedDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_GetByID_NotFound(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM executions WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := p.GetByID(context.Background(), "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_ClaimExecution(t *testing.T) {
	p, mock := newMockPersistence(t)
	now := time.Now().UTC()
	claim := persistence.Claim{Owner: "instance-1", At: now, StaleBefore: now.Add(-time.Minute)}

	claimed := testutil.CreateTestExecution(testutil.WithStatus(models.WorkflowStatusRunning), testutil.WithUpdatedDate(now))
	claimed.StartedDate = &now
	claimed.ClaimedBy = "instance-1"

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE executions")).
		WithArgs(claimed.ID, now, "instance-1", claim.StaleBefore).
		WillReturnRows(executionRow(t, claimed))

	execution, err := p.ClaimExecution(context.Background(), claimed.ID, claim)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusRunning, execution.Status)
	assert.Equal(t, "instance-1", execution.ClaimedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_ClaimExecution_NotClaimable(t *testing.T) {
	p, mock := newMockPersistence(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE executions")).
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := p.ClaimExecution(context.Background(), "exec-1", persistence.Claim{Owner: "a", At: now, StaleBefore: now})
	assert.True(t, persistence.IsExecutionNotClaimable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_Create_DuplicateDataset(t *testing.T) {
	p, mock := newMockPersistence(t)
	execution := testutil.CreateTestExecution()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO executions")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := p.Create(context.Background(), execution)
	assert.True(t, persistence.IsExecutionAlreadyExists(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_Create_DuplicateID(t *testing.T) {
	p, mock := newMockPersistence(t)
	execution := testutil.CreateTestExecution()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO executions")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := p.Create(context.Background(), execution)
	assert.True(t, persistence.IsExecutionAlreadyExists(err))
}

func TestExecutionRepository_PartialWritesLeaveCancellingAlone(t *testing.T) {
	p, mock := newMockPersistence(t)
	now := time.Now().UTC()
	execution := testutil.CreateTestExecution(testutil.WithUpdatedDate(now))

	mock.ExpectExec(`UPDATE executions SET plugins = \$2 WHERE id = \$1`).
		WithArgs(execution.ID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE executions SET plugins = \$2, updated_date = \$3 WHERE id = \$1`).
		WithArgs(execution.ID, sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.PatchPlugins(context.Background(), execution))
	require.NoError(t, p.PatchMonitorInformation(context.Background(), execution))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_Overwrite_NotFound(t *testing.T) {
	p, mock := newMockPersistence(t)
	execution := testutil.CreateTestExecution()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE executions SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := p.Overwrite(context.Background(), execution)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_IsCancelling(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE executions SET cancelling = TRUE WHERE id = $1")).
		WithArgs("exec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT cancelling FROM executions WHERE id = $1")).
		WithArgs("exec-1").
		WillReturnRows(sqlmock.NewRows([]string{"cancelling"}).AddRow(true))

	require.NoError(t, p.SetCancellingState(context.Background(), "exec-1"))

	cancelling, err := p.IsCancelling(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.True(t, cancelling)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_ExistsAndNotCompleted(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM executions")).
		WithArgs("ds-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("exec-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM executions")).
		WithArgs("ds-2").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	id, err := p.ExistsAndNotCompleted(context.Background(), "ds-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", id)

	id, err = p.ExistsAndNotCompleted(context.Background(), "ds-2")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestExecutionRepository_StaleExecutions(t *testing.T) {
	p, mock := newMockPersistence(t)
	olderThan := time.Now().UTC().Add(-time.Minute)
	first := testutil.CreateTestExecution(testutil.WithPriority(9))
	second := testutil.CreateTestExecution()

	rows := executionRow(t, first)
	plugins, err := json.Marshal(second.Plugins)
	require.NoError(t, err)
	rows.AddRow(second.ID, second.DatasetID, second.EcloudDatasetID, string(second.Status),
		false, second.Priority, "", plugins, second.CreatedDate, nil, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(updated_date, created_date) < $1")).
		WithArgs(olderThan, 50).
		WillReturnRows(rows)

	found, err := p.StaleExecutions(context.Background(), olderThan, 50)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, first.ID, found[0].ID)
	assert.Equal(t, second.ID, found[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistence_HealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	defer db.Close()

	p := postgresql.NewPersistenceWithDB(slog.New(slog.NewTextHandler(io.Discard, nil)), db)

	mock.ExpectPing()
	require.NoError(t, p.HealthCheck(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Error(t, p.HealthCheck(context.Background()))
}
