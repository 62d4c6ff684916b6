package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/metis/pkg/models"
	"github.com/dukex/metis/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunExecutionStoreSuite checks the behaviour every persistence.ExecutionStore must share.
// newStore must return an empty store.
func RunExecutionStoreSuite(t *testing.T, newStore func(t *testing.T) persistence.ExecutionStore) {
	t.Helper()

	t.Run("create and get", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		execution := CreateTestExecution()

		require.NoError(t, store.Create(ctx, execution))

		stored, err := store.GetByID(ctx, execution.ID)
		require.NoError(t, err)
		assert.Equal(t, execution.DatasetID, stored.DatasetID)
		assert.Equal(t, models.WorkflowStatusInQueue, stored.Status)
		require.Len(t, stored.Plugins, 2)
		assert.IsType(t, &models.HTTPHarvestMetadata{}, stored.Plugins[0].Metadata)

		err = store.Create(ctx, execution)
		assert.True(t, persistence.IsExecutionAlreadyExists(err))

		_, err = store.GetByID(ctx, "missing")
		assert.True(t, persistence.IsExecutionNotFound(err))
	})

	t.Run("claim is granted once", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		execution := CreateTestExecution()
		require.NoError(t, store.Create(ctx, execution))

		now := time.Now().UTC()
		claim := persistence.Claim{Owner: "a", At: now, StaleBefore: now.Add(-time.Minute)}

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			granted int
		)

		for range 5 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				claimed, err := store.ClaimExecution(ctx, execution.ID, claim)
				if err == nil {
					mu.Lock()
					granted++
					mu.Unlock()

					assert.Equal(t, models.WorkflowStatusRunning, claimed.Status)
					assert.Equal(t, "a", claimed.ClaimedBy)
					assert.NotNil(t, claimed.StartedDate)
				} else {
					assert.True(t, persistence.IsExecutionNotClaimable(err))
				}
			}()
		}

		wg.Wait()
		assert.Equal(t, 1, granted)
	})

	t.Run("orphaned running execution is claimable", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		old := time.Now().UTC().Add(-time.Hour)
		execution := CreateTestExecution(WithStatus(models.WorkflowStatusRunning), WithUpdatedDate(old))
		execution.StartedDate = &old
		require.NoError(t, store.Create(ctx, execution))

		now := time.Now().UTC()
		claimed, err := store.ClaimExecution(ctx, execution.ID, persistence.Claim{Owner: "b", At: now, StaleBefore: now.Add(-time.Minute)})
		require.NoError(t, err)
		assert.Equal(t, "b", claimed.ClaimedBy)
		assert.WithinDuration(t, old, *claimed.StartedDate, time.Millisecond)
	})

	t.Run("terminal execution is not claimable", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		execution := CreateTestExecution(WithStatus(models.WorkflowStatusFinished))
		require.NoError(t, store.Create(ctx, execution))

		now := time.Now().UTC()
		_, err := store.ClaimExecution(ctx, execution.ID, persistence.Claim{Owner: "a", At: now, StaleBefore: now})
		assert.True(t, persistence.IsExecutionNotClaimable(err))
	})

	t.Run("partial writes keep the cancelling flag", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		execution := CreateTestExecution()
		require.NoError(t, store.Create(ctx, execution))

		require.NoError(t, store.SetCancellingState(ctx, execution.ID))

		now := time.Now().UTC()
		execution.Plugins[0].Status = models.PluginStatusRunning
		execution.Plugins[0].Progress.ProcessedRecords = 10
		execution.UpdatedDate = &now

		require.NoError(t, store.PatchMonitorInformation(ctx, execution))
		require.NoError(t, store.PatchPlugins(ctx, execution))

		cancelling, err := store.IsCancelling(ctx, execution.ID)
		require.NoError(t, err)
		assert.True(t, cancelling)

		stored, err := store.GetByID(ctx, execution.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PluginStatusRunning, stored.Plugins[0].Status)
		assert.Equal(t, 10, stored.Plugins[0].Progress.ProcessedRecords)

		execution.Cancelling = false
		execution.Status = models.WorkflowStatusFinished
		require.NoError(t, store.Overwrite(ctx, execution))

		stored, err = store.GetByID(ctx, execution.ID)
		require.NoError(t, err)
		assert.False(t, stored.Cancelling)
		assert.Equal(t, models.WorkflowStatusFinished, stored.Status)
	})

	t.Run("exists and not completed", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		done := CreateTestExecution(WithDataset("ds-1"), WithStatus(models.WorkflowStatusFinished))
		active := CreateTestExecution(WithDataset("ds-1"))
		require.NoError(t, store.Create(ctx, done))

		id, err := store.ExistsAndNotCompleted(ctx, "ds-1")
		require.NoError(t, err)
		assert.Empty(t, id)

		require.NoError(t, store.Create(ctx, active))

		id, err = store.ExistsAndNotCompleted(ctx, "ds-1")
		require.NoError(t, err)
		assert.Equal(t, active.ID, id)
	})

	t.Run("stale executions", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		stale := CreateTestExecution(WithStatus(models.WorkflowStatusRunning), WithUpdatedDate(now.Add(-time.Hour)))
		urgent := CreateTestExecution(WithPriority(9))
		urgent.CreatedDate = now.Add(-time.Hour)
		fresh := CreateTestExecution(WithStatus(models.WorkflowStatusRunning), WithUpdatedDate(now))
		finished := CreateTestExecution(WithStatus(models.WorkflowStatusFinished), WithUpdatedDate(now.Add(-time.Hour)))

		for _, e := range []*models.Execution{stale, urgent, fresh, finished} {
			require.NoError(t, store.Create(ctx, e))
		}

		found, err := store.StaleExecutions(ctx, now.Add(-time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, found, 2)
		assert.Equal(t, urgent.ID, found[0].ID)
		assert.Equal(t, stale.ID, found[1].ID)

		found, err = store.StaleExecutions(ctx, now.Add(-time.Minute), 1)
		require.NoError(t, err)
		assert.Len(t, found, 1)
	})
}
