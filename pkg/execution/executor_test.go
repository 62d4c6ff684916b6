package execution

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/metis/pkg/mocks"
	"github.com/dukex/metis/pkg/models"
	"github.com/dukex/metis/pkg/persistence"
	"github.com/dukex/metis/pkg/persistence/file"
	"github.com/dukex/metis/pkg/taskrunner"
	"github.com/dukex/metis/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSettings() Settings {
	return Settings{
		InstanceID:       "instance-1",
		PollInterval:     time.Millisecond,
		NoProgressWindow: time.Hour,
		ClaimLease:       time.Minute,
		BaseURL:          "http://ecloud.example.org",
		Provider:         "metis",
	}
}

func newTestExecutor(t *testing.T, runner taskrunner.Client, tune ...func(*Settings)) (*Executor, *file.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())

	settings := testSettings()
	for _, fn := range tune {
		fn(&settings)
	}

	return NewExecutor(store, runner, settings, discardLogger()), store
}

func createExecution(t *testing.T, store persistence.ExecutionStore, overrides ...func(*models.Execution)) *models.Execution {
	t.Helper()

	execution := testutil.CreateTestExecution(overrides...)
	require.NoError(t, store.Create(context.Background(), execution))

	return execution
}

func storedExecution(t *testing.T, store persistence.ExecutionStore, id string) *models.Execution {
	t.Helper()

	execution, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)

	return execution
}

func TestExecutor_Run_FinishesAllPlugins(t *testing.T) {
	runner := newFakeRunner(finishAfter(2))
	executor, store := newTestExecutor(t, runner)
	created := createExecution(t, store)

	result, err := executor.Run(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, models.WorkflowStatusFinished, result.Status)
	assert.Equal(t, []string{"http_harvest", "enrichment"}, runner.submittedTopologies())

	stored := storedExecution(t, store, created.ID)
	assert.Equal(t, models.WorkflowStatusFinished, stored.Status)
	assert.False(t, stored.Cancelling)
	assert.Equal(t, "instance-1", stored.ClaimedBy)

	for _, plugin := range stored.Plugins {
		assert.Equal(t, models.PluginStatusFinished, plugin.Status)
		assert.NotEmpty(t, plugin.ExternalTaskID)
		assert.NotNil(t, plugin.FinishedDate)
	}

	require.NotNil(t, stored.FinishedDate)
	assert.True(t, stored.FinishedDate.Equal(*stored.Plugins[1].FinishedDate))
}

func TestExecutor_Run_ChainsPreviousRevision(t *testing.T) {
	runner := newFakeRunner(finishAfter(1))
	executor, store := newTestExecutor(t, runner)
	created := createExecution(t, store)

	result, err := executor.Run(context.Background(), created.ID)
	require.NoError(t, err)

	require.Len(t, runner.submitted, 2)
	assert.Nil(t, runner.submitted[0].InputRevision)

	first := result.Plugins[0]
	require.NotNil(t, first.StartedDate)
	assert.True(t, first.StartedDate.Equal(*result.StartedDate), "first plugin starts with the execution")

	input := runner.submitted[1].InputRevision
	require.NotNil(t, input)
	assert.Equal(t, string(models.PluginTypeHTTPHarvest), input.Name)
	assert.True(t, input.Timestamp.Equal(*first.StartedDate))
	assert.Equal(t, created.EcloudDatasetID, runner.submitted[1].DatasetID)
}

type callerKey struct{}

// writeCountingStore counts the writes each caller makes, keyed by the caller set on the context.
type writeCountingStore struct {
	persistence.ExecutionStore

	mu     sync.Mutex
	writes map[int]int
}

func (s *writeCountingStore) count(ctx context.Context) {
	caller, _ := ctx.Value(callerKey{}).(int)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes[caller]++
}

func (s *writeCountingStore) written(caller int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writes[caller]
}

func (s *writeCountingStore) SetCancellingState(ctx context.Context, id string) error {
	s.count(ctx)

	return s.ExecutionStore.SetCancellingState(ctx, id)
}

func (s *writeCountingStore) Overwrite(ctx context.Context, execution *models.Execution) error {
	s.count(ctx)

	return s.ExecutionStore.Overwrite(ctx, execution)
}

func (s *writeCountingStore) PatchPlugins(ctx context.Context, execution *models.Execution) error {
	s.count(ctx)

	return s.ExecutionStore.PatchPlugins(ctx, execution)
}

func (s *writeCountingStore) PatchMonitorInformation(ctx context.Context, execution *models.Execution) error {
	s.count(ctx)

	return s.ExecutionStore.PatchMonitorInformation(ctx, execution)
}

func TestExecutor_Run_ConcurrentCallsClaimOnce(t *testing.T) {
	store := &writeCountingStore{
		ExecutionStore: file.NewPersistence(t.TempDir()),
		writes:         map[int]int{},
	}
	executor := NewExecutor(store, &mocks.MockTaskRunner{}, testSettings(), discardLogger())

	created := createExecution(t, store, testutil.WithPlugins(
		testutil.CreateTestPlugin(models.PluginStatusInQueue, testutil.MockedMetadata()),
		testutil.CreateTestPlugin(models.PluginStatusInQueue, testutil.MockedMetadata()),
	))

	results := make([]*models.Execution, 2)

	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)

		go func() {
			defer wg.Done()

			ctx := context.WithValue(context.Background(), callerKey{}, i+1)

			result, err := executor.Run(ctx, created.ID)
			assert.NoError(t, err)

			results[i] = result
		}()
	}

	wg.Wait()

	claimed := 0
	for i, result := range results {
		if result != nil {
			claimed++

			assert.Positive(t, store.written(i+1))
		} else {
			assert.Zero(t, store.written(i+1), "losing call wrote to the store")
		}
	}

	assert.Equal(t, 1, claimed)
	assert.Equal(t, models.WorkflowStatusFinished, storedExecution(t, store, created.ID).Status)
}

func TestExecutor_Run_UnclaimableIsNoop(t *testing.T) {
	tests := []struct {
		name     string
		claimErr error
	}{
		{"not claimable", persistence.ErrExecutionNotClaimable},
		{"deleted", persistence.NewExecutionError("ClaimExecution", "exec-1", persistence.ErrExecutionNotFound)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mocks.MockExecutionStore{}
			runner := &mocks.MockTaskRunner{}
			store.On("ClaimExecution", mock.Anything, "exec-1", mock.AnythingOfType("persistence.Claim")).
				Return(nil, tt.claimErr)

			executor := NewExecutor(store, runner, testSettings(), discardLogger())

			result, err := executor.Run(context.Background(), "exec-1")
			require.NoError(t, err)
			assert.Nil(t, result)

			store.AssertExpectations(t)
			store.AssertNotCalled(t, "Overwrite", mock.Anything, mock.Anything)
			store.AssertNotCalled(t, "PatchPlugins", mock.Anything, mock.Anything)
			store.AssertNotCalled(t, "PatchMonitorInformation", mock.Anything, mock.Anything)
			store.AssertNotCalled(t, "SetCancellingState", mock.Anything, mock.Anything)
			runner.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
		})
	}
}

func TestExecutor_Run_ClaimStoreFailure(t *testing.T) {
	store := &mocks.MockExecutionStore{}
	store.On("ClaimExecution", mock.Anything, "exec-1", mock.AnythingOfType("persistence.Claim")).
		Return(nil, errors.New("connection refused"))

	executor := NewExecutor(store, &mocks.MockTaskRunner{}, testSettings(), discardLogger())

	result, err := executor.Run(context.Background(), "exec-1")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestExecutor_Run_ResumesAtFirstPendingPlugin(t *testing.T) {
	started := time.Now().Add(-time.Hour).UTC()

	harvest := testutil.CreateTestPlugin(models.PluginStatusFinished, &models.HTTPHarvestMetadata{URL: "http://example.org/a.zip"})
	harvest.ExternalTaskID = "old-1"
	harvest.StartedDate = &started
	harvest.FinishedDate = &started

	validation := testutil.CreateTestPlugin(models.PluginStatusFinished, &models.ValidationExternalMetadata{})
	validation.ExternalTaskID = "old-2"
	validation.StartedDate = &started
	validation.FinishedDate = &started

	runner := newFakeRunner(finishAfter(1))
	executor, store := newTestExecutor(t, runner)
	created := createExecution(t, store,
		testutil.WithStatus(models.WorkflowStatusRunning),
		testutil.WithUpdatedDate(time.Now().Add(-10*time.Minute)),
		testutil.WithPlugins(
			harvest,
			validation,
			testutil.CreateTestPlugin(models.PluginStatusInQueue, &models.TransformationMetadata{XsltURL: "http://example.org/t.xsl"}),
			testutil.CreateTestPlugin(models.PluginStatusInQueue, &models.EnrichmentMetadata{}),
		),
	)

	result, err := executor.Run(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, []string{"xslt_transform", "enrichment"}, runner.submittedTopologies())
	assert.Zero(t, runner.polls("old-1"))
	assert.Zero(t, runner.polls("old-2"))

	require.NotNil(t, runner.submitted[0].InputRevision)
	assert.Equal(t, string(models.PluginTypeValidationExternal), runner.submitted[0].InputRevision.Name)

	stored := storedExecution(t, store, created.ID)
	assert.Equal(t, models.WorkflowStatusFinished, stored.Status)
	assert.Equal(t, "old-1", stored.Plugins[0].ExternalTaskID)
	assert.Equal(t, "old-2", stored.Plugins[1].ExternalTaskID)
}

func TestExecutor_Run_NothingPendingGoesStraightToFinalize(t *testing.T) {
	started := time.Now().Add(-time.Hour).UTC()

	harvest := testutil.CreateTestPlugin(models.PluginStatusFinished, &models.HTTPHarvestMetadata{URL: "http://example.org/a.zip"})
	harvest.ExternalTaskID = "old-1"
	harvest.StartedDate = &started
	harvest.FinishedDate = &started

	// Submission failed and was patched, but the owner died before the final overwrite.
	enrichment := testutil.CreateTestPlugin(models.PluginStatusFailed, &models.EnrichmentMetadata{})
	enrichment.StartedDate = &started

	runner := newFakeRunner(finishAfter(1))
	executor, store := newTestExecutor(t, runner)
	created := createExecution(t, store,
		testutil.WithStatus(models.WorkflowStatusRunning),
		testutil.WithUpdatedDate(time.Now().Add(-10*time.Minute)),
		testutil.WithPlugins(harvest, enrichment),
	)

	result, err := executor.Run(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Empty(t, runner.submittedTopologies())
	assert.Zero(t, runner.polls("old-1"))

	stored := storedExecution(t, store, created.ID)
	assert.Equal(t, models.WorkflowStatusFailed, stored.Status)
	assert.Nil(t, stored.FinishedDate)

	assert.Equal(t, models.PluginStatusFinished, stored.Plugins[0].Status)
	require.NotNil(t, stored.Plugins[0].FinishedDate)
	assert.True(t, stored.Plugins[0].FinishedDate.Equal(started))

	assert.Equal(t, models.PluginStatusFailed, stored.Plugins[1].Status)
	assert.Empty(t, stored.Plugins[1].ExternalTaskID)
	assert.Nil(t, stored.Plugins[1].FinishedDate)
}

func TestExecutor_Run_StallTriggersSingleCancel(t *testing.T) {
	afterCancel := 0
	runner := newFakeRunner(func(_ string, _ int, cancelled bool) (*taskrunner.TaskProgress, error) {
		if !cancelled {
			return progress(models.TaskStateProcessing, 100, 5), nil
		}

		afterCancel++
		if afterCancel > 5 {
			return progress(models.TaskStateDropped, 100, 5), nil
		}

		return progress(models.TaskStateProcessing, 100, 5), nil
	})
	executor, store := newTestExecutor(t, runner, func(s *Settings) {
		s.NoProgressWindow = 5 * time.Millisecond
	})
	created := createExecution(t, store)

	result, err := executor.Run(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 1, runner.cancels("task-1"))
	assert.Greater(t, runner.polls("task-1"), 5)
	assert.Equal(t, []string{"http_harvest"}, runner.submittedTopologies())

	stored := storedExecution(t, store, created.ID)
	assert.True(t, stored.Cancelling)
	assert.Equal(t, models.WorkflowStatusCancelled, stored.Status)
	assert.Nil(t, stored.FinishedDate)
	assert.Equal(t, models.PluginStatusCancelled, stored.Plugins[0].Status)
	assert.Equal(t, models.PluginStatusCancelled, stored.Plugins[1].Status)
}

func TestExecutor_Run_CancelRequestSendsSingleCancel(t *testing.T) {
	var store *file.Persistence

	var executionID string

	afterCancel := 0
	runner := newFakeRunner(func(_ string, call int, cancelled bool) (*taskrunner.TaskProgress, error) {
		if call == 1 {
			require.NoError(t, store.SetCancellingState(context.Background(), executionID))
		}

		if cancelled {
			afterCancel++
			if afterCancel > 3 {
				return progress(models.TaskStateDropped, 100, call), nil
			}
		}

		return progress(models.TaskStateProcessing, 100, call), nil
	})

	executor, store := newTestExecutor(t, runner)
	created := createExecution(t, store)
	executionID = created.ID

	_, err := executor.Run(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, runner.cancels("task-1"))
	assert.Equal(t, []string{"http_harvest"}, runner.submittedTopologies(), "no plugin is submitted after cancellation")

	stored := storedExecution(t, store, created.ID)
	assert.True(t, stored.Cancelling)
	assert.Equal(t, models.WorkflowStatusCancelled, stored.Status)
	assert.Equal(t, models.PluginStatusCancelled, stored.Plugins[0].Status)
	assert.Equal(t, models.PluginStatusCancelled, stored.Plugins[1].Status)
}

func TestExecutor_Run_CleaningPluginIsNotCancelled(t *testing.T) {
	var store *file.Persistence

	var executionID string

	runner := newFakeRunner(func(_ string, call int, _ bool) (*taskrunner.TaskProgress, error) {
		if call == 1 {
			require.NoError(t, store.SetCancellingState(context.Background(), executionID))
		}

		if call >= 4 {
			return progress(models.TaskStateProcessed, 10, 10), nil
		}

		return progress(models.TaskStateRemovingFromStorage, 10, 10), nil
	})

	executor, store := newTestExecutor(t, runner)
	created := createExecution(t, store)
	executionID = created.ID

	_, err := executor.Run(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Zero(t, runner.cancels("task-1"))
	assert.Equal(t, []string{"http_harvest"}, runner.submittedTopologies())

	stored := storedExecution(t, store, created.ID)
	assert.Equal(t, models.WorkflowStatusCancelled, stored.Status)
	assert.Nil(t, stored.FinishedDate)
	assert.Equal(t, models.PluginStatusFinished, stored.Plugins[0].Status)
	assert.Equal(t, models.PluginStatusCancelled, stored.Plugins[1].Status)
}

func TestExecutor_Run_MonitorFailureCap(t *testing.T) {
	runner := newFakeRunner(func(_ string, call int, _ bool) (*taskrunner.TaskProgress, error) {
		if call == 1 {
			return progress(models.TaskStateProcessing, 10, 9), nil
		}

		return nil, taskrunner.ErrTaskRunner
	})
	executor, store := newTestExecutor(t, runner)
	created := createExecution(t, store)

	result, err := executor.Run(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 1+maxMonitorFailures, runner.polls("task-1"))

	stored := storedExecution(t, store, created.ID)
	assert.Equal(t, models.WorkflowStatusFailed, stored.Status)
	assert.Equal(t, models.PluginStatusFailed, stored.Plugins[0].Status)
	assert.Nil(t, stored.Plugins[0].FinishedDate)
	assert.Equal(t, 9, stored.Plugins[0].Progress.ProcessedRecords)
	assert.Equal(t, models.PluginStatusCancelled, stored.Plugins[1].Status)
}

func TestExecutor_Run_MonitorFailuresResetOnSuccess(t *testing.T) {
	runner := newFakeRunner(func(_ string, call int, _ bool) (*taskrunner.TaskProgress, error) {
		switch call {
		case 1, 2, 4, 5:
			return nil, taskrunner.ErrTaskRunner
		case 3:
			return progress(models.TaskStateProcessing, 10, 5), nil
		default:
			return progress(models.TaskStateProcessed, 10, 10), nil
		}
	})
	executor, store := newTestExecutor(t, runner)
	created := createExecution(t, store, testutil.WithPlugins(
		testutil.CreateTestPlugin(models.PluginStatusInQueue, &models.EnrichmentMetadata{}),
	))

	_, err := executor.Run(context.Background(), created.ID)
	require.NoError(t, err)

	stored := storedExecution(t, store, created.ID)
	assert.Equal(t, models.WorkflowStatusFinished, stored.Status)
	assert.Equal(t, 6, runner.polls("task-1"))
}

func TestExecutor_Run_CascadeCancelOnFailure(t *testing.T) {
	started := time.Now().Add(-time.Hour).UTC()
	harvest := testutil.CreateTestPlugin(models.PluginStatusFinished, &models.HTTPHarvestMetadata{URL: "http://example.org/a.zip"})
	harvest.ExternalTaskID = "old-1"
	harvest.StartedDate = &started
	harvest.FinishedDate = &started

	runner := newFakeRunner(finishAfter(1))
	runner.submitErr = errors.New("topology unavailable")

	executor, store := newTestExecutor(t, runner)
	created := createExecution(t, store, testutil.WithPlugins(
		harvest,
		testutil.CreateTestPlugin(models.PluginStatusInQueue, &models.ValidationExternalMetadata{}),
		testutil.CreateTestPlugin(models.PluginStatusInQueue, &models.TransformationMetadata{}),
		testutil.CreateTestPlugin(models.PluginStatusInQueue, &models.ValidationInternalMetadata{}),
	))

	_, err := executor.Run(context.Background(), created.ID)
	require.NoError(t, err)

	stored := storedExecution(t, store, created.ID)
	assert.Equal(t, models.WorkflowStatusFailed, stored.Status)
	assert.Nil(t, stored.FinishedDate)

	statuses := make([]models.PluginStatus, 0, len(stored.Plugins))
	for _, plugin := range stored.Plugins {
		statuses = append(statuses, plugin.Status)
	}

	assert.Equal(t, []models.PluginStatus{
		models.PluginStatusFinished,
		models.PluginStatusFailed,
		models.PluginStatusCancelled,
		models.PluginStatusCancelled,
	}, statuses)
	assert.Nil(t, stored.Plugins[1].FinishedDate)
	assert.Empty(t, stored.Plugins[1].ExternalTaskID)
}

func TestExecutor_Run_SubmitPanicFailsPlugin(t *testing.T) {
	runner := newFakeRunner(finishAfter(1))
	runner.submitHook = func(taskrunner.TaskRequest) {
		panic("runner client bug")
	}

	executor, store := newTestExecutor(t, runner)
	created := createExecution(t, store)

	result, err := executor.Run(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, result)

	stored := storedExecution(t, store, created.ID)
	assert.Equal(t, models.WorkflowStatusFailed, stored.Status)
	assert.Equal(t, models.PluginStatusFailed, stored.Plugins[0].Status)
	assert.Equal(t, models.PluginStatusCancelled, stored.Plugins[1].Status)
}

func TestExecutor_Run_CancelledWhileQueued(t *testing.T) {
	runner := newFakeRunner(finishAfter(1))
	executor, store := newTestExecutor(t, runner)
	created := createExecution(t, store)
	require.NoError(t, store.SetCancellingState(context.Background(), created.ID))

	_, err := executor.Run(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Empty(t, runner.submittedTopologies())

	stored := storedExecution(t, store, created.ID)
	assert.Equal(t, models.WorkflowStatusCancelled, stored.Status)
	assert.True(t, stored.Cancelling)

	for _, plugin := range stored.Plugins {
		assert.Equal(t, models.PluginStatusCancelled, plugin.Status)
	}
}

func TestExecutor_Run_MockedPluginsAreSimulated(t *testing.T) {
	runner := &mocks.MockTaskRunner{}
	executor, store := newTestExecutor(t, runner)
	created := createExecution(t, store, testutil.WithPlugins(
		testutil.CreateTestPlugin(models.PluginStatusInQueue, testutil.MockedMetadata()),
		testutil.CreateTestPlugin(models.PluginStatusInQueue, testutil.MockedMetadata()),
	))

	_, err := executor.Run(context.Background(), created.ID)
	require.NoError(t, err)

	runner.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	runner.AssertNotCalled(t, "Progress", mock.Anything, mock.Anything, mock.Anything)

	stored := storedExecution(t, store, created.ID)
	assert.Equal(t, models.WorkflowStatusFinished, stored.Status)

	for _, plugin := range stored.Plugins {
		assert.Equal(t, models.PluginStatusFinished, plugin.Status)
		assert.Contains(t, plugin.ExternalTaskID, "mocked-")
		assert.Equal(t, 200, plugin.Progress.ExpectedRecords)
		assert.Equal(t, 200, plugin.Progress.ProcessedRecords)
		assert.Equal(t, 100, plugin.Progress.Percentage())
	}
}

func TestExecutor_Run_InterruptionLeavesExecutionForRecovery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := newFakeRunner(func(_ string, call int, _ bool) (*taskrunner.TaskProgress, error) {
		if call == 2 {
			cancel()
		}

		return progress(models.TaskStateProcessing, 10, call), nil
	})
	executor, store := newTestExecutor(t, runner)
	created := createExecution(t, store)

	result, err := executor.Run(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, result)

	stored := storedExecution(t, store, created.ID)
	assert.Equal(t, models.WorkflowStatusRunning, stored.Status)
	assert.Equal(t, models.PluginStatusRunning, stored.Plugins[0].Status)
	assert.Equal(t, "task-1", stored.Plugins[0].ExternalTaskID)
	assert.Equal(t, models.PluginStatusInQueue, stored.Plugins[1].Status)

	// A second instance takes over once the claim lease has lapsed and keeps the submitted task.
	recoveryRunner := newFakeRunner(finishAfter(1))
	recoveryRunner.nextID = 100
	recovery := NewExecutor(store, recoveryRunner, Settings{
		InstanceID:       "instance-2",
		PollInterval:     time.Millisecond,
		NoProgressWindow: time.Hour,
		ClaimLease:       time.Millisecond,
		BaseURL:          "http://ecloud.example.org",
		Provider:         "metis",
	}, discardLogger())

	time.Sleep(5 * time.Millisecond)

	recovered, err := recovery.Run(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, recovered)

	assert.Equal(t, models.WorkflowStatusFinished, recovered.Status)
	assert.Equal(t, "instance-2", recovered.ClaimedBy)
	assert.Equal(t, []string{"enrichment"}, recoveryRunner.submittedTopologies())
	assert.Equal(t, 1, recoveryRunner.polls("task-1"))
}

func TestSettings_Validate(t *testing.T) {
	assert.NoError(t, testSettings().Validate())

	settings := testSettings()
	settings.NoProgressWindow = 0
	assert.Error(t, settings.Validate())

	settings = testSettings()
	settings.InstanceID = ""
	assert.Error(t, settings.Validate())

	settings = DefaultSettings("instance-1")
	assert.Error(t, settings.Validate(), "defaults carry no task runner target")

	settings.BaseURL = "http://ecloud.example.org"
	settings.Provider = "metis"
	assert.NoError(t, settings.Validate())
}
