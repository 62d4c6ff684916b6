package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/metis/pkg/cmd"
	"github.com/dukex/metis/pkg/execution"
	"github.com/dukex/metis/pkg/failsafe"
	"github.com/dukex/metis/pkg/lock"
	"github.com/dukex/metis/pkg/mocks"
	"github.com/dukex/metis/pkg/models"
	"github.com/dukex/metis/pkg/persistence/file"
	"github.com/dukex/metis/pkg/queue"
	"github.com/dukex/metis/pkg/services"
	"github.com/dukex/metis/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrchestrator_RunsMockedExecution(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	settings := execution.DefaultSettings("test-instance")
	settings.PollInterval = 10 * time.Millisecond
	settings.ClaimLease = time.Second
	settings.NoProgressWindow = time.Minute

	sweep := failsafe.DefaultConfig()
	sweep.LivenessWindow = 200 * time.Millisecond

	config := Config{
		InstanceID: "test-instance",
		Port:       0,
		Executor:   settings,
		Queue:      queue.Config{Workers: 2, BufferSize: 10},
		Failsafe:   sweep,
	}

	store := file.NewPersistence(t.TempDir())
	bus := cmd.NewEventBus("gochannel", logger, nil)
	runner := &mocks.MockTaskRunner{}

	orchestrator := NewOrchestrator(config, Dependencies{
		Store:  store,
		Bus:    bus,
		Locker: lock.NewLocalLocker(),
		Runner: runner,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- orchestrator.Start(ctx)
	}()

	created, err := orchestrator.service.AddExecution(ctx, services.AddExecutionRequest{
		DatasetID:       "dataset-1",
		EcloudDatasetID: "ecloud-1",
		Plugins: []*models.Plugin{
			models.NewPlugin("", testutil.MockedMetadata()),
			models.NewPlugin("", testutil.MockedMetadata()),
		},
	})
	require.NoError(t, err)

	// A message published before the pool subscribed is recovered by the failsafe sweep.
	assert.Eventually(t, func() bool {
		stored, err := store.GetByID(context.Background(), created.ID)

		return err == nil && stored.Status == models.WorkflowStatusFinished
	}, 10*time.Second, 20*time.Millisecond)

	stored, err := store.GetByID(context.Background(), created.ID)
	require.NoError(t, err)

	for _, plugin := range stored.Plugins {
		assert.Equal(t, models.PluginStatusFinished, plugin.Status)
		assert.Equal(t, 100, plugin.Progress.Percentage())
	}

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop")
	}

	runner.AssertNotCalled(t, "Submit")
}
