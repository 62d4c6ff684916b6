package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/dukex/metis/pkg/models"
	"github.com/dukex/metis/pkg/taskrunner"
)

// progressScript decides the answer to the nth progress call (starting at 1) for a task.
type progressScript func(taskID string, call int, cancelled bool) (*taskrunner.TaskProgress, error)

// fakeRunner is a scripted task runner that records every call.
type fakeRunner struct {
	mu sync.Mutex

	script     progressScript
	submitErr  error
	submitHook func(request taskrunner.TaskRequest)
	nextID     int

	submitted     []taskrunner.TaskRequest
	progressCalls map[string]int
	cancelCalls   map[string]int
}

func newFakeRunner(script progressScript) *fakeRunner {
	return &fakeRunner{
		script:        script,
		progressCalls: map[string]int{},
		cancelCalls:   map[string]int{},
	}
}

func (f *fakeRunner) Submit(_ context.Context, request taskrunner.TaskRequest) (string, error) {
	if f.submitHook != nil {
		f.submitHook(request)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.submitErr != nil {
		return "", f.submitErr
	}

	f.nextID++
	f.submitted = append(f.submitted, request)

	return fmt.Sprintf("task-%d", f.nextID), nil
}

func (f *fakeRunner) Progress(_ context.Context, _, taskID string) (*taskrunner.TaskProgress, error) {
	f.mu.Lock()
	f.progressCalls[taskID]++
	call := f.progressCalls[taskID]
	cancelled := f.cancelCalls[taskID] > 0
	f.mu.Unlock()

	return f.script(taskID, call, cancelled)
}

func (f *fakeRunner) Cancel(_ context.Context, _, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelCalls[taskID]++

	return nil
}

func (f *fakeRunner) submittedTopologies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	topologies := make([]string, 0, len(f.submitted))
	for _, request := range f.submitted {
		topologies = append(topologies, request.Topology)
	}

	return topologies
}

func (f *fakeRunner) cancels(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.cancelCalls[taskID]
}

func (f *fakeRunner) polls(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.progressCalls[taskID]
}

func progress(state models.TaskState, expected, processed int) *taskrunner.TaskProgress {
	return &taskrunner.TaskProgress{State: state, ExpectedRecords: expected, ProcessedRecords: processed}
}

// finishAfter reports processing for calls-1 polls and then processed.
func finishAfter(calls int) progressScript {
	return func(_ string, call int, _ bool) (*taskrunner.TaskProgress, error) {
		if call >= calls {
			return progress(models.TaskStateProcessed, 10, 10), nil
		}

		return progress(models.TaskStateProcessing, 10, call), nil
	}
}
