package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/metis/pkg/metrics"
	"github.com/dukex/metis/pkg/models"
	"github.com/dukex/metis/pkg/persistence"
)

// Claimer takes ownership of executions on behalf of one orchestrator instance.
type Claimer struct {
	store   persistence.ExecutionStore
	owner   string
	lease   time.Duration
	metrics metrics.Sink
	now     func() time.Time
}

func NewClaimer(store persistence.ExecutionStore, owner string, lease time.Duration, sink metrics.Sink) *Claimer {
	return &Claimer{
		store:   store,
		owner:   owner,
		lease:   lease,
		metrics: sink,
		now:     time.Now,
	}
}

// Claim returns the claimed execution, or nil when it is finished, owned by a live
// instance, or gone. Only store faults are reported as errors.
func (c *Claimer) Claim(ctx context.Context, executionID string) (*models.Execution, error) {
	now := c.now().UTC()

	execution, err := c.store.ClaimExecution(ctx, executionID, persistence.Claim{
		Owner:       c.owner,
		At:          now,
		StaleBefore: now.Add(-c.lease),
	})
	if persistence.IsExecutionNotClaimable(err) || persistence.IsExecutionNotFound(err) {
		c.metrics.ClaimAttempt(false)

		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to claim execution %s: %w", executionID, err)
	}

	c.metrics.ClaimAttempt(true)

	return execution, nil
}
