package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/metis/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestExecutionErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		notFound := persistence.NewExecutionError("GetByID", "exec-123", persistence.ErrExecutionNotFound)
		notClaimable := persistence.NewExecutionError("ClaimExecution", "exec-123", persistence.ErrExecutionNotClaimable)

		assert.True(t, persistence.IsExecutionNotFound(notFound))
		assert.False(t, persistence.IsExecutionNotClaimable(notFound))
		assert.True(t, persistence.IsExecutionNotClaimable(notClaimable))
		assert.True(t, errors.Is(notClaimable, persistence.ErrExecutionNotClaimable))
	})

	t.Run("wrapped errors keep their identity", func(t *testing.T) {
		err := fmt.Errorf("claim: %w", persistence.NewExecutionError("Create", "exec-1", persistence.ErrExecutionAlreadyExists))

		assert.True(t, persistence.IsExecutionAlreadyExists(err))
	})

	t.Run("execution error contains context", func(t *testing.T) {
		err := persistence.NewExecutionError("Overwrite", "exec-123", persistence.ErrExecutionNotFound)

		assert.Contains(t, err.Error(), "Overwrite")
		assert.Contains(t, err.Error(), "exec-123")
		assert.Contains(t, err.Error(), "execution not found")
	})
}
