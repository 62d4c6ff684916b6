// Package file provides a file-based execution store for local development and tests.
package file

import (
	"context"
	"os"
	"strings"
	"sync"
)

// Persistence stores each execution as a JSON document under root/executions.
// A process-local mutex makes every operation atomic, so the store is only safe for a
// single orchestrator process.
type Persistence struct {
	root string

	mu sync.Mutex
	*ExecutionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.ExecutionRepository = newExecutionRepository(cleanRoot, &p.mu)

	return p
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}
