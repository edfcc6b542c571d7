// Package executor holds the stand-in for the async database executor
// spec.md §1 names but leaves external: the service that actually runs a
// per-task query and reports completion back via the progress webhook.
// NoopExecutor exists only so this repository wires to a complete,
// runnable AsyncExecutor; a real deployment replaces it with the actual
// database session pool integration.
package executor

import (
	"context"
	"fmt"

	domaintask "github.com/here-xyz/tasked-step-engine/internal/domain/task"
)

// NoopExecutor implements domain/task.AsyncExecutor by rejecting every
// dispatch with a clear error, rather than silently pretending to run a
// query it cannot actually execute.
type NoopExecutor struct{}

// NewNoopExecutor builds a NoopExecutor.
func NewNoopExecutor() *NoopExecutor {
	return &NoopExecutor{}
}

func (e *NoopExecutor) RunAsync(ctx context.Context, q domaintask.Query, virtualUnits float64) error {
	return fmt.Errorf("no async executor configured: cannot dispatch query")
}

// PermissiveResourceManager implements domain/task.ResourceManager by
// granting every claim unconditionally, standing in for the out-of-scope
// shared-resource accounting service until one is wired.
type PermissiveResourceManager struct{}

// NewPermissiveResourceManager builds a PermissiveResourceManager.
func NewPermissiveResourceManager() *PermissiveResourceManager {
	return &PermissiveResourceManager{}
}

func (m *PermissiveResourceManager) Claim(ctx context.Context, claims []domaintask.ResourceClaim) error {
	return nil
}
