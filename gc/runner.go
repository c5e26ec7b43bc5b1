package gc

import (
	"context"

	"github.com/projecteru2/pupa/lock"
)

// runner erases Module[S]'s type parameter so the Orchestrator can hold a
// mixed set of modules. Callers only ever see Module[S] and Register.
type runner interface {
	getName() string
	getLocker() lock.Locker
	readSnapshot(ctx context.Context) (any, error)
	resolveTargets(snap any, others map[string]any) []string
	collect(ctx context.Context, ids []string) error
}
