// Package storage defines the persistence contract for the engine's index
// files. Implementations pair serialization with a cross-process lock so
// concurrent CLI invocations never interleave read-modify-write cycles.
package storage

import "context"

// Initer can be implemented by *T to repair zero-value fields (nil maps and
// the like) after deserialization or when the backing file is absent.
type Initer interface {
	Init()
}

// Store is locked read/modify/write access to a single data structure T.
type Store[T any] interface {
	// With acquires the lock, loads the data, and hands it to fn. If *T
	// implements Initer, Init runs first. The lock covers fn entirely.
	With(ctx context.Context, fn func(*T) error) error
	// Update is With plus persistence: when fn returns nil the mutated
	// data is written back.
	Update(ctx context.Context, fn func(*T) error) error

	// Read and Write are the lockless twins of With and Update for callers
	// that already hold the lock through TryLock (the GC orchestrator).
	Read(fn func(*T) error) error
	Write(fn func(*T) error) error

	// TryLock attempts a non-blocking acquisition of the store lock,
	// returning (false, nil) when it is held elsewhere. A true result
	// obliges the caller to Unlock.
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}
