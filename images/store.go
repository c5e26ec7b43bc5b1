package images

import (
	"github.com/projecteru2/pupa/lock"
	"github.com/projecteru2/pupa/lock/flock"
	"github.com/projecteru2/pupa/storage"
	storejson "github.com/projecteru2/pupa/storage/json"
)

// NewStore creates a JSON-backed Store and returns it alongside its locker.
// The locker is exposed separately so it can be handed to gc.Module while
// still guarding the same cross-process lock file as the store.
func NewStore[T any](filePath, lockPath string) (storage.Store[T], lock.Locker) {
	locker := flock.New(lockPath)
	return storejson.New[T](filePath, locker), locker
}
