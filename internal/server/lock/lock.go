// Package lock serializes work on a single key. Local covers one process;
// Redis covers several replicas sharing a token store.
package lock

import (
	"context"
	"errors"
)

// ErrNotHeld is returned by a Redis unlock whose lease already expired and
// was taken over by another holder.
var ErrNotHeld = errors.New("lock not held")

// Locker acquires an exclusive lock on key, blocking until it is held or
// ctx is done. The returned func releases it and is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}
