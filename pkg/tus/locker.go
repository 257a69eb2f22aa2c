package tus

import (
	"context"
	"slices"

	"github.com/LeeDigitalWorks/zaptus/pkg/utils"
)

// Locker serializes operations per upload id. Entries are reference
// counted and dropped once no caller holds or waits on them.
type Locker struct {
	locks *utils.ShardedMap[*uploadLock]
}

type uploadLock struct {
	ch   chan struct{}
	refs int
}

// NewLocker creates an empty locker
func NewLocker() *Locker {
	return &Locker{locks: utils.NewShardedMap[*uploadLock]()}
}

// Lock blocks until id is free or ctx is done. The returned func releases
// the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, id string) (func(), error) {
	lock := l.locks.Compute(id, func(old *uploadLock, exists bool) (*uploadLock, bool) {
		if !exists {
			old = &uploadLock{ch: make(chan struct{}, 1)}
		}
		old.refs++
		return old, true
	})

	select {
	case lock.ch <- struct{}{}:
		return func() {
			<-lock.ch
			l.release(id)
		}, nil
	case <-ctx.Done():
		l.release(id)
		return nil, ctx.Err()
	}
}

// LockAll locks every id in sorted order, so two callers locking
// overlapping sets cannot deadlock. Duplicates are locked once.
func (l *Locker) LockAll(ctx context.Context, ids []string) (func(), error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	unlocks := make([]func(), 0, len(sorted))
	unlockAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, id := range sorted {
		unlock, err := l.Lock(ctx, id)
		if err != nil {
			unlockAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return unlockAll, nil
}

func (l *Locker) release(id string) {
	l.locks.Compute(id, func(old *uploadLock, exists bool) (*uploadLock, bool) {
		if !exists {
			return nil, false
		}
		old.refs--
		return old, old.refs > 0
	})
}

// Len returns the number of ids currently held or awaited
func (l *Locker) Len() int {
	return l.locks.Len()
}
