// Package cache holds per-user capability snapshots in front of the resolver.
//
// Snapshots have no TTL; they live until Invalidate. Each user has a
// generation counter that Invalidate bumps. A recompute records the generation
// it started under and stores its result only if that generation is still
// current, so a recompute that overlapped an invalidation never lands.
package cache

import (
	"context"
	"time"

	"gatekeeper/internal/model"

	"golang.org/x/sync/singleflight"
)

// resolveTimeout bounds a shared recompute. It runs detached from the caller
// that started it, so one caller giving up does not fail the others.
const resolveTimeout = 5 * time.Second

// Resolver computes a fresh capability snapshot from the store.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (*model.Capabilities, error)
}

// Cache returns capability snapshots and drops them on demand.
type Cache interface {
	Get(ctx context.Context, userID string) (*model.Capabilities, error)
	// Invalidate is idempotent.
	Invalidate(ctx context.Context, userID string) error
}

// sharedResolve runs fn once per key for all concurrent callers. Each caller
// waits under its own ctx.
func sharedResolve(ctx context.Context, group *singleflight.Group, key string, fn func(ctx context.Context) (*model.Capabilities, error)) (*model.Capabilities, error) {
	ch := group.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()
		return fn(rctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Capabilities), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
