// Package sf collapses concurrent calls for the same key into one execution.
//
//	g := sf.New[View]()
//	v, shared, err := g.Do(ctx, "page:123", func(ctx context.Context) (View, error) {
//	    return load(ctx, "123")
//	})
//
// Callers that share a result receive the same value; values holding slices
// or maps must be copied before they are modified.
package sf

import (
	"context"

	"golang.org/x/sync/singleflight"
)

type Group[V any] struct {
	group singleflight.Group
}

func New[V any]() *Group[V] {
	return &Group[V]{}
}

// Do runs fn once for all concurrent callers of key. A caller whose ctx ends
// stops waiting with ctx.Err(); the execution itself is detached from that
// cancellation and completes for the remaining callers.
func (g *Group[V]) Do(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (v V, shared bool, err error) {
	ch := g.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return v, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		v, _ = res.Val.(V)
		return v, res.Shared, nil
	}
}

// Forget makes the next Do for key execute fn again even if a call is still
// in flight.
func (g *Group[V]) Forget(key string) { g.group.Forget(key) }
