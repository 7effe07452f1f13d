// Package lazy memoises a value that is expensive to create, such as a service client.
package lazy

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Value creates its value on first use. Concurrent first uses share one call to the
// init function. A failed call is not remembered; the next use tries again.
type Value[V any] struct {
	init  func(ctx context.Context) (V, error)
	group singleflight.Group
	value V
	mu    sync.RWMutex
	ready bool
}

// New returns a Value created by init
func New[V any](init func(ctx context.Context) (V, error)) *Value[V] {
	return &Value[V]{init: init}
}

// Of returns a Value that is already created
func Of[V any](v V) *Value[V] {
	return &Value[V]{value: v, ready: true}
}

// Get returns the value, creating it if needed. init does not see ctx's cancellation:
// a caller whose ctx ends first returns ctx.Err() while the shared call carries on.
func (l *Value[V]) Get(ctx context.Context) (V, error) {
	if v, ok := l.Peek(); ok {
		return v, nil
	}

	initCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan("init", func() (any, error) {
		if v, ok := l.Peek(); ok {
			return v, nil
		}
		v, err := l.init(initCtx)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.value, l.ready = v, true
		l.mu.Unlock()
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Peek returns the value if it has been created
func (l *Value[V]) Peek() (V, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.ready
}
