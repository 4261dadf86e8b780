// pool.go implements a generic bounded FIFO of pre-allocated items.

// Package pool provides a bounded FIFO object pool: a fixed set of items is
// allocated upfront, taken out and put back, and freed all at once.
package pool

import (
	"context"
	"fmt"
)

type Pool[T any] struct {
	queue     chan *T
	items     []*T
	ResetFunc func(*T)
	FreeFunc  func(*T)
}

// NewPool allocates count items with allocFunc and queues all of them as idle.
//
// If an allocation fails, the items allocated so far are freed and the error
// is returned.
func NewPool[T any](
	count uint,
	allocFunc func() (*T, error),
	resetFunc func(*T),
	freeFunc func(*T),
) (*Pool[T], error) {
	p := &Pool[T]{
		queue:     make(chan *T, count),
		items:     make([]*T, 0, count),
		ResetFunc: resetFunc,
		FreeFunc:  freeFunc,
	}
	for i := uint(0); i < count; i++ {
		item, err := allocFunc()
		if err != nil {
			p.free()
			return nil, fmt.Errorf("unable to allocate item %d of %d: %w", i+1, count, err)
		}
		p.items = append(p.items, item)
		p.queue <- item
	}
	return p, nil
}

// Get returns an idle item, or nil if there is none right now.
func (p *Pool[T]) Get() *T {
	select {
	case item := <-p.queue:
		return item
	default:
		return nil
	}
}

// Wait returns an idle item, blocking until one is put back or ctx is done.
func (p *Pool[T]) Wait(ctx context.Context) (*T, error) {
	select {
	case item := <-p.queue:
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns an item to the idle queue.
//
// Putting back more items than the pool owns is a bug in the caller, and it panics.
func (p *Pool[T]) Put(items ...*T) {
	for _, item := range items {
		if p.ResetFunc != nil {
			p.ResetFunc(item)
		}
		select {
		case p.queue <- item:
		default:
			panic(fmt.Sprintf("pool overflow: the pool owns %d items, but one more was put back", cap(p.queue)))
		}
	}
}

// Len is the amount of idle items.
func (p *Pool[T]) Len() int {
	return len(p.queue)
}

// Cap is the amount of items the pool owns.
func (p *Pool[T]) Cap() int {
	return cap(p.queue)
}

// Items returns every item the pool owns, idle or not.
func (p *Pool[T]) Items() []*T {
	return p.items
}

// Close frees every item the pool owns and returns how many of them were
// not idle at that moment.
func (p *Pool[T]) Close() (outstanding int) {
	outstanding = len(p.items) - len(p.queue)
	for {
		select {
		case <-p.queue:
			continue
		default:
		}
		break
	}
	p.free()
	return outstanding
}

func (p *Pool[T]) free() {
	if p.FreeFunc != nil {
		for _, item := range p.items {
			p.FreeFunc(item)
		}
	}
	p.items = nil
}
