package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type item struct {
	id    int
	dirty bool
	freed bool
}

func newTestPool(t *testing.T, count uint) (*Pool[item], *[]*item) {
	var all []*item
	p, err := NewPool(
		count,
		func() (*item, error) {
			it := &item{id: len(all)}
			all = append(all, it)
			return it, nil
		},
		func(it *item) { it.dirty = false },
		func(it *item) { it.freed = true },
	)
	require.NoError(t, err)
	return p, &all
}

func TestPoolFIFO(t *testing.T) {
	p, _ := newTestPool(t, 3)
	require.Equal(t, 3, p.Len())
	require.Equal(t, 3, p.Cap())

	a := p.Get()
	b := p.Get()
	c := p.Get()
	require.Equal(t, []int{0, 1, 2}, []int{a.id, b.id, c.id})
	require.Nil(t, p.Get())

	c.dirty = true
	p.Put(c)
	p.Put(a)
	require.False(t, c.dirty)
	require.Equal(t, 2, p.Get().id)
	require.Equal(t, 0, p.Get().id)
}

func TestPoolOverflowPanics(t *testing.T) {
	p, _ := newTestPool(t, 1)
	require.Panics(t, func() {
		p.Put(&item{})
	})
}

func TestPoolWait(t *testing.T) {
	p, _ := newTestPool(t, 1)
	it := p.Get()

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Put(it)
	}()
	got, err := p.Wait(context.Background())
	require.NoError(t, err)
	require.Same(t, it, got)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolClose(t *testing.T) {
	p, all := newTestPool(t, 2)
	_ = p.Get()
	require.Equal(t, 1, p.Close())
	for _, it := range *all {
		require.True(t, it.freed)
	}
}

func TestPoolAllocFailure(t *testing.T) {
	var allocated []*item
	_, err := NewPool(
		3,
		func() (*item, error) {
			if len(allocated) == 2 {
				return nil, errors.New("out of memory")
			}
			it := &item{}
			allocated = append(allocated, it)
			return it, nil
		},
		nil,
		func(it *item) { it.freed = true },
	)
	require.Error(t, err)
	require.Len(t, allocated, 2)
	for _, it := range allocated {
		require.True(t, it.freed)
	}
}
