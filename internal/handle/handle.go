// Package handle hands out generation-checked ids for live objects so that a
// closed object cannot be reached through a stale id, even after its slot is
// reused.
package handle

import (
	"errors"
	"fmt"
	"sync"
)

var ErrStale = errors.New("stale or closed handle")

// ID packs a slot index with the generation it was issued at. The zero ID is
// never issued.
type ID uint64

func (id ID) slot() uint32 { return uint32(id) }
func (id ID) gen() uint32  { return uint32(id >> 32) }

func (id ID) String() string {
	return fmt.Sprintf("%d.%d", id.slot(), id.gen())
}

type slot[T any] struct {
	gen  uint32
	live bool
	val  T
}

type Table[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
	live  int
}

func (t *Table[T]) Put(v T) ID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot[T]{})
	}
	s := &t.slots[idx]
	s.gen++
	s.live = true
	s.val = v
	t.live++
	return ID(uint64(s.gen)<<32 | uint64(idx))
}

func (t *Table[T]) Get(id ID) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.lookup(id)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.val, nil
}

// Remove invalidates id and returns the value it referred to.
func (t *Table[T]) Remove(id ID) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var zero T
	s, err := t.lookup(id)
	if err != nil {
		return zero, err
	}
	v := s.val
	s.live = false
	s.val = zero
	t.free = append(t.free, id.slot())
	t.live--
	return v, nil
}

func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *Table[T]) lookup(id ID) (*slot[T], error) {
	idx := id.slot()
	if int(idx) >= len(t.slots) {
		return nil, fmt.Errorf("%w: %s", ErrStale, id)
	}
	s := &t.slots[idx]
	if !s.live || s.gen != id.gen() {
		return nil, fmt.Errorf("%w: %s", ErrStale, id)
	}
	return s, nil
}
