package gpu

import (
	"fmt"
	"sync"
)

// Handle is an opaque, generation-checked reference to a native object owned
// by a Driver. The zero Handle never refers to a live object.
type Handle struct {
	index      uint32
	generation uint32
}

func (h Handle) IsZero() bool {
	return h.generation == 0
}

func (h Handle) String() string {
	if h.IsZero() {
		return "handle(nil)"
	}
	return fmt.Sprintf("handle(%d:%d)", h.index, h.generation)
}

type arenaSlot[T any] struct {
	value      T
	generation uint32
	live       bool
}

// Arena stores driver-side objects and hands out generation-checked handles
// to them. A handle whose slot has since been removed, or reused for another
// object, no longer resolves.
type Arena[T any] struct {
	mu    sync.Mutex
	slots []arenaSlot[T]
	free  []uint32
	live  int
}

// Insert stores value and returns a fresh handle to it.
func (a *Arena[T]) Insert(value T) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		index = uint32(len(a.slots))
		a.slots = append(a.slots, arenaSlot[T]{})
	}

	slot := &a.slots[index]
	slot.generation++
	if slot.generation == 0 {
		slot.generation = 1
	}
	slot.value = value
	slot.live = true
	a.live++

	return Handle{index: index, generation: slot.generation}
}

func (a *Arena[T]) slot(h Handle) *arenaSlot[T] {
	if h.IsZero() || int(h.index) >= len(a.slots) {
		return nil
	}
	slot := &a.slots[h.index]
	if !slot.live || slot.generation != h.generation {
		return nil
	}
	return slot
}

// Get resolves h. The second result is false for stale or unknown handles.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	slot := a.slot(h)
	if slot == nil {
		var zero T
		return zero, false
	}
	return slot.value, true
}

// Remove drops h from the arena and returns the value it referred to.
func (a *Arena[T]) Remove(h Handle) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var zero T
	slot := a.slot(h)
	if slot == nil {
		return zero, false
	}

	value := slot.value
	slot.value = zero
	slot.live = false
	a.free = append(a.free, h.index)
	a.live--
	return value, true
}

// Len returns the number of live entries.
func (a *Arena[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// Each calls fn for every live entry in slot order. fn must not use the
// arena.
func (a *Arena[T]) Each(fn func(Handle, T)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.slots {
		slot := &a.slots[i]
		if slot.live {
			fn(Handle{index: uint32(i), generation: slot.generation}, slot.value)
		}
	}
}

// Drain removes every live entry, newest slot first, calling fn for each.
// Used at shutdown once the device is idle.
func (a *Arena[T]) Drain(fn func(Handle, T)) {
	a.mu.Lock()
	var handles []Handle
	var values []T
	for i := len(a.slots) - 1; i >= 0; i-- {
		slot := &a.slots[i]
		if !slot.live {
			continue
		}
		handles = append(handles, Handle{index: uint32(i), generation: slot.generation})
		values = append(values, slot.value)

		var zero T
		slot.value = zero
		slot.live = false
		a.free = append(a.free, uint32(i))
	}
	a.live = 0
	a.mu.Unlock()

	if fn == nil {
		return
	}
	for i, h := range handles {
		fn(h, values[i])
	}
}
