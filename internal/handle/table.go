// Package handle implements the object table that maps small integer
// handles to host-owned values for the guest.
//
// Layout follows the wasm-bindgen heap: slots 0..127 hold undefined, slots
// 128..131 hold undefined, null, true and false, and allocation starts at
// 132. Reserved handles are never recycled.
package handle

import (
	"wasmkey/internal/dom"
	"wasmkey/internal/errs"
)

// Handle names a slot in a Table.
type Handle = uint32

// Reserved handles.
const (
	Undefined Handle = 128
	Null      Handle = 129
	True      Handle = 130
	False     Handle = 131

	// FirstFree is the lowest handle that Put may return.
	FirstFree Handle = 132
)

// slot is either occupied by a value or free and linking to the next free slot.
type slot struct {
	value any
	next  Handle
	free  bool
}

// Table is an arena of host values with an intrusive free list.
// It is not safe for concurrent use; each extraction owns one.
type Table struct {
	slots []slot
	head  Handle
	live  int
}

// New returns a table seeded with the reserved values.
func New() *Table {
	t := &Table{slots: make([]slot, FirstFree, FirstFree*2)}
	for i := range t.slots[:Undefined] {
		t.slots[i].value = dom.Undefined
	}
	t.slots[Undefined].value = dom.Undefined
	t.slots[Null].value = dom.Null
	t.slots[True].value = true
	t.slots[False].value = false
	t.head = FirstFree
	return t
}

// Get returns the value stored at h.
func (t *Table) Get(h Handle) (any, error) {
	if int(h) >= len(t.slots) {
		return nil, errs.InvalidHandle(h, "out of range")
	}
	s := &t.slots[h]
	if s.free {
		return nil, errs.InvalidHandle(h, "released")
	}
	return s.value, nil
}

// Put stores v and returns its handle.
func (t *Table) Put(v any) Handle {
	if int(t.head) == len(t.slots) {
		t.slots = append(t.slots, slot{free: true, next: t.head + 1})
	}
	h := t.head
	s := &t.slots[h]
	t.head = s.next
	*s = slot{value: v}
	t.live++
	return h
}

// Release pushes h back onto the free list. Releasing a reserved handle is a
// no-op; releasing a handle that is not live is reported.
func (t *Table) Release(h Handle) error {
	if h < FirstFree {
		return nil
	}
	if int(h) >= len(t.slots) {
		return errs.InvalidHandle(h, "release out of range")
	}
	s := &t.slots[h]
	if s.free {
		return errs.InvalidHandle(h, "double release")
	}
	*s = slot{free: true, next: t.head}
	t.head = h
	t.live--
	return nil
}

// Take returns the value at h and releases it.
func (t *Table) Take(h Handle) (any, error) {
	v, err := t.Get(h)
	if err != nil {
		return nil, err
	}
	if err := t.Release(h); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeString returns the string stored at h.
func (t *Table) DecodeString(h Handle) (string, error) {
	v, err := t.Get(h)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errs.InvalidHandle(h, "not a string")
	}
	return s, nil
}

// Bool returns the reserved handle for b.
func Bool(b bool) Handle {
	if b {
		return True
	}
	return False
}

// Live reports the number of occupied non-reserved slots.
func (t *Table) Live() int {
	return t.live
}

// Len reports the current number of slots, reserved ones included.
func (t *Table) Len() int {
	return len(t.slots)
}
