// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bytemap is an open-addressing hash table mapping arbitrary byte
// string keys to arbitrary byte string values.
//
// # Layout
//
// A Table is a single flat array of slots. Every slot is in one of three
// states: empty, a tombstone, or occupied by an *Entry. There is no per-bucket
// chaining and no separate metadata array; the slot state is an explicit tag
// rather than a sentinel pointer value. Keys are compared byte-for-byte with
// bytes.Equal, so two keys are the same key iff they have the same length and
// the same contents.
//
// # Probing
//
// The home slot of a key is hash(key) mod capacity. From there a triangular
// probe sequence is followed:
//
//	p(i) := hash + (i^2 + i)/2 (mod capacity)
//
// (i^2+i)/2 is a bijection in Z/(2^m), so the sequence visits every slot
// exactly once when capacity is a power of two. Capacity is rounded up to a
// power of two at construction and only ever doubles or halves, which keeps
// that guarantee for the life of the table. See
// https://en.wikipedia.org/wiki/Quadratic_probing.
//
// Lookups stop at the first empty slot. Tombstones never stop a probe: they
// stand in for a deleted entry that other keys' probe sequences may have
// passed through. Inserts remember the first tombstone they pass and keep
// probing until an empty slot, so that an existing copy of the key further
// along the sequence is updated rather than duplicated. The entry is then
// placed in that first tombstone, or in the empty slot if there was none.
//
// # Resizing
//
// Growth is eager. Before probing, Insert checks whether the number of live
// entries exceeds 3/4 of capacity and, if so, doubles the table. Delete checks
// whether tombstones occupy more than half of the table and, if so, halves it
// (never below one slot). Both directions allocate a fresh all-empty array,
// reinsert every live entry and release the old array, which also drops every
// tombstone.
//
// # Hashing
//
// The hash function is supplied by the caller as a Hasher and must return a
// full 64-bit value; the table does the reduction modulo capacity itself
// because capacity changes over the life of the table. See Murmur3, XXHash
// and XXH3 for ready-made hashers.
package bytemap

import (
	"bytes"
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

const (
	debug = false

	growthFactor = 2

	// A table grows when count/capacity > maxLoadNum/maxLoadDen.
	maxLoadNum = 3
	maxLoadDen = 4
)

// ErrOutOfMemory is returned when the table's Allocator cannot provide a
// slot array. The table is left unchanged.
var ErrOutOfMemory = errors.New("bytemap: out of memory")

type slotState uint8

const (
	slotEmpty slotState = iota
	slotTombstone
	slotOccupied
)

func (s slotState) String() string {
	switch s {
	case slotEmpty:
		return "empty"
	case slotTombstone:
		return "tombstone"
	case slotOccupied:
		return "occupied"
	default:
		return fmt.Sprintf("slotState(%d)", uint8(s))
	}
}

// Slot is a single position in a Table's slot array. The zero value is an
// empty slot.
type Slot struct {
	state slotState
	entry *Entry
}

// Table is an unordered map from byte string keys to byte string values
// with Insert, Lookup, Delete and All operations.
//
// A Table is NOT goroutine-safe. Every operation, including Lookup, must be
// serialized by the caller.
type Table struct {
	hasher Hasher
	// The allocator to use for the slots slice.
	allocator Allocator
	// maxCapacity caps growth. Zero means unbounded.
	maxCapacity uintptr
	// slots is capacity in length.
	slots []Slot
	// The total number of slots (always 2^N). capacity-1 is used as a mask
	// to compute i%capacity.
	capacity uintptr
	// The number of occupied slots (i.e. the number of live entries).
	count int
	// The number of tombstones.
	deleted int
}

// New constructs a new Table with room for at least capacity slots. capacity
// is rounded up to the next power of two and must be at least 1. If hasher
// is nil, XXHash is used.
//
// New panics if the allocator cannot provide the initial slot array. Use
// Init to receive that failure as an error instead.
func New(capacity int, hasher Hasher, options ...option) *Table {
	t := &Table{}
	if err := t.Init(capacity, hasher, options...); err != nil {
		panic(err)
	}
	return t
}

// Init initializes a Table in place. See New.
func (t *Table) Init(capacity int, hasher Hasher, options ...option) error {
	if capacity < 1 {
		panic(fmt.Sprintf("bytemap: capacity must be >= 1, got %d", capacity))
	}
	if hasher == nil {
		hasher = XXHash()
	}

	*t = Table{
		hasher:    hasher,
		allocator: defaultAllocator{},
	}
	for _, op := range options {
		op.apply(t)
	}

	// targetCapacity is the smallest power of two that is >= capacity.
	targetCapacity := uintptr(1) << bits.Len(uint(capacity-1))
	slots, err := t.allocSlots(targetCapacity)
	if err != nil {
		return err
	}
	t.slots = slots
	t.capacity = targetCapacity

	t.checkInvariants()
	return nil
}

// Close releases the slot array back to the configured allocator and drops
// every entry the table still holds. It is invalid to use a Table after it
// has been closed, though Close itself is idempotent.
func (t *Table) Close() {
	if t.slots != nil {
		clear(t.slots)
		t.allocator.FreeSlots(t.slots)
	}
	t.slots = nil
	t.capacity = 0
	t.count = 0
	t.deleted = 0
	t.allocator = nil
}

// Put copies key and value into a new Entry and inserts it. See Insert.
func (t *Table) Put(key, value []byte) (bool, error) {
	return t.Insert(NewEntry(key, value))
}

// Insert inserts e into the table, replacing an existing entry with the same
// key. It returns true if e was inserted or replaced an existing entry.
//
// It returns false and a nil error if every slot in the probe sequence was
// occupied by another key. That can only happen when growth is capped by
// WithMaxCapacity. It returns false and an error wrapping ErrOutOfMemory if
// the table needed to grow and the allocator failed.
func (t *Table) Insert(e *Entry) (bool, error) {
	if t.count*maxLoadDen > int(t.capacity)*maxLoadNum {
		if err := t.grow(); err != nil {
			return false, err
		}
	}

	h := t.hasher.Hash(e.key)
	seq := makeProbeSeq(h, t.capacity-1)
	if debug {
		fmt.Printf("insert(%q): %s\n", e.key, seq)
	}

	var target uintptr
	var haveTarget bool
probe:
	for i := uintptr(0); i < t.capacity; i, seq = i+1, seq.next() {
		s := &t.slots[seq.offset]
		switch s.state {
		case slotOccupied:
			if bytes.Equal(s.entry.key, e.key) {
				if debug {
					fmt.Printf("insert(updating): index=%d key=%q\n", seq.offset, e.key)
				}
				s.entry = e
				t.checkInvariants()
				return true, nil
			}
		case slotTombstone:
			if !haveTarget {
				target, haveTarget = seq.offset, true
			}
		case slotEmpty:
			if !haveTarget {
				target, haveTarget = seq.offset, true
			}
			break probe
		}
	}

	if !haveTarget {
		if debug {
			fmt.Printf("insert(full): key=%q count=%d deleted=%d capacity=%d\n",
				e.key, t.count, t.deleted, t.capacity)
		}
		return false, nil
	}

	s := &t.slots[target]
	if s.state == slotTombstone {
		t.deleted--
	}
	s.state = slotOccupied
	s.entry = e
	t.count++
	if debug {
		fmt.Printf("insert(inserting): index=%d count=%d deleted=%d\n", target, t.count, t.deleted)
	}
	t.checkInvariants()
	return true, nil
}

// Get returns the value stored for key, or ok=false if key is not present.
// The returned slice aliases the table's copy and must not be modified.
func (t *Table) Get(key []byte) (value []byte, ok bool) {
	e, ok := t.Lookup(key)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Lookup returns the entry stored for key, or ok=false if key is not
// present. The entry remains owned by the table.
func (t *Table) Lookup(key []byte) (*Entry, bool) {
	i, ok := t.find(key)
	if !ok {
		return nil, false
	}
	return t.slots[i].entry, true
}

// Delete removes the entry for key and returns it, or ok=false if key is not
// present. Ownership of the returned entry passes to the caller.
func (t *Table) Delete(key []byte) (*Entry, bool) {
	if t.deleted*2 > int(t.capacity) {
		// Shrinking only reclaims space. If the allocator cannot provide the
		// smaller array the delete proceeds against the current one.
		if err := t.resize(max(t.capacity/growthFactor, 1)); err != nil && debug {
			fmt.Printf("delete(shrink-failed): %v\n", err)
		}
	}

	i, ok := t.find(key)
	if !ok {
		if debug {
			fmt.Printf("delete(not-found): key=%q\n", key)
		}
		t.checkInvariants()
		return nil, false
	}

	s := &t.slots[i]
	e := s.entry
	*s = Slot{state: slotTombstone}
	t.count--
	t.deleted++
	if debug {
		fmt.Printf("delete(%q): index=%d count=%d deleted=%d\n", key, i, t.count, t.deleted)
	}
	t.checkInvariants()
	return e, true
}

// Clear deletes all entries from the table, keeping its capacity.
func (t *Table) Clear() {
	clear(t.slots)
	t.count = 0
	t.deleted = 0
	t.checkInvariants()
}

// All calls yield sequentially for each key and value present in the table,
// in no particular order. If yield returns false, iteration stops. The table
// can be mutated during iteration, though there is no guarantee that the
// mutations will be visible to the iteration.
func (t *Table) All(yield func(key, value []byte) bool) {
	// Snapshot the slots so that iteration remains valid if the table is
	// resized during iteration.
	slots := t.slots
	for i := range slots {
		if s := &slots[i]; s.state == slotOccupied {
			if !yield(s.entry.key, s.entry.value) {
				return
			}
		}
	}
}

// Len returns the number of entries in the table.
func (t *Table) Len() int {
	return t.count
}

// Cap returns the number of slots in the table.
func (t *Table) Cap() int {
	return int(t.capacity)
}

// find returns the index of the slot holding key.
func (t *Table) find(key []byte) (uintptr, bool) {
	seq := makeProbeSeq(t.hasher.Hash(key), t.capacity-1)
	for i := uintptr(0); i < t.capacity; i, seq = i+1, seq.next() {
		s := &t.slots[seq.offset]
		switch s.state {
		case slotEmpty:
			return 0, false
		case slotOccupied:
			if bytes.Equal(s.entry.key, key) {
				return seq.offset, true
			}
		}
	}
	return 0, false
}

func (t *Table) grow() error {
	newCapacity := t.capacity * growthFactor
	if t.maxCapacity != 0 && newCapacity > t.maxCapacity {
		if debug {
			fmt.Printf("grow(capped): capacity=%d max=%d\n", t.capacity, t.maxCapacity)
		}
		return nil
	}
	return t.resize(newCapacity)
}

// resize allocates a new array of newCapacity slots, uncheckedPuts each live
// entry into it (we know no two live entries share a key) and discards the
// old array. Tombstones are dropped.
func (t *Table) resize(newCapacity uintptr) error {
	slots, err := t.allocSlots(newCapacity)
	if err != nil {
		return err
	}

	oldSlots := t.slots
	if debug {
		fmt.Printf("resize: capacity=%d->%d count=%d deleted=%d\n",
			t.capacity, newCapacity, t.count, t.deleted)
	}
	t.slots = slots
	t.capacity = newCapacity
	t.count = 0
	t.deleted = 0

	for i := range oldSlots {
		if s := &oldSlots[i]; s.state == slotOccupied {
			t.uncheckedPut(t.hasher.Hash(s.entry.key), s.entry)
		}
	}

	// oldSlots is left intact: an All in progress may still be iterating it.
	t.allocator.FreeSlots(oldSlots)
	t.checkInvariants()
	return nil
}

// uncheckedPut inserts an entry known not to be in the table into the first
// empty slot of its probe sequence. Used by resize, where the new array has
// no tombstones.
func (t *Table) uncheckedPut(h uint64, e *Entry) {
	seq := makeProbeSeq(h, t.capacity-1)
	for i := uintptr(0); i < t.capacity; i, seq = i+1, seq.next() {
		s := &t.slots[seq.offset]
		if s.state == slotEmpty {
			s.state = slotOccupied
			s.entry = e
			t.count++
			return
		}
	}
	panic(fmt.Sprintf("bytemap: no empty slot for %q in table of capacity %d", e.key, t.capacity))
}

func (t *Table) allocSlots(n uintptr) ([]Slot, error) {
	slots, err := t.allocator.AllocSlots(int(n))
	if err != nil {
		if errors.Is(err, ErrOutOfMemory) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: allocating %d slots: %w", ErrOutOfMemory, n, err)
	}
	if uintptr(len(slots)) != n {
		return nil, fmt.Errorf("%w: allocator returned %d slots, want %d", ErrOutOfMemory, len(slots), n)
	}
	return slots, nil
}

func (t *Table) checkInvariants() {
	if invariants {
		if t.capacity == 0 || t.capacity&(t.capacity-1) != 0 {
			panic(fmt.Sprintf("invariant failed: capacity %d is not a power of two", t.capacity))
		}
		if uintptr(len(t.slots)) != t.capacity {
			panic(fmt.Sprintf("invariant failed: %d slots, but capacity is %d", len(t.slots), t.capacity))
		}

		// For every occupied slot, verify we find the key at that slot. A
		// duplicate key would be found at its first copy instead.
		var count, deleted int
		for i := range t.slots {
			s := &t.slots[i]
			switch s.state {
			case slotEmpty:
			case slotTombstone:
				deleted++
			case slotOccupied:
				if j, ok := t.find(s.entry.key); !ok || j != uintptr(i) {
					panic(fmt.Sprintf("invariant failed: slot(%d): %q found=%t at %d\n%s",
						i, s.entry.key, ok, j, t.debugString()))
				}
				count++
			default:
				panic(fmt.Sprintf("invariant failed: slot(%d): bad state %s", i, s.state))
			}
		}

		if count != t.count {
			panic(fmt.Sprintf("invariant failed: found %d occupied slots, but count is %d\n%s",
				count, t.count, t.debugString()))
		}
		if deleted != t.deleted {
			panic(fmt.Sprintf("invariant failed: found %d tombstones, but deleted is %d\n%s",
				deleted, t.deleted, t.debugString()))
		}
	}
}

func (t *Table) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  count=%d  deleted=%d\n", t.capacity, t.count, t.deleted)
	for i := range t.slots {
		switch s := &t.slots[i]; s.state {
		case slotOccupied:
			h := t.hasher.Hash(s.entry.key)
			fmt.Fprintf(&buf, "  %4d: %q [home=%d]\n", i, s.entry.key, uintptr(h)&(t.capacity-1))
		default:
			fmt.Fprintf(&buf, "  %4d: %s\n", i, s.state)
		}
	}
	return buf.String()
}

// probeSeq maintains the state for a probe sequence. The sequence is a
// triangular progression of the form
//
//	p(i) := (i^2 + i)/2 + hash (mod mask+1)
//
// It visits every slot exactly once if mask+1 is a power of two, since
// (i^2+i)/2 is a bijection in Z/(2^m).
type probeSeq struct {
	mask   uintptr
	offset uintptr
	index  uintptr
}

func makeProbeSeq(hash uint64, mask uintptr) probeSeq {
	return probeSeq{
		mask:   mask,
		offset: uintptr(hash) & mask,
		index:  0,
	}
}

func (s probeSeq) next() probeSeq {
	s.index++
	s.offset = (s.offset + s.index) & s.mask
	return s
}

func (s probeSeq) String() string {
	return fmt.Sprintf("mask=%d offset=%d index=%d", s.mask, s.offset, s.index)
}
