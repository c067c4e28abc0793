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

package bytemap

import "fmt"

// option provide an interface to do work on Table while it is being created.
type option interface {
	apply(t *Table)
}

// Allocator specifies an interface for allocating and releasing the slot
// arrays used by a Table. The default allocator utilizes Go's builtin make()
// and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that slots be
// freed then Table.Close must be called in order to ensure FreeSlots is
// called for the final array.
type Allocator interface {
	// AllocSlots should return a slice equivalent to make([]Slot, n), or an
	// error if n slots cannot be provided. The error is surfaced to the
	// caller wrapped in ErrOutOfMemory.
	AllocSlots(n int) ([]Slot, error)

	// FreeSlots can optional release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by AllocSlots. After a
	// resize v still holds the moved entries, since an iteration in progress
	// may be reading it; the allocator must not reuse v while that is so.
	FreeSlots(v []Slot)
}

type defaultAllocator struct{}

func (defaultAllocator) AllocSlots(n int) ([]Slot, error) {
	return make([]Slot, n), nil
}

func (defaultAllocator) FreeSlots(v []Slot) {
}

// BudgetAllocator is an Allocator that refuses to have more than Max slots
// outstanding at once. During a resize both the old and the new array are
// outstanding. The zero value refuses every allocation.
type BudgetAllocator struct {
	Max   int
	inUse int
}

// AllocSlots allocates n slots, or fails with ErrOutOfMemory if that would
// exceed the budget.
func (a *BudgetAllocator) AllocSlots(n int) ([]Slot, error) {
	if a.inUse+n > a.Max {
		return nil, fmt.Errorf("%w: %d slots requested, %d of %d in use",
			ErrOutOfMemory, n, a.inUse, a.Max)
	}
	a.inUse += n
	return make([]Slot, n), nil
}

// FreeSlots returns len(v) slots to the budget.
func (a *BudgetAllocator) FreeSlots(v []Slot) {
	a.inUse -= len(v)
}

// InUse returns the number of slots currently allocated and not yet freed.
func (a *BudgetAllocator) InUse() int {
	return a.inUse
}

type allocatorOption struct {
	allocator Allocator
}

func (op allocatorOption) apply(t *Table) {
	t.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Table.
func WithAllocator(allocator Allocator) option {
	return allocatorOption{allocator}
}

type maxCapacityOption struct {
	maxCapacity int
}

func (op maxCapacityOption) apply(t *Table) {
	if op.maxCapacity > 0 {
		t.maxCapacity = uintptr(op.maxCapacity)
	}
}

// WithMaxCapacity is an option to stop a Table from growing beyond
// maxCapacity slots. Once the table is full at that size, Insert of a new key
// reports false. A maxCapacity of zero means unbounded. It does not limit the
// initial capacity passed to New.
func WithMaxCapacity(maxCapacity int) option {
	return maxCapacityOption{maxCapacity}
}
