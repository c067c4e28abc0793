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

import "bytes"

// Entry holds a key and value. An Entry owns its buffers: NewEntry copies
// them, so later changes to the caller's slices are not visible through the
// table.
type Entry struct {
	key   []byte
	value []byte
}

// NewEntry returns an Entry holding copies of key and value.
func NewEntry(key, value []byte) *Entry {
	return &Entry{
		key:   bytes.Clone(key),
		value: bytes.Clone(value),
	}
}

// Key returns the entry's key. It must not be modified.
func (e *Entry) Key() []byte {
	return e.key
}

// Value returns the entry's value. It must not be modified while the entry
// is held by a Table.
func (e *Entry) Value() []byte {
	return e.value
}
