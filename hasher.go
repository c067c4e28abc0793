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

import (
	"encoding/binary"
	"math/bits"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
)

// Hasher maps a key to a 64-bit hash. Hash must be deterministic for the
// life of a Table and must not reduce its result to any range; the table
// takes the result modulo its current capacity.
type Hasher interface {
	Hash(key []byte) uint64
}

// HasherFunc adapts an ordinary function to the Hasher interface.
type HasherFunc func(key []byte) uint64

// Hash calls f(key).
func (f HasherFunc) Hash(key []byte) uint64 {
	return f(key)
}

// XXHash returns a Hasher computing the 64-bit xxHash of the key. It is the
// default when New is given a nil Hasher.
func XXHash() Hasher {
	return HasherFunc(xxhash.Sum64)
}

// XXH3 returns a Hasher computing the seeded 64-bit XXH3 hash of the key.
func XXH3(seed uint64) Hasher {
	return HasherFunc(func(key []byte) uint64 {
		return xxh3.HashSeed(key, seed)
	})
}

// DefaultMurmur3Seed is the seed conventionally used with Murmur3.
const DefaultMurmur3Seed = 42

const (
	murmurC1 = 0x87c37b91114253d5
	murmurC2 = 0x4cf5ad432745937f
	murmurR1 = 31
	murmurR2 = 27
	murmurR3 = 33
	murmurM  = 0x5bd1e995
	murmurN  = 0x52dce729

	murmurFmix = 0x9e3779b97f4a7c13
)

// Murmur3 returns a Hasher for a 64-bit MurmurHash3-style function: the key
// is consumed in little-endian 8-byte blocks mixed with the MurmurHash3
// x64 constants, and the result is finalized with two golden-ratio
// multiply/xorshift rounds. It is not bit-compatible with MurmurHash3_x64_128.
func Murmur3(seed uint64) Hasher {
	return HasherFunc(func(key []byte) uint64 {
		return murmur3(key, seed)
	})
}

func murmur3(key []byte, seed uint64) uint64 {
	h := seed ^ (uint64(len(key)) * murmurC1)

	for len(key) >= 8 {
		k := binary.LittleEndian.Uint64(key)
		k *= murmurC1
		k = bits.RotateLeft64(k, murmurR1)
		k *= murmurC2
		h ^= k
		h = bits.RotateLeft64(h, murmurR2)
		h = h*murmurM + murmurN
		key = key[8:]
	}

	if len(key) > 0 {
		var k uint64
		for i := len(key) - 1; i >= 0; i-- {
			k ^= uint64(key[i]) << (8 * i)
		}
		k *= murmurC1
		k = bits.RotateLeft64(k, murmurR1)
		k *= murmurC2
		h ^= k
	}

	h ^= h >> murmurR3
	h *= murmurFmix
	h ^= h >> murmurR2
	h *= murmurFmix
	h ^= h >> murmurR3
	return h
}
