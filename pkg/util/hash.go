// Copyright 2024-2025 queryforge
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"unsafe"
)

const (
	M    uint64 = 0xc6a4a7935bd1e995
	SEED uint64 = 0xe17a1465
	R    uint64 = 47
)

func Murmurhash64(x uint64) uint64 {
	x ^= x >> 32
	x *= 0xd6e8feb86659fd93
	x ^= x >> 32
	x *= 0xd6e8feb86659fd93
	x ^= x >> 32
	return x
}

func Murmurhash32(x uint32) uint64 {
	return Murmurhash64(uint64(x))
}

func CombineHashScalar(a, b uint64) uint64 {
	return (a * 0xbf58476d1ce4e5b9) ^ b
}

func HashBytes(ptr unsafe.Pointer, len uint64) uint64 {
	data64 := ptr
	h := SEED ^ (len * M)

	n_blocks := len / 8
	for i := uint64(0); i < n_blocks; i++ {
		k := Load[uint64](PointerAdd(data64, int(i*uint64(8))))
		k *= M
		k ^= k >> R
		k *= M

		h ^= k
		h *= M
	}
	data8 := PointerAdd(data64, int(n_blocks*uint64(8)))
	switch len & 7 {
	case 7:
		val := Load[byte](PointerAdd(data8, 6))
		h ^= uint64(val) << 48
		fallthrough
	case 6:
		val := Load[byte](PointerAdd(data8, 5))
		h ^= uint64(val) << 40
		fallthrough
	case 5:
		val := Load[byte](PointerAdd(data8, 4))
		h ^= uint64(val) << 32
		fallthrough
	case 4:
		val := Load[byte](PointerAdd(data8, 3))
		h ^= uint64(val) << 24
		fallthrough
	case 3:
		val := Load[byte](PointerAdd(data8, 2))
		h ^= uint64(val) << 16
		fallthrough
	case 2:
		val := Load[byte](PointerAdd(data8, 1))
		h ^= uint64(val) << 8
		fallthrough
	case 1:
		val := Load[byte](data8)
		h ^= uint64(val)
		h *= M
		fallthrough
	default:
		break
	}
	h ^= h >> R
	h *= M
	h ^= h >> R
	return h
}

func HashString(s string) uint64 {
	if len(s) == 0 {
		return SEED
	}
	data := unsafe.StringData(s)
	return HashBytes(unsafe.Pointer(data), uint64(len(s)))
}
