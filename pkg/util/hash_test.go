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
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestMurmurhash(t *testing.T) {
	assert.Equal(t, Murmurhash64(1), Murmurhash32(1))
	assert.NotEqual(t, Murmurhash64(1), Murmurhash64(2))
	// finalizer is a bijection, zero does not map to zero
	assert.NotEqual(t, uint64(0), Murmurhash64(0))
}

func TestHashString(t *testing.T) {
	assert.Equal(t, SEED, HashString(""))
	assert.Equal(t, HashString("abc"), HashString("abc"))
	assert.NotEqual(t, HashString("abc"), HashString("abd"))
	// lengths beyond one 8-byte block
	long := "0123456789abcdefXYZ"
	data := []byte(long)
	assert.Equal(t, HashString(long),
		HashBytes(BytesSliceToPointer(data), uint64(len(data))))
}

func TestCombineHashScalarOrderSensitive(t *testing.T) {
	a, b := Murmurhash64(1), Murmurhash64(2)
	assert.NotEqual(t, CombineHashScalar(a, b), CombineHashScalar(b, a))
}

func TestLoadStore(t *testing.T) {
	buf := make([]byte, 64)
	ptr := BytesSliceToPointer(buf)
	Store[int64](-12345, ptr)
	assert.Equal(t, int64(-12345), Load[int64](ptr))
	Store2[uint32](777, ptr, 8)
	assert.Equal(t, uint32(777), Load2[uint32](ptr, 8))

	Memset(ptr, 0xab, 16)
	for i := 0; i < 16; i++ {
		assert.Equal(t, byte(0xab), *(*byte)(PointerAdd(ptr, i)))
	}
	s := PointerToSlice[byte](unsafe.Pointer(&buf[0]), 16)
	assert.Equal(t, byte(0xab), s[15])
}
