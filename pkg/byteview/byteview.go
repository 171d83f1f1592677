// Copyright 2023 The Hyperion Authors.
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

// Package byteview provides typed, unaligned little-endian and
// big-endian integer views over raw memory.
//
// Firmware description tables store multi-byte fields unaligned; every
// access goes through a byte-wise copy so that no alignment assumption
// leaks into the parsers.
package byteview

import (
	"unsafe"

	"golang.org/x/exp/constraints"
)

// LE reads an unaligned little-endian integer of type T at offset off.
//
// The slice must hold at least off + sizeof(T) bytes.
func LE[T constraints.Unsigned](b []byte, off int) T {
	var v T
	for i := 0; i < int(unsafe.Sizeof(v)); i++ {
		v |= T(b[off+i]) << (8 * i)
	}
	return v
}

// BE reads an unaligned big-endian integer of type T at offset off.
func BE[T constraints.Unsigned](b []byte, off int) T {
	var v T
	for i := 0; i < int(unsafe.Sizeof(v)); i++ {
		v = v<<8 | T(b[off+i])
	}
	return v
}

// PutLE writes an unaligned little-endian integer of type T at offset
// off.
func PutLE[T constraints.Unsigned](b []byte, off int, v T) {
	for i := 0; i < int(unsafe.Sizeof(v)); i++ {
		b[off+i] = byte(v >> (8 * i))
	}
}

// PutBE writes an unaligned big-endian integer of type T at offset off.
func PutBE[T constraints.Unsigned](b []byte, off int, v T) {
	n := int(unsafe.Sizeof(v))
	for i := 0; i < n; i++ {
		b[off+i] = byte(v >> (8 * (n - 1 - i)))
	}
}

// U128 is a 128-bit unsigned integer, stored as two 64-bit halves.
type U128 struct {
	Lo uint64
	Hi uint64
}

// LE128 reads an unaligned little-endian 128-bit integer at offset off.
func LE128(b []byte, off int) U128 {
	return U128{Lo: LE[uint64](b, off), Hi: LE[uint64](b, off+8)}
}

// PutLE128 writes an unaligned little-endian 128-bit integer at offset
// off.
func PutLE128(b []byte, off int, v U128) {
	PutLE(b, off, v.Lo)
	PutLE(b, off+8, v.Hi)
}
