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

// Package paging defines the architecture-neutral permission bitset and
// memory attributes carried by page-table leaves.
package paging

// Permissions is the leaf permission bitset.
type Permissions uint32

const (
	// R permits reads.
	R Permissions = 1 << 0

	// W permits writes.
	W Permissions = 1 << 1

	// XS permits supervisor execution.
	XS Permissions = 1 << 2

	// XU permits unprivileged execution.
	XU Permissions = 1 << 3

	// SS marks a shadow-stack page.
	SS Permissions = 1 << 4

	// U makes a stage-1 mapping user-accessible.
	U Permissions = 1 << 12

	// K marks hypervisor-owned kernel memory.
	K Permissions = 1 << 13

	// G marks a global mapping, not flushed on ASID/PCID change.
	G Permissions = 1 << 14

	// API is the union of permission bits that make a PTE live.
	API = R | W | XS | XU | SS

	// None revokes all access.
	None Permissions = 0
)

// Cache is the cacheability selector: an index into the attribute
// indirection programmed at boot (PAT on x86, MAIR on ARM).
type Cache uint8

const (
	// WB selects write-back cacheable memory.
	WB Cache = 0

	// WT selects write-through cacheable memory.
	WT Cache = 1

	// WC selects write-combining memory.
	WC Cache = 2

	// UC selects uncacheable memory.
	UC Cache = 3

	// Dev selects device memory (nGnRnE on ARM, UC on x86).
	Dev Cache = 4

	// NumCache is the number of selectors; the selector field is 3 bits.
	NumCache Cache = 8
)

// Memattr carries the memory attributes of a leaf mapping: a
// cacheability selector and an optional encryption key id (TME/MKTME).
type Memattr struct {
	Cache Cache
	Key   uint16
}

// Ram returns the attributes for ordinary cacheable memory.
func Ram() Memattr {
	return Memattr{Cache: WB}
}

// Device returns the fixed device-memory attributes.
func Device() Memattr {
	return Memattr{Cache: Dev}
}
