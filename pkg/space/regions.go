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

package space

import (
	"sync"

	"github.com/google/btree"
)

// Region is one recorded physical range.
type Region struct {
	Base uint64
	Size uint64

	// Kind tags what the range was recorded for.
	Kind RegionKind
}

// RegionKind classifies recorded ranges.
type RegionKind uint8

const (
	// RegionMMIO is a device register window mapped in the master
	// table.
	RegionMMIO RegionKind = iota

	// RegionReserved is firmware-reserved memory withheld from
	// delegation.
	RegionReserved

	// RegionDMAIdentity is an RMRR-style identity DMA range.
	RegionDMAIdentity
)

// Registry records every explicitly mapped or reserved physical range.
// Contains checks an access against the recorded ranges; the
// register-programming paths do not call it.
type Registry struct {
	mu   sync.Mutex
	tree *btree.BTreeG[Region]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tree: btree.NewG(8, func(a, b Region) bool { return a.Base < b.Base }),
	}
}

// Insert records a range.
func (r *Registry) Insert(base, size uint64, kind RegionKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tree.ReplaceOrInsert(Region{Base: base, Size: size, Kind: kind})
}

// Contains reports whether [addr, addr+length) lies inside one
// recorded range.
func (r *Registry) Contains(addr, length uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found bool
	// The covering range, if any, is the last one starting at or
	// before addr.
	r.tree.DescendLessOrEqual(Region{Base: addr}, func(reg Region) bool {
		found = addr >= reg.Base && addr+length <= reg.Base+reg.Size
		return false
	})
	return found
}

// Lookup returns the recorded range covering addr.
func (r *Registry) Lookup(addr uint64) (Region, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out Region
	var found bool
	r.tree.DescendLessOrEqual(Region{Base: addr}, func(reg Region) bool {
		if addr >= reg.Base && addr < reg.Base+reg.Size {
			out, found = reg, true
		}
		return false
	})
	return out, found
}
