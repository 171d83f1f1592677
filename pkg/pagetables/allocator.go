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

package pagetables

// RuntimeAllocator backs nodes with ordinary allocations and hands out
// synthetic, page-aligned physical addresses. It serves the boot path
// before the frame allocator is available and all tests.
type RuntimeAllocator struct {
	entriesPerNode uint
	byPhys         map[uint64]*PTEs
	byNode         map[*PTEs]uint64
	next           uint64
	limit          int
}

// NewRuntimeAllocator returns an allocator producing nodes of the given
// geometry. A limit of 0 means unbounded; a negative limit refuses
// every allocation.
func NewRuntimeAllocator(cfg Config, limit int) *RuntimeAllocator {
	return &RuntimeAllocator{
		entriesPerNode: cfg.EntriesPerNode(),
		byPhys:         make(map[uint64]*PTEs),
		byNode:         make(map[*PTEs]uint64),
		next:           1 << 20,
		limit:          limit,
	}
}

// NewPTEs implements Allocator.NewPTEs.
func (a *RuntimeAllocator) NewPTEs() *PTEs {
	if a.limit != 0 && len(a.byPhys) >= a.limit {
		return nil
	}
	p := make(PTEs, a.entriesPerNode)
	phys := a.next
	a.next += (uint64(a.entriesPerNode)*8 + 0xfff) &^ 0xfff
	a.byPhys[phys] = &p
	a.byNode[&p] = phys
	return &p
}

// PhysicalFor implements Allocator.PhysicalFor.
func (a *RuntimeAllocator) PhysicalFor(ptes *PTEs) uint64 {
	phys, ok := a.byNode[ptes]
	if !ok {
		panic("pagetables: unknown node")
	}
	return phys
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *RuntimeAllocator) LookupPTEs(phys uint64) *PTEs {
	p, ok := a.byPhys[phys]
	if !ok {
		panic("pagetables: dangling table pointer")
	}
	return p
}

// FreePTEs implements Allocator.FreePTEs.
func (a *RuntimeAllocator) FreePTEs(ptes *PTEs) {
	if phys, ok := a.byNode[ptes]; ok {
		delete(a.byPhys, phys)
		delete(a.byNode, ptes)
	}
}
