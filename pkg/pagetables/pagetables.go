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

// Package pagetables provides a generic implementation of multi-level
// translation tables.
//
// One engine serves every translation regime: the host stage-1 tables,
// the stage-2 tables confining guest memory, and the stage-2 tables
// confining device DMA. An Arch value describes the regime's geometry
// and provides the paired PTE encoder/decoder; the engine supplies
// walk, update, lookup, divergence and subtree sharing on top of it.
//
// Updates do not invalidate TLBs. The caller marks a shootdown pending
// on every CPU holding the affected space after mutating it.
package pagetables

import (
	"sync/atomic"

	"hyperion.dev/hyperion/pkg/paging"
	"hyperion.dev/hyperion/pkg/status"
)

// Config describes the geometry of a translation-table variant.
type Config struct {
	// Levels is the number of table levels.
	Levels uint

	// BitsPerLevel is the number of input-address bits resolved per
	// level.
	BitsPerLevel uint

	// PageBits is log2 of the smallest page size.
	PageBits uint

	// InputBits is the size of the input address space in bits.
	InputBits uint
}

// EntriesPerNode returns the number of PTEs in one table node.
func (c *Config) EntriesPerNode() uint {
	return 1 << c.BitsPerLevel
}

// MaxOrder returns the largest update order the geometry supports.
func (c *Config) MaxOrder() uint {
	return (c.Levels - 1) * c.BitsPerLevel
}

// PageSize returns the number of bytes covered by one entry at the
// given order (log2 of the entry size in pages, so 9 is 2 MiB with
// 4 KiB pages).
func (c *Config) PageSize(order uint) uint64 {
	return uint64(1) << (order + c.PageBits)
}

// Arch describes one translation regime: its geometry and the pure,
// mutually inverse functions between (permissions, attributes) and PTE
// bits.
type Arch interface {
	// Config returns the table geometry.
	Config() Config

	// LeafAttr returns the non-address PTE bits encoding the given
	// permissions and memory attributes for a leaf at the given level,
	// including the superpage bit when level > 0. It returns 0 when the
	// permissions contain no live (API) bit.
	LeafAttr(level uint, pm paging.Permissions, ma paging.Memattr) uint64

	// LeafPerms decodes the permissions of a leaf PTE. It is the exact
	// inverse of LeafAttr with respect to permissions.
	LeafPerms(pte uint64) paging.Permissions

	// LeafMemattr decodes the memory attributes of a leaf PTE at the
	// given level. It is the exact inverse of LeafAttr with respect to
	// attributes.
	LeafMemattr(level uint, pte uint64) paging.Memattr

	// TableAttr returns the non-address PTE bits of an inner node
	// pointer.
	TableAttr() uint64

	// IsPresent returns whether the PTE is non-empty.
	IsPresent(pte uint64) bool

	// IsLeaf returns whether a present PTE at the given level
	// terminates translation.
	IsLeaf(level uint, pte uint64) bool

	// Addr extracts the output address of a PTE.
	Addr(pte uint64) uint64
}

// PTEs is a single table node.
type PTEs []uint64

// Allocator provides nodes and the node/physical translation the
// hardware walker needs.
type Allocator interface {
	// NewPTEs allocates a zeroed node, or returns nil when no memory is
	// available.
	NewPTEs() *PTEs

	// PhysicalFor returns the physical address of a node.
	PhysicalFor(*PTEs) uint64

	// LookupPTEs returns the node at the given physical address.
	LookupPTEs(phys uint64) *PTEs

	// FreePTEs releases a node.
	FreePTEs(*PTEs)
}

// PageTables is one translation table tree.
type PageTables struct {
	arch  Arch
	alloc Allocator
	cfg   Config
	root  *PTEs

	// shared tracks subtrees aliased from another tree via ShareFrom,
	// keyed by subtree physical address. The nodes under them belong to
	// the source tree and are skipped on Release.
	shared map[uint64]struct{}
}

// New allocates an empty tree.
func New(arch Arch, alloc Allocator) (*PageTables, error) {
	root := alloc.NewPTEs()
	if root == nil {
		return nil, status.ErrMemObj
	}
	return &PageTables{arch: arch, alloc: alloc, cfg: arch.Config(), root: root, shared: make(map[uint64]struct{})}, nil
}

// Root returns the root node.
func (pt *PageTables) Root() *PTEs {
	return pt.root
}

// RootPhys returns the physical address of the root node, suitable for
// a translation-table base register.
func (pt *PageTables) RootPhys() uint64 {
	return pt.alloc.PhysicalFor(pt.root)
}

// Arch returns the translation regime.
func (pt *PageTables) Arch() Arch {
	return pt.arch
}

// index returns the slot index of v at the given level.
func (pt *PageTables) index(v uint64, level uint) uint {
	return uint(v>>(pt.cfg.PageBits+level*pt.cfg.BitsPerLevel)) & (pt.cfg.EntriesPerNode() - 1)
}

// load atomically reads a slot so a concurrent hardware or software
// walker never observes a torn entry.
func load(e *uint64) uint64 {
	return atomic.LoadUint64(e)
}

func store(e *uint64, v uint64) {
	atomic.StoreUint64(e, v)
}

// Walk returns a pointer to the PTE slot for v at the requested level.
//
// With allocate set, missing inner nodes are created on the way down; a
// node is published into its parent slot only after it exists, so a
// concurrent walker sees either an empty entry or a fully constructed
// subtree. Without allocate, Walk returns nil when the path is absent.
// Walk also returns nil when an inner level is already terminated by a
// superpage leaf above the requested level.
func (pt *PageTables) Walk(v uint64, level uint, allocate bool) (*uint64, error) {
	node := pt.root
	for l := pt.cfg.Levels - 1; l > level; l-- {
		e := &(*node)[pt.index(v, l)]
		pte := load(e)
		switch {
		case !pt.arch.IsPresent(pte):
			if !allocate {
				return nil, nil
			}
			child := pt.alloc.NewPTEs()
			if child == nil {
				return nil, status.ErrMemObj
			}
			pte = pt.alloc.PhysicalFor(child) | pt.arch.TableAttr()
			store(e, pte)
			node = child
		case pt.arch.IsLeaf(l, pte):
			return nil, nil
		default:
			node = pt.alloc.LookupPTEs(pt.arch.Addr(pte))
		}
	}
	return &(*node)[pt.index(v, level)], nil
}

// Update installs or clears a mapping of size 2^(order+PageBits)
// covering [v, v+size) -> [p, p+size).
//
// v and p must be size-aligned and order must be a multiple of
// BitsPerLevel; violations are rejected before any state change. An
// empty permission set clears the leaf. Partially constructed inner
// subtrees left behind by an allocation failure are harmless: an inner
// node without leaves is equivalent to empty.
func (pt *PageTables) Update(v, p uint64, order uint, pm paging.Permissions, ma paging.Memattr) error {
	if order%pt.cfg.BitsPerLevel != 0 || order > pt.cfg.MaxOrder() {
		return status.ErrBadPar
	}
	size := pt.cfg.PageSize(order)
	if v&(size-1) != 0 || p&(size-1) != 0 {
		return status.ErrBadPar
	}

	level := order / pt.cfg.BitsPerLevel
	attr := pt.arch.LeafAttr(level, pm, ma)

	e, err := pt.Walk(v, level, attr != 0)
	if err != nil {
		return err
	}
	if e == nil {
		// Clearing an absent path is a no-op.
		return nil
	}
	if attr == 0 {
		store(e, 0)
		return nil
	}
	store(e, p|attr)
	return nil
}

// Lookup translates v. It returns whether a leaf exists, the output
// physical address of v, the leaf's order, and the decoded permissions
// and memory attributes.
func (pt *PageTables) Lookup(v uint64) (bool, uint64, uint, paging.Permissions, paging.Memattr) {
	node := pt.root
	for l := pt.cfg.Levels; l > 0; {
		l--
		pte := load(&(*node)[pt.index(v, l)])
		if !pt.arch.IsPresent(pte) {
			return false, 0, 0, paging.None, paging.Memattr{}
		}
		if pt.arch.IsLeaf(l, pte) {
			order := l * pt.cfg.BitsPerLevel
			size := pt.cfg.PageSize(order)
			// Mask the leaf base below the mapping size: low address bits
			// of a superpage PTE are reused as attribute bits.
			base := pt.arch.Addr(pte) &^ (size - 1)
			return true, base + v&(size-1), order, pt.arch.LeafPerms(pte), pt.arch.LeafMemattr(l, pte)
		}
		node = pt.alloc.LookupPTEs(pt.arch.Addr(pte))
	}
	return false, 0, 0, paging.None, paging.Memattr{}
}

// Diverge returns the highest level at which a and b land in different
// slots, or 0 when they agree at every inner level.
func (pt *PageTables) Diverge(a, b uint64) uint {
	for l := pt.cfg.Levels - 1; l > 0; l-- {
		if pt.index(a, l) != pt.index(b, l) {
			return l
		}
	}
	return 0
}

// ShareFrom copies the subtree slot covering v from src at the level
// where v and other diverge, so the two trees alias everything under
// that slot. It returns true when the destination slot changed.
//
// Sharing is how kernel mappings replicate from the master table into
// per-CPU and per-space roots; the copy is a single atomic slot store.
func (pt *PageTables) ShareFrom(src *PageTables, v, other uint64) (bool, error) {
	l := pt.Diverge(v, other)

	s, err := src.Walk(v, l, false)
	if err != nil {
		return false, err
	}
	if s == nil {
		return false, nil
	}

	d, err := pt.Walk(v, l, true)
	if err != nil {
		return false, err
	}

	spte := load(s)
	dpte := load(d)
	if spte == dpte {
		return false, nil
	}
	store(d, spte)
	if pt.arch.IsPresent(spte) && !pt.arch.IsLeaf(l, spte) {
		pt.shared[pt.arch.Addr(spte)] = struct{}{}
	}
	return true, nil
}

// ShareFromRange replicates [s, e) from src, stepping one shared slot
// at a time at the divergence level against pin.
func (pt *PageTables) ShareFromRange(src *PageTables, s, e, pin uint64) error {
	for ; s < e; s += pt.cfg.PageSize(pt.Diverge(s, pin) * pt.cfg.BitsPerLevel) {
		if _, err := pt.ShareFrom(src, s, pin); err != nil {
			return err
		}
	}
	return nil
}

// Release frees every inner node of the tree. The tree must no longer
// be referenced by any translation-table base register.
func (pt *PageTables) Release() {
	pt.releaseNode(pt.root, pt.cfg.Levels-1)
	pt.root = nil
}

func (pt *PageTables) releaseNode(node *PTEs, level uint) {
	if level > 0 {
		for i := range *node {
			pte := load(&(*node)[i])
			if !pt.arch.IsPresent(pte) || pt.arch.IsLeaf(level, pte) {
				continue
			}
			phys := pt.arch.Addr(pte)
			if _, ok := pt.shared[phys]; ok {
				continue
			}
			pt.releaseNode(pt.alloc.LookupPTEs(phys), level-1)
		}
	}
	pt.alloc.FreePTEs(node)
}
