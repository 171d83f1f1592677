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

// Package space is the boundary toward the capability layer: host and
// DMA memory spaces, delegation under a permission mask, and identity
// access control for reserved physical regions.
package space

import (
	"sync/atomic"

	"hyperion.dev/hyperion/pkg/bits"
	"hyperion.dev/hyperion/pkg/iommu"
	"hyperion.dev/hyperion/pkg/paging"
	"hyperion.dev/hyperion/pkg/pagetables"
	"hyperion.dev/hyperion/pkg/status"
)

// Referable is the owning protection domain's liveness handle: Refer
// takes a reference and fails when the domain is dying.
type Referable interface {
	Refer() bool
	Unref()
}

// Space is the state shared by host and DMA spaces.
type Space struct {
	pt *pagetables.PageTables

	// holders tracks which CPUs hold the space in their translation
	// registers; tlbDirty bits mark pending shootdowns.
	holders  atomic.Uint64
	tlbDirty atomic.Uint64
}

// Tables returns the space's translation tables.
func (s *Space) Tables() *pagetables.PageTables {
	return s.pt
}

// Hold marks the calling CPU as holding the space.
func (s *Space) Hold(cpu uint) {
	for {
		o := s.holders.Load()
		if s.holders.CompareAndSwap(o, o|1<<cpu) {
			return
		}
	}
}

// Drop releases the calling CPU's hold.
func (s *Space) Drop(cpu uint) {
	for {
		o := s.holders.Load()
		if s.holders.CompareAndSwap(o, o&^(1<<cpu)) {
			return
		}
	}
}

// Shootdown marks the TLB-dirty bit on every CPU holding the space
// and sends each one an IPI. Targets acknowledge with Ack, clearing
// their bit after invalidating on the next entry to the space.
func (s *Space) Shootdown(send func(cpu uint)) {
	h := s.holders.Load()
	for {
		o := s.tlbDirty.Load()
		if s.tlbDirty.CompareAndSwap(o, o|h) {
			break
		}
	}
	for c := uint(0); h != 0; c, h = c+1, h>>1 {
		if h&1 != 0 {
			send(c)
		}
	}
}

// Ack clears the calling CPU's TLB-dirty bit.
func (s *Space) Ack(cpu uint) {
	for {
		o := s.tlbDirty.Load()
		if s.tlbDirty.CompareAndSwap(o, o&^(1<<cpu)) {
			return
		}
	}
}

// Dirty reports whether the CPU has a pending shootdown.
func (s *Space) Dirty(cpu uint) bool {
	return s.tlbDirty.Load()&(1<<cpu) != 0
}

// Host is a per-PD stage-1 memory space.
type Host struct {
	Space
}

// NewHost creates a host space for the owning domain. It fails with
// ErrAborted when the domain cannot be referenced and ErrMemObj when
// the root cannot be allocated.
func NewHost(pd Referable, arch pagetables.Arch, alloc pagetables.Allocator) (*Host, error) {
	if !pd.Refer() {
		return nil, status.ErrAborted
	}
	pt, err := pagetables.New(arch, alloc)
	if err != nil {
		pd.Unref()
		return nil, err
	}
	return &Host{Space: Space{pt: pt}}, nil
}

// DMA is a per-PD stage-2 DMA space with its stage-2 domain
// identifier.
type DMA struct {
	Space
	SDID iommu.SDID
}

// NewDMA creates a DMA space with a freshly allocated domain
// identifier.
func NewDMA(pd Referable, arch pagetables.Arch, alloc pagetables.Allocator) (*DMA, error) {
	if !pd.Refer() {
		return nil, status.ErrAborted
	}
	sdid, err := iommu.AllocSDID()
	if err != nil {
		pd.Unref()
		return nil, err
	}
	pt, err := pagetables.New(arch, alloc)
	if err != nil {
		pd.Unref()
		return nil, err
	}
	return &DMA{Space: Space{pt: pt}, SDID: sdid}, nil
}

// Delegate maps [vSrc, vSrc+2^(order+pagebits)) of src into dst at
// vDst, with the source permissions filtered by mask. Alignment
// violations are rejected before any state change.
func Delegate(src, dst *Space, vSrc, vDst uint64, order uint, mask paging.Permissions, ma paging.Memattr) error {
	ok, p, srcOrder, pm, _ := src.pt.Lookup(vSrc)
	if !ok {
		return status.ErrBadPar
	}
	if srcOrder < order {
		return status.ErrBadPar
	}
	return dst.pt.Update(vDst, p, order, pm&mask, ma)
}

// AccessCtrl installs identity mappings for [phys, phys+size) with the
// given permissions, chunked by the largest order the alignment
// permits. An empty permission set revokes access, protecting the
// region from the space's holders.
func AccessCtrl(s *Space, phys, size uint64, pm paging.Permissions, ma paging.Memattr) error {
	cfg := s.pt.Arch().Config()
	for size > 0 {
		o := bits.AlignedOrder(size, phys)
		// Clamp to orders the table can express.
		for o > uint(cfg.PageBits) && (o-uint(cfg.PageBits))%cfg.BitsPerLevel != 0 {
			o--
		}
		if o < uint(cfg.PageBits) {
			return status.ErrBadPar
		}
		order := o - uint(cfg.PageBits)
		if order > cfg.MaxOrder() {
			order = cfg.MaxOrder()
			o = order + uint(cfg.PageBits)
		}
		if err := s.pt.Update(phys, phys, order, pm, ma); err != nil {
			return err
		}
		phys += 1 << o
		size -= 1 << o
	}
	return nil
}
