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

package iommu

import (
	"sync"

	"hyperion.dev/hyperion/pkg/log"
	"hyperion.dev/hyperion/pkg/mmio"
	"hyperion.dev/hyperion/pkg/pagetables"
	"hyperion.dev/hyperion/pkg/status"
	"hyperion.dev/hyperion/pkg/wait"
)

// VT-d remapping engine registers.
const (
	vtdVER    = 0x00
	vtdCAP    = 0x08
	vtdECAP   = 0x10
	vtdGCMD   = 0x18
	vtdGSTS   = 0x1c
	vtdRTADDR = 0x20
	vtdCCMD   = 0x28
	vtdFSTS   = 0x34
	vtdFECTL  = 0x38
)

// Global command/status bits.
const (
	vtdCmdTE   = 1 << 31
	vtdCmdSRTP = 1 << 30
	vtdStsTES  = 1 << 31
	vtdStsRTPS = 1 << 30
)

// VTD is one Intel DMA remapping hardware unit. A root table indexed
// by bus points at context tables indexed by devfn; a context entry
// routes the source-id to a domain's stage-2 root.
type VTD struct {
	regs  mmio.Space
	alloc pagetables.Allocator

	root *pagetables.PTEs
	ctxs map[uint8]*pagetables.PTEs

	iro uint32 // IOTLB register offset from ECAP

	invMu sync.Mutex

	faultLog interface {
		Warningf(format string, v ...any)
	}
}

// NewVTD allocates the root table and probes capabilities.
func NewVTD(regs mmio.Space, alloc pagetables.Allocator, faultLog interface {
	Warningf(format string, v ...any)
}) (*VTD, error) {
	root := alloc.NewPTEs()
	if root == nil {
		return nil, status.ErrMemObj
	}
	v := &VTD{
		regs:     regs,
		alloc:    alloc,
		root:     root,
		ctxs:     make(map[uint8]*pagetables.PTEs),
		faultLog: faultLog,
	}
	v.iro = uint32(regs.Read64(vtdECAP)>>8&0x3ff) * 16
	log.Infof("DMAR: VER:%#x CAP:%#x", regs.Read32(vtdVER), regs.Read64(vtdCAP))
	return v, nil
}

// Assign routes a PCI source-id to a DMA space given by its domain id
// and stage-2 root. The update is followed by a context-cache and
// IOTLB synchronize before the device's next DMA can observe it.
func (v *VTD) Assign(sdid SDID, slptr uint64, bdf uint16) error {
	bus := uint8(bdf >> 8)
	devfn := uint8(bdf)

	v.invMu.Lock()
	defer v.invMu.Unlock()

	ctx, ok := v.ctxs[bus]
	if !ok {
		ctx = v.alloc.NewPTEs()
		if ctx == nil {
			return status.ErrMemObj
		}
		v.ctxs[bus] = ctx
		(*v.root)[int(bus)*2] = v.alloc.PhysicalFor(ctx) | 1
		(*v.root)[int(bus)*2+1] = 0
	}

	// Context entry: present, second-level pointer; 48-bit address
	// width and the domain id in the high half.
	(*ctx)[int(devfn)*2] = slptr | 1
	(*ctx)[int(devfn)*2+1] = uint64(sdid)<<8 | 2

	if !v.syncLocked() {
		return status.ErrTimeout
	}
	log.Infof("DMAR: %02x:%02x.%x assigned to Domain %d", bus, devfn>>3, devfn&7, sdid)
	return nil
}

// RootPhys returns the root table's physical address for RTADDR.
func (v *VTD) RootPhys() uint64 {
	return v.alloc.PhysicalFor(v.root)
}

// Enable points the engine at the root table and turns translation
// on, polling each handshake to completion.
func (v *VTD) Enable() error {
	v.regs.Write64(vtdRTADDR, v.RootPhys())
	v.regs.Write32(vtdGCMD, vtdCmdSRTP)
	if !wait.Until(syncLimit, func() bool { return v.regs.Read32(vtdGSTS)&vtdStsRTPS != 0 }) {
		return status.ErrTimeout
	}

	v.regs.Write32(vtdGCMD, vtdCmdTE)
	if !wait.Until(syncLimit, func() bool { return v.regs.Read32(vtdGSTS)&vtdStsTES != 0 }) {
		return status.ErrTimeout
	}
	return nil
}

// syncLocked flushes the context cache and the IOTLB globally and
// polls both to completion. Callers hold invMu.
func (v *VTD) syncLocked() bool {
	v.regs.Write64(vtdCCMD, 1<<63|1<<61)
	if !wait.Until(syncLimit, func() bool { return v.regs.Read64(vtdCCMD)&(1<<63) == 0 }) {
		return false
	}

	iotlb := v.iro + 8
	v.regs.Write64(iotlb, 1<<63|1<<60)
	return wait.Until(syncLimit, func() bool { return v.regs.Read64(iotlb)&(1<<63) == 0 })
}

// Fault decodes and clears pending fault status. Faulting DMA is
// aborted; execution continues.
func (v *VTD) Fault() {
	fsts := v.regs.Read32(vtdFSTS)
	if fsts&0xff == 0 {
		return
	}
	v.faultLog.Warningf("DMAR: Fault status %#x", fsts)
	v.regs.Write32(vtdFSTS, fsts)
}
