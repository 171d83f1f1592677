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
	"hyperion.dev/hyperion/pkg/status"
	"hyperion.dev/hyperion/pkg/wait"
)

// Global register space 0.
const (
	smmuCR0         = 0x000
	smmuIDR0        = 0x020
	smmuIDR1        = 0x024
	smmuIDR2        = 0x028
	smmuIDR7        = 0x03c
	smmuGFSR        = 0x048
	smmuGFSYNR0     = 0x050
	smmuGFSYNR1     = 0x054
	smmuTLBIVMID    = 0x064
	smmuTLBGSYNC    = 0x070
	smmuTLBGSTATUS  = 0x074
	smmuGFAR        = 0x040
	smmuSMRBase     = 0x800
	smmuS2CRBase    = 0xc00
)

// Global register space 1 arrays, offsets within the GR1 page.
const (
	smmuCBARBase  = 0x000
	smmuCBA2RBase = 0x800
)

// Context bank registers, offsets within the bank's page.
const (
	ctxSCTLR     = 0x000
	ctxTCR       = 0x030
	ctxTTBR0     = 0x020
	ctxFSR       = 0x058
	ctxFSYNR0    = 0x068
	ctxFAR       = 0x060
	ctxTLBIIPAS2 = 0x630
	ctxTLBSYNC   = 0x7f0
	ctxTLBSTATUS = 0x7f4
)

// TCR fields for a VA64 stage-2 bank with a 4 KiB granule.
const (
	tcrSH0Inner  = 3 << 12
	tcrORGN0WBRW = 1 << 10
	tcrIRGN0WBRW = 1 << 8
)

// syncLimit bounds TLB synchronize polling.
const syncLimit = 100000

// Mode is the stream-to-context routing scheme.
type Mode uint8

const (
	// StreamMatching routes by (StreamID, mask) match registers.
	StreamMatching Mode = iota

	// StreamIndexing uses the StreamID directly as the group index.
	StreamIndexing
)

// smgEntry remembers one stream match group configuration for
// suspend/resume reprogramming.
type smgEntry struct {
	used bool
	sdid SDID
	ttbr uint64
	sid  uint16
	msk  uint16
	ctx  uint8
}

// SMMU is one ARM SMMUv2 instance.
type SMMU struct {
	regs mmio.Space

	// Capabilities from the identification registers.
	mode     Mode
	sidBits  uint32
	pageSize uint32
	numPages uint32
	numSMG   uint8
	numCTX   uint8
	ias      uint8
	oas      uint8
	coherent bool

	config [256]smgEntry

	cfgMu sync.Mutex // stream/context table updates
	invMu sync.Mutex // TLB sync posting

	faultLog interface {
		Warningf(format string, v ...any)
	}
}

// NewSMMU probes the identification registers and returns an accessor.
func NewSMMU(regs mmio.Space, faultLog interface {
	Warningf(format string, v ...any)
}) *SMMU {
	s := &SMMU{regs: regs, faultLog: faultLog}

	idr0 := regs.Read32(smmuIDR0)
	idr1 := regs.Read32(smmuIDR1)
	idr2 := regs.Read32(smmuIDR2)
	idr7 := regs.Read32(smmuIDR7)

	if idr0&(1<<27) != 0 {
		s.mode = StreamMatching
	} else {
		s.mode = StreamIndexing
	}
	if idr0&(1<<8) != 0 {
		s.sidBits = 16
	} else {
		s.sidBits = idr0 >> 9 & 0xf
	}
	if idr1&(1<<31) != 0 {
		s.pageSize = 1 << 16
	} else {
		s.pageSize = 1 << 12
	}
	s.numSMG = uint8(idr0)
	s.numCTX = uint8(idr1)
	s.ias = uint8(idr2 & 0xf)
	s.oas = uint8(idr2 >> 4 & 0xf)
	s.coherent = idr0&(1<<14) != 0
	s.numPages = 1 << (idr1>>28&7 + 1)

	log.Infof("SMMU: r%dp%d S1:%d S2:%d C:%d SMG:%d CTX:%d SID:%d-bit Mode:%d",
		idr7>>4&0xf, idr7&0xf, idr0>>30&1, idr0>>29&1, idr0>>14&1,
		s.numSMG, s.numCTX, s.sidBits, s.mode)

	return s
}

// Size returns the total MMIO footprint: the global spaces followed by
// one page per context bank.
func (s *SMMU) Size() uint32 {
	return s.pageSize * s.numPages * 2
}

// Coherent reports whether table walks snoop the caches; noncoherent
// units require clean-to-PoC maintenance on the DMA tables.
func (s *SMMU) Coherent() bool {
	return s.coherent
}

// gr1 returns a GR1 array register offset.
func (s *SMMU) gr1(base, ctx uint32) uint32 {
	return s.pageSize + base + 4*ctx
}

// ctxReg returns a context bank register offset.
func (s *SMMU) ctxReg(ctx uint32, reg uint32) uint32 {
	return s.pageSize*s.numPages + ctx*s.pageSize + reg
}

// Init configures fault generation for unmatched streams and enables
// the SMMU.
func (s *SMMU) Init() {
	// Unconfigured CTXs fault as "invalid context".
	for ctx := uint32(0); ctx < uint32(s.numCTX); ctx++ {
		s.regs.Write32(s.gr1(smmuCBARBase, ctx), 1<<17)
	}
	// Reprogram surviving SMGs (resume) and fault the rest.
	for smg := uint32(0); smg < uint32(s.numSMG); smg++ {
		if !s.confSMG(uint8(smg)) {
			s.regs.Write32(smmuS2CRBase+4*smg, 1<<17)
		}
	}

	s.regs.Write32(smmuCR0, 1<<21|3<<11|1<<10|3<<4|3<<1)
}

// pasBits translates a PA-size encoding to address bits.
func pasBits(enc uint8) uint8 {
	switch enc {
	case 0:
		return 32
	case 1:
		return 36
	case 2:
		return 40
	case 3:
		return 42
	case 4:
		return 44
	default:
		return 48
	}
}

// levels returns the stage-2 level count for an input size.
func levels(isz uint8) uint32 {
	return uint32(isz-12+8) / 9
}

// Assign binds a DMA space, given by its domain id and stage-2 root,
// to a stream descriptor: sid in bits 15:0, mask in 31:16, smg in
// 39:32, ctx in 47:40.
func (s *SMMU) Assign(sdid SDID, ttbr uint64, dad uint64) error {
	sid := uint16(dad)
	msk := uint16(dad >> 16)
	smg := uint8(dad >> 32)
	ctx := uint8(dad >> 40)

	// With stream indexing the StreamID selects the group directly.
	if s.mode == StreamIndexing {
		smg = uint8(sid)
	}

	if uint32(sid)|uint32(msk) >= 1<<s.sidBits || smg >= s.numSMG || ctx >= s.numCTX {
		return status.ErrBadPar
	}

	log.Infof("SMMU: SID:%#06x MSK:%#06x SMG:%#04x CTX:%#04x assigned to Domain %d", sid, msk, smg, ctx, sdid)

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	s.config[smg] = smgEntry{used: true, sdid: sdid, ttbr: ttbr, sid: sid, msk: msk, ctx: ctx}

	if !s.confSMG(smg) {
		return status.ErrBadPar
	}
	return nil
}

// confSMG programs one stream match group from its remembered
// configuration. The context bank is disabled during reprogramming,
// stale translations for the domain are invalidated, then the bank
// and the match register are re-enabled.
func (s *SMMU) confSMG(smg uint8) bool {
	e := &s.config[smg]
	if !e.used {
		return false
	}
	ctx := uint32(e.ctx)

	// Disable CTX during configuration.
	s.regs.Write32(s.ctxReg(ctx, ctxSCTLR), 0)

	// Invalidate stale TLB entries for the domain.
	s.TLBInvalidateVMID(e.sdid)

	// Configure CTX as VA64 stage-2.
	s.regs.Write32(s.gr1(smmuCBA2RBase, ctx), 1<<0)
	s.regs.Write32(s.gr1(smmuCBARBase, ctx), uint32(e.sdid)&0xff)

	isz := pasBits(s.ias)
	lev := levels(isz)

	s.regs.Write32(s.ctxReg(ctx, ctxTCR),
		uint32(s.oas)<<16|tcrSH0Inner|tcrORGN0WBRW|tcrIRGN0WBRW|(lev-2)<<6|uint32(64-isz))
	s.regs.Write64(s.ctxReg(ctx, ctxTTBR0), e.ttbr)
	s.regs.Write32(s.ctxReg(ctx, ctxSCTLR), 3<<5|1<<0)

	// Disable SMG during configuration, then route and match.
	s.regs.Write32(smmuSMRBase+4*uint32(smg), 0)
	s.regs.Write32(smmuS2CRBase+4*uint32(smg), 1<<27|ctx)
	s.regs.Write32(smmuSMRBase+4*uint32(smg), 1<<31|uint32(e.msk)<<16|uint32(e.sid))

	return true
}

// TLBInvalidateVMID posts a by-VMID invalidation and synchronizes.
func (s *SMMU) TLBInvalidateVMID(sdid SDID) bool {
	s.regs.Write32(smmuTLBIVMID, uint32(sdid)&0xffff)
	return s.tlbSyncGlobal()
}

// TLBInvalidateIPA posts a by-IPA invalidation in one context bank and
// synchronizes.
func (s *SMMU) TLBInvalidateIPA(ctx uint8, ipa uint64) bool {
	s.regs.Write64(s.ctxReg(uint32(ctx), ctxTLBIIPAS2), ipa>>12)
	return s.tlbSyncCtx(uint32(ctx))
}

// tlbSyncGlobal ensures completion of posted invalidations accepted in
// the global address space or any context bank.
func (s *SMMU) tlbSyncGlobal() bool {
	s.invMu.Lock()
	defer s.invMu.Unlock()

	s.regs.Write32(smmuTLBGSYNC, 0)
	return wait.Until(syncLimit, func() bool {
		return s.regs.Read32(smmuTLBGSTATUS)&1 == 0
	})
}

// tlbSyncCtx ensures completion of posted invalidations accepted in
// one context bank.
func (s *SMMU) tlbSyncCtx(ctx uint32) bool {
	s.invMu.Lock()
	defer s.invMu.Unlock()

	s.regs.Write32(s.ctxReg(ctx, ctxTLBSYNC), 0)
	return wait.Until(syncLimit, func() bool {
		return s.regs.Read32(s.ctxReg(ctx, ctxTLBSTATUS))&1 == 0
	})
}

// Fault decodes and clears pending global and per-context faults. The
// device sees aborted transactions; the system continues.
func (s *SMMU) Fault() {
	if gfsr := s.regs.Read32(smmuGFSR); gfsr&0x1ff != 0 {
		syn := s.regs.Read32(smmuGFSYNR0)
		s.faultLog.Warningf("SMMU: GLB Fault (%#x) at %#010x (%c%c%c) SID:%#x",
			gfsr, s.regs.Read64(smmuGFAR),
			faultChar(syn&(1<<3) != 0, 'I', 'D'),
			faultChar(syn&(1<<2) != 0, 'P', 'U'),
			faultChar(syn&(1<<1) != 0, 'W', 'R'),
			s.regs.Read32(smmuGFSYNR1)&0xffff)
		s.regs.Write32(smmuGFSR, gfsr)
	}

	for ctx := uint32(0); ctx < uint32(s.numCTX); ctx++ {
		fsr := s.regs.Read32(s.ctxReg(ctx, ctxFSR))
		if fsr&0x1fe == 0 {
			continue
		}
		syn := s.regs.Read32(s.ctxReg(ctx, ctxFSYNR0))
		s.faultLog.Warningf("SMMU: C%02d Fault (%#x) at %#010x (%c%c%c) LVL:%d",
			ctx, fsr, s.regs.Read64(s.ctxReg(ctx, ctxFAR)),
			faultChar(syn&(1<<6) != 0, 'I', 'D'),
			faultChar(syn&(1<<5) != 0, 'P', 'U'),
			faultChar(syn&(1<<4) != 0, 'W', 'R'),
			syn&3)
		s.regs.Write32(s.ctxReg(ctx, ctxFSR), fsr)
	}
}

func faultChar(set bool, a, b byte) byte {
	if set {
		return a
	}
	return b
}

// AvailSMG returns the number of stream match groups.
func (s *SMMU) AvailSMG() uint8 { return s.numSMG }

// AvailCTX returns the number of context banks.
func (s *SMMU) AvailCTX() uint8 { return s.numCTX }
