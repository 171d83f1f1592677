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

package apic

import (
	"sync"

	"hyperion.dev/hyperion/pkg/mmio"
)

// Direct IOAPIC registers.
const (
	ioRegIND = 0x00
	ioRegDAT = 0x10
)

// Indirect IOAPIC registers.
const (
	ioIndID  = 0x0
	ioIndVER = 0x1
	ioIndRTE = 0x10
)

// VecGSI is the vector base for GSI-routed interrupts.
const VecGSI = 0x30

// IOAPIC is one I/O interrupt controller: an indexed register file
// behind an (index, data) pair. Redirection-table entry i occupies
// indirect registers RTE+2i (vector and configuration) and RTE+2i+1
// (destination).
type IOAPIC struct {
	// The index register is shared state, so indexed access is
	// serialized per IOAPIC.
	mu sync.Mutex

	regs    mmio.Space
	id      uint8
	gsiBase uint32

	// BDF is the PCI source id claimed via the remapping tables.
	BDF uint16
}

// NewIOAPIC returns an accessor for one IOAPIC.
func NewIOAPIC(regs mmio.Space, id uint8, gsiBase uint32) *IOAPIC {
	return &IOAPIC{regs: regs, id: id, gsiBase: gsiBase}
}

// ID returns the enumeration id from the MADT.
func (io *IOAPIC) ID() uint8 {
	return io.id
}

// GSIBase returns the first GSI this IOAPIC serves.
func (io *IOAPIC) GSIBase() uint32 {
	return io.gsiBase
}

func (io *IOAPIC) readInd(reg uint8) uint32 {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.regs.Write8(ioRegIND, reg)
	return io.regs.Read32(ioRegDAT)
}

func (io *IOAPIC) writeInd(reg uint8, v uint32) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.regs.Write8(ioRegIND, reg)
	io.regs.Write32(ioRegDAT, v)
}

// MRE returns the maximum redirection entry index.
func (io *IOAPIC) MRE() uint32 {
	return io.readInd(ioIndVER) >> 16 & 0xff
}

// Version returns the controller version.
func (io *IOAPIC) Version() uint8 {
	return uint8(io.readInd(ioIndVER))
}

// SetDst programs the destination half of a redirection entry.
func (io *IOAPIC) SetDst(gsi uint32, v uint32) {
	rte := gsi - io.gsiBase
	io.writeInd(uint8(ioIndRTE+2*rte+1), v)
}

// SetCfg programs the configuration half of a redirection entry:
// mask, trigger mode, polarity and the vector derived from the GSI.
func (io *IOAPIC) SetCfg(gsi uint32, masked, levelTrigger, activeLow bool) {
	rte := gsi - io.gsiBase
	var v uint32
	if masked {
		v |= 1 << 16
	}
	if levelTrigger {
		v |= 1 << 15
	}
	if activeLow {
		v |= 1 << 13
	}
	io.writeInd(uint8(ioIndRTE+2*rte), v|(VecGSI+gsi)&0xff)
}

// Init masks every redirection entry.
func (io *IOAPIC) Init() {
	for gsi := io.gsiBase; gsi <= io.gsiBase+io.MRE(); gsi++ {
		io.SetCfg(gsi, true, false, false)
	}
}

// ClaimDev records the PCI source id for remapping, once.
func (io *IOAPIC) ClaimDev(bdf uint16, id uint8) bool {
	if io.BDF == 0 && io.id == id {
		io.BDF = bdf
		return true
	}
	return false
}
