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

// Package gic drives the ARM generic interrupt controller: the
// distributor, the per-CPU redistributors, and the CPU interface.
package gic

import (
	"hyperion.dev/hyperion/pkg/log"
	"hyperion.dev/hyperion/pkg/mmio"
)

// Distributor registers.
const (
	gicdCTLR       = 0x0000
	gicdTYPER      = 0x0004
	gicdIGROUPR    = 0x0080
	gicdISENABLER  = 0x0100
	gicdICENABLER  = 0x0180
	gicdICPENDR    = 0x0280
	gicdICACTIVER  = 0x0380
	gicdIPRIORITYR = 0x0400
	gicdICFGR      = 0x0c00
	gicdIROUTER    = 0x6000
)

// GICD control bits.
const (
	gicdEnableGrp1A = 1 << 1
	gicdARE         = 1 << 4
)

// Distributor owns the shared-interrupt configuration.
type Distributor struct {
	regs mmio.Space

	// Lines is the number of supported interrupt lines.
	Lines uint32
}

// NewDistributor returns a distributor accessor.
func NewDistributor(regs mmio.Space) *Distributor {
	return &Distributor{regs: regs}
}

// Init disables, drains and re-enables the distributor with affinity
// routing, leaving every SPI masked, group-1, level-triggered, at
// priority 0xa0.
func (d *Distributor) Init() {
	d.regs.Write32(gicdCTLR, 0)

	typer := d.regs.Read32(gicdTYPER)
	d.Lines = 32 * (typer&0x1f + 1)

	// SPIs: mask, clear pending and active state, group 1, level
	// triggered, default priority.
	for i := uint32(32); i < d.Lines; i += 32 {
		d.regs.Write32(gicdICENABLER+i/8, ^uint32(0))
		d.regs.Write32(gicdICPENDR+i/8, ^uint32(0))
		d.regs.Write32(gicdICACTIVER+i/8, ^uint32(0))
		d.regs.Write32(gicdIGROUPR+i/8, ^uint32(0))
	}
	for i := uint32(32); i < d.Lines; i += 4 {
		d.regs.Write32(gicdIPRIORITYR+i, 0xa0a0a0a0)
	}
	for i := uint32(32); i < d.Lines; i += 16 {
		d.regs.Write32(gicdICFGR+i/4, 0)
	}

	d.regs.Write32(gicdCTLR, gicdEnableGrp1A|gicdARE)

	log.Infof("GICD: %d lines", d.Lines)
}

// ConfSPI programs one shared interrupt: mask state, trigger mode and
// routing affinity.
func (d *Distributor) ConfSPI(spi uint32, masked, levelTrigger bool, affinity uint64) {
	intid := spi + 32
	if intid >= d.Lines {
		return
	}

	// Trigger mode: two bits per interrupt, bit 1 set means edge.
	cfg := d.regs.Read32(gicdICFGR + intid/16*4)
	bit := intid % 16 * 2
	if levelTrigger {
		cfg &^= 2 << bit
	} else {
		cfg |= 2 << bit
	}
	d.regs.Write32(gicdICFGR+intid/16*4, cfg)

	d.regs.Write64(gicdIROUTER+8*intid, affinity)

	if masked {
		d.regs.Write32(gicdICENABLER+intid/32*4, 1<<(intid%32))
	} else {
		d.regs.Write32(gicdISENABLER+intid/32*4, 1<<(intid%32))
	}
}
