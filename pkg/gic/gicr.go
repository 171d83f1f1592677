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

package gic

import (
	"hyperion.dev/hyperion/pkg/mmio"
	"hyperion.dev/hyperion/pkg/wait"
)

// Redistributor registers. The RD frame holds control, the SGI frame
// (one 64 KiB page up) the private-interrupt state.
const (
	gicrWAKER = 0x0014
	gicrTYPER = 0x0008

	sgiIGROUPR    = 0x0080
	sgiISENABLER  = 0x0100
	sgiICENABLER  = 0x0180
	sgiICPENDR    = 0x0280
	sgiICACTIVER  = 0x0380
	sgiIPRIORITYR = 0x0400
	sgiICFGR1     = 0x0c04
)

// WAKER bits.
const (
	wakerProcessorSleep = 1 << 1
	wakerChildrenAsleep = 1 << 2
)

// wakeLimit bounds the redistributor wake handshake.
const wakeLimit = 100000

// Redistributor is one CPU's private interrupt state.
type Redistributor struct {
	rd  mmio.Space
	sgi mmio.Space
}

// NewRedistributor returns an accessor over the RD and SGI frames.
func NewRedistributor(rd, sgi mmio.Space) *Redistributor {
	return &Redistributor{rd: rd, sgi: sgi}
}

// Init wakes the redistributor and resets the private interrupts:
// SGIs enabled group-1, PPIs masked.
func (r *Redistributor) Init() bool {
	// Clear ProcessorSleep, then wait for ChildrenAsleep to drop.
	r.rd.Write32(gicrWAKER, r.rd.Read32(gicrWAKER)&^uint32(wakerProcessorSleep))
	if !wait.Until(wakeLimit, func() bool {
		return r.rd.Read32(gicrWAKER)&wakerChildrenAsleep == 0
	}) {
		return false
	}

	r.sgi.Write32(sgiICENABLER, ^uint32(0))
	r.sgi.Write32(sgiICPENDR, ^uint32(0))
	r.sgi.Write32(sgiICACTIVER, ^uint32(0))
	r.sgi.Write32(sgiIGROUPR, ^uint32(0))
	for i := uint32(0); i < 32; i += 4 {
		r.sgi.Write32(sgiIPRIORITYR+i, 0xa0a0a0a0)
	}

	// SGIs are always enabled.
	r.sgi.Write32(sgiISENABLER, 0xffff)
	return true
}

// ConfPPI programs one private interrupt.
func (r *Redistributor) ConfPPI(ppi uint32, masked, levelTrigger bool) {
	intid := ppi + 16
	if intid >= 32 {
		return
	}

	cfg := r.sgi.Read32(sgiICFGR1)
	bit := intid % 16 * 2
	if levelTrigger {
		cfg &^= 2 << bit
	} else {
		cfg |= 2 << bit
	}
	r.sgi.Write32(sgiICFGR1, cfg)

	if masked {
		r.sgi.Write32(sgiICENABLER, 1<<intid)
	} else {
		r.sgi.Write32(sgiISENABLER, 1<<intid)
	}
}
