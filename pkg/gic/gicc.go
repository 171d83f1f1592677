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
	"hyperion.dev/hyperion/pkg/cpu"
	"hyperion.dev/hyperion/pkg/mmio"
)

// Mode selects how the CPU interface is reached.
type Mode uint8

const (
	// ModeMMIO is the GICv2-compatible memory-mapped interface.
	ModeMMIO Mode = iota

	// ModeSysReg is the GICv3 system-register interface (ICC_*).
	ModeSysReg
)

// ICC system registers, as logical ids for the SysRegIO hook.
const (
	ICCIAR1  = 0
	ICCEOIR1 = 1
	ICCDIR   = 2
	ICCSGI1R = 3
	ICCPMR   = 4
	ICCCTLR  = 5
	ICCGRPEN = 6
)

// SysRegIO accesses the ICC system registers. The native
// implementation issues mrs/msr with an ISB after EOI writes to
// enforce completion; tests record accesses.
type SysRegIO interface {
	Read(reg uint32) uint64
	Write(reg uint32, v uint64)
}

// Barrier orders earlier stores before an SGI becomes observable.
type Barrier func()

// GICv2 CPU interface registers.
const (
	giccCTLR = 0x00
	giccPMR  = 0x04
	giccIAR  = 0x0c
	giccEOIR = 0x10
	giccDIR  = 0x1000
)

// CPUInterface is one CPU's interrupt acknowledge path, reached either
// via MMIO (GICv2 compatibility) or system registers (GICv3), selected
// per CPU.
type CPUInterface struct {
	mode Mode
	mmio mmio.Space
	sys  SysRegIO
	dsb  Barrier
}

// NewCPUInterface returns a CPU interface accessor. The barrier is the
// inner-shareable DSB issued before SGIs.
func NewCPUInterface(mode Mode, space mmio.Space, sys SysRegIO, dsb Barrier) *CPUInterface {
	return &CPUInterface{mode: mode, mmio: space, sys: sys, dsb: dsb}
}

// Init unmasks all priorities and enables group 1.
func (c *CPUInterface) Init() {
	if c.mode == ModeSysReg {
		c.sys.Write(ICCPMR, 0xff)
		c.sys.Write(ICCGRPEN, 1)
		return
	}
	c.mmio.Write32(giccPMR, 0xff)
	c.mmio.Write32(giccCTLR, 1)
}

// Ack acknowledges the highest pending interrupt and returns its id.
func (c *CPUInterface) Ack() uint32 {
	if c.mode == ModeSysReg {
		return uint32(c.sys.Read(ICCIAR1))
	}
	return c.mmio.Read32(giccIAR)
}

// EOI signals end of interrupt.
func (c *CPUInterface) EOI(intid uint32) {
	if c.mode == ModeSysReg {
		c.sys.Write(ICCEOIR1, uint64(intid))
		return
	}
	c.mmio.Write32(giccEOIR, intid)
}

// Dir deactivates an interrupt whose priority drop already happened.
func (c *CPUInterface) Dir(intid uint32) {
	if c.mode == ModeSysReg {
		c.sys.Write(ICCDIR, uint64(intid))
		return
	}
	c.mmio.Write32(giccDIR, intid)
}

// SendCPU sends an SGI to the CPU with the given MPIDR, preceded by an
// inner-shareable DSB so earlier stores are ordered before the IPI.
func (c *CPUInterface) SendCPU(sgi uint8, mpidr uint64) {
	c.dsb()
	c.sys.Write(ICCSGI1R, sgi1r(sgi, mpidr))
}

// sgi1r encodes an ICC_SGI1R_EL1 value targeting one CPU: affinity
// fields select the cluster, the target-list bit the CPU within it.
func sgi1r(sgi uint8, mpidr uint64) uint64 {
	aff := cpu.AffinityBits(mpidr)
	aff3 := aff >> 32 & 0xff
	aff2 := aff >> 16 & 0xff
	aff1 := aff >> 8 & 0xff
	aff0 := aff & 0xf

	return aff3<<48 | aff2<<32 | aff1<<16 | uint64(sgi&0xf)<<24 | 1<<aff0
}
