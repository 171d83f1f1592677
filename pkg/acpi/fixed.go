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

package acpi

import (
	"sync/atomic"

	"hyperion.dev/hyperion/pkg/wait"
)

// PortIO accesses the system I/O space. The native implementation
// issues in/out instructions; tests provide a fake port map.
type PortIO interface {
	In(port uint16, bits uint8) uint32
	Out(port uint16, bits uint8, v uint32)
}

// 4.8.3: the PM timer runs at 3.579545 MHz and is 24 bits wide.
const (
	pmTimerFreq = 3_579_545
	pmTimerWrap = 1 << 24
)

// Transition packs a sleep-state index and the two sleep type values
// (3 bits each): state in bits 2:0, type A in 5:3, type B in 8:6.
type Transition uint16

// NewTransition builds a transition value.
func NewTransition(state, valA, valB uint8) Transition {
	return Transition(uint16(state&7) | uint16(valA&7)<<3 | uint16(valB&7)<<6)
}

// State returns the sleep-state index.
func (t Transition) State() uint8 { return uint8(t) & 7 }

// ValA returns sleep type A.
func (t Transition) ValA() uint8 { return uint8(t>>3) & 7 }

// ValB returns sleep type B.
func (t Transition) ValB() uint8 { return uint8(t>>6) & 7 }

// Fixed drives the ACPI fixed hardware registers.
type Fixed struct {
	regs FixedRegs
	io   PortIO

	// trans serializes sleep-state transitions: a transition is
	// accepted only when no other is pending.
	trans atomic.Uint32
}

// NewFixed returns fixed hardware bound to the FADT register set.
func NewFixed(regs FixedRegs, io PortIO) *Fixed {
	return &Fixed{regs: regs, io: io}
}

// read accesses a GAS register. Only the system I/O space is
// supported; non-existent registers read as zero.
func (f *Fixed) read(g GAS) uint32 {
	if g.ASID != ASIDPIO {
		return 0
	}
	switch g.Bits {
	case 8, 16, 32:
		return f.io.In(uint16(g.Addr), g.Bits)
	}
	return 0
}

func (f *Fixed) write(g GAS, v uint32) {
	if g.ASID != ASIDPIO {
		return
	}
	switch g.Bits {
	case 8, 16, 32:
		f.io.Out(uint16(g.Addr), g.Bits, v)
	}
}

// writeGPE writes every byte register of a GPE block. Each register in
// the block is accessed as a byte; bits/offs/accs are ignored.
func (f *Fixed) writeGPE(g GAS, length uint32, v uint8) {
	if g.ASID != ASIDPIO {
		return
	}
	for i := uint32(0); i < length; i++ {
		f.io.Out(uint16(g.Addr+uint64(i)), 8, uint32(v))
	}
}

// PM1 registers pair an a and b block; reads merge, writes hit both.
func (f *Fixed) readPM1Sts() uint32 { return f.read(f.regs.PM1aSts) | f.read(f.regs.PM1bSts) }
func (f *Fixed) readPM1Cnt() uint32 { return f.read(f.regs.PM1aCnt) | f.read(f.regs.PM1bCnt) }

func (f *Fixed) writePM1Sts(v uint32) {
	f.write(f.regs.PM1aSts, v)
	f.write(f.regs.PM1bSts, v)
}

func (f *Fixed) writePM1Ena(v uint32) {
	f.write(f.regs.PM1aEna, v)
	f.write(f.regs.PM1bEna, v)
}

// CanReset reports whether the FADT declares a reset register.
func (f *Fixed) CanReset() bool {
	return f.regs.RstReg.Valid()
}

// CanSleep reports whether sleep-state transitions are possible.
func (f *Fixed) CanSleep() bool {
	return (f.regs.SlpCnt.Valid() || f.regs.PM1aCnt.Valid()) &&
		(f.regs.SlpSts.Valid() || f.regs.PM1aSts.Valid())
}

// Supported reports whether the transition can be carried out with the
// declared hardware: state 7 is reset, states 1 and 3-5 are sleep.
func (f *Fixed) Supported(t Transition) bool {
	s := t.State()
	if s == 7 {
		return f.CanReset()
	}
	if s == 1 || (s >= 3 && s <= 5) {
		return f.CanSleep()
	}
	return false
}

// SetTransition accepts a transition when none is pending.
func (f *Fixed) SetTransition(t Transition) bool {
	return f.trans.CompareAndSwap(0, uint32(t))
}

// GetTransition returns the pending transition.
func (f *Fixed) GetTransition() Transition {
	return Transition(f.trans.Load())
}

// ClrTransition clears wake state and the pending transition.
func (f *Fixed) ClrTransition() {
	f.WakeClr()
	f.trans.Store(0)
}

// Reset writes the reset value to the reset register.
func (f *Fixed) Reset() {
	f.write(f.regs.RstReg, uint32(f.regs.RstVal))
}

// Sleep enters the given sleep state. HW-reduced platforms use the
// sleep control register; legacy platforms write the sleep type and
// the SLP_EN bit into both PM1 control registers.
func (f *Fixed) Sleep(t Transition) {
	if f.regs.SlpCnt.Valid() {
		v := (f.read(f.regs.SlpCnt) | 1<<5) &^ (7 << 2)
		f.write(f.regs.SlpCnt, v|uint32(t.ValA())<<2)
		return
	}
	v := (f.readPM1Cnt() | 1<<13) &^ (7 << 10)
	f.write(f.regs.PM1aCnt, v|uint32(t.ValA())<<10)
	f.write(f.regs.PM1bCnt, v|uint32(t.ValB())<<10)
}

// WakeClr clears pending wake bits: the WAK status bit and, on legacy
// platforms, every GPE enable/status register.
func (f *Fixed) WakeClr() {
	if f.regs.SlpSts.Valid() {
		f.write(f.regs.SlpSts, 1<<7)
		return
	}
	f.writePM1Ena(0)
	f.writePM1Sts(1<<15 | f.readPM1Sts()&(7<<8))

	f.writeGPE(f.regs.GPE0Ena, f.regs.GPE0Len, 0)    // clear enable bits
	f.writeGPE(f.regs.GPE0Sts, f.regs.GPE0Len, 0xff) // clear status bits
	f.writeGPE(f.regs.GPE1Ena, f.regs.GPE1Len, 0)
	f.writeGPE(f.regs.GPE1Sts, f.regs.GPE1Len, 0xff)
}

// WakeChk busy-waits on the wake status bit, bounded.
func (f *Fixed) WakeChk(limit uint) bool {
	if f.regs.SlpSts.Valid() {
		return wait.Until(limit, func() bool { return f.read(f.regs.SlpSts)&(1<<7) != 0 })
	}
	return wait.Until(limit, func() bool { return f.readPM1Sts()&(1<<15) != 0 })
}

// Delay busy-waits for the given number of milliseconds on the PM
// timer, accounting for 24-bit wraparound.
func (f *Fixed) Delay(ms uint32) {
	cnt := pmTimerFreq * ms / 1000
	val := f.read(f.regs.PMTmr)
	for (f.read(f.regs.PMTmr)-val)%pmTimerWrap < cnt {
	}
}

// Enabled reports whether the SCI_EN bit is set.
func (f *Fixed) Enabled() bool {
	return f.readPM1Cnt()&1 != 0
}

// Enable performs the ACPI-mode handshake through the SMI command
// port, then hands over P-state and C-state control when requested.
func (f *Fixed) Enable(limit uint, noCPST, noCCST bool) bool {
	scp := f.regs.SMICmd
	if scp == 0 {
		return f.Enabled()
	}
	out := func(v uint8) {
		f.io.Out(uint16(scp), 8, uint32(v))
	}

	if e := f.regs.ACPIEnable; e != 0 && !f.Enabled() {
		out(e)
		if !wait.Until(limit, f.Enabled) {
			return false
		}
	}
	if p := f.regs.PStateCnt; p != 0 && !noCPST {
		out(p)
	}
	if c := f.regs.CStateCnt; c != 0 && !noCCST {
		out(c)
	}
	return true
}
