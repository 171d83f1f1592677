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

import "testing"

// fakePorts records port writes and serves canned reads.
type fakePorts struct {
	values map[uint16]uint32
	writes []portWrite
}

type portWrite struct {
	port uint16
	bits uint8
	v    uint32
}

func newFakePorts() *fakePorts {
	return &fakePorts{values: make(map[uint16]uint32)}
}

func (p *fakePorts) In(port uint16, bits uint8) uint32 {
	return p.values[port]
}

func (p *fakePorts) Out(port uint16, bits uint8, v uint32) {
	p.writes = append(p.writes, portWrite{port, bits, v})
	p.values[port] = v
}

func TestTransitionPacking(t *testing.T) {
	tr := NewTransition(5, 5, 0)
	if tr.State() != 5 || tr.ValA() != 5 || tr.ValB() != 0 {
		t.Errorf("Transition = %d/%d/%d, want 5/5/0", tr.State(), tr.ValA(), tr.ValB())
	}
}

// A legacy S5 entry writes the sleep type and SLP_EN into PM1a control
// at its declared port.
func TestSleepLegacy(t *testing.T) {
	regs := FixedRegs{
		PM1aSts: GAS{ASID: ASIDPIO, Bits: 16, Addr: 0x1000},
		PM1aCnt: GAS{ASID: ASIDPIO, Bits: 16, Addr: 0x1004},
	}
	io := newFakePorts()
	io.values[0x1004] = 0x0001 // SCI_EN

	f := NewFixed(regs, io)
	if !f.CanSleep() {
		t.Fatal("CanSleep = false")
	}
	if !f.Supported(NewTransition(5, 5, 0)) {
		t.Fatal("S5 unsupported")
	}

	f.Sleep(NewTransition(5, 5, 0))

	want := (uint32(0x0001)|1<<13)&^(7<<10) | 5<<10
	if len(io.writes) == 0 {
		t.Fatal("no port writes")
	}
	w := io.writes[0]
	if w.port != 0x1004 || w.bits != 16 || w.v != want {
		t.Errorf("Sleep wrote %#x to port %#x/%d, want %#x to 0x1004/16", w.v, w.port, w.bits, want)
	}
}

func TestSleepHWReduced(t *testing.T) {
	regs := FixedRegs{
		SlpCnt: GAS{ASID: ASIDPIO, Bits: 8, Addr: 0x50},
		SlpSts: GAS{ASID: ASIDPIO, Bits: 8, Addr: 0x51},
	}
	io := newFakePorts()
	f := NewFixed(regs, io)

	f.Sleep(NewTransition(5, 3, 0))
	w := io.writes[0]
	if w.port != 0x50 || w.v != 1<<5|3<<2 {
		t.Errorf("Sleep wrote %#x to %#x, want %#x to 0x50", w.v, w.port, uint32(1<<5|3<<2))
	}
}

func TestReset(t *testing.T) {
	regs := FixedRegs{
		RstReg: GAS{ASID: ASIDPIO, Bits: 8, Addr: 0xcf9},
		RstVal: 0x06,
	}
	io := newFakePorts()
	f := NewFixed(regs, io)

	if !f.CanReset() {
		t.Fatal("CanReset = false")
	}
	f.Reset()
	if len(io.writes) != 1 || io.writes[0].port != 0xcf9 || io.writes[0].v != 6 {
		t.Errorf("Reset writes = %+v", io.writes)
	}
}

func TestTransitionSerialization(t *testing.T) {
	f := NewFixed(FixedRegs{}, newFakePorts())

	if !f.SetTransition(NewTransition(5, 5, 0)) {
		t.Fatal("first transition rejected")
	}
	if f.SetTransition(NewTransition(3, 1, 0)) {
		t.Fatal("second transition accepted while one pending")
	}
	f.ClrTransition()
	if !f.SetTransition(NewTransition(3, 1, 0)) {
		t.Fatal("transition rejected after clear")
	}
}

func TestWakeClrLegacy(t *testing.T) {
	regs := FixedRegs{
		PM1aSts: GAS{ASID: ASIDPIO, Bits: 16, Addr: 0x1000},
		PM1aEna: GAS{ASID: ASIDPIO, Bits: 16, Addr: 0x1002},
		GPE0Sts: GAS{ASID: ASIDPIO, Bits: 0, Addr: 0x1080},
		GPE0Len: 0,
	}
	io := newFakePorts()
	io.values[0x1000] = 0x0700 // pending status bits 10:8

	f := NewFixed(regs, io)
	f.WakeClr()

	var enaCleared, stsWritten bool
	for _, w := range io.writes {
		if w.port == 0x1002 && w.v == 0 {
			enaCleared = true
		}
		if w.port == 0x1000 && w.v == 1<<15|0x0700 {
			stsWritten = true
		}
	}
	if !enaCleared || !stsWritten {
		t.Errorf("WakeClr writes = %+v", io.writes)
	}
}

func TestWakeChk(t *testing.T) {
	regs := FixedRegs{
		SlpSts: GAS{ASID: ASIDPIO, Bits: 8, Addr: 0x51},
	}
	io := newFakePorts()
	f := NewFixed(regs, io)

	if f.WakeChk(10) {
		t.Error("WakeChk succeeded with wake bit clear")
	}
	io.values[0x51] = 1 << 7
	if !f.WakeChk(10) {
		t.Error("WakeChk failed with wake bit set")
	}
}
