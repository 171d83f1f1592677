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

package console

import (
	"strings"
	"testing"

	"hyperion.dev/hyperion/pkg/acpi"
)

// fakeRegs is a register-level 16550 model: the FIFO drains on LSR
// reads and can be wedged to simulate a dead line.
type fakeRegs struct {
	out    []byte
	wedged bool
	lcr    uint32
}

func (f *fakeRegs) Read(reg uint8) uint32 {
	if reg == nsLSR {
		if f.wedged {
			return 0
		}
		return nsLSRTHRE | nsLSRTEMT
	}
	return 0
}

func (f *fakeRegs) Write(reg uint8, v uint32) {
	if reg == nsLCR {
		f.lcr = v
	}
	if reg == nsTHR && f.lcr&0x80 == 0 {
		f.out = append(f.out, byte(v))
	}
}

func pioGAS(port uint16) acpi.GAS {
	return acpi.GAS{ASID: acpi.ASIDPIO, Bits: 8, Addr: uint64(port)}
}

func newTestMux(regs map[uint64]*fakeRegs) (*Mux, *Uart) {
	mapper := func(r acpi.GAS) (RegIO, bool) {
		f, ok := regs[r.Addr]
		return f, ok
	}
	m := &Mux{}
	u := NewUart(NS16550{}, 0, mapper)
	m.Register(u)
	return m, u
}

// A UART bound to its port transmits the full stream; the sink stays
// enabled.
func TestTransmit(t *testing.T) {
	regs := &fakeRegs{}
	m, _ := newTestMux(map[uint64]*fakeRegs{0x3f8: regs})

	m.Bind(acpi.DebugTypeSerial, Subtype16550, pioGAS(0x3f8))
	if m.Enabled() != 1 {
		t.Fatalf("Enabled = %d, want 1", m.Enabled())
	}

	for _, c := range []byte("BOOT\n") {
		m.Putc(c)
	}
	if got := string(regs.out); got != "BOOT\n" {
		t.Errorf("transmitted %q, want %q", got, "BOOT\n")
	}
}

// A sink whose FIFO never drains exhausts its per-byte wait budget and
// moves to the dormant list; other enabled sinks continue unaffected.
func TestFailedSinkGoesDormant(t *testing.T) {
	good := &fakeRegs{}
	bad := &fakeRegs{}
	mapper := func(r acpi.GAS) (RegIO, bool) {
		if r.Addr == 0x3f8 {
			return good, true
		}
		return bad, true
	}
	m := &Mux{}
	u1 := NewUart(NS16550{}, 0, mapper)
	u2 := NewUart(NS16550{}, 0, mapper)
	m.Register(u1)
	m.Register(u2)

	m.Bind(acpi.DebugTypeSerial, Subtype16550, pioGAS(0x3f8))
	m.Bind(acpi.DebugTypeSerial, Subtype16550, pioGAS(0x2f8))
	if m.Enabled() != 2 {
		t.Fatalf("Enabled = %d, want 2", m.Enabled())
	}

	bad.wedged = true
	for _, c := range []byte("BOOT\n") {
		m.Putc(c)
	}

	if m.Enabled() != 1 {
		t.Errorf("Enabled = %d, want 1 (wedged sink dormant)", m.Enabled())
	}
	if got := string(good.out); got != "BOOT\n" {
		t.Errorf("surviving sink transmitted %q", got)
	}
}

func TestDuplicateBindRefused(t *testing.T) {
	regs := &fakeRegs{}
	mapper := func(r acpi.GAS) (RegIO, bool) { return regs, true }
	m := &Mux{}
	m.Register(NewUart(NS16550{}, 0, mapper))
	m.Register(NewUart(NS16550{}, 0, mapper))

	m.Bind(acpi.DebugTypeSerial, Subtype16550, pioGAS(0x3f8))
	m.Bind(acpi.DebugTypeSerial, Subtype16550, pioGAS(0x3f8))
	if m.Enabled() != 1 {
		t.Errorf("Enabled = %d, want 1 (duplicate refused)", m.Enabled())
	}
}

func TestBindRejectsInvalidRegs(t *testing.T) {
	m, _ := newTestMux(map[uint64]*fakeRegs{})
	m.Bind(acpi.DebugTypeSerial, Subtype16550, acpi.GAS{ASID: acpi.ASIDPIO, Bits: 4, Addr: 0x3f8})
	m.Bind(acpi.DebugTypeSerial, Subtype16550, acpi.GAS{ASID: acpi.ASIDPIO, Bits: 8, Addr: 0})
	if m.Enabled() != 0 {
		t.Errorf("Enabled = %d, want 0", m.Enabled())
	}
}

func TestSubtypeMatch(t *testing.T) {
	regs := &fakeRegs{}
	m, _ := newTestMux(map[uint64]*fakeRegs{0x3f8: regs})

	// A PL011 descriptor does not match a 16550 sink.
	m.Bind(acpi.DebugTypeSerial, SubtypePL011, pioGAS(0x3f8))
	if m.Enabled() != 0 {
		t.Errorf("Enabled = %d, want 0 (subtype mismatch)", m.Enabled())
	}
}

// A sink enabled after output started receives the buffered backlog.
func TestBacklogSync(t *testing.T) {
	regs := &fakeRegs{}
	m, _ := newTestMux(map[uint64]*fakeRegs{0x3f8: regs})

	m.Print("early %d\n", 42)
	m.Bind(acpi.DebugTypeSerial, Subtype16550, pioGAS(0x3f8))

	if got := string(regs.out); !strings.Contains(got, "early 42") {
		t.Errorf("backlog not replayed: %q", got)
	}
}

func TestNoUART(t *testing.T) {
	regs := &fakeRegs{}
	m, u := newTestMux(map[uint64]*fakeRegs{0x3f8: regs})
	u.NoUART = true

	m.Bind(acpi.DebugTypeSerial, Subtype16550, pioGAS(0x3f8))
	if m.Enabled() != 0 {
		t.Errorf("Enabled = %d, want 0 (nouart)", m.Enabled())
	}
}
