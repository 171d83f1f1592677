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

package platform

import (
	"errors"
	"testing"

	"hyperion.dev/hyperion/pkg/acpi"
	"hyperion.dev/hyperion/pkg/byteview"
	"hyperion.dev/hyperion/pkg/checksum"
	"hyperion.dev/hyperion/pkg/console"
	"hyperion.dev/hyperion/pkg/cpu"
	"hyperion.dev/hyperion/pkg/status"
)

// Physical layout of the fake firmware.
const (
	rsdpPhys = 0x000f6420
	xsdtPhys = 0x7fee0000
	madtPhys = 0x7fee1000
	fadtPhys = 0x7fee2000
	spcrPhys = 0x7fee3000
)

type memory map[uint64][]byte

func (m memory) View(phys, length uint64) ([]byte, bool) {
	for base, b := range m {
		if phys >= base && phys+length <= base+uint64(len(b)) {
			return b[phys-base : phys-base+length], true
		}
	}
	return nil, false
}

func table(sig string, body []byte) []byte {
	b := make([]byte, 36+len(body))
	copy(b[0:4], sig)
	byteview.PutLE(b, 4, uint32(len(b)))
	b[8] = 2
	copy(b[10:16], "HYPER ")
	copy(b[16:24], "HYPERION")
	copy(b[36:], body)
	b[9] = -checksum.Additive(b, len(b))
	return b
}

func rsdp() []byte {
	b := make([]byte, 36)
	copy(b[0:8], "RSD PTR ")
	b[15] = 2
	byteview.PutLE(b, 20, uint32(36))
	byteview.PutLE(b, 24, uint64(xsdtPhys))
	b[8] = -checksum.Additive(b, 20)
	b[32] = 0
	b[32] = -checksum.Additive(b, 36)
	return b
}

func xsdt() []byte {
	body := make([]byte, 24)
	byteview.PutLE(body, 0, uint64(madtPhys))
	byteview.PutLE(body, 8, uint64(fadtPhys))
	byteview.PutLE(body, 16, uint64(spcrPhys))
	return table("XSDT", body)
}

func madt() []byte {
	body := make([]byte, 8)
	for _, e := range []struct {
		uid, id byte
		flags   uint32
	}{{0, 0, 1}, {1, 2, 1}} {
		ent := make([]byte, 8)
		ent[1], ent[2], ent[3] = 8, e.uid, e.id
		byteview.PutLE(ent, 4, e.flags)
		body = append(body, ent...)
	}
	return table("APIC", body)
}

func fadt() []byte {
	body := make([]byte, 240)
	// PM1a event block at port 0x1000, 4 bytes; control at 0x1004,
	// 2 bytes.
	byteview.PutLE(body, 56-36, uint32(0x1000))
	byteview.PutLE(body, 64-36, uint32(0x1004))
	body[88-36] = 4
	body[89-36] = 2
	return table("FACP", body)
}

func spcr() []byte {
	body := make([]byte, 48)
	body[0] = 0 // 16550 compatible
	// GAS at table offset 40: PIO, 8 bits, port 0x3f8.
	body[4] = byte(acpi.ASIDPIO)
	body[5] = 8
	byteview.PutLE(body, 8, uint64(0x3f8))
	return table("SPCR", body)
}

type ports map[uint16]uint32

func (p ports) In(port uint16, bits uint8) uint32     { return p[port] }
func (p ports) Out(port uint16, bits uint8, v uint32) { p[port] = v }

// uartRegs is a permanently ready 16550.
type uartRegs struct {
	out []byte
	lcr uint32
}

func (u *uartRegs) Read(reg uint8) uint32 {
	if reg == 5 {
		return 1<<5 | 1<<6
	}
	return 0
}

func (u *uartRegs) Write(reg uint8, v uint32) {
	if reg == 3 {
		u.lcr = v
	}
	if reg == 0 && u.lcr&0x80 == 0 {
		u.out = append(u.out, byte(v))
	}
}

func testConfig(uart *uartRegs, io ports) Config {
	return Config{
		CommandLine: "nodl",
		RSDPHint:    rsdpPhys,
		Memory: memory{
			rsdpPhys: rsdp(),
			xsdtPhys: xsdt(),
			madtPhys: madt(),
			fadtPhys: fadt(),
			spcrPhys: spcr(),
		},
		Ports: io,
		UartMapper: func(r acpi.GAS) (console.RegIO, bool) {
			if r.Addr == 0x3f8 {
				return uart, true
			}
			return nil, false
		},
	}
}

func TestColdBoot(t *testing.T) {
	uart := &uartRegs{}
	p, err := New(testConfig(uart, ports{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Two usable CPUs with dense ids.
	if p.CPUs.Count() != 2 {
		t.Errorf("CPUs = %d, want 2", p.CPUs.Count())
	}
	if id, ok := p.CPUs.Lookup(2); !ok || id != 1 {
		t.Errorf("Lookup(2) = (%d, %v), want (1, true)", id, ok)
	}

	// The SPCR console bound and transmits.
	if p.Console.Enabled() != 1 {
		t.Fatalf("consoles = %d, want 1", p.Console.Enabled())
	}
	uart.out = nil
	p.Console.Print("hello\n")
	if string(uart.out) != "hello\n" {
		t.Errorf("console wrote %q", uart.out)
	}

	// Command line parsed.
	if !p.Opts.NoDL {
		t.Error("nodl not applied")
	}
}

func TestFiniSleep(t *testing.T) {
	uart := &uartRegs{}
	io := ports{0x1004: 1}
	p, err := New(testConfig(uart, io))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.Fini(acpi.NewTransition(5, 5, 0)); err != nil {
		t.Fatalf("Fini: %v", err)
	}

	// The PM1a control write carries SLP_EN and sleep type 5.
	got := io[0x1004]
	want := (uint32(1)|1<<13)&^(7<<10) | 5<<10
	if got != want {
		t.Errorf("PM1a_CNT = %#x, want %#x", got, want)
	}
}

func TestFiniUnsupported(t *testing.T) {
	p, err := New(testConfig(&uartRegs{}, ports{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// State 7 is reset; no reset register was declared.
	if err := p.Fini(acpi.NewTransition(7, 0, 0)); !errors.Is(err, status.ErrBadFtr) {
		t.Errorf("Fini = %v, want ErrBadFtr", err)
	}
}

func TestReleaseAPs(t *testing.T) {
	cfg := testConfig(&uartRegs{}, ports{})
	var ids []uint64
	cfg.Hooks.StartAP = func(id cpu.ID, fwid uint64) { ids = append(ids, fwid) }

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.ReleaseAPs()
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("started APs = %v, want [2]", ids)
	}
}
