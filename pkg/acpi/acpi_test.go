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
	"testing"

	"github.com/google/go-cmp/cmp"
	"hyperion.dev/hyperion/pkg/byteview"
	"hyperion.dev/hyperion/pkg/checksum"
	"hyperion.dev/hyperion/pkg/cmdline"
)

// sparseMemory fakes physical memory with canned regions.
type sparseMemory map[uint64][]byte

func (m sparseMemory) View(phys, length uint64) ([]byte, bool) {
	for base, b := range m {
		if phys >= base && phys+length <= base+uint64(len(b)) {
			return b[phys-base : phys-base+length], true
		}
	}
	return nil, false
}

// fixChecksum makes the additive sum over the buffer zero via the byte
// at the given offset.
func fixChecksum(b []byte, at int) {
	b[at] = 0
	b[at] = -checksum.Additive(b, len(b))
}

// makeTable builds a table with a valid header and checksum.
func makeTable(sig string, body []byte) []byte {
	b := make([]byte, headerLen+len(body))
	copy(b[0:4], sig)
	byteview.PutLE(b, 4, uint32(len(b)))
	b[8] = 2
	copy(b[10:16], "HYPER ")
	copy(b[16:24], "HYPERION")
	copy(b[28:32], "HYPR")
	copy(b[headerLen:], body)
	fixChecksum(b, 9)
	return b
}

// makeRSDP builds a revision-2 RSDP pointing at an XSDT.
func makeRSDP(xsdt uint64) []byte {
	b := make([]byte, rsdpLen)
	copy(b[0:8], "RSD PTR ")
	b[15] = 2
	byteview.PutLE(b, 20, uint32(rsdpLen))
	byteview.PutLE(b, 24, xsdt)
	// Legacy checksum covers the first 20 bytes, the extended checksum
	// the full structure.
	b[8] = -checksum.Additive(b, 20)
	fixChecksum(b, 32)
	return b
}

// makeXSDT builds an XSDT referencing the given physical addresses.
func makeXSDT(entries ...uint64) []byte {
	body := make([]byte, 8*len(entries))
	for i, e := range entries {
		byteview.PutLE(body, 8*i, e)
	}
	return makeTable("XSDT", body)
}

func TestRSDPDiscovery(t *testing.T) {
	const rsdpPhys = 0x000f6420
	const xsdtPhys = 0x7fee0000

	mem := sparseMemory{
		rsdpPhys: makeRSDP(xsdtPhys),
		xsdtPhys: makeXSDT(),
	}

	fw := New(mem, cmdline.Options{})
	if !fw.Init(rsdpPhys) {
		t.Fatal("Init failed")
	}
}

func TestRSDPScan(t *testing.T) {
	const xsdtPhys = 0x7fee0000

	// The RSDP sits on a 16-byte boundary in the BIOS read-only area.
	bios := make([]byte, 0x20000)
	copy(bios[0x6420:], makeRSDP(xsdtPhys))

	mem := sparseMemory{
		0x0:      make([]byte, 0x1000), // EBDA pointer reads as zero
		0xe0000:  bios,
		xsdtPhys: makeXSDT(),
	}

	fw := New(mem, cmdline.Options{})
	if !fw.Init(0) {
		t.Fatal("Init failed")
	}
}

func TestRSDPBadChecksum(t *testing.T) {
	const rsdpPhys = 0xf6420
	r := makeRSDP(0x1000)
	r[33]++ // trailing reserved byte breaks the extended checksum

	fw := New(sparseMemory{rsdpPhys: r}, cmdline.Options{})
	if fw.Init(rsdpPhys) {
		t.Fatal("Init accepted a corrupt RSDP")
	}
}

// madtBody assembles an MADT body from controller entries.
func madtBody(entries ...[]byte) []byte {
	body := make([]byte, 8)
	for _, e := range entries {
		body = append(body, e...)
	}
	return body
}

func lapicEntry(uid, id uint8, flags uint32) []byte {
	e := make([]byte, 8)
	e[0], e[1], e[2], e[3] = madtLAPIC, 8, uid, id
	byteview.PutLE(e, 4, flags)
	return e
}

func TestMADTCPUEnumeration(t *testing.T) {
	const madtPhys = 0x7fee1000

	madt := makeTable("APIC", madtBody(
		lapicEntry(0, 0, 1),
		lapicEntry(1, 2, 1),
		lapicEntry(2, 3, 0), // not usable
	))

	mem := sparseMemory{
		0x100:    makeRSDP(0x7fee0000),
		0x7fee0000: makeXSDT(madtPhys),
		madtPhys: madt,
	}

	fw := New(mem, cmdline.Options{})
	if !fw.Init(0x100) {
		t.Fatal("Init failed")
	}

	want := []CPURecord{
		{UID: 0, FirmwareID: 0},
		{UID: 1, FirmwareID: 2},
	}
	if diff := cmp.Diff(want, fw.Model.CPUs); diff != "" {
		t.Errorf("CPUs mismatch (-want +got):\n%s", diff)
	}
}

// A zero-length sub-entry terminates its stream without an infinite
// loop, and parsing halts within the declared length regardless of
// entry-length fields.
func TestParserTermination(t *testing.T) {
	body := madtBody(
		lapicEntry(0, 0, 1),
		[]byte{madtLAPIC, 0}, // zero length terminates
		lapicEntry(1, 1, 1),  // unreachable
	)
	madt := makeTable("APIC", body)

	fw := New(sparseMemory{}, cmdline.Options{})
	fw.parseMADT(madt)
	if len(fw.Model.CPUs) != 1 {
		t.Errorf("CPUs = %d, want 1 (stream terminated)", len(fw.Model.CPUs))
	}

	// An entry length overrunning the table is rejected.
	over := makeTable("APIC", madtBody([]byte{madtLAPIC, 0xff, 0, 0, 1, 0, 0, 0}))
	fw = New(sparseMemory{}, cmdline.Options{})
	fw.parseMADT(over)
	if len(fw.Model.CPUs) != 0 {
		t.Errorf("CPUs = %d, want 0 (overrun rejected)", len(fw.Model.CPUs))
	}
}

func TestValidate(t *testing.T) {
	fw := New(sparseMemory{}, cmdline.Options{})

	good := makeTable("APIC", make([]byte, 8))
	if !fw.validate(good, 0x1000, false) {
		t.Error("valid table rejected")
	}
	if !fw.HasTable(SlotMADT) {
		t.Error("valid table not recorded")
	}

	// A second table does not replace the slot without override.
	fw.validate(good, 0x2000, false)
	if fw.slots[SlotMADT] != 0x1000 {
		t.Error("slot replaced without override")
	}
	fw.validate(good, 0x2000, true)
	if fw.slots[SlotMADT] != 0x2000 {
		t.Error("override did not replace slot")
	}

	bad := makeTable("APIC", make([]byte, 8))
	bad[20]++ // break the checksum
	fw2 := New(sparseMemory{}, cmdline.Options{})
	if fw2.validate(bad, 0x1000, false) {
		t.Error("corrupt table accepted")
	}

	// Shorter than the declared minimum for its signature: invalid
	// even with a correct checksum.
	short := makeTable("GTDT", make([]byte, 4))
	fw3 := New(sparseMemory{}, cmdline.Options{})
	if fw3.validate(short, 0x1000, false) {
		t.Error("short table validated")
	}
	if fw3.HasTable(SlotGTDT) {
		t.Error("short table recorded")
	}
}

// A header-only table with a correct checksum must fail validation;
// it would otherwise reach a parser whose fixed-offset reads run past
// the body.
func TestValidateBlobShortTable(t *testing.T) {
	headerOnly := makeTable("APIC", nil)

	fw := New(sparseMemory{}, cmdline.Options{})
	if fw.ValidateBlob(headerOnly) {
		t.Fatal("ValidateBlob accepted a header-only MADT")
	}

	// The full-length round trip still works.
	full := makeTable("APIC", madtBody(lapicEntry(0, 0, 1)))
	fw2 := New(sparseMemory{}, cmdline.Options{})
	if !fw2.ValidateBlob(full) {
		t.Fatal("ValidateBlob rejected a well-formed MADT")
	}
	fw2.ParseBlob(full)
	if len(fw2.Model.CPUs) != 1 {
		t.Errorf("CPUs = %d, want 1", len(fw2.Model.CPUs))
	}
}

func TestMCFGQuirk(t *testing.T) {
	body := make([]byte, 8+16)
	byteview.PutLE(body, 8, uint64(0xb0000000))
	byteview.PutLE(body, 16, uint16(0))
	body[18], body[19] = 0, 0xff

	tbl := makeTable("MCFG", body)
	copy(tbl[10:16], "NVIDIA")
	copy(tbl[16:24], "TEGRA194")
	fixChecksum(tbl, 9)

	fw := New(sparseMemory{}, cmdline.Options{})
	fw.parseMCFG(tbl)
	if len(fw.Model.Segments) != 1 || !fw.Model.Segments[0].Unusable {
		t.Errorf("quirk did not disable segment: %+v", fw.Model.Segments)
	}

	// The same table from another OEM is usable.
	tbl2 := makeTable("MCFG", body)
	fw2 := New(sparseMemory{}, cmdline.Options{})
	fw2.parseMCFG(tbl2)
	if len(fw2.Model.Segments) != 1 || fw2.Model.Segments[0].Unusable {
		t.Errorf("segment wrongly disabled: %+v", fw2.Model.Segments)
	}
}

func TestGTDT(t *testing.T) {
	body := make([]byte, 60)
	byteview.PutLE(body, 64-headerLen, uint32(27)) // EL1 virtual GSI
	byteview.PutLE(body, 68-headerLen, uint32(1))  // edge
	byteview.PutLE(body, 72-headerLen, uint32(26)) // EL2 physical GSI
	byteview.PutLE(body, 76-headerLen, uint32(0))  // level

	fw := New(sparseMemory{}, cmdline.Options{})
	fw.parseGTDT(makeTable("GTDT", body))

	want := TimerRecord{PPIEL2P: 10, PPIEL1V: 11, LevelEL2P: true, LevelEL1V: false}
	if fw.Model.Timer != want {
		t.Errorf("Timer = %+v, want %+v", fw.Model.Timer, want)
	}
}

func TestDMARNoSMMU(t *testing.T) {
	body := make([]byte, 12+16)
	body[1] = 1 << 0 // ignored flags
	// One DRHD at offset 48-36=12.
	byteview.PutLE(body, 12, uint16(dmarDRHD))
	byteview.PutLE(body, 14, uint16(16))
	byteview.PutLE(body, 12+6, uint16(0))
	byteview.PutLE(body, 12+8, uint64(0xfed90000))

	tbl := makeTable("DMAR", body)

	fw := New(sparseMemory{}, cmdline.Options{})
	fw.parseDMAR(tbl)
	if len(fw.Model.IOMMUs) != 1 || fw.Model.IOMMUs[0].Phys != 0xfed90000 {
		t.Errorf("IOMMUs = %+v", fw.Model.IOMMUs)
	}

	fw2 := New(sparseMemory{}, cmdline.Parse("nosmmu"))
	fw2.parseDMAR(tbl)
	if len(fw2.Model.IOMMUs) != 0 {
		t.Error("nosmmu did not suppress remapping units")
	}
}
