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

// Package acpi discovers the platform from the static ACPI tables.
//
// Discovery runs single-threaded on the boot CPU: the RSDP is located,
// the XSDT (or RSDT) validated, every referenced table validated and
// recorded in its slot, and a second phase parses each slot into the
// internal Model. Invalid tables are ignored; discovery continues with
// whatever the firmware got right.
package acpi

import (
	"hyperion.dev/hyperion/pkg/byteview"
	"hyperion.dev/hyperion/pkg/cmdline"
	"hyperion.dev/hyperion/pkg/log"
)

// Memory provides read-only views of physical memory. The boot path
// backs it with the master page table; tests with canned regions.
type Memory interface {
	// View returns the bytes at [phys, phys+length), or false when the
	// range is not mapped.
	View(phys, length uint64) ([]byte, bool)
}

// Firmware is the table discovery state.
type Firmware struct {
	mem   Memory
	opts  cmdline.Options
	slots [numSlots]uint64

	// Model is the parsed platform description.
	Model Model

	// Fixed is the fixed-hardware register set from the FADT.
	Fixed FixedRegs

	// Resume is the wake vector on resume from sleep, zero on cold
	// boot.
	Resume uint64

	facsPhys uint64
}

// New returns a parser reading physical memory through mem.
func New(mem Memory, opts cmdline.Options) *Firmware {
	return &Firmware{mem: mem, opts: opts}
}

// view maps a table: first the header to learn the length, then the
// full body. Every body access is bounded by the validated length.
func (fw *Firmware) view(phys uint64) ([]byte, bool) {
	hb, ok := fw.mem.View(phys, headerLen)
	if !ok {
		return nil, false
	}
	hdr, ok := parseHeader(hb)
	if !ok || hdr.Length < headerLen {
		return nil, false
	}
	return fw.mem.View(phys, uint64(hdr.Length))
}

// Init discovers the platform. rsdpHint is the firmware-handed RSDP
// address (ARM, EFI) or zero to search low memory.
func (fw *Firmware) Init(rsdpHint uint64) bool {
	rsdp, ok := fw.findRSDP(rsdpHint)
	if !ok {
		log.Warningf("RSDP: not found")
		return false
	}

	if rsdp.XSDTPhys != 0 {
		fw.parseRoot(rsdp.XSDTPhys, 8)
	} else if rsdp.RSDTPhys != 0 {
		fw.parseRoot(uint64(rsdp.RSDTPhys), 4)
	} else {
		return false
	}

	// Second phase: parse each recorded slot. The FADT runs first
	// because it chains the FACS.
	type parser struct {
		slot Slot
		fn   func(*Firmware, []byte)
	}
	for _, p := range []parser{
		{SlotFADT, (*Firmware).parseFADT},
		{SlotMADT, (*Firmware).parseMADT},
		{SlotMCFG, (*Firmware).parseMCFG},
		{SlotDMAR, (*Firmware).parseDMAR},
		{SlotIORT, (*Firmware).parseIORT},
		{SlotSRAT, (*Firmware).parseSRAT},
		{SlotSPCR, (*Firmware).parseSPCR},
		{SlotDBG2, (*Firmware).parseDBG2},
		{SlotLPIT, (*Firmware).parseLPIT},
		{SlotGTDT, (*Firmware).parseGTDT},
		{SlotHPET, (*Firmware).parseHPET},
		{SlotTPM2, (*Firmware).parseTPM2},
	} {
		phys := fw.slots[p.slot]
		if phys == 0 {
			continue
		}
		if b, ok := fw.view(phys); ok {
			p.fn(fw, b)
		}
	}

	fw.parseFACS()
	return true
}

// ValidateBlob checks a single in-memory table: the signature's
// minimum length and the checksum. Offline tooling uses it on table
// dumps; ParseBlob must only see bodies that passed it.
func (fw *Firmware) ValidateBlob(b []byte) bool {
	return fw.validate(b, 0, true)
}

// ParseBlob dispatches one validated table body to its parser by
// signature. The caller guards with ValidateBlob, which bounds every
// fixed-offset access the parsers make.
func (fw *Firmware) ParseBlob(b []byte) {
	hdr, ok := parseHeader(b)
	if !ok {
		return
	}
	switch hdr.Signature {
	case "FACP":
		fw.parseFADT(b)
	case "APIC":
		fw.parseMADT(b)
	case "MCFG":
		fw.parseMCFG(b)
	case "DMAR":
		fw.parseDMAR(b)
	case "IORT":
		fw.parseIORT(b)
	case "SRAT":
		fw.parseSRAT(b)
	case "SPCR":
		fw.parseSPCR(b)
	case "DBG2":
		fw.parseDBG2(b)
	case "LPIT":
		fw.parseLPIT(b)
	case "GTDT":
		fw.parseGTDT(b)
	case "HPET":
		fw.parseHPET(b)
	case "TPM2":
		fw.parseTPM2(b)
	}
}

// HasTable reports whether a slot was filled during discovery.
func (fw *Firmware) HasTable(s Slot) bool {
	return fw.slots[s] != 0
}

// parseRoot walks the XSDT (8-byte entries) or RSDT (4-byte entries)
// and validates every referenced table.
func (fw *Firmware) parseRoot(phys uint64, entrySize int) {
	b, ok := fw.view(phys)
	if !ok {
		return
	}
	hdr, _ := parseHeader(b)
	if !fw.validateRoot(b, phys) {
		return
	}
	for off := headerLen; off+entrySize <= int(hdr.Length); off += entrySize {
		var p uint64
		if entrySize == 8 {
			p = byteview.LE[uint64](b, off)
		} else {
			p = uint64(byteview.LE[uint32](b, off))
		}
		if p == 0 {
			continue
		}
		if tb, ok := fw.view(p); ok {
			fw.validate(tb, p, false)
		}
	}
}

// validateRoot checks the root table itself (length and checksum) but
// records no slot.
func (fw *Firmware) validateRoot(b []byte, phys uint64) bool {
	hdr, ok := parseHeader(b)
	if !ok {
		return false
	}
	sig := hdr.Signature
	if sig != "XSDT" && sig != "RSDT" {
		return false
	}
	return fw.validate(b, phys, false)
}
