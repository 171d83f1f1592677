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
	"hyperion.dev/hyperion/pkg/byteview"
	"hyperion.dev/hyperion/pkg/checksum"
	"hyperion.dev/hyperion/pkg/log"
)

// headerLen is the wire size of the system description table header.
const headerLen = 36

// Header is the 36-byte header every system description table begins
// with. All multi-byte fields are little-endian and unaligned.
type Header struct {
	Signature  string
	Length     uint32
	Revision   uint8
	Checksum   uint8
	OemID      string
	OemTableID string
	OemRev     uint32
	CreatorID  string
	CreatorRev uint32
}

// parseHeader decodes a table header. It fails only when the buffer
// cannot hold a header.
func parseHeader(b []byte) (Header, bool) {
	if len(b) < headerLen {
		return Header{}, false
	}
	return Header{
		Signature:  string(b[0:4]),
		Length:     byteview.LE[uint32](b, 4),
		Revision:   b[8],
		Checksum:   b[9],
		OemID:      string(b[10:16]),
		OemTableID: string(b[16:24]),
		OemRev:     byteview.LE[uint32](b, 24),
		CreatorID:  string(b[28:32]),
		CreatorRev: byteview.LE[uint32](b, 32),
	}, true
}

// Slot identifies where a validated table's physical address is
// recorded.
type Slot int

// Table slots, one per consumed signature.
const (
	SlotFADT Slot = iota
	SlotMADT
	SlotMCFG
	SlotDMAR
	SlotIORT
	SlotSRAT
	SlotSPCR
	SlotDBG2
	SlotLPIT
	SlotGTDT
	SlotHPET
	SlotTPM2
	numSlots
)

// tables is the static dispatch table: signature, minimum length and
// sink slot. A validated table whose signature is not listed here is
// ignored.
var tables = []struct {
	sig    string
	minLen uint32
	slot   Slot
}{
	{"FACP", 116, SlotFADT},
	{"APIC", 44, SlotMADT},
	{"MCFG", 44, SlotMCFG},
	{"DMAR", 48, SlotDMAR},
	{"IORT", 48, SlotIORT},
	{"SRAT", 48, SlotSRAT},
	{"SPCR", 80, SlotSPCR},
	{"DBG2", 44, SlotDBG2},
	{"LPIT", 36, SlotLPIT},
	{"GTDT", 96, SlotGTDT},
	{"HPET", 56, SlotHPET},
	{"TPM2", 52, SlotTPM2},
}

// MinLenForSig returns the declared minimum length for a signature;
// unknown signatures need only a complete header.
func MinLenForSig(sig string) uint32 {
	for _, t := range tables {
		if t.sig == sig {
			return t.minLen
		}
	}
	return headerLen
}

// validate checks a mapped table and records its physical address in
// the matching slot. A table is valid iff its declared length covers
// the minimum for its signature and the additive checksum passes. A
// valid table can replace an existing table only if override is set.
func (fw *Firmware) validate(b []byte, phys uint64, override bool) bool {
	hdr, ok := parseHeader(b)
	if !ok {
		return false
	}

	valid := hdr.Length >= MinLenForSig(hdr.Signature) && uint32(len(b)) >= hdr.Length &&
		checksum.Additive(b, int(hdr.Length)) == 0

	log.Infof("%.4s: %#010x OEM:%6.6s TBL:%8.8s REV:%2d LEN:%7d (%s)",
		hdr.Signature, phys, hdr.OemID, hdr.OemTableID, hdr.Revision, hdr.Length,
		map[bool]string{true: "ok", false: "bad"}[valid])

	if !valid {
		return false
	}
	for _, t := range tables {
		if t.sig == hdr.Signature && (override || fw.slots[t.slot] == 0) {
			fw.slots[t.slot] = phys
		}
	}
	return true
}
