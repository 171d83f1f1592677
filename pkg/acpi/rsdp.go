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

// rsdpLen is the revision 2+ structure size; revision 0 covers the
// first 20 bytes only.
const rsdpLen = 36

// RSDP is the root system description pointer.
type RSDP struct {
	Revision uint8
	RSDTPhys uint32
	XSDTPhys uint64
}

// parseRSDP validates the signature and the revision-dependent
// checksum.
func parseRSDP(b []byte) (RSDP, bool) {
	if len(b) < 20 || string(b[0:8]) != "RSD PTR " {
		return RSDP{}, false
	}
	r := RSDP{Revision: b[15], RSDTPhys: byteview.LE[uint32](b, 16)}

	// Revision 0 checksums the first 20 bytes; revision 2+ the full
	// declared length, which also covers the XSDT pointer.
	n := 20
	if r.Revision >= 1 {
		length := int(byteview.LE[uint32](b, 20))
		if length < rsdpLen || length > len(b) {
			return RSDP{}, false
		}
		n = length
		r.XSDTPhys = byteview.LE[uint64](b, 24)
	}
	if checksum.Additive(b, n) != 0 {
		return RSDP{}, false
	}
	return r, true
}

// findRSDP locates the RSDP: at the firmware-handed address when one
// was provided, otherwise by scanning the EBDA and the BIOS read-only
// area on 16-byte boundaries.
func (fw *Firmware) findRSDP(hint uint64) (RSDP, bool) {
	if hint != 0 {
		if b, ok := fw.mem.View(hint, rsdpLen); ok {
			if r, ok := parseRSDP(b); ok {
				log.Infof("RSDP: %#010x (handoff) REV:%d XSDT:%#x", hint, r.Revision, r.XSDTPhys)
				return r, true
			}
		}
		return RSDP{}, false
	}

	// The EBDA segment pointer lives at 40:0E.
	if b, ok := fw.mem.View(0x40e, 2); ok {
		ebda := uint64(byteview.LE[uint16](b, 0)) << 4
		if r, ok := fw.scanRSDP(ebda, 0x400); ok {
			return r, true
		}
	}
	return fw.scanRSDP(0xe0000, 0x20000)
}

func (fw *Firmware) scanRSDP(base, length uint64) (RSDP, bool) {
	b, ok := fw.mem.View(base, length)
	if !ok {
		return RSDP{}, false
	}
	for off := uint64(0); off+rsdpLen <= length; off += 16 {
		if r, ok := parseRSDP(b[off:]); ok {
			log.Infof("RSDP: %#010x REV:%d XSDT:%#x", base+off, r.Revision, r.XSDTPhys)
			return r, true
		}
	}
	return RSDP{}, false
}
