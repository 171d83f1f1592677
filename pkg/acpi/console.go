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
	"hyperion.dev/hyperion/pkg/log"
)

// DebugTypeSerial is the DBG2 port type for serial consoles; the SPCR
// describes serial consoles only.
const DebugTypeSerial = 0x8000

// parseSPCR dispatches the serial console descriptor.
func (fw *Firmware) parseSPCR(b []byte) {
	r := ConsoleRecord{
		Type:    DebugTypeSerial,
		Subtype: uint16(b[36]),
		Regs:    parseGAS(b, 40),
	}
	fw.Model.Consoles = append(fw.Model.Consoles, r)
	log.Infof("SPCR: Console %04x:%04x (%d:%#x:%d:%d)", r.Type, r.Subtype, r.Regs.ASID, r.Regs.Addr, r.Regs.Bits, r.Regs.Accs)
}

// parseDBG2 walks the debug device information stream; each entry
// carries its register GAS at a declared offset.
func (fw *Firmware) parseDBG2(b []byte) {
	hdr, _ := parseHeader(b)
	infoOff := int(byteview.LE[uint32](b, 36))

	for off := infoOff; off+22 <= int(hdr.Length); {
		length := int(byteview.LE[uint16](b, off+1))
		if length == 0 || off+length > int(hdr.Length) {
			break
		}
		e := b[off : off+length]

		regsOff := int(byteview.LE[uint16](e, 16))
		if regsOff+gasLen <= length {
			r := ConsoleRecord{
				Type:    byteview.LE[uint16](e, 10),
				Subtype: byteview.LE[uint16](e, 12),
				Regs:    parseGAS(e, regsOff),
			}
			fw.Model.Consoles = append(fw.Model.Consoles, r)
			log.Infof("DBG2: Console %04x:%04x (%d:%#x:%d:%d)", r.Type, r.Subtype, r.Regs.ASID, r.Regs.Addr, r.Regs.Bits, r.Regs.Accs)
		}
		off += length
	}
}
