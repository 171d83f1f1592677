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

// 5.2.12: interrupt controller structure types.
const (
	madtLAPIC  = 0
	madtIOAPIC = 1
	madtX2APIC = 9
	madtGICC   = 11
	madtGICD   = 12
	madtGMSI   = 13
	madtGICR   = 14
	madtGITS   = 15
)

// parseMADT walks the interrupt controller stream. Unknown entry types
// are skipped by their declared length; a zero-length entry terminates
// the stream.
func (fw *Firmware) parseMADT(b []byte) {
	hdr, _ := parseHeader(b)

	if byteview.LE[uint32](b, 40)&1 != 0 {
		fw.Model.PICPresent = true
	}

	// 32-bit local interrupt controller address; a GICC structure
	// overrides it with a 64-bit address on ARM.
	fw.Model.GICC = uint64(byteview.LE[uint32](b, 36))

	for off := 44; off+2 <= int(hdr.Length); {
		typ, length := b[off], int(b[off+1])
		if length == 0 || off+length > int(hdr.Length) {
			break
		}
		e := b[off : off+length]

		switch typ {
		case madtLAPIC:
			if length >= 8 {
				fw.parseLAPIC(e)
			}
		case madtX2APIC:
			if length >= 16 {
				fw.parseX2APIC(e)
			}
		case madtIOAPIC:
			if length >= 12 {
				fw.parseIOAPIC(e)
			}
		case madtGICC:
			if length >= 76 {
				fw.parseGICC(e)
			}
		case madtGICD:
			if length >= 24 {
				fw.Model.GICD = GICDRecord{
					Phys:    byteview.LE[uint64](e, 8),
					Version: e[20],
				}
				log.Infof("MADT: GICD:%#010x", fw.Model.GICD.Phys)
			}
		case madtGICR:
			if length >= 16 {
				r := GICRRange{
					Phys: byteview.LE[uint64](e, 4),
					Size: byteview.LE[uint32](e, 12),
				}
				fw.Model.GICRs = append(fw.Model.GICRs, r)
				log.Infof("MADT: GICR:%#010x", r.Phys)
			}
		case madtGITS:
			if length >= 20 {
				fw.Model.GITS = append(fw.Model.GITS, GITSRecord{
					ID:   byteview.LE[uint32](e, 4),
					Phys: byteview.LE[uint64](e, 8),
				})
			}
		case madtGMSI:
			if length >= 24 {
				fw.Model.GMSI = append(fw.Model.GMSI, GMSIRecord{
					ID:       byteview.LE[uint32](e, 4),
					Phys:     byteview.LE[uint64](e, 8),
					Flags:    byteview.LE[uint32](e, 16),
					SPICount: byteview.LE[uint16](e, 20),
					SPIBase:  byteview.LE[uint16](e, 22),
				})
			}
		}
		off += length
	}
}

// parseLAPIC records a CPU when the entry is usable or online-capable.
func (fw *Firmware) parseLAPIC(e []byte) {
	if byteview.LE[uint32](e, 4)&3 == 0 {
		return
	}
	fw.Model.CPUs = append(fw.Model.CPUs, CPURecord{
		UID:        uint32(e[2]),
		FirmwareID: uint64(e[3]),
	})
}

func (fw *Firmware) parseX2APIC(e []byte) {
	if byteview.LE[uint32](e, 8)&3 == 0 {
		return
	}
	fw.Model.CPUs = append(fw.Model.CPUs, CPURecord{
		UID:        byteview.LE[uint32](e, 12),
		FirmwareID: uint64(byteview.LE[uint32](e, 4)),
	})
}

func (fw *Firmware) parseIOAPIC(e []byte) {
	r := IOAPICRecord{
		ID:      e[2],
		Phys:    uint64(byteview.LE[uint32](e, 4)),
		GSIBase: byteview.LE[uint32](e, 8),
	}
	fw.Model.IOAPICs = append(fw.Model.IOAPICs, r)
	log.Infof("MADT: IOAPIC:%#010x ID:%d GSI:%d", r.Phys, r.ID, r.GSIBase)
}

// parseGICC records a CPU with its MPIDR and redistributor, skipping
// unusable entries and those requiring the unsupported parking
// protocol.
func (fw *Firmware) parseGICC(e []byte) {
	if byteview.LE[uint32](e, 12)&1 == 0 {
		return
	}
	if byteview.LE[uint32](e, 16) != 0 { // parking protocol version
		return
	}

	if gicc := byteview.LE[uint64](e, 32); gicc != 0 {
		fw.Model.GICC = gicc
	}
	if gich := byteview.LE[uint64](e, 48); gich != 0 {
		fw.Model.GICH = gich
	}

	// MPIDR format: Aff3[39:32] Aff2[23:16] Aff1[15:8] Aff0[7:0].
	mpidr := byteview.LE[uint64](e, 68) & (0xff_0000_0000 | 0xff_ffff)

	fw.Model.CPUs = append(fw.Model.CPUs, CPURecord{
		UID:        byteview.LE[uint32](e, 8),
		FirmwareID: mpidr,
		Redist:     byteview.LE[uint64](e, 60),
	})
}
