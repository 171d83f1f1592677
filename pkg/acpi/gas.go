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

import "hyperion.dev/hyperion/pkg/byteview"

// ASID is the address space a generic address refers to.
type ASID uint8

// 5.2.3.2: Generic Address Structure address space ids.
const (
	ASIDMem    ASID = 0x0 // system memory space
	ASIDPIO    ASID = 0x1 // system I/O space
	ASIDPCICfg ASID = 0x2 // PCI configuration space
	ASIDEC     ASID = 0x3 // embedded controller
	ASIDSMBus  ASID = 0x4 // SMBus
	ASIDCMOS   ASID = 0x5 // system CMOS
	ASIDPCIBar ASID = 0x6 // PCI BAR
	ASIDIPMI   ASID = 0x7 // IPMI
	ASIDGPIO   ASID = 0x8 // general purpose I/O
	ASIDSerial ASID = 0x9 // generic serial bus
	ASIDPCC    ASID = 0xa // platform communication channel
	ASIDPRM    ASID = 0xb // platform runtime mechanism
	ASIDFFH    ASID = 0x7f
)

// GAS is a Generic Address Structure: a tagged address in one of
// several address spaces.
type GAS struct {
	ASID ASID
	Bits uint8 // register width; 0 means non-existent
	Offs uint8 // bit offset at the given address
	Accs uint8 // access size
	Addr uint64
}

// gasLen is the wire size of a GAS.
const gasLen = 12

// Valid returns whether the register exists.
func (g GAS) Valid() bool {
	return g.Bits != 0
}

// parseGAS decodes a GAS at offset off.
func parseGAS(b []byte, off int) GAS {
	return GAS{
		ASID: ASID(b[off]),
		Bits: b[off+1],
		Offs: b[off+2],
		Accs: b[off+3],
		Addr: byteview.LE[uint64](b, off+4),
	}
}

// combineGAS derives one register of a fixed-hardware block from the
// extended block when present, falling back to the legacy port block:
// the block holds count registers and index i is wanted.
func combineGAS(x GAS, blk uint32, blkLen uint8, count, i uint32) GAS {
	switch {
	case x.Bits != 0:
		bits := uint8(uint32(x.Bits) / count)
		return GAS{ASID: x.ASID, Bits: bits, Addr: x.Addr + uint64(bits/8*uint8(i))}
	case blk != 0:
		bits := uint8(uint32(blkLen) * 8 / count)
		return GAS{ASID: ASIDPIO, Bits: bits, Addr: uint64(blk) + uint64(bits/8*uint8(i))}
	default:
		return GAS{}
	}
}
