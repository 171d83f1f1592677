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

// Package pci models PCI addressing and the enhanced configuration
// space windows.
package pci

import "hyperion.dev/hyperion/pkg/acpi"

// SBDF packs segment group, bus, device and function.
type SBDF uint32

// Make packs an SBDF.
func Make(seg uint16, bus, dev, fn uint8) SBDF {
	return SBDF(seg)<<16 | SBDF(bus)<<8 | SBDF(dev&0x1f)<<3 | SBDF(fn&7)
}

// Seg returns the segment group.
func (d SBDF) Seg() uint16 { return uint16(d >> 16) }

// Bus returns the bus number.
func (d SBDF) Bus() uint8 { return uint8(d >> 8) }

// Dev returns the device number.
func (d SBDF) Dev() uint8 { return uint8(d>>3) & 0x1f }

// Fn returns the function number.
func (d SBDF) Fn() uint8 { return uint8(d) & 7 }

// BDF returns the bus/device/function half, the remapping source id.
func (d SBDF) BDF() uint16 { return uint16(d) }

// Segment is one usable ECAM window.
type Segment struct {
	Group    uint16
	Base     uint64
	StartBus uint8
	EndBus   uint8
}

// Size returns the window's byte size: 256 functions of 4 KiB per
// covered bus.
func (s Segment) Size() uint64 {
	return (uint64(s.EndBus) - uint64(s.StartBus) + 1) * 256 * 4096
}

// CfgAddr returns the configuration space address of a function, or
// false when the bus is outside the window.
func (s Segment) CfgAddr(d SBDF) (uint64, bool) {
	if d.Seg() != s.Group || d.Bus() < s.StartBus || d.Bus() > s.EndBus {
		return 0, false
	}
	return s.Base + uint64(d.Bus()-s.StartBus)<<20 | uint64(d.Dev())<<15 | uint64(d.Fn())<<12, true
}

// Segments collects the usable windows from discovery, skipping those
// the quirk list disabled.
func Segments(m *acpi.Model) []Segment {
	var out []Segment
	for _, s := range m.Segments {
		if s.Unusable {
			continue
		}
		out = append(out, Segment{Group: s.Group, Base: s.Phys, StartBus: s.StartBus, EndBus: s.EndBus})
	}
	return out
}

// Overlaps reports whether two windows share both the group and part
// of the bus range; firmware handing out such windows is broken.
func Overlaps(a, b Segment) bool {
	return a.Group == b.Group && a.StartBus <= b.EndBus && b.StartBus <= a.EndBus
}
