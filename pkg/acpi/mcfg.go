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

// mcfgQuirk disables ECAM for (oem, table, segment-mask) combinations
// known broken.
type mcfgQuirk struct {
	oem string
	tbl string
	seg uint64
}

const allSegments = ^uint64(0)

var mcfgQuirks = []mcfgQuirk{
	{"NVIDIA", "TEGRA194", allSegments},
}

// parseMCFG records the per-segment ECAM windows.
func (fw *Firmware) parseMCFG(b []byte) {
	hdr, _ := parseHeader(b)

	for off := 44; off+16 <= int(hdr.Length); off += 16 {
		seg := PCISegment{
			Phys:     byteview.LE[uint64](b, off),
			Group:    byteview.LE[uint16](b, off+8),
			StartBus: b[off+10],
			EndBus:   b[off+11],
		}

		for _, q := range mcfgQuirks {
			if q.oem == hdr.OemID[:len(q.oem)] && q.tbl == hdr.OemTableID[:len(q.tbl)] && q.seg&(1<<(seg.Group&63)) != 0 {
				seg.Unusable = true
			}
		}

		if seg.Unusable {
			log.Warningf("MCFG: PCI Segment %#x unusable", seg.Group)
		} else {
			log.Infof("MCFG: Bus %#04x-%#04x", seg.StartBus, seg.EndBus)
		}
		fw.Model.Segments = append(fw.Model.Segments, seg)
	}
}
