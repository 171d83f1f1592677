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

const sratMemory = 1

// parseSRAT collects memory affinity regions for later NUMA hints.
// Entries with the enable bit clear are skipped with a debug line.
func (fw *Firmware) parseSRAT(b []byte) {
	hdr, _ := parseHeader(b)

	for off := 48; off+2 <= int(hdr.Length); {
		typ, length := b[off], int(b[off+1])
		if length == 0 || off+length > int(hdr.Length) {
			break
		}
		if typ == sratMemory && length >= 40 {
			e := b[off : off+length]
			if byteview.LE[uint32](e, 28)&1 != 0 {
				r := AffinityRegion{
					Domain: byteview.LE[uint32](e, 2),
					Base:   byteview.LE[uint64](e, 8),
					Size:   byteview.LE[uint64](e, 16),
				}
				fw.Model.Affinity = append(fw.Model.Affinity, r)
				log.Infof("SRAT: %#018x-%#018x Dom %d", r.Base, r.Base+r.Size, r.Domain)
			} else {
				log.Debugf("SRAT: Dom %d entry disabled", byteview.LE[uint32](e, 2))
			}
		}
		off += length
	}
}
