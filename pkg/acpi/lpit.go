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

const lpitNative = 0

// parseLPIT records native C-state entry triggers and residency
// counters, used later to pick sleep depth. Disabled descriptors are
// skipped.
func (fw *Firmware) parseLPIT(b []byte) {
	hdr, _ := parseHeader(b)

	for off := 36; off+8 <= int(hdr.Length); {
		typ := byteview.LE[uint32](b, off)
		length := int(byteview.LE[uint32](b, off+4))
		if length == 0 || off+length > int(hdr.Length) {
			break
		}
		if typ == lpitNative && length >= 56 {
			e := b[off : off+length]
			if byteview.LE[uint32](e, 12)&1 == 0 {
				r := CStateRecord{
					Trigger:      parseGAS(e, 16),
					MinResidency: byteview.LE[uint32](e, 28),
					MaxLatency:   byteview.LE[uint32](e, 32),
					Counter:      parseGAS(e, 36),
				}
				fw.Model.CStates = append(fw.Model.CStates, r)
				log.Debugf("LPIT: Trigger:%#x/%#x Counter:%#x/%#x Residency:%dus Latency:%dus",
					r.Trigger.ASID, r.Trigger.Addr, r.Counter.ASID, r.Counter.Addr, r.MinResidency, r.MaxLatency)
			}
		}
		off += length
	}
}
