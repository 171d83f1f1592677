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

// IORT node types.
const (
	iortSMMUv12 = 3
	iortSMMUv3  = 4
)

// parseIORT collects SMMU nodes. The nosmmu option suppresses them.
func (fw *Firmware) parseIORT(b []byte) {
	if fw.opts.NoSMMU {
		return
	}
	hdr, _ := parseHeader(b)

	count := int(byteview.LE[uint32](b, 36))
	off := int(byteview.LE[uint32](b, 40))

	for i := 0; i < count && off+16 <= int(hdr.Length); i++ {
		typ := b[off]
		length := int(byteview.LE[uint16](b, off+1))
		if length == 0 || off+length > int(hdr.Length) {
			break
		}
		e := b[off : off+length]

		switch typ {
		case iortSMMUv12:
			if length >= 40 {
				r := SMMURecord{
					Phys:  byteview.LE[uint64](e, 16),
					Model: byteview.LE[uint32](e, 32),
				}
				fw.Model.SMMUs = append(fw.Model.SMMUs, r)
				log.Infof("IORT: SMMU:%#010x Model:%d", r.Phys, r.Model)
			}
		case iortSMMUv3:
			if length >= 24 {
				r := SMMURecord{
					Phys:  byteview.LE[uint64](e, 16),
					Model: ^uint32(0),
				}
				fw.Model.SMMUs = append(fw.Model.SMMUs, r)
				log.Infof("IORT: SMMUv3:%#010x", r.Phys)
			}
		}
		off += length
	}
}
