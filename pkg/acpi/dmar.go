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

// DMAR remapping structure types.
const (
	dmarDRHD = 0
	dmarRMRR = 1
)

// parseDMAR records DMA remapping units and reserved memory regions.
// The nosmmu option suppresses remapping entirely; the x2APIC opt-out
// flag is honored regardless.
func (fw *Firmware) parseDMAR(b []byte) {
	hdr, _ := parseHeader(b)

	// Firmware opts out of x2APIC support.
	if byteview.LE[uint32](b, 36)>>8&3 == 3 {
		fw.Model.X2APICOptOut = true
	}

	if fw.opts.NoSMMU {
		return
	}

	for off := 48; off+4 <= int(hdr.Length); {
		typ := byteview.LE[uint16](b, off)
		length := int(byteview.LE[uint16](b, off+2))
		if length == 0 || off+length > int(hdr.Length) {
			break
		}
		e := b[off : off+length]

		switch typ {
		case dmarDRHD:
			if length >= 16 {
				fw.parseDRHD(e)
			}
		case dmarRMRR:
			if length >= 24 {
				fw.parseRMRR(e)
			}
		}
		off += length
	}
}

func (fw *Firmware) parseDRHD(e []byte) {
	r := IOMMURecord{
		IncludeAll: e[4]&1 != 0,
		Segment:    byteview.LE[uint16](e, 6),
		Phys:       byteview.LE[uint64](e, 8),
		Scopes:     parseScopes(e, 16),
	}
	fw.Model.IOMMUs = append(fw.Model.IOMMUs, r)
	log.Infof("DRHD: %#010x Seg:%d All:%v Scopes:%d", r.Phys, r.Segment, r.IncludeAll, len(r.Scopes))
}

func (fw *Firmware) parseRMRR(e []byte) {
	r := RMRRRecord{
		Segment: byteview.LE[uint16](e, 6),
		Base:    byteview.LE[uint64](e, 8),
		Limit:   byteview.LE[uint64](e, 16),
		Scopes:  parseScopes(e, 24),
	}
	fw.Model.RMRRs = append(fw.Model.RMRRs, r)
	log.Infof("RMRR: %#010x-%#010x Scopes:%d", r.Base, r.Limit, len(r.Scopes))
}

// parseScopes decodes the device scope stream following a remapping
// structure header.
func parseScopes(e []byte, off int) []Scope {
	var scopes []Scope
	for off+6 <= len(e) {
		length := int(e[off+1])
		if length < 6 || off+length > len(e) {
			break
		}
		s := Scope{
			Type: ScopeType(e[off]),
			ID:   e[off+4],
		}
		// The path is (device, function) pairs below the start bus.
		bus := e[off+5]
		if length >= 8 {
			dev, fn := e[off+6], e[off+7]
			s.BDF = uint16(bus)<<8 | uint16(dev&0x1f)<<3 | uint16(fn&7)
		}
		scopes = append(scopes, s)
		off += length
	}
	return scopes
}
