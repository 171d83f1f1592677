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

package pagetables

import "hyperion.dev/hyperion/pkg/paging"

// x86-64 long-mode PTE bits.
const (
	hptP  = 1 << 0  // present
	hptW  = 1 << 1  // writable
	hptU  = 1 << 2  // user
	hptA  = 1 << 5  // accessed
	hptD  = 1 << 6  // dirty
	hptS  = 1 << 7  // superpage
	hptG  = 1 << 8  // global
	hptK  = 1 << 9  // kernel memory (software)
	hptNX = 1 << 63 // not executable

	// The encryption key id occupies the upper physical-address bits.
	hptKeyShift = 46
	hptKeyBits  = 6

	hptAddrMask = (uint64(1)<<hptKeyShift - 1) &^ 0xfff
)

// Hpt is the host (stage-1) translation regime on x86-64: four levels,
// nine bits per level, 48 input bits.
type Hpt struct{}

// Config implements Arch.Config.
func (Hpt) Config() Config {
	return Config{Levels: 4, BitsPerLevel: 9, PageBits: 12, InputBits: 48}
}

// LeafAttr implements Arch.LeafAttr.
func (Hpt) LeafAttr(level uint, pm paging.Permissions, ma paging.Memattr) uint64 {
	if pm&paging.API == 0 {
		return 0
	}
	var attr uint64 = hptA | hptP
	if pm&(paging.SS|paging.W) != 0 {
		attr |= hptD
	}
	if pm&paging.W != 0 {
		attr |= hptW
	}
	if pm&paging.U != 0 {
		attr |= hptU
	}
	if pm&paging.G != 0 {
		attr |= hptG
	}
	if pm&paging.K != 0 {
		attr |= hptK
	}
	if pm&(paging.XS|paging.XU) == 0 {
		attr |= hptNX
	}
	if level > 0 {
		attr |= hptS
	}
	cache := uint64(ma.Cache)
	attr |= (cache & 3) << 3
	if level > 0 {
		attr |= (cache & 4) << 10 // PAT bit 12 for superpages
	} else {
		attr |= (cache & 4) << 5 // PAT bit 7 for 4K pages
	}
	attr |= uint64(ma.Key&(1<<hptKeyBits-1)) << hptKeyShift
	return attr
}

// LeafPerms implements Arch.LeafPerms.
func (Hpt) LeafPerms(pte uint64) paging.Permissions {
	if pte == 0 {
		return paging.None
	}
	var pm paging.Permissions
	if pte&hptP != 0 {
		pm |= paging.R
	}
	if pte&hptW != 0 {
		pm |= paging.W
	}
	if pte&hptU != 0 {
		pm |= paging.U
	}
	if pte&hptG != 0 {
		pm |= paging.G
	}
	if pte&hptK != 0 {
		pm |= paging.K
	}
	if pte&hptNX == 0 {
		pm |= paging.XS | paging.XU
	}
	return pm
}

// LeafMemattr implements Arch.LeafMemattr.
func (Hpt) LeafMemattr(level uint, pte uint64) paging.Memattr {
	cache := paging.Cache(pte >> 3 & 3)
	if level > 0 {
		cache |= paging.Cache(pte >> 10 & 4)
	} else {
		cache |= paging.Cache(pte >> 5 & 4)
	}
	return paging.Memattr{
		Cache: cache,
		Key:   uint16(pte >> hptKeyShift & (1<<hptKeyBits - 1)),
	}
}

// TableAttr implements Arch.TableAttr.
func (Hpt) TableAttr() uint64 {
	return hptA | hptU | hptW | hptP
}

// IsPresent implements Arch.IsPresent.
func (Hpt) IsPresent(pte uint64) bool {
	return pte&hptP != 0
}

// IsLeaf implements Arch.IsLeaf.
func (Hpt) IsLeaf(level uint, pte uint64) bool {
	return level == 0 || pte&hptS != 0
}

// Addr implements Arch.Addr.
func (Hpt) Addr(pte uint64) uint64 {
	return pte & hptAddrMask
}

// VT-d second-level (stage-2 DMA) PTE bits.
const (
	vtdR = 1 << 0 // read
	vtdW = 1 << 1 // write
	vtdX = 1 << 2 // execute
	vtdS = 1 << 7 // superpage

	vtdCacheShift = 3
	vtdKeyShift   = 46
	vtdKeyBits    = 6

	vtdAddrMask = (uint64(1)<<vtdKeyShift - 1) &^ 0xfff
)

// Vtd is the DMA (stage-2) translation regime behind the Intel
// remapping engine: same geometry as the host tables, read/write/
// execute-only permissions.
type Vtd struct{}

// Config implements Arch.Config.
func (Vtd) Config() Config {
	return Config{Levels: 4, BitsPerLevel: 9, PageBits: 12, InputBits: 48}
}

// LeafAttr implements Arch.LeafAttr.
func (Vtd) LeafAttr(level uint, pm paging.Permissions, ma paging.Memattr) uint64 {
	if pm&paging.API == 0 {
		return 0
	}
	var attr uint64
	if pm&paging.R != 0 {
		attr |= vtdR
	}
	if pm&paging.W != 0 {
		attr |= vtdW
	}
	if pm&(paging.XS|paging.XU) != 0 {
		attr |= vtdX
	}
	if level > 0 {
		attr |= vtdS
	}
	attr |= uint64(ma.Cache&7) << vtdCacheShift
	attr |= uint64(ma.Key&(1<<vtdKeyBits-1)) << vtdKeyShift
	return attr
}

// LeafPerms implements Arch.LeafPerms.
func (Vtd) LeafPerms(pte uint64) paging.Permissions {
	var pm paging.Permissions
	if pte&vtdR != 0 {
		pm |= paging.R
	}
	if pte&vtdW != 0 {
		pm |= paging.W
	}
	if pte&vtdX != 0 {
		pm |= paging.XS | paging.XU
	}
	return pm
}

// LeafMemattr implements Arch.LeafMemattr.
func (Vtd) LeafMemattr(level uint, pte uint64) paging.Memattr {
	return paging.Memattr{
		Cache: paging.Cache(pte >> vtdCacheShift & 7),
		Key:   uint16(pte >> vtdKeyShift & (1<<vtdKeyBits - 1)),
	}
}

// TableAttr implements Arch.TableAttr.
func (Vtd) TableAttr() uint64 {
	return vtdR | vtdW | vtdX
}

// IsPresent implements Arch.IsPresent.
func (Vtd) IsPresent(pte uint64) bool {
	return pte&(vtdR|vtdW|vtdX) != 0
}

// IsLeaf implements Arch.IsLeaf.
func (Vtd) IsLeaf(level uint, pte uint64) bool {
	return level == 0 || pte&vtdS != 0
}

// Addr implements Arch.Addr.
func (Vtd) Addr(pte uint64) uint64 {
	return pte & vtdAddrMask
}
