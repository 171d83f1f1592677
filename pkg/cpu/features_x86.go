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

package cpu

import (
	"hyperion.dev/hyperion/pkg/cmdline"
)

// Vendor identifies the CPU manufacturer.
type Vendor uint8

const (
	// VendorUnknown is any unrecognized vendor string.
	VendorUnknown Vendor = iota

	// VendorIntel is "GenuineIntel".
	VendorIntel

	// VendorAMD is "AuthenticAMD".
	VendorAMD
)

// Feature is a flat index into the cached x86 feature words:
// word*32 + bit.
type Feature uint32

// The feature words are filled from CPUID leaves in a fixed order:
// 0: leaf 1 ECX, 1: leaf 1 EDX, 2: leaf 6 EAX, 3-5: leaf 7.0 EBX/ECX/EDX,
// 6-9: leaf 7.1 EAX-EDX, 10: leaf 7.2 EDX, 11: ext leaf 1 ECX,
// 12: ext leaf 1 EDX.
const (
	FeatureMONITOR     Feature = 0*32 + 3
	FeatureVMX         Feature = 0*32 + 5
	FeatureEIST        Feature = 0*32 + 7
	FeaturePCID        Feature = 0*32 + 17
	FeatureX2APIC      Feature = 0*32 + 21
	FeatureTSCDeadline Feature = 0*32 + 24

	FeatureACPI Feature = 1*32 + 22
	FeatureHTT  Feature = 1*32 + 28

	FeatureARAT Feature = 2*32 + 2

	FeatureFSGSBASE Feature = 3*32 + 0
	FeatureTME      Feature = 4*32 + 13
	FeatureLA57     Feature = 4*32 + 16

	FeaturePCONFIG Feature = 5*32 + 18

	FeatureSVM Feature = 11*32 + 2

	FeatureNX    Feature = 12*32 + 20
	FeatureGB    Feature = 12*32 + 26
	FeatureLM    Feature = 12*32 + 29
	Feature3DNOW Feature = 12*32 + 31
)

const featureWords = 13

// CPUID supplies raw leaf values. The native implementation executes
// the instruction; tests provide canned leaves.
type CPUID interface {
	Query(leaf, sub uint32) (eax, ebx, ecx, edx uint32)
}

// FeatureSet is the decoded, cached view of what one x86 CPU supports.
type FeatureSet struct {
	words [featureWords]uint32

	Vendor   Vendor
	Family   uint
	Model    uint
	Stepping uint

	// CacheLine is the cache line size in bytes.
	CacheLine uint

	// Topology layers: thread, core, module, package shares of the
	// x2APIC id, lowest first.
	Topology [4]uint32

	// Clk is the crystal clock in Hz, Rat the TSC/crystal ratio; the
	// TSC frequency is Clk*Rat when both are known.
	Clk uint32
	Rat uint32

	// CStates is the MWAIT sub-state word from leaf 5.
	CStates uint32
}

// Has returns whether the feature bit is set.
func (fs *FeatureSet) Has(f Feature) bool {
	return fs.words[f/32]>>(f%32)&1 != 0
}

// Defeature clears a feature bit. Downgrades are applied before any
// consumer reads the view.
func (fs *FeatureSet) Defeature(f Feature) {
	fs.words[f/32] &^= 1 << (f % 32)
}

// ApplyCmdline downgrades the feature view per operator options.
func (fs *FeatureSet) ApplyCmdline(o cmdline.Options) {
	if o.NoDL {
		fs.Defeature(FeatureTSCDeadline)
	}
	if o.NoPCID {
		fs.Defeature(FeaturePCID)
	}
	if o.NoMKTME {
		fs.Defeature(FeaturePCONFIG)
		fs.Defeature(FeatureTME)
	}
}

var vendorStrings = map[[12]byte]Vendor{
	{'G', 'e', 'n', 'u', 'i', 'n', 'e', 'I', 'n', 't', 'e', 'l'}: VendorIntel,
	{'A', 'u', 't', 'h', 'e', 'n', 't', 'i', 'c', 'A', 'M', 'D'}: VendorAMD,
}

func vendorID(ebx, edx, ecx uint32) [12]byte {
	var v [12]byte
	for i, w := range []uint32{ebx, edx, ecx} {
		v[4*i+0] = byte(w)
		v[4*i+1] = byte(w >> 8)
		v[4*i+2] = byte(w >> 16)
		v[4*i+3] = byte(w >> 24)
	}
	return v
}

// Enumerate decodes the feature words, signature, topology and clocks
// from CPUID.
func Enumerate(c CPUID) FeatureSet {
	var fs FeatureSet

	maxLeaf, ebx, ecx, edx := c.Query(0, 0)
	fs.Vendor = vendorStrings[vendorID(ebx, edx, ecx)]

	if maxLeaf >= 1 {
		eax, ebx, ecx, edx := c.Query(1, 0)
		fs.words[0] = ecx
		fs.words[1] = edx
		fs.Family = uint(eax>>8&0xf) + uint(eax>>20&0xff)
		fs.Model = uint(eax>>4&0xf) + uint(eax>>12&0xf0)
		fs.Stepping = uint(eax & 0xf)
		fs.CacheLine = 8 * uint(ebx>>8&0xff)
	}
	if maxLeaf >= 5 {
		_, _, _, edx := c.Query(5, 0)
		fs.CStates = edx
	}
	if maxLeaf >= 6 {
		eax, _, _, _ := c.Query(6, 0)
		fs.words[2] = eax
	}
	if maxLeaf >= 7 {
		_, ebx, ecx, edx := c.Query(7, 0)
		fs.words[3], fs.words[4], fs.words[5] = ebx, ecx, edx
		eax, ebx, ecx, edx := c.Query(7, 1)
		fs.words[6], fs.words[7], fs.words[8], fs.words[9] = eax, ebx, ecx, edx
		_, _, _, edx = c.Query(7, 2)
		fs.words[10] = edx
	}
	if maxLeaf >= 0xb {
		enumerateTopology(c, 0xb, &fs.Topology)
	}
	if maxLeaf >= 0x15 {
		eax, ebx, ecx, _ := c.Query(0x15, 0)
		fs.Clk = ecx
		if eax != 0 {
			fs.Rat = ebx / eax
		}
	}
	if maxLeaf >= 0x1f {
		enumerateTopology(c, 0x1f, &fs.Topology)
	}

	maxExt, _, _, _ := c.Query(0x80000000, 0)
	if maxExt&0x80000000 != 0 && maxExt >= 0x80000001 {
		_, _, ecx, edx := c.Query(0x80000001, 0)
		fs.words[11] = ecx
		fs.words[12] = edx
	}

	enumerateClocks(c, &fs)

	return fs
}

// enumerateTopology splits the extended topology leaf into per-layer
// shares of the x2APIC id.
func enumerateTopology(c CPUID, leaf uint32, lvl *[4]uint32) {
	var topology uint32
	var shift uint32
	for i := 0; i < len(lvl); i++ {
		eax, ebx, _, edx := c.Query(leaf, uint32(i))
		if ebx != 0 {
			b := eax & 0x1f
			topology = edx
			lvl[i] = (topology &^ (^uint32(0) << b)) >> shift
			shift = b
			continue
		}
		if i > 0 {
			lvl[i] = topology >> shift
		}
		break
	}
}
