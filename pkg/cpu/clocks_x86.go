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

// MSR supplies model-specific register values. The native
// implementation executes rdmsr; tests provide canned values.
type MSR interface {
	Read(reg uint32) uint64
}

// Model-specific registers consulted for clock enumeration.
const (
	MSRPlatformInfo = 0xce
	MSRFSBFreq      = 0xcd
)

// scaleableBus is one entry of the front-side-bus frequency table:
// the bus clock is 100 MHz * m / d.
type scaleableBus struct {
	m, d uint32
}

// freqCore is indexed by the FSB_FREQ field on P-core parts.
var freqCore = []scaleableBus{
	{8, 3}, {4, 3}, {2, 1}, {5, 3}, {10, 3}, {1, 1}, {4, 1},
}

// freqAtom is indexed by the FSB_FREQ field on E-core parts.
var freqAtom = []scaleableBus{
	{5, 6}, {1, 1}, {4, 3}, {7, 6}, {4, 5}, {14, 15}, {9, 10}, {8, 9}, {10, 9},
}

// enumerateClocks fills in the crystal clock when the firmware leaves
// did not report it, using model-specific knowledge.
func enumerateClocks(c CPUID, fs *FeatureSet) {
	// CPUID leaf 0x15 reported both: nothing to do.
	if fs.Clk != 0 && fs.Rat != 0 {
		return
	}
	if fs.Vendor != VendorIntel || fs.Family != 0x6 {
		return
	}

	switch fs.Model {
	// P-core >= SKL: leaf 0x15 reports the ratio only.
	case 0xa6, 0xa5, 0x9e, 0x8e, 0x5e, 0x4e:
		fs.Clk = 24_000_000
	// E-core >= GLM: leaf 0x15 reports the ratio only.
	case 0x5f:
		fs.Clk = 25_000_000
	case 0x5c:
		fs.Clk = 19_200_000
	}
}

// EnumerateBusClocks derives clock and ratio from the scaleable-bus
// MSRs on parts that predate CPUID leaf 0x15. It is called only when
// enumeration left both values zero.
func EnumerateBusClocks(fs *FeatureSet, msr MSR) {
	if fs.Clk != 0 || fs.Vendor != VendorIntel || fs.Family != 0x6 {
		return
	}

	pick := func(freq []scaleableBus, i uint32) {
		if int(i) >= len(freq) {
			return
		}
		if d := freq[i].d; d != 0 {
			fs.Clk = 100_000_000 * freq[i].m / d
		}
		fs.Rat = uint32(msr.Read(MSRPlatformInfo) >> 8 & 0xff)
	}

	switch fs.Model {
	// P-core <= BDW: 100.00 MHz bus.
	case 0x6a, 0x55, 0x56, 0x4f, 0x3f, 0x3e, 0x2d, 0x47, 0x3d, 0x46, 0x45, 0x3c, 0x3a, 0x2a:
		pick(freqCore, 5)
	// NHM/WSM: 133.33 MHz bus.
	case 0x2f, 0x2c, 0x25, 0x2e, 0x1a, 0x1f, 0x1e:
		pick(freqCore, 1)
	// Core 2: bus encoding in FSB_FREQ.
	case 0x1d, 0x17, 0x0f:
		pick(freqCore, uint32(msr.Read(MSRFSBFreq)&7))
	// E-core <= AMT.
	case 0x4c:
		pick(freqAtom, uint32(msr.Read(MSRFSBFreq)&0xf))
	case 0x5d, 0x5a, 0x4a, 0x37:
		pick(freqAtom, uint32(msr.Read(MSRFSBFreq)&7))
	}
}
