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

// ARM feature registers are arrays of 4-bit nibble fields. Each
// selector indexes one nibble across the register group; a value of 0
// generally means unimplemented.

// CPUFeature selects a nibble of the ID_AA64PFRx group.
type CPUFeature uint

// Selected ID_AA64PFRx fields.
const (
	CPUFeatEL0     CPUFeature = 0
	CPUFeatEL1     CPUFeature = 1
	CPUFeatEL2     CPUFeature = 2
	CPUFeatEL3     CPUFeature = 3
	CPUFeatFP      CPUFeature = 4
	CPUFeatAdvSIMD CPUFeature = 5
	CPUFeatGIC     CPUFeature = 6
	CPUFeatRAS     CPUFeature = 7
	CPUFeatSVE     CPUFeature = 8
	CPUFeatSEL2    CPUFeature = 9
	CPUFeatMPAM    CPUFeature = 10
	CPUFeatAMU     CPUFeature = 11
	CPUFeatCSV2    CPUFeature = 14
	CPUFeatCSV3    CPUFeature = 15
	CPUFeatBT      CPUFeature = 16
	CPUFeatSSBS    CPUFeature = 17
	CPUFeatMTE     CPUFeature = 18
	CPUFeatSME     CPUFeature = 22
	CPUFeatNMI     CPUFeature = 25
)

// DbgFeature selects a nibble of the ID_AA64DFRx group.
type DbgFeature uint

// Selected ID_AA64DFRx fields.
const (
	DbgFeatDebugVer    DbgFeature = 0
	DbgFeatTraceVer    DbgFeature = 1
	DbgFeatPMUVer      DbgFeature = 2
	DbgFeatBRPs        DbgFeature = 3
	DbgFeatWRPs        DbgFeature = 5
	DbgFeatPMSVer      DbgFeature = 8
	DbgFeatTraceFilt   DbgFeature = 10
	DbgFeatTraceBuffer DbgFeature = 11
)

// IsaFeature selects a nibble of the ID_AA64ISARx group.
type IsaFeature uint

// Selected ID_AA64ISARx fields.
const (
	IsaFeatAES    IsaFeature = 1
	IsaFeatSHA1   IsaFeature = 2
	IsaFeatSHA2   IsaFeature = 3
	IsaFeatCRC32  IsaFeature = 4
	IsaFeatAtomic IsaFeature = 5
	IsaFeatTME    IsaFeature = 6
	IsaFeatTLB    IsaFeature = 14
	IsaFeatRNDR   IsaFeature = 15
	IsaFeatAPA    IsaFeature = 17
	IsaFeatAPI    IsaFeature = 18
	IsaFeatGPA    IsaFeature = 22
	IsaFeatGPI    IsaFeature = 23
	IsaFeatBF16   IsaFeature = 27
	IsaFeatWFxT   IsaFeature = 32
)

// MemFeature selects a nibble of the ID_AA64MMFRx group.
type MemFeature uint

// Selected ID_AA64MMFRx fields.
const (
	MemFeatPARange  MemFeature = 0
	MemFeatASIDBits MemFeature = 1
	MemFeatTGran16  MemFeature = 5
	MemFeatTGran64  MemFeature = 6
	MemFeatTGran4   MemFeature = 7
	MemFeatECV      MemFeature = 15
	MemFeatVMIDBits MemFeature = 17
	MemFeatVH       MemFeature = 18
	MemFeatPAN      MemFeature = 21
	MemFeatXNX      MemFeature = 23
	MemFeatHCX      MemFeature = 26
	MemFeatFWB      MemFeature = 42
	MemFeatBBM      MemFeature = 45
	MemFeatE0PD     MemFeature = 47
)

// ARMFeatures caches the identification register groups of one ARM CPU.
type ARMFeatures struct {
	// MIDR and MPIDR identify the part and its affinity.
	MIDR  uint64
	MPIDR uint64

	// Feature register groups, one nibble per selector.
	CPU [3]uint64 // ID_AA64PFRx
	Dbg [2]uint64 // ID_AA64DFRx
	Isa [4]uint64 // ID_AA64ISARx
	Mem [5]uint64 // ID_AA64MMFRx

	// Res0HCR and Res0HCRX are the reserved-zero masks discovered at
	// runtime, set once in init and never mutated.
	Res0HCR  uint64
	Res0HCRX uint64
}

func nibble(words []uint64, sel uint) uint8 {
	return uint8(words[sel/16] >> (sel % 16 * 4) & 0xf)
}

// Feature returns the 4-bit ID_AA64PFRx field.
func (f *ARMFeatures) Feature(sel CPUFeature) uint8 { return nibble(f.CPU[:], uint(sel)) }

// DbgFeature returns the 4-bit ID_AA64DFRx field.
func (f *ARMFeatures) DbgFeature(sel DbgFeature) uint8 { return nibble(f.Dbg[:], uint(sel)) }

// IsaFeature returns the 4-bit ID_AA64ISARx field.
func (f *ARMFeatures) IsaFeature(sel IsaFeature) uint8 { return nibble(f.Isa[:], uint(sel)) }

// MemFeature returns the 4-bit ID_AA64MMFRx field.
func (f *ARMFeatures) MemFeature(sel MemFeature) uint8 { return nibble(f.Mem[:], uint(sel)) }

// HCR_EL2 trap-control bits.
const (
	HCRVM       = 1 << 0
	HCRSWIO     = 1 << 1
	HCRPTW      = 1 << 2
	HCRFMO      = 1 << 3
	HCRIMO      = 1 << 4
	HCRAMO      = 1 << 5
	HCRFB       = 1 << 9
	HCRBSUInner = 1 << 10
	HCRDC       = 1 << 12
	HCRTWI      = 1 << 13
	HCRTWE      = 1 << 14
	HCRTID0     = 1 << 15
	HCRTID1     = 1 << 16
	HCRTID2     = 1 << 17
	HCRTID3     = 1 << 18
	HCRTSC      = 1 << 19
	HCRTIDCP    = 1 << 20
	HCRTACR     = 1 << 21
	HCRTSW      = 1 << 22
	HCRTGE      = 1 << 27
	HCRCD       = 1 << 32
	HCRID       = 1 << 33
	HCRE2H      = 1 << 34
	HCRTLOR     = 1 << 35
	HCRTERR     = 1 << 36
	HCRAPK      = 1 << 40
	HCRNV       = 1 << 42
	HCRNV1      = 1 << 43
	HCRNV2      = 1 << 45
	HCRFIEN     = 1 << 47
	HCRENSCXT   = 1 << 53
	HCRATA      = 1 << 56
	HCRTID5     = 1 << 58
)

// hyp0HCR are trap controls that must remain clear: modes the
// hypervisor does not run in and registers it virtualizes itself.
const hyp0HCR = HCRATA | // trap GCR, RGSR, TFSR*
	HCRENSCXT | // trap SCXTNUM
	HCRFIEN | // trap ERXPFG*
	HCRNV2 |
	HCRNV1 |
	HCRNV |
	HCRAPK | // trap pointer-authentication key registers
	HCRE2H |
	HCRID |
	HCRCD |
	HCRTGE |
	HCRDC

// hyp1HCR are trap controls that must remain set: every EL1 facility
// whose unvirtualized exposure would leak side channels or let a guest
// escape confinement.
const hyp1HCR = HCRTID5 | // trap GMID
	HCRTERR | // trap error record registers
	HCRTLOR | // trap LORegion registers
	HCRTSW | // trap cache maintenance by set/way
	HCRTACR | // trap ACTLR
	HCRTIDCP | // trap S3_* implementation-defined registers
	HCRTSC | // trap SMC
	HCRTID3 | // trap ID register group 3
	HCRTID1 | // trap AIDR, REVIDR
	HCRTID0 | // trap JIDR
	HCRTWE | // trap WFE
	HCRTWI | // trap WFI
	HCRBSUInner |
	HCRFB |
	HCRAMO |
	HCRIMO |
	HCRFMO |
	HCRPTW |
	HCRSWIO |
	HCRVM

const (
	hyp0HCRX = 0
	hyp1HCRX = 0
)

// ConstrainHCR filters a guest-proposed HCR_EL2 value: bits the
// hypervisor requires stay set, bits it forbids and bits the hardware
// treats as reserved-zero stay clear.
func (f *ARMFeatures) ConstrainHCR(v uint64) uint64 {
	return (v | hyp1HCR) &^ (f.Res0HCR | hyp0HCR)
}

// ConstrainHCRX filters a guest-proposed HCRX_EL2 value.
func (f *ARMFeatures) ConstrainHCRX(v uint64) uint64 {
	return (v | hyp1HCRX) &^ (f.Res0HCRX | hyp0HCRX)
}

// Hyp0HCR and Hyp1HCR expose the constant masks for the trap-constrain
// property check.
const (
	Hyp0HCR = hyp0HCR
	Hyp1HCR = hyp1HCR
)
