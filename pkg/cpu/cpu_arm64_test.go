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

import "testing"

func TestNibbleFeatures(t *testing.T) {
	var f ARMFeatures
	f.CPU[0] = 0x2<<(4*uint(CPUFeatGIC)) | 0x1<<(4*uint(CPUFeatSVE))
	f.Mem[1] = 0x2 << (4 * (uint(MemFeatVMIDBits) - 16))

	if got := f.Feature(CPUFeatGIC); got != 2 {
		t.Errorf("GIC = %d, want 2", got)
	}
	if got := f.Feature(CPUFeatSVE); got != 1 {
		t.Errorf("SVE = %d, want 1", got)
	}
	if got := f.Feature(CPUFeatMTE); got != 0 {
		t.Errorf("MTE = %d, want 0", got)
	}
	if got := f.MemFeature(MemFeatVMIDBits); got != 2 {
		t.Errorf("VMIDBITS = %d, want 2", got)
	}
}

// For every discovered RES0 mask and every guest-proposed value, the
// constrained result clears hyp0 and RES0 bits and sets hyp1 bits.
func TestConstrainHCR(t *testing.T) {
	for _, res0 := range []uint64{0, 0xffff_0000_0000_0000, 1 << 31} {
		f := ARMFeatures{Res0HCR: res0}
		for _, v := range []uint64{0, ^uint64(0), 0x1234_5678_9abc_def0, Hyp0HCR, ^uint64(Hyp1HCR)} {
			got := f.ConstrainHCR(v)
			if got&(Hyp0HCR|res0) != 0 {
				t.Errorf("ConstrainHCR(%#x) = %#x: forbidden bits set", v, got)
			}
			if got&uint64(Hyp1HCR) != uint64(Hyp1HCR)&^res0 {
				t.Errorf("ConstrainHCR(%#x) = %#x: required bits missing", v, got)
			}
		}
	}
}
