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

//go:build arm64

package cpu

import "golang.org/x/sys/cpu"

// HostISAFeatures derives a conservative ISA feature view from the
// host's hwcap bits, for tooling that runs before (or without) access
// to the identification registers themselves. Nibble values are the
// minimum implementation level implied by the capability.
func HostISAFeatures() ARMFeatures {
	var f ARMFeatures
	set := func(sel IsaFeature, v uint64) {
		f.Isa[uint(sel)/16] |= v << (uint(sel) % 16 * 4)
	}
	if cpu.ARM64.HasPMULL {
		set(IsaFeatAES, 2)
	} else if cpu.ARM64.HasAES {
		set(IsaFeatAES, 1)
	}
	if cpu.ARM64.HasSHA1 {
		set(IsaFeatSHA1, 1)
	}
	if cpu.ARM64.HasSHA512 {
		set(IsaFeatSHA2, 2)
	} else if cpu.ARM64.HasSHA2 {
		set(IsaFeatSHA2, 1)
	}
	if cpu.ARM64.HasCRC32 {
		set(IsaFeatCRC32, 1)
	}
	if cpu.ARM64.HasATOMICS {
		set(IsaFeatAtomic, 2)
	}
	return f
}
