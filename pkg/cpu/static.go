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

// StaticCPUID is a canned set of CPUID leaves, keyed by
// leaf<<32 | subleaf. It backs tests and offline decoding of leaf
// dumps.
type StaticCPUID map[uint64][4]uint32

// Query implements CPUID.Query.
func (s StaticCPUID) Query(leaf, sub uint32) (uint32, uint32, uint32, uint32) {
	r := s[uint64(leaf)<<32|uint64(sub)]
	return r[0], r[1], r[2], r[3]
}

// Set records one leaf.
func (s StaticCPUID) Set(leaf, sub, eax, ebx, ecx, edx uint32) {
	s[uint64(leaf)<<32|uint64(sub)] = [4]uint32{eax, ebx, ecx, edx}
}

// StaticMSR is a canned set of model-specific registers.
type StaticMSR map[uint32]uint64

// Read implements MSR.Read.
func (s StaticMSR) Read(reg uint32) uint64 {
	return s[reg]
}
