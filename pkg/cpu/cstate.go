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

// CState describes one idle state: the MWAIT hint selecting it, the
// minimum idle residency that makes entering worthwhile, and the exit
// latency, both in nanoseconds.
type CState struct {
	Hint      uint32
	Residency uint64
	Latency   uint64
}

// Baseline residency/latency figures per C-state index. MwaitHints uses
// them as they are; LPIT descriptors recorded by the ACPI parser are not
// applied to them.
var mwaitBase = []CState{
	{Hint: 0x00, Residency: 1_000, Latency: 1_000},        // C1
	{Hint: 0x10, Residency: 50_000, Latency: 20_000},      // C3
	{Hint: 0x20, Residency: 200_000, Latency: 100_000},    // C6
	{Hint: 0x30, Residency: 800_000, Latency: 300_000},    // C7
	{Hint: 0x40, Residency: 5_000_000, Latency: 600_000},  // C8
	{Hint: 0x50, Residency: 10_000_000, Latency: 900_000}, // C9
	{Hint: 0x60, Residency: 20_000_000, Latency: 1_200_000},
}

// MwaitHints builds the hint table from the MWAIT sub-state word
// (leaf 5 EDX): four bits per C-state, a zero count marks the state
// unsupported.
func MwaitHints(cstates uint32) []CState {
	var hints []CState
	for i, base := range mwaitBase {
		if cstates>>(4*(i+1))&0xf == 0 {
			continue
		}
		hints = append(hints, base)
	}
	return hints
}

// ChooseCState picks the deepest state whose residency and exit
// latency fit within the expected idle time. It returns false when
// even the shallowest state does not fit.
func ChooseCState(states []CState, idle uint64) (CState, bool) {
	var best CState
	found := false
	for _, s := range states {
		if s.Residency <= idle && s.Latency <= idle {
			best = s
			found = true
		}
	}
	return best, found
}
