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

import "hyperion.dev/hyperion/pkg/byteview"

// ppiBase is the interrupt id of PPI 0.
const ppiBase = 16

// parseGTDT records the physical EL2 and virtual EL1 timer PPIs and
// their polarity. Flag bit 0 set means edge-triggered.
func (fw *Firmware) parseGTDT(b []byte) {
	el1vGSI := byteview.LE[uint32](b, 64)
	el1vFlg := byteview.LE[uint32](b, 68)
	el2pGSI := byteview.LE[uint32](b, 72)
	el2pFlg := byteview.LE[uint32](b, 76)

	fw.Model.Timer = TimerRecord{
		PPIEL2P:   el2pGSI - ppiBase,
		PPIEL1V:   el1vGSI - ppiBase,
		LevelEL2P: el2pFlg&1 == 0,
		LevelEL1V: el1vFlg&1 == 0,
	}
}
