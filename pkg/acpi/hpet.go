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

// parseHPET records one high-precision event timer block.
func (fw *Firmware) parseHPET(b []byte) {
	fw.Model.HPETs = append(fw.Model.HPETs, HPETRecord{
		Regs: parseGAS(b, 40),
		ID:   b[52],
	})
}

// parseTPM2 records the TPM control area.
func (fw *Firmware) parseTPM2(b []byte) {
	fw.Model.TPM2 = TPM2Record{
		Phys:        byteview.LE[uint64](b, 40),
		StartMethod: byteview.LE[uint32](b, 48),
	}
}
