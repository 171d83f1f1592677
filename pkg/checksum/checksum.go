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

// Package checksum implements the additive byte checksum used by
// firmware description tables.
package checksum

// Additive returns the sum of the first n bytes of buf, mod 256. A
// table is valid iff its additive checksum is zero.
func Additive(buf []byte, n int) uint8 {
	var sum uint8
	for i := 0; i < n && i < len(buf); i++ {
		sum += buf[i]
	}
	return sum
}
