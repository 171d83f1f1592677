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

// Package wait implements bounded busy-wait polling.
//
// The core never suspends; hardware handshakes spin on a status
// predicate for a bounded number of iterations and report failure on
// exhaustion, so a wedged device cannot hang the boot path.
package wait

// Until polls pred at most limit+1 times (once even with a zero limit)
// and returns true as soon as pred is satisfied. It returns false if the budget runs out,
// in which case the caller marks the subsystem failed.
func Until(limit uint, pred func() bool) bool {
	for i := uint(0); i <= limit; i++ {
		if pred() {
			return true
		}
	}
	return false
}
