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

// Package iommu confines DMA from assigned devices to their owning
// protection domain's DMA address space.
package iommu

import (
	"sync/atomic"

	"hyperion.dev/hyperion/pkg/status"
)

// SDID is a stage-2 domain identifier: the tag that scopes a stage-2
// TLB entry (VMID on ARM, domain id on VT-d).
type SDID uint16

// sdidLimit is the architectural identifier space.
const sdidLimit = 1 << 16

var sdidNext atomic.Uint32

// AllocSDID hands out the next domain identifier. Identifiers are not
// recycled; exhaustion surfaces as an allocation error.
func AllocSDID() (SDID, error) {
	v := sdidNext.Add(1) - 1
	if v >= sdidLimit {
		return 0, status.ErrMemObj
	}
	return SDID(v), nil
}
