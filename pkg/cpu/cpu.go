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

// Package cpu holds per-CPU state and the CPU feature model.
//
// CPU records are created during interrupt-controller enumeration on
// the boot CPU and never destroyed. Dense ids are assigned in
// discovery order; the firmware identifier is the APIC id on x86 and
// the packed MPIDR affinity on ARM.
package cpu

import (
	"sync"
	"sync/atomic"

	"hyperion.dev/hyperion/pkg/log"
)

// ID is a dense CPU id in [0, Count).
type ID uint32

// Record describes one discovered CPU.
type Record struct {
	// ID is the dense id assigned in discovery order.
	ID ID

	// FirmwareID is the firmware-level identifier: the APIC id on x86,
	// the packed MPIDR affinity on ARM.
	FirmwareID uint64

	// Redist is the per-CPU redistributor base, where applicable.
	Redist uint64
}

// Set is the process-wide CPU enumeration. Records are appended on the
// boot CPU under the serial-boot invariant; after AP release the set is
// immutable except for the online counter.
type Set struct {
	mu      sync.Mutex
	records []Record
	boot    ID
	online  atomic.Uint32
}

// Allocate appends a CPU record and returns its dense id.
func (s *Set) Allocate(firmwareID, redist uint64) ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := ID(len(s.records))
	s.records = append(s.records, Record{ID: id, FirmwareID: firmwareID, Redist: redist})
	log.Debugf("CORE: %#x -> CPU %d", firmwareID, id)
	return id
}

// Count returns the number of discovered CPUs.
func (s *Set) Count() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint(len(s.records))
}

// Lookup returns the dense id for a firmware identifier.
func (s *Set) Lookup(firmwareID uint64) (ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.FirmwareID == firmwareID {
			return r.ID, true
		}
	}
	return 0, false
}

// Record returns the record for a dense id.
func (s *Set) Record(id ID) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uint(id) >= uint(len(s.records)) {
		return Record{}, false
	}
	return s.records[id], true
}

// SetBoot marks the boot CPU. Firmware designates it on ARM; on x86 it
// is CPU 0 unless overridden.
func (s *Set) SetBoot(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boot = id
}

// Boot returns the boot CPU id.
func (s *Set) Boot() ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boot
}

// SetOnline publishes that another CPU finished init. The counter is
// monotone non-decreasing until fini.
func (s *Set) SetOnline() uint32 {
	return s.online.Add(1)
}

// SetOffline retracts one CPU from the online count during a sleep
// transition; the counter is otherwise monotone non-decreasing.
func (s *Set) SetOffline() uint32 {
	return s.online.Add(^uint32(0))
}

// Online returns the number of CPUs that completed init.
func (s *Set) Online() uint32 {
	return s.online.Load()
}

// AffinityPack packs an MPIDR value into Aff3[31:24] Aff2[23:16]
// Aff1[15:8] Aff0[7:0] format.
func AffinityPack(mpidr uint64) uint32 {
	return uint32(mpidr>>8&0xff000000) | uint32(mpidr&0xffffff)
}

// AffinityBits extracts the affinity fields of an MPIDR value:
// Aff3[39:32] Aff2[23:16] Aff1[15:8] Aff0[7:0].
func AffinityBits(mpidr uint64) uint64 {
	return mpidr & (0xff_0000_0000 | 0xff_ffff)
}
