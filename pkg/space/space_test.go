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

package space

import (
	"errors"
	"testing"

	"hyperion.dev/hyperion/pkg/paging"
	"hyperion.dev/hyperion/pkg/pagetables"
	"hyperion.dev/hyperion/pkg/status"
)

// fakePD is a liveness handle.
type fakePD struct {
	dead bool
	refs int
}

func (p *fakePD) Refer() bool {
	if p.dead {
		return false
	}
	p.refs++
	return true
}

func (p *fakePD) Unref() { p.refs-- }

func newHost(t *testing.T) *Host {
	t.Helper()
	h, err := NewHost(&fakePD{}, pagetables.Hpt{}, pagetables.NewRuntimeAllocator(pagetables.Hpt{}.Config(), 0))
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	return h
}

func TestFactories(t *testing.T) {
	if _, err := NewHost(&fakePD{dead: true}, pagetables.Hpt{}, pagetables.NewRuntimeAllocator(pagetables.Hpt{}.Config(), 0)); !errors.Is(err, status.ErrAborted) {
		t.Errorf("dead PD: %v, want ErrAborted", err)
	}

	if _, err := NewHost(&fakePD{}, pagetables.Hpt{}, pagetables.NewRuntimeAllocator(pagetables.Hpt{}.Config(), -1)); !errors.Is(err, status.ErrMemObj) {
		t.Errorf("exhausted allocator: %v, want ErrMemObj", err)
	}

	d, err := NewDMA(&fakePD{}, pagetables.Vtd{}, pagetables.NewRuntimeAllocator(pagetables.Vtd{}.Config(), 0))
	if err != nil {
		t.Fatalf("NewDMA: %v", err)
	}
	d2, err := NewDMA(&fakePD{}, pagetables.Vtd{}, pagetables.NewRuntimeAllocator(pagetables.Vtd{}.Config(), 0))
	if err != nil {
		t.Fatalf("NewDMA: %v", err)
	}
	if d.SDID == d2.SDID {
		t.Errorf("duplicate SDID %d", d.SDID)
	}
}

func TestDelegateMask(t *testing.T) {
	src := newHost(t)
	dst := newHost(t)

	if err := src.Tables().Update(0x200000, 0x40000000, 9, paging.R|paging.W, paging.Ram()); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// The write permission is masked away on delegation.
	if err := Delegate(&src.Space, &dst.Space, 0x200000, 0x600000, 9, paging.R, paging.Ram()); err != nil {
		t.Fatalf("Delegate: %v", err)
	}

	ok, p, _, pm, _ := dst.Tables().Lookup(0x600000)
	if !ok || p != 0x40000000 {
		t.Fatalf("Lookup = (%v, %#x)", ok, p)
	}
	if pm != paging.R {
		t.Errorf("perms = %#x, want R", pm)
	}

	// Delegating an unmapped source is rejected.
	if err := Delegate(&src.Space, &dst.Space, 0x800000, 0xa00000, 0, paging.R, paging.Ram()); !errors.Is(err, status.ErrBadPar) {
		t.Errorf("unmapped delegate: %v", err)
	}
}

func TestAccessCtrl(t *testing.T) {
	h := newHost(t)

	// 0x3000 bytes at 0x1000: one 4 KiB chunk at a time (alignment
	// prevents superpages).
	if err := AccessCtrl(&h.Space, 0x1000, 0x3000, paging.R|paging.W, paging.Device()); err != nil {
		t.Fatalf("AccessCtrl: %v", err)
	}
	for _, v := range []uint64{0x1000, 0x2000, 0x3000} {
		ok, p, _, _, _ := h.Tables().Lookup(v)
		if !ok || p != v {
			t.Errorf("identity Lookup(%#x) = (%v, %#x)", v, ok, p)
		}
	}
	if ok, _, _, _, _ := h.Tables().Lookup(0x4000); ok {
		t.Error("mapping past the region")
	}

	// A 2 MiB aligned region uses a single superpage leaf.
	if err := AccessCtrl(&h.Space, 0x40000000, 0x200000, paging.R, paging.Ram()); err != nil {
		t.Fatalf("AccessCtrl: %v", err)
	}
	ok, _, order, _, _ := h.Tables().Lookup(0x40000000)
	if !ok || order != 9 {
		t.Errorf("superpage order = %d, want 9", order)
	}

	// Revocation clears the mappings.
	if err := AccessCtrl(&h.Space, 0x1000, 0x1000, paging.None, paging.Device()); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, _, _, _, _ := h.Tables().Lookup(0x1000); ok {
		t.Error("revoked mapping still present")
	}
}

func TestShootdown(t *testing.T) {
	h := newHost(t)

	h.Hold(0)
	h.Hold(2)

	var ipis []uint
	h.Shootdown(func(c uint) { ipis = append(ipis, c) })

	if len(ipis) != 2 || ipis[0] != 0 || ipis[1] != 2 {
		t.Errorf("IPIs = %v, want [0 2]", ipis)
	}
	if !h.Dirty(0) || !h.Dirty(2) || h.Dirty(1) {
		t.Error("dirty bits wrong after shootdown")
	}

	h.Ack(0)
	if h.Dirty(0) || !h.Dirty(2) {
		t.Error("ack did not clear bit 0 only")
	}

	// A CPU that dropped the space receives no further IPIs.
	h.Ack(2)
	h.Drop(2)
	ipis = nil
	h.Shootdown(func(c uint) { ipis = append(ipis, c) })
	if len(ipis) != 1 || ipis[0] != 0 {
		t.Errorf("IPIs = %v, want [0]", ipis)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Insert(0xfee00000, 0x1000, RegionMMIO)
	r.Insert(0xfec00000, 0x1000, RegionMMIO)
	r.Insert(0x80000000, 0x100000, RegionDMAIdentity)

	if !r.Contains(0xfee00000, 4) || !r.Contains(0xfee00ffc, 4) {
		t.Error("recorded MMIO range not found")
	}
	if r.Contains(0xfee01000, 4) {
		t.Error("access past range accepted")
	}
	if r.Contains(0xfee00ffd, 4) {
		t.Error("straddling access accepted")
	}
	if reg, ok := r.Lookup(0x80000800); !ok || reg.Kind != RegionDMAIdentity {
		t.Errorf("Lookup = %+v, %v", reg, ok)
	}
	if _, ok := r.Lookup(0x7fffffff); ok {
		t.Error("Lookup found uncovered address")
	}
}
