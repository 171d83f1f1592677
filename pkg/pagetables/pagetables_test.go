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

package pagetables

import (
	"errors"
	"testing"

	"hyperion.dev/hyperion/pkg/paging"
	"hyperion.dev/hyperion/pkg/status"
)

func newHpt(t *testing.T) *PageTables {
	t.Helper()
	pt, err := New(Hpt{}, NewRuntimeAllocator(Hpt{}.Config(), 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return pt
}

func TestUpdateLookup(t *testing.T) {
	pt := newHpt(t)

	if err := pt.Update(0x400000, 0x123000, 0, paging.R|paging.W, paging.Ram()); err != nil {
		t.Fatalf("Update: %v", err)
	}

	ok, p, order, pm, ma := pt.Lookup(0x400ff8)
	if !ok {
		t.Fatal("Lookup: not mapped")
	}
	if p != 0x123ff8 {
		t.Errorf("Lookup: p = %#x, want 0x123ff8", p)
	}
	if order != 0 {
		t.Errorf("Lookup: order = %d, want 0", order)
	}
	if pm != paging.R|paging.W {
		t.Errorf("Lookup: perms = %#x, want R|W", pm)
	}
	if ma != paging.Ram() {
		t.Errorf("Lookup: memattr = %+v, want ram", ma)
	}
}

// A single 2 MiB superpage installs one level-1 leaf and translates all
// offsets within it; addresses below the mapping stay unmapped.
func TestSuperpage(t *testing.T) {
	pt := newHpt(t)

	if err := pt.Update(0x200000, 0x40000000, 9, paging.R|paging.W, paging.Ram()); err != nil {
		t.Fatalf("Update: %v", err)
	}

	ok, p, order, pm, _ := pt.Lookup(0x200ff8)
	if !ok || p != 0x40000ff8 || order != 9 || pm != paging.R|paging.W {
		t.Errorf("Lookup(0x200FF8) = (%v, %#x, %d, %#x), want (true, 0x40000FF8, 9, R|W)", ok, p, order, pm)
	}

	if ok, _, _, _, _ := pt.Lookup(0x1fffff); ok {
		t.Error("Lookup(0x1FFFFF): mapped, want unmapped")
	}

	// The level-1 slot holds a leaf, so a level-0 walk terminates.
	e, err := pt.Walk(0x200000, 0, false)
	if err != nil || e != nil {
		t.Errorf("Walk below superpage = (%v, %v), want (nil, nil)", e, err)
	}
}

func TestLookupOffsets(t *testing.T) {
	pt := newHpt(t)

	const v, p = uint64(0x40000000), uint64(0x80000000)
	if err := pt.Update(v, p, 18, paging.R, paging.Ram()); err != nil {
		t.Fatalf("Update: %v", err)
	}
	for _, off := range []uint64{0, 0x1000, 0x200000, 1<<30 - 1} {
		ok, got, _, _, _ := pt.Lookup(v + off)
		if !ok || got != p+off {
			t.Errorf("Lookup(%#x) = (%v, %#x), want (true, %#x)", v+off, ok, got, p+off)
		}
	}
}

func TestUpdateRejectsBadParameters(t *testing.T) {
	pt := newHpt(t)

	for _, tc := range []struct {
		name  string
		v, p  uint64
		order uint
	}{
		{"misaligned v", 0x201000, 0x40000000, 9},
		{"misaligned p", 0x200000, 0x40001000, 9},
		{"order not multiple of bpl", 0x200000, 0x40000000, 5},
		{"order too large", 0, 0, 36},
	} {
		if err := pt.Update(tc.v, tc.p, tc.order, paging.R, paging.Ram()); !errors.Is(err, status.ErrBadPar) {
			t.Errorf("%s: Update = %v, want ErrBadPar", tc.name, err)
		}
	}

	// Rejection happens before any state change.
	if ok, _, _, _, _ := pt.Lookup(0x200000); ok {
		t.Error("rejected update left a mapping behind")
	}
}

func TestClear(t *testing.T) {
	pt := newHpt(t)

	if err := pt.Update(0x1000, 0x2000, 0, paging.R|paging.W, paging.Ram()); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := pt.Update(0x1000, 0, 0, paging.None, paging.Ram()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if ok, _, _, _, _ := pt.Lookup(0x1000); ok {
		t.Error("Lookup after clear: still mapped")
	}

	// Clearing an absent path allocates nothing.
	if err := pt.Update(0xffff000000, 0, 0, paging.None, paging.Ram()); err != nil {
		t.Errorf("clear of absent path: %v", err)
	}
}

func TestAllocFailure(t *testing.T) {
	alloc := NewRuntimeAllocator(Hpt{}.Config(), 2)
	pt, err := New(Hpt{}, alloc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Needs three inner nodes below the root; only one is available.
	if err := pt.Update(0x400000, 0x123000, 0, paging.R, paging.Ram()); !errors.Is(err, status.ErrMemObj) {
		t.Errorf("Update = %v, want ErrMemObj", err)
	}

	// The partial subtree has no leaves and is equivalent to empty.
	if ok, _, _, _, _ := pt.Lookup(0x400000); ok {
		t.Error("Lookup after failed update: mapped")
	}
}

func TestDiverge(t *testing.T) {
	pt := newHpt(t)

	for _, tc := range []struct {
		a, b uint64
		want uint
	}{
		{0x0000000000, 0x8000000000, 3}, // different level-3 slots
		{0x0000000000, 0x0040000000, 2}, // different level-2 slots
		{0x0000000000, 0x0000200000, 1}, // different level-1 slots
		{0x0000000000, 0x0000001000, 0}, // only leaf slots differ
		{0x1234567000, 0x1234567000, 0},
	} {
		if got := pt.Diverge(tc.a, tc.b); got != tc.want {
			t.Errorf("Diverge(%#x, %#x) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestShareFrom(t *testing.T) {
	alloc := NewRuntimeAllocator(Hpt{}.Config(), 0)
	master, err := New(Hpt{}, alloc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// kernBase and cpuLocal share the top-level slot and diverge at
	// level 2, so the kernel subtree is shared one level down.
	const kernBase = uint64(0x7f8000000000)
	const cpuLocal = uint64(0x7fffc0000000)
	if err := master.Update(kernBase, 0x1000000, 0, paging.R|paging.W|paging.K|paging.G, paging.Ram()); err != nil {
		t.Fatalf("Update: %v", err)
	}

	percpu, err := New(Hpt{}, alloc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	changed, err := percpu.ShareFrom(master, kernBase, cpuLocal)
	if err != nil {
		t.Fatalf("ShareFrom: %v", err)
	}
	if !changed {
		t.Error("ShareFrom: no change reported")
	}

	ok, p, _, _, _ := percpu.Lookup(kernBase)
	if !ok || p != 0x1000000 {
		t.Errorf("Lookup through shared subtree = (%v, %#x), want (true, 0x1000000)", ok, p)
	}

	// Sharing again is idempotent: the slots already agree.
	changed, err = percpu.ShareFrom(master, kernBase, cpuLocal)
	if err != nil {
		t.Fatalf("ShareFrom: %v", err)
	}
	if changed {
		t.Error("repeated ShareFrom reported a change")
	}

	// A mapping added to the master under the shared slot becomes
	// visible without further sharing.
	if err := master.Update(kernBase+0x1000, 0x2000000, 0, paging.R|paging.K, paging.Ram()); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if ok, p, _, _, _ := percpu.Lookup(kernBase + 0x1000); !ok || p != 0x2000000 {
		t.Errorf("Lookup of later master mapping = (%v, %#x), want (true, 0x2000000)", ok, p)
	}
}

// Encoder and decoder must be exact inverses over the decodable
// permission sets.
func TestAttrRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name  string
		arch  Arch
		perms []paging.Permissions
		attrs []paging.Memattr
	}{
		{
			name: "hpt",
			arch: Hpt{},
			perms: []paging.Permissions{
				paging.R,
				paging.R | paging.W,
				paging.R | paging.W | paging.XS | paging.XU,
				paging.R | paging.W | paging.U | paging.XS | paging.XU,
				paging.R | paging.K | paging.G,
				paging.R | paging.W | paging.K | paging.G,
			},
			attrs: []paging.Memattr{
				paging.Ram(),
				paging.Device(),
				{Cache: paging.WC, Key: 5},
				{Cache: paging.UC, Key: 63},
			},
		},
		{
			name: "vtd",
			arch: Vtd{},
			perms: []paging.Permissions{
				paging.R,
				paging.R | paging.W,
				paging.R | paging.W | paging.XS | paging.XU,
			},
			attrs: []paging.Memattr{
				paging.Ram(),
				paging.Device(),
				{Cache: paging.WT, Key: 17},
			},
		},
		{
			name: "apt",
			arch: Apt{},
			perms: []paging.Permissions{
				paging.R,
				paging.R | paging.W,
				paging.R | paging.XS | paging.XU,
				paging.R | paging.W | paging.U | paging.XS | paging.XU,
				paging.R | paging.W | paging.K | paging.G,
				paging.R | paging.SS,
			},
			attrs: []paging.Memattr{
				paging.Ram(),
				paging.Device(),
				{Cache: paging.WT},
			},
		},
		{
			name: "spt",
			arch: Spt{},
			perms: []paging.Permissions{
				paging.R,
				paging.R | paging.W,
				paging.R | paging.W | paging.XS | paging.XU,
			},
			attrs: []paging.Memattr{
				paging.Ram(),
				paging.Device(),
				{Cache: paging.WT},
				{Cache: paging.UC},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for _, pm := range tc.perms {
				for _, ma := range tc.attrs {
					for _, level := range []uint{0, 1, 2} {
						pte := tc.arch.LeafAttr(level, pm, ma)
						if pte == 0 {
							t.Fatalf("LeafAttr(%d, %#x, %+v) = 0", level, pm, ma)
						}
						if got := tc.arch.LeafPerms(pte); got != pm {
							t.Errorf("level %d: perms %#x -> %#x", level, pm, got)
						}
						if got := tc.arch.LeafMemattr(level, pte); got != ma {
							t.Errorf("level %d: memattr %+v -> %+v", level, ma, got)
						}
						if !tc.arch.IsLeaf(level, pte) {
							t.Errorf("level %d: leaf PTE not recognized as leaf", level)
						}
					}
				}
			}
			// Empty permissions encode to the empty PTE.
			if pte := tc.arch.LeafAttr(0, paging.None, paging.Ram()); pte != 0 {
				t.Errorf("LeafAttr(None) = %#x, want 0", pte)
			}
		})
	}
}

func TestUpdateLookupAllArchs(t *testing.T) {
	for _, tc := range []struct {
		name string
		arch Arch
	}{
		{"hpt", Hpt{}},
		{"vtd", Vtd{}},
		{"apt", Apt{}},
		{"spt", Spt{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pt, err := New(tc.arch, NewRuntimeAllocator(tc.arch.Config(), 0))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if err := pt.Update(0x200000, 0x40000000, 9, paging.R|paging.W, paging.Ram()); err != nil {
				t.Fatalf("Update: %v", err)
			}
			ok, p, order, pm, _ := pt.Lookup(0x200ff8)
			if !ok || p != 0x40000ff8 || order != 9 || pm != paging.R|paging.W {
				t.Errorf("Lookup = (%v, %#x, %d, %#x), want (true, 0x40000FF8, 9, R|W)", ok, p, order, pm)
			}
		})
	}
}
