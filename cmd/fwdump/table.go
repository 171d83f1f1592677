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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"hyperion.dev/hyperion/pkg/acpi"
	"hyperion.dev/hyperion/pkg/cmdline"
)

// tableCmd validates and dumps one ACPI table blob.
type tableCmd struct{}

// Name implements subcommands.Command.Name.
func (*tableCmd) Name() string { return "table" }

// Synopsis implements subcommands.Command.Synopsis.
func (*tableCmd) Synopsis() string { return "validate and dump an ACPI table blob" }

// Usage implements subcommands.Command.Usage.
func (*tableCmd) Usage() string { return "table <file>...\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*tableCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*tableCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "no input files")
		return subcommands.ExitUsageError
	}

	status := subcommands.ExitSuccess
	for _, path := range f.Args() {
		b, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			status = subcommands.ExitFailure
			continue
		}
		if !dumpTable(b) {
			status = subcommands.ExitFailure
		}
	}
	return status
}

// dumpTable validates the blob as a single table and parses the
// signatures the core consumes.
func dumpTable(b []byte) bool {
	mem := blobMemory(b)
	fw := acpi.New(mem, cmdline.Options{})
	if !fw.ValidateBlob(b) {
		return false
	}
	fw.ParseBlob(b)

	m := &fw.Model
	for _, c := range m.CPUs {
		fmt.Printf("CPU uid:%d fw:%#x gicr:%#x\n", c.UID, c.FirmwareID, c.Redist)
	}
	for _, io := range m.IOAPICs {
		fmt.Printf("IOAPIC %#x id:%d gsi:%d\n", io.Phys, io.ID, io.GSIBase)
	}
	for _, s := range m.Segments {
		fmt.Printf("ECAM %#x seg:%d bus:%#x-%#x usable:%v\n", s.Phys, s.Group, s.StartBus, s.EndBus, !s.Unusable)
	}
	for _, u := range m.IOMMUs {
		fmt.Printf("DRHD %#x seg:%d all:%v\n", u.Phys, u.Segment, u.IncludeAll)
	}
	for _, r := range m.RMRRs {
		fmt.Printf("RMRR %#x-%#x\n", r.Base, r.Limit)
	}
	for _, c := range m.Consoles {
		fmt.Printf("console %04x:%04x addr:%#x\n", c.Type, c.Subtype, c.Regs.Addr)
	}
	for _, a := range m.Affinity {
		fmt.Printf("affinity %#x+%#x dom:%d\n", a.Base, a.Size, a.Domain)
	}
	return true
}

// blobMemory exposes a blob as physical memory at address zero.
type blobMemory []byte

// View implements acpi.Memory.View.
func (m blobMemory) View(phys, length uint64) ([]byte, bool) {
	if phys+length > uint64(len(m)) {
		return nil, false
	}
	return m[phys : phys+length], true
}
