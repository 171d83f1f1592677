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
	"strings"

	"github.com/google/subcommands"
	"hyperion.dev/hyperion/pkg/fdt"
)

// fdtCmd dumps a flattened devicetree blob.
type fdtCmd struct {
	tree bool
}

// Name implements subcommands.Command.Name.
func (*fdtCmd) Name() string { return "fdt" }

// Synopsis implements subcommands.Command.Synopsis.
func (*fdtCmd) Synopsis() string { return "dump a flattened devicetree blob" }

// Usage implements subcommands.Command.Usage.
func (*fdtCmd) Usage() string { return "fdt [-tree] <file>\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (c *fdtCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.tree, "tree", false, "print the full node tree")
}

// Execute implements subcommands.Command.Execute.
func (c *fdtCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "need exactly one input file")
		return subcommands.ExitUsageError
	}
	b, err := os.ReadFile(f.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	t, ok := fdt.Parse(b)
	if !ok {
		fmt.Fprintln(os.Stderr, "not a valid devicetree")
		return subcommands.ExitFailure
	}

	h := t.Header
	fmt.Printf("version:%d compat:%d boot-cpu:%d structs:%d strings:%d\n",
		h.Version, h.LastCompatVer, h.BootCPU, h.SizeStructs, h.SizeStrings)

	if c.tree {
		dumpNode(t.Root, 0)
	}
	return subcommands.ExitSuccess
}

func dumpNode(n *fdt.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	name := n.Name
	if name == "" {
		name = "/"
	}
	fmt.Printf("%s%s\n", indent, name)
	for p, v := range n.Props {
		fmt.Printf("%s  %s [%d]\n", indent, p, len(v))
	}
	for _, ch := range n.Children {
		dumpNode(ch, depth+1)
	}
}
