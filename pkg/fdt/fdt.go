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

// Package fdt parses a flattened devicetree.
//
// The FDT is the alternate discovery path on ARM when ACPI is absent.
// The structure block is a big-endian tagged stream; the parser builds
// a node tree bounded by the declared block sizes and interprets the
// subtrees the core needs, producing the same platform model as the
// ACPI path.
package fdt

import (
	"strings"

	"hyperion.dev/hyperion/pkg/acpi"
	"hyperion.dev/hyperion/pkg/byteview"
	"hyperion.dev/hyperion/pkg/log"
)

// Header magic and structure tags.
const (
	Magic = 0xd00dfeed

	tagBeginNode = 0x1
	tagEndNode   = 0x2
	tagProp      = 0x3
	tagNop       = 0x4
	tagEnd       = 0x9

	headerLen = 40

	// lastCompatVersion is the stream format this parser understands.
	lastCompatVersion = 16
)

// Header is the 40-byte big-endian FDT header.
type Header struct {
	TotalSize     uint32
	OffStructs    uint32
	OffStrings    uint32
	OffMemMap     uint32
	Version       uint32
	LastCompatVer uint32
	BootCPU       uint32
	SizeStrings   uint32
	SizeStructs   uint32
}

// Node is one devicetree node.
type Node struct {
	Name     string
	Props    map[string][]byte
	Children []*Node
}

// Prop returns a property value.
func (n *Node) Prop(name string) ([]byte, bool) {
	b, ok := n.Props[name]
	return b, ok
}

// PropString returns a NUL-terminated string property.
func (n *Node) PropString(name string) (string, bool) {
	b, ok := n.Props[name]
	if !ok {
		return "", false
	}
	return strings.TrimRight(string(b), "\x00"), true
}

// Compatible reports whether the compatible string list contains s.
func (n *Node) Compatible(s string) bool {
	b, ok := n.Props["compatible"]
	if !ok {
		return false
	}
	for _, c := range strings.Split(strings.TrimRight(string(b), "\x00"), "\x00") {
		if c == s {
			return true
		}
	}
	return false
}

// Tree is a parsed devicetree.
type Tree struct {
	Header Header
	Root   *Node
}

// parseHeader validates magic, version and block bounds.
func parseHeader(b []byte) (Header, bool) {
	if len(b) < headerLen || byteview.BE[uint32](b, 0) != Magic {
		return Header{}, false
	}
	h := Header{
		TotalSize:     byteview.BE[uint32](b, 4),
		OffStructs:    byteview.BE[uint32](b, 8),
		OffStrings:    byteview.BE[uint32](b, 12),
		OffMemMap:     byteview.BE[uint32](b, 16),
		Version:       byteview.BE[uint32](b, 20),
		LastCompatVer: byteview.BE[uint32](b, 24),
		BootCPU:       byteview.BE[uint32](b, 28),
		SizeStrings:   byteview.BE[uint32](b, 32),
		SizeStructs:   byteview.BE[uint32](b, 36),
	}
	if h.LastCompatVer > lastCompatVersion {
		return Header{}, false
	}
	if uint64(h.OffStructs)+uint64(h.SizeStructs) > uint64(len(b)) {
		return Header{}, false
	}
	if uint64(h.OffStrings)+uint64(h.SizeStrings) > uint64(len(b)) {
		return Header{}, false
	}
	return h, true
}

// Parse builds the node tree from a devicetree blob.
func Parse(b []byte) (*Tree, bool) {
	h, ok := parseHeader(b)
	if !ok {
		return nil, false
	}

	structs := b[h.OffStructs : h.OffStructs+h.SizeStructs]
	strs := b[h.OffStrings : h.OffStrings+h.SizeStrings]

	var stack []*Node
	root := &Node{Props: map[string][]byte{}}

	off := 0
	cur := (*Node)(nil)
	for off+4 <= len(structs) {
		tag := byteview.BE[uint32](structs, off)
		off += 4

		switch tag {
		case tagBeginNode:
			end := off
			for end < len(structs) && structs[end] != 0 {
				end++
			}
			name := string(structs[off:end])
			off = (end + 1 + 3) &^ 3

			n := &Node{Name: name, Props: map[string][]byte{}}
			if cur == nil {
				root = n
			} else {
				cur.Children = append(cur.Children, n)
				stack = append(stack, cur)
			}
			cur = n

		case tagEndNode:
			if len(stack) == 0 {
				cur = nil
			} else {
				cur = stack[len(stack)-1]
				stack = stack[:len(stack)-1]
			}

		case tagProp:
			if off+8 > len(structs) || cur == nil {
				return nil, false
			}
			plen := int(byteview.BE[uint32](structs, off))
			noff := int(byteview.BE[uint32](structs, off+4))
			off += 8
			if off+plen > len(structs) {
				return nil, false
			}
			cur.Props[propName(strs, noff)] = structs[off : off+plen]
			off = (off + plen + 3) &^ 3

		case tagNop:

		case tagEnd:
			return &Tree{Header: h, Root: root}, true

		default:
			return nil, false
		}
	}
	return nil, false
}

func propName(strs []byte, off int) string {
	if off >= len(strs) {
		return ""
	}
	end := off
	for end < len(strs) && strs[end] != 0 {
		end++
	}
	return string(strs[off:end])
}

// regCells reads entry i of a reg property with 2 address and 2 size
// cells.
func regCells(b []byte, i int) (addr, size uint64, ok bool) {
	off := i * 16
	if off+16 > len(b) {
		return 0, 0, false
	}
	return byteview.BE[uint64](b, off), byteview.BE[uint64](b, off+8), true
}

// Discover interprets the subtrees the core needs and fills the
// platform model: /cpus, the interrupt controller, and UARTs. It
// returns the /chosen bootargs.
func Discover(b []byte, m *acpi.Model) (string, bool) {
	t, ok := Parse(b)
	if !ok {
		return "", false
	}

	var bootargs string
	var walk func(n *Node, path string)
	walk = func(n *Node, path string) {
		switch {
		case path == "/chosen":
			bootargs, _ = n.PropString("bootargs")

		case strings.HasPrefix(path, "/cpus/cpu"):
			if dt, _ := n.PropString("device_type"); dt == "cpu" {
				if reg, ok := n.Prop("reg"); ok {
					var mpidr uint64
					switch len(reg) {
					case 4:
						mpidr = uint64(byteview.BE[uint32](reg, 0))
					case 8:
						mpidr = byteview.BE[uint64](reg, 0)
					}
					m.CPUs = append(m.CPUs, acpi.CPURecord{
						UID:        uint32(len(m.CPUs)),
						FirmwareID: mpidr & (0xff_0000_0000 | 0xff_ffff),
					})
				}
			}

		case n.Compatible("arm,gic-v3"):
			if reg, ok := n.Prop("reg"); ok {
				if addr, _, ok := regCells(reg, 0); ok {
					m.GICD = acpi.GICDRecord{Phys: addr, Version: 3}
				}
				if addr, size, ok := regCells(reg, 1); ok {
					m.GICRs = append(m.GICRs, acpi.GICRRange{Phys: addr, Size: uint32(size)})
				}
			}

		case n.Compatible("arm,cortex-a15-gic") || n.Compatible("arm,gic-400"):
			if reg, ok := n.Prop("reg"); ok {
				if addr, _, ok := regCells(reg, 0); ok {
					m.GICD = acpi.GICDRecord{Phys: addr, Version: 2}
				}
				if addr, _, ok := regCells(reg, 1); ok {
					m.GICC = addr
				}
			}

		case n.Compatible("arm,pl011"):
			if reg, ok := n.Prop("reg"); ok {
				if addr, _, ok := regCells(reg, 0); ok {
					m.Consoles = append(m.Consoles, acpi.ConsoleRecord{
						Type:    acpi.DebugTypeSerial,
						Subtype: 0x0003, // PL011
						Regs:    acpi.GAS{ASID: acpi.ASIDMem, Bits: 32, Addr: addr},
					})
				}
			}

		case n.Compatible("ns16550a") || n.Compatible("ns16550"):
			if reg, ok := n.Prop("reg"); ok {
				if addr, _, ok := regCells(reg, 0); ok {
					m.Consoles = append(m.Consoles, acpi.ConsoleRecord{
						Type:    acpi.DebugTypeSerial,
						Subtype: 0x0000, // 16550 compatible
						Regs:    acpi.GAS{ASID: acpi.ASIDMem, Bits: 32, Addr: addr},
					})
				}
			}
		}

		for _, c := range n.Children {
			walk(c, path+"/"+c.Name)
		}
	}
	walk(t.Root, "")

	m.BootCPU = t.Header.BootCPU
	log.Infof("FDT: v%d CPUs:%d GICD:%#x", t.Header.Version, len(m.CPUs), m.GICD.Phys)
	return bootargs, true
}
