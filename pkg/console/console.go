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

// Package console runs a format-then-broadcast loop over the bound
// serial sinks.
//
// Sinks are constructed statically and move between a dormant and an
// enabled list; a sink whose transmit path fails is dormant for the
// remainder of the boot. Binding happens when the table parser
// delivers an (address, debug-type, debug-subtype) descriptor: the
// first dormant sink that matches the type pair and accepts the
// registers transitions to enabled.
package console

import (
	"fmt"
	"sync"

	"hyperion.dev/hyperion/pkg/acpi"
	"hyperion.dev/hyperion/pkg/log"
)

// Sink is one output device.
type Sink interface {
	// Outc transmits one byte; false moves the sink to the dormant
	// list.
	Outc(c byte) bool

	// Fini drains buffered output; false reports a failed drain.
	Fini() bool

	// MatchDbgp reports whether the sink drives the debug port type.
	MatchDbgp(typ, subtype uint16) bool

	// UsingRegs reports whether the sink is already bound to the
	// registers.
	UsingRegs(r acpi.GAS) bool

	// SetupRegs binds the sink to the registers and initializes the
	// hardware.
	SetupRegs(r acpi.GAS) bool
}

// list tags.
type state uint8

const (
	dormant state = iota
	enabled
)

type entry struct {
	sink  Sink
	state state
}

// Mux is the console multiplexer.
type Mux struct {
	mu      sync.Mutex
	entries []*entry
	mbuf    ringBuffer
}

// Register adds a sink to the dormant list.
func (m *Mux) Register(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, &entry{sink: s})
}

// Putc broadcasts one byte to every enabled sink; a failing sink is
// moved to the dormant list.
func (m *Mux) Putc(c byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mbuf.put(c)
	for _, e := range m.entries {
		if e.state != enabled {
			continue
		}
		if !e.sink.Outc(c) {
			e.state = dormant
		}
	}
}

// Print formats and broadcasts a message.
func (m *Mux) Print(format string, v ...any) {
	for _, c := range []byte(fmt.Sprintf(format, v...)) {
		m.Putc(c)
	}
}

// Emit implements log.Emitter so boot messages reach the bound sinks.
func (m *Mux) Emit(level log.Level, format string, v ...any) {
	m.Print("[%s] "+format+"\n", append([]any{level}, v...)...)
}

// Flush drains every enabled sink; a failed drain moves the sink to
// the dormant list.
func (m *Mux) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.state == enabled && !e.sink.Fini() {
			e.state = dormant
		}
	}
}

// Bind offers a console descriptor to the sinks. Binding to registers
// already in use is refused; otherwise the first dormant sink that
// matches the (type, subtype) pair and accepts the registers is
// enabled and receives the buffered backlog.
func (m *Mux) Bind(typ, subtype uint16, r acpi.GAS) {
	if r.Addr == 0 || r.Bits < 8 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.sink.UsingRegs(r) {
			return
		}
	}
	for _, e := range m.entries {
		if e.state != dormant {
			continue
		}
		if e.sink.MatchDbgp(typ, subtype) && e.sink.SetupRegs(r) {
			e.state = enabled
			m.sync(e)
			return
		}
	}
}

// sync replays the buffered backlog into a newly enabled sink.
func (m *Mux) sync(e *entry) {
	for _, c := range m.mbuf.bytes() {
		if !e.sink.Outc(c) {
			e.state = dormant
			return
		}
	}
}

// Enabled returns the number of enabled sinks.
func (m *Mux) Enabled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.state == enabled {
			n++
		}
	}
	return n
}

// ringBuffer keeps the most recent boot output for backlog replay.
type ringBuffer struct {
	buf  [4096]byte
	w    int
	full bool
}

func (r *ringBuffer) put(c byte) {
	r.buf[r.w] = c
	r.w = (r.w + 1) % len(r.buf)
	if r.w == 0 {
		r.full = true
	}
}

func (r *ringBuffer) bytes() []byte {
	if !r.full {
		return r.buf[:r.w]
	}
	out := make([]byte, 0, len(r.buf))
	out = append(out, r.buf[r.w:]...)
	return append(out, r.buf[:r.w]...)
}
