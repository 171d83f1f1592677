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

package console

import (
	"hyperion.dev/hyperion/pkg/acpi"
	"hyperion.dev/hyperion/pkg/wait"
)

// Transmission of a character should take 86.6us at 115200 baud, but
// some network consoles take much longer.
const uartTimeout = 5000

// Baudrate programmed into every UART.
const Baudrate = 115200

// RegIO accesses a UART's register file by index; the backend applies
// the register shift and the port/MMIO distinction.
type RegIO interface {
	Read(reg uint8) uint32
	Write(reg uint8, v uint32)
}

// Mapper turns a bound GAS into register access. The boot path maps
// MMIO into the master table here; tests hand out fakes.
type Mapper func(r acpi.GAS) (RegIO, bool)

// UartDriver is the device-specific half of a UART sink.
type UartDriver interface {
	// Match reports whether the driver serves the debug port subtype.
	Match(subtype uint16) bool

	// Init programs line parameters, given the input clock.
	Init(io RegIO, clock uint32) bool

	// Tx writes one byte into the FIFO.
	Tx(io RegIO, v uint8)

	// TxBusy reports whether the transmitter still shifts bits out.
	TxBusy(io RegIO) bool

	// TxFull reports whether the FIFO cannot take another byte.
	TxFull(io RegIO) bool
}

// Uart is a serial console sink: a driver bound to registers.
type Uart struct {
	drv    UartDriver
	clock  uint32
	mapper Mapper

	io   RegIO
	regs acpi.GAS

	// NoUART suppresses binding per the command line.
	NoUART bool
}

// NewUart returns a dormant UART sink.
func NewUart(drv UartDriver, clock uint32, mapper Mapper) *Uart {
	return &Uart{drv: drv, clock: clock, mapper: mapper}
}

// Outc implements Sink.Outc: bounded wait for FIFO space, then
// transmit.
func (u *Uart) Outc(c byte) bool {
	if !wait.Until(uartTimeout, func() bool { return !u.drv.TxFull(u.io) }) {
		return false
	}
	u.drv.Tx(u.io, c)
	return true
}

// Fini implements Sink.Fini: bounded drain of the transmitter.
func (u *Uart) Fini() bool {
	return wait.Until(uartTimeout, func() bool { return !u.drv.TxBusy(u.io) })
}

// MatchDbgp implements Sink.MatchDbgp.
func (u *Uart) MatchDbgp(typ, subtype uint16) bool {
	return typ == acpi.DebugTypeSerial && u.drv.Match(subtype)
}

// UsingRegs implements Sink.UsingRegs.
func (u *Uart) UsingRegs(r acpi.GAS) bool {
	return u.io != nil && u.regs.ASID == r.ASID && u.regs.Addr == r.Addr
}

// SetupRegs implements Sink.SetupRegs.
func (u *Uart) SetupRegs(r acpi.GAS) bool {
	if u.NoUART {
		return false
	}
	io, ok := u.mapper(r)
	if !ok {
		return false
	}
	if !u.drv.Init(io, u.clock) {
		return false
	}
	u.io = io
	u.regs = r
	return true
}
