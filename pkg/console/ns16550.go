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

// NS16550 register indexes.
const (
	nsTHR = 0 // transmit holding
	nsIER = 1 // interrupt enable
	nsFCR = 2 // FIFO control
	nsLCR = 3 // line control
	nsMCR = 4 // modem control
	nsLSR = 5 // line status
	nsDLL = 0 // divisor latch low (DLAB set)
	nsDLM = 1 // divisor latch high (DLAB set)
)

// Line status bits.
const (
	nsLSRTHRE = 1 << 5 // transmit holding register empty
	nsLSRTEMT = 1 << 6 // transmitter empty
)

// DBG2 port subtypes served by a 16550.
const (
	Subtype16550    = 0x0000
	Subtype16550DBG = 0x0001
)

// NS16550 drives a 16550-compatible UART behind port or MMIO
// registers.
type NS16550 struct{}

// Match implements UartDriver.Match.
func (NS16550) Match(subtype uint16) bool {
	return subtype == Subtype16550 || subtype == Subtype16550DBG
}

// Init implements UartDriver.Init: divisor latch, 8n1, FIFO enable.
func (NS16550) Init(io RegIO, clock uint32) bool {
	if clock == 0 {
		clock = 1843200
	}
	div := clock / (16 * Baudrate)
	if div == 0 {
		return false
	}
	io.Write(nsLCR, 0x80) // DLAB
	io.Write(nsDLL, div&0xff)
	io.Write(nsDLM, div>>8&0xff)
	io.Write(nsLCR, 0x03) // 8n1
	io.Write(nsIER, 0x00)
	io.Write(nsFCR, 0x07) // enable and reset FIFOs
	io.Write(nsMCR, 0x03) // DTR, RTS
	return true
}

// Tx implements UartDriver.Tx.
func (NS16550) Tx(io RegIO, v uint8) {
	io.Write(nsTHR, uint32(v))
}

// TxBusy implements UartDriver.TxBusy.
func (NS16550) TxBusy(io RegIO) bool {
	return io.Read(nsLSR)&nsLSRTEMT == 0
}

// TxFull implements UartDriver.TxFull.
func (NS16550) TxFull(io RegIO) bool {
	return io.Read(nsLSR)&nsLSRTHRE == 0
}
