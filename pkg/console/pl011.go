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

// PL011 register indexes (byte offsets / 4, the MMIO backend scales).
const (
	plDR   = 0x00 / 4
	plFR   = 0x18 / 4
	plIBRD = 0x24 / 4
	plFBRD = 0x28 / 4
	plLCR  = 0x2c / 4
	plCR   = 0x30 / 4
)

// Flag register bits.
const (
	plFRBusy = 1 << 3
	plFRTXFF = 1 << 5
)

// SubtypePL011 is the DBG2 port subtype of an ARM PL011.
const SubtypePL011 = 0x0003

// PL011 drives an ARM PrimeCell UART.
type PL011 struct{}

// Match implements UartDriver.Match.
func (PL011) Match(subtype uint16) bool {
	return subtype == SubtypePL011
}

// Init implements UartDriver.Init: disable, program the fractional
// baud divisor, 8n1 with FIFOs, re-enable transmit.
func (PL011) Init(io RegIO, clock uint32) bool {
	if clock == 0 {
		clock = 24000000
	}
	io.Write(plCR, 0)

	// Divisor in 1/64 steps: IBRD gets the integer part, FBRD the
	// fraction.
	div := uint64(clock) * 4 / Baudrate
	io.Write(plIBRD, uint32(div>>6))
	io.Write(plFBRD, uint32(div&0x3f))

	io.Write(plLCR, 0x70)        // 8 bits, FIFO enable
	io.Write(plCR, 1<<8|1<<0)    // TXE, UARTEN
	return true
}

// Tx implements UartDriver.Tx.
func (PL011) Tx(io RegIO, v uint8) {
	io.Write(plDR, uint32(v))
}

// TxBusy implements UartDriver.TxBusy.
func (PL011) TxBusy(io RegIO) bool {
	return io.Read(plFR)&plFRBusy != 0
}

// TxFull implements UartDriver.TxFull.
func (PL011) TxFull(io RegIO) bool {
	return io.Read(plFR)&plFRTXFF != 0
}
