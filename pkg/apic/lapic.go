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

// Package apic drives the x86 local and I/O interrupt controllers.
package apic

import (
	"hyperion.dev/hyperion/pkg/log"
	"hyperion.dev/hyperion/pkg/mmio"
)

// Local APIC registers, as MMIO offsets. In x2APIC mode the same
// register lives at MSR 0x800 + offset>>4.
const (
	regIDR      = 0x020
	regVER      = 0x030
	regTPR      = 0x080
	regEOI      = 0x0b0
	regSVR      = 0x0f0
	regESR      = 0x280
	regICRLo    = 0x300
	regICRHi    = 0x310
	regLVTTimer = 0x320
	regLVTTherm = 0x330
	regLVTPerfm = 0x340
	regLVTLINT0 = 0x350
	regLVTLINT1 = 0x360
	regLVTError = 0x370
	regLVTCMCI  = 0x2f0
	regTMRICR   = 0x380
	regTMRCCR   = 0x390
	regTMRDCR   = 0x3e0

	msrBase = 0x800
)

// Delivery modes.
const (
	DlvFixed  = 0 << 8
	DlvNMI    = 4 << 8
	DlvINIT   = 5 << 8
	DlvSIPI   = 6 << 8
	DlvExtINT = 7 << 8
)

// LVT vector bases; the timer uses VecLVT+0, error VecLVT+1, and so
// on, matching the handler table.
const (
	VecLVT = 0xf0
)

// MSRIO reads and writes model-specific registers, for the x2APIC
// register path and the TSC.
type MSRIO interface {
	Read(reg uint32) uint64
	Write(reg uint32, v uint64)
}

// LAPIC is one CPU's local interrupt controller. A single type covers
// the MMIO- and MSR-based interfaces, chosen by the extended-mode bit
// in IA32_APIC_BASE.
type LAPIC struct {
	mmio   mmio.Space
	msr    MSRIO
	x2apic bool

	// Ratio is the bus-clock divider programmed for one-shot mode, or
	// zero when TSC deadline mode is in use.
	Ratio uint32

	// Freq is the measured or enumerated timer frequency in Hz.
	Freq uint64
}

// New returns a local APIC accessor. x2apic selects the MSR interface.
func New(space mmio.Space, msr MSRIO, x2apic bool) *LAPIC {
	return &LAPIC{mmio: space, msr: msr, x2apic: x2apic}
}

func (l *LAPIC) read(reg uint32) uint32 {
	if l.x2apic {
		return uint32(l.msr.Read(msrBase + reg>>4))
	}
	return l.mmio.Read32(reg)
}

func (l *LAPIC) write(reg uint32, v uint32) {
	if l.x2apic {
		l.msr.Write(msrBase+reg>>4, uint64(v))
		return
	}
	l.mmio.Write32(reg, v)
}

// ID returns the local APIC id of this CPU.
func (l *LAPIC) ID() uint32 {
	if l.x2apic {
		return l.read(regIDR)
	}
	return l.read(regIDR) >> 24
}

// Version returns the version register's low byte.
func (l *LAPIC) Version() uint8 {
	return uint8(l.read(regVER))
}

// lvtMax returns the highest LVT entry index.
func (l *LAPIC) lvtMax() uint32 {
	return l.read(regVER) >> 16 & 0xff
}

// EOISuppression reports directed-EOI capability.
func (l *LAPIC) EOISuppression() bool {
	return l.read(regVER)>>24&1 != 0
}

func (l *LAPIC) setLVT(reg uint32, dlv uint32, vec uint8, extra uint32) {
	l.write(reg, dlv|uint32(vec)|extra)
}

// EOI signals end of interrupt.
func (l *LAPIC) EOI() {
	l.write(regEOI, 0)
}

// SendCPU sends a fixed-vector IPI to the CPU with the given APIC id.
func (l *LAPIC) SendCPU(vec uint8, apicID uint32) {
	l.sendIPI(apicID, DlvFixed|uint32(vec))
}

// SendExc broadcasts INIT or SIPI to all-excluding-self.
func (l *LAPIC) SendExc(vec uint8, dlv uint32) {
	const allExcludingSelf = 3 << 18
	l.sendIPI(0, allExcludingSelf|dlv|uint32(vec))
}

func (l *LAPIC) sendIPI(dest uint32, lo uint32) {
	if l.x2apic {
		l.msr.Write(msrBase+regICRLo>>4, uint64(dest)<<32|uint64(lo))
		return
	}
	l.write(regICRHi, dest<<24)
	l.write(regICRLo, lo)
}

// InitConfig carries the inputs of local APIC bring-up.
type InitConfig struct {
	// BSP marks the bootstrap processor, which calibrates the timer
	// and kicks the APs.
	BSP bool

	// TSCDeadline enables deadline timer mode.
	TSCDeadline bool

	// Clk and Rat are the enumerated crystal clock and ratio, zero
	// when unknown.
	Clk uint32
	Rat uint32

	// SIPIPage is the startup vector page for AP boot.
	SIPIPage uint8

	// Resume skips one-time construction on wake from sleep.
	Resume bool

	// Delay busy-waits the given number of milliseconds (PM timer).
	Delay func(ms uint32)

	// Time reads the TSC.
	Time func() uint64
}

// Init software-enables the APIC, programs the LVT entries by
// hardware generation (NMI for LINT1, ExtInt for LINT0, fixed for the
// rest), and calibrates the timer against the PM timer unless both
// crystal and ratio are enumerated.
func (l *LAPIC) Init(cfg InitConfig) {
	// SW enable.
	l.write(regSVR, l.read(regSVR)|1<<8)

	dl := uint32(0)
	if cfg.TSCDeadline {
		dl = 1 << 18
	}

	switch max := l.lvtMax(); {
	case max >= 6:
		l.setLVT(regLVTCMCI, DlvFixed, VecLVT+4, 0)
		fallthrough
	case max >= 5:
		l.setLVT(regLVTTherm, DlvFixed, VecLVT+3, 0)
		fallthrough
	case max >= 4:
		l.setLVT(regLVTPerfm, DlvFixed, VecLVT+2, 0)
		fallthrough
	case max >= 3:
		l.setLVT(regLVTError, DlvFixed, VecLVT+1, 0)
		fallthrough
	case max >= 2:
		l.setLVT(regLVTLINT1, DlvNMI, 0, 0)
		fallthrough
	case max >= 1:
		l.setLVT(regLVTLINT0, DlvExtINT, 0, 1<<16)
		fallthrough
	default:
		l.setLVT(regLVTTimer, DlvFixed, VecLVT+0, dl)
	}

	l.write(regTPR, 0x10)
	l.write(regTMRDCR, 0xb)

	if cfg.BSP {
		if !cfg.Resume {
			l.SendExc(0, DlvINIT)
		}

		l.write(regTMRICR, ^uint32(0))

		c1 := l.read(regTMRCCR)
		t1 := cfg.Time()
		cfg.Delay(10)
		c2 := l.read(regTMRCCR)
		t2 := cfg.Time()

		c := uint64(c1 - c2)
		t := t2 - t1
		f := uint64(cfg.Clk) * uint64(cfg.Rat)

		switch {
		case cfg.TSCDeadline:
			l.Ratio = 0
		case f != 0:
			l.Ratio = cfg.Rat
		default:
			l.Ratio = uint32((t + c/2) / c)
		}

		if f != 0 {
			l.Freq = f
		} else {
			l.Freq = t * 100
		}

		log.Infof("FREQ: %d Hz (%s) Ratio:%d", l.Freq,
			map[bool]string{true: "enumerated", false: "measured"}[f != 0], l.Ratio)

		if !cfg.Resume {
			l.SendExc(cfg.SIPIPage, DlvSIPI)
			cfg.Delay(1)
			l.SendExc(cfg.SIPIPage, DlvSIPI)
		}
	}

	l.write(regTMRICR, 0)

	log.Infof("APIC: VER:%#x SUP:%v LVT:%#x (x%sAPIC %s Mode)",
		l.Version(), l.EOISuppression(), l.lvtMax(),
		map[bool]string{true: "2", false: ""}[l.x2apic],
		map[bool]string{true: "OS", false: "DL"}[l.Ratio != 0])
}

// HandleError reads and rearms the error status register.
func (l *LAPIC) HandleError() {
	l.write(regESR, 0)
	l.write(regESR, 0)
}

// TimerExpired reports whether the one-shot or deadline timer fired.
func (l *LAPIC) TimerExpired() bool {
	if l.Ratio != 0 {
		return l.read(regTMRCCR) == 0
	}
	const msrTSCDeadline = 0x6e0
	return l.msr.Read(msrTSCDeadline) == 0
}
