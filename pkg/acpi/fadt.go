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

package acpi

import (
	"hyperion.dev/hyperion/pkg/byteview"
	"hyperion.dev/hyperion/pkg/log"
)

// FADT flag bits.
const (
	fadtHWReduced = 1 << 20
)

// ARM boot architecture flags.
const (
	fadtARMPSCI = 1 << 0
)

// FixedRegs is the fixed-hardware register set assembled from the
// FADT: each register derives from the extended GAS block when present
// and from the legacy port block otherwise.
type FixedRegs struct {
	PM1aSts, PM1aEna GAS
	PM1bSts, PM1bEna GAS
	PM1aCnt, PM1bCnt GAS
	PM2Cnt           GAS
	PMTmr            GAS
	GPE0Sts, GPE0Ena GAS
	GPE1Sts, GPE1Ena GAS
	RstReg           GAS
	SlpCnt, SlpSts   GAS

	GPE0Len, GPE1Len uint32
	RstVal           uint8

	// SCI enable handshake.
	SMICmd      uint32
	ACPIEnable  uint8
	ACPIDisable uint8
	PStateCnt   uint8
	CStateCnt   uint8

	HWReduced bool
}

// parseFADT records the FACS pointer, capability flags, and the fixed
// hardware register blocks.
func (fw *Firmware) parseFADT(b []byte) {
	hdr, _ := parseHeader(b)

	fw.facsPhys = uint64(byteview.LE[uint32](b, 36))

	gas := func(off int) GAS {
		if int(hdr.Length) >= off+gasLen {
			return parseGAS(b, off)
		}
		return GAS{}
	}
	u32 := func(off int) uint32 {
		if int(hdr.Length) >= off+4 {
			return byteview.LE[uint32](b, off)
		}
		return 0
	}
	u8 := func(off int) uint8 {
		if int(hdr.Length) > off {
			return b[off]
		}
		return 0
	}

	flags := u32(112)
	fw.Fixed.HWReduced = flags&fadtHWReduced != 0

	fw.Fixed.SMICmd = u32(48)
	fw.Fixed.ACPIEnable = u8(52)
	fw.Fixed.ACPIDisable = u8(53)
	fw.Fixed.PStateCnt = u8(55)
	fw.Fixed.CStateCnt = u8(95)

	pm1aEvt, pm1bEvt := u32(56), u32(60)
	pm1aCnt, pm1bCnt := u32(64), u32(68)
	pm2Cnt, pmTmr := u32(72), u32(76)
	gpe0, gpe1 := u32(80), u32(84)
	pm1EvtLen, pm1CntLen := u8(88), u8(89)
	pm2CntLen, pmTmrLen := u8(90), u8(91)
	gpe0Len, gpe1Len := u8(92), u8(93)

	xPM1aEvt, xPM1bEvt := gas(148), gas(160)
	xPM1aCnt, xPM1bCnt := gas(172), gas(184)
	xPM2Cnt, xPMTmr := gas(196), gas(208)
	xGPE0, xGPE1 := gas(220), gas(232)

	// The PM1 event block is the status register followed by the
	// enable register; GPE blocks split the same way.
	fw.Fixed.PM1aSts = combineGAS(xPM1aEvt, pm1aEvt, pm1EvtLen, 2, 0)
	fw.Fixed.PM1aEna = combineGAS(xPM1aEvt, pm1aEvt, pm1EvtLen, 2, 1)
	fw.Fixed.PM1bSts = combineGAS(xPM1bEvt, pm1bEvt, pm1EvtLen, 2, 0)
	fw.Fixed.PM1bEna = combineGAS(xPM1bEvt, pm1bEvt, pm1EvtLen, 2, 1)
	fw.Fixed.PM1aCnt = combineGAS(xPM1aCnt, pm1aCnt, pm1CntLen, 1, 0)
	fw.Fixed.PM1bCnt = combineGAS(xPM1bCnt, pm1bCnt, pm1CntLen, 1, 0)
	fw.Fixed.PM2Cnt = combineGAS(xPM2Cnt, pm2Cnt, pm2CntLen, 1, 0)
	fw.Fixed.PMTmr = combineGAS(xPMTmr, pmTmr, pmTmrLen, 1, 0)
	fw.Fixed.GPE0Sts = combineGAS(xGPE0, gpe0, gpe0Len, 2, 0)
	fw.Fixed.GPE0Ena = combineGAS(xGPE0, gpe0, gpe0Len, 2, 1)
	fw.Fixed.GPE1Sts = combineGAS(xGPE1, gpe1, gpe1Len, 2, 0)
	fw.Fixed.GPE1Ena = combineGAS(xGPE1, gpe1, gpe1Len, 2, 1)
	fw.Fixed.GPE0Len = uint32(gpe0Len) / 2
	fw.Fixed.GPE1Len = uint32(gpe1Len) / 2

	fw.Fixed.RstReg = gas(116)
	fw.Fixed.RstVal = u8(128)
	fw.Fixed.SlpCnt = gas(244)
	fw.Fixed.SlpSts = gas(256)

	if int(hdr.Length) >= 131 {
		armFlags := byteview.LE[uint16](b, 129)
		fw.Model.PSCI = armFlags&fadtARMPSCI != 0
	}

	if int(hdr.Length) >= 140 {
		if x := byteview.LE[uint64](b, 132); x != 0 {
			fw.facsPhys = x
		}
	}

	log.Debugf("FADT: flags:%#x reduced:%v psci:%v", flags, fw.Fixed.HWReduced, fw.Model.PSCI)
}

// parseFACS records the hardware signature and wake vectors. The FACS
// is reached through the FADT and carries no checksum.
func (fw *Firmware) parseFACS() {
	if fw.facsPhys == 0 {
		return
	}
	b, ok := fw.mem.View(fw.facsPhys, 64)
	if !ok || string(b[0:4]) != "FACS" {
		return
	}
	if byteview.LE[uint32](b, 4) < 64 {
		return
	}
	fw.Model.FACS = FACSRecord{
		HardwareSig: byteview.LE[uint32](b, 8),
		Wake32:      byteview.LE[uint32](b, 12),
		Flags:       byteview.LE[uint32](b, 20),
		Wake64:      byteview.LE[uint64](b, 24),
	}
	log.Infof("FACS: Hardware %#x Flags %#x Wake %#x/%#x",
		fw.Model.FACS.HardwareSig, fw.Model.FACS.Flags, fw.Model.FACS.Wake32, fw.Model.FACS.Wake64)
}
