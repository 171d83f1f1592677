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

// Package platform orchestrates discovery, bring-up, sleep and resume.
//
// Cold boot runs the full path on the boot CPU: command line, firmware
// tables (ACPI, or FDT when ACPI is absent), console binding, CPU
// records, then AP release. Resume from sleep runs the same path: New
// performs every construction step on resume as on cold boot and only
// records the wake for Resumed; ReleaseAPs restarts the parked APs via
// the architectural boot primitive.
package platform

import (
	"hyperion.dev/hyperion/pkg/acpi"
	"hyperion.dev/hyperion/pkg/cmdline"
	"hyperion.dev/hyperion/pkg/console"
	"hyperion.dev/hyperion/pkg/cpu"
	"hyperion.dev/hyperion/pkg/fdt"
	"hyperion.dev/hyperion/pkg/log"
	"hyperion.dev/hyperion/pkg/space"
	"hyperion.dev/hyperion/pkg/status"
	"hyperion.dev/hyperion/pkg/wait"
)

// Hooks are the architectural primitives the orchestrator calls out
// to.
type Hooks struct {
	// StartAP releases or restarts one application processor (SIPI on
	// x86, PSCI CPU_ON on ARM).
	StartAP func(id cpu.ID, firmwareID uint64)

	// OfflineAP parks one application processor for a sleep
	// transition.
	OfflineAP func(id cpu.ID)
}

// Platform is the assembled machine description and its live objects.
type Platform struct {
	Opts    cmdline.Options
	FW      *acpi.Firmware
	CPUs    cpu.Set
	Console *console.Mux
	Fixed   *acpi.Fixed
	Regions *space.Registry

	hooks Hooks

	// resume is nonzero on wake from sleep.
	resume uint64
}

// Config carries the boot inputs.
type Config struct {
	// CommandLine is the operator string from the boot loader.
	CommandLine string

	// RSDPHint is the firmware-handed RSDP address, zero to scan.
	RSDPHint uint64

	// FDT is the devicetree blob, used when ACPI discovery fails.
	FDT []byte

	// Memory reads physical memory.
	Memory acpi.Memory

	// Ports accesses the system I/O space.
	Ports acpi.PortIO

	// UartMapper maps console registers.
	UartMapper console.Mapper

	// Resume is the wake vector on resume, zero on cold boot.
	Resume uint64

	Hooks Hooks
}

// New runs discovery and returns the assembled platform.
func New(cfg Config) (*Platform, error) {
	p := &Platform{
		Opts:    cmdline.Parse(cfg.CommandLine),
		Console: &console.Mux{},
		Regions: space.NewRegistry(),
		hooks:   cfg.Hooks,
		resume:  cfg.Resume,
	}

	p.FW = acpi.New(cfg.Memory, p.Opts)

	var model *acpi.Model
	if p.FW.Init(cfg.RSDPHint) {
		model = &p.FW.Model
	} else if len(cfg.FDT) > 0 {
		// Alternate discovery path: the devicetree produces the same
		// model; its bootargs extend the command line.
		model = &p.FW.Model
		args, ok := fdt.Discover(cfg.FDT, model)
		if !ok {
			return nil, status.ErrBadPar
		}
		more := cmdline.Parse(args)
		mergeOptions(&p.Opts, more)
	} else {
		return nil, status.ErrBadPar
	}

	p.Fixed = acpi.NewFixed(p.FW.Fixed, cfg.Ports)

	// Console sinks: one per supported driver, then bind every
	// discovered descriptor. Dormant sinks stay available for later
	// descriptors.
	for _, drv := range []console.UartDriver{console.NS16550{}, console.PL011{}} {
		u := console.NewUart(drv, 0, cfg.UartMapper)
		u.NoUART = p.Opts.NoUART
		p.Console.Register(u)
	}
	for _, c := range model.Consoles {
		p.Console.Bind(c.Type, c.Subtype, c.Regs)
		if c.Regs.ASID == acpi.ASIDMem {
			p.Regions.Insert(c.Regs.Addr&^0xfff, 0x1000, space.RegionMMIO)
		}
	}

	// CPU records, dense ids in discovery order.
	for _, c := range model.CPUs {
		p.CPUs.Allocate(c.FirmwareID, c.Redist)
	}
	if p.CPUs.Count() == 0 {
		// A platform without CPU enumeration cannot proceed.
		return nil, status.ErrBadPar
	}
	p.CPUs.SetBoot(cpu.ID(model.BootCPU))

	// Record discovered MMIO so register access stays within mapped
	// ranges.
	if len(model.IOAPICs) > 0 {
		// The MSI window and the local APIC page never reach guests.
		p.Regions.Insert(0xfee00000, 0x100000, space.RegionReserved)
	}
	for _, io := range model.IOAPICs {
		p.Regions.Insert(io.Phys&^0xfff, 0x1000, space.RegionMMIO)
	}
	for _, mu := range model.IOMMUs {
		p.Regions.Insert(mu.Phys&^0xfff, 0x1000, space.RegionMMIO)
	}
	for _, r := range model.RMRRs {
		base := r.Base &^ 0xfff
		limit := (r.Limit + 0xfff) &^ 0xfff
		p.Regions.Insert(base, limit-base, space.RegionDMAIdentity)
	}

	log.Infof("BOOT: CPUs:%d consoles:%d resume:%v", p.CPUs.Count(), p.Console.Enabled(), p.resume != 0)
	return p, nil
}

func mergeOptions(dst *cmdline.Options, src cmdline.Options) {
	dst.Insecure = dst.Insecure || src.Insecure
	dst.NoCCST = dst.NoCCST || src.NoCCST
	dst.NoCPST = dst.NoCPST || src.NoCPST
	dst.NoDL = dst.NoDL || src.NoDL
	dst.NoMKTME = dst.NoMKTME || src.NoMKTME
	dst.NoPCID = dst.NoPCID || src.NoPCID
	dst.NoSMMU = dst.NoSMMU || src.NoSMMU
	dst.NoUART = dst.NoUART || src.NoUART
	dst.NoVPID = dst.NoVPID || src.NoVPID
}

// Resumed reports whether this boot is a wake from sleep.
func (p *Platform) Resumed() bool {
	return p.resume != 0
}

// ReleaseAPs starts every application processor. On resume the same
// primitive restarts the parked APs.
func (p *Platform) ReleaseAPs() {
	boot := p.CPUs.Boot()
	for id := cpu.ID(0); uint(id) < p.CPUs.Count(); id++ {
		if id == boot {
			continue
		}
		if r, ok := p.CPUs.Record(id); ok && p.hooks.StartAP != nil {
			p.hooks.StartAP(id, r.FirmwareID)
		}
	}
}

// onlineLimit bounds the wait for AP offline acknowledgment.
const onlineLimit = 1000000

// Fini carries out an accepted sleep or reset transition: offline the
// APs, clear wake state, then enter the target state.
func (p *Platform) Fini(t acpi.Transition) error {
	if !p.Fixed.Supported(t) {
		return status.ErrBadFtr
	}
	if !p.Fixed.SetTransition(t) {
		return status.ErrBadPar
	}

	boot := p.CPUs.Boot()
	for id := cpu.ID(0); uint(id) < p.CPUs.Count(); id++ {
		if id != boot && p.hooks.OfflineAP != nil {
			p.hooks.OfflineAP(id)
		}
	}
	// All APs offline: only the boot CPU remains online.
	if !wait.Until(onlineLimit, func() bool { return p.CPUs.Online() <= 1 }) {
		return status.ErrTimeout
	}

	p.Console.Flush()

	if t.State() == 7 {
		p.Fixed.Reset()
	} else {
		p.Fixed.WakeClr()
		p.Fixed.Sleep(t)
	}
	return nil
}
