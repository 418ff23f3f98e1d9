// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.

package erc32

import (
	"io"
	"sync/atomic"
)

// MachineConfig collects the host-configurable parameters spec.md §6
// exposes: memory sizing, verbosity, UART device plumbing, and the
// resolved watchdog TRAPD policy. internal/config loads these from
// flags and a TOML file; Machine only consumes the resolved struct.
type MachineConfig struct {
	ROMSize uint32
	RAMSize uint32
	RAMBase uint32

	ROM8Mode        bool
	ROMWriteProtect bool

	FreqMHz uint32

	UARTADevice io.ReadWriter
	UARTBDevice io.ReadWriter

	// WatchdogTrapDisableWindow resolves spec.md's open question on
	// MEC_TRAPD semantics: "once-before-arm" matches erc32.c (a later
	// write after the watchdog has been armed is a no-op); "always"
	// names a policy where a guest may disable the watchdog trap at any
	// time. Machine stores this value but does not consult it: the
	// watchdog always applies "once-before-arm".
	WatchdogTrapDisableWindow string

	VerboseLevel int

	FPU FPU
}

// DefaultConfig returns spec.md's documented reset defaults.
func DefaultConfig() MachineConfig {
	return MachineConfig{
		ROMSize:                   1 << 20, // 1 MiB
		RAMSize:                   1 << 22, // 4 MiB
		RAMBase:                   RAMBaseDflt,
		FreqMHz:                   16,
		WatchdogTrapDisableWindow: "once-before-arm",
	}
}

// Machine is the top-level ERC32 simulator: it owns the CPU core, the
// memory subsystem, the MEC register file, the interrupt encoder, the
// three timers, the two UARTs, and the event scheduler, and it is the
// one type the individual components call back into (timerRaiser,
// uartRaiser, machineControl) so none of them need to reference each
// other directly.
type Machine struct {
	cfg MachineConfig

	Scheduler *Scheduler
	Memory    *Memory
	MEC       *MEC
	Interrupt *InterruptController
	CPU       *CPU

	RTC      *Timer
	GPT      *Timer
	Watchdog *Timer
	UARTA    *UART
	UARTB    *UART

	resetPending        bool
	watchdogCausedReset bool
	poweredDown         bool

	// stopRequested is spec.md §5's ctrl_c-equivalent: a host signal
	// handler sets it to ask RunUntilEvent to stop at the next step_one
	// boundary rather than tearing the process down immediately. It is
	// the only variable that crosses the signal-handler goroutine
	// boundary, and sync/atomic gives it the acquire/release ordering
	// spec.md requires without any other shared state.
	stopRequested atomic.Bool

	tracer *Tracer
}

// NewMachine constructs a fully wired Machine from cfg. Construction
// order follows the dependency chain Memory -> Timers/UARTs -> MEC ->
// CPU, with the one genuine cycle (Memory needs MEC for its MMIO
// window, MEC needs Memory for memory-configuration side effects)
// broken by attaching Memory to MEC after both exist.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	m := &Machine{cfg: cfg}

	mem, err := NewMemory(cfg.ROMSize, cfg.RAMSize, cfg.RAMBase, nil)
	if err != nil {
		return nil, err
	}
	m.Memory = mem

	m.tracer = NewTracer(cfg.VerboseLevel)

	m.Scheduler = NewScheduler()
	m.Interrupt = NewInterruptController()

	m.RTC = NewTimer("rtc", EventRTCTick, 13, 8, 32, m.Scheduler, m)
	m.GPT = NewTimer("gpt", EventGPTTick, 12, 16, 32, m.Scheduler, m)
	m.Watchdog = NewTimer("watchdog", EventWatchdogTick, 15, 8, 16, m.Scheduler, m)

	m.UARTA = NewUART(UARTChannelA, cfg.UARTADevice, m.Scheduler, m, m.tracer)
	m.UARTB = NewUART(UARTChannelB, cfg.UARTBDevice, m.Scheduler, m, m.tracer)

	m.MEC = NewMEC(m.Interrupt, m.RTC, m.GPT, m.Watchdog, m.UARTA, m.UARTB, m, m.tracer)
	m.MEC.attachMemory(mem)
	mem.mec = m.MEC

	fpu := cfg.FPU
	m.CPU = NewCPU(mem, fpu)

	mem.SetROM8Mode(cfg.ROM8Mode)
	mem.SetROMWriteEnable(!cfg.ROMWriteProtect)

	return m, nil
}

// SetTraceOutput redirects diagnostic trace output, e.g. to a file
// opened by cmd/erc32sim's --trace flag.
func (m *Machine) SetTraceOutput(w io.Writer) { m.tracer.SetOutput(w) }

// LoadROM copies image into ROM starting at offset 0, the simulator's
// only supported boot path (spec.md Non-goal: no ELF/object-format
// loader).
func (m *Machine) LoadROM(image []byte) error {
	if len(image) > len(m.Memory.rom) {
		return &ConfigError{Msg: "ROM image larger than configured ROM size"}
	}
	copy(m.Memory.rom, image)
	return nil
}

// Reset restores every component to its power-on state and sets
// PC/NPC to entry, per spec.md §3's reset lifecycle.
func (m *Machine) Reset(entry uint32) {
	m.Scheduler.CancelAll()
	m.MEC.Reset() // MEC registers, interrupt controller, timers, UARTs
	m.CPU.Reset(entry)
	m.resetPending = false
	m.poweredDown = false
	if m.watchdogCausedReset {
		m.MEC.MarkWatchdogReset()
		m.watchdogCausedReset = false
	}
	m.tracer.Tracef(1, "machine reset, entry=0x%08x", entry)
}

// raiseInterrupt implements timerRaiser and uartRaiser: it forwards the
// level to the interrupt controller, which the next RunUntilEvent pass
// will deliver if it is unmasked and above PIL (level 15 always).
func (m *Machine) raiseInterrupt(level uint8) {
	m.Interrupt.Raise(level)
}

// resetMachine implements timerRaiser for the watchdog's unserviced
// reset-delay expiry: the whole machine reboots from its current ROM
// entry point, as erc32.c's wdog_status==expired path does.
func (m *Machine) resetMachine() {
	m.resetPending = true
	m.watchdogCausedReset = true
}

// softwareReset, powerDown, and halt implement machineControl for
// MEC_MCR: a software reset or power-down command, and the "halt" arm
// of mec_mcr's error-policy dispatch (spec.md §4.5/§7), which leaves
// the simulator halted until an explicit Reset.
func (m *Machine) softwareReset() { m.resetPending = true }
func (m *Machine) powerDown()     { m.poweredDown = true }
func (m *Machine) halt()          { m.CPU.Halt() }

// Step advances the simulation by exactly one CPU instruction, then
// lets the scheduler fire any events now due, then delivers the
// highest-priority unmasked interrupt if the CPU accepts interrupts at
// that level. A pending reset is serviced instead of an instruction
// and returns true. It returns false once the CPU is halted so callers
// know to stop spinning.
func (m *Machine) Step() bool {
	if m.resetPending {
		entry := m.CPU.PC() &^ 0xFFF // reboot to the current segment base
		m.Reset(entry)
		return true
	}
	if m.poweredDown {
		if m.Interrupt.ExtIRL() == 0 {
			return true
		}
		m.poweredDown = false
	}

	res := m.CPU.Step()
	if res.Trapped {
		m.tracer.Tracef(2, "trap tt=0x%02x pc=0x%08x", res.TrapTT, res.PC)
	}
	if res.EnteredErrorMode {
		m.MEC.ReportCPUErrorMode()
	}
	m.Scheduler.AdvanceTo(m.Scheduler.Now() + 1)

	if level := m.Interrupt.ExtIRL(); level != 0 {
		psr := m.CPU.PSR()
		if psr.ET && (level > uint8(psr.PIL) || level == 15) {
			m.Interrupt.Acknowledge(level)
			m.CPU.RaiseInterrupt(level)
			m.tracer.TraceInterrupt(level, m.CPU.PC())
		}
	}

	return !m.CPU.Halted()
}

// RequestStop asks the simulator to stop at the next safe point — the
// next step_one boundary RunUntilEvent checks — rather than being torn
// down immediately. Safe to call concurrently from a host signal
// handler goroutine (spec.md §5's ctrl_c contract).
func (m *Machine) RequestStop() { m.stopRequested.Store(true) }

// StopRequested reports whether RequestStop has been called; Reset does
// not clear it. Callers use this after RunUntilEvent returns to tell an
// orderly stop apart from a halt or a cycle-limit return.
func (m *Machine) StopRequested() bool { return m.stopRequested.Load() }

// RunUntilEvent steps the CPU until it halts (error-mode trap with
// traps already disabled), maxCycles elapses, or RequestStop is called,
// whichever comes first. maxCycles <= 0 means run unbounded, which
// callers should only do when an external cancellation path exists.
func (m *Machine) RunUntilEvent(maxCycles uint64) {
	start := m.Scheduler.Now()
	for {
		if m.CPU.Halted() {
			return
		}
		if m.stopRequested.Load() {
			return
		}
		if maxCycles > 0 && m.Scheduler.Now()-start >= maxCycles {
			return
		}
		m.Step()
	}
}
