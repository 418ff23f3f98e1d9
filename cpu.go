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

// StepResult reports what happened during one CPU step, for the trace
// layer and for callers that single-step under a debugger-style loop.
type StepResult struct {
	PC      uint32
	Trapped bool
	TrapTT  uint8

	// EnteredErrorMode is true iff this step's trap was taken with
	// traps already disabled (spec.md §4.2 step 1/§7's "CPU-reported
	// error mode"), the transition Machine.Step forwards to
	// MEC.ReportCPUErrorMode for mec_ersr/mec_mcr escalation.
	EnteredErrorMode bool
}

// CPU is the SPARC v8 integer core: the windowed register file, PSR,
// WIM, TBR, Y, and the delayed-branch PC/NPC pair, wired to a Memory
// for instruction fetch and load/store and to an FPU collaborator for
// FPop1/FPop2. It has no knowledge of the scheduler or of MEC devices;
// cycle accounting and interrupt delivery are driven from Machine.
type CPU struct {
	regs RegisterFile
	psr  PSR
	wim  uint32 // window invalid mask, one bit per window
	tbr  uint32 // trap base register
	y    uint32

	pc, npc uint32

	mem *Memory
	fpu FPU

	// annul suppresses execution of the delay-slot instruction after a
	// taken annulled branch or an untaken Bicc/FBfcc with a==1.
	annul bool

	// halted is set on a trap taken with PSR.ET already clear (error
	// mode, spec.md §4.2 step 1) or by an explicit HALT-equivalent
	// guest action. Only a full machine reset clears it.
	halted bool
}

// NewCPU constructs a CPU bound to mem for memory access and fpu for
// floating-point delegation. Use NoFPU{} when no coprocessor is modeled.
func NewCPU(mem *Memory, fpu FPU) *CPU {
	if fpu == nil {
		fpu = NoFPU{}
	}
	c := &CPU{mem: mem, fpu: fpu}
	c.Reset(0)
	return c
}

// Reset restores power-on state: window 0, supervisor mode, traps
// disabled, WIM=1 (window 0 marked invalid, so SAVEs from the reset
// window proceed and the SAVE that would wrap back around into window 0
// is caught), and PC/NPC at entry/entry+4.
func (c *CPU) Reset(entry uint32) {
	c.regs = RegisterFile{}
	c.psr = PSR{S: true, PS: true, ET: false, CWP: 0, PIL: 15}
	c.wim = 1
	c.tbr = 0
	c.y = 0
	c.pc = entry
	c.npc = entry + 4
	c.annul = false
	c.halted = false
	c.fpu.Reset()
}

func (c *CPU) Halted() bool { return c.halted }

// Halt forces the CPU into the halted state from outside the normal
// trap pipeline. MEC's error-policy dispatch calls this when mec_mcr
// selects "halt" for an escalated error (spec.md §4.5/§7); only a full
// Reset clears it, same as error mode.
func (c *CPU) Halt() { c.halted = true }
func (c *CPU) PC() uint32   { return c.pc }
func (c *CPU) NPC() uint32  { return c.npc }
func (c *CPU) PSR() PSR     { return c.psr }
func (c *CPU) Y() uint32    { return c.y }

// ReadReg/WriteReg access the architectural register set as currently
// windowed.
func (c *CPU) ReadReg(n uint8) uint32       { return c.regs.Read(c.psr.CWP, n) }
func (c *CPU) WriteReg(n uint8, v uint32)   { c.regs.Write(c.psr.CWP, n, v) }

// Step fetches, decodes, and executes one instruction, advancing PC/NPC
// under the delayed-branch model. It returns a StepResult describing
// whether a trap was taken; memory faults and illegal instructions are
// folded into trap delivery rather than returned as Go errors, since
// they are architecturally normal CPU behavior, not host failures.
func (c *CPU) Step() StepResult {
	if c.halted {
		return StepResult{PC: c.pc, Trapped: false}
	}

	asi := ASIUserInstruction
	if c.psr.S {
		asi = ASISupervisorInstruction
	}
	raw, _, err := c.mem.Read(asi, c.pc, 4)
	if err != nil {
		return c.trap(uint8(TrapInstructionAccessExc))
	}

	if c.annul {
		c.annul = false
		c.pc = c.npc
		c.npc = c.npc + 4
		return StepResult{PC: c.pc}
	}

	d := Decode(uint32(raw))
	tt, trapped := c.execute(d)
	if trapped {
		return c.trap(tt)
	}
	return StepResult{PC: c.pc}
}

// trap enters the SPARC v8 trap pipeline (spec.md §4.2): if traps are
// already disabled this is error mode (halt); otherwise the window
// shifts to the trap window, PS/S/ET update, PC/NPC are saved into the
// new window's locals, and PC/NPC are redirected to the trap table.
func (c *CPU) trap(tt uint8) StepResult {
	if !c.psr.ET {
		c.halted = true
		return StepResult{PC: c.pc, Trapped: true, TrapTT: tt, EnteredErrorMode: true}
	}
	c.psr.PS = c.psr.S
	c.psr.S = true
	c.psr.ET = false
	c.psr.CWP = uint8((int(c.psr.CWP) + NumWindows - 1) % NumWindows)
	c.regs.Write(c.psr.CWP, 17, c.pc)  // %l1 <- pc
	c.regs.Write(c.psr.CWP, 18, c.npc) // %l2 <- npc
	c.tbr = (c.tbr &^ 0xFF0) | (uint32(tt) << 4)
	c.pc = c.tbr
	c.npc = c.tbr + 4
	return StepResult{PC: c.pc, Trapped: true, TrapTT: tt}
}

// RaiseInterrupt delivers an asynchronous trap for the given external
// interrupt level (1..15), as computed by the InterruptController. The
// caller is responsible for checking PIL and ET before calling; Machine
// does this once per scheduler advance.
func (c *CPU) RaiseInterrupt(level uint8) {
	c.trap(0x10 | level)
}

// windowMask returns the single bit for window w.
func windowMask(w uint8) uint32 { return 1 << (uint32(w) % NumWindows) }
