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

// FPU is the floating-point collaborator the CPU core delegates FPop1/
// FPop2 instructions to. ERC32's FPU is a separate coprocessor chip
// (the 8087-style "FPA"); this implementation does not model its
// internal pipeline, only the architectural contract described in
// spec.md's floating-point design note: the integer core forwards the
// opcode and operand register numbers and gets back only whether the
// operation requests a trap. Results and %fsr updates stay inside the
// collaborator; no rounding mode is passed to it.
type FPU interface {
	// Execute runs one FPop1/FPop2 instruction. opf is the 9-bit
	// floating-point operation field; rs1/rs2/rd are %fN register
	// numbers (or %rN for FiTOs/FdTOx-style conversions, per opf).
	// trapRequested reports an IEEE exception the guest has unmasked
	// in %fsr, which the CPU core turns into TrapFPException.
	Execute(opf uint16, rs1, rs2, rd uint8) (trapRequested bool)

	// ReadFSR/WriteFSR service RDFSR/WRFSR via the integer register
	// path (spec.md treats %fsr as addressable from the integer side
	// for simulator diagnostics even though real guests use FPop).
	ReadFSR() uint32
	WriteFSR(v uint32)

	Reset()
}

// NoFPU is a stand-in collaborator for configurations with coprocessor
// enable left off (spec.md Non-goal (i): FPU datapaths are not modeled
// in detail). With NoFPU installed the CPU core traps every FPop as
// FPDisabled, matching real hardware with PSR.EF clear.
type NoFPU struct{}

func (NoFPU) Execute(uint16, uint8, uint8, uint8) bool { return false }
func (NoFPU) ReadFSR() uint32                          { return 0 }
func (NoFPU) WriteFSR(uint32)                          {}
func (NoFPU) Reset()                                   {}
