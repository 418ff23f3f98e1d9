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

import "fmt"

// TrapType is a SPARC v8 trap type value (tt field), shifted into the
// low bits of the trap vector as trap_base | (tt << 4).
type TrapType uint8

// Synchronous trap types the CPU core can raise on its own. Interrupt
// traps use TrapType(0x10|level) per spec.md's external-interrupt rule
// and are constructed by the interrupt encoder, not listed here.
const (
	TrapResetVector          TrapType = 0x00
	TrapInstructionAccessExc TrapType = 0x01
	TrapIllegalInstruction   TrapType = 0x02
	TrapPrivilegedInstr      TrapType = 0x03
	TrapFPDisabled           TrapType = 0x04
	TrapWindowOverflow       TrapType = 0x05
	TrapWindowUnderflow      TrapType = 0x06
	TrapMemAddressNotAligned TrapType = 0x07
	TrapFPException          TrapType = 0x08
	TrapDataAccessException  TrapType = 0x09
	TrapTagOverflow          TrapType = 0x0A
	TrapDivideByZero         TrapType = 0x2A
	TrapTrapInstruction      TrapType = 0x80 // base for Ticc software traps, tn added by caller
)

// FaultKind classifies a memory-subsystem fault, mirroring the "kind"
// field of the MEC system fault status register (mec_sfsr).
type FaultKind uint8

const (
	FaultNone FaultKind = iota
	FaultProtection
	FaultUnimplementedAccess
	FaultMECAccess
	FaultAlignment
	FaultWatchpoint
	FaultBreakpoint
)

func (k FaultKind) String() string {
	switch k {
	case FaultProtection:
		return "protection"
	case FaultUnimplementedAccess:
		return "unimplemented-access"
	case FaultMECAccess:
		return "mec-access"
	case FaultAlignment:
		return "alignment"
	case FaultWatchpoint:
		return "watchpoint"
	case FaultBreakpoint:
		return "breakpoint"
	default:
		return "none"
	}
}

// MemoryFault is returned by the memory subsystem on any addressing or
// protection error, after the memory subsystem has recorded it in
// mec_sfsr/mec_ffar. The CPU core turns a fetch fault into an
// instruction-access trap and any load/store fault into a data-access
// trap.
type MemoryFault struct {
	Kind  FaultKind
	ASI   uint8
	Addr  uint32
	Write bool
}

func (f *MemoryFault) Error() string {
	dir := "read"
	if f.Write {
		dir = "write"
	}
	return fmt.Sprintf("erc32: memory fault %s asi=0x%02x addr=0x%08x (%s)", f.Kind, f.ASI, f.Addr, dir)
}

// ConfigError marks a host-side programming/configuration mistake (queue
// overflow, an impossible memory size) rather than a guest-observable
// fault. The top-level run() entry point aborts on these with a
// diagnostic instead of routing them through the CPU trap pipeline.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "erc32: configuration error: " + e.Msg }
