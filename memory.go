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

// Address-space identifiers used to route CPU accesses. SPARC v8 assigns
// ASI values 0x08-0x0B to the conventional text/data x user/supervisor
// spaces; ERC32 uses asi 0x02 for a second "MEC control" alias in some
// reference material but this implementation only recognizes the
// conventional set the CPU core actually issues.
const (
	ASIUserInstruction       uint8 = 0x08
	ASISupervisorInstruction uint8 = 0x09
	ASIUserData              uint8 = 0x0A
	ASISupervisorData        uint8 = 0x0B
)

func asiIsData(asi uint8) bool {
	return asi == ASIUserData || asi == ASISupervisorData
}

func asiIsSupervisor(asi uint8) bool {
	return asi == ASISupervisorInstruction || asi == ASISupervisorData
}

// Default memory map constants from spec.md §6.
const (
	MECBase     uint32 = 0x01F80000
	MECWindow   uint32 = 0x100
	RAMBaseDflt uint32 = 0x02000000
	RAMBaseLite uint32 = 0x40000000
)

// WaitStates holds the four configurable wait-state counts the MEC
// wait-state control register programs.
type WaitStates struct {
	RAMRead  uint32
	RAMWrite uint32
	ROMRead  uint32
	ROMWrite uint32
}

// protectWindow is one of the two MEC write-protect regions.
type protectWindow struct {
	start, end    uint32 // word addresses, end exclusive
	enableUser    bool
	enableSuper   bool
	blockSemantic bool // stored and read back only; writeProtected treats both settings alike
}

func (w protectWindow) covers(wordAddr uint32) bool {
	return wordAddr >= w.start && wordAddr < w.end
}

// Memory is the ERC32 memory subsystem: flat RAM/ROM byte arrays routed
// through a uniform read/write interface, forwarding MEC-window accesses
// to the attached register file. Addresses are always SPARC byte
// addresses; multi-byte accesses use explicit big-endian helpers instead
// of the host-endianness XOR trick the original C simulator relied on.
type Memory struct {
	rom []byte
	ram []byte

	ramBase uint32
	romSize uint32
	ramSize uint32

	rom8Mode   bool
	romWriteEn bool

	wait WaitStates

	protect [2]protectWindow

	mec *MEC

	lastFault *MemoryFault
}

// NewMemory allocates ROM/RAM arrays of the given power-of-two sizes at
// ramBase and wires them to mec for control-window accesses.
func NewMemory(romSize, ramSize, ramBase uint32, mec *MEC) (*Memory, error) {
	if romSize == 0 || romSize&(romSize-1) != 0 {
		return nil, &ConfigError{Msg: fmt.Sprintf("rom size %d is not a power of two", romSize)}
	}
	if ramSize == 0 || ramSize&(ramSize-1) != 0 {
		return nil, &ConfigError{Msg: fmt.Sprintf("ram size %d is not a power of two", ramSize)}
	}
	m := &Memory{
		rom:     make([]byte, romSize),
		ram:     make([]byte, ramSize),
		ramBase: ramBase,
		romSize: romSize,
		ramSize: ramSize,
		mec:     mec,
	}
	return m, nil
}

// SetWaitStates installs new RAM/ROM wait-state counts, as decoded from a
// write to the MEC wait-state control register.
func (m *Memory) SetWaitStates(ws WaitStates) { m.wait = ws }

// WaitStates returns the currently configured RAM/ROM wait-state counts,
// as read back through the MEC wait-state control register.
func (m *Memory) WaitStates() WaitStates { return m.wait }

// SetWriteProtect installs one of the two write-protect windows (index 0
// or 1). Addresses are word addresses as the MEC register format encodes
// them.
func (m *Memory) SetWriteProtect(index int, start, end uint32, enableUser, enableSuper, blockSemantic bool) {
	m.protect[index] = protectWindow{
		start: start, end: end,
		enableUser: enableUser, enableSuper: enableSuper,
		blockSemantic: blockSemantic,
	}
}

// SetROMWriteEnable reflects the memory-configuration register's
// rom-write-enable bit. The host's rom_write_protect option (spec.md §6)
// only sets the initial value; a later memory-configuration write
// replaces it.
func (m *Memory) SetROMWriteEnable(enabled bool) { m.romWriteEn = enabled }

// SetROM8Mode toggles the ROM bus-width option (affects wait-state
// accounting the caller performs; the array itself is addressed the
// same way either way).
func (m *Memory) SetROM8Mode(rom8 bool) { m.rom8Mode = rom8 }

func (m *Memory) LastFault() *MemoryFault { return m.lastFault }

// ROMSize and RAMSize report the configured array sizes, for the MEC's
// read-only sim_rom_size/sim_ram_size registers (spec.md §6).
func (m *Memory) ROMSize() uint32 { return m.romSize }
func (m *Memory) RAMSize() uint32 { return m.ramSize }

// writeProtected reports whether a write to the given byte address is
// blocked by either write-protect window for the given supervisor/user
// context.
func (m *Memory) writeProtected(addr uint32, supervisor bool) bool {
	wordAddr := addr >> 2
	for _, w := range m.protect {
		if (supervisor && w.enableSuper) || (!supervisor && w.enableUser) {
			if w.covers(wordAddr) {
				return true
			}
		}
	}
	return false
}

// Read services a load of 1, 2, 4, or 8 bytes at addr for the given asi.
// It returns the value (right-justified, zero-padded for sizes < 8) and
// the wait-state count to add to the cycle counter, or a *MemoryFault.
func (m *Memory) Read(asi uint8, addr uint32, size int) (uint64, uint32, error) {
	switch {
	case addr >= m.ramBase && addr < m.ramBase+m.ramSize:
		v, err := readBE(m.ram, addr-m.ramBase, size)
		if err != nil {
			return 0, 0, m.fault(FaultAlignment, asi, addr, false)
		}
		return v, m.wait.RAMRead, nil

	case addr >= MECBase && addr < MECBase+MECWindow:
		if size != 4 || !asiIsData(asi) || !asiIsSupervisor(asi) {
			return 0, 0, m.fault(FaultMECAccess, asi, addr, false)
		}
		v, err := m.mec.Read(addr - MECBase)
		if err != nil {
			return 0, 0, m.fault(FaultMECAccess, asi, addr, false)
		}
		return uint64(v), 0, nil

	case addr < m.romSize:
		v, err := readBE(m.rom, addr, size)
		if err != nil {
			return 0, 0, m.fault(FaultAlignment, asi, addr, false)
		}
		return v, m.wait.ROMRead, nil

	default:
		return 0, 0, m.fault(FaultUnimplementedAccess, asi, addr, false)
	}
}

// Write services a store of 1, 2, 4, or 8 bytes at addr for the given asi.
// It returns the wait-state count, or a *MemoryFault. STD stores pay one
// extra RAM-write wait state per spec.md §4.3.
func (m *Memory) Write(asi uint8, addr uint32, size int, value uint64) (uint32, error) {
	switch {
	case addr >= m.ramBase && addr < m.ramBase+m.ramSize:
		if m.writeProtected(addr, asiIsSupervisor(asi)) {
			return 0, m.fault(FaultProtection, asi, addr, true)
		}
		if err := writeBE(m.ram, addr-m.ramBase, size, value); err != nil {
			return 0, m.fault(FaultAlignment, asi, addr, true)
		}
		ws := m.wait.RAMWrite
		if size == 8 {
			ws++
		}
		return ws, nil

	case addr >= MECBase && addr < MECBase+MECWindow:
		if size != 4 || !asiIsData(asi) || !asiIsSupervisor(asi) {
			return 0, m.fault(FaultMECAccess, asi, addr, true)
		}
		if err := m.mec.Write(addr-MECBase, uint32(value)); err != nil {
			return 0, m.fault(FaultMECAccess, asi, addr, true)
		}
		return 0, nil

	case addr < m.romSize:
		if !m.romWriteEn {
			return 0, m.fault(FaultUnimplementedAccess, asi, addr, true)
		}
		if err := writeBE(m.rom, addr, size, value); err != nil {
			return 0, m.fault(FaultAlignment, asi, addr, true)
		}
		return m.wait.ROMWrite, nil

	default:
		return 0, m.fault(FaultUnimplementedAccess, asi, addr, true)
	}
}

// fault records a memory-subsystem error both locally (LastFault, for
// host diagnostics) and into the MEC's mec_sfsr/mec_ffar registers
// (spec.md §4.3: "the memory subsystem sets three MEC fault-registers"),
// then returns it as the error the caller propagates to the CPU's trap
// pipeline.
func (m *Memory) fault(kind FaultKind, asi uint8, addr uint32, write bool) error {
	f := &MemoryFault{Kind: kind, ASI: asi, Addr: addr, Write: write}
	m.lastFault = f
	if m.mec != nil {
		m.mec.RecordFault(kind, asi, addr, write)
	}
	return f
}

// readBE loads size (1,2,4,8) bytes big-endian from buf at byte offset off.
func readBE(buf []byte, off uint32, size int) (uint64, error) {
	if size != 1 && off%uint32(size) != 0 {
		return 0, fmt.Errorf("unaligned access size=%d off=0x%x", size, off)
	}
	if uint64(off)+uint64(size) > uint64(len(buf)) {
		return 0, fmt.Errorf("out of range off=0x%x size=%d", off, size)
	}
	var v uint64
	for i := 0; i < size; i++ {
		v = (v << 8) | uint64(buf[off+uint32(i)])
	}
	return v, nil
}

// writeBE stores the low size*8 bits of value big-endian into buf at off.
func writeBE(buf []byte, off uint32, size int, value uint64) error {
	if size != 1 && off%uint32(size) != 0 {
		return fmt.Errorf("unaligned access size=%d off=0x%x", size, off)
	}
	if uint64(off)+uint64(size) > uint64(len(buf)) {
		return fmt.Errorf("out of range off=0x%x size=%d", off, size)
	}
	for i := 0; i < size; i++ {
		shift := uint(8 * (size - 1 - i))
		buf[off+uint32(i)] = byte(value >> shift)
	}
	return nil
}
