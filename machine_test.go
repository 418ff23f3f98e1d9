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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestMachine(t *testing.T) *Machine {
	cfg := DefaultConfig()
	m, err := NewMachine(cfg)
	require.NoError(t, err)
	m.Reset(0)
	return m
}

// TestResetState covers spec.md scenario S1: power-on PC/NPC, supervisor
// mode, and the documented default RAM/ROM sizing.
func TestResetState(t *testing.T) {
	m := newTestMachine(t)
	require.Equal(t, uint32(0), m.CPU.PC())
	require.Equal(t, uint32(4), m.CPU.NPC())
	require.True(t, m.CPU.PSR().S)
	require.Equal(t, uint8(0), m.Interrupt.ExtIRL())
	require.Equal(t, uint16(0), m.Interrupt.Pending())

	require.Equal(t, uint32(1<<22), m.Memory.ramSize)
	require.Equal(t, uint32(1<<20), m.Memory.romSize)
}

// TestWriteProtectFaultThroughFullStack covers scenario S4: a write into
// a protected RAM window surfaces as a MemoryFault with FaultProtection,
// observable end to end through Machine's MEC-configured protect window,
// and decodes through mec_sfsr/mec_ffar the way a guest trap handler
// would read them back.
func TestWriteProtectFaultThroughFullStack(t *testing.T) {
	m := newTestMachine(t)
	require.NoError(t, m.MEC.Write(regProt1, (0<<16)|(0xFF<<8)|(1<<1))) // enableSuper over word 0..255

	_, err := m.Memory.Write(ASISupervisorData, m.Memory.ramBase, 4, 0xDEADBEEF)
	require.Error(t, err)
	var mf *MemoryFault
	require.ErrorAs(t, err, &mf)
	require.Equal(t, FaultProtection, mf.Kind)

	sfsr, err := m.MEC.Read(regSFSR)
	require.NoError(t, err)
	require.Equal(t, uint32(FaultProtection), sfsr&0xFF, "sfsr kind")
	require.Equal(t, uint32(ASISupervisorData), (sfsr>>8)&0xFF, "sfsr asi")
	require.NotZero(t, sfsr&(1<<16), "sfsr write direction")

	ffar, err := m.MEC.Read(regFFAR)
	require.NoError(t, err)
	require.Equal(t, m.Memory.ramBase, ffar)
}

// TestUARTALoopbackThroughMEC covers scenario S5: bytes queued on UART
// A's host side become readable through the MEC register window.
func TestUARTALoopbackThroughMEC(t *testing.T) {
	m := newTestMachine(t)
	host := bytes.NewBuffer([]byte{0x58})
	m.UARTA.host = host
	m.UARTA.SetMode(UARTFast)

	m.Scheduler.AdvanceTo(uartPollPeriod)
	stat, err := m.MEC.Read(regUARTAStat)
	require.NoError(t, err)
	require.NotZero(t, stat&1, "data_ready bit set")

	data, err := m.MEC.Read(regUARTAData)
	require.NoError(t, err)
	require.Equal(t, uint32(0x58), data)
}

// TestWatchdogResetMarksERSR covers scenario S6: an unserviced watchdog
// expiry reboots the machine and leaves mec_ersr.watchdog_reset set.
func TestWatchdogResetMarksERSR(t *testing.T) {
	m := newTestMachine(t)
	m.Watchdog.ConfigureWatchdog(0, 1, 0)

	for i := 0; i < 8 && !m.resetPending; i++ {
		m.Scheduler.AdvanceTo(m.Scheduler.Now() + 1)
	}
	require.True(t, m.watchdogCausedReset)

	m.Reset(0)
	v, err := m.MEC.Read(regERSR)
	require.NoError(t, err)
	require.NotZero(t, v&ersrWatchdogReset)
}

func TestLoadROMRejectsOversizeImage(t *testing.T) {
	m := newTestMachine(t)
	big := make([]byte, m.Memory.romSize+1)
	err := m.LoadROM(big)
	require.Error(t, err)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
}

func TestSoftwareResetRequestIsServicedNextStep(t *testing.T) {
	m := newTestMachine(t)
	require.NoError(t, m.MEC.Write(regMCR, mcrSoftReset))
	require.True(t, m.resetPending)
	m.Step()
	require.False(t, m.resetPending)
}
