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
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCPU(t *testing.T) *CPU {
	mem, err := NewMemory(1<<16, 1<<16, RAMBaseDflt, nil)
	require.NoError(t, err)
	c := NewCPU(mem, nil)
	c.psr.ET = true // most execute-level tests want traps enabled
	return c
}

func TestResetEstablishesPowerOnState(t *testing.T) {
	c := newTestCPU(t)
	require.Equal(t, uint32(0), c.PC())
	require.Equal(t, uint32(4), c.NPC())
	require.True(t, c.PSR().S)
	require.False(t, c.Halted())
}

func TestADDSetsOverflowOnSignedWrap(t *testing.T) {
	c := newTestCPU(t)
	c.WriteReg(1, 0x7FFFFFFF)
	c.WriteReg(2, 1)
	d := Decode(encodeFmt3Reg(2, 3, 0x10, 1, 2)) // ADDcc %r1,%r2,%r3
	tt, trapped := c.execute(d)
	require.False(t, trapped)
	require.Zero(t, tt)
	require.Equal(t, uint32(0x80000000), c.ReadReg(3))
	require.True(t, c.PSR().V)
	require.True(t, c.PSR().N)
}

func TestSUBSetsCarryOnBorrow(t *testing.T) {
	c := newTestCPU(t)
	c.WriteReg(1, 0)
	c.WriteReg(2, 1)
	d := Decode(encodeFmt3Reg(2, 3, 0x14, 1, 2)) // SUBcc %r1,%r2,%r3
	_, trapped := c.execute(d)
	require.False(t, trapped)
	require.Equal(t, uint32(0xFFFFFFFF), c.ReadReg(3))
	require.True(t, c.PSR().C)
	require.True(t, c.PSR().N)
}

func TestUDIVByZeroTraps(t *testing.T) {
	c := newTestCPU(t)
	c.WriteReg(1, 10)
	c.WriteReg(2, 0)
	d := Decode(encodeFmt3Reg(2, 3, 0x0E, 1, 2))
	tt, trapped := c.execute(d)
	require.True(t, trapped)
	require.Equal(t, uint8(TrapDivideByZero), tt)
}

func TestBiccTakenUpdatesNPCToTarget(t *testing.T) {
	c := newTestCPU(t)
	c.psr.Z = true
	c.pc, c.npc = 0x1000, 0x1004
	d := Decode(encodeBicc(0, 0x1, 4)) // BE, disp word-count 4 -> byte disp 16
	_, trapped := c.execute(d)
	require.False(t, trapped)
	require.Equal(t, uint32(0x1004), c.PC())
	require.Equal(t, uint32(0x1010), c.NPC())
}

func TestBiccNotTakenWithAnnulSkipsDelaySlot(t *testing.T) {
	c := newTestCPU(t)
	c.psr.Z = false
	c.pc, c.npc = 0x1000, 0x1004
	d := Decode(encodeBicc(1, 0x1, 4)) // BE,a — not taken since Z clear
	_, trapped := c.execute(d)
	require.False(t, trapped)
	require.True(t, c.annul)
}

func TestBATakenWithAnnulStillAnnulsDelaySlot(t *testing.T) {
	c := newTestCPU(t)
	c.pc, c.npc = 0x1000, 0x1004
	d := Decode(encodeBicc(1, 0x8, 4)) // BA,a
	_, trapped := c.execute(d)
	require.False(t, trapped)
	require.True(t, c.annul, "BA,a must annul its delay slot even though the branch is always taken")
}

func TestSaveTrapsOnWindowOverflow(t *testing.T) {
	c := newTestCPU(t)
	c.wim = windowMask(c.psr.CWP - 1 + NumWindows)
	d := Decode(encodeFmt3Reg(2, 1, 0x3C, 14, 0))
	tt, trapped := c.execute(d)
	require.True(t, trapped)
	require.Equal(t, uint8(TrapWindowOverflow), tt)
}

func TestSaveAdvancesWindowAndComputesSum(t *testing.T) {
	c := newTestCPU(t)
	startCWP := c.psr.CWP
	c.WriteReg(14, 100)
	d := Decode(encodeFmt3Imm(2, 1, 0x3C, 14, 5))
	_, trapped := c.execute(d)
	require.False(t, trapped)
	require.NotEqual(t, startCWP, c.psr.CWP)
	require.Equal(t, uint32(105), c.ReadReg(1))
}

func TestRestoreTrapsOnWindowUnderflow(t *testing.T) {
	c := newTestCPU(t)
	c.wim = windowMask(c.psr.CWP + 1)
	d := Decode(encodeFmt3Reg(2, 1, 0x3D, 14, 0))
	tt, trapped := c.execute(d)
	require.True(t, trapped)
	require.Equal(t, uint8(TrapWindowUnderflow), tt)
}

func TestTiccTrapsWithComputedTrapNumber(t *testing.T) {
	c := newTestCPU(t)
	c.WriteReg(1, 3)
	d := Decode(encodeFmt3Imm(2, 0x8, 0x3A, 1, 2)) // TA (Ticc cond=0x8, always taken), tn = 3+2
	tt, trapped := c.execute(d)
	require.True(t, trapped)
	require.Equal(t, uint8(TrapTrapInstruction)|5, tt)
}

func TestRETTRequiresSupervisor(t *testing.T) {
	c := newTestCPU(t)
	c.psr.S = false
	d := Decode(encodeFmt3Reg(2, 0, 0x39, 14, 0))
	tt, trapped := c.execute(d)
	require.True(t, trapped)
	require.Equal(t, uint8(TrapPrivilegedInstr), tt)
}

func TestRETTRestoresUserModeAndReenablesTraps(t *testing.T) {
	c := newTestCPU(t)
	c.psr.PS = false
	c.WriteReg(14, 0x2000)
	d := Decode(encodeFmt3Imm(2, 0, 0x39, 14, 8))
	_, trapped := c.execute(d)
	require.False(t, trapped)
	require.False(t, c.PSR().S)
	require.True(t, c.PSR().ET)
	require.Equal(t, uint32(0x2008), c.NPC(), "RETT's target becomes the new NPC under the delayed-control-transfer model")
}

func TestWrAsrPSRChangesSupervisorBit(t *testing.T) {
	c := newTestCPU(t)
	newPSR := PSR{S: false, ET: true, PIL: 2, CWP: c.psr.CWP}
	c.WriteReg(1, newPSR.Pack())
	d := Decode(encodeFmt3Imm(2, 0, 0x31, 1, 0)) // WRPSR %r1, 0
	_, trapped := c.execute(d)
	require.False(t, trapped)
	require.False(t, c.PSR().S)
	require.Equal(t, uint8(2), c.PSR().PIL)
}

func TestRdAsrRDWIMSupervisorOnly(t *testing.T) {
	c := newTestCPU(t)
	c.psr.S = false
	d := Decode(encodeFmt3Reg(2, 3, 0x2A, 0, 0))
	tt, trapped := c.execute(d)
	require.True(t, trapped)
	require.Equal(t, uint8(TrapPrivilegedInstr), tt)
}

func TestRdAsrRDYReturnsYRegister(t *testing.T) {
	c := newTestCPU(t)
	c.y = 0xCAFE
	d := Decode(encodeFmt3Reg(2, 5, 0x28, 0, 0))
	_, trapped := c.execute(d)
	require.False(t, trapped)
	require.Equal(t, uint32(0xCAFE), c.ReadReg(5))
}

func TestTrapEntersErrorModeWhenTrapsAlreadyDisabled(t *testing.T) {
	c := newTestCPU(t)
	c.psr.ET = false
	res := c.trap(uint8(TrapIllegalInstruction))
	require.True(t, c.Halted())
	require.True(t, res.Trapped)
}

func TestTrapSavesPCAndNPCIntoNewWindowLocals(t *testing.T) {
	c := newTestCPU(t)
	c.pc, c.npc = 0x3000, 0x3004
	oldCWP := c.psr.CWP
	res := c.trap(uint8(TrapIllegalInstruction))
	require.True(t, res.Trapped)
	require.NotEqual(t, oldCWP, c.psr.CWP)
	require.Equal(t, uint32(0x3000), c.ReadReg(17))
	require.Equal(t, uint32(0x3004), c.ReadReg(18))
	require.True(t, c.PSR().S)
	require.False(t, c.PSR().ET)
}

func TestRaiseInterruptVectorsThroughTBR(t *testing.T) {
	c := newTestCPU(t)
	c.tbr = 0x10000000
	c.RaiseInterrupt(5)
	require.Equal(t, uint32(0x10000150), c.PC())
}
