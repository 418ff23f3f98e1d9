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

func TestExtIRLPicksHighestUnmaskedPending(t *testing.T) {
	ic := NewInterruptController()
	ic.Raise(5)
	ic.Raise(9)
	require.Equal(t, uint8(9), ic.ExtIRL())

	ic.SetMasked(1 << 9)
	require.Equal(t, uint8(5), ic.ExtIRL())
}

func TestAcknowledgeClearsPending(t *testing.T) {
	ic := NewInterruptController()
	ic.Raise(7)
	ic.Acknowledge(7)
	require.Equal(t, uint8(0), ic.ExtIRL())
}

func TestForcedBitsOnlyAssertInTestMode(t *testing.T) {
	ic := NewInterruptController()
	ic.SetForced(1 << 4)
	require.Equal(t, uint8(0), ic.ExtIRL(), "force bits must not assert outside test mode")

	ic.SetTestMode(true)
	ic.SetForced(1 << 4)
	require.Equal(t, uint8(4), ic.ExtIRL())
}

func TestLevelZeroNeverAsserts(t *testing.T) {
	ic := NewInterruptController()
	ic.Raise(0)
	require.Equal(t, uint8(0), ic.ExtIRL())
}

func TestResetClearsAllBitmaps(t *testing.T) {
	ic := NewInterruptController()
	ic.Raise(3)
	ic.SetMasked(0xFF)
	ic.SetTestMode(true)
	ic.Reset()
	require.Equal(t, uint16(0), ic.Pending())
	require.Equal(t, uint16(0), ic.Masked())
	require.False(t, ic.TestMode())
}
