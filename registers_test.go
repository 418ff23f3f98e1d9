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

func TestRegisterZeroAlwaysReadsZero(t *testing.T) {
	var r RegisterFile
	r.Write(0, 0, 0xDEADBEEF)
	require.Equal(t, uint32(0), r.Read(0, 0))
}

func TestGlobalsAreWindowIndependent(t *testing.T) {
	var r RegisterFile
	r.Write(0, 3, 0x11)
	require.Equal(t, uint32(0x11), r.Read(5, 3))
}

func TestWindowedRegistersAreIsolatedPerWindow(t *testing.T) {
	var r RegisterFile
	r.Write(0, 16, 0xAA) // %l0 of window 0
	r.Write(1, 16, 0xBB) // %l0 of window 1
	require.Equal(t, uint32(0xAA), r.Read(0, 16))
	require.Equal(t, uint32(0xBB), r.Read(1, 16))
}

func TestOutRegistersOverlapNextWindowIns(t *testing.T) {
	var r RegisterFile
	r.Write(2, 8, 0x42) // %o0 of window 2
	require.Equal(t, uint32(0x42), r.Read(1, 24), "%%i0 of window 1 aliases %%o0 of window 2")

	r.Write(1, 24, 0x99) // %i0 of window 1, same cell
	require.Equal(t, uint32(0x99), r.Read(2, 8))
}

func TestPSRPackUnpackRoundTrip(t *testing.T) {
	p := PSR{N: true, V: true, S: true, ET: true, PIL: 9, CWP: 3}
	got := UnpackPSR(p.Pack())
	require.Equal(t, p, got)
}
