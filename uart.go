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

import "io"

// UARTChannel identifies which of the two ERC32 UARTs a device belongs to,
// since interrupt levels and MEC status-register bit positions differ
// between A and B.
type UARTChannel int

const (
	UARTChannelA UARTChannel = iota
	UARTChannelB
)

// UARTMode selects between the two servicing disciplines spec.md §4.7
// describes: fast mode polls the host stream on an interval and moves up
// to 1024 bytes at a time, accurate mode charges a fixed cycle cost per
// transmitted byte and schedules an individual TX completion event. In
// accurate mode no receive events are scheduled and nothing is read from
// the host stream.
type UARTMode int

const (
	UARTFast UARTMode = iota
	UARTAccurate
)

const (
	uartBufferCap  = 1024
	uartPollPeriod = 3000
	uartByteCycles = 1000
)

type uartRaiser interface {
	raiseInterrupt(level uint8)
}

// UART models one of the two bidirectional ERC32 console channels.
type UART struct {
	channel UARTChannel
	mode    UARTMode

	dataReady  bool
	holdEmpty  bool
	shiftEmpty bool
	overrun    bool

	hold  byte
	shift byte

	rxBuf []byte // staging queue filled from the host stream (fast mode)
	txBuf []byte // staging queue drained to the host stream (fast mode)

	host io.ReadWriter

	scheduler *Scheduler
	raiser    uartRaiser
	tracer    *Tracer

	rxTxKind EventKind // EventUARTATx/EventUARTBTx, used to key TX completion
}

// NewUART constructs a channel bound to host, initially idle (both hold
// and shift empty, no data waiting). tracer may be nil.
func NewUART(channel UARTChannel, host io.ReadWriter, s *Scheduler, r uartRaiser, tracer *Tracer) *UART {
	kind := EventUARTATx
	if channel == UARTChannelB {
		kind = EventUARTBTx
	}
	u := &UART{
		channel:   channel,
		host:      host,
		scheduler: s,
		raiser:    r,
		tracer:    tracer,
		rxTxKind:  kind,
	}
	u.Reset()
	return u
}

// Reset clears status and buffers and re-arms the polling event in fast
// mode, matching spec.md's "polling events may be re-armed immediately".
func (u *UART) Reset() {
	u.dataReady = false
	u.holdEmpty = true
	u.shiftEmpty = true
	u.overrun = false
	u.hold = 0
	u.shift = 0
	u.rxBuf = u.rxBuf[:0]
	u.txBuf = u.txBuf[:0]
	u.scheduler.Cancel(EventUARTPoll)
	u.scheduler.Cancel(u.rxTxKind)
	u.scheduler.Cancel(EventUARTRx)
	if u.mode == UARTFast {
		u.armPoll()
	}
}

// SetMode switches between fast and accurate servicing.
func (u *UART) SetMode(mode UARTMode) {
	u.mode = mode
	if mode == UARTFast {
		u.armPoll()
	} else {
		u.scheduler.Cancel(EventUARTPoll)
	}
}

func (u *UART) armPoll() {
	u.scheduler.Cancel(EventUARTPoll)
	u.scheduler.Schedule(uartPollPeriod, EventUARTPoll, 0, func(int32) { u.poll() })
}

// poll services host I/O in fast mode: drains the transmit buffer to the
// host and reads up to uartBufferCap bytes into the receive buffer.
func (u *UART) poll() {
	if len(u.txBuf) > 0 {
		if u.host != nil {
			u.host.Write(u.txBuf)
		}
		u.tracer.Tracef(2, "uart%s poll-tx bytes=%d", u.channelName(), len(u.txBuf))
		u.txBuf = u.txBuf[:0]
		u.shiftEmpty = true
		u.holdEmpty = true
		u.raiser.raiseInterrupt(u.txLevel())
	}
	if u.host != nil {
		buf := make([]byte, uartBufferCap)
		n, _ := u.host.Read(buf)
		if n > 0 {
			for _, b := range buf[:n] {
				u.pushRx(b)
			}
		}
	}
	u.armPoll()
}

func (u *UART) pushRx(b byte) {
	if len(u.rxBuf) >= uartBufferCap {
		u.overrun = true
		u.raiser.raiseInterrupt(overrunLevel)
		return
	}
	u.rxBuf = append(u.rxBuf, b)
	if !u.dataReady {
		u.hold = b
		u.dataReady = true
	}
	u.tracer.TraceUART(u.channel, false, b)
	u.raiser.raiseInterrupt(u.rxLevel())
}

func (u *UART) rxLevel() uint8 {
	if u.channel == UARTChannelA {
		return 4
	}
	return 5
}

func (u *UART) txLevel() uint8 { return u.rxLevel() }

func (u *UART) channelName() string {
	if u.channel == UARTChannelA {
		return "A"
	}
	return "B"
}

const overrunLevel = 7

// ReadData returns the next received byte (guest read of uart_X_data) and
// clears data_ready if the staging buffer is now empty. In fast mode,
// reading with nothing available returns 0 and sets no status bit, per
// spec.md's "never blocks the CPU" rule.
func (u *UART) ReadData() uint16 {
	if !u.dataReady || len(u.rxBuf) == 0 {
		return 0
	}
	b := u.rxBuf[0]
	u.rxBuf = u.rxBuf[1:]
	if len(u.rxBuf) > 0 {
		u.hold = u.rxBuf[0]
		u.dataReady = true
	} else {
		u.dataReady = false
	}
	return uint16(b)
}

// WriteData accepts a guest write to uart_X_data. In fast mode the byte is
// staged for the next poll; in accurate mode a TX-complete event is
// scheduled uartByteCycles cycles out.
func (u *UART) WriteData(value uint16) {
	b := byte(value)
	u.holdEmpty = false
	if u.mode == UARTFast {
		if len(u.txBuf) < uartBufferCap {
			u.txBuf = append(u.txBuf, b)
		}
		u.shiftEmpty = false
		return
	}
	u.shift = b
	u.shiftEmpty = false
	u.scheduler.Cancel(u.rxTxKind)
	u.scheduler.Schedule(uartByteCycles, u.rxTxKind, 0, func(int32) { u.txComplete() })
}

func (u *UART) txComplete() {
	if u.host != nil {
		u.host.Write([]byte{u.shift})
	}
	u.tracer.TraceUART(u.channel, true, u.shift)
	u.holdEmpty = true
	u.shiftEmpty = true
	u.raiser.raiseInterrupt(u.txLevel())
}

// Status returns the packed status bits (data_ready, hold_empty,
// shift_empty, overrun) in the low nibble, matching spec.md §4.7's bit
// list in that order.
func (u *UART) Status() uint32 {
	var v uint32
	if u.dataReady {
		v |= 1 << 0
	}
	if u.holdEmpty {
		v |= 1 << 1
	}
	if u.shiftEmpty {
		v |= 1 << 2
	}
	if u.overrun {
		v |= 1 << 3
	}
	return v
}

// ClearStatus services a write to the MEC status register's channel-clear
// bit: clears the sticky overrun bit and re-arms the TX-empty bits.
func (u *UART) ClearStatus() {
	u.overrun = false
	u.holdEmpty = true
	u.shiftEmpty = true
}
