//go:build rp2040 || rp2350

package main

import (
	"machine"

	"motorprofiler/core"
	"motorprofiler/protocol"
)

// maxWriteFailures is how many failed writes in a row mark the host as gone.
const maxWriteFailures = 10

// usbLink moves bytes between the CDC-ACM port and the transport. TinyGo
// sets up machine.Serial as USB CDC on the RP2040.
type usbLink struct {
	in  *protocol.FifoBuffer
	out *protocol.ScratchOutput
	tr  *protocol.Transport

	failures     uint32
	disconnected bool
	errors       uint32
	cmdErrors    uint32
}

func newUSBLink(handler protocol.CommandHandler) *usbLink {
	_ = machine.Serial.Configure(machine.UARTConfig{})
	l := &usbLink{
		in:  protocol.NewFifoBuffer(256),
		out: protocol.NewScratchOutput(),
	}
	l.tr = protocol.NewTransport(l.out, handler)
	l.tr.SetResetCallback(l.clear)
	// acks must leave before the responses they precede
	l.tr.SetFlushCallback(l.flush)
	return l
}

func (l *usbLink) clear() {
	l.in.Reset()
	l.out.Reset()
	core.ResetFirmwareState()
}

// poll drains the port into the input fifo. The first byte after a
// disconnect starts a fresh link.
func (l *usbLink) poll() {
	for machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			l.errors++
			return
		}
		if l.disconnected {
			l.disconnected = false
			l.failures = 0
			l.tr.Reset() // runs clear
		}
		if l.in.Write([]byte{b}) == 0 {
			l.errors++
			return
		}
	}
}

// service runs every complete frame and sends what they produced.
func (l *usbLink) service() {
	if l.in.Available() > 0 {
		l.tr.Receive(l.in)
		if n, err := l.tr.Errors(); n != l.cmdErrors {
			l.cmdErrors = n
			core.DebugPrintln("[link] command failed: " + err.Error())
		}
	}
	l.flush()
}

func (l *usbLink) flush() {
	pending := l.out.Result()
	for len(pending) > 0 {
		n, err := machine.Serial.Write(pending)
		if err != nil || n == 0 {
			l.failures++
			if l.failures > maxWriteFailures {
				// stale data is useless to a host that reconnects
				l.disconnected = true
				l.failures = 0
				l.in.Reset()
				l.out.Reset()
			}
			return
		}
		pending = pending[n:]
	}
	l.failures = 0
	l.out.Reset()
}
