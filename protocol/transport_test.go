package protocol

import (
	"errors"
	"net"
	"testing"
	"time"
)

func TestFirmwareRunsFrameAndAcks(t *testing.T) {
	frame, err := EncodeFrame(MessageDest, 5, func(output OutputBuffer) {
		EncodeVLQUint(output, 42)
	})
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	var gotID uint16
	var gotArg uint32
	out := NewScratchOutput()
	tr := NewTransport(out, func(cmdID uint16, data *[]byte) error {
		gotID = cmdID
		gotArg, err = DecodeVLQUint(data)
		return err
	})
	tr.Receive(NewSliceInputBuffer(frame))

	if gotID != 5 || gotArg != 42 {
		t.Errorf("Expected command 5 with 42, got %d with %d", gotID, gotArg)
	}
	ack, n := DecodeFrame(out.Result())
	if ack == nil || n != MessageLengthMin {
		t.Fatalf("Expected an ack frame, got %v (%d bytes)", ack, n)
	}
	if len(ack.Payload) != 0 {
		t.Errorf("Expected empty ack payload, got %x", ack.Payload)
	}
	if ack.Sequence != MessageDest+1 {
		t.Errorf("Expected ack sequence 0x11, got 0x%02x", ack.Sequence)
	}
}

func TestFirmwareRecordsCommandErrors(t *testing.T) {
	frame, _ := EncodeFrame(MessageDest, 7, nil)
	failed := errors.New("no such oid")
	tr := NewTransport(NewScratchOutput(), func(cmdID uint16, data *[]byte) error {
		return failed
	})
	if n, err := tr.Errors(); n != 0 || err != nil {
		t.Fatalf("Expected no errors yet, got %d %v", n, err)
	}
	tr.Receive(NewSliceInputBuffer(frame))

	n, err := tr.Errors()
	if n != 1 || !errors.Is(err, failed) {
		t.Errorf("Expected one recorded error, got %d %v", n, err)
	}
}

func TestFirmwareNaksWrongSequence(t *testing.T) {
	frame, _ := EncodeFrame(MessageDest+2, 5, nil)
	called := false
	out := NewScratchOutput()
	tr := NewTransport(out, func(cmdID uint16, data *[]byte) error {
		called = true
		return nil
	})
	tr.Receive(NewSliceInputBuffer(frame))

	if called {
		t.Error("Expected out of sequence frame to be skipped")
	}
	ack, _ := DecodeFrame(out.Result())
	if ack == nil || ack.Sequence != MessageDest {
		t.Errorf("Expected nak asking for 0x10, got %v", ack)
	}
}

func TestFirmwareResyncsAfterGarbage(t *testing.T) {
	frame, _ := EncodeFrame(MessageDest, 9, nil)
	data := append([]byte{0x03, 0xff, 0x20, MessageValueSync}, frame...)

	calls := 0
	out := NewScratchOutput()
	tr := NewTransport(out, func(cmdID uint16, data *[]byte) error {
		calls++
		return nil
	})
	input := NewSliceInputBuffer(data)
	tr.Receive(input)

	if calls != 1 {
		t.Errorf("Expected the frame after the garbage to run once, ran %d times", calls)
	}
	if input.Available() != 0 {
		t.Errorf("Expected all input consumed, %d bytes left", input.Available())
	}
}

func TestDecodeFrameSkipsGarbage(t *testing.T) {
	frame, _ := EncodeFrame(MessageDest, 300, nil)
	data := append([]byte{0x01, 0x02, MessageValueSync}, frame...)

	var msg *Message
	for msg == nil {
		m, n := DecodeFrame(data)
		if n == 0 {
			t.Fatal("Expected progress on every call")
		}
		data = data[n:]
		msg = m
	}
	payload := msg.Payload
	if id, _ := DecodeVLQUint(&payload); id != 300 {
		t.Errorf("Expected id 300, got %d", id)
	}
	if len(data) != 0 {
		t.Errorf("Expected nothing left, got %d bytes", len(data))
	}
}

func TestEncodeFrameTooLong(t *testing.T) {
	_, err := EncodeFrame(MessageDest, 1, func(output OutputBuffer) {
		output.Output(make([]byte, MessageLengthMax))
	})
	if err == nil {
		t.Error("Expected error for an oversized frame")
	}
}

// firmware runs a Transport behind conn until it is closed.
func firmware(conn net.Conn, handler CommandHandler) *Transport {
	out := NewScratchOutput()
	tr := NewTransport(out, handler)
	go func() {
		in := NewFifoBuffer(256)
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			in.Write(buf[:n])
			tr.Receive(in)
			if res := out.Result(); len(res) > 0 {
				if _, err := conn.Write(res); err != nil {
					return
				}
			}
			out.Reset()
		}
	}()
	return tr
}

func TestHostTransportRoundTrip(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	defer mcuEnd.Close()

	var tr *Transport
	tr = firmware(mcuEnd, func(cmdID uint16, data *[]byte) error {
		v, err := DecodeVLQInt(data)
		if err != nil {
			return err
		}
		tr.SendCommand(cmdID+100, func(output OutputBuffer) {
			EncodeVLQInt(output, -v)
		})
		return nil
	})

	host := NewHostTransport(hostEnd)
	for i, v := range []int32{7, -1234} {
		err := host.SendCommand(uint16(i+1), func(output OutputBuffer) {
			EncodeVLQInt(output, v)
		})
		if err != nil {
			t.Fatalf("SendCommand %d failed: %v", i, err)
		}
		msg, err := host.ReceiveResponse(time.Second)
		if err != nil {
			t.Fatalf("ReceiveResponse %d failed: %v", i, err)
		}
		payload := msg.Payload
		id, _ := DecodeVLQUint(&payload)
		got, _ := DecodeVLQInt(&payload)
		if id != uint32(i+101) || got != -v {
			t.Errorf("Expected response %d with %d, got %d with %d", i+101, -v, id, got)
		}
	}

	if err := host.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := host.SendCommand(1, nil); err == nil {
		t.Error("Expected an error after Close")
	}
}

func TestHostTransportAckTimeout(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	defer mcuEnd.Close()
	go func() {
		// swallow everything, never answer
		buf := make([]byte, 64)
		for {
			if _, err := mcuEnd.Read(buf); err != nil {
				return
			}
		}
	}()

	host := NewHostTransport(hostEnd)
	defer host.Close()
	err := host.SendCommandWithTimeout(1, nil, 20*time.Millisecond)
	if !errors.Is(err, ErrAckTimeout) {
		t.Errorf("Expected ErrAckTimeout, got %v", err)
	}
	if _, err := host.ReceiveResponse(10 * time.Millisecond); !errors.Is(err, ErrResponseTimeout) {
		t.Errorf("Expected ErrResponseTimeout, got %v", err)
	}
}
