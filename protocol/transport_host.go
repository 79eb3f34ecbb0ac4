package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	ErrAckTimeout      = errors.New("protocol: no ack from mcu")
	ErrResponseTimeout = errors.New("protocol: no response from mcu")
	ErrClosed          = errors.New("protocol: transport closed")
	ErrSequence        = errors.New("protocol: ack sequence mismatch")
)

// DefaultAckTimeout bounds SendCommand.
const DefaultAckTimeout = 2 * time.Second

// Message is one frame received from the MCU.
type Message struct {
	Sequence uint8
	Payload  []byte // message id and arguments
}

// HostTransport is the host end of the link: it frames commands, waits for
// the MCU to acknowledge each one and queues the responses.
type HostTransport struct {
	port io.ReadWriteCloser

	sendMu sync.Mutex // one command in flight
	seq    uint8

	acks      chan uint8
	responses chan *Message

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewHostTransport starts reading port.
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:      port,
		seq:       MessageDest,
		acks:      make(chan uint8, 1),
		responses: make(chan *Message, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SendCommand sends a command and waits for its ack.
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, DefaultAckTimeout)
}

// SendCommandWithTimeout is SendCommand with a custom ack timeout.
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	frame, err := EncodeFrame(t.seq, cmdID, args)
	if err != nil {
		return err
	}
	if _, err := t.port.Write(frame); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case seq := <-t.acks:
		// the MCU acks with the sequence it expects next
		next := nextSeq(t.seq)
		if seq != next {
			return fmt.Errorf("%w: sent 0x%02x, got 0x%02x", ErrSequence, t.seq, seq)
		}
		t.seq = next
		return nil
	case <-timer.C:
		return ErrAckTimeout
	case <-t.stop:
		return ErrClosed
	}
}

// ReceiveResponse returns the oldest queued response.
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	if timeout <= 0 {
		return nil, ErrResponseTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-t.responses:
		return msg, nil
	case <-timer.C:
		return nil, ErrResponseTimeout
	case <-t.stop:
		return nil, ErrClosed
	}
}

// EncodeFrame builds one complete frame: header, message id, arguments, crc
// and sync byte.
func EncodeFrame(seq uint8, cmdID uint16, args func(output OutputBuffer)) ([]byte, error) {
	payload := NewScratchOutput()
	EncodeVLQUint(payload, uint32(cmdID))
	if args != nil {
		args(payload)
	}
	body := payload.Result()
	msgLen := MessageHeaderSize + len(body) + MessageTrailerSize
	if msgLen > MessageLengthMax {
		return nil, fmt.Errorf("message too long: %d bytes (max %d)", msgLen, MessageLengthMax)
	}

	frame := make([]byte, 0, msgLen)
	frame = append(frame, uint8(msgLen), seq)
	frame = append(frame, body...)
	crc := CRC16(frame)
	return append(frame, uint8(crc>>8), uint8(crc), MessageValueSync), nil
}

// DecodeFrame looks for one frame at the start of data. It returns the
// message, or nil if none is complete, and how many bytes to drop. Bytes
// that cannot start a valid frame are dropped up to the next sync byte.
func DecodeFrame(data []byte) (*Message, int) {
	if len(data) == 0 {
		return nil, 0
	}
	if data[0] == MessageValueSync {
		return nil, 1
	}
	msgLen, status := checkFrame(data)
	switch status {
	case frameShort:
		return nil, 0
	case frameBad:
		return nil, resync(data)
	}
	payload := make([]byte, msgLen-MessageHeaderSize-MessageTrailerSize)
	copy(payload, data[MessageHeaderSize:])
	return &Message{Sequence: data[MessagePositionSeq], Payload: payload}, msgLen
}

func resync(data []byte) int {
	for i, b := range data {
		if b == MessageValueSync {
			return i + 1
		}
	}
	return len(data)
}

func (t *HostTransport) readLoop() {
	defer close(t.done)

	in := NewFifoBuffer(512)
	buf := make([]byte, 256)
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		in.Write(buf[:n])
		for {
			msg, drop := DecodeFrame(in.Data())
			if drop == 0 {
				break
			}
			in.Pop(drop)
			if msg != nil {
				t.dispatch(msg)
			}
		}
	}
}

// dispatch routes empty frames to the ack channel and the rest to the
// response queue. A full queue loses its oldest entry.
func (t *HostTransport) dispatch(msg *Message) {
	if len(msg.Payload) == 0 {
		select {
		case t.acks <- msg.Sequence:
		default:
		}
		return
	}
	for {
		select {
		case t.responses <- msg:
			return
		default:
		}
		select {
		case <-t.responses:
		default:
		}
	}
}

// Close stops the reader and closes the port.
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.done
	})
	return err
}
