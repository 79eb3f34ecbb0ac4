package protocol

// CommandHandler runs one decoded command. data holds the remaining frame
// and the handler consumes its own arguments from it.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the firmware end of the link. It validates frames from the
// host, acks every one of them and frames the responses.
//
// Acks and responses carry the sequence the host should use next. A frame
// with an unexpected sequence is not run; its ack then works as a nak.
type Transport struct {
	synced  bool
	nextSeq uint8

	cmdErrors uint32
	lastErr   error

	output        OutputBuffer
	handler       CommandHandler
	resetCallback func()
	flushCallback func()
}

// NewTransport creates a transport writing to output.
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		synced:  true,
		nextSeq: MessageDest,
		output:  output,
		handler: handler,
	}
}

// Receive consumes every complete frame in input.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !t.synced {
			skip := resync(data)
			found := data[skip-1] == MessageValueSync
			data = data[skip:]
			if found {
				t.synced = true
				t.encodeAck()
			}
			continue
		}
		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		msgLen, status := checkFrame(data)
		if status == frameShort {
			break
		}
		seq := data[MessagePositionSeq]
		if status == frameBad || seq&^MessageSeqMask != MessageDest {
			t.synced = false
			continue
		}
		frame := data[MessageHeaderSize : msgLen-MessageTrailerSize]
		data = data[msgLen:]

		// a host that restarts begins again at MessageDest
		if seq == MessageDest && t.nextSeq != MessageDest {
			t.nextSeq = MessageDest
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}
		if seq == t.nextSeq {
			t.nextSeq = nextSeq(seq)
			if err := t.runFrame(frame); err != nil {
				t.cmdErrors++
				t.lastErr = err
			}
		}
		t.encodeAck()
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
}

// runFrame dispatches every command in frame. A malformed id or a panicking
// handler drops the link out of sync.
func (t *Transport) runFrame(frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.synced = false
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.synced = false
			return err
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			return err
		}
	}
	return nil
}

// encodeAck writes an empty frame and flushes it at once: the host waits
// for the ack before it reads responses.
func (t *Transport) encodeAck() {
	crc := CRC16([]byte{MessageLengthMin, t.nextSeq})
	t.output.Output([]byte{MessageLengthMin, t.nextSeq, uint8(crc >> 8), uint8(crc), MessageValueSync})
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame frames whatever frameData writes.
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	cursor := t.output.CurPosition()
	t.output.Output([]byte{0, t.nextSeq})
	frameData(t.output)

	t.output.Update(cursor, uint8(len(t.output.DataSince(cursor))+MessageTrailerSize))
	crc := CRC16(t.output.DataSince(cursor))
	t.output.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
}

// SendCommand frames one response.
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Errors returns how many frames stopped on a failing command and the last
// such error.
func (t *Transport) Errors() (uint32, error) {
	return t.cmdErrors, t.lastErr
}

// Reset forgets the link state, after a USB reconnect.
func (t *Transport) Reset() {
	t.synced = true
	t.nextSeq = MessageDest
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback sets what runs when the host restarts.
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback sets how acks are pushed out immediately.
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}
