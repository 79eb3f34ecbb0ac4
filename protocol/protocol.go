// Package protocol is the framed serial link between the profiler host and
// the firmware. Frames follow the Klipper layout: length, sequence, VLQ
// encoded message id and arguments, CRC16 and a sync byte.
package protocol

// Version is reported in the dictionary.
const Version = "0.1.0"

// Frame layout.
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3 // offset from the end
	MessageTrailerSync = 1 // offset from the end
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
	MessageSeqMask     = 0x0F

	// MessageMax is the output buffer size, room for several frames.
	MessageMax = 512
)

type frameStatus uint8

const (
	frameOK frameStatus = iota
	frameShort
	frameBad
)

// checkFrame validates the frame at the start of data and returns its
// length.
func checkFrame(data []byte) (int, frameStatus) {
	if len(data) < MessageLengthMin {
		return 0, frameShort
	}
	msgLen := int(data[MessagePositionLen])
	if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
		return 0, frameBad
	}
	if len(data) < msgLen {
		return 0, frameShort
	}
	crc := uint16(data[msgLen-MessageTrailerCRC])<<8 | uint16(data[msgLen-MessageTrailerCRC+1])
	if data[msgLen-MessageTrailerSync] != MessageValueSync || crc != CRC16(data[:msgLen-MessageTrailerSize]) {
		return 0, frameBad
	}
	return msgLen, frameOK
}

// nextSeq advances a host sequence number.
func nextSeq(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
