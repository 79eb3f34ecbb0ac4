package protocol

import (
	"bytes"
	"testing"
)

func TestVLQEncoding(t *testing.T) {
	testCases := []struct {
		value    int32
		expected []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{95, []byte{0x5f}},
		{96, []byte{0x80, 0x60}},
		{-1, []byte{0x7f}},
		{-32, []byte{0x60}},
		{-33, []byte{0xff, 0x5f}},
		{128, []byte{0x81, 0x00}},
		{1000, []byte{0x87, 0x68}},
		{-1000, []byte{0xf8, 0x18}},
		{1000000, []byte{0xbd, 0x84, 0x40}},
		{0x7fffffff, []byte{0x87, 0xff, 0xff, 0xff, 0x7f}},
		{-0x80000000, []byte{0xf8, 0x80, 0x80, 0x80, 0x00}},
	}

	for _, tc := range testCases {
		output := NewScratchOutput()
		EncodeVLQInt(output, tc.value)
		encoded := output.Result()
		if !bytes.Equal(encoded, tc.expected) {
			t.Errorf("EncodeVLQInt(%d): expected %x, got %x", tc.value, tc.expected, encoded)
		}

		data := encoded
		decoded, err := DecodeVLQInt(&data)
		if err != nil {
			t.Errorf("DecodeVLQInt(%x) failed: %v", encoded, err)
			continue
		}
		if decoded != tc.value {
			t.Errorf("Expected %d, got %d", tc.value, decoded)
		}
		if len(data) != 0 {
			t.Errorf("Value %d: %d bytes left after decoding", tc.value, len(data))
		}
	}
}

func TestVLQUintFullRange(t *testing.T) {
	for _, v := range []uint32{0, 127, 65535, 1 << 31, 0xffffffff} {
		output := NewScratchOutput()
		EncodeVLQUint(output, v)
		data := output.Result()
		if got, err := DecodeVLQUint(&data); err != nil || got != v {
			t.Errorf("Expected %d, got %d (%v)", v, got, err)
		}
	}
}

func TestDecodeVLQReportsLength(t *testing.T) {
	v, n, err := DecodeVLQ([]byte{0x81, 0x00, 0x05})
	if err != nil || v != 128 || n != 2 {
		t.Errorf("Expected 128 in 2 bytes, got %d in %d (%v)", v, n, err)
	}
}

func TestVLQBytesAndStrings(t *testing.T) {
	output := NewScratchOutput()
	EncodeVLQBytes(output, []byte{0xff, 0xfe})
	EncodeVLQString(output, "")
	EncodeVLQString(output, "shutdown")
	EncodeVLQBytes(output, make([]byte, 50))

	data := output.Result()
	b, err := DecodeVLQBytes(&data)
	if err != nil || !bytes.Equal(b, []byte{0xff, 0xfe}) {
		t.Errorf("Expected fffe, got %x (%v)", b, err)
	}
	for _, expected := range []string{"", "shutdown"} {
		if s, err := DecodeVLQString(&data); err != nil || s != expected {
			t.Errorf("Expected '%s', got '%s' (%v)", expected, s, err)
		}
	}
	if b, err := DecodeVLQBytes(&data); err != nil || len(b) != 50 {
		t.Errorf("Expected 50 bytes, got %d (%v)", len(b), err)
	}
	if len(data) != 0 {
		t.Errorf("Expected everything consumed, %d bytes left", len(data))
	}
}

func TestVLQTruncated(t *testing.T) {
	for _, data := range [][]byte{{}, {0x80}, {0x81, 0x80}} {
		d := data
		if _, err := DecodeVLQInt(&d); err != ErrBufferTooSmall {
			t.Errorf("%x: expected ErrBufferTooSmall, got %v", data, err)
		}
	}

	data := []byte{0x03, 0x01}
	if _, err := DecodeVLQBytes(&data); err != ErrBufferTooSmall {
		t.Errorf("Expected ErrBufferTooSmall for a short buffer, got %v", err)
	}
}

func TestVLQTooLong(t *testing.T) {
	data := []byte{0x81, 0x81, 0x81, 0x81, 0x81, 0x01}
	if _, err := DecodeVLQInt(&data); err != ErrInvalidVLQ {
		t.Errorf("Expected ErrInvalidVLQ, got %v", err)
	}
}
