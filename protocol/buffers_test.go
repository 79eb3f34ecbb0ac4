package protocol

import (
	"bytes"
	"testing"
)

func TestSliceInputBuffer(t *testing.T) {
	buf := NewSliceInputBuffer([]byte{1, 2, 3, 4, 5})
	if buf.Available() != 5 {
		t.Errorf("Expected 5 bytes available, got %d", buf.Available())
	}

	buf.Pop(2)
	if data := buf.Data(); len(data) != 3 || data[0] != 3 {
		t.Errorf("After popping 2, expected [3 4 5], got %v", data)
	}
	buf.Pop(10)
	if buf.Available() != 0 {
		t.Errorf("Expected empty buffer, got %d bytes", buf.Available())
	}
}

func TestScratchOutput(t *testing.T) {
	scratch := NewScratchOutput()
	scratch.Output([]byte{1, 2, 3})
	scratch.Output([]byte{4, 5})
	if scratch.CurPosition() != 5 {
		t.Errorf("Expected position 5, got %d", scratch.CurPosition())
	}

	scratch.Update(0, 99)
	scratch.Update(7, 99) // past the data, ignored
	if !bytes.Equal(scratch.Result(), []byte{99, 2, 3, 4, 5}) {
		t.Errorf("Expected [99 2 3 4 5], got %v", scratch.Result())
	}
	if since := scratch.DataSince(2); !bytes.Equal(since, []byte{3, 4, 5}) {
		t.Errorf("DataSince(2): expected [3 4 5], got %v", since)
	}
	if scratch.DataSince(6) != nil {
		t.Error("Expected nil past the write position")
	}

	scratch.Reset()
	if scratch.CurPosition() != 0 || len(scratch.Result()) != 0 {
		t.Errorf("After reset, expected empty output, got %v", scratch.Result())
	}
}

func TestScratchOutputDropsOverflow(t *testing.T) {
	scratch := NewScratchOutput()
	scratch.Output(make([]byte, MessageMax-1))
	scratch.Output([]byte{1, 2, 3})
	if scratch.CurPosition() != MessageMax {
		t.Errorf("Expected position %d, got %d", MessageMax, scratch.CurPosition())
	}
}

func TestFifoBuffer(t *testing.T) {
	fifo := NewFifoBuffer(10)
	if fifo.Available() != 0 {
		t.Errorf("Empty FIFO should have 0 available, got %d", fifo.Available())
	}

	if written := fifo.Write([]byte{1, 2, 3, 4, 5}); written != 5 {
		t.Errorf("Expected to write 5 bytes, wrote %d", written)
	}
	fifo.Pop(3)
	if !bytes.Equal(fifo.Data(), []byte{4, 5}) {
		t.Errorf("Expected [4 5], got %v", fifo.Data())
	}

	// needs the popped room
	if written := fifo.Write([]byte{6, 7, 8, 9, 10, 11, 12}); written != 7 {
		t.Errorf("Expected to write 7 bytes, wrote %d", written)
	}
	if !bytes.Equal(fifo.Data(), []byte{4, 5, 6, 7, 8, 9, 10, 11, 12}) {
		t.Errorf("Expected contiguous data, got %v", fifo.Data())
	}

	if written := fifo.Write([]byte{13, 14}); written != 1 {
		t.Errorf("Expected 1 byte to fit, wrote %d", written)
	}
	if fifo.Available() != 10 {
		t.Errorf("Expected a full FIFO, got %d", fifo.Available())
	}

	fifo.Pop(20)
	if fifo.Available() != 0 {
		t.Errorf("Expected empty FIFO, got %d", fifo.Available())
	}
	fifo.Reset()
	if written := fifo.Write(make([]byte, 12)); written != 10 {
		t.Errorf("Expected to write 10 bytes to size-10 FIFO, wrote %d", written)
	}
}
