package protocol

// InputBuffer is received data waiting to be parsed.
type InputBuffer interface {
	Data() []byte
	Available() int
	// Pop drops n bytes from the front.
	Pop(n int)
}

// OutputBuffer collects outgoing frames. Frames are written in place and
// their length byte patched afterwards with Update.
type OutputBuffer interface {
	Output(data []byte)
	CurPosition() int
	Update(pos int, val byte)
	DataSince(pos int) []byte
}

// SliceInputBuffer reads from a fixed slice.
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte { return s.data }

func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	s.data = s.data[min(n, len(s.data)):]
}

// ScratchOutput is an OutputBuffer over a fixed array. Output past the end
// is dropped.
type ScratchOutput struct {
	buf [MessageMax]byte
	pos int
}

func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	s.pos += copy(s.buf[s.pos:], data)
}

func (s *ScratchOutput) CurPosition() int { return s.pos }

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos < s.pos {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Result returns everything written since the last Reset.
func (s *ScratchOutput) Result() []byte { return s.buf[:s.pos] }

func (s *ScratchOutput) Reset() { s.pos = 0 }

// FifoBuffer queues received bytes. Data is always one contiguous slice:
// consumed bytes are reclaimed by moving the rest to the front when a write
// needs the room.
type FifoBuffer struct {
	buf         []byte
	read, write int
}

// NewFifoBuffer creates a buffer holding up to capacity bytes.
func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns how much that was.
func (f *FifoBuffer) Write(data []byte) int {
	if f.write+len(data) > len(f.buf) && f.read > 0 {
		f.write = copy(f.buf, f.buf[f.read:f.write])
		f.read = 0
	}
	n := copy(f.buf[f.write:], data)
	f.write += n
	return n
}

func (f *FifoBuffer) Available() int { return f.write - f.read }

func (f *FifoBuffer) Data() []byte { return f.buf[f.read:f.write] }

func (f *FifoBuffer) Pop(n int) {
	f.read += min(n, f.Available())
	if f.read == f.write {
		f.Reset()
	}
}

func (f *FifoBuffer) Reset() {
	f.read, f.write = 0, 0
}
