package codec

import "io"

const minStreamGrow = 64

// StreamBuffer is a growable buffer for network I/O. Bytes are appended at the
// tail as they arrive (it implements io.Writer) and consumed from the head.
// The reader position can be marked and rewound so a decode that ran out of
// bytes can be retried once more data arrived.
//
// A StreamBuffer is not safe for concurrent use.
type StreamBuffer struct {
	buf    []byte
	r      int
	mark   int
	marked bool
	max    int
}

// NewStreamBuffer returns an empty buffer. max bounds the number of buffered
// bytes; zero means unbounded.
func NewStreamBuffer(max int) *StreamBuffer {
	return &StreamBuffer{max: max}
}

// WrapStream returns an unbounded buffer holding p, ready to be read. p is not
// copied until the buffer needs to grow.
func WrapStream(p []byte) *StreamBuffer {
	return &StreamBuffer{buf: p[:len(p):len(p)]}
}

func (b *StreamBuffer) grow(n int) error {
	if b.max > 0 && b.Len()+n > b.max {
		return ErrBufferOverflow
	}
	if cap(b.buf)-len(b.buf) >= n {
		return nil
	}
	// Compact before reallocating when the consumed head is reclaimable.
	keep := b.reclaimable()
	if keep > 0 && cap(b.buf)-(len(b.buf)-keep) >= n {
		b.shift(keep)
		return nil
	}
	size := 2*cap(b.buf) + n
	if size < minStreamGrow {
		size = minStreamGrow
	}
	nb := make([]byte, len(b.buf)-keep, size)
	copy(nb, b.buf[keep:])
	b.buf = nb
	b.r -= keep
	if b.marked {
		b.mark -= keep
	}
	return nil
}

// reclaimable is the length of the consumed head no mark still refers to.
func (b *StreamBuffer) reclaimable() int {
	if b.marked && b.mark < b.r {
		return b.mark
	}
	return b.r
}

func (b *StreamBuffer) shift(keep int) {
	n := copy(b.buf, b.buf[keep:])
	b.buf = b.buf[:n]
	b.r -= keep
	if b.marked {
		b.mark -= keep
	}
}

func (b *StreamBuffer) WriteInt32(v int32) error {
	if err := b.grow(int32Size); err != nil {
		return err
	}
	var tmp [int32Size]byte
	Encoding.PutUint32(tmp[:], uint32(v))
	b.buf = append(b.buf, tmp[:]...)
	return nil
}

func (b *StreamBuffer) WriteBytes(p []byte) error {
	if err := b.grow(len(p)); err != nil {
		return err
	}
	b.buf = append(b.buf, p...)
	return nil
}

// Write appends p. It lets transport code feed received bytes directly.
func (b *StreamBuffer) Write(p []byte) (int, error) {
	if err := b.WriteBytes(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ReadFrom appends everything read from r until EOF.
func (b *StreamBuffer) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	for {
		if err := b.grow(minStreamGrow); err != nil {
			return total, err
		}
		n, err := r.Read(b.buf[len(b.buf):cap(b.buf)])
		b.buf = b.buf[:len(b.buf)+n]
		total += int64(n)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

func (b *StreamBuffer) ReadInt32() (int32, error) {
	if err := checkRead(int32Size, b.Len()); err != nil {
		return 0, err
	}
	v := int32(Encoding.Uint32(b.buf[b.r:]))
	b.r += int32Size
	return v, nil
}

// ReadBytes returns a copy of the next n bytes.
func (b *StreamBuffer) ReadBytes(n int) ([]byte, error) {
	if err := checkRead(n, b.Len()); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b.buf[b.r:b.r+n])
	b.r += n
	return out, nil
}

// Len returns the number of unread bytes.
func (b *StreamBuffer) Len() int { return len(b.buf) - b.r }

// Bytes returns the unread bytes. It aliases the buffer storage.
func (b *StreamBuffer) Bytes() []byte { return b.buf[b.r:] }

// MarkReader remembers the current read position. Bytes from the mark on are
// kept by compaction until ClearMark.
func (b *StreamBuffer) MarkReader() { b.mark, b.marked = b.r, true }

// ResetReader rewinds the read position to the last mark, if any.
func (b *StreamBuffer) ResetReader() {
	if b.marked {
		b.r = b.mark
	}
}

// ClearMark drops the mark so consumed bytes can be reclaimed.
func (b *StreamBuffer) ClearMark() { b.mark, b.marked = 0, false }

// Discard drops consumed bytes that no mark refers to.
func (b *StreamBuffer) Discard() {
	if keep := b.reclaimable(); keep > 0 {
		b.shift(keep)
	}
}

// Reset empties the buffer.
func (b *StreamBuffer) Reset() {
	b.buf = b.buf[:0]
	b.r = 0
	b.ClearMark()
}

func (b *StreamBuffer) writeMark() int { return b.Len() }

func (b *StreamBuffer) rewindWrite(n int) { b.buf = b.buf[:b.r+n] }

var (
	_ Buffer    = (*StreamBuffer)(nil)
	_ io.Writer = (*StreamBuffer)(nil)
)
