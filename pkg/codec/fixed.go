package codec

// FixedBuffer is a bounded buffer with independent read and write positions.
// It never grows: a write that does not fit fails with ErrBufferOverflow and
// writes nothing.
//
// A FixedBuffer is not safe for concurrent use.
type FixedBuffer struct {
	buf []byte
	r   int
	w   int
}

// NewFixedBuffer returns an empty buffer able to hold capacity bytes.
func NewFixedBuffer(capacity int) *FixedBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &FixedBuffer{buf: make([]byte, capacity)}
}

// WrapFixed returns a full buffer over p, ready to be read. p is not copied.
func WrapFixed(p []byte) *FixedBuffer {
	return &FixedBuffer{buf: p, w: len(p)}
}

func (b *FixedBuffer) WriteInt32(v int32) error {
	if len(b.buf)-b.w < int32Size {
		return ErrBufferOverflow
	}
	Encoding.PutUint32(b.buf[b.w:], uint32(v))
	b.w += int32Size
	return nil
}

func (b *FixedBuffer) WriteBytes(p []byte) error {
	if len(b.buf)-b.w < len(p) {
		return ErrBufferOverflow
	}
	b.w += copy(b.buf[b.w:], p)
	return nil
}

func (b *FixedBuffer) ReadInt32() (int32, error) {
	if err := checkRead(int32Size, b.Len()); err != nil {
		return 0, err
	}
	v := int32(Encoding.Uint32(b.buf[b.r:]))
	b.r += int32Size
	return v, nil
}

// ReadBytes returns a copy of the next n bytes.
func (b *FixedBuffer) ReadBytes(n int) ([]byte, error) {
	if err := checkRead(n, b.Len()); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b.buf[b.r:b.r+n])
	b.r += n
	return out, nil
}

// Len returns the number of written but unread bytes.
func (b *FixedBuffer) Len() int { return b.w - b.r }

// Cap returns the fixed capacity.
func (b *FixedBuffer) Cap() int { return len(b.buf) }

// Available returns how many more bytes can be written.
func (b *FixedBuffer) Available() int { return len(b.buf) - b.w }

// Bytes returns the unread window. It aliases the buffer storage.
func (b *FixedBuffer) Bytes() []byte { return b.buf[b.r:b.w] }

// Reset empties the buffer, keeping its capacity.
func (b *FixedBuffer) Reset() { b.r, b.w = 0, 0 }

func (b *FixedBuffer) writeMark() int { return b.Len() }

func (b *FixedBuffer) rewindWrite(n int) { b.w = b.r + n }

var _ Buffer = (*FixedBuffer)(nil)
