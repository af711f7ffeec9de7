package codec

import (
	"errors"
	"fmt"
)

// Member identifies one node of the cluster: where clients reach it and
// where its raft peers reach it.
type Member struct {
	CoreAddress Address
	RaftAddress Address
}

// NewMember parses two "host:port" strings into a Member.
func NewMember(core, raft string) (Member, error) {
	c, err := ParseAddress(core)
	if err != nil {
		return Member{}, fmt.Errorf("core address: %w", err)
	}
	r, err := ParseAddress(raft)
	if err != nil {
		return Member{}, fmt.Errorf("raft address: %w", err)
	}
	return Member{CoreAddress: c, RaftAddress: r}, nil
}

func (m Member) String() string {
	return fmt.Sprintf("Member{core=%s, raft=%s}", m.CoreAddress, m.RaftAddress)
}

// Validate checks both addresses.
func (m Member) Validate() error {
	if err := m.CoreAddress.Validate(); err != nil {
		return fmt.Errorf("core address: %w", err)
	}
	if err := m.RaftAddress.Validate(); err != nil {
		return fmt.Errorf("raft address: %w", err)
	}
	return nil
}

// EncodedSize is the exact length of the encoded record.
func (m Member) EncodedSize() int {
	return m.CoreAddress.EncodedSize() + m.RaftAddress.EncodedSize()
}

// Marshal writes the core address and then the raft address. On failure a
// FixedBuffer or StreamBuffer is left as it was before the call.
func Marshal(w Writer, m Member) error {
	return atomically(w, func() error {
		if err := EncodeAddress(w, m.CoreAddress); err != nil {
			return err
		}
		return EncodeAddress(w, m.RaftAddress)
	})
}

// Unmarshal reads a Member written by Marshal. On error the returned Member is
// always the zero value.
func Unmarshal(r Reader) (Member, error) {
	core, err := DecodeAddress(r)
	if err != nil {
		return Member{}, err
	}
	raft, err := DecodeAddress(r)
	if err != nil {
		return Member{}, err
	}
	return Member{CoreAddress: core, RaftAddress: raft}, nil
}

// TryUnmarshal decodes a Member from a stream that may not hold a whole
// record yet. On ErrBufferUnderflow the read position is rewound so the
// call can be repeated after more bytes were written.
func TryUnmarshal(b *StreamBuffer) (Member, error) {
	b.MarkReader()
	defer b.ClearMark()
	m, err := Unmarshal(b)
	if errors.Is(err, ErrBufferUnderflow) {
		b.ResetReader()
	}
	return m, err
}

func (m Member) EncodeTo(w Writer) error { return Marshal(w, m) }

func (m *Member) DecodeFrom(r Reader) error {
	v, err := Unmarshal(r)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MarshalBinary encodes m into an exactly sized slice.
func (m Member) MarshalBinary() ([]byte, error) {
	buf := NewFixedBuffer(m.EncodedSize())
	if err := Marshal(buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a single record. Trailing bytes are an error.
func (m *Member) UnmarshalBinary(p []byte) error {
	buf := WrapFixed(p)
	v, err := Unmarshal(buf)
	if err != nil {
		return err
	}
	if buf.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes after member record", ErrInvalidLength, buf.Len())
	}
	*m = v
	return nil
}

var (
	_ Encodable = Member{}
	_ Decodable = (*Member)(nil)
)
