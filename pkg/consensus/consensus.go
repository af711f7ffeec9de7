package consensus

import (
	"context"
	"fmt"
	"time"

	"github.com/amirimatin/coremember/pkg/codec"
)

// Raft log operations understood by the membership FSM.
const (
	OpAddMember    = "AddMember"
	OpRemoveMember = "RemoveMember"
)

// Command represents a RAFT log command. The semantics of Op/Payload are
// defined by the FSM integration (membership add/remove).
//
// On the log a command is the op as a text field followed by an int32
// payload length and the payload bytes.
type Command struct {
	Op      string
	Payload []byte
}

func (c Command) EncodeTo(w codec.Writer) error {
	if err := codec.WriteString(w, c.Op); err != nil {
		return err
	}
	if err := w.WriteInt32(int32(len(c.Payload))); err != nil {
		return err
	}
	return w.WriteBytes(c.Payload)
}

func (c *Command) DecodeFrom(r codec.Reader) error {
	op, err := codec.ReadString(r)
	if err != nil {
		return fmt.Errorf("consensus: command op: %w", err)
	}
	n, err := r.ReadInt32()
	if err != nil {
		return fmt.Errorf("consensus: command payload length: %w", err)
	}
	payload, err := r.ReadBytes(int(n))
	if err != nil {
		return fmt.Errorf("consensus: command payload: %w", err)
	}
	c.Op, c.Payload = op, payload
	return nil
}

// MarshalBinary encodes the command as a raft log entry.
func (c Command) MarshalBinary() ([]byte, error) {
	buf := codec.NewFixedBuffer(8 + len(c.Op) + len(c.Payload))
	if err := c.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalCommand decodes a raft log entry.
func UnmarshalCommand(p []byte) (Command, error) {
	var c Command
	buf := codec.WrapFixed(p)
	if err := c.DecodeFrom(buf); err != nil {
		return Command{}, err
	}
	if buf.Len() != 0 {
		return Command{}, fmt.Errorf("consensus: %w: %d trailing bytes", codec.ErrInvalidLength, buf.Len())
	}
	return c, nil
}

// AddMemberCommand records that node id is now represented by m.
func AddMemberCommand(id string, m codec.Member) (Command, error) {
	buf := codec.NewFixedBuffer(4 + len(id) + m.EncodedSize())
	if err := codec.WriteString(buf, id); err != nil {
		return Command{}, err
	}
	if err := codec.Marshal(buf, m); err != nil {
		return Command{}, err
	}
	return Command{Op: OpAddMember, Payload: buf.Bytes()}, nil
}

// RemoveMemberCommand records that node id left the membership.
func RemoveMemberCommand(id string) (Command, error) {
	buf := codec.NewFixedBuffer(4 + len(id))
	if err := codec.WriteString(buf, id); err != nil {
		return Command{}, err
	}
	return Command{Op: OpRemoveMember, Payload: buf.Bytes()}, nil
}

// DecodeAddMember is the inverse of AddMemberCommand's payload.
func DecodeAddMember(payload []byte) (string, codec.Member, error) {
	buf := codec.WrapFixed(payload)
	id, err := codec.ReadString(buf)
	if err != nil {
		return "", codec.Member{}, err
	}
	m, err := codec.Unmarshal(buf)
	if err != nil {
		return "", codec.Member{}, err
	}
	return id, m, nil
}

// DecodeRemoveMember is the inverse of RemoveMemberCommand's payload.
func DecodeRemoveMember(payload []byte) (string, error) {
	return codec.ReadString(codec.WrapFixed(payload))
}

// Consensus is the minimal abstraction over a leader-based consensus engine
// (e.g., RAFT). It exposes leadership, term information and a write path.
type Consensus interface {
	Start(ctx context.Context) error
	Apply(cmd Command, timeout time.Duration) error
	IsLeader() bool
	Leader() (id string, addr string, ok bool)
	Term() uint64
	Stop() error
}
