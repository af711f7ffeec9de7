package transport

import (
	"context"
	"fmt"

	"github.com/amirimatin/coremember/pkg/codec"
)

// Messages below travel as binary frames built from the member record codec:
// text fields are length-prefixed UTF-8, booleans and counts are int32.

// JoinRequest asks the leader to record Member for node ID and to add its
// raft address as a voter.
type JoinRequest struct {
	ID     string
	Member codec.Member
}

// JoinResponse indicates acceptance. When the receiver is not the leader it
// carries the leader's core address, if known.
type JoinResponse struct {
	Accepted bool
	Leader   string
	Error    string
}

// JoinFunc handles node join requests (leader-only).
type JoinFunc func(ctx context.Context, req JoinRequest) (JoinResponse, error)

// LeaveRequest requests removal of a node from the cluster.
type LeaveRequest struct {
	ID string
}

// LeaveResponse indicates whether the leave/remove was accepted.
type LeaveResponse struct {
	Accepted bool
	Leader   string
	Error    string
}

// LeaveFunc handles node leave requests (leader-only).
type LeaveFunc func(ctx context.Context, req LeaveRequest) (LeaveResponse, error)

// MemberEntry is one record of the replicated membership.
type MemberEntry struct {
	ID     string
	Member codec.Member
}

// MembersRequest asks for the replicated member records.
type MembersRequest struct{}

// MembersResponse lists member records sorted by id.
type MembersResponse struct {
	Leader  string
	Members []MemberEntry
}

// MembersFunc returns the receiver's view of the replicated membership.
type MembersFunc func(ctx context.Context) (MembersResponse, error)

// Handlers bundles the server side callbacks.
type Handlers struct {
	Join    JoinFunc
	Leave   LeaveFunc
	Members MembersFunc
}

// RPCServer exposes the membership endpoints for intra-cluster calls.
type RPCServer interface {
	Start(ctx context.Context, h Handlers) error
	Addr() string
	Stop(ctx context.Context) error
}

// RPCClient performs intra-cluster calls to other nodes' core addresses.
type RPCClient interface {
	Join(ctx context.Context, addr string, req JoinRequest) (JoinResponse, error)
	Leave(ctx context.Context, addr string, req LeaveRequest) (LeaveResponse, error)
	Members(ctx context.Context, addr string) (MembersResponse, error)
}

func writeBool(w codec.Writer, b bool) error {
	var v int32
	if b {
		v = 1
	}
	return w.WriteInt32(v)
}

func readBool(r codec.Reader) (bool, error) {
	v, err := r.ReadInt32()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("transport: invalid boolean %d", v)
	}
}

func (q JoinRequest) EncodeTo(w codec.Writer) error {
	if err := codec.WriteString(w, q.ID); err != nil {
		return err
	}
	return codec.Marshal(w, q.Member)
}

func (q *JoinRequest) DecodeFrom(r codec.Reader) error {
	id, err := codec.ReadString(r)
	if err != nil {
		return err
	}
	m, err := codec.Unmarshal(r)
	if err != nil {
		return err
	}
	q.ID, q.Member = id, m
	return nil
}

func encodeOutcome(w codec.Writer, accepted bool, leader, errMsg string) error {
	if err := writeBool(w, accepted); err != nil {
		return err
	}
	if err := codec.WriteString(w, leader); err != nil {
		return err
	}
	return codec.WriteString(w, errMsg)
}

func decodeOutcome(r codec.Reader) (accepted bool, leader, errMsg string, err error) {
	if accepted, err = readBool(r); err != nil {
		return
	}
	if leader, err = codec.ReadString(r); err != nil {
		return
	}
	errMsg, err = codec.ReadString(r)
	return
}

func (p JoinResponse) EncodeTo(w codec.Writer) error {
	return encodeOutcome(w, p.Accepted, p.Leader, p.Error)
}

func (p *JoinResponse) DecodeFrom(r codec.Reader) error {
	accepted, leader, errMsg, err := decodeOutcome(r)
	if err != nil {
		return err
	}
	*p = JoinResponse{Accepted: accepted, Leader: leader, Error: errMsg}
	return nil
}

func (q LeaveRequest) EncodeTo(w codec.Writer) error { return codec.WriteString(w, q.ID) }

func (q *LeaveRequest) DecodeFrom(r codec.Reader) error {
	id, err := codec.ReadString(r)
	if err != nil {
		return err
	}
	q.ID = id
	return nil
}

func (p LeaveResponse) EncodeTo(w codec.Writer) error {
	return encodeOutcome(w, p.Accepted, p.Leader, p.Error)
}

func (p *LeaveResponse) DecodeFrom(r codec.Reader) error {
	accepted, leader, errMsg, err := decodeOutcome(r)
	if err != nil {
		return err
	}
	*p = LeaveResponse{Accepted: accepted, Leader: leader, Error: errMsg}
	return nil
}

func (MembersRequest) EncodeTo(codec.Writer) error    { return nil }
func (*MembersRequest) DecodeFrom(codec.Reader) error { return nil }

func (p MembersResponse) EncodeTo(w codec.Writer) error {
	if err := codec.WriteString(w, p.Leader); err != nil {
		return err
	}
	if err := w.WriteInt32(int32(len(p.Members))); err != nil {
		return err
	}
	for _, e := range p.Members {
		if err := codec.WriteString(w, e.ID); err != nil {
			return err
		}
		if err := codec.Marshal(w, e.Member); err != nil {
			return err
		}
	}
	return nil
}

func (p *MembersResponse) DecodeFrom(r codec.Reader) error {
	leader, err := codec.ReadString(r)
	if err != nil {
		return err
	}
	n, err := r.ReadInt32()
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("transport: %w: member count %d", codec.ErrInvalidLength, n)
	}
	members := make([]MemberEntry, 0)
	for i := int32(0); i < n; i++ {
		id, err := codec.ReadString(r)
		if err != nil {
			return err
		}
		m, err := codec.Unmarshal(r)
		if err != nil {
			return err
		}
		members = append(members, MemberEntry{ID: id, Member: m})
	}
	*p = MembersResponse{Leader: leader, Members: members}
	return nil
}
