package raftcons

import (
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/raft"

	c "github.com/amirimatin/coremember/pkg/consensus"
	obsmetrics "github.com/amirimatin/coremember/pkg/observability/metrics"
	base "github.com/amirimatin/coremember/pkg/state"
	sm "github.com/amirimatin/coremember/pkg/state/membership"
)

// membershipFSM bridges Raft Apply/Snapshot to our MembershipState.
type membershipFSM struct {
	ms base.MembershipState
}

func newMembershipFSM(ms base.MembershipState) *membershipFSM { return &membershipFSM{ms: ms} }

func (f *membershipFSM) Apply(l *raft.Log) interface{} {
	cmd, err := c.UnmarshalCommand(l.Data)
	obsmetrics.ObserveDecode("raft", len(l.Data), err)
	if err != nil {
		obsmetrics.AppliedCommands.WithLabelValues("unknown", "error").Inc()
		return err
	}
	err = f.apply(cmd)
	result := "ok"
	if err != nil {
		result = "error"
	}
	obsmetrics.AppliedCommands.WithLabelValues(cmd.Op, result).Inc()
	obsmetrics.ClusterMembers.Set(float64(len(f.ms.Members())))
	return err
}

func (f *membershipFSM) apply(cmd c.Command) error {
	switch cmd.Op {
	case c.OpAddMember:
		id, m, err := c.DecodeAddMember(cmd.Payload)
		if err != nil {
			return err
		}
		return f.ms.ApplyAddMember(id, m)
	case c.OpRemoveMember:
		id, err := c.DecodeRemoveMember(cmd.Payload)
		if err != nil {
			return err
		}
		return f.ms.ApplyRemoveMember(id)
	default:
		return fmt.Errorf("raftcons: unknown command %q", cmd.Op)
	}
}

func (f *membershipFSM) Snapshot() (raft.FSMSnapshot, error) {
	blob, err := f.ms.Snapshot()
	obsmetrics.ObserveEncode("snapshot", len(blob), err)
	if err != nil {
		return nil, err
	}
	return &snapshot{blob: blob, at: time.Now()}, nil
}

func (f *membershipFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	err = f.ms.Restore(data)
	obsmetrics.ObserveDecode("snapshot", len(data), err)
	return err
}

type snapshot struct {
	blob []byte
	at   time.Time
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.blob); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *snapshot) Release() {}

// Ensure compile-time interface compliance.
var _ raft.FSM = (*membershipFSM)(nil)
var _ base.MembershipState = (*sm.State)(nil)
