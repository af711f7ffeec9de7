package raftcons

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/amirimatin/coremember/pkg/codec"
	c "github.com/amirimatin/coremember/pkg/consensus"
	"github.com/amirimatin/coremember/pkg/internal/logutil"
	obsmetrics "github.com/amirimatin/coremember/pkg/observability/metrics"
	sm "github.com/amirimatin/coremember/pkg/state/membership"
)

// Node implements consensus.Consensus using HashiCorp Raft. Every membership
// change is a raft log entry carrying binary member records.
type Node struct {
	opts Options
	log  *log.Logger

	mu      sync.Mutex
	r       *raft.Raft
	obs     *raft.Observer
	obsCh   chan raft.Observation
	closers []io.Closer
	lch     chan c.LeaderInfo
	addr    raft.ServerAddress
	ms      *sm.State
}

func New(opts Options) (*Node, error) {
	if opts.NodeID == "" {
		return nil, fmt.Errorf("raftcons: empty NodeID")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Node{opts: opts, log: opts.Logger, lch: make(chan c.LeaderInfo, 16), ms: sm.New()}, nil
}

func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.r != nil {
		return nil
	}

	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(n.opts.NodeID)
	cfg.LogOutput = n.log.Writer()
	if n.opts.HeartbeatTimeout > 0 {
		cfg.HeartbeatTimeout = n.opts.HeartbeatTimeout
		// Keep lease <= heartbeat to satisfy invariants
		if cfg.LeaderLeaseTimeout > cfg.HeartbeatTimeout {
			cfg.LeaderLeaseTimeout = cfg.HeartbeatTimeout / 2
		}
	}
	if n.opts.ElectionTimeout > 0 {
		cfg.ElectionTimeout = n.opts.ElectionTimeout
	}
	if n.opts.CommitTimeout > 0 {
		cfg.CommitTimeout = n.opts.CommitTimeout
	}

	var (
		logs    raft.LogStore
		stable  raft.StableStore
		snaps   raft.SnapshotStore
		trans   raft.Transport
		addr    raft.ServerAddress
		closers []io.Closer
	)
	closeAll := func() {
		for _, cl := range closers {
			_ = cl.Close()
		}
	}

	if n.opts.DataDir != "" {
		if n.opts.SnapshotsRetained == 0 {
			n.opts.SnapshotsRetained = 2
		}
		if err := os.MkdirAll(n.opts.DataDir, 0o755); err != nil {
			return err
		}
		bstore, err := raftboltdb.NewBoltStore(filepath.Join(n.opts.DataDir, "raft.db"))
		if err != nil {
			return fmt.Errorf("raftcons: open log store: %w", err)
		}
		closers = append(closers, bstore)
		logs, stable = bstore, bstore
		snaps, err = raft.NewFileSnapshotStore(n.opts.DataDir, n.opts.SnapshotsRetained, n.log.Writer())
		if err != nil {
			closeAll()
			return err
		}
	} else {
		logs = raft.NewInmemStore()
		stable = raft.NewInmemStore()
		snaps = raft.NewInmemSnapshotStore()
	}

	if n.opts.BindAddr != "" {
		nt, err := raft.NewTCPTransport(n.opts.BindAddr, nil, 3, time.Second, n.log.Writer())
		if err != nil {
			closeAll()
			return err
		}
		closers = append(closers, nt)
		trans, addr = nt, nt.LocalAddr()
	} else {
		addr, trans = raft.NewInmemTransport(raft.ServerAddress(n.opts.NodeID))
	}

	r, err := raft.NewRaft(cfg, newMembershipFSM(n.ms), logs, stable, snaps, trans)
	if err != nil {
		closeAll()
		return err
	}
	n.r, n.addr, n.closers = r, addr, closers

	obsCh := make(chan raft.Observation, 32)
	n.obs = raft.NewObserver(obsCh, false, func(o *raft.Observation) bool {
		_, ok := o.Data.(raft.LeaderObservation)
		return ok
	})
	n.obsCh = obsCh
	r.RegisterObserver(n.obs)
	go func() {
		for range obsCh {
			obsmetrics.LeaderChanges.Inc()
			n.observeLeader()
		}
	}()
	go func() {
		// Small delay to allow Raft to settle, then emit if leader.
		time.Sleep(50 * time.Millisecond)
		n.observeLeader()
	}()

	if n.opts.Bootstrap {
		if err := bootstrapIfEmpty(r, logs, stable, snaps, raft.Server{ID: cfg.LocalID, Address: addr}); err != nil {
			return n.abortStart(err)
		}
	}

	go func() {
		<-ctx.Done()
		_ = n.Stop()
	}()
	return nil
}

func bootstrapIfEmpty(r *raft.Raft, logs raft.LogStore, stable raft.StableStore, snaps raft.SnapshotStore, self raft.Server) error {
	hasState, err := raft.HasExistingState(logs, stable, snaps)
	if err != nil {
		return fmt.Errorf("raftcons: inspect state: %w", err)
	}
	if hasState {
		return nil
	}
	if err := r.BootstrapCluster(raft.Configuration{Servers: []raft.Server{self}}).Error(); err != nil {
		return fmt.Errorf("raftcons: bootstrap: %w", err)
	}
	return nil
}

// abortStart releases everything a failed Start acquired and returns err.
// The caller holds n.mu.
func (n *Node) abortStart(err error) error {
	if terr := n.teardown(); terr != nil {
		logutil.Warnf(n.log, "raftcons: shutdown after failed start: %v", terr)
	}
	n.addr = ""
	return err
}

// teardown shuts raft down and closes its stores. The caller holds n.mu.
func (n *Node) teardown() error {
	if n.r == nil {
		return nil
	}
	n.r.DeregisterObserver(n.obs)
	close(n.obsCh)
	err := n.r.Shutdown().Error()
	for _, cl := range n.closers {
		if cerr := cl.Close(); cerr != nil {
			logutil.Warnf(n.log, "raftcons: close: %v", cerr)
		}
	}
	n.r, n.obs, n.obsCh, n.closers = nil, nil, nil, nil
	return err
}

func (n *Node) current() *raft.Raft {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.r
}

func (n *Node) observeLeader() {
	if n.IsLeader() {
		obsmetrics.IsLeader.Set(1)
	} else {
		obsmetrics.IsLeader.Set(0)
	}
	if id, addr, ok := n.Leader(); ok {
		n.emitLeader(c.LeaderInfo{ID: id, Addr: addr, Term: n.Term()})
	}
}

// Apply appends cmd to the raft log and waits for the FSM result.
func (n *Node) Apply(cmd c.Command, timeout time.Duration) error {
	r := n.current()
	if r == nil {
		return fmt.Errorf("raftcons: not started")
	}
	if r.State() != raft.Leader {
		return fmt.Errorf("raftcons: not leader")
	}
	data, err := cmd.MarshalBinary()
	obsmetrics.ObserveEncode("raft", len(data), err)
	if err != nil {
		return fmt.Errorf("raftcons: encode %s: %w", cmd.Op, err)
	}
	if timeout <= 0 {
		timeout = n.opts.ApplyTimeout
	}
	af := r.Apply(data, timeout)
	if err := af.Error(); err != nil {
		return err
	}
	if e, ok := af.Response().(error); ok && e != nil {
		return e
	}
	return nil
}

func (n *Node) IsLeader() bool {
	r := n.current()
	return r != nil && r.State() == raft.Leader
}

func (n *Node) Leader() (id string, addr string, ok bool) {
	r := n.current()
	if r == nil {
		return "", "", false
	}
	a, sid := r.LeaderWithID()
	if sid == "" {
		return "", "", false
	}
	return string(sid), string(a), true
}

func (n *Node) Term() uint64 {
	r := n.current()
	if r == nil {
		return 0
	}
	if v := r.Stats()["current_term"]; v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			return u
		}
	}
	return 0
}

// Addr returns the raft transport address once started.
func (n *Node) Addr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return string(n.addr)
}

func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.teardown()
}

// Ensure interface compliance
var (
	_ c.Consensus      = (*Node)(nil)
	_ c.LeaderNotifier = (*Node)(nil)
	_ c.Reconfigurer   = (*Node)(nil)
	_ c.MemberRegistry = (*Node)(nil)
)

func (n *Node) LeaderCh() <-chan c.LeaderInfo { return n.lch }

func (n *Node) emitLeader(li c.LeaderInfo) {
	select {
	case n.lch <- li:
	default:
		// drop; leadership is last-writer-wins
	}
}

// Members returns the member records applied on this node.
func (n *Node) Members() map[string]codec.Member { return n.ms.Members() }

// Member returns the record applied for id.
func (n *Node) Member(id string) (codec.Member, bool) { return n.ms.Get(id) }

// StateSnapshot returns the binary membership snapshot (for inspection).
func (n *Node) StateSnapshot() ([]byte, error) { return n.ms.Snapshot() }

// AddMember records m for id in the replicated log and, for nodes other than
// the local one, adds m.RaftAddress as a voter. An unchanged record is not
// re-applied, but the voter step always runs so a failed earlier attempt is
// retried. Leader only.
func (n *Node) AddMember(id string, m codec.Member, timeout time.Duration) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("raftcons: member %s: %w", id, err)
	}
	if cur, ok := n.ms.Get(id); !ok || cur != m {
		cmd, err := c.AddMemberCommand(id, m)
		if err != nil {
			return err
		}
		if err := n.Apply(cmd, timeout); err != nil {
			return err
		}
	}
	if id == n.opts.NodeID {
		return nil
	}
	return n.AddVoter(id, m.RaftAddress.String(), timeout)
}

// RemoveMember drops id from the voter set and the member records. Leader only.
func (n *Node) RemoveMember(id string, timeout time.Duration) error {
	if id != n.opts.NodeID {
		if err := n.RemoveServer(id, timeout); err != nil {
			return err
		}
	}
	cmd, err := c.RemoveMemberCommand(id)
	if err != nil {
		return err
	}
	return n.Apply(cmd, timeout)
}

// AddVoter adds a voting server to the Raft cluster if not already present.
func (n *Node) AddVoter(id, addr string, timeout time.Duration) error {
	r := n.current()
	if r == nil {
		return fmt.Errorf("raftcons: not started")
	}
	cfg := r.GetConfiguration()
	if err := cfg.Error(); err == nil {
		for _, srv := range cfg.Configuration().Servers {
			if string(srv.ID) != id {
				continue
			}
			if string(srv.Address) == addr {
				return nil
			}
			// Remove stale entry with different address before adding
			if err := r.RemoveServer(srv.ID, 0, timeout).Error(); err != nil {
				return err
			}
			break
		}
	}
	return r.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout).Error()
}

// RemoveServer removes a server from the Raft cluster if present.
func (n *Node) RemoveServer(id string, timeout time.Duration) error {
	r := n.current()
	if r == nil {
		return fmt.Errorf("raftcons: not started")
	}
	return r.RemoveServer(raft.ServerID(id), 0, timeout).Error()
}
