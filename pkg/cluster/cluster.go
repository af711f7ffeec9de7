package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/amirimatin/coremember/pkg/codec"
	"github.com/amirimatin/coremember/pkg/consensus"
	"github.com/amirimatin/coremember/pkg/internal/logutil"
	"github.com/amirimatin/coremember/pkg/membership"
	obsmetrics "github.com/amirimatin/coremember/pkg/observability/metrics"
	"github.com/amirimatin/coremember/pkg/observability/tracing"
	"github.com/amirimatin/coremember/pkg/transport"
)

// maxJoinHops bounds how many leader redirects JoinCluster follows.
const maxJoinHops = 3

// Facade exposes the high-level API for consumers.
type Facade interface {
	Start(ctx context.Context) error
	JoinCluster(ctx context.Context, addr string) error
	Members() map[string]codec.Member
	Status(ctx context.Context) (*Status, error)
	Stop(ctx context.Context) error
}

// Cluster wires gossip membership, the raft engine and the management RPC
// around the replicated table of member records.
type Cluster struct {
	opts Options
	mu   sync.Mutex
	run  struct {
		started bool
		closed  bool
	}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cons Engine
	mem  membership.Membership
	rpcS transport.RPCServer
	rpcC transport.RPCClient
	eb   eventBus
}

// New constructs a new Cluster instance from validated options. It performs no
// network activity; call Start to launch the node.
func New(opts Options) (*Cluster, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.setDefaults()
	return &Cluster{
		opts: opts,
		cons: opts.Consensus,
		mem:  opts.Membership,
		rpcS: opts.RPCServer,
		rpcC: opts.RPCClient,
	}, nil
}

// Record returns the local member record.
func (c *Cluster) Record() codec.Member { return c.opts.Record }

// Start launches consensus, membership and the management endpoint, then
// begins the loops that keep the replicated records in line with gossip.
func (c *Cluster) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run.started {
		return nil
	}
	c.run.started = true
	obsmetrics.Register()

	if err := c.cons.Start(ctx); err != nil {
		return fmt.Errorf("cluster: start consensus: %w", err)
	}
	if err := c.mem.Start(ctx); err != nil {
		return fmt.Errorf("cluster: start membership: %w", err)
	}
	if seeds := c.opts.Discovery.Seeds(); len(seeds) > 0 {
		logutil.Infof(c.opts.Logger, "joining membership seeds: %v", seeds)
		if err := c.mem.Join(seeds); err != nil {
			logutil.Warnf(c.opts.Logger, "membership join: %v", err)
		}
	}
	if c.rpcS != nil {
		h := transport.Handlers{Join: c.handleJoin, Leave: c.handleLeave, Members: c.handleMembers}
		if err := c.rpcS.Start(ctx, h); err != nil {
			return fmt.Errorf("cluster: start rpc: %w", err)
		}
		logutil.Infof(c.opts.Logger, "management endpoint listening at %s", c.rpcS.Addr())
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.goLoop(func() { c.membershipEventsLoop(loopCtx) })
	c.goLoop(func() { c.reconcileLoop(loopCtx) })
	if ln, ok := c.cons.(consensus.LeaderNotifier); ok {
		c.goLoop(func() { c.leaderLoop(loopCtx, ln.LeaderCh()) })
	}
	return nil
}

func (c *Cluster) goLoop(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// JoinCluster asks the node at addr (a core address) to record this node.
// Redirects to the leader are followed a bounded number of times.
func (c *Cluster) JoinCluster(ctx context.Context, addr string) error {
	if c.rpcC == nil {
		return ErrNoRPCClient
	}
	ctx, end := tracing.StartSpan(ctx, "cluster.JoinCluster", tracing.MemberAttrs(c.opts.NodeID, c.opts.Record)...)
	defer end()
	req := transport.JoinRequest{ID: c.opts.NodeID, Member: c.opts.Record}
	target := addr
	for hop := 0; hop <= maxJoinHops; hop++ {
		resp, err := c.rpcC.Join(ctx, target, req)
		if err != nil {
			return fmt.Errorf("cluster: join via %s: %w", target, err)
		}
		if resp.Accepted {
			logutil.Infof(c.opts.Logger, "joined cluster via %s", target)
			return nil
		}
		if resp.Leader == "" || resp.Leader == target {
			if resp.Error != "" {
				return fmt.Errorf("%w: %s", ErrJoinRejected, resp.Error)
			}
			return ErrJoinRejected
		}
		logutil.Infof(c.opts.Logger, "join redirected from %s to leader %s", target, resp.Leader)
		target = resp.Leader
	}
	return ErrTooManyHops
}

// LeaveCluster asks the leader, reached through addr, to remove id.
func (c *Cluster) LeaveCluster(ctx context.Context, addr, id string) error {
	if c.rpcC == nil {
		return ErrNoRPCClient
	}
	target := addr
	for hop := 0; hop <= maxJoinHops; hop++ {
		resp, err := c.rpcC.Leave(ctx, target, transport.LeaveRequest{ID: id})
		if err != nil {
			return fmt.Errorf("cluster: leave via %s: %w", target, err)
		}
		if resp.Accepted {
			return nil
		}
		if resp.Leader == "" || resp.Leader == target {
			return fmt.Errorf("cluster: leave rejected: %s", resp.Error)
		}
		target = resp.Leader
	}
	return ErrTooManyHops
}

// Members returns the replicated member records keyed by node id.
func (c *Cluster) Members() map[string]codec.Member { return c.cons.Members() }

// leaderCoreAddr resolves the current leader's core address from the
// replicated records.
func (c *Cluster) leaderCoreAddr() string {
	if c.cons.IsLeader() {
		return c.opts.Record.CoreAddress.String()
	}
	id, _, ok := c.cons.Leader()
	if !ok {
		return ""
	}
	if m, ok := c.cons.Members()[id]; ok {
		return m.CoreAddress.String()
	}
	return ""
}

// outcome labels a join/leave response for the request counters.
func outcome(accepted bool, leader string) string {
	switch {
	case accepted:
		return "accepted"
	case leader != "":
		return "redirected"
	default:
		return "rejected"
	}
}

func (c *Cluster) handleJoin(ctx context.Context, req transport.JoinRequest) (resp transport.JoinResponse, err error) {
	defer func() { obsmetrics.JoinRequests.WithLabelValues(outcome(resp.Accepted, resp.Leader)).Inc() }()
	_, end := tracing.StartSpan(ctx, "cluster.handleJoin", tracing.MemberAttrs(req.ID, req.Member)...)
	defer end()
	if req.ID == "" {
		return transport.JoinResponse{Error: "empty id"}, nil
	}
	if err := req.Member.Validate(); err != nil {
		return transport.JoinResponse{Error: err.Error()}, nil
	}
	if !c.cons.IsLeader() {
		return transport.JoinResponse{Leader: c.leaderCoreAddr(), Error: ErrNotLeader.Error()}, nil
	}
	if err := c.recordMember(req.ID, req.Member); err != nil {
		return transport.JoinResponse{Error: err.Error()}, nil
	}
	logutil.Infof(c.opts.Logger, "recorded member %s (%s)", req.ID, req.Member)
	return transport.JoinResponse{Accepted: true}, nil
}

func (c *Cluster) handleLeave(ctx context.Context, req transport.LeaveRequest) (resp transport.LeaveResponse, err error) {
	defer func() { obsmetrics.LeaveRequests.WithLabelValues(outcome(resp.Accepted, resp.Leader)).Inc() }()
	_, end := tracing.StartSpan(ctx, "cluster.handleLeave")
	defer end()
	if req.ID == "" {
		return transport.LeaveResponse{Error: "empty id"}, nil
	}
	if !c.cons.IsLeader() {
		return transport.LeaveResponse{Leader: c.leaderCoreAddr(), Error: ErrNotLeader.Error()}, nil
	}
	if err := c.removeMember(req.ID); err != nil {
		return transport.LeaveResponse{Error: err.Error()}, nil
	}
	return transport.LeaveResponse{Accepted: true}, nil
}

func (c *Cluster) handleMembers(ctx context.Context) (transport.MembersResponse, error) {
	_, end := tracing.StartSpan(ctx, "cluster.handleMembers")
	defer end()
	return transport.MembersResponse{Leader: c.leaderCoreAddr(), Members: sortedEntries(c.cons.Members())}, nil
}

func sortedEntries(ms map[string]codec.Member) []transport.MemberEntry {
	out := make([]transport.MemberEntry, 0, len(ms))
	for id, m := range ms {
		out = append(out, transport.MemberEntry{ID: id, Member: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// recordMember always goes through the engine: an unchanged record still
// needs its voter entry confirmed.
func (c *Cluster) recordMember(id string, m codec.Member) error {
	cur, ok := c.cons.Members()[id]
	if err := c.cons.AddMember(id, m, c.opts.ApplyTimeout); err != nil {
		return err
	}
	if !ok || cur != m {
		c.eb.publish(Event{Type: EventMemberRecorded, At: time.Now(), MemberID: id, Record: &m})
	}
	return nil
}

func (c *Cluster) removeMember(id string) error {
	if _, ok := c.cons.Members()[id]; !ok {
		return nil
	}
	if err := c.cons.RemoveMember(id, c.opts.ApplyTimeout); err != nil {
		return err
	}
	c.eb.publish(Event{Type: EventMemberRemoved, At: time.Now(), MemberID: id})
	return nil
}

// membershipEventsLoop turns gossip events into raft writes while leader.
// Failed nodes are left in place; only an explicit leave removes a record.
func (c *Cluster) membershipEventsLoop(ctx context.Context) {
	evs := c.mem.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evs:
			if !ok {
				return
			}
			if !c.cons.IsLeader() || ev.Member.ID == c.opts.NodeID {
				continue
			}
			switch ev.Type {
			case membership.EventJoin:
				if !ev.Member.Valid {
					logutil.Warnf(c.opts.Logger, "gossip member %s has no usable record", ev.Member.ID)
					continue
				}
				if err := c.recordMember(ev.Member.ID, ev.Member.Record); err != nil {
					logutil.Warnf(c.opts.Logger, "record %s: %v", ev.Member.ID, err)
				}
			case membership.EventLeave:
				if err := c.removeMember(ev.Member.ID); err != nil {
					logutil.Warnf(c.opts.Logger, "remove %s: %v", ev.Member.ID, err)
				}
			case membership.EventFailed:
				logutil.Warnf(c.opts.Logger, "gossip reports %s failed; record kept", ev.Member.ID)
			}
		}
	}
}

// reconcileLoop records self and every valid gossip member while leader.
func (c *Cluster) reconcileLoop(ctx context.Context) {
	t := time.NewTicker(c.opts.ReconcileInterval)
	defer t.Stop()
	for {
		c.reconcileOnce()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (c *Cluster) reconcileOnce() {
	if !c.cons.IsLeader() {
		return
	}
	if err := c.recordMember(c.opts.NodeID, c.opts.Record); err != nil {
		logutil.Warnf(c.opts.Logger, "record self: %v", err)
		return
	}
	for _, mi := range c.mem.Members() {
		if mi.ID == c.opts.NodeID || !mi.Valid {
			continue
		}
		if err := c.recordMember(mi.ID, mi.Record); err != nil {
			logutil.Warnf(c.opts.Logger, "reconcile %s: %v", mi.ID, err)
		}
	}
	obsmetrics.ClusterMembers.Set(float64(len(c.cons.Members())))
}

func (c *Cluster) leaderLoop(ctx context.Context, ch <-chan consensus.LeaderInfo) {
	for {
		select {
		case <-ctx.Done():
			return
		case li, ok := <-ch:
			if !ok {
				return
			}
			logutil.Infof(c.opts.Logger, "leader change observed: id=%s term=%d", li.ID, li.Term)
			c.eb.publish(Event{Type: EventLeaderChanged, At: time.Now(), Leader: &li})
		}
	}
}

// Status is a point-in-time summary of this node's view.
type Status struct {
	NodeID   string
	Record   codec.Member
	Leader   string
	IsLeader bool
	Term     uint64
	Members  []transport.MemberEntry
	// GossipHealth is the gossip layer's health score, -1 when unknown.
	GossipHealth int
}

// Status returns the local view: leader core address, term and records.
func (c *Cluster) Status(ctx context.Context) (*Status, error) {
	health := -1
	if hr, ok := c.mem.(membership.HealthReporter); ok {
		health = hr.HealthScore()
	}
	return &Status{
		NodeID:       c.opts.NodeID,
		Record:       c.opts.Record,
		Leader:       c.leaderCoreAddr(),
		IsLeader:     c.cons.IsLeader(),
		Term:         c.cons.Term(),
		Members:      sortedEntries(c.cons.Members()),
		GossipHealth: health,
	}, nil
}

// Stop leaves gossip, stops the RPC server and the consensus engine.
func (c *Cluster) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run.closed {
		return nil
	}
	c.run.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	var errs []error
	if c.rpcS != nil {
		errs = append(errs, c.rpcS.Stop(ctx))
	}
	if err := c.mem.Leave(); err != nil {
		logutil.Warnf(c.opts.Logger, "membership leave: %v", err)
	}
	errs = append(errs, c.mem.Stop())
	errs = append(errs, c.cons.Stop())
	c.wg.Wait()
	return errors.Join(errs...)
}

// Close is a convenience alias for Stop with a background context.
func (c *Cluster) Close() error { return c.Stop(context.Background()) }
