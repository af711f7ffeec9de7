package memberlist

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/amirimatin/coremember/pkg/codec"
	"github.com/amirimatin/coremember/pkg/internal/logutil"
	base "github.com/amirimatin/coremember/pkg/membership"
	obsmetrics "github.com/amirimatin/coremember/pkg/observability/metrics"
)

// Options configures the memberlist-based membership implementation.
type Options struct {
	// NodeID is the unique node identifier.
	NodeID string

	// Bind is the bind address in host:port form (e.g. ":7946" or "0.0.0.0:7946").
	Bind string

	// Advertise is the advertised address (host:port) that peers will use to reach this node.
	// If empty, memberlist derives it from Bind.
	Advertise string

	// Record is gossiped to every peer as this node's metadata.
	Record codec.Member

	// Logger is optional. If nil, log.Default() is used.
	Logger *log.Logger

	// Tuning parameters (optional). Zero means use defaults.
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	SuspicionMult int
}

// impl implements base.Membership using HashiCorp memberlist.
type impl struct {
	mu     sync.RWMutex
	opts   Options
	ml     *memberlist.Memberlist
	evts   chan base.Event
	closed bool
}

// New constructs a memberlist-backed membership.
func New(opts Options) (base.Membership, error) {
	if opts.NodeID == "" {
		return nil, fmt.Errorf("memberlist: empty NodeID")
	}
	if opts.Bind == "" {
		return nil, fmt.Errorf("memberlist: empty Bind address")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &impl{
		opts: opts,
		evts: make(chan base.Event, 64),
	}, nil
}

// Start creates and launches the underlying memberlist instance.
func (m *impl) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ml != nil {
		return nil
	}

	meta, err := m.opts.Record.MarshalBinary()
	obsmetrics.ObserveEncode("gossip", len(meta), err)
	if err != nil {
		return fmt.Errorf("memberlist: encode member record: %w", err)
	}
	if len(meta) > memberlist.MetaMaxSize {
		return fmt.Errorf("memberlist: member record is %d bytes, gossip limit is %d", len(meta), memberlist.MetaMaxSize)
	}

	cfg := memberlist.DefaultLANConfig()
	cfg.Name = m.opts.NodeID
	cfg.Logger = m.opts.Logger
	host, port, err := splitHostPort(m.opts.Bind)
	if err != nil {
		return err
	}
	if host != "" {
		cfg.BindAddr = host
	}
	cfg.BindPort = port
	if m.opts.Advertise != "" {
		cfg.AdvertiseAddr, cfg.AdvertisePort, err = splitHostPort(m.opts.Advertise)
		if err != nil {
			return err
		}
	}
	if m.opts.ProbeInterval > 0 {
		cfg.ProbeInterval = m.opts.ProbeInterval
	}
	if m.opts.ProbeTimeout > 0 {
		cfg.ProbeTimeout = m.opts.ProbeTimeout
	}
	if m.opts.SuspicionMult > 0 {
		cfg.SuspicionMult = m.opts.SuspicionMult
	}

	cfg.Events = &eventDelegate{emit: m.emit, info: m.info}
	cfg.Delegate = &nodeDelegate{meta: meta}

	ml, err := memberlist.Create(cfg)
	if err != nil {
		return err
	}
	m.ml = ml

	go func() {
		<-ctx.Done()
		_ = m.Stop()
	}()
	return nil
}

func (m *impl) Join(seeds []string) error {
	m.mu.RLock()
	ml := m.ml
	m.mu.RUnlock()
	if ml == nil {
		return fmt.Errorf("memberlist: not started")
	}
	if len(seeds) == 0 {
		return nil
	}
	_, err := ml.Join(seeds)
	return err
}

func (m *impl) Local() base.MemberInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ml == nil {
		return base.MemberInfo{}
	}
	return m.info(m.ml.LocalNode())
}

func (m *impl) Members() []base.MemberInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ml == nil {
		return nil
	}
	nodes := m.ml.Members()
	out := make([]base.MemberInfo, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, m.info(n))
	}
	return out
}

// info decodes the member record a peer gossiped as its metadata.
func (m *impl) info(n *memberlist.Node) base.MemberInfo {
	mi := base.MemberInfo{ID: n.Name, Addr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))}
	if len(n.Meta) == 0 {
		return mi
	}
	err := mi.Record.UnmarshalBinary(n.Meta)
	obsmetrics.ObserveDecode("gossip", len(n.Meta), err)
	if err != nil {
		logutil.Warnf(m.opts.Logger, "memberlist: node %s: undecodable member record: %v", n.Name, err)
		mi.Record = codec.Member{}
		return mi
	}
	mi.Valid = true
	return mi
}

func (m *impl) Events() <-chan base.Event { return m.evts }

func (m *impl) Leave() error {
	m.mu.RLock()
	ml := m.ml
	m.mu.RUnlock()
	if ml == nil {
		return nil
	}
	// best-effort: leave and give some time to broadcast
	_ = ml.Leave(time.Second)
	return nil
}

func (m *impl) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.ml != nil {
		_ = m.ml.Shutdown()
		m.ml = nil
	}
	close(m.evts)
	return nil
}

// HealthScore exposes memberlist's awareness score if available.
func (m *impl) HealthScore() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ml == nil {
		return -1
	}
	return m.ml.GetHealthScore()
}

func (m *impl) emit(e base.Event) {
	// Stop closes evts; late notifications from memberlist are dropped.
	defer func() { recover() }()
	select {
	case m.evts <- e:
	default:
		logutil.Warnf(m.opts.Logger, "memberlist: dropping %s event for %s: channel full", e.Type, e.Member.ID)
	}
}

// eventDelegate adapts memberlist events to base.Event.
type eventDelegate struct {
	emit func(e base.Event)
	info func(n *memberlist.Node) base.MemberInfo
}

func (d *eventDelegate) notify(t base.EventType, n *memberlist.Node) {
	if n == nil {
		return
	}
	d.emit(base.Event{Type: t, Member: d.info(n), At: time.Now()})
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node) { d.notify(base.EventJoin, n) }

// NotifyLeave fires for graceful leaves and for dead nodes alike.
func (d *eventDelegate) NotifyLeave(n *memberlist.Node) {
	if n != nil && n.State == memberlist.StateLeft {
		d.notify(base.EventLeave, n)
		return
	}
	d.notify(base.EventFailed, n)
}

// An update may carry a new record; treat it like a join.
func (d *eventDelegate) NotifyUpdate(n *memberlist.Node) { d.notify(base.EventJoin, n) }

func splitHostPort(addr string) (string, int, error) {
	a, err := codec.ParseAddress(addr)
	if err != nil {
		return "", 0, fmt.Errorf("memberlist: invalid address %q: %w", addr, err)
	}
	return a.Hostname, int(a.Port), nil
}

// nodeDelegate publishes the encoded member record as node metadata.
type nodeDelegate struct{ meta []byte }

// NodeMeta returns the record, or nothing when it does not fit: a truncated
// record would not decode on the other side.
func (d *nodeDelegate) NodeMeta(limit int) []byte {
	if len(d.meta) > limit {
		return nil
	}
	return d.meta
}

// Unused hooks for our purposes; required to satisfy the interface.
func (d *nodeDelegate) NotifyMsg([]byte)                       {}
func (d *nodeDelegate) GetBroadcasts(int, int) [][]byte        { return nil }
func (d *nodeDelegate) LocalState(join bool) []byte            { return nil }
func (d *nodeDelegate) MergeRemoteState(buf []byte, join bool) {}
