package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/amirimatin/coremember/pkg/cluster"
	"github.com/amirimatin/coremember/pkg/codec"
	consraft "github.com/amirimatin/coremember/pkg/consensus/raft"
	dStatic "github.com/amirimatin/coremember/pkg/discovery/static"
	"github.com/amirimatin/coremember/pkg/internal/logutil"
	ml "github.com/amirimatin/coremember/pkg/membership/memberlist"
	mgmtgrpc "github.com/amirimatin/coremember/pkg/transport/grpc"
)

// Config defines high-level inputs to assemble a cluster node with sensible
// defaults.
type Config struct {
	// Identity and addresses
	NodeID        string
	CoreAddr      string // gRPC bind host:port, e.g. "127.0.0.1:7687"
	CoreAdvertise string // optional; defaults to the bound CoreAddr
	RaftAddr      string // raft TCP bind host:port, must be advertisable
	MemBind       string // gossip bind host:port
	MemAdv        string // optional gossip advertise host:port

	// SeedsCSV lists gossip seeds.
	SeedsCSV string
	// JoinAddr is an existing node's core address; Run joins through it.
	JoinAddr string

	// Persistence and bootstrap
	DataDir   string // empty → in-memory
	Bootstrap bool   // single-node bootstrap

	RPCTimeout   time.Duration // default 3s
	ApplyTimeout time.Duration

	// Logger (optional). If nil, log.Default() is used.
	Logger *log.Logger
}

var _ cluster.Engine = (*consraft.Node)(nil)

func (c Config) validate() error {
	if c.NodeID == "" {
		return errors.New("bootstrap: empty NodeID")
	}
	if c.CoreAddr == "" || c.RaftAddr == "" || c.MemBind == "" {
		return errors.New("bootstrap: CoreAddr, RaftAddr and MemBind are required")
	}
	return nil
}

// Build assembles a cluster.Cluster from Config. The raft engine and the gRPC
// listener are brought up first so the member record carries the addresses
// actually bound; the cluster itself is not started.
func Build(ctx context.Context, cfg Config) (*cluster.Cluster, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = 3 * time.Second
	}
	seeds, err := dStatic.ParseStrict(cfg.SeedsCSV)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: seeds: %w", err)
	}

	cons, err := consraft.New(consraft.Options{NodeID: cfg.NodeID, BindAddr: cfg.RaftAddr, DataDir: cfg.DataDir, Bootstrap: cfg.Bootstrap, Logger: cfg.Logger})
	if err != nil {
		return nil, err
	}
	if err := cons.Start(ctx); err != nil {
		return nil, err
	}

	srv := mgmtgrpc.NewServer(cfg.CoreAddr)
	if err := srv.Listen(); err != nil {
		_ = cons.Stop()
		return nil, fmt.Errorf("bootstrap: listen %s: %w", cfg.CoreAddr, err)
	}
	core := cfg.CoreAdvertise
	if core == "" {
		core = srv.Addr()
	}
	rec, err := codec.NewMember(core, cons.Addr())
	if err == nil {
		err = rec.Validate()
	}
	if err != nil {
		_ = srv.Stop(ctx)
		_ = cons.Stop()
		return nil, fmt.Errorf("bootstrap: member record: %w", err)
	}
	logutil.Infof(cfg.Logger, "node %s member record %s", cfg.NodeID, rec)

	mem, err := ml.New(ml.Options{NodeID: cfg.NodeID, Bind: cfg.MemBind, Advertise: cfg.MemAdv, Record: rec, Logger: cfg.Logger})
	if err != nil {
		_ = srv.Stop(ctx)
		_ = cons.Stop()
		return nil, err
	}

	return cluster.New(cluster.Options{
		NodeID:       cfg.NodeID,
		Record:       rec,
		Discovery:    dStatic.New(seeds...),
		Logger:       cfg.Logger,
		Consensus:    cons,
		Membership:   mem,
		RPCServer:    srv,
		RPCClient:    mgmtgrpc.NewClient(cfg.RPCTimeout),
		ApplyTimeout: cfg.ApplyTimeout,
	})
}

// Run builds and starts the cluster and, when JoinAddr is set, joins through
// it. The caller is responsible for calling Close() when finished.
func Run(ctx context.Context, cfg Config) (*cluster.Cluster, error) {
	cl, err := Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := cl.Start(ctx); err != nil {
		_ = cl.Close()
		return nil, err
	}
	if cfg.JoinAddr != "" {
		if err := cl.JoinCluster(ctx, cfg.JoinAddr); err != nil {
			_ = cl.Close()
			return nil, err
		}
	}
	return cl, nil
}
