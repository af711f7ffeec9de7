package cluster

import (
	"errors"
	"log"
	"time"

	"github.com/amirimatin/coremember/pkg/codec"
	"github.com/amirimatin/coremember/pkg/consensus"
	"github.com/amirimatin/coremember/pkg/discovery"
	"github.com/amirimatin/coremember/pkg/membership"
	"github.com/amirimatin/coremember/pkg/transport"
)

// Engine is the consensus engine the cluster drives: leadership plus the
// replicated member records.
type Engine interface {
	consensus.Consensus
	consensus.MemberRegistry
}

// Options carries dependency-injected components and runtime configuration used
// to assemble the cluster facade. Instances are typically produced from
// bootstrap.Config.
type Options struct {
	// NodeID is the unique identifier of this node within the cluster.
	NodeID string
	// Record is this node's member record: its core (RPC) address and its
	// raft address.
	Record codec.Member
	// Discovery provides gossip seed addresses.
	Discovery discovery.Discovery
	// Logger is used by cluster to report operational messages.
	Logger *log.Logger

	Consensus  Engine
	Membership membership.Membership

	// RPCServer serves Join/Leave/Members on Record.CoreAddress.
	RPCServer transport.RPCServer
	RPCClient transport.RPCClient

	// ApplyTimeout bounds each raft write (default 3s).
	ApplyTimeout time.Duration
	// ReconcileInterval is how often the leader re-records gossiped members
	// (default 2s).
	ReconcileInterval time.Duration
}

// Validate performs a minimal validation of Options. It does not start any
// network activity and is safe to call before New.
func (o Options) Validate() error {
	if o.NodeID == "" {
		return errors.New("cluster: empty NodeID")
	}
	if err := o.Record.Validate(); err != nil {
		return err
	}
	if o.Discovery == nil {
		return errors.New("cluster: nil Discovery")
	}
	if o.Logger == nil {
		return errors.New("cluster: nil Logger")
	}
	if o.Consensus == nil {
		return errors.New("cluster: nil Consensus")
	}
	if o.Membership == nil {
		return errors.New("cluster: nil Membership")
	}
	return nil
}

func (o *Options) setDefaults() {
	if o.ApplyTimeout <= 0 {
		o.ApplyTimeout = 3 * time.Second
	}
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = 2 * time.Second
	}
}
