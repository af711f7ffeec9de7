package raftcons

import (
	"log"
	"time"
)

// Options configure the Raft-based Consensus implementation.
type Options struct {
	NodeID string
	Logger *log.Logger

	// Bootstrap forms a single-node cluster on Start when true.
	Bootstrap bool

	// Timeouts (optional). Zero means defaults.
	HeartbeatTimeout time.Duration
	ElectionTimeout  time.Duration
	CommitTimeout    time.Duration
	ApplyTimeout     time.Duration // client-side apply wait

	// BindAddr selects a TCP transport bound to this address (e.g.
	// "127.0.0.1:0"). When empty an in-memory transport is used.
	BindAddr string

	// DataDir selects the bolt log/stable store and a file snapshot store.
	// Member records then survive restarts. When empty, in-memory stores are
	// used.
	DataDir string

	// SnapshotsRetained controls how many snapshots to retain on disk.
	SnapshotsRetained int
}
