package cluster

import "errors"

var (
	ErrNotLeader     = errors.New("cluster: not leader")
	ErrNoLeader      = errors.New("cluster: leader unknown")
	ErrJoinRejected  = errors.New("cluster: join rejected")
	ErrNoRPCClient   = errors.New("cluster: no RPC client configured")
	ErrTooManyHops   = errors.New("cluster: too many leader redirects")
	ErrUnknownMember = errors.New("cluster: unknown member")
)
