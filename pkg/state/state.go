package state

import "github.com/amirimatin/coremember/pkg/codec"

// MembershipState is the replicated set of member records keyed by node id.
type MembershipState interface {
	ApplyAddMember(id string, m codec.Member) error
	ApplyRemoveMember(id string) error
	Get(id string) (codec.Member, bool)
	Members() map[string]codec.Member
	Snapshot() ([]byte, error)
	Restore(buf []byte) error
}
