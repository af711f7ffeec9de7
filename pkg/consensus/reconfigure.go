package consensus

import (
	"time"

	"github.com/amirimatin/coremember/pkg/codec"
)

// Reconfigurer optionally allows dynamic membership reconfiguration
// (adding/removing servers) in the underlying consensus engine.
type Reconfigurer interface {
	AddVoter(id, addr string, timeout time.Duration) error
	RemoveServer(id string, timeout time.Duration) error
}

// MemberRegistry is implemented by engines that keep member records in their
// replicated state next to the voter configuration.
type MemberRegistry interface {
	AddMember(id string, m codec.Member, timeout time.Duration) error
	RemoveMember(id string, timeout time.Duration) error
	Members() map[string]codec.Member
}
