package membership

import (
	"fmt"
	"sort"
	"sync"

	"github.com/amirimatin/coremember/pkg/codec"
	base "github.com/amirimatin/coremember/pkg/state"
)

// State is a simple in-memory FSM for cluster membership.
type State struct {
	mu      sync.RWMutex
	members map[string]codec.Member
}

func New() *State { return &State{members: make(map[string]codec.Member)} }

func (s *State) ApplyAddMember(id string, m codec.Member) error {
	if id == "" {
		return fmt.Errorf("state: empty node id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[id] = m
	return nil
}

func (s *State) ApplyRemoveMember(id string) error {
	if id == "" {
		return fmt.Errorf("state: empty node id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, id)
	return nil
}

func (s *State) Get(id string) (codec.Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	return m, ok
}

// Members returns a copy of the current set.
func (s *State) Members() map[string]codec.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]codec.Member, len(s.members))
	for id, m := range s.members {
		out[id] = m
	}
	return out
}

// Snapshot encodes the set as an int32 count followed by (id, member record)
// pairs sorted by id, so equal states produce equal snapshots.
func (s *State) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.members))
	size := 4
	for id, m := range s.members {
		ids = append(ids, id)
		size += 4 + len(id) + m.EncodedSize()
	}
	sort.Strings(ids)

	buf := codec.NewFixedBuffer(size)
	if err := buf.WriteInt32(int32(len(ids))); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := codec.WriteString(buf, id); err != nil {
			return nil, fmt.Errorf("state: member %q: %w", id, err)
		}
		if err := codec.Marshal(buf, s.members[id]); err != nil {
			return nil, fmt.Errorf("state: member %q: %w", id, err)
		}
	}
	return buf.Bytes(), nil
}

// Restore replaces the set with a snapshot. The current set is kept when the
// snapshot does not decode.
func (s *State) Restore(p []byte) error {
	buf := codec.WrapFixed(p)
	n, err := buf.ReadInt32()
	if err != nil {
		return fmt.Errorf("state: snapshot count: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("state: %w: member count %d", codec.ErrInvalidLength, n)
	}
	members := make(map[string]codec.Member)
	for i := int32(0); i < n; i++ {
		id, err := codec.ReadString(buf)
		if err != nil {
			return fmt.Errorf("state: snapshot entry %d: %w", i, err)
		}
		m, err := codec.Unmarshal(buf)
		if err != nil {
			return fmt.Errorf("state: snapshot entry %d: %w", i, err)
		}
		if id == "" {
			continue
		}
		members[id] = m
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = members
	return nil
}

// Ensure interface satisfaction at compile-time.
var _ base.MembershipState = (*State)(nil)
