package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/amirimatin/coremember/pkg/codec"
	"github.com/amirimatin/coremember/pkg/consensus"
)

type EventType string

const (
	EventLeaderChanged  EventType = "leader_changed"
	EventMemberRecorded EventType = "member_recorded"
	EventMemberRemoved  EventType = "member_removed"
)

// Event is an application-consumable event describing cluster state changes.
// Only relevant fields for an event type are populated.
type Event struct {
	Type     EventType
	At       time.Time
	Leader   *consensus.LeaderInfo
	MemberID string
	Record   *codec.Member
}

// Subscribe returns a channel of events. The returned channel is buffered and
// closed automatically when ctx is done. Events may be dropped if the consumer
// is too slow.
func (c *Cluster) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 64)
	c.eb.add(ch)
	go func() {
		<-ctx.Done()
		c.eb.remove(ch)
		close(ch)
	}()
	return ch
}

// internal event bus
type eventBus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[chan Event]struct{})
	}
	e.subs[ch] = struct{}{}
}

func (e *eventBus) remove(ch chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs, ch)
}

func (e *eventBus) publish(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- ev:
		default:
			// drop if receiver is slow
		}
	}
}
