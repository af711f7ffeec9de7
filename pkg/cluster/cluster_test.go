package cluster

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirimatin/coremember/pkg/codec"
	"github.com/amirimatin/coremember/pkg/consensus"
	"github.com/amirimatin/coremember/pkg/discovery/static"
	"github.com/amirimatin/coremember/pkg/membership"
	obsmetrics "github.com/amirimatin/coremember/pkg/observability/metrics"
	"github.com/amirimatin/coremember/pkg/transport"
)

type fakeEngine struct {
	mu       sync.Mutex
	leader   bool
	leaderID string
	members  map[string]codec.Member
	adds     int
	voters   int
	voterErr error
	lch      chan consensus.LeaderInfo
}

func newFakeEngine(leader bool) *fakeEngine {
	return &fakeEngine{leader: leader, members: map[string]codec.Member{}, lch: make(chan consensus.LeaderInfo, 4)}
}

func (f *fakeEngine) Start(context.Context) error { return nil }
func (f *fakeEngine) Apply(consensus.Command, time.Duration) error { return nil }
func (f *fakeEngine) Term() uint64 { return 3 }
func (f *fakeEngine) Stop() error { return nil }
func (f *fakeEngine) LeaderCh() <-chan consensus.LeaderInfo { return f.lch }

func (f *fakeEngine) IsLeader() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leader
}

func (f *fakeEngine) Leader() (string, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaderID, "", f.leaderID != ""
}

// AddMember commits changed records, then runs the voter step, which fails
// with voterErr while it is set.
func (f *fakeEngine) AddMember(id string, m codec.Member, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.members[id]; !ok || cur != m {
		f.members[id] = m
		f.adds++
	}
	f.voters++
	return f.voterErr
}

func (f *fakeEngine) RemoveMember(id string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members, id)
	return nil
}

func (f *fakeEngine) Members() map[string]codec.Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]codec.Member, len(f.members))
	for k, v := range f.members {
		out[k] = v
	}
	return out
}

type fakeMembership struct {
	evts    chan membership.Event
	members []membership.MemberInfo
}

func (f *fakeMembership) Start(context.Context) error { return nil }
func (f *fakeMembership) Join([]string) error { return nil }
func (f *fakeMembership) Local() membership.MemberInfo { return membership.MemberInfo{} }
func (f *fakeMembership) Members() []membership.MemberInfo { return f.members }
func (f *fakeMembership) Events() <-chan membership.Event { return f.evts }
func (f *fakeMembership) Leave() error { return nil }
func (f *fakeMembership) Stop() error { return nil }

type fakeClient struct {
	responses map[string]transport.JoinResponse
	calls     []string
}

func (f *fakeClient) Join(_ context.Context, addr string, _ transport.JoinRequest) (transport.JoinResponse, error) {
	f.calls = append(f.calls, addr)
	return f.responses[addr], nil
}

func (f *fakeClient) Leave(context.Context, string, transport.LeaveRequest) (transport.LeaveResponse, error) {
	return transport.LeaveResponse{Accepted: true}, nil
}

func (f *fakeClient) Members(context.Context, string) (transport.MembersResponse, error) {
	return transport.MembersResponse{}, nil
}

func record(host string) codec.Member {
	return codec.Member{CoreAddress: codec.NewAddress(host, 7687), RaftAddress: codec.NewAddress(host, 7688)}
}

func newTestCluster(t *testing.T, eng *fakeEngine, mem *fakeMembership, cli transport.RPCClient) *Cluster {
	t.Helper()
	c, err := New(Options{
		NodeID:            "n1",
		Record:            record("10.0.0.1"),
		Discovery:         static.New(),
		Logger:            log.New(io.Discard, "", 0),
		Consensus:         eng,
		Membership:        mem,
		RPCClient:         cli,
		ReconcileInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestOptionsValidate(t *testing.T) {
	assert.Error(t, Options{}.Validate())
	bad := Options{NodeID: "n1", Record: codec.Member{CoreAddress: codec.NewAddress("a", -1)}}
	assert.ErrorIs(t, bad.Validate(), codec.ErrInvalidPort)
}

func TestHandleJoin_LeaderRecordsMember(t *testing.T) {
	eng := newFakeEngine(true)
	c := newTestCluster(t, eng, &fakeMembership{}, nil)

	resp, err := c.handleJoin(context.Background(), transport.JoinRequest{ID: "n2", Member: record("10.0.0.2")})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.Equal(t, record("10.0.0.2"), c.Members()["n2"])

	// identical record is not re-applied
	_, _ = c.handleJoin(context.Background(), transport.JoinRequest{ID: "n2", Member: record("10.0.0.2")})
	assert.Equal(t, 1, eng.adds)
}

func TestHandleJoin_FollowerReturnsLeaderCoreAddress(t *testing.T) {
	eng := newFakeEngine(false)
	eng.leaderID = "n9"
	eng.members["n9"] = record("10.0.0.9")
	c := newTestCluster(t, eng, &fakeMembership{}, nil)

	resp, err := c.handleJoin(context.Background(), transport.JoinRequest{ID: "n2", Member: record("10.0.0.2")})
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, "10.0.0.9:7687", resp.Leader)
	assert.Equal(t, ErrNotLeader.Error(), resp.Error)
}

func TestHandleJoin_RejectsInvalidRecord(t *testing.T) {
	c := newTestCluster(t, newFakeEngine(true), &fakeMembership{}, nil)
	resp, err := c.handleJoin(context.Background(), transport.JoinRequest{ID: "n2", Member: codec.Member{CoreAddress: codec.NewAddress("a", 70000)}})
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.NotEmpty(t, resp.Error)

	resp, _ = c.handleJoin(context.Background(), transport.JoinRequest{Member: record("a")})
	assert.False(t, resp.Accepted)
}

func TestHandleLeaveAndMembers(t *testing.T) {
	eng := newFakeEngine(true)
	eng.members["b"] = record("10.0.0.3")
	eng.members["a"] = record("10.0.0.2")
	c := newTestCluster(t, eng, &fakeMembership{}, nil)

	list, err := c.handleMembers(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Members, 2)
	assert.Equal(t, "a", list.Members[0].ID)
	assert.Equal(t, "10.0.0.1:7687", list.Leader)

	resp, err := c.handleLeave(context.Background(), transport.LeaveRequest{ID: "a"})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.NotContains(t, c.Members(), "a")
}

func TestJoinCluster_FollowsLeaderHint(t *testing.T) {
	cli := &fakeClient{responses: map[string]transport.JoinResponse{
		"seed:7687":   {Leader: "leader:7687", Error: "not leader"},
		"leader:7687": {Accepted: true},
	}}
	c := newTestCluster(t, newFakeEngine(false), &fakeMembership{}, cli)

	require.NoError(t, c.JoinCluster(context.Background(), "seed:7687"))
	assert.Equal(t, []string{"seed:7687", "leader:7687"}, cli.calls)
}

func TestJoinCluster_Rejected(t *testing.T) {
	cli := &fakeClient{responses: map[string]transport.JoinResponse{"seed:7687": {Error: "nope"}}}
	c := newTestCluster(t, newFakeEngine(false), &fakeMembership{}, cli)
	assert.ErrorIs(t, c.JoinCluster(context.Background(), "seed:7687"), ErrJoinRejected)

	c = newTestCluster(t, newFakeEngine(false), &fakeMembership{}, nil)
	assert.ErrorIs(t, c.JoinCluster(context.Background(), "seed:7687"), ErrNoRPCClient)
}

func TestStart_GossipEventsRecordAndRemove(t *testing.T) {
	eng := newFakeEngine(true)
	mem := &fakeMembership{
		evts:    make(chan membership.Event, 4),
		members: []membership.MemberInfo{{ID: "n3", Record: record("10.0.0.3"), Valid: true}, {ID: "n4"}},
	}
	c := newTestCluster(t, eng, mem, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := c.Subscribe(ctx)
	require.NoError(t, c.Start(ctx))
	defer c.Close()

	mem.evts <- membership.Event{Type: membership.EventJoin, Member: membership.MemberInfo{ID: "n2", Record: record("10.0.0.2"), Valid: true}}
	require.Eventually(t, func() bool {
		ms := c.Members()
		_, self := ms["n1"]
		_, n2 := ms["n2"]
		_, n3 := ms["n3"]
		return self && n2 && n3
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotContains(t, c.Members(), "n4")

	mem.evts <- membership.Event{Type: membership.EventFailed, Member: membership.MemberInfo{ID: "n3"}}
	mem.evts <- membership.Event{Type: membership.EventLeave, Member: membership.MemberInfo{ID: "n2"}}
	require.Eventually(t, func() bool {
		_, ok := c.Members()["n2"]
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, c.Members(), "n3")

	eng.lch <- consensus.LeaderInfo{ID: "n1", Term: 3}
	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-sub:
				if ev.Type == EventLeaderChanged {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStatus(t *testing.T) {
	eng := newFakeEngine(true)
	eng.members["n1"] = record("10.0.0.1")
	c := newTestCluster(t, eng, &fakeMembership{}, nil)
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.IsLeader)
	assert.Equal(t, uint64(3), st.Term)
	assert.Equal(t, "10.0.0.1:7687", st.Leader)
	assert.Len(t, st.Members, 1)
	assert.Equal(t, -1, st.GossipHealth)
}

func TestHandleJoin_RetriesVoterAfterFailure(t *testing.T) {
	eng := newFakeEngine(true)
	eng.voterErr = errors.New("add voter: timed out")
	c := newTestCluster(t, eng, &fakeMembership{}, nil)
	req := transport.JoinRequest{ID: "n2", Member: record("10.0.0.2")}

	resp, err := c.handleJoin(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Contains(t, resp.Error, "timed out")

	eng.mu.Lock()
	eng.voterErr = nil
	eng.mu.Unlock()
	resp, err = c.handleJoin(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.Equal(t, 2, eng.voters)
	assert.Equal(t, 1, eng.adds)
}

func TestHandleJoinLeave_CountOutcomes(t *testing.T) {
	obsmetrics.Register()
	join := func(l string) float64 { return testutil.ToFloat64(obsmetrics.JoinRequests.WithLabelValues(l)) }
	leave := func(l string) float64 { return testutil.ToFloat64(obsmetrics.LeaveRequests.WithLabelValues(l)) }
	accepted, redirected, rejected := join("accepted"), join("redirected"), join("rejected")
	leaveAccepted := leave("accepted")

	leader := newTestCluster(t, newFakeEngine(true), &fakeMembership{}, nil)
	_, _ = leader.handleJoin(context.Background(), transport.JoinRequest{ID: "n2", Member: record("10.0.0.2")})
	_, _ = leader.handleJoin(context.Background(), transport.JoinRequest{Member: record("10.0.0.2")})
	_, _ = leader.handleLeave(context.Background(), transport.LeaveRequest{ID: "n2"})

	eng := newFakeEngine(false)
	eng.leaderID = "n9"
	eng.members["n9"] = record("10.0.0.9")
	follower := newTestCluster(t, eng, &fakeMembership{}, nil)
	_, _ = follower.handleJoin(context.Background(), transport.JoinRequest{ID: "n2", Member: record("10.0.0.2")})

	assert.Equal(t, accepted+1, join("accepted"))
	assert.Equal(t, rejected+1, join("rejected"))
	assert.Equal(t, redirected+1, join("redirected"))
	assert.Equal(t, leaveAccepted+1, leave("accepted"))
}
