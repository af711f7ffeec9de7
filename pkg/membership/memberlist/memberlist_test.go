package memberlist

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirimatin/coremember/pkg/codec"
	base "github.com/amirimatin/coremember/pkg/membership"
)

func record(id string) codec.Member {
	return codec.Member{
		CoreAddress: codec.NewAddress(id+".core.local", 7687),
		RaftAddress: codec.NewAddress(id+".raft.local", 7688),
	}
}

func TestMemberlist_StartLocal(t *testing.T) {
	m, err := New(Options{NodeID: "t1", Bind: "127.0.0.1:0", Record: record("t1"), Logger: log.Default(), ProbeInterval: 100 * time.Millisecond})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	local := m.Local()
	assert.Equal(t, "t1", local.ID)
	assert.True(t, local.Valid)
	assert.Equal(t, record("t1"), local.Record)

	hr, ok := m.(base.HealthReporter)
	require.True(t, ok, "impl does not implement HealthReporter")
	assert.GreaterOrEqual(t, hr.HealthScore(), 0)
}

func TestMemberlist_RecordTooLargeForGossip(t *testing.T) {
	long := make([]byte, memberlist.MetaMaxSize)
	for i := range long {
		long[i] = 'h'
	}
	rec := codec.Member{CoreAddress: codec.NewAddress(string(long), 1)}
	m, err := New(Options{NodeID: "t1", Bind: "127.0.0.1:0", Record: rec})
	require.NoError(t, err)
	assert.Error(t, m.Start(context.Background()))
}

func TestMemberlist_MultiNodeJoinLeave(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	n1, addr1 := startNode(t, ctx, "n1")
	defer n1.Stop()

	n2, _ := startNode(t, ctx, "n2")
	defer n2.Stop()
	require.NoError(t, n2.Join([]string{addr1}))

	n3, _ := startNode(t, ctx, "n3")
	defer n3.Stop()
	require.NoError(t, n3.Join([]string{addr1}))

	awaitMembers(t, n1, 3, 5*time.Second)
	awaitMembers(t, n2, 3, 5*time.Second)
	awaitMembers(t, n3, 3, 5*time.Second)

	// every peer sees every other peer's record
	for _, mi := range n1.Members() {
		require.True(t, mi.Valid, mi.ID)
		assert.Equal(t, record(mi.ID), mi.Record)
	}

	_ = n2.Leave()
	_ = n2.Stop()

	awaitMembers(t, n1, 2, 5*time.Second)
	awaitMembers(t, n3, 2, 5*time.Second)
}

func TestMemberlist_JoinEventCarriesRecord(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n1, addr1 := startNode(t, ctx, "n1")
	defer n1.Stop()
	n2, _ := startNode(t, ctx, "n2")
	defer n2.Stop()
	require.NoError(t, n2.Join([]string{addr1}))

	for {
		select {
		case e := <-n1.Events():
			if e.Type == base.EventJoin && e.Member.ID == "n2" {
				assert.Equal(t, record("n2"), e.Member.Record)
				return
			}
		case <-ctx.Done():
			t.Fatalf("no join event for n2")
		}
	}
}

func TestNodeDelegate_NeverTruncates(t *testing.T) {
	d := &nodeDelegate{meta: []byte("0123456789")}
	assert.Nil(t, d.NodeMeta(5))
	assert.Equal(t, []byte("0123456789"), d.NodeMeta(10))
}

func TestInfo_UndecodableMeta(t *testing.T) {
	m := &impl{opts: Options{Logger: log.Default()}}
	mi := m.info(&memberlist.Node{Name: "x", Addr: []byte{127, 0, 0, 1}, Port: 1, Meta: []byte{0xff, 0xff, 0xff, 0xff}})
	assert.False(t, mi.Valid)
	assert.Equal(t, codec.Member{}, mi.Record)
	assert.Equal(t, "127.0.0.1:1", mi.Addr)
}

func startNode(t *testing.T, ctx context.Context, id string) (*impl, string) {
	t.Helper()
	m, err := New(Options{NodeID: id, Bind: "127.0.0.1:0", Record: record(id), Logger: log.Default(), ProbeInterval: 100 * time.Millisecond, SuspicionMult: 2})
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx))
	la := m.Local().Addr
	require.NotEmpty(t, la)
	return m.(*impl), la
}

func awaitMembers(t *testing.T, m base.Membership, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		got := m.Members()
		if len(got) == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("members timeout: got=%d want=%d list=%v", len(got), want, got)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestEventDelegate_LeaveVersusFailed(t *testing.T) {
	var got []base.EventType
	d := &eventDelegate{
		emit: func(e base.Event) { got = append(got, e.Type) },
		info: func(n *memberlist.Node) base.MemberInfo { return base.MemberInfo{ID: n.Name} },
	}
	d.NotifyLeave(&memberlist.Node{Name: "a", State: memberlist.StateLeft})
	d.NotifyLeave(&memberlist.Node{Name: "b", State: memberlist.StateDead})
	d.NotifyLeave(nil)
	assert.Equal(t, []base.EventType{base.EventLeave, base.EventFailed}, got)
}
