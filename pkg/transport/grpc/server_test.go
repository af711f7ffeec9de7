package grpc

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/amirimatin/coremember/pkg/codec"
	"github.com/amirimatin/coremember/pkg/transport"
)

type fakeRegistry struct {
	mu      sync.Mutex
	members map[string]codec.Member
	leader  bool
}

func (f *fakeRegistry) handlers() transport.Handlers {
	return transport.Handlers{
		Join: func(ctx context.Context, req transport.JoinRequest) (transport.JoinResponse, error) {
			if !f.leader {
				return transport.JoinResponse{Leader: "10.0.0.9:7687"}, fmt.Errorf("not leader")
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			f.members[req.ID] = req.Member
			return transport.JoinResponse{Accepted: true}, nil
		},
		Members: func(ctx context.Context) (transport.MembersResponse, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			out := transport.MembersResponse{Leader: "n1"}
			for id, m := range f.members {
				out.Members = append(out.Members, transport.MemberEntry{ID: id, Member: m})
			}
			return out, nil
		},
	}
}

func startServer(t *testing.T, reg *fakeRegistry) (*Server, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer("127.0.0.1:0")
	require.NoError(t, s.Start(ctx, reg.handlers()))
	return s, cancel
}

func TestServer_JoinAndMembers(t *testing.T) {
	reg := &fakeRegistry{members: map[string]codec.Member{}, leader: true}
	s, cancel := startServer(t, reg)
	defer cancel()

	cli := NewClient(3 * time.Second)
	m := codec.Member{CoreAddress: codec.NewAddress("10.0.0.1", 7687), RaftAddress: codec.NewAddress("10.0.0.1", 7688)}
	resp, err := cli.Join(context.Background(), s.Addr(), transport.JoinRequest{ID: "n2", Member: m})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)

	list, err := cli.Members(context.Background(), s.Addr())
	require.NoError(t, err)
	assert.Equal(t, "n1", list.Leader)
	require.Len(t, list.Members, 1)
	assert.Equal(t, transport.MemberEntry{ID: "n2", Member: m}, list.Members[0])
}

func TestServer_JoinOnFollowerReturnsLeaderHint(t *testing.T) {
	reg := &fakeRegistry{members: map[string]codec.Member{}}
	s, cancel := startServer(t, reg)
	defer cancel()

	resp, err := NewClient(3*time.Second).Join(context.Background(), s.Addr(), transport.JoinRequest{ID: "n2"})
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, "10.0.0.9:7687", resp.Leader)
	assert.Equal(t, "not leader", resp.Error)
}

func TestServer_LeaveUnsupported(t *testing.T) {
	s, cancel := startServer(t, &fakeRegistry{members: map[string]codec.Member{}})
	defer cancel()

	resp, err := NewClient(3*time.Second).Leave(context.Background(), s.Addr(), transport.LeaveRequest{ID: "n2"})
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.NotEmpty(t, resp.Error)
}

func TestServer_HealthUsesProtobuf(t *testing.T) {
	s, cancel := startServer(t, &fakeRegistry{members: map[string]codec.Member{}})
	defer cancel()

	ctx, done := context.WithTimeout(context.Background(), 3*time.Second)
	defer done()
	cc, err := gogrpc.DialContext(ctx, s.Addr(), gogrpc.WithTransportCredentials(insecure.NewCredentials()), gogrpc.WithBlock())
	require.NoError(t, err)
	defer cc.Close()
	resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestBinaryCodec(t *testing.T) {
	c := binaryCodec{}
	assert.Equal(t, "coremember", c.Name())

	m := codec.Member{CoreAddress: codec.NewAddress("a", 1), RaftAddress: codec.NewAddress("b", 2)}
	p, err := c.Marshal(&m)
	require.NoError(t, err)
	assert.Len(t, p, 18)

	var got codec.Member
	require.NoError(t, c.Unmarshal(p, &got))
	assert.Equal(t, m, got)

	assert.ErrorIs(t, c.Unmarshal(append(p, 1), &got), codec.ErrInvalidLength)
	assert.ErrorIs(t, c.Unmarshal(p[:10], &got), codec.ErrBufferUnderflow)

	_, err = c.Marshal("not a frame")
	assert.Error(t, err)
	assert.Error(t, c.Unmarshal(p, new(string)))
}
