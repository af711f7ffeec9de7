package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/amirimatin/coremember/pkg/transport"
)

// Client performs short-lived membership calls against a node's core address.
type Client struct {
	timeout time.Duration
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{timeout: timeout}
}

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
	return grpc.DialContext(
		ctx,
		target,
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName), grpc.MaxCallRecvMsgSize(MaxFrameSize)),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
}

func (c *Client) invoke(ctx context.Context, addr, method string, in, out interface{}) error {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cc, err := c.dialCtx(cctx, addr)
	if err != nil {
		return err
	}
	defer cc.Close()
	return cc.Invoke(cctx, "/"+serviceName+"/"+method, in, out)
}

func (c *Client) Join(ctx context.Context, addr string, req transport.JoinRequest) (transport.JoinResponse, error) {
	var resp transport.JoinResponse
	err := c.invoke(ctx, addr, "Join", &req, &resp)
	return resp, err
}

func (c *Client) Leave(ctx context.Context, addr string, req transport.LeaveRequest) (transport.LeaveResponse, error) {
	var resp transport.LeaveResponse
	err := c.invoke(ctx, addr, "Leave", &req, &resp)
	return resp, err
}

func (c *Client) Members(ctx context.Context, addr string) (transport.MembersResponse, error) {
	var resp transport.MembersResponse
	err := c.invoke(ctx, addr, "Members", &transport.MembersRequest{}, &resp)
	return resp, err
}

var _ transport.RPCClient = (*Client)(nil)
