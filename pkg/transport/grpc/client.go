package grpc

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/amirimatin/go-rumors/pkg/transport"
)

type Client struct {
	timeout time.Duration
	tlsCfg  *tls.Config

	once sync.Once
	cm   *ConnManager
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{timeout: timeout}
}

// UseTLS sets TLS config for the client.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
	// Use JSON codec and set content subtype accordingly.
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype(codecName)),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
	}
	if c.tlsCfg != nil {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return grpc.NewClient(target, opts...)
}

// getConn returns a managed connection, creating the manager on first use.
func (c *Client) getConn(ctx context.Context, addr string) (*grpc.ClientConn, func(), error) {
	c.once.Do(func() { c.cm = NewConnManager(30*time.Second, c.dialCtx) })
	return c.cm.Get(ctx, addr)
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cc, rel, err := c.getConn(cctx, addr)
	if err != nil {
		return nil, err
	}
	defer rel()
	out := new(statusBlob)
	if err := cc.Invoke(cctx, "/"+serviceName+"/GetStatus", &empty{}, out); err != nil {
		return nil, errors.Wrapf(err, "grpc: status from %s", addr)
	}
	return out.Data, nil
}

func (c *Client) PostReport(ctx context.Context, addr string, req transport.ReportRequest) (transport.ReportResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var resp transport.ReportResponse
	cc, rel, err := c.getConn(cctx, addr)
	if err != nil {
		return resp, err
	}
	defer rel()
	if err := cc.Invoke(cctx, "/"+serviceName+"/Report", &req, &resp); err != nil {
		return resp, errors.Wrapf(err, "grpc: report to %s", addr)
	}
	if resp.Error != "" {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

// Healthy asks the standard health service whether the management service is
// serving.
func (c *Client) Healthy(ctx context.Context, addr string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cc, rel, err := c.getConn(cctx, addr)
	if err != nil {
		return false, err
	}
	defer rel()
	// The server forces the JSON codec for every service, health included.
	resp, err := healthpb.NewHealthClient(cc).Check(cctx, &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Close releases cached connections.
func (c *Client) Close() {
	if c.cm != nil {
		c.cm.Close()
	}
}

var _ transport.RPCClient = (*Client)(nil)
