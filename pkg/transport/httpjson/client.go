package httpjson

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/amirimatin/go-rumors/pkg/transport"
)

const attempts = 3

// Client is a thin HTTP client for the management API. It supports optional
// TLS configuration and simple retry with backoff for robustness.
type Client struct {
	httpc     *http.Client
	transport *http.Transport
	isTLS     bool
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	tr := &http.Transport{}
	return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
	c.transport.TLSClientConfig = cfg
	c.isTLS = cfg != nil
	return c
}

func (c *Client) url(addr, path string) string {
	scheme := "http"
	if c.isTLS {
		scheme = "https"
	}
	return scheme + "://" + addr + path
}

// do sends a fresh request per attempt and retries transport errors and 5xx
// answers with exponential backoff. Other answers are returned as they are.
func (c *Client) do(ctx context.Context, method, url string, body []byte) (int, []byte, error) {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rd)
		if err != nil {
			return 0, nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpc.Do(req)
		if err == nil {
			b, rerr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case rerr != nil:
				lastErr = rerr
			case resp.StatusCode >= 500:
				lastErr = errors.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, bytes.TrimSpace(b))
			default:
				return resp.StatusCode, b, nil
			}
		} else {
			lastErr = err
		}
		// backoff unless context is done
		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
		}
	}
	return 0, nil, lastErr
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
	code, b, err := c.do(ctx, http.MethodGet, c.url(addr, "/status"), nil)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, errors.Errorf("status %d: %s", code, bytes.TrimSpace(b))
	}
	return b, nil
}

func (c *Client) PostReport(ctx context.Context, addr string, req transport.ReportRequest) (transport.ReportResponse, error) {
	var out transport.ReportResponse
	body, err := json.Marshal(req)
	if err != nil {
		return out, err
	}
	code, b, err := c.do(ctx, http.MethodPost, c.url(addr, "/report"), body)
	if err != nil {
		return out, err
	}
	_ = json.Unmarshal(b, &out)
	if code != http.StatusOK {
		if out.Error != "" {
			return out, errors.New(out.Error)
		}
		return out, errors.Errorf("report status %d: %s", code, bytes.TrimSpace(b))
	}
	return out, nil
}

var _ transport.RPCClient = (*Client)(nil)
