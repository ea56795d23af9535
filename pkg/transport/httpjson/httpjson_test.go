package httpjson

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirimatin/go-rumors/pkg/internal/testutil"
	"github.com/amirimatin/go-rumors/pkg/transport"
)

func status(context.Context) ([]byte, error) { return []byte(`{"running":true}`), nil }

func TestServerEndpoints(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := NewServer("127.0.0.1:0", testutil.Logger())
	require.NoError(t, srv.Start(ctx, status, nil))
	defer srv.Stop(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(b))

	resp, err = http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post("http://"+srv.Addr()+"/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post("http://"+srv.Addr()+"/report", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestClientRoundTrip(t *testing.T) {
	var got transport.ReportRequest
	report := func(_ context.Context, req transport.ReportRequest) (transport.ReportResponse, error) {
		got = req
		if req.Port == 0 {
			return transport.ReportResponse{}, errors.New("invalid endpoint")
		}
		return transport.ReportResponse{Removed: true}, nil
	}
	ts := httptest.NewServer(Handler(status, report))
	defer ts.Close()
	addr := strings.TrimPrefix(ts.URL, "http://")
	c := NewClient(time.Second)

	b, err := c.GetStatus(context.Background(), addr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"running":true}`, string(b))

	resp, err := c.PostReport(context.Background(), addr, transport.ReportRequest{IP: "10.0.0.2", Port: 9})
	require.NoError(t, err)
	assert.True(t, resp.Removed)
	assert.Equal(t, "10.0.0.2", got.IP)

	_, err = c.PostReport(context.Background(), addr, transport.ReportRequest{IP: "10.0.0.2"})
	require.Error(t, err)
	assert.Equal(t, "invalid endpoint", err.Error())
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		// The body must be resent intact on every attempt.
		assert.JSONEq(t, `{"ip":"10.0.0.3","port":5}`, string(body))
		_, _ = w.Write([]byte(`{"removed":false}`))
	}))
	defer ts.Close()

	c := NewClient(time.Second)
	resp, err := c.PostReport(context.Background(), strings.TrimPrefix(ts.URL, "http://"), transport.ReportRequest{IP: "10.0.0.3", Port: 5})
	require.NoError(t, err)
	assert.False(t, resp.Removed)
	assert.EqualValues(t, 3, calls.Load())
}
