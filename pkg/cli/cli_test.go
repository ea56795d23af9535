package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirimatin/go-rumors/pkg/internal/testutil"
	"github.com/amirimatin/go-rumors/pkg/membership"
	"github.com/amirimatin/go-rumors/pkg/transport"
	"github.com/amirimatin/go-rumors/pkg/transport/httpjson"
	"github.com/amirimatin/go-rumors/pkg/transport/udp"
	"github.com/amirimatin/go-rumors/pkg/transport/wire"
)

func TestConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "rumors.yaml")
	require.NoError(t, os.WriteFile(file, []byte(strings.Join([]string{
		"broadcast: 239.9.9.9:7000",
		"static:",
		"  port: 7100",
		"seeds:",
		"  - 10.0.0.1:7100",
		"  - 10.0.0.2:7100",
		"mgmt:",
		"  proto: grpc",
	}, "\n")), 0o600))
	t.Setenv("RUMORS_STATIC_PORT", "7200")

	v := newViper()
	cmd := NewRunCmd()
	bindFlags(cmd, v, nodeKeys...)
	require.NoError(t, cmd.Flags().Parse([]string{"--config", file, "--advertise", "192.168.0.5", "--mgmt-proto", "http"}))
	require.NoError(t, readConfig(v))

	cfg := ConfigFrom(v)
	assert.Equal(t, "239.9.9.9:7000", cfg.Broadcast)
	// env beats the file, flags beat both
	assert.Equal(t, 7200, cfg.StaticPort)
	assert.Equal(t, "http", cfg.MgmtProto)
	assert.Equal(t, "192.168.0.5", cfg.Advertise)
	assert.Equal(t, []string{"10.0.0.1:7100", "10.0.0.2:7100"}, cfg.Seeds)
	assert.Equal(t, "static", cfg.SeedDiscovery)
}

func TestConfigFlagLists(t *testing.T) {
	v := newViper()
	cmd := NewRunCmd()
	bindFlags(cmd, v, nodeKeys...)
	require.NoError(t, cmd.Flags().Parse([]string{"--seeds", "10.0.0.1:1,10.0.0.2:2", "--announce-delay", "10,20"}))

	cfg := ConfigFrom(v)
	assert.Equal(t, []string{"10.0.0.1:1", "10.0.0.2:2"}, cfg.Seeds)
	assert.Equal(t, "10,20", cfg.AnnounceDelay)
	assert.Equal(t, 5*time.Second, cfg.DiscRefresh)
}

func TestStatusAndReportCommands(t *testing.T) {
	var reported transport.ReportRequest
	status := func(context.Context) ([]byte, error) { return []byte(`{"running":true}`), nil }
	report := func(_ context.Context, req transport.ReportRequest) (transport.ReportResponse, error) {
		reported = req
		return transport.ReportResponse{Removed: true}, nil
	}
	ts := httptest.NewServer(httpjson.Handler(status, report))
	defer ts.Close()
	addr := strings.TrimPrefix(ts.URL, "http://")

	root := NewRumorsCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"status", "--addr", addr})
	require.NoError(t, root.Execute())
	assert.Equal(t, "{\"running\":true}\n", out.String())

	out.Reset()
	root = NewRumorsCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"report", "10.1.1.1:4000", "--addr", addr})
	require.NoError(t, root.Execute())
	assert.JSONEq(t, `{"removed":true}`, out.String())
	assert.Equal(t, transport.ReportRequest{IP: "10.1.1.1", Port: 4000}, reported)
}

func TestReportRejectsBadEndpoint(t *testing.T) {
	root := NewRumorsCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"report", "not-an-endpoint"})
	err := root.Execute()
	require.ErrorIs(t, err, membership.ErrInvalidEndpoint)
}

func TestSniffPrintsAnnouncements(t *testing.T) {
	port := testutil.FreeUDPPort(t)
	iface := testutil.RequireMulticast(t, port)
	group := membership.Endpoint{IP: testutil.TestGroup, Port: port}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listener, err := udp.Listen(ctx, udp.Options{Group: group, Interface: iface})
	require.NoError(t, err)
	sender, err := udp.Listen(ctx, udp.Options{Group: group, Interface: iface})
	require.NoError(t, err)
	defer sender.Close()

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- Sniff(ctx, listener, &out, 2) }()

	join, err := wire.Encode(wire.Message{Kind: wire.Join, Endpoints: []membership.Endpoint{{IP: "10.0.0.1", Port: 1}}})
	require.NoError(t, err)
	require.NoError(t, testutil.WaitFor(3*time.Second, 50*time.Millisecond, func() bool {
		select {
		case err := <-done:
			done <- err
			return true
		default:
		}
		_ = sender.Send(join)
		_ = sender.Send([]byte{0x00})
		return false
	}))
	require.NoError(t, <-done)
	assert.Contains(t, out.String(), "join [10.0.0.1:1]")
}
