package bootstrap

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirimatin/go-rumors/pkg/internal/testutil"
	"github.com/amirimatin/go-rumors/pkg/membership"
	"github.com/amirimatin/go-rumors/pkg/rumors"
	"github.com/amirimatin/go-rumors/pkg/transport"
)

func TestOptionsMapping(t *testing.T) {
	opts, err := Options(Config{
		Broadcast:     "239.1.2.3:4000",
		StaticPort:    5000,
		Seeds:         []string{"10.0.0.1:5000,10.0.0.2:5000", "10.0.0.1:5000"},
		AnnounceDelay: "50,1000",
		Advertise:     "192.168.1.10",
	})
	require.NoError(t, err)
	assert.Equal(t, membership.Endpoint{IP: "239.1.2.3", Port: 4000}, opts.Broadcast)
	assert.Equal(t, 5000, opts.StaticPort)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, time.Second}, opts.AnnounceDelays)
	assert.Equal(t, "192.168.1.10", opts.AdvertiseIP)
	require.NotNil(t, opts.Seeds)
	assert.Len(t, opts.Seeds.Seeds(), 2)
}

func TestOptionsRejectsBadInput(t *testing.T) {
	_, err := Options(Config{Broadcast: "nope"})
	require.ErrorIs(t, err, membership.ErrInvalidEndpoint)

	_, err = Options(Config{AnnounceDelay: "100,0"})
	require.ErrorIs(t, err, rumors.ErrInvalidDelay)

	_, err = Options(Config{Seeds: []string{"10.0.0.1"}})
	require.ErrorIs(t, err, membership.ErrInvalidEndpoint)

	_, err = Options(Config{SeedDiscovery: "consul"})
	require.Error(t, err)
}

func TestSeedsBackends(t *testing.T) {
	d, err := Seeds(Config{})
	require.NoError(t, err)
	assert.Nil(t, d)

	t.Setenv("RUMORS_TEST_SEEDS", "10.0.0.9:13531")
	d, err = Seeds(Config{SeedDiscovery: "file", FileEnv: "RUMORS_TEST_SEEDS"})
	require.NoError(t, err)
	assert.Equal(t, []membership.Endpoint{{IP: "10.0.0.9", Port: 13531}}, d.Seeds())

	d, err = Seeds(Config{SeedDiscovery: "DNS", DNSNames: []string{"10.0.0.7:1"}})
	require.NoError(t, err)
	assert.Equal(t, []membership.Endpoint{{IP: "10.0.0.7", Port: 1}}, d.Seeds())
}

func TestBuildRejectsUnknownProtocol(t *testing.T) {
	_, err := Build(Config{MgmtAddr: "127.0.0.1:0", MgmtProto: "smtp", Logger: testutil.Logger()})
	require.Error(t, err)
}

func TestReportValidates(t *testing.T) {
	n, err := Build(Config{Logger: testutil.Logger()})
	require.NoError(t, err)
	defer n.Close()

	_, err = n.report(context.Background(), transport.ReportRequest{IP: "10.0.0.1"})
	require.True(t, errors.Is(err, membership.ErrInvalidEndpoint))

	resp, err := n.report(context.Background(), transport.ReportRequest{IP: "10.0.0.1", Port: 7})
	require.NoError(t, err)
	assert.False(t, resp.Removed)
}

func TestRunServesStatus(t *testing.T) {
	for _, proto := range []string{"http", "grpc"} {
		t.Run(proto, func(t *testing.T) {
			port := testutil.FreeUDPPort(t)
			iface := testutil.RequireMulticast(t, port)
			cfg := Config{
				Broadcast: net.JoinHostPort(testutil.TestGroup, strconv.Itoa(port)),
				Interface: iface,
				MgmtAddr:  "127.0.0.1:0",
				MgmtProto: proto,
				StorePath: filepath.Join(t.TempDir(), "peers"),
				Logger:    testutil.Logger(),
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			n, err := Run(ctx, cfg)
			require.NoError(t, err)
			defer n.Close()

			cli, err := Client(cfg, 2*time.Second)
			require.NoError(t, err)
			b, err := cli.GetStatus(ctx, n.Mgmt.Addr())
			require.NoError(t, err)
			var st rumors.Status
			require.NoError(t, json.Unmarshal(b, &st))
			assert.True(t, st.Running)
			require.NotNil(t, st.Self)
			assert.Contains(t, st.Members, *st.Self)

			resp, err := cli.PostReport(ctx, n.Mgmt.Addr(), transport.ReportRequest{IP: "10.9.9.9", Port: 1})
			require.NoError(t, err)
			assert.False(t, resp.Removed)
		})
	}
}
