package rumors

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirimatin/go-rumors/pkg/discovery"
	"github.com/amirimatin/go-rumors/pkg/internal/testutil"
	"github.com/amirimatin/go-rumors/pkg/membership"
)

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, membership.Endpoint{IP: "228.229.230.231", Port: 13531}, o.Broadcast)
	assert.Equal(t, 0, o.StaticPort)
	assert.Nil(t, o.Seeds)
	assert.Equal(t, DefaultAnnounceDelays(), o.AnnounceDelays)
	assert.Equal(t, time.Minute, o.MaintenanceInterval)
	assert.Equal(t, 5*time.Minute, o.StaleAfter)
	require.NoError(t, o.Validate())
}

func TestValidate(t *testing.T) {
	cases := map[string]Options{
		"unicast group": {Broadcast: membership.Endpoint{IP: "10.0.0.1", Port: 1}},
		"ipv6 group":    {Broadcast: membership.Endpoint{IP: "ff02::1", Port: 1}},
		"port range":    {Broadcast: membership.Endpoint{IP: "239.1.1.1", Port: 70000}},
		"static port":   {StaticPort: -1},
		"zero delay":    {AnnounceDelays: []time.Duration{time.Second, 0}},
		"bad advertise": {AdvertiseIP: "not-an-ip"},
	}
	for name, o := range cases {
		assert.Error(t, o.Validate(), name)
	}
}

func TestSettersRejectedWhileRunning(t *testing.T) {
	e, err := New(Options{Logger: testutil.Logger()})
	require.NoError(t, err)

	require.NoError(t, e.SetStaticPort(4000))
	require.NoError(t, e.SetAnnounceDelay("10,20"))
	require.NoError(t, e.SetSeeds(membership.Endpoint{IP: "10.0.0.1", Port: 1}))
	require.NoError(t, e.SetBroadcastEndpoint(membership.Endpoint{IP: "239.1.2.3", Port: 4567}))
	o := e.Options()
	assert.Equal(t, 4000, o.StaticPort)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, o.AnnounceDelays)
	assert.Equal(t, []membership.Endpoint{{IP: "10.0.0.1", Port: 1}}, o.Seeds.Seeds())
	assert.Equal(t, membership.Endpoint{IP: "239.1.2.3", Port: 4567}, o.Broadcast)

	assert.True(t, errors.Is(e.SetAnnounceDelays([]time.Duration{-time.Second}), ErrInvalidDelay))
	assert.Error(t, e.SetBroadcastEndpoint(membership.Endpoint{IP: "10.0.0.1", Port: 1}))
	assert.Equal(t, membership.Endpoint{IP: "239.1.2.3", Port: 4567}, e.Options().Broadcast, "rejected setter must not change options")

	require.NoError(t, e.SetSeeds())
	assert.Nil(t, e.Options().Seeds)

	e.mu.Lock()
	e.state = running
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.state = stopped
		e.mu.Unlock()
	}()

	for name, err := range map[string]error{
		"broadcast":   e.SetBroadcastEndpoint(membership.Endpoint{IP: "239.1.1.1", Port: 1}),
		"static port": e.SetStaticPort(1),
		"seeds":       e.SetSeeds(membership.Endpoint{IP: "10.0.0.1", Port: 1}),
		"seed source": e.SetSeedSource(discovery.Func(func() []membership.Endpoint { return nil })),
		"delays":      e.SetAnnounceDelays([]time.Duration{time.Second}),
		"delay csv":   e.SetAnnounceDelay("1000"),
	} {
		assert.True(t, errors.Is(err, ErrRunning), "%s: %v", name, err)
	}
}
