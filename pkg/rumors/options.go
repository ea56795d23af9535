package rumors

import (
	"net"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/amirimatin/go-rumors/pkg/discovery"
	"github.com/amirimatin/go-rumors/pkg/membership"
	"github.com/amirimatin/go-rumors/pkg/state"
)

const (
	DefaultBroadcastIP   = "228.229.230.231"
	DefaultBroadcastPort = 13531

	DefaultMaintenanceInterval = 60 * time.Second
	DefaultStaleAfter          = 5 * DefaultMaintenanceInterval
	DefaultExchangeTimeout     = 5 * time.Second

	// staticOffset is added to every static client sleep so it does not fire
	// in lockstep with the broadcaster.
	staticOffset = 100 * time.Millisecond
)

// DefaultAnnounceDelays is the broadcast schedule: a quick first announcement,
// a few at a moderate pace, then one a minute.
func DefaultAnnounceDelays() []time.Duration {
	return []time.Duration{100 * time.Millisecond, 5 * time.Second, 5 * time.Second, 5 * time.Second, 60 * time.Second}
}

// Options is the engine configuration. Zero values select the defaults.
type Options struct {
	// Broadcast is the multicast group and port every peer binds.
	Broadcast membership.Endpoint
	// Interface optionally names the interface used for multicast.
	Interface string
	// TTL is the multicast hop limit; zero keeps the system default.
	TTL int

	// StaticPort is the TCP port of the static discovery server; 0 disables it.
	StaticPort int
	// Seeds provides the static discovery targets; nil disables the client.
	// The source is asked on every cycle, so one that is empty at Begin (DNS
	// not ready, file not written yet) is picked up once it yields seeds.
	Seeds discovery.Discovery

	// AnnounceDelays are used in order, repeating the last one forever.
	AnnounceDelays []time.Duration

	MaintenanceInterval time.Duration
	StaleAfter          time.Duration
	// ExchangeTimeout bounds one static exchange (dial, push and reply).
	ExchangeTimeout time.Duration

	// ReplyOnlyOnChange makes the static server answer only when the inbound
	// push changed the table. Some older peers behave this way.
	ReplyOnlyOnChange bool

	// AdvertiseIP overrides the ip part of the local endpoint.
	AdvertiseIP string

	// Store optionally persists the table between runs.
	Store state.PeerStore

	Clock  clockwork.Clock
	Logger logrus.FieldLogger
}

// DefaultOptions returns the options a freshly built engine starts with.
func DefaultOptions() Options { return Options{}.withDefaults() }

func (o Options) withDefaults() Options {
	if o.Broadcast.IP == "" {
		o.Broadcast.IP = DefaultBroadcastIP
	}
	if o.Broadcast.Port == 0 {
		o.Broadcast.Port = DefaultBroadcastPort
	}
	if len(o.AnnounceDelays) == 0 {
		o.AnnounceDelays = DefaultAnnounceDelays()
	} else {
		o.AnnounceDelays = append([]time.Duration(nil), o.AnnounceDelays...)
	}
	if o.MaintenanceInterval <= 0 {
		o.MaintenanceInterval = DefaultMaintenanceInterval
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}
	if o.ExchangeTimeout <= 0 {
		o.ExchangeTimeout = DefaultExchangeTimeout
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// Validate checks Options after defaults are applied. It performs no network
// activity.
func (o Options) Validate() error {
	o = o.withDefaults()
	ip := net.ParseIP(o.Broadcast.IP)
	if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
		return errors.Wrapf(ErrInvalidOptions, "broadcast ip %q is not an IPv4 multicast group", o.Broadcast.IP)
	}
	if o.Broadcast.Port < 1 || o.Broadcast.Port > 65535 {
		return errors.Wrapf(ErrInvalidOptions, "broadcast port %d out of range", o.Broadcast.Port)
	}
	if o.StaticPort < 0 || o.StaticPort > 65535 {
		return errors.Wrapf(ErrInvalidOptions, "static port %d out of range", o.StaticPort)
	}
	if err := validateDelays(o.AnnounceDelays); err != nil {
		return err
	}
	if o.AdvertiseIP != "" && net.ParseIP(o.AdvertiseIP) == nil {
		return errors.Wrapf(ErrInvalidOptions, "advertise ip %q", o.AdvertiseIP)
	}
	return nil
}

func validateDelays(delays []time.Duration) error {
	if len(delays) == 0 {
		return errors.Wrap(ErrInvalidDelay, "empty schedule")
	}
	for i, d := range delays {
		if d <= 0 {
			return errors.Wrapf(ErrInvalidDelay, "delay %d is %v", i, d)
		}
	}
	return nil
}
