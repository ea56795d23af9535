package dns

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/amirimatin/go-rumors/pkg/discovery"
	"github.com/amirimatin/go-rumors/internal/logutil"
	"github.com/amirimatin/go-rumors/pkg/membership"
)

// DefaultPort is used for A/AAAA answers when Options.Port is zero.
const DefaultPort = 13531

// Options configures DNS-based discovery.
type Options struct {
	// Names are SRV records or hostnames to resolve.
	// Examples: "_rumors._tcp.example.com" (SRV) or "node1.example.com" (A/AAAA).
	Names []string

	// Port used when resolving A/AAAA records (no port info in DNS answer).
	Port int

	// Refresh controls cache staleness; if zero, defaults to 5s.
	Refresh time.Duration

	// Timeout bounds one resolution round; if zero, defaults to 2s.
	Timeout time.Duration

	// Resolver optionally overrides the DNS resolver used.
	Resolver *net.Resolver

	Logger logrus.FieldLogger
	Clock  clockwork.Clock
}

type impl struct {
	opts  Options
	log   logrus.FieldLogger
	mu    sync.Mutex
	last  time.Time
	cache []membership.Endpoint
}

// New returns a DNS-backed discovery that resolves SRV and A/AAAA names
// and caches results for the Refresh duration.
func New(opts Options) discovery.Discovery {
	if opts.Refresh <= 0 {
		opts.Refresh = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &impl{opts: opts, log: logutil.Component(opts.Logger, "discovery.dns")}
}

func (d *impl) Seeds() []membership.Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.opts.Clock.Now()
	if now.Sub(d.last) < d.opts.Refresh && len(d.cache) > 0 {
		return append([]membership.Endpoint(nil), d.cache...)
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
	defer cancel()
	d.cache = d.resolveAll(ctx)
	d.last = now
	return append([]membership.Endpoint(nil), d.cache...)
}

func (d *impl) resolveAll(ctx context.Context) []membership.Endpoint {
	var items []string
	for _, name := range d.opts.Names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		// host:port is taken as-is
		if _, _, err := net.SplitHostPort(name); err == nil {
			items = append(items, name)
			continue
		}
		if strings.HasPrefix(name, "_") && strings.Contains(name, "._") {
			if recs := d.lookupSRV(ctx, name); len(recs) > 0 {
				items = append(items, recs...)
				continue
			}
		}
		items = append(items, d.lookupHost(ctx, name, d.opts.Port)...)
	}
	eps, bad := discovery.ParseList(items)
	if len(bad) > 0 {
		d.log.WithField("items", bad).Warn("ignoring unparsable dns answers")
	}
	return eps
}

func (d *impl) lookupSRV(ctx context.Context, fqdn string) []string {
	svc, proto, domain := parseSRVName(fqdn)
	if svc == "" || proto == "" || domain == "" {
		return nil
	}
	_, addrs, err := d.opts.Resolver.LookupSRV(ctx, svc, proto, domain)
	if err != nil {
		d.log.WithError(err).WithField("name", fqdn).Debug("srv lookup failed")
		return nil
	}
	var out []string
	for _, a := range addrs {
		host := strings.TrimSuffix(a.Target, ".")
		out = append(out, net.JoinHostPort(host, strconv.Itoa(int(a.Port))))
	}
	return out
}

func (d *impl) lookupHost(ctx context.Context, host string, port int) []string {
	ips, err := d.opts.Resolver.LookupHost(ctx, host)
	if err != nil {
		d.log.WithError(err).WithField("name", host).Debug("host lookup failed")
		return nil
	}
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		out = append(out, net.JoinHostPort(ip, strconv.Itoa(port)))
	}
	return out
}

func parseSRVName(fqdn string) (service, proto, name string) {
	// _service._proto.name
	parts := strings.SplitN(fqdn, ".", 3)
	if len(parts) < 3 {
		return "", "", ""
	}
	s := strings.TrimPrefix(parts[0], "_")
	p := strings.TrimPrefix(parts[1], "_")
	return s, p, parts[2]
}
