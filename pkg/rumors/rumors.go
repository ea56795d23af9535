// Package rumors is a self-organizing peer discovery engine. Peers announce
// the endpoints they know over IPv4 multicast and, optionally, to a list of
// static seeds over TCP, and merge what they hear into a shared table.
package rumors

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	sockaddr "github.com/hashicorp/go-sockaddr"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/amirimatin/go-rumors/pkg/discovery"
	"github.com/amirimatin/go-rumors/pkg/discovery/static"
	"github.com/amirimatin/go-rumors/internal/logutil"
	"github.com/amirimatin/go-rumors/pkg/membership"
	obsmetrics "github.com/amirimatin/go-rumors/pkg/observability/metrics"
	"github.com/amirimatin/go-rumors/pkg/transport/tcp"
	"github.com/amirimatin/go-rumors/pkg/transport/udp"
	"github.com/amirimatin/go-rumors/pkg/transport/wire"
)

type runState int

const (
	stopped runState = iota
	running
)

// Engine owns the membership table, the sockets and the workers that keep the
// table in sync with the rest of the group.
type Engine struct {
	mu    sync.Mutex
	opts  Options
	state runState
	run   *session

	table *membership.Table
	log   logrus.FieldLogger
	eb    eventBus

	// self is the running session's endpoint, readable by workers without mu.
	self atomic.Pointer[membership.Endpoint]
}

// session holds everything acquired by one Begin and released by End.
type session struct {
	self   membership.Endpoint
	msg    *tcp.Listener
	mcast  *udp.Conn
	static *tcp.Listener

	// senders: sweeper, broadcaster, static client
	senders       *errgroup.Group
	cancelSenders context.CancelFunc
	// listeners: receiver, static server
	listeners       *errgroup.Group
	cancelListeners context.CancelFunc
}

// New builds a stopped engine. Zero fields of opts take their defaults.
func New(opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{opts: opts, log: logutil.Component(opts.Logger, "rumors")}
	e.table = membership.NewTable(opts.Clock, e.onTableChange)
	return e, nil
}

func (e *Engine) onTableChange(ev membership.Event) {
	obsmetrics.Members.Set(float64(e.table.Len()))
	e.eb.publish(ev)
}

// Begin binds the sockets and starts the workers. It is a no-op while the
// engine is running. A socket failure leaves the engine stopped with nothing
// held and is reported as *PortInitializationError.
func (e *Engine) Begin(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == running {
		return nil
	}
	obsmetrics.Register()
	opts := e.opts

	s, err := acquire(ctx, opts)
	if err != nil {
		return err
	}
	s.self = localEndpoint(s.msg, opts.AdvertiseIP)
	e.restore(opts)
	e.table.Touch(s.self)
	self := s.self
	e.self.Store(&self)

	sendCtx, cancelSenders := context.WithCancel(context.Background())
	s.senders, s.cancelSenders = &errgroup.Group{}, cancelSenders
	listenCtx, cancelListeners := context.WithCancel(context.Background())
	s.listeners, s.cancelListeners = &errgroup.Group{}, cancelListeners

	s.listeners.Go(func() error { return e.receive(listenCtx, s.mcast, opts) })
	if s.static != nil {
		s.listeners.Go(func() error { return e.serveStatic(listenCtx, s.static, opts) })
	}
	s.senders.Go(func() error { return e.broadcast(sendCtx, s.mcast, opts) })
	if opts.Seeds != nil {
		s.senders.Go(func() error { return e.staticClient(sendCtx, opts) })
	}
	s.senders.Go(func() error { return e.maintain(sendCtx, opts, s.self) })

	e.run = s
	e.state = running
	e.log.WithFields(logrus.Fields{
		"self":      s.self.String(),
		"broadcast": opts.Broadcast.String(),
		"static":    opts.StaticPort,
	}).Info("rumors started")
	return nil
}

func acquire(ctx context.Context, opts Options) (*session, error) {
	s := &session{}
	fail := func(op, addr string, err error) (*session, error) {
		s.close()
		return nil, &PortInitializationError{Op: op, Addr: addr, Err: err}
	}

	var err error
	if s.msg, err = tcp.Listen(ctx, "0.0.0.0:0"); err != nil {
		return fail("message", "0.0.0.0:0", err)
	}
	s.mcast, err = udp.Listen(ctx, udp.Options{Group: opts.Broadcast, Interface: opts.Interface, TTL: opts.TTL})
	if err != nil {
		return fail("multicast", opts.Broadcast.String(), err)
	}
	if opts.StaticPort > 0 {
		addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(opts.StaticPort))
		if s.static, err = tcp.Listen(ctx, addr); err != nil {
			return fail("static", addr, err)
		}
	}
	return s, nil
}

// close releases every socket the session holds. Closing the multicast socket
// leaves the group.
func (s *session) close() []error {
	var errs []error
	if s.mcast != nil {
		if err := s.mcast.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close multicast socket"))
		}
	}
	if s.static != nil {
		if err := s.static.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close static listener"))
		}
	}
	if s.msg != nil {
		if err := s.msg.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close message socket"))
		}
	}
	return errs
}

// localEndpoint derives the advertised endpoint from the message socket. A
// wildcard bind is replaced by the advertise ip, then the first private ip,
// then loopback.
func localEndpoint(msg *tcp.Listener, advertise string) membership.Endpoint {
	ep := membership.Endpoint{Port: msg.Port()}
	switch ip := msg.IP(); {
	case advertise != "":
		ep.IP = advertise
	case ip != nil && !ip.IsUnspecified():
		ep.IP = ip.String()
	default:
		if priv, err := sockaddr.GetPrivateIP(); err == nil && priv != "" {
			ep.IP = priv
		} else {
			ep.IP = "127.0.0.1"
		}
	}
	return ep
}

// End stops the workers, tells the group this engine is leaving and releases
// the sockets. It is a no-op while stopped. Failures are logged, never returned.
func (e *Engine) End() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != running {
		return
	}
	s := e.run

	s.cancelSenders()
	_ = s.senders.Wait()

	if b, err := wire.Encode(wire.Message{Kind: wire.Leave, Endpoints: []membership.Endpoint{s.self}}); err != nil {
		e.log.WithError(err).Warn("encode leave announcement")
	} else if err := s.mcast.Send(b); err != nil {
		e.log.WithError(err).Warn("send leave announcement")
	} else {
		obsmetrics.AnnouncementsSent.WithLabelValues("udp").Inc()
	}

	for _, err := range s.close() {
		e.log.WithError(err).Warn("release socket")
	}
	s.cancelListeners()
	_ = s.listeners.Wait()

	// A restarted engine gets a new message port; the old self must not linger.
	e.self.Store(nil)
	e.table.Remove(s.self, membership.EventLeave)
	e.persist(e.opts)

	e.run = nil
	e.state = stopped
	e.log.WithField("self", s.self.String()).Info("rumors stopped")
}

// Close is End for callers that expect an io.Closer.
func (e *Engine) Close() error {
	e.End()
	return nil
}

// Running reports whether Begin has succeeded and End has not been called.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == running
}

// Self returns the local endpoint while running.
func (e *Engine) Self() (membership.Endpoint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != running {
		return membership.Endpoint{}, false
	}
	return e.run.self, true
}

// Endpoints returns a point-in-time copy of the known endpoints, including the
// engine's own while running.
func (e *Engine) Endpoints() []membership.Endpoint {
	return e.table.Endpoints()
}

// ReportBadEndpoint drops ep from the table, e.g. after the application failed
// to reach it. It reports whether ep was removed. Peers still announcing ep
// will add it back. The engine's own endpoint stays while running.
func (e *Engine) ReportBadEndpoint(ep membership.Endpoint) bool {
	if e.isSelf(ep) {
		e.log.WithField("endpoint", ep.String()).Debug("ignoring report naming self")
		return false
	}
	removed := e.table.Remove(ep, membership.EventReported)
	if removed {
		obsmetrics.ReportedBad.Inc()
		e.log.WithField("endpoint", ep.String()).Info("removed reported endpoint")
	}
	return removed
}

func (e *Engine) isSelf(ep membership.Endpoint) bool {
	self := e.self.Load()
	return self != nil && *self == ep
}

// others returns eps without the running engine's own endpoint.
func (e *Engine) others(eps []membership.Endpoint) []membership.Endpoint {
	self := e.self.Load()
	if self == nil {
		return eps
	}
	out := make([]membership.Endpoint, 0, len(eps))
	for _, ep := range eps {
		if ep != *self {
			out = append(out, ep)
		}
	}
	return out
}

func (e *Engine) setOption(apply func(o *Options) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == running {
		return ErrRunning
	}
	next := e.opts
	if err := apply(&next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	e.opts = next
	return nil
}

// SetBroadcastEndpoint sets the multicast group and port.
func (e *Engine) SetBroadcastEndpoint(ep membership.Endpoint) error {
	return e.setOption(func(o *Options) error { o.Broadcast = ep; return nil })
}

// SetStaticPort sets the static server port; 0 disables the server.
func (e *Engine) SetStaticPort(port int) error {
	return e.setOption(func(o *Options) error { o.StaticPort = port; return nil })
}

// SetSeeds replaces the seed source with a fixed list. An empty list disables
// the static client.
func (e *Engine) SetSeeds(seeds ...membership.Endpoint) error {
	return e.setOption(func(o *Options) error {
		if len(seeds) == 0 {
			o.Seeds = nil
		} else {
			o.Seeds = static.New(seeds...)
		}
		return nil
	})
}

// SetSeedSource replaces the seed source.
func (e *Engine) SetSeedSource(d discovery.Discovery) error {
	return e.setOption(func(o *Options) error { o.Seeds = d; return nil })
}

// SetAnnounceDelays replaces the announce schedule.
func (e *Engine) SetAnnounceDelays(delays []time.Duration) error {
	return e.setOption(func(o *Options) error {
		if err := validateDelays(delays); err != nil {
			return err
		}
		o.AnnounceDelays = append([]time.Duration(nil), delays...)
		return nil
	})
}

// SetAnnounceDelay replaces the announce schedule from comma-separated
// milliseconds.
func (e *Engine) SetAnnounceDelay(csv string) error {
	delays, err := ParseDelays(csv)
	if err != nil {
		return err
	}
	return e.SetAnnounceDelays(delays)
}

// Options returns a copy of the current configuration.
func (e *Engine) Options() Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	o := e.opts
	o.AnnounceDelays = append([]time.Duration(nil), o.AnnounceDelays...)
	return o
}
