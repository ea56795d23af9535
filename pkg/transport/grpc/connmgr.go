package grpc

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc"

	obsmetrics "github.com/amirimatin/go-rumors/pkg/observability/metrics"
)

// Dialer opens a client connection to target.
type Dialer func(ctx context.Context, target string) (*grpc.ClientConn, error)

// ConnManager caches gRPC client connections per address with idle eviction.
type ConnManager struct {
	mu      sync.Mutex
	conns   map[string]*managedConn
	ttl     time.Duration
	dialer  Dialer
	clock   clockwork.Clock
	closing chan struct{}
	closed  sync.Once
}

type managedConn struct {
	cc       *grpc.ClientConn
	lastUsed time.Time
	ref      int
}

// NewConnManager creates a manager with the given idle TTL and dialer.
func NewConnManager(ttl time.Duration, dialer Dialer) *ConnManager {
	return newConnManager(ttl, dialer, clockwork.NewRealClock())
}

func newConnManager(ttl time.Duration, dialer Dialer, clock clockwork.Clock) *ConnManager {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	m := &ConnManager{ttl: ttl, dialer: dialer, clock: clock, conns: make(map[string]*managedConn), closing: make(chan struct{})}
	go m.janitor()
	return m
}

// Get returns a connection for target and a release func to be called when done.
func (m *ConnManager) Get(ctx context.Context, target string) (*grpc.ClientConn, func(), error) {
	release := func() { m.release(target) }
	m.mu.Lock()
	if mc, ok := m.conns[target]; ok {
		mc.ref++
		mc.lastUsed = m.clock.Now()
		m.mu.Unlock()
		obsmetrics.MgmtConnReuse.Inc()
		return mc.cc, release, nil
	}
	m.mu.Unlock()

	// Dial outside lock
	cc, err := m.dialer(ctx, target)
	if err != nil {
		return nil, func() {}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.conns[target]; ok {
		// Another caller won the race.
		_ = cc.Close()
		existing.ref++
		existing.lastUsed = m.clock.Now()
		obsmetrics.MgmtConnReuse.Inc()
		return existing.cc, release, nil
	}
	m.conns[target] = &managedConn{cc: cc, lastUsed: m.clock.Now(), ref: 1}
	obsmetrics.MgmtConnDials.Inc()
	obsmetrics.MgmtConnActive.Inc()
	return cc, release, nil
}

func (m *ConnManager) release(target string) {
	m.mu.Lock()
	if mc, ok := m.conns[target]; ok {
		if mc.ref > 0 {
			mc.ref--
		}
		mc.lastUsed = m.clock.Now()
	}
	m.mu.Unlock()
}

// Len returns the number of cached connections.
func (m *ConnManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Close closes all cached connections and stops the janitor.
func (m *ConnManager) Close() {
	m.closed.Do(func() { close(m.closing) })
	m.mu.Lock()
	for k, mc := range m.conns {
		_ = mc.cc.Close()
		obsmetrics.MgmtConnActive.Dec()
		delete(m.conns, k)
	}
	m.mu.Unlock()
}

func (m *ConnManager) janitor() {
	ticker := m.clock.NewTicker(m.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-m.closing:
			return
		case <-ticker.Chan():
			m.evictIdle()
		}
	}
}

func (m *ConnManager) evictIdle() {
	cutoff := m.clock.Now().Add(-m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, mc := range m.conns {
		if mc.ref == 0 && mc.lastUsed.Before(cutoff) {
			_ = mc.cc.Close()
			obsmetrics.MgmtConnEvictions.Inc()
			obsmetrics.MgmtConnActive.Dec()
			delete(m.conns, addr)
		}
	}
}
