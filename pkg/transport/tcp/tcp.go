// Package tcp carries wire messages over short-lived TCP connections: the
// client pushes one message and reads one reply, the server reads one message
// and answers with one.
package tcp

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/amirimatin/go-rumors/pkg/membership"
	"github.com/amirimatin/go-rumors/pkg/transport"
	"github.com/amirimatin/go-rumors/pkg/transport/wire"
)

// MaxMessage bounds how many bytes are read for one message. It leaves room
// for far more than wire.MaxEndpoints IPv6 entries.
const MaxMessage = 1 << 20

// ErrNoReply is returned by Exchange when the server closed the connection
// without answering.
var ErrNoReply = errors.New("tcp: peer closed without reply")

// Listener wraps a TCP listener.
type Listener struct {
	ln net.Listener
}

var _ transport.Socket = (*Listener)(nil)

// Listen binds addr ("host:port", port 0 picks an ephemeral one).
func Listen(ctx context.Context, addr string) (*Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "tcp: listen %s", addr)
	}
	return &Listener{ln: ln}, nil
}

// Accept waits for the next connection. After Close it returns an error
// wrapping net.ErrClosed.
func (l *Listener) Accept() (net.Conn, error) { return l.ln.Accept() }

// Addr returns the bound address.
func (l *Listener) Addr() string { return l.ln.Addr().String() }

// Port returns the bound port.
func (l *Listener) Port() int {
	if a, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	_, p, _ := net.SplitHostPort(l.ln.Addr().String())
	n, _ := strconv.Atoi(p)
	return n
}

// IP returns the bound ip, which is the unspecified address for a wildcard bind.
func (l *Listener) IP() net.IP {
	if a, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return a.IP
	}
	return nil
}

func (l *Listener) Close() error { return l.ln.Close() }

// Exchange dials target, writes msg and reads a single reply. The timeout
// bounds the whole exchange; zero means no deadline beyond ctx.
func Exchange(ctx context.Context, target membership.Endpoint, msg wire.Message, timeout time.Duration) (wire.Message, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", target.String())
	if err != nil {
		return wire.Message{}, errors.Wrapf(err, "tcp: dial %s", target)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := closeOnDone(ctx, conn)
	defer stop()

	if err := wire.Write(conn, msg); err != nil {
		return wire.Message{}, errors.Wrapf(err, "tcp: send to %s", target)
	}
	br := bufio.NewReader(io.LimitReader(conn, MaxMessage))
	if _, err := br.Peek(1); err != nil {
		if err == io.EOF {
			return wire.Message{}, ErrNoReply
		}
		return wire.Message{}, errors.Wrapf(err, "tcp: read reply from %s", target)
	}
	reply, err := wire.Read(br)
	if err != nil {
		return wire.Message{}, errors.Wrapf(err, "tcp: reply from %s", target)
	}
	return reply, nil
}

// Handler turns an inbound message into the reply. A nil reply closes the
// connection without answering.
type Handler func(ctx context.Context, remote net.Addr, in wire.Message) *wire.Message

// Serve reads one message from conn, passes it to h and writes the reply.
// conn is closed on return.
func Serve(ctx context.Context, conn net.Conn, timeout time.Duration, h Handler) error {
	defer conn.Close()
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	stop := closeOnDone(ctx, conn)
	defer stop()

	in, err := wire.Read(bufio.NewReader(io.LimitReader(conn, MaxMessage)))
	if err != nil {
		return errors.Wrapf(err, "tcp: read from %s", conn.RemoteAddr())
	}
	reply := h(ctx, conn.RemoteAddr(), in)
	if reply == nil {
		return nil
	}
	return errors.Wrapf(wire.Write(conn, *reply), "tcp: reply to %s", conn.RemoteAddr())
}

// closeOnDone closes c when ctx ends so blocked reads return.
func closeOnDone(ctx context.Context, c io.Closer) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}
