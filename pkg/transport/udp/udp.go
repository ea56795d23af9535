package udp

import (
	"context"
	"net"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"

	"github.com/amirimatin/go-rumors/pkg/membership"
	"github.com/amirimatin/go-rumors/pkg/transport"
)

// Options configures a multicast socket.
type Options struct {
	// Group is the multicast group ip and the port every peer binds.
	Group membership.Endpoint

	// Interface optionally names the network interface used to join the group
	// and to send. Empty lets the kernel pick by its routing table.
	Interface string

	// TTL is the multicast hop limit. Zero keeps the system default (1).
	TTL int
}

// Conn is a UDP socket bound to the group port and joined to the group.
type Conn struct {
	conn  net.PacketConn
	pc    *ipv4.PacketConn
	ifi   *net.Interface
	group *net.UDPAddr
}

var _ transport.Socket = (*Conn)(nil)

// Listen binds the group port on all addresses and joins the group. Loopback
// is enabled so peers on the same host hear each other.
func Listen(ctx context.Context, opts Options) (*Conn, error) {
	ip := net.ParseIP(opts.Group.IP).To4()
	if ip == nil || !ip.IsMulticast() {
		return nil, errors.Errorf("udp: %q is not an IPv4 multicast group", opts.Group.IP)
	}
	group := &net.UDPAddr{IP: ip, Port: opts.Group.Port}

	var ifi *net.Interface
	if opts.Interface != "" {
		var err error
		if ifi, err = net.InterfaceByName(opts.Interface); err != nil {
			return nil, errors.Wrapf(err, "udp: interface %q", opts.Interface)
		}
	}

	lc := net.ListenConfig{Control: reuseControl}
	conn, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(group.Port)))
	if err != nil {
		return nil, errors.Wrapf(err, "udp: bind port %d", group.Port)
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: ip}); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "udp: join group %s", ip)
	}
	c := &Conn{conn: conn, pc: pc, ifi: ifi, group: group}
	if err := c.configure(opts); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) configure(opts Options) error {
	if err := c.pc.SetMulticastLoopback(true); err != nil {
		return errors.Wrap(err, "udp: enable loopback")
	}
	if c.ifi != nil {
		if err := c.pc.SetMulticastInterface(c.ifi); err != nil {
			return errors.Wrapf(err, "udp: select interface %s", c.ifi.Name)
		}
	}
	if opts.TTL > 0 {
		if err := c.pc.SetMulticastTTL(opts.TTL); err != nil {
			return errors.Wrap(err, "udp: set ttl")
		}
	}
	return nil
}

// Send writes one datagram to the group.
func (c *Conn) Send(b []byte) error {
	_, err := c.conn.WriteTo(b, c.group)
	return errors.Wrapf(err, "udp: send to %s", c.group)
}

// Receive blocks for one datagram. After Close it returns an error wrapping
// net.ErrClosed.
func (c *Conn) Receive(buf []byte) (int, net.Addr, error) {
	return c.conn.ReadFrom(buf)
}

// Group returns the joined group address.
func (c *Conn) Group() *net.UDPAddr { return c.group }

// Addr returns the local bound address.
func (c *Conn) Addr() string { return c.conn.LocalAddr().String() }

// Close leaves the group and closes the socket.
func (c *Conn) Close() error {
	_ = c.pc.LeaveGroup(c.ifi, &net.UDPAddr{IP: c.group.IP})
	return c.conn.Close()
}
