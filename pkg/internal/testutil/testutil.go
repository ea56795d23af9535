// Package testutil holds helpers shared by the package tests.
package testutil

import (
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/ipv4"
)

// Logger returns a logger that stays quiet unless the test runs with -v.
func Logger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	verbose := false
	for _, arg := range os.Args {
		if arg == "-test.v=true" || arg == "-test.v" {
			verbose = true
		}
	}
	if !verbose {
		l.Out = io.Discard
	}
	return l
}

// FreeUDPPort returns a UDP port that was free a moment ago.
func FreeUDPPort(t testing.TB) int {
	t.Helper()
	c, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer c.Close()
	return c.LocalAddr().(*net.UDPAddr).Port
}

// FreeTCPPort returns a TCP port that was free a moment ago.
func FreeTCPPort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// WaitFor polls condition until it holds or timeout elapses.
func WaitFor(timeout, interval time.Duration, condition func() bool) error {
	if timeout < interval {
		return errors.New("timeout must be greater than interval")
	}
	start := time.Now()
	for {
		if condition() {
			return nil
		}
		if time.Since(start) >= timeout {
			return errors.Errorf("condition not met within %v", timeout)
		}
		time.Sleep(interval)
	}
}

// TestGroup is an administratively scoped group used by tests.
const TestGroup = "239.255.77.77"

// RequireMulticast skips the test unless a datagram sent to TestGroup on the
// given port loops back to this host. Containers often lack a multicast route.
// It returns the interface name that worked, or "" for the kernel default.
func RequireMulticast(t testing.TB, port int) string {
	t.Helper()
	candidates := []string{""}
	ifaces, _ := net.Interfaces()
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp != 0 && ifi.Flags&net.FlagMulticast != 0 {
			candidates = append(candidates, ifi.Name)
		}
	}
	for _, name := range candidates {
		if loopsBack(name, port) {
			return name
		}
	}
	t.Skip("multicast loopback unavailable on this host")
	return ""
}

func loopsBack(name string, port int) bool {
	var ifi *net.Interface
	if name != "" {
		var err error
		if ifi, err = net.InterfaceByName(name); err != nil {
			return false
		}
	}
	group := &net.UDPAddr{IP: net.ParseIP(TestGroup).To4(), Port: port}
	c, err := net.ListenPacket("udp4", group.String())
	if err != nil {
		return false
	}
	defer c.Close()
	pc := ipv4.NewPacketConn(c)
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group.IP}); err != nil {
		return false
	}
	defer pc.LeaveGroup(ifi, &net.UDPAddr{IP: group.IP})
	_ = pc.SetMulticastLoopback(true)
	if ifi != nil {
		if err := pc.SetMulticastInterface(ifi); err != nil {
			return false
		}
	}
	if _, err := c.WriteTo([]byte("ping"), group); err != nil {
		return false
	}
	_ = c.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	buf := make([]byte, 16)
	n, _, err := c.ReadFrom(buf)
	return err == nil && string(buf[:n]) == "ping"
}
