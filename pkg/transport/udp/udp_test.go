package udp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirimatin/go-rumors/pkg/internal/testutil"
	"github.com/amirimatin/go-rumors/pkg/membership"
)

func TestListenRejectsUnicastGroup(t *testing.T) {
	_, err := Listen(context.Background(), Options{Group: membership.Endpoint{IP: "10.0.0.1", Port: 13531}})
	require.Error(t, err)
}

func TestSharedPortReceivesGroupTraffic(t *testing.T) {
	port := testutil.FreeUDPPort(t)
	iface := testutil.RequireMulticast(t, port)
	opts := Options{Group: membership.Endpoint{IP: testutil.TestGroup, Port: port}, Interface: iface}

	a, err := Listen(context.Background(), opts)
	require.NoError(t, err)
	defer a.Close()
	b, err := Listen(context.Background(), opts)
	require.NoError(t, err, "a second peer on the same host must be able to bind the group port")
	defer b.Close()

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		for {
			n, _, err := b.Receive(buf)
			if err != nil {
				return
			}
			select {
			case got <- string(buf[:n]):
			default:
			}
		}
	}()

	require.NoError(t, a.Send([]byte("hello")))
	select {
	case msg := <-got:
		assert.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("datagram not delivered to the second socket")
	}
}

func TestReceiveUnblocksOnClose(t *testing.T) {
	port := testutil.FreeUDPPort(t)
	iface := testutil.RequireMulticast(t, port)
	c, err := Listen(context.Background(), Options{Group: membership.Endpoint{IP: testutil.TestGroup, Port: port}, Interface: iface})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, _, err := c.Receive(make([]byte, 16))
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, net.ErrClosed), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not return after close")
	}
}
