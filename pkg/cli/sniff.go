package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/amirimatin/go-rumors/pkg/membership"
	"github.com/amirimatin/go-rumors/pkg/rumors"
	"github.com/amirimatin/go-rumors/pkg/transport/udp"
	"github.com/amirimatin/go-rumors/pkg/transport/wire"
)

// NewSniffCmd returns the "sniff" command: a passive group member that prints
// every announcement it hears and never sends.
func NewSniffCmd() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "sniff",
		Short: "Print announcements seen on the multicast group",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := readConfig(v); err != nil {
				return err
			}
			group, err := membership.ParseEndpoint(v.GetString("broadcast"))
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			conn, err := udp.Listen(ctx, udp.Options{Group: group, Interface: v.GetString("interface")})
			if err != nil {
				return errors.Wrap(err, "join group")
			}
			return Sniff(ctx, conn, cmd.OutOrStdout(), v.GetInt("count"))
		},
	}
	cmd.Flags().String("config", "", "config file (yaml, json or toml)")
	cmd.Flags().String("broadcast", fmt.Sprintf("%s:%d", rumors.DefaultBroadcastIP, rumors.DefaultBroadcastPort), "multicast group ip:port")
	cmd.Flags().String("interface", "", "network interface for multicast (default: system choice)")
	cmd.Flags().Int("count", 0, "exit after this many messages (0 runs until interrupted)")
	bindFlags(cmd, v, "config", "broadcast", "interface", "count")
	return cmd
}

// Sniff prints one line per datagram received on conn until ctx ends, count
// messages were printed (when count > 0) or conn fails. It closes conn.
func Sniff(ctx context.Context, conn *udp.Conn, out io.Writer, count int) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	buf := make([]byte, wire.MaxDatagram)
	for seen := 0; count <= 0 || seen < count; {
		n, from, err := conn.Receive(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		seen++
		ts := time.Now().Format(time.RFC3339)
		m, err := wire.Decode(buf[:n])
		if err != nil {
			fmt.Fprintf(out, "%s %s malformed (%d bytes): %v\n", ts, from, n, err)
			continue
		}
		eps := make([]string, len(m.Endpoints))
		for i, e := range m.Endpoints {
			eps[i] = e.String()
		}
		fmt.Fprintf(out, "%s %s %s [%s]\n", ts, from, m.Kind, strings.Join(eps, " "))
	}
	return nil
}
