// Package cli provides cobra commands to run and operate rumors nodes.
// Settings come from flags, an optional config file and RUMORS_* environment
// variables, in that order of precedence.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/amirimatin/go-rumors/pkg/bootstrap"
	"github.com/amirimatin/go-rumors/pkg/discovery/dns"
	"github.com/amirimatin/go-rumors/internal/logutil"
	"github.com/amirimatin/go-rumors/pkg/membership"
	"github.com/amirimatin/go-rumors/pkg/observability/tracing"
	"github.com/amirimatin/go-rumors/pkg/rumors"
	"github.com/amirimatin/go-rumors/pkg/transport"
)

// EnvPrefix prefixes every environment override, e.g. RUMORS_STATIC_PORT.
const EnvPrefix = "RUMORS"

// AddAll attaches the node subcommands (run/status/report/sniff) to root.
func AddAll(root *cobra.Command) {
	root.AddCommand(NewRunCmd())
	root.AddCommand(NewStatusCmd())
	root.AddCommand(NewReportCmd())
	root.AddCommand(NewSniffCmd())
}

// NewRumorsCommand returns a parent command "rumors" containing the node
// subcommands, for embedding into an application's own CLI.
func NewRumorsCommand() *cobra.Command {
	parent := &cobra.Command{Use: "rumors", Short: "peer discovery commands"}
	AddAll(parent)
	return parent
}

// newViper returns a viper instance reading RUMORS_* variables with dots and
// dashes mapped to underscores.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// bindFlags binds each config key to the flag of the same name with dots and
// underscores turned into dashes.
func bindFlags(cmd *cobra.Command, v *viper.Viper, keys ...string) {
	for _, key := range keys {
		name := strings.NewReplacer(".", "-", "_", "-").Replace(key)
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

// readConfig loads the file named by the "config" key, if any.
func readConfig(v *viper.Viper) error {
	path := v.GetString("config")
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	return errors.Wrapf(v.ReadInConfig(), "read config %s", path)
}

var nodeKeys = []string{
	"config",
	"broadcast", "interface", "ttl",
	"static.port", "seeds", "seed_discovery",
	"dns.names", "dns.port", "file.path", "file.env", "discovery.refresh",
	"announce.delay", "advertise", "reply_only_on_change",
	"store.path",
	"mgmt.addr", "mgmt.proto",
	"tls.enable", "tls.ca", "tls.cert", "tls.key", "tls.server_name", "tls.skip_verify",
	"trace", "log.json", "log.level",
}

func addTLSFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("tls-enable", false, "enable mTLS for management transport")
	cmd.Flags().String("tls-ca", "", "path to CA cert (PEM)")
	cmd.Flags().String("tls-cert", "", "path to certificate (PEM)")
	cmd.Flags().String("tls-key", "", "path to private key (PEM)")
	cmd.Flags().Bool("tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
	cmd.Flags().String("tls-server-name", "", "expected server name (for TLS validation)")
}

// ConfigFrom builds a bootstrap.Config from the keys bound on v.
func ConfigFrom(v *viper.Viper) bootstrap.Config {
	return bootstrap.Config{
		Broadcast:         v.GetString("broadcast"),
		Interface:         v.GetString("interface"),
		TTL:               v.GetInt("ttl"),
		StaticPort:        v.GetInt("static.port"),
		SeedDiscovery:     v.GetString("seed_discovery"),
		Seeds:             v.GetStringSlice("seeds"),
		DNSNames:          v.GetStringSlice("dns.names"),
		DNSPort:           v.GetInt("dns.port"),
		DiscRefresh:       v.GetDuration("discovery.refresh"),
		FilePath:          v.GetString("file.path"),
		FileEnv:           v.GetString("file.env"),
		AnnounceDelay:     v.GetString("announce.delay"),
		Advertise:         v.GetString("advertise"),
		ReplyOnlyOnChange: v.GetBool("reply_only_on_change"),
		StorePath:         v.GetString("store.path"),
		MgmtAddr:          v.GetString("mgmt.addr"),
		MgmtProto:         v.GetString("mgmt.proto"),
		TLSEnable:         v.GetBool("tls.enable"),
		TLSCA:             v.GetString("tls.ca"),
		TLSCert:           v.GetString("tls.cert"),
		TLSKey:            v.GetString("tls.key"),
		TLSServerName:     v.GetString("tls.server_name"),
		TLSSkipVerify:     v.GetBool("tls.skip_verify"),
	}
}

func configureLogging(v *viper.Viper) *logrus.Logger {
	if v.IsSet("log.json") {
		logutil.SetJSON(v.GetBool("log.json"))
	}
	l := logutil.Default()
	if lvl := v.GetString("log.level"); lvl != "" {
		if parsed, err := logrus.ParseLevel(lvl); err == nil {
			l.SetLevel(parsed)
		}
	}
	return l
}

// NewRunCmd returns the "run" command used to start a node.
func NewRunCmd() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a rumors node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := readConfig(v); err != nil {
				return err
			}
			log := configureLogging(v)
			ctx, cancel := signalContext()
			defer cancel()

			if v.GetBool("trace") {
				shutdown, err := tracing.Setup(true)
				if err != nil {
					log.WithError(err).Warn("tracing setup error")
				} else {
					defer func() { _ = shutdown(context.Background()) }()
				}
			}

			cfg := ConfigFrom(v)
			cfg.Logger = log
			node, err := bootstrap.Run(ctx, cfg)
			if err != nil {
				return err
			}
			defer node.Close()

			self, _ := node.Engine.Self()
			fields := logrus.Fields{"self": self.String()}
			if node.Mgmt != nil {
				fields["mgmt"] = node.Mgmt.Addr()
			}
			log.WithFields(fields).Info("node running, press Ctrl+C to exit")
			for ev := range node.Engine.Subscribe(ctx) {
				log.WithFields(logrus.Fields{"event": ev.Type, "endpoint": ev.Endpoint.String()}).Info("membership changed")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.String("config", "", "config file (yaml, json or toml)")
	f.String("broadcast", fmt.Sprintf("%s:%d", rumors.DefaultBroadcastIP, rumors.DefaultBroadcastPort), "multicast group ip:port")
	f.String("interface", "", "network interface for multicast (default: system choice)")
	f.Int("ttl", 0, "multicast TTL (0 keeps the system default)")
	f.Int("static-port", 0, "static discovery server port (0 disables)")
	f.StringSlice("seeds", nil, "comma-separated static seeds (ip:port), used by seed-discovery=static")
	f.String("seed-discovery", "static", "seed source: static|dns|file")
	f.StringSlice("dns-names", nil, "comma-separated DNS names or SRV records (e.g., _rumors._tcp.example.com)")
	f.Int("dns-port", dns.DefaultPort, "port used for A/AAAA lookups")
	f.Duration("discovery-refresh", 5*time.Second, "seed source refresh/cache duration")
	f.String("file-path", "", "path or glob to a file with seeds (one per line or CSV)")
	f.String("file-env", "", "ENV var name containing CSV seeds; overrides file when set")
	f.String("announce-delay", "", "comma-separated announce delays in milliseconds (last one repeats)")
	f.String("advertise", "", "ip advertised for this node (default: detected)")
	f.Bool("reply-only-on-change", false, "static server answers only pushes that changed the table")
	f.String("store-path", "", "directory for the peer cache (empty disables it)")
	f.String("mgmt-addr", "", "management API address (host:port, empty disables it)")
	f.String("mgmt-proto", "http", "management RPC protocol: http|grpc")
	addTLSFlags(cmd)
	f.Bool("trace", false, "enable OpenTelemetry stdout tracing (dev)")
	f.Bool("log-json", false, "log as JSON")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	bindFlags(cmd, v, nodeKeys...)
	return cmd
}

// clientFrom builds a management client from the command's bound keys.
func clientFrom(v *viper.Viper) (transport.RPCClient, time.Duration, error) {
	timeout := v.GetDuration("timeout")
	cli, err := bootstrap.Client(ConfigFrom(v), timeout)
	return cli, timeout, err
}

var clientKeys = []string{
	"config", "addr", "timeout", "mgmt.proto",
	"tls.enable", "tls.ca", "tls.cert", "tls.key", "tls.server_name", "tls.skip_verify",
}

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "config file (yaml, json or toml)")
	cmd.Flags().String("addr", "127.0.0.1:17946", "management address of a node (host:port)")
	cmd.Flags().Duration("timeout", 3*time.Second, "request timeout")
	cmd.Flags().String("mgmt-proto", "http", "management RPC protocol: http|grpc")
	addTLSFlags(cmd)
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch node status as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := readConfig(v); err != nil {
				return err
			}
			client, timeout, err := clientFrom(v)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			data, err := client.GetStatus(ctx, v.GetString("addr"))
			if err != nil {
				return errors.Wrap(err, "status error")
			}
			out := cmd.OutOrStdout()
			_, _ = out.Write(data)
			if len(data) == 0 || data[len(data)-1] != '\n' {
				_, _ = out.Write([]byte("\n"))
			}
			return nil
		},
	}
	addClientFlags(cmd)
	bindFlags(cmd, v, clientKeys...)
	return cmd
}

// NewReportCmd returns the "report" command, which asks a node to drop an
// endpoint the caller failed to reach.
func NewReportCmd() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "report <ip:port>",
		Short: "Report an unreachable endpoint to a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ep, err := membership.ParseEndpoint(args[0])
			if err != nil {
				return err
			}
			if err := readConfig(v); err != nil {
				return err
			}
			client, timeout, err := clientFrom(v)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			resp, err := client.PostReport(ctx, v.GetString("addr"), transport.ReportRequest{IP: ep.IP, Port: ep.Port})
			if err != nil {
				return errors.Wrap(err, "report error")
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(resp)
		},
	}
	addClientFlags(cmd)
	bindFlags(cmd, v, clientKeys...)
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
