// Package bootstrap assembles a runnable rumors node (engine, seed discovery,
// peer cache and management API) from one flat configuration.
package bootstrap

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/amirimatin/go-rumors/pkg/discovery"
	dDNS "github.com/amirimatin/go-rumors/pkg/discovery/dns"
	dFile "github.com/amirimatin/go-rumors/pkg/discovery/file"
	dStatic "github.com/amirimatin/go-rumors/pkg/discovery/static"
	"github.com/amirimatin/go-rumors/internal/logutil"
	"github.com/amirimatin/go-rumors/pkg/membership"
	"github.com/amirimatin/go-rumors/pkg/rumors"
	tlsx "github.com/amirimatin/go-rumors/pkg/security/tlsconfig"
	"github.com/amirimatin/go-rumors/pkg/state/peerstore"
	"github.com/amirimatin/go-rumors/pkg/transport"
	mgmtgrpc "github.com/amirimatin/go-rumors/pkg/transport/grpc"
	httpjson "github.com/amirimatin/go-rumors/pkg/transport/httpjson"
)

// Config defines high-level inputs to assemble a node. Zero values select the
// engine defaults.
type Config struct {
	// Multicast
	Broadcast string // group ip:port
	Interface string
	TTL       int

	// Static discovery
	StaticPort    int
	SeedDiscovery string   // "static" (default), "dns" or "file"
	Seeds         []string // used when SeedDiscovery=static; items may hold CSV
	DNSNames      []string // used when SeedDiscovery=dns
	DNSPort       int
	DiscRefresh   time.Duration
	FilePath      string // used when SeedDiscovery=file
	FileEnv       string

	AnnounceDelay     string // CSV milliseconds
	Advertise         string
	ReplyOnlyOnChange bool

	// StorePath holds the peer cache; empty disables it.
	StorePath string

	// Management API; an empty address disables it.
	MgmtAddr  string
	MgmtProto string // "http" (default) or "grpc"

	// TLS (optional) for management API
	TLSEnable     bool
	TLSCA         string
	TLSCert       string
	TLSKey        string
	TLSServerName string
	TLSSkipVerify bool

	// Logger (optional). If nil, the process logger is used.
	Logger logrus.FieldLogger
}

// Node is an assembled, not yet started, rumors node.
type Node struct {
	Engine *rumors.Engine
	Mgmt   transport.RPCServer

	store *peerstore.Store
	log   logrus.FieldLogger
}

// Seeds builds the seed source named by cfg.SeedDiscovery. It returns nil when
// static discovery has no seeds.
func Seeds(cfg Config) (discovery.Discovery, error) {
	switch strings.ToLower(cfg.SeedDiscovery) {
	case "dns":
		return dDNS.New(dDNS.Options{Names: flatten(cfg.DNSNames), Port: cfg.DNSPort, Refresh: cfg.DiscRefresh, Logger: cfg.Logger}), nil
	case "file":
		return dFile.New(dFile.Options{Path: cfg.FilePath, Env: cfg.FileEnv, Refresh: cfg.DiscRefresh, Logger: cfg.Logger}), nil
	case "", "static":
		seeds, err := dStatic.Parse(strings.Join(cfg.Seeds, ","))
		if err != nil {
			return nil, err
		}
		if len(seeds) == 0 {
			return nil, nil
		}
		return dStatic.New(seeds...), nil
	default:
		return nil, errors.Errorf("bootstrap: unknown seed discovery %q", cfg.SeedDiscovery)
	}
}

func flatten(items []string) []string {
	return discovery.SplitCSV(strings.Join(items, ","))
}

// Options maps cfg onto engine options without touching the network.
func Options(cfg Config) (rumors.Options, error) {
	opts := rumors.Options{
		Interface:         cfg.Interface,
		TTL:               cfg.TTL,
		StaticPort:        cfg.StaticPort,
		AdvertiseIP:       cfg.Advertise,
		ReplyOnlyOnChange: cfg.ReplyOnlyOnChange,
		Logger:            cfg.Logger,
	}
	if cfg.Broadcast != "" {
		ep, err := membership.ParseEndpoint(cfg.Broadcast)
		if err != nil {
			return opts, errors.Wrap(err, "bootstrap: broadcast")
		}
		opts.Broadcast = ep
	}
	if cfg.AnnounceDelay != "" {
		delays, err := rumors.ParseDelays(cfg.AnnounceDelay)
		if err != nil {
			return opts, err
		}
		opts.AnnounceDelays = delays
	}
	seeds, err := Seeds(cfg)
	if err != nil {
		return opts, err
	}
	opts.Seeds = seeds
	return opts, nil
}

// Build assembles a Node from Config without starting it.
func Build(cfg Config) (*Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = logutil.Default()
	}
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}
	n := &Node{log: logutil.Component(cfg.Logger, "bootstrap")}
	if cfg.StorePath != "" {
		if n.store, err = peerstore.Open(cfg.StorePath); err != nil {
			return nil, err
		}
		opts.Store = n.store
	}
	if n.Engine, err = rumors.New(opts); err != nil {
		n.closeStore()
		return nil, err
	}
	if cfg.MgmtAddr != "" {
		if n.Mgmt, err = mgmtServer(cfg); err != nil {
			n.closeStore()
			return nil, err
		}
	}
	return n, nil
}

func mgmtServer(cfg Config) (transport.RPCServer, error) {
	var srvTLS *tls.Config
	if cfg.TLSEnable {
		topts := tlsx.Options{Enable: true, CAFile: cfg.TLSCA, CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey, InsecureSkipVerify: cfg.TLSSkipVerify, ServerName: cfg.TLSServerName}
		var err error
		if srvTLS, err = topts.Server(); err != nil {
			return nil, err
		}
	}
	switch strings.ToLower(cfg.MgmtProto) {
	case "grpc":
		s := mgmtgrpc.NewServer(cfg.MgmtAddr)
		if srvTLS != nil {
			s.UseTLS(srvTLS)
		}
		return s, nil
	case "", "http":
		s := httpjson.NewServer(cfg.MgmtAddr, cfg.Logger)
		if srvTLS != nil {
			s.UseTLS(srvTLS)
		}
		return s, nil
	default:
		return nil, errors.Errorf("bootstrap: unknown management protocol %q", cfg.MgmtProto)
	}
}

// Client returns a management client matching cfg's protocol and TLS
// settings.
func Client(cfg Config, timeout time.Duration) (transport.RPCClient, error) {
	var cliTLS *tls.Config
	if cfg.TLSEnable {
		topts := tlsx.Options{Enable: true, CAFile: cfg.TLSCA, CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey, InsecureSkipVerify: cfg.TLSSkipVerify, ServerName: cfg.TLSServerName}
		var err error
		if cliTLS, err = topts.Client(); err != nil {
			return nil, err
		}
	}
	switch strings.ToLower(cfg.MgmtProto) {
	case "grpc":
		return mgmtgrpc.NewClient(timeout).UseTLS(cliTLS), nil
	case "", "http":
		return httpjson.NewClient(timeout).UseTLS(cliTLS), nil
	default:
		return nil, errors.Errorf("bootstrap: unknown management protocol %q", cfg.MgmtProto)
	}
}

// Start begins the engine and then the management API.
func (n *Node) Start(ctx context.Context) error {
	if err := n.Engine.Begin(ctx); err != nil {
		return err
	}
	if n.Mgmt == nil {
		return nil
	}
	if err := n.Mgmt.Start(ctx, n.status, n.report); err != nil {
		n.Engine.End()
		return errors.Wrap(err, "bootstrap: management api")
	}
	return nil
}

func (n *Node) status(context.Context) ([]byte, error) {
	return json.Marshal(n.Engine.Status())
}

func (n *Node) report(_ context.Context, req transport.ReportRequest) (transport.ReportResponse, error) {
	if req.IP == "" || req.Port < 1 || req.Port > 65535 {
		return transport.ReportResponse{}, errors.Wrapf(membership.ErrInvalidEndpoint, "%s:%d", req.IP, req.Port)
	}
	removed := n.Engine.ReportBadEndpoint(membership.Endpoint{IP: req.IP, Port: req.Port})
	return transport.ReportResponse{Removed: removed}, nil
}

// Close stops the management API and the engine and releases the peer cache.
func (n *Node) Close() error {
	if n.Mgmt != nil {
		if err := n.Mgmt.Stop(context.Background()); err != nil {
			n.log.WithError(err).Warn("stop management api")
		}
	}
	n.Engine.End()
	return n.closeStore()
}

func (n *Node) closeStore() error {
	if n.store == nil {
		return nil
	}
	err := n.store.Close()
	n.store = nil
	return err
}

// Run builds and starts a node. The caller is responsible for calling Close()
// when finished.
func Run(ctx context.Context, cfg Config) (*Node, error) {
	n, err := Build(cfg)
	if err != nil {
		return nil, err
	}
	if err := n.Start(ctx); err != nil {
		_ = n.closeStore()
		return nil, err
	}
	return n, nil
}
