// Package tlsconfig builds TLS configurations for the management API.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

// ReloadInterval bounds how long a loaded certificate is reused before the
// files are read again.
const ReloadInterval = 10 * time.Second

// Options defines mTLS configuration inputs.
type Options struct {
	Enable             bool
	CAFile             string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
	ServerName         string

	// Clock drives certificate reloads; nil means the real clock.
	Clock clockwork.Clock
}

// Server returns a server config that reloads its certificate from disk so it
// can be rotated without a restart. A CA file turns on client verification.
// It returns nil when TLS is disabled.
func (o Options) Server() (*tls.Config, error) {
	if !o.Enable {
		return nil, nil
	}
	if o.CertFile == "" || o.KeyFile == "" {
		return nil, errors.New("tls: server cert/key required when TLS enabled")
	}
	ld := o.loader()
	if _, err := ld.get(); err != nil {
		return nil, err
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if o.CAFile != "" {
		pool, err := loadPool(o.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return ld.get() }
	return cfg, nil
}

// Client returns a client config. The client certificate, when configured, is
// reloaded like the server's. It returns nil when TLS is disabled.
func (o Options) Client() (*tls.Config, error) {
	if !o.Enable {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: o.InsecureSkipVerify, ServerName: o.ServerName} //nolint:gosec
	if o.CAFile != "" {
		pool, err := loadPool(o.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if o.CertFile != "" && o.KeyFile != "" {
		ld := o.loader()
		if _, err := ld.get(); err != nil {
			return nil, err
		}
		cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return ld.get() }
	}
	return cfg, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	ca, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "tls: read ca")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(ca) {
		return nil, errors.Errorf("tls: no certificates in %s", path)
	}
	return pool, nil
}

type certLoader struct {
	certFile, keyFile string
	clock             clockwork.Clock

	mu       sync.Mutex
	cached   *tls.Certificate
	lastLoad time.Time
}

func (o Options) loader() *certLoader {
	clock := o.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &certLoader{certFile: o.CertFile, keyFile: o.KeyFile, clock: clock}
}

// get returns the cached pair, reading the files again once ReloadInterval
// has passed. A failed reload keeps serving the previous pair.
func (l *certLoader) get() (*tls.Certificate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if l.cached != nil && now.Sub(l.lastLoad) < ReloadInterval {
		return l.cached, nil
	}
	cert, err := tls.LoadX509KeyPair(l.certFile, l.keyFile)
	if err != nil {
		if l.cached != nil {
			return l.cached, nil
		}
		return nil, errors.Wrap(err, "tls: load key pair")
	}
	l.cached, l.lastLoad = &cert, now
	return l.cached, nil
}
