package httpjson

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/amirimatin/go-rumors/internal/logutil"
	"github.com/amirimatin/go-rumors/pkg/observability/tracing"
	"github.com/amirimatin/go-rumors/pkg/transport"
)

// Server is a minimal HTTP server exposing the management endpoints: status,
// bad endpoint reports, metrics and healthz. It is intended for operators and
// development tooling.
type Server struct {
	bind   string
	ln     net.Listener
	srv    *http.Server
	log    logrus.FieldLogger
	tlsCfg *tls.Config
}

// NewServer binds to the given TCP address (e.g., ":17946").
func NewServer(bind string, logger logrus.FieldLogger) *Server {
	return &Server{bind: bind, log: logutil.Component(logger, "httpjson")}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Handler builds the management mux.
func Handler(status transport.StatusFunc, report transport.ReportFunc) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, span := tracing.StartSpan(r.Context(), "http.status")
		data, err := status(ctx)
		span.End(err)
		if err != nil {
			http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if report == nil {
			http.Error(w, "report not supported", http.StatusNotImplemented)
			return
		}
		var req transport.ReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
			return
		}
		ctx, span := tracing.StartSpan(r.Context(), "http.report", tracing.Peer(net.JoinHostPort(req.IP, fmt.Sprint(req.Port))))
		resp, err := report(ctx, req)
		span.End(err)
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			if resp.Error == "" {
				resp.Error = err.Error()
			}
			w.WriteHeader(http.StatusBadRequest)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

// Start launches the HTTP server. The server is shut down when the context is
// canceled.
func (s *Server) Start(ctx context.Context, status transport.StatusFunc, report transport.ReportFunc) error {
	ln, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	s.ln = ln
	if s.tlsCfg != nil {
		ln = tls.NewListener(ln, s.tlsCfg)
	}
	srv := &http.Server{Handler: Handler(status, report), ReadHeaderTimeout: 5 * time.Second}
	s.srv = srv

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("server error")
		}
	}()
	s.log.WithField("addr", s.Addr()).Info("management api listening")
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	c, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := s.srv.Shutdown(c)
	s.srv = nil
	return err
}

var _ transport.RPCServer = (*Server)(nil)
