package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	Members = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rumors",
		Name:      "members_total",
		Help:      "Current number of endpoints in the membership table",
	})

	AnnouncementsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rumors",
		Name:      "announcements_sent_total",
		Help:      "Total announcements sent, by transport",
	}, []string{"transport"})

	MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rumors",
		Name:      "messages_received_total",
		Help:      "Total announcements received, by transport and kind",
	}, []string{"transport", "kind"})

	DecodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rumors",
		Name:      "decode_errors_total",
		Help:      "Total malformed messages discarded, by transport",
	}, []string{"transport"})

	StaticExchanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rumors",
		Name:      "static_exchanges_total",
		Help:      "Total static seed exchanges initiated, by result",
	}, []string{"result"})

	Evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rumors",
		Name:      "evictions_total",
		Help:      "Total endpoints evicted by the staleness sweep",
	})

	ReportedBad = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rumors",
		Name:      "reported_bad_total",
		Help:      "Total endpoints removed because the application reported them",
	})

	// Management client connection cache.
	MgmtConnDials = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rumors",
		Name:      "mgmt_conn_dials_total",
		Help:      "Total management client connections dialed",
	})
	MgmtConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rumors",
		Name:      "mgmt_conn_reuse_total",
		Help:      "Total management client connections served from cache",
	})
	MgmtConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rumors",
		Name:      "mgmt_conn_evictions_total",
		Help:      "Total idle management client connections closed",
	})
	MgmtConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rumors",
		Name:      "mgmt_conn_active",
		Help:      "Current number of cached management client connections",
	})
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(Members)
		prometheus.MustRegister(AnnouncementsSent)
		prometheus.MustRegister(MessagesReceived)
		prometheus.MustRegister(DecodeErrors)
		prometheus.MustRegister(StaticExchanges)
		prometheus.MustRegister(Evictions)
		prometheus.MustRegister(ReportedBad)
		prometheus.MustRegister(MgmtConnDials, MgmtConnReuse, MgmtConnEvictions, MgmtConnActive)
	})
}
