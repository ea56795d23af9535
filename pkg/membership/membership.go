package membership

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidEndpoint is returned when an address cannot be parsed into an Endpoint.
var ErrInvalidEndpoint = errors.New("membership: invalid endpoint")

// Endpoint identifies a reachable peer. It is a comparable value and is used
// directly as a map key.
type Endpoint struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// String renders host:port, bracketing IPv6 literals.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
}

// ParseEndpoint parses "host:port". The host is kept as written; no name
// resolution happens here.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return Endpoint{}, errors.Wrapf(ErrInvalidEndpoint, "%q: %v", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Endpoint{}, errors.Wrapf(ErrInvalidEndpoint, "%q: bad port", s)
	}
	if host == "" {
		return Endpoint{}, errors.Wrapf(ErrInvalidEndpoint, "%q: empty host", s)
	}
	return Endpoint{IP: host, Port: port}, nil
}

type EventType string

const (
	// EventJoin indicates an endpoint was observed for the first time.
	EventJoin EventType = "join"
	// EventLeave indicates a peer announced the departure of an endpoint.
	EventLeave EventType = "leave"
	// EventEvicted indicates the staleness sweep removed an endpoint.
	EventEvicted EventType = "evicted"
	// EventReported indicates the application reported an endpoint as bad.
	EventReported EventType = "reported"
)

// Event is a table change notification.
type Event struct {
	Type     EventType
	Endpoint Endpoint
	At       time.Time
}
