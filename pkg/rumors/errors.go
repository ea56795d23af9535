package rumors

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrRunning is returned by setters while the engine is running.
	ErrRunning = errors.New("rumors: engine is running")
	// ErrInvalidDelay is returned for a non-positive or unparsable announce delay.
	ErrInvalidDelay = errors.New("rumors: invalid announce delay")
	// ErrInvalidOptions wraps every Options validation failure.
	ErrInvalidOptions = errors.New("rumors: invalid options")
)

// PortInitializationError reports a socket that could not be bound or a
// multicast group that could not be joined during Begin.
type PortInitializationError struct {
	// Op names the socket: "message", "multicast" or "static".
	Op   string
	Addr string
	Err  error
}

func (e *PortInitializationError) Error() string {
	return fmt.Sprintf("rumors: initialize %s socket %s: %v", e.Op, e.Addr, e.Err)
}

func (e *PortInitializationError) Unwrap() error { return e.Err }
