package state

import (
	"time"

	"github.com/amirimatin/go-rumors/pkg/membership"
)

// PeerStore persists the membership view between runs so a restarted engine
// can resume exchanging with peers it knew before.
type PeerStore interface {
	// Save replaces the stored view with entries.
	Save(entries map[membership.Endpoint]time.Time) error
	// Load returns stored entries last seen at or after notBefore.
	Load(notBefore time.Time) (map[membership.Endpoint]time.Time, error)
	Close() error
}
