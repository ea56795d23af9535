package rumors

import (
	"github.com/amirimatin/go-rumors/pkg/discovery"
	"github.com/amirimatin/go-rumors/pkg/membership"
)

// Status is a JSON-serializable snapshot of the engine for status endpoints
// and tooling.
type Status struct {
	Running    bool                  `json:"running"`
	Self       *membership.Endpoint  `json:"self,omitempty"`
	Broadcast  membership.Endpoint   `json:"broadcast"`
	StaticPort int                   `json:"static_port"`
	Members    []membership.Endpoint `json:"members"`
	Seeds      []membership.Endpoint `json:"seeds,omitempty"`
}

// Status returns the current configuration and membership view.
func (e *Engine) Status() Status {
	e.mu.Lock()
	s := Status{
		Running:    e.state == running,
		Broadcast:  e.opts.Broadcast,
		StaticPort: e.opts.StaticPort,
	}
	if e.state == running {
		self := e.run.self
		s.Self = &self
		if e.run.static != nil {
			s.StaticPort = e.run.static.Port()
		}
	}
	seeds := e.opts.Seeds
	e.mu.Unlock()

	s.Members = e.table.Endpoints()
	discovery.Sort(s.Members)
	if seeds != nil {
		s.Seeds = seeds.Seeds()
	}
	return s
}
