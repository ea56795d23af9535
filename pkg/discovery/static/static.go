package static

import (
	"github.com/amirimatin/go-rumors/pkg/discovery"
	"github.com/amirimatin/go-rumors/pkg/membership"
)

type staticSeeds struct {
	seeds []membership.Endpoint
}

func (s *staticSeeds) Seeds() []membership.Endpoint {
	return append([]membership.Endpoint(nil), s.seeds...)
}

// New returns a Discovery that always returns the given seeds.
func New(seeds ...membership.Endpoint) discovery.Discovery {
	cleaned := make([]membership.Endpoint, 0, len(seeds))
	seen := make(map[membership.Endpoint]struct{}, len(seeds))
	for _, s := range seeds {
		if s.IP == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		cleaned = append(cleaned, s)
	}
	return &staticSeeds{seeds: cleaned}
}

// Parse converts a comma-separated "host:port" list into seeds. Malformed
// items are reported together in the error; valid ones are still returned.
func Parse(csv string) ([]membership.Endpoint, error) {
	eps, bad := discovery.ParseList(discovery.SplitCSV(csv))
	if len(bad) > 0 {
		return eps, &discovery.InvalidSeedsError{Items: bad}
	}
	return eps, nil
}

// FromCSV is New(Parse(csv)), failing on any malformed item.
func FromCSV(csv string) (discovery.Discovery, error) {
	eps, err := Parse(csv)
	if err != nil {
		return nil, err
	}
	return New(eps...), nil
}
