package discovery

import (
	"sort"
	"strings"

	"github.com/amirimatin/go-rumors/pkg/membership"
)

// Discovery abstracts how static seed endpoints are provided. It is evaluated
// on every static exchange cycle, so implementations may change their answer
// over time.
type Discovery interface {
	Seeds() []membership.Endpoint
}

// Func adapts a plain function to Discovery.
type Func func() []membership.Endpoint

func (f Func) Seeds() []membership.Endpoint { return f() }

// ParseList turns "host:port" items into endpoints. Blank items are skipped;
// malformed ones are returned in bad. The result is de-duplicated and sorted.
func ParseList(items []string) (eps []membership.Endpoint, bad []string) {
	set := make(map[membership.Endpoint]struct{}, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		e, err := membership.ParseEndpoint(it)
		if err != nil {
			bad = append(bad, it)
			continue
		}
		if _, ok := set[e]; ok {
			continue
		}
		set[e] = struct{}{}
		eps = append(eps, e)
	}
	Sort(eps)
	return eps, bad
}

// SplitCSV splits a comma-separated list, trimming blanks.
func SplitCSV(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Sort orders endpoints by ip then port.
func Sort(eps []membership.Endpoint) {
	sort.Slice(eps, func(i, j int) bool {
		if eps[i].IP != eps[j].IP {
			return eps[i].IP < eps[j].IP
		}
		return eps[i].Port < eps[j].Port
	})
}

// InvalidSeedsError lists seed items that are not "host:port".
type InvalidSeedsError struct {
	Items []string
}

func (e *InvalidSeedsError) Error() string {
	return "discovery: invalid seeds: " + strings.Join(e.Items, ", ")
}

func (e *InvalidSeedsError) Unwrap() error { return membership.ErrInvalidEndpoint }
