package rumors

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

// schedule walks the announce delays, staying on the last one once reached.
type schedule struct {
	delays []time.Duration
	i      int
}

func newSchedule(delays []time.Duration) *schedule {
	return &schedule{delays: delays}
}

func (s *schedule) next() time.Duration {
	d := s.delays[s.i]
	if s.i < len(s.delays)-1 {
		s.i++
	}
	return d
}

// ParseDelays parses comma-separated milliseconds, e.g. "100,5000,60000".
func ParseDelays(csv string) ([]time.Duration, error) {
	var out []time.Duration
	for _, p := range strings.Split(csv, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ms, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidDelay, "%q", p)
		}
		out = append(out, time.Duration(ms)*time.Millisecond)
	}
	if err := validateDelays(out); err != nil {
		return nil, err
	}
	return out, nil
}

// sleep waits d on clock and reports false if ctx ended first. The timer is
// released either way.
func sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	t := clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return ctx.Err() == nil
	}
}
