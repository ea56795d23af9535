package rumors

import (
	"context"

	"github.com/amirimatin/go-rumors/internal/logutil"
	"github.com/amirimatin/go-rumors/pkg/membership"
	obsmetrics "github.com/amirimatin/go-rumors/pkg/observability/metrics"
)

// maintain evicts entries older than StaleAfter every MaintenanceInterval.
// Known entries are never refreshed by merges, so a peer that stays in the
// table is evicted once its first sighting is old enough and comes back only
// when it is announced again after that. Self is never evicted.
func (e *Engine) maintain(ctx context.Context, opts Options, self membership.Endpoint) error {
	log := logutil.Component(e.log, "maintenance")
	for {
		if !sleep(ctx, opts.Clock, opts.MaintenanceInterval) {
			return nil
		}
		evicted := e.table.Sweep(opts.StaleAfter, self)
		if len(evicted) > 0 {
			obsmetrics.Evictions.Add(float64(len(evicted)))
			log.WithField("evicted", evicted).Info("swept stale endpoints")
		}
		e.persist(opts, self)
	}
}

// restore seeds the table with stored endpoints that are not yet stale.
func (e *Engine) restore(opts Options) {
	if opts.Store == nil {
		return
	}
	saved, err := opts.Store.Load(opts.Clock.Now().Add(-opts.StaleAfter))
	if err != nil {
		e.log.WithError(err).Warn("load stored peers")
		return
	}
	n := 0
	for ep, seen := range saved {
		if e.table.Put(ep, seen) {
			n++
		}
	}
	if n > 0 {
		e.log.WithField("restored", n).Info("restored peers from store")
	}
}

// persist saves the table without the given endpoints, normally self, which
// will not be valid for the next run.
func (e *Engine) persist(opts Options, skip ...membership.Endpoint) {
	if opts.Store == nil {
		return
	}
	snap := e.table.Snapshot()
	for _, ep := range skip {
		delete(snap, ep)
	}
	if err := opts.Store.Save(snap); err != nil {
		e.log.WithError(err).Warn("save peers")
	}
}
