package rumors

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/amirimatin/go-rumors/internal/logutil"
	"github.com/amirimatin/go-rumors/pkg/membership"
	obsmetrics "github.com/amirimatin/go-rumors/pkg/observability/metrics"
	"github.com/amirimatin/go-rumors/pkg/observability/tracing"
	"github.com/amirimatin/go-rumors/pkg/transport/tcp"
	"github.com/amirimatin/go-rumors/pkg/transport/wire"
)

// staticClient pushes the table to every seed and merges the replies. The
// seed source is asked again on every cycle.
func (e *Engine) staticClient(ctx context.Context, opts Options) error {
	log := logutil.Component(e.log, "static-client")
	sched := newSchedule(opts.AnnounceDelays)
	for {
		if !sleep(ctx, opts.Clock, sched.next()+staticOffset) {
			return nil
		}
		for _, seed := range opts.Seeds.Seeds() {
			if ctx.Err() != nil {
				return nil
			}
			e.exchange(ctx, log, seed, opts)
		}
	}
}

func (e *Engine) exchange(ctx context.Context, log logrus.FieldLogger, seed membership.Endpoint, opts Options) {
	out := wire.Message{Kind: wire.Join, Endpoints: e.table.Endpoints()}
	ctx, span := tracing.StartSpan(ctx, "rumors.static.exchange", tracing.Peer(seed.String()), tracing.Count(len(out.Endpoints)))
	reply, err := tcp.Exchange(ctx, seed, out, opts.ExchangeTimeout)
	span.End(err)

	log = log.WithField("seed", seed.String())
	switch {
	case errors.Is(err, tcp.ErrNoReply):
		obsmetrics.StaticExchanges.WithLabelValues("no_reply").Inc()
		log.Debug("seed sent no reply")
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		obsmetrics.StaticExchanges.WithLabelValues("error").Inc()
		var me *wire.MalformedMessageError
		if errors.As(err, &me) {
			obsmetrics.DecodeErrors.WithLabelValues("tcp").Inc()
		}
		log.WithError(err).Warn("static exchange failed")
	default:
		obsmetrics.StaticExchanges.WithLabelValues("ok").Inc()
		obsmetrics.MessagesReceived.WithLabelValues("tcp", reply.Kind.String()).Inc()
		n := e.table.AddAll(reply.Endpoints)
		log.WithField("added", n).Debug("static exchange")
	}
}

// serveStatic answers static pushes one connection at a time until the
// listener closes.
func (e *Engine) serveStatic(ctx context.Context, ln *tcp.Listener, opts Options) error {
	log := logutil.Component(e.log, "static-server")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.WithError(err).Warn("accept")
			continue
		}
		err = tcp.Serve(ctx, conn, opts.ExchangeTimeout, func(ctx context.Context, remote net.Addr, in wire.Message) *wire.Message {
			return e.answer(ctx, remote, in, opts.ReplyOnlyOnChange)
		})
		if err != nil && ctx.Err() == nil {
			var me *wire.MalformedMessageError
			if errors.As(err, &me) {
				obsmetrics.DecodeErrors.WithLabelValues("tcp").Inc()
			}
			log.WithError(err).Warn("static request failed")
		}
	}
}

func (e *Engine) answer(ctx context.Context, remote net.Addr, in wire.Message, onlyOnChange bool) *wire.Message {
	_, span := tracing.StartSpan(ctx, "rumors.static.serve", tracing.Peer(remote.String()), tracing.Count(len(in.Endpoints)))
	defer span.End(nil)

	obsmetrics.MessagesReceived.WithLabelValues("tcp", in.Kind.String()).Inc()
	changed := e.merge(in)
	if onlyOnChange && changed == 0 {
		return nil
	}
	return &wire.Message{Kind: wire.Join, Endpoints: e.table.Endpoints()}
}
