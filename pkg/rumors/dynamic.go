package rumors

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/amirimatin/go-rumors/internal/logutil"
	"github.com/amirimatin/go-rumors/pkg/membership"
	obsmetrics "github.com/amirimatin/go-rumors/pkg/observability/metrics"
	"github.com/amirimatin/go-rumors/pkg/transport/udp"
	"github.com/amirimatin/go-rumors/pkg/transport/wire"
)

// broadcast announces the table to the group on the announce schedule.
func (e *Engine) broadcast(ctx context.Context, conn *udp.Conn, opts Options) error {
	log := logutil.Component(e.log, "broadcaster")
	sched := newSchedule(opts.AnnounceDelays)
	for {
		if !sleep(ctx, opts.Clock, sched.next()) {
			return nil
		}
		eps := e.table.Endpoints()
		b, err := wire.Encode(wire.Message{Kind: wire.Join, Endpoints: eps})
		if err != nil {
			log.WithError(err).Error("encode announcement")
			continue
		}
		if err := conn.Send(b); err != nil {
			log.WithError(err).Warn("send announcement")
			continue
		}
		obsmetrics.AnnouncementsSent.WithLabelValues("udp").Inc()
		log.WithField("endpoints", len(eps)).Debug("announced")
	}
}

// receiveRetry is the pause after a receive error other than a closed socket.
const receiveRetry = 100 * time.Millisecond

type datagramReader interface {
	Receive(buf []byte) (int, net.Addr, error)
}

// receive merges every datagram heard on the group until the socket closes.
func (e *Engine) receive(ctx context.Context, conn datagramReader, opts Options) error {
	log := logutil.Component(e.log, "receiver")
	buf := make([]byte, wire.MaxDatagram)
	for {
		n, from, err := conn.Receive(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.WithError(err).Warn("receive")
			if !sleep(ctx, opts.Clock, receiveRetry) {
				return nil
			}
			continue
		}
		msg, err := wire.Decode(buf[:n])
		if err != nil {
			obsmetrics.DecodeErrors.WithLabelValues("udp").Inc()
			log.WithError(err).WithField("from", from.String()).Warn("discarding datagram")
			continue
		}
		obsmetrics.MessagesReceived.WithLabelValues("udp", msg.Kind.String()).Inc()
		e.merge(msg)
	}
}

// merge applies a message to the table: Join adds unknown endpoints, Leave
// removes the named ones except the engine's own. It returns how many entries
// changed.
func (e *Engine) merge(m wire.Message) int {
	switch m.Kind {
	case wire.Join:
		return e.table.AddAll(m.Endpoints)
	case wire.Leave:
		return e.table.RemoveAll(e.others(m.Endpoints), membership.EventLeave)
	default:
		return 0
	}
}
