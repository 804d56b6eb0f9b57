package scorechan

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/park285/arcade-scores/internal/domain"
	"go.uber.org/zap"
)

const replyTimeout = 5 * time.Second

// Surface is the game side of a channel.
type Surface struct {
	bus *Bus
	seq atomic.Uint64
}

func NewSurface(bus *Bus) *Surface { return &Surface{bus: bus} }

// SendScore emits one report. Every call is an independent report.
func (s *Surface) SendScore(ctx context.Context, value int64) error {
	if !domain.ValidScore(value) {
		return domain.ErrMalformedReport
	}
	return s.bus.Send(ctx, KindReport, encodeScore(value))
}

// RequestScore asks the host for the last known score and waits for the reply
// carrying the same seq. Late replies to abandoned requests are skipped. ok is
// false when the host answered without a value.
func (s *Surface) RequestScore(ctx context.Context) (value int64, ok bool, err error) {
	type answer struct {
		raw []byte
	}
	seq := s.seq.Add(1)
	replies := make(chan answer, 1)
	id := s.bus.On(KindReply, func(msg Message) {
		if msg.Seq != seq {
			s.bus.logger.Debug("score_reply_stale", zap.Uint64("seq", msg.Seq), zap.Uint64("want", seq))
			return
		}
		select {
		case replies <- answer{raw: msg.Value}:
		default:
		}
	})
	defer s.bus.Remove(id)

	if err := s.bus.port.Send(ctx, Message{Kind: KindRequest, Seq: seq}); err != nil {
		return 0, false, err
	}
	select {
	case a := <-replies:
		if len(a.raw) == 0 {
			return 0, false, nil
		}
		v, perr := ParseScore(a.raw)
		if perr != nil {
			return 0, false, perr
		}
		return v, true, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}

// Host is the embedding side of a channel.
type Host struct {
	bus       *Bus
	malformed atomic.Int64
}

func NewHost(bus *Bus) *Host { return &Host{bus: bus} }

// OnReport registers the consumer of validated report values. Malformed
// reports never reach fn.
func (h *Host) OnReport(fn func(value int64)) int {
	return h.bus.On(KindReport, func(msg Message) {
		v, err := ParseScore(msg.Value)
		if err != nil {
			h.malformed.Add(1)
			h.bus.logger.Warn("score_report_malformed", zap.ByteString("value", truncate(msg.Value, 64)))
			return
		}
		fn(v)
	})
}

// OnScoreRequest answers request frames with fn's result as a reply frame.
// When fn reports !ok the reply carries no value.
func (h *Host) OnScoreRequest(fn func() (int64, bool)) int {
	return h.bus.On(KindRequest, func(req Message) {
		v, ok := fn()
		msg := Message{Kind: KindReply, Seq: req.Seq}
		if ok && domain.ValidScore(v) {
			msg.Value = encodeScore(v)
		}
		ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
		defer cancel()
		if err := h.bus.port.Send(ctx, msg); err != nil {
			h.bus.logger.Warn("score_reply_error", zap.Error(err))
		}
	})
}

// Malformed counts dropped reports.
func (h *Host) Malformed() int64 { return h.malformed.Load() }

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
