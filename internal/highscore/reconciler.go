package highscore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/park285/arcade-scores/internal/domain"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("high score reconciler closed")

// Store is the persistence the reconciler writes through. SubmitScore must
// never lower a stored best; it returns the record as persisted.
type Store interface {
	FetchBest(ctx context.Context, key domain.Key) (*domain.HighScoreRecord, error)
	SubmitScore(ctx context.Context, key domain.Key, score int64) (*domain.HighScoreRecord, error)
}

type Config struct {
	FetchTimeout time.Duration
	WriteTimeout time.Duration
}

// Outcome describes what happened to one report.
type Outcome struct {
	Key   domain.Key
	Round int64
	// Best is the authoritative best after the decision.
	Best      int64
	HasRecord bool
	NewHigh   bool
	// Superseded: a larger concurrent report took over the write.
	Superseded bool
	// Unsaved: the value beat the best but the write failed.
	Unsaved bool
}

type flight struct {
	done   chan struct{}
	err    error
	record *domain.HighScoreRecord
}

func newFlight() *flight { return &flight{done: make(chan struct{})} }

// keyState is the per (player, game) state machine: Unknown until the first
// fetch settles, then Known(best).
type keyState struct {
	known      bool
	exists     bool
	best       int64
	recordedAt time.Time

	fetch *flight
	write *flight
	// reports waiting on the in-flight write, by value
	waiting map[int64]int
}

// beats reports whether v must be written: any value creates a missing record,
// otherwise only a strictly greater one.
func (s *keyState) beats(v int64) bool { return !s.exists || v > s.best }

func (s *keyState) maxWaiting() (int64, bool) {
	var (
		max   int64
		found bool
	)
	for v, n := range s.waiting {
		if n > 0 && (!found || v > max) {
			max, found = v, true
		}
	}
	return max, found
}

func (s *keyState) unwait(v int64) {
	if s.waiting[v] <= 1 {
		delete(s.waiting, v)
		return
	}
	s.waiting[v]--
}

// Reconciler is the sole writer of high score records. At most one write is in
// flight per key and a write is only issued for a value above the known best.
type Reconciler struct {
	store  Store
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	keys   map[domain.Key]*keyState
	closed bool
}

func New(store Store, cfg Config, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	return &Reconciler{
		store:  store,
		cfg:    cfg,
		logger: logger,
		keys:   make(map[domain.Key]*keyState),
	}
}

// Prime starts the initial best-score fetch for key and waits for it.
func (r *Reconciler) Prime(ctx context.Context, key domain.Key) error {
	if !key.Valid() {
		return domain.ErrInvalidKey
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	st := r.stateLocked(key)
	if st.known {
		r.mu.Unlock()
		return nil
	}
	f := r.startFetchLocked(key, st)
	r.mu.Unlock()

	if err := wait(ctx, f.done); err != nil {
		return err
	}
	if f.err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDataUnavailable, f.err)
	}
	return nil
}

// Best returns the authoritative best for key; known is false until a fetch
// has settled or while no record exists.
func (r *Reconciler) Best(key domain.Key) (best int64, known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.keys[key]
	if !ok || !st.known || !st.exists {
		return 0, false
	}
	return st.best, true
}

// Report reconciles one round's score against the known best for key and
// persists it when it is a new best. Reports made while the key is Unknown
// wait for the initial fetch.
func (r *Reconciler) Report(ctx context.Context, key domain.Key, value int64) (Outcome, error) {
	out := Outcome{Key: key, Round: value}
	if !key.Valid() {
		return out, domain.ErrInvalidKey
	}
	if !domain.ValidScore(value) {
		r.logger.Warn("score_report_malformed", zap.String("game_id", key.GameID), zap.String("player_id", key.PlayerID), zap.Int64("value", value))
		return out, domain.ErrMalformedReport
	}

	registered := false
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return out, ErrClosed
		}
		st := r.stateLocked(key)

		// a report parked on the fetch or on a write is visible to maxWaiting
		if !st.known || st.write != nil {
			if !registered {
				st.waiting[value]++
				registered = true
			}
			fetching := !st.known
			f := st.write
			if fetching {
				f = r.startFetchLocked(key, st)
			}
			r.mu.Unlock()
			err := wait(ctx, f.done)
			if err == nil && fetching && f.err != nil {
				err = fmt.Errorf("%w: %w", domain.ErrDataUnavailable, f.err)
			}
			if err != nil {
				r.mu.Lock()
				st.unwait(value)
				r.mu.Unlock()
				return out, err
			}
			continue
		}

		if registered {
			st.unwait(value)
			registered = false
		}
		out.Best, out.HasRecord = st.best, st.exists

		if !st.beats(value) {
			r.mu.Unlock()
			r.logger.Debug("score_report", zap.String("game_id", key.GameID), zap.String("player_id", key.PlayerID), zap.Int64("value", value), zap.Int64("best", out.Best), zap.String("decision", "keep"))
			return out, nil
		}
		if m, ok := st.maxWaiting(); ok && m > value {
			r.mu.Unlock()
			out.Superseded = true
			r.logger.Debug("score_report", zap.String("game_id", key.GameID), zap.String("player_id", key.PlayerID), zap.Int64("value", value), zap.Int64("winner", m), zap.String("decision", "superseded"))
			return out, nil
		}

		f := newFlight()
		st.write = f
		r.mu.Unlock()

		go r.write(key, st, value, f)
		return r.awaitWrite(ctx, out, st, f)
	}
}

func (r *Reconciler) awaitWrite(ctx context.Context, out Outcome, st *keyState, f *flight) (Outcome, error) {
	// the write keeps going if the caller leaves; its result still lands in state
	if err := wait(ctx, f.done); err != nil {
		return out, err
	}
	r.mu.Lock()
	out.Best, out.HasRecord = st.best, st.exists
	r.mu.Unlock()

	if f.err != nil {
		out.Unsaved = true
		return out, fmt.Errorf("%w: %w", domain.ErrPersistenceWrite, f.err)
	}
	out.NewHigh = f.record != nil && f.record.BestScore == out.Round
	return out, nil
}

func (r *Reconciler) write(key domain.Key, st *keyState, value int64, f *flight) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	rec, err := r.store.SubmitScore(ctx, key, value)
	cancel()

	r.mu.Lock()
	if err == nil && rec == nil {
		err = errors.New("store returned no record")
	}
	if err == nil {
		// the store may hold a larger best written elsewhere
		if !st.exists || rec.BestScore > st.best {
			st.best = rec.BestScore
			st.recordedAt = rec.RecordedAt
		}
		st.exists = true
	}
	f.err, f.record = err, rec
	st.write = nil
	best := st.best
	r.mu.Unlock()
	close(f.done)

	if err != nil {
		r.logger.Warn("score_write_error", zap.String("game_id", key.GameID), zap.String("player_id", key.PlayerID), zap.Int64("value", value), zap.Int64("best", best), zap.Error(err))
		return
	}
	r.logger.Info("score_write", zap.String("game_id", key.GameID), zap.String("player_id", key.PlayerID), zap.Int64("value", value), zap.Int64("best", best))
}

func (r *Reconciler) startFetchLocked(key domain.Key, st *keyState) *flight {
	if st.fetch != nil {
		return st.fetch
	}
	f := newFlight()
	st.fetch = f
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.FetchTimeout)
		rec, err := r.store.FetchBest(ctx, key)
		cancel()

		r.mu.Lock()
		switch {
		case err == nil && rec != nil:
			st.known, st.exists = true, true
			st.best, st.recordedAt = rec.BestScore, rec.RecordedAt
		case err == nil || errors.Is(err, domain.ErrNotFound):
			st.known, st.exists, st.best = true, false, 0
		default:
			f.err = err
		}
		st.fetch = nil
		r.mu.Unlock()
		close(f.done)

		if f.err != nil {
			r.logger.Warn("score_fetch_error", zap.String("game_id", key.GameID), zap.String("player_id", key.PlayerID), zap.Error(f.err))
		}
	}()
	return f
}

func (r *Reconciler) stateLocked(key domain.Key) *keyState {
	st, ok := r.keys[key]
	if !ok {
		st = &keyState{waiting: make(map[int64]int)}
		r.keys[key] = st
	}
	return st
}

// Forget drops the cached state for key once nothing is pending on it; the
// next report for key fetches again. It reports whether the key is gone.
func (r *Reconciler) Forget(key domain.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.keys[key]
	if !ok {
		return true
	}
	if st.fetch != nil || st.write != nil || len(st.waiting) > 0 {
		return false
	}
	delete(r.keys, key)
	return true
}

// Tracked is the number of keys with cached state.
func (r *Reconciler) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

// Close rejects further reports. Writes already in flight settle normally.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
