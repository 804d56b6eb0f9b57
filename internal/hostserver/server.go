package hostserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/park285/arcade-scores/internal/adapter/scorepresenter"
	"github.com/park285/arcade-scores/internal/config"
	"github.com/park285/arcade-scores/internal/domain"
	"github.com/park285/arcade-scores/internal/hostbuilder"
	"github.com/park285/arcade-scores/internal/leaderboard"
	"github.com/park285/arcade-scores/internal/scorechan"
	"github.com/park285/arcade-scores/internal/session"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const playerHeader = "X-Player-Id"

// Server hosts embedded game sessions over WebSocket and serves text
// leaderboards.
type Server struct {
	deps      *hostbuilder.Deps
	cfg       *config.AppConfig
	format    *scorepresenter.Formatter
	presenter *scorepresenter.Presenter
	logger    *zap.Logger

	acceptOpts *websocket.AcceptOptions

	// base is cancelled by Shutdown and ends every open session
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	boards  map[string]*leaderboard.Board
	closing bool
	// open sessions and their report workers, drained by Shutdown
	work sync.WaitGroup
}

type Option func(*Server)

// WithAcceptOptions overrides the WebSocket handshake options (origin checks).
func WithAcceptOptions(o *websocket.AcceptOptions) Option {
	return func(s *Server) { s.acceptOpts = o }
}

// WithPresenter routes per-round notices to p instead of the log.
func WithPresenter(p *scorepresenter.Presenter) Option {
	return func(s *Server) { s.presenter = p }
}

func New(deps *hostbuilder.Deps, cfg *config.AppConfig, format *scorepresenter.Formatter, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		format: format,
		logger: logger,
		base:   base,
		cancel: cancel,
		boards: make(map[string]*leaderboard.Board),
	}
	s.presenter = scorepresenter.NewPresenter(format, func(sessionID, message string) error {
		s.logger.Info("player_notice", zap.String("session_id", sessionID), zap.String("message", message))
		return nil
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /play", s.handlePlay)
	mux.HandleFunc("GET /leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// Shutdown refuses new sessions, ends the open ones and waits for their queued
// reports to settle, bounded by ctx. Hijacked WebSocket connections are not
// tracked by http.Server, so this must run before the stores close.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.work.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enter counts one unit of session work unless shutdown has begun.
func (s *Server) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.work.Add(1)
	return true
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if !s.enter() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.work.Done()

	gameID := strings.TrimSpace(r.URL.Query().Get("game"))
	playerID := strings.TrimSpace(r.Header.Get(playerHeader))
	if playerID == "" {
		playerID = strings.TrimSpace(r.URL.Query().Get("player"))
	}
	key := domain.NewKey(playerID, gameID)
	if !key.Valid() {
		http.Error(w, "game and player are required", http.StatusBadRequest)
		return
	}
	if !s.cfg.GameAllowed(gameID) {
		s.logger.Info("play_rejected", zap.String("game_id", gameID), zap.String("reason", "game_not_allowed"))
		http.Error(w, "unknown game", http.StatusNotFound)
		return
	}

	sess, err := s.deps.Sessions.Open(key, r.URL.Query().Get("name"))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, session.ErrTooManySessions) {
			status = http.StatusTooManyRequests
		}
		http.Error(w, err.Error(), status)
		return
	}
	defer func() { _, _ = s.deps.Sessions.Close(sess.ID) }()

	conn, err := websocket.Accept(w, r, s.acceptOpts)
	if err != nil {
		s.logger.Warn("play_accept_error", zap.String("session_id", sess.ID), zap.Error(err))
		return
	}
	port := scorechan.NewWSPort(conn, s.logger.Named("ws"))
	defer port.Close()
	bus := scorechan.NewBus(port, s.logger.With(zap.String("session_id", sess.ID)))
	defer bus.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer context.AfterFunc(s.base, cancel)()

	s.serveSession(ctx, sess, bus, port)
}

// serveSession binds one channel to the reconciler until the port closes or ctx ends.
func (s *Server) serveSession(ctx context.Context, sess session.Session, bus *scorechan.Bus, port *scorechan.WSPort) {
	key := sess.Key
	logger := bus.Logger()
	logger.Info("session_open", zap.String("game_id", key.GameID), zap.String("player_id", key.PlayerID))

	if sess.DisplayName != "" {
		if err := s.deps.SetDisplayName(ctx, key.PlayerID, sess.DisplayName); err != nil {
			logger.Warn("display_name_error", zap.Error(err))
		}
	}

	queue := newRoundQueue()
	// handlePlay holds a work unit, so this Add never starts from zero
	s.work.Add(1)
	go s.runRounds(ctx, sess, queue, logger)

	host := scorechan.NewHost(bus)
	host.OnReport(func(v int64) {
		_ = s.deps.Sessions.RecordRound(sess.ID, v)
		if !queue.push(v) {
			logger.Warn("score_report_after_close", zap.Int64("value", v))
		}
	})
	host.OnScoreRequest(func() (int64, bool) {
		return s.deps.Reconciler.Best(key)
	})
	port.Start()

	select {
	case <-port.Done():
	case <-ctx.Done():
	}
	queue.close()
	logger.Info("session_close", zap.Int64("malformed", host.Malformed()), zap.Int64("ignored", bus.Ignored()))
}

// runRounds primes the key, then reconciles the session's reports one at a
// time in arrival order. Queued reports outlive the session.
func (s *Server) runRounds(ctx context.Context, sess session.Session, queue *roundQueue, logger *zap.Logger) {
	defer s.work.Done()
	key := sess.Key
	bg := context.WithoutCancel(ctx)

	if err := s.deps.Reconciler.Prime(bg, key); err != nil {
		logger.Warn("score_prime_error", zap.Error(err))
	}
	for {
		v, ok := queue.next()
		if !ok {
			break
		}
		out, err := s.deps.Reconciler.Report(bg, key, v)
		if perr := s.presenter.Round(sess.ID, out, err); perr != nil {
			logger.Warn("notice_error", zap.Error(perr))
		}
	}
	if !s.keyInUse(key, sess.ID) {
		s.deps.Reconciler.Forget(key)
	}
}

// keyInUse reports whether a session other than self plays key.
func (s *Server) keyInUse(key domain.Key, self string) bool {
	for _, o := range s.deps.Sessions.ByPlayer(key.PlayerID) {
		if o.ID != self && o.Key == key {
			return true
		}
	}
	return false
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	gameID := strings.TrimSpace(r.URL.Query().Get("game"))
	if gameID == "" {
		http.Error(w, "game is required", http.StatusBadRequest)
		return
	}
	if !s.cfg.GameAllowed(gameID) {
		http.Error(w, "unknown game", http.StatusNotFound)
		return
	}
	viewer := strings.TrimSpace(r.URL.Query().Get("viewer"))
	if viewer == "" {
		viewer = strings.TrimSpace(r.Header.Get(playerHeader))
	}

	board := s.board(gameID)
	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(max(s.cfg.RequestTimeoutSec, 1))*time.Second)
	defer cancel()
	_ = board.Refresh(ctx)
	snap := board.Snapshot()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !snap.Available {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = w.Write([]byte(s.format.Leaderboard(snap, viewer) + "\n"))
}

func (s *Server) board(gameID string) *leaderboard.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[gameID]
	if !ok {
		b = leaderboard.NewBoard(s.deps.View, gameID)
		s.boards[gameID] = b
	}
	return b
}
