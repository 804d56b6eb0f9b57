package hostbuilder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/park285/arcade-scores/internal/config"
	"github.com/park285/arcade-scores/internal/highscore"
	"github.com/park285/arcade-scores/internal/leaderboard"
	"github.com/park285/arcade-scores/internal/memstore"
	"github.com/park285/arcade-scores/internal/pgstore"
	"github.com/park285/arcade-scores/internal/scoreapi"
	"github.com/park285/arcade-scores/internal/scorestore"
	"github.com/park285/arcade-scores/internal/session"
	"go.uber.org/zap"
)

// Store is what every backend provides: the reconciler's read/write path and
// the leaderboard's listing.
type Store interface {
	highscore.Store
	leaderboard.Source
}

// Namer is implemented by backends that keep display names.
type Namer interface {
	SetDisplayName(ctx context.Context, playerID, name string) error
}

type Deps struct {
	Store      Store
	Reconciler *highscore.Reconciler
	View       *leaderboard.View
	Sessions   *session.Registry

	closers []func() error
}

// Close stops the reconciler and releases backend connections.
func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	if d.Reconciler != nil {
		d.Reconciler.Close()
	}
	var first error
	for _, c := range d.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SetDisplayName forwards to the backend when it keeps names.
func (d *Deps) SetDisplayName(ctx context.Context, playerID, name string) error {
	if n, ok := d.Store.(Namer); ok {
		return n.SetDisplayName(ctx, playerID, name)
	}
	return nil
}

func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Deps{}
	switch cfg.StoreBackend {
	case config.BackendAPI:
		if strings.TrimSpace(cfg.APIBaseURL) == "" {
			return nil, fmt.Errorf("SCORE_API_BASE_URL is required for api backend")
		}
		d.Store = scoreapi.NewClient(cfg.APIBaseURL,
			scoreapi.WithTimeout(time.Duration(cfg.RequestTimeoutSec)*time.Second),
			scoreapi.WithRetry(cfg.APIRetryMax),
			scoreapi.WithSessionCookie(cfg.SessionCookieName, cfg.SessionCookie),
			scoreapi.WithLogger(logger.Named("scoreapi")),
		)
	case config.BackendRedis:
		s, err := scorestore.Open(ctx, cfg.RedisURL, logger.Named("scorestore"))
		if err != nil {
			return nil, fmt.Errorf("init redis store: %w", err)
		}
		d.Store = s
		d.closers = append(d.closers, s.Close)
	case config.BackendPostgres:
		repo, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		d.Store = repo
		d.closers = append(d.closers, repo.Close)
	case config.BackendMemory:
		d.Store = memstore.New()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	return wire(d, cfg, logger), nil
}

// NewWithStore wires the components around an existing store.
func NewWithStore(store Store, cfg *config.AppConfig, logger *zap.Logger) *Deps {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &config.AppConfig{}
	}
	return wire(&Deps{Store: store}, cfg, logger)
}

func wire(d *Deps, cfg *config.AppConfig, logger *zap.Logger) *Deps {
	d.Reconciler = highscore.New(d.Store, highscore.Config{
		FetchTimeout: time.Duration(cfg.RequestTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
	}, logger.Named("highscore"))
	d.View = leaderboard.NewView(d.Store, logger.Named("leaderboard"))
	d.Sessions = session.NewRegistry(0)
	logger.Info("host_deps_ready", zap.String("backend", string(cfg.StoreBackend)))
	return d
}
