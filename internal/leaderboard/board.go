package leaderboard

import (
	"context"
	"sync"
	"time"

	"github.com/park285/arcade-scores/internal/domain"
	"go.uber.org/zap"
)

// Snapshot is the last state of a Board. Available is false until one refresh
// has succeeded; Stale is set when a later refresh failed and Entries are the
// previous result.
type Snapshot struct {
	GameID    string
	Entries   []domain.LeaderboardEntry
	FetchedAt time.Time
	Available bool
	Stale     bool
	Err       error
}

// Board keeps the latest leaderboard for one game. It never polls on its own:
// callers invoke Refresh, or Run with a ticker they own the lifetime of.
type Board struct {
	view   *View
	gameID string
	now    func() time.Time

	mu   sync.RWMutex
	snap Snapshot
}

func NewBoard(view *View, gameID string) *Board {
	return &Board{view: view, gameID: gameID, now: time.Now, snap: Snapshot{GameID: gameID}}
}

func (b *Board) Refresh(ctx context.Context) error {
	entries, err := b.view.load(ctx, b.gameID)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.snap.Err = err
		b.snap.Stale = b.snap.Available
		return err
	}
	b.snap = Snapshot{
		GameID:    b.gameID,
		Entries:   entries,
		FetchedAt: b.now(),
		Available: true,
	}
	return nil
}

func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.snap
	s.Entries = append([]domain.LeaderboardEntry(nil), b.snap.Entries...)
	return s
}

// Run refreshes immediately and then every interval until ctx ends.
func (b *Board) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 30 * time.Second
	}
	_ = b.Refresh(ctx)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := b.Refresh(ctx); err != nil {
				b.view.logger.Debug("leaderboard_refresh_error", zap.String("game_id", b.gameID), zap.Error(err))
			}
		}
	}
}
