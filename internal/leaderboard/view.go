package leaderboard

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/park285/arcade-scores/internal/domain"
	"go.uber.org/zap"
)

// Source lists the persisted records of one game, in any order.
type Source interface {
	ListScores(ctx context.Context, gameID string) ([]domain.HighScoreRecord, error)
}

// View is the read-only ranking of persisted scores. It has no write path.
type View struct {
	src    Source
	logger *zap.Logger
}

func NewView(src Source, logger *zap.Logger) *View {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &View{src: src, logger: logger}
}

// Load fetches the game's records and returns them ranked. The returned
// sequence can be ranged over any number of times. A failed fetch is
// ErrDataUnavailable, never an empty sequence.
func (v *View) Load(ctx context.Context, gameID string) (iter.Seq[domain.LeaderboardEntry], error) {
	entries, err := v.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return All(entries), nil
}

func (v *View) load(ctx context.Context, gameID string) ([]domain.LeaderboardEntry, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, domain.ErrInvalidKey
	}
	records, err := v.src.ListScores(ctx, gameID)
	if err != nil {
		v.logger.Warn("leaderboard_load_error", zap.String("game_id", gameID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", domain.ErrDataUnavailable, err)
	}
	entries := Rank(records)
	v.logger.Debug("leaderboard_load", zap.String("game_id", gameID), zap.Int("entries", len(entries)))
	return entries, nil
}

// Rank collapses records to one per player (their best, earliest on ties) and
// orders them by score descending, then earlier recordedAt, then player id.
func Rank(records []domain.HighScoreRecord) []domain.LeaderboardEntry {
	best := make(map[string]domain.HighScoreRecord, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.PlayerID) == "" || r.BestScore < 0 {
			continue
		}
		cur, ok := best[r.PlayerID]
		if !ok || before(r, cur) {
			best[r.PlayerID] = r
		}
	}

	list := make([]domain.HighScoreRecord, 0, len(best))
	for _, r := range best {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool { return before(list[i], list[j]) })

	out := make([]domain.LeaderboardEntry, len(list))
	for i, r := range list {
		out[i] = domain.LeaderboardEntry{
			Rank:        i + 1,
			PlayerID:    r.PlayerID,
			DisplayName: displayName(r),
			BestScore:   r.BestScore,
			RecordedAt:  r.RecordedAt,
		}
	}
	return out
}

func before(a, b domain.HighScoreRecord) bool {
	if a.BestScore != b.BestScore {
		return a.BestScore > b.BestScore
	}
	if !a.RecordedAt.Equal(b.RecordedAt) {
		return a.RecordedAt.Before(b.RecordedAt)
	}
	return a.PlayerID < b.PlayerID
}

func displayName(r domain.HighScoreRecord) string {
	if n := strings.TrimSpace(r.DisplayName); n != "" {
		return n
	}
	return r.PlayerID
}

// All yields entries in order; the slice is copied so callers cannot reorder it.
func All(entries []domain.LeaderboardEntry) iter.Seq[domain.LeaderboardEntry] {
	snapshot := append([]domain.LeaderboardEntry(nil), entries...)
	return func(yield func(domain.LeaderboardEntry) bool) {
		for _, e := range snapshot {
			if !yield(e) {
				return
			}
		}
	}
}

// Top caps seq at n entries; n <= 0 means no cap.
func Top(seq iter.Seq[domain.LeaderboardEntry], n int) iter.Seq[domain.LeaderboardEntry] {
	if n <= 0 {
		return seq
	}
	return func(yield func(domain.LeaderboardEntry) bool) {
		i := 0
		for e := range seq {
			if i >= n || !yield(e) {
				return
			}
			i++
		}
	}
}

func IsViewer(entry domain.LeaderboardEntry, viewerID string) bool {
	viewerID = strings.TrimSpace(viewerID)
	return viewerID != "" && entry.PlayerID == viewerID
}
