package scorepresenter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/arcade-scores/internal/domain"
	"github.com/park285/arcade-scores/internal/highscore"
	"github.com/park285/arcade-scores/internal/leaderboard"
	"github.com/park285/arcade-scores/internal/msgcat"
)

// Formatter renders reconciler outcomes and leaderboard snapshots as text.
// A nil catalog falls back to built-in English strings.
type Formatter struct {
	cat   *msgcat.Catalog
	limit int
}

func NewFormatter(cat *msgcat.Catalog, limit int) *Formatter {
	return &Formatter{cat: cat, limit: limit}
}

// Outcome describes one reported round; err is what Reconciler.Report returned.
func (f *Formatter) Outcome(out highscore.Outcome, err error) string {
	data := map[string]any{"Round": out.Round, "Best": out.Best}
	switch {
	case errors.Is(err, domain.ErrMalformedReport):
		return f.render("score.malformed", data, "Ignored an invalid score report.")
	case errors.Is(err, domain.ErrPersistenceWrite):
		return f.render("score.unsaved", data, fmt.Sprintf("Round score %d could not be saved.", out.Round))
	case err != nil:
		return f.render("score.unavailable", data, "Scores are unavailable right now.")
	case out.NewHigh:
		return f.render("score.new_high", data, fmt.Sprintf("New high score: %d!", out.Round))
	case out.Superseded:
		return f.render("score.superseded", data, fmt.Sprintf("Round score %d.", out.Round))
	default:
		return f.render("score.round", data, fmt.Sprintf("Round score %d. Best: %d", out.Round, out.Best))
	}
}

// Leaderboard renders a board snapshot, marking viewerID's row. When the
// viewer is ranked below the limit their row is appended after the top rows.
func (f *Formatter) Leaderboard(snap leaderboard.Snapshot, viewerID string) string {
	gameData := map[string]any{"GameID": snap.GameID}
	if !snap.Available {
		return f.render("leaderboard.unavailable", gameData, "Leaderboard for "+snap.GameID+" is unavailable right now.")
	}
	if len(snap.Entries) == 0 {
		return f.render("leaderboard.empty", gameData, "No scores recorded for "+snap.GameID+" yet.")
	}

	var b strings.Builder
	b.WriteString(f.render("leaderboard.header", gameData, "Leaderboard: "+snap.GameID))
	if snap.Stale {
		b.WriteByte('\n')
		b.WriteString(f.render("leaderboard.stale", map[string]any{"FetchedAt": snap.FetchedAt.UTC().Format(time.RFC3339)}, "(stale)"))
	}

	shown := false
	for e := range leaderboard.Top(leaderboard.All(snap.Entries), f.limit) {
		b.WriteByte('\n')
		b.WriteString(f.row(e, viewerID))
		shown = shown || leaderboard.IsViewer(e, viewerID)
	}
	if !shown {
		for _, e := range snap.Entries {
			if leaderboard.IsViewer(e, viewerID) {
				b.WriteString("\n...\n")
				b.WriteString(f.row(e, viewerID))
				break
			}
		}
	}
	return b.String()
}

func (f *Formatter) row(e domain.LeaderboardEntry, viewerID string) string {
	data := map[string]any{"Rank": e.Rank, "Name": e.DisplayName, "Score": e.BestScore}
	if leaderboard.IsViewer(e, viewerID) {
		return f.render("leaderboard.row_self", data, fmt.Sprintf("%d. %s  %d  <- you", e.Rank, e.DisplayName, e.BestScore))
	}
	return f.render("leaderboard.row", data, fmt.Sprintf("%d. %s  %d", e.Rank, e.DisplayName, e.BestScore))
}

func (f *Formatter) render(key string, data any, fallback string) string {
	if f == nil {
		return fallback
	}
	return f.cat.RenderOr(key, data, fallback)
}
