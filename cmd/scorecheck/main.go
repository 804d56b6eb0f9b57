package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	appcfg "github.com/park285/arcade-scores/internal/config"
	"github.com/park285/arcade-scores/internal/domain"
	"github.com/park285/arcade-scores/internal/leaderboard"
	"github.com/park285/arcade-scores/internal/scoreapi"
	"github.com/park285/arcade-scores/internal/scorechan"
)

// scorecheck checks the REST score backend and, optionally, a running host's
// play endpoint. It never submits scores.
func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.APIBaseURL == "" {
		log.Fatal("SCORE_API_BASE_URL is required")
	}
	gameID := os.Getenv("CHECK_GAME")
	playerID := os.Getenv("CHECK_PLAYER")
	hostWS := os.Getenv("CHECK_HOST_WS_URL")
	if gameID == "" {
		log.Fatal("CHECK_GAME is required")
	}

	client := scoreapi.NewClient(cfg.APIBaseURL,
		scoreapi.WithSessionCookie(cfg.SessionCookieName, cfg.SessionCookie),
		scoreapi.WithTimeout(8*time.Second),
		scoreapi.WithRetry(cfg.APIRetryMax),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if playerID != "" {
		rec, err := client.FetchBest(ctx, domain.NewKey(playerID, gameID))
		switch {
		case errors.Is(err, domain.ErrNotFound):
			log.Printf("best: no record for player=%s game=%s", playerID, gameID)
		case err != nil:
			log.Printf("best error: %v", err)
		default:
			log.Printf("best ok: %d at %s", rec.BestScore, rec.RecordedAt.Format(time.RFC3339))
		}
	}

	view := leaderboard.NewView(client, nil)
	seq, err := view.Load(ctx, gameID)
	if err != nil {
		log.Printf("leaderboard error: %v", err)
	} else {
		for e := range leaderboard.Top(seq, cfg.LeaderboardLimit) {
			fmt.Printf("%3d. %-24s %d\n", e.Rank, e.DisplayName, e.BestScore)
		}
	}

	if hostWS == "" || playerID == "" {
		log.Println("CHECK_HOST_WS_URL or CHECK_PLAYER not set; skipping host check")
		return
	}
	port, err := scorechan.DialWS(ctx, hostWS+"?game="+url.QueryEscape(gameID), func() map[string]string {
		return map[string]string{"X-Player-Id": playerID}
	}, nil)
	if err != nil {
		log.Printf("host dial error: %v", err)
		return
	}
	defer port.Close()

	surface := scorechan.NewSurface(scorechan.NewBus(port, nil))
	v, ok, err := surface.RequestScore(ctx)
	switch {
	case err != nil:
		log.Printf("host request error: %v", err)
	case !ok:
		log.Printf("host reply: no known best")
	default:
		log.Printf("host reply: best=%d", v)
	}
}
