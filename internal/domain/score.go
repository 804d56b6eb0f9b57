package domain

import (
	"strings"
	"time"
)

// MaxScore is the largest score accepted from a game surface (2^53-1, the
// largest integer a browser-side number carries exactly).
const MaxScore int64 = 1<<53 - 1

// Key identifies one (player, game) pair.
type Key struct {
	PlayerID string
	GameID   string
}

func NewKey(playerID, gameID string) Key {
	return Key{PlayerID: strings.TrimSpace(playerID), GameID: strings.TrimSpace(gameID)}
}

func (k Key) Valid() bool { return k.PlayerID != "" && k.GameID != "" }

func (k Key) String() string { return k.GameID + "|" + k.PlayerID }

type HighScoreRecord struct {
	PlayerID    string
	GameID      string
	DisplayName string
	BestScore   int64
	RecordedAt  time.Time
}

type LeaderboardEntry struct {
	Rank        int
	PlayerID    string
	DisplayName string
	BestScore   int64
	RecordedAt  time.Time
}

// ValidScore reports whether v may be used as a score.
func ValidScore(v int64) bool { return v >= 0 && v <= MaxScore }
