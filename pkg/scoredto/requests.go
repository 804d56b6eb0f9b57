package scoredto

import "time"

type BestScoreResponse struct {
	BestScore  int64     `json:"bestScore"`
	RecordedAt time.Time `json:"recordedAt"`
}

type SubmitScoreRequest struct {
	PlayerID string `json:"playerId" validate:"required,max=128"`
	GameID   string `json:"gameId" validate:"required,max=128"`
	Score    int64  `json:"score" validate:"min=0,max=9007199254740991"`
}

// ScoreRecord is the persisted record echoed back by a submission.
type ScoreRecord struct {
	PlayerID    string    `json:"playerId"`
	GameID      string    `json:"gameId"`
	DisplayName string    `json:"displayName,omitempty"`
	BestScore   int64     `json:"bestScore"`
	RecordedAt  time.Time `json:"recordedAt"`
}

type LeaderboardRow struct {
	PlayerID    string    `json:"playerId"`
	DisplayName string    `json:"displayName"`
	BestScore   int64     `json:"bestScore"`
	RecordedAt  time.Time `json:"recordedAt"`
}
