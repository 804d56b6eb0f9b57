package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/park285/arcade-scores/internal/domain"
)

// Store is a development-only in-memory score store used when no backend is
// configured. Submissions only ever raise a best score.
type Store struct {
	mu sync.RWMutex

	records map[domain.Key]*domain.HighScoreRecord
	byGame  map[string]map[string]*domain.HighScoreRecord // gameID -> playerID -> record
	names   map[string]string                            // playerID -> display name

	now func() time.Time
}

func New() *Store {
	return &Store{
		records: make(map[domain.Key]*domain.HighScoreRecord),
		byGame:  make(map[string]map[string]*domain.HighScoreRecord),
		names:   make(map[string]string),
		now:     time.Now,
	}
}

func (s *Store) FetchBest(ctx context.Context, key domain.Key) (*domain.HighScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[key]
	if !ok || r == nil {
		return nil, domain.ErrNotFound
	}
	rec := *r
	rec.DisplayName = s.names[key.PlayerID]
	return &rec, nil
}

func (s *Store) SubmitScore(ctx context.Context, key domain.Key, score int64) (*domain.HighScoreRecord, error) {
	if !key.Valid() {
		return nil, domain.ErrInvalidKey
	}
	if !domain.ValidScore(score) {
		return nil, domain.ErrMalformedReport
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[key]
	if !ok {
		r = &domain.HighScoreRecord{PlayerID: key.PlayerID, GameID: key.GameID, BestScore: score, RecordedAt: s.now()}
		s.records[key] = r
		if s.byGame[key.GameID] == nil {
			s.byGame[key.GameID] = make(map[string]*domain.HighScoreRecord)
		}
		s.byGame[key.GameID][key.PlayerID] = r
	} else if score > r.BestScore {
		r.BestScore = score
		r.RecordedAt = s.now()
	}
	rec := *r
	rec.DisplayName = s.names[key.PlayerID]
	return &rec, nil
}

func (s *Store) ListScores(ctx context.Context, gameID string) ([]domain.HighScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byGame[strings.TrimSpace(gameID)]
	out := make([]domain.HighScoreRecord, 0, len(list))
	for _, r := range list {
		rec := *r
		rec.DisplayName = s.names[r.PlayerID]
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) SetDisplayName(ctx context.Context, playerID, name string) error {
	playerID = strings.TrimSpace(playerID)
	name = strings.TrimSpace(name)
	if playerID == "" || name == "" {
		return nil
	}
	s.mu.Lock()
	s.names[playerID] = name
	s.mu.Unlock()
	return nil
}
