package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/park285/arcade-scores/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS high_scores (
	game_id     TEXT        NOT NULL,
	player_id   TEXT        NOT NULL,
	best_score  BIGINT      NOT NULL CHECK (best_score >= 0),
	recorded_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (game_id, player_id)
);
CREATE INDEX IF NOT EXISTS high_scores_rank_idx ON high_scores (game_id, best_score DESC, recorded_at ASC);
CREATE TABLE IF NOT EXISTS player_names (
	player_id    TEXT PRIMARY KEY,
	display_name TEXT NOT NULL
);`

// ErrSchemaMissing is returned when the tables have not been created yet.
var ErrSchemaMissing = errors.New("high score schema missing")

// Repository persists high scores in Postgres. The upsert only replaces a
// row when the new score is strictly greater.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Open connects to databaseURL and pings it.
func Open(ctx context.Context, databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewRepository(db), nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return classify(err)
}

func (r *Repository) FetchBest(ctx context.Context, key domain.Key) (*domain.HighScoreRecord, error) {
	if !key.Valid() {
		return nil, domain.ErrInvalidKey
	}
	const query = `
		SELECT hs.best_score, hs.recorded_at, COALESCE(pn.display_name, '')
		FROM high_scores hs
		LEFT JOIN player_names pn ON pn.player_id = hs.player_id
		WHERE hs.game_id = $1 AND hs.player_id = $2`

	rec := &domain.HighScoreRecord{PlayerID: key.PlayerID, GameID: key.GameID}
	err := r.db.QueryRowContext(ctx, query, key.GameID, key.PlayerID).Scan(&rec.BestScore, &rec.RecordedAt, &rec.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return rec, nil
}

// SubmitScore inserts the record or raises its best; a lower or equal score
// leaves the row untouched and the current row is returned.
func (r *Repository) SubmitScore(ctx context.Context, key domain.Key, score int64) (*domain.HighScoreRecord, error) {
	if !key.Valid() {
		return nil, domain.ErrInvalidKey
	}
	if !domain.ValidScore(score) {
		return nil, domain.ErrMalformedReport
	}
	const upsert = `
		INSERT INTO high_scores (game_id, player_id, best_score, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (game_id, player_id) DO UPDATE SET
			best_score = EXCLUDED.best_score,
			recorded_at = EXCLUDED.recorded_at
		WHERE high_scores.best_score < EXCLUDED.best_score
		RETURNING best_score, recorded_at`

	rec := &domain.HighScoreRecord{PlayerID: key.PlayerID, GameID: key.GameID}
	err := r.db.QueryRowContext(ctx, upsert, key.GameID, key.PlayerID, score, r.now().UTC()).Scan(&rec.BestScore, &rec.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// conflict without update: the stored best already covers score
		return r.FetchBest(ctx, key)
	}
	if err != nil {
		return nil, classify(err)
	}
	var name sql.NullString
	_ = r.db.QueryRowContext(ctx, `SELECT display_name FROM player_names WHERE player_id = $1`, key.PlayerID).Scan(&name)
	rec.DisplayName = name.String
	return rec, nil
}

func (r *Repository) ListScores(ctx context.Context, gameID string) ([]domain.HighScoreRecord, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, domain.ErrInvalidKey
	}
	const query = `
		SELECT hs.player_id, hs.best_score, hs.recorded_at, COALESCE(pn.display_name, '')
		FROM high_scores hs
		LEFT JOIN player_names pn ON pn.player_id = hs.player_id
		WHERE hs.game_id = $1
		ORDER BY hs.best_score DESC, hs.recorded_at ASC`

	rows, err := r.db.QueryContext(ctx, query, gameID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make([]domain.HighScoreRecord, 0)
	for rows.Next() {
		rec := domain.HighScoreRecord{GameID: gameID}
		if err := rows.Scan(&rec.PlayerID, &rec.BestScore, &rec.RecordedAt, &rec.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (r *Repository) SetDisplayName(ctx context.Context, playerID, name string) error {
	playerID, name = strings.TrimSpace(playerID), strings.TrimSpace(name)
	if playerID == "" || name == "" {
		return nil
	}
	const query = `
		INSERT INTO player_names (player_id, display_name) VALUES ($1, $2)
		ON CONFLICT (player_id) DO UPDATE SET display_name = EXCLUDED.display_name`
	_, err := r.db.ExecContext(ctx, query, playerID, name)
	return classify(err)
}

// classify maps Postgres errors the caller can act on.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "42P01" {
		return fmt.Errorf("%w: %s", ErrSchemaMissing, pqErr.Message)
	}
	return err
}
