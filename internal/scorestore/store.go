package scorestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/park285/arcade-scores/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const maxCASAttempts = 8

// ErrContention is returned when a compare-and-swap kept losing to concurrent writers.
var ErrContention = errors.New("score record contended")

// Store keeps high scores in Redis: one JSON record per key plus a sorted set
// per game for ranking. Writes only ever raise the stored best.
type Store struct {
	rdb    *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

type record struct {
	BestScore  int64     `json:"bestScore"`
	RecordedAt time.Time `json:"recordedAt"`
}

func New(rdb *redis.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{rdb: rdb, logger: logger, now: time.Now}
}

// Open connects to redisURL (redis:// or rediss://) and pings it.
func Open(ctx context.Context, redisURL string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis score store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, logger), nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// keyRecord escapes both ids so neither can contribute a separator.
func keyRecord(k domain.Key) string {
	return "hs:" + url.QueryEscape(k.GameID) + ":" + url.QueryEscape(k.PlayerID)
}

func keyBoard(gameID string) string { return "lb:" + strings.TrimSpace(gameID) }
func keyNames() string              { return "hs:names" }

func (s *Store) FetchBest(ctx context.Context, key domain.Key) (*domain.HighScoreRecord, error) {
	if !key.Valid() {
		return nil, domain.ErrInvalidKey
	}
	rec, err := s.load(ctx, s.rdb, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrNotFound
	}
	name, err := s.rdb.HGet(ctx, keyNames(), key.PlayerID).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return toDomain(key, *rec, name), nil
}

// SubmitScore raises the stored best to score when it is greater (or creates
// the record) and returns the record as persisted.
func (s *Store) SubmitScore(ctx context.Context, key domain.Key, score int64) (*domain.HighScoreRecord, error) {
	if !key.Valid() {
		return nil, domain.ErrInvalidKey
	}
	if !domain.ValidScore(score) {
		return nil, domain.ErrMalformedReport
	}
	recKey := keyRecord(key)

	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		var out record
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := s.load(ctx, tx, key)
			if err != nil {
				return err
			}
			if cur != nil && cur.BestScore >= score {
				out = *cur
				return nil
			}
			next := record{BestScore: score, RecordedAt: s.now().UTC()}
			raw, err := json.Marshal(next)
			if err != nil {
				return err
			}
			pipe := tx.TxPipeline()
			pipe.Set(ctx, recKey, raw, 0)
			pipe.ZAdd(ctx, keyBoard(key.GameID), redis.Z{Score: float64(score), Member: key.PlayerID})
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			out = next
			return nil
		}, recKey)

		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("score_cas_retry", zap.String("game_id", key.GameID), zap.String("player_id", key.PlayerID), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}
		name, _ := s.rdb.HGet(ctx, keyNames(), key.PlayerID).Result()
		return toDomain(key, out, name), nil
	}
	return nil, ErrContention
}

// ListScores returns every record of the game, best first.
func (s *Store) ListScores(ctx context.Context, gameID string) ([]domain.HighScoreRecord, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, domain.ErrInvalidKey
	}
	players, err := s.rdb.ZRevRange(ctx, keyBoard(gameID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(players) == 0 {
		return []domain.HighScoreRecord{}, nil
	}

	recKeys := make([]string, len(players))
	for i, p := range players {
		recKeys[i] = keyRecord(domain.Key{PlayerID: p, GameID: gameID})
	}
	raws, err := s.rdb.MGet(ctx, recKeys...).Result()
	if err != nil {
		return nil, err
	}
	names, err := s.rdb.HMGet(ctx, keyNames(), players...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.HighScoreRecord, 0, len(players))
	for i, p := range players {
		str, ok := raws[i].(string)
		if !ok {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			s.logger.Warn("score_record_corrupt", zap.String("game_id", gameID), zap.String("player_id", p), zap.Error(err))
			continue
		}
		name, _ := names[i].(string)
		out = append(out, *toDomain(domain.Key{PlayerID: p, GameID: gameID}, rec, name))
	}
	return out, nil
}

// SetDisplayName records how a player is shown on leaderboards.
func (s *Store) SetDisplayName(ctx context.Context, playerID, name string) error {
	playerID, name = strings.TrimSpace(playerID), strings.TrimSpace(name)
	if playerID == "" || name == "" {
		return nil
	}
	return s.rdb.HSet(ctx, keyNames(), playerID, name).Err()
}

func (s *Store) load(ctx context.Context, c redis.Cmdable, key domain.Key) (*record, error) {
	raw, err := c.Get(ctx, keyRecord(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode score record: %w", err)
	}
	return &rec, nil
}

func toDomain(key domain.Key, rec record, name string) *domain.HighScoreRecord {
	return &domain.HighScoreRecord{
		PlayerID:    key.PlayerID,
		GameID:      key.GameID,
		DisplayName: name,
		BestScore:   rec.BestScore,
		RecordedAt:  rec.RecordedAt,
	}
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
