package scorestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/arcade-scores/internal/domain"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, nil), mr
}

func TestFetchBestMissingIsNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.FetchBest(context.Background(), domain.NewKey("p1", "snake"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitOnlyRaisesBest(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	key := domain.NewKey("p1", "snake")
	clock := time.Unix(1000, 0)
	s.now = func() time.Time { return clock }

	rec, err := s.SubmitScore(ctx, key, 10)
	if err != nil || rec.BestScore != 10 {
		t.Fatalf("first submit: %+v %v", rec, err)
	}

	clock = clock.Add(time.Minute)
	rec, err = s.SubmitScore(ctx, key, 7)
	if err != nil {
		t.Fatalf("lower submit: %v", err)
	}
	if rec.BestScore != 10 || !rec.RecordedAt.Equal(time.Unix(1000, 0)) {
		t.Fatalf("lower score must not touch record: %+v", rec)
	}

	rec, err = s.SubmitScore(ctx, key, 10)
	if err != nil || rec.BestScore != 10 || !rec.RecordedAt.Equal(time.Unix(1000, 0)) {
		t.Fatalf("equal score must not touch record: %+v %v", rec, err)
	}

	rec, err = s.SubmitScore(ctx, key, 12)
	if err != nil || rec.BestScore != 12 || !rec.RecordedAt.Equal(clock) {
		t.Fatalf("higher submit: %+v %v", rec, err)
	}

	got, err := s.FetchBest(ctx, key)
	if err != nil || got.BestScore != 12 {
		t.Fatalf("FetchBest: %+v %v", got, err)
	}
}

func TestSubmitRejectsInvalid(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := s.SubmitScore(ctx, domain.NewKey("p1", "snake"), -1); !errors.Is(err, domain.ErrMalformedReport) {
		t.Fatalf("negative: %v", err)
	}
	if _, err := s.SubmitScore(ctx, domain.NewKey("", "snake"), 1); !errors.Is(err, domain.ErrInvalidKey) {
		t.Fatalf("empty player: %v", err)
	}
}

func TestConcurrentSubmitsKeepMax(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	key := domain.NewKey("p1", "snake")

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			// contention is tolerated; what matters is the stored max
			_, _ = s.SubmitScore(ctx, key, v)
		}(int64(i))
	}
	wg.Wait()

	// whatever lost the race, the largest is applied by a final retry
	if _, err := s.SubmitScore(ctx, key, 20); err != nil {
		t.Fatalf("SubmitScore: %v", err)
	}
	got, err := s.FetchBest(ctx, key)
	if err != nil || got.BestScore != 20 {
		t.Fatalf("best = %+v %v", got, err)
	}
}

func TestListScoresWithNames(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for i, p := range []string{"a", "b", "c"} {
		if _, err := s.SubmitScore(ctx, domain.NewKey(p, "snake"), int64((i+1)*5)); err != nil {
			t.Fatalf("submit %s: %v", p, err)
		}
	}
	if _, err := s.SubmitScore(ctx, domain.NewKey("z", "tetris"), 999); err != nil {
		t.Fatalf("submit other game: %v", err)
	}
	if err := s.SetDisplayName(ctx, "b", "Bea"); err != nil {
		t.Fatalf("SetDisplayName: %v", err)
	}

	recs, err := s.ListScores(ctx, "snake")
	if err != nil {
		t.Fatalf("ListScores: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].PlayerID != "c" || recs[0].BestScore != 15 {
		t.Fatalf("first = %+v", recs[0])
	}
	if recs[1].DisplayName != "Bea" || recs[2].DisplayName != "" {
		t.Fatalf("names = %q %q", recs[1].DisplayName, recs[2].DisplayName)
	}

	empty, err := s.ListScores(ctx, "pong")
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty game: %+v %v", empty, err)
	}
}

func TestRecordKeysDoNotCollide(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	left := domain.NewKey("c", "a:b")
	right := domain.NewKey("b:c", "a")

	if _, err := s.SubmitScore(ctx, left, 500); err != nil {
		t.Fatalf("submit left: %v", err)
	}
	if _, err := s.FetchBest(ctx, right); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("right must have no record, got %v", err)
	}
	got, err := s.SubmitScore(ctx, right, 10)
	if err != nil || got.BestScore != 10 {
		t.Fatalf("submit right: %+v %v", got, err)
	}
	if got, err := s.FetchBest(ctx, left); err != nil || got.BestScore != 500 {
		t.Fatalf("left = %+v %v", got, err)
	}
	if n := len(mr.Keys()); n < 4 {
		t.Fatalf("expected two record keys and two boards, got keys %v", mr.Keys())
	}
}

func TestUnavailableRedisErrors(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()
	if _, err := s.ListScores(context.Background(), "snake"); err == nil {
		t.Fatalf("expected error with redis down")
	}
}

func TestOpenParsesURL(t *testing.T) {
	_, mr := newTestStore(t)
	s, err := Open(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if _, err := s.SubmitScore(context.Background(), domain.NewKey("p", "g"), 1); err != nil {
		t.Fatalf("SubmitScore: %v", err)
	}

	if _, err := Open(context.Background(), "http://localhost", nil); err == nil {
		t.Fatalf("expected scheme error")
	}
	opts, err := parseRedisURL("redis://:pw@host:6380/3")
	if err != nil || opts.Addr != "host:6380" || opts.Password != "pw" || opts.DB != 3 {
		t.Fatalf("opts = %+v %v", opts, err)
	}
}
