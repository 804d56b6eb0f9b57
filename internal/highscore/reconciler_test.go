package highscore

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/park285/arcade-scores/internal/domain"
	"github.com/park285/arcade-scores/internal/memstore"
)

// gatedStore wraps a memstore and lets a test hold fetches and writes open.
type gatedStore struct {
	inner *memstore.Store

	mu        sync.Mutex
	writes    []int64
	fetches   int
	fetchErr  error
	writeErr  error
	fetchGate chan struct{}
	writeGate chan struct{}
	entered   chan int64
}

func newGatedStore() *gatedStore {
	return &gatedStore{inner: memstore.New(), entered: make(chan int64, 16)}
}

func (g *gatedStore) FetchBest(ctx context.Context, key domain.Key) (*domain.HighScoreRecord, error) {
	g.mu.Lock()
	g.fetches++
	gate, ferr := g.fetchGate, g.fetchErr
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if ferr != nil {
		return nil, ferr
	}
	return g.inner.FetchBest(ctx, key)
}

func (g *gatedStore) SubmitScore(ctx context.Context, key domain.Key, score int64) (*domain.HighScoreRecord, error) {
	g.mu.Lock()
	gate, werr := g.writeGate, g.writeErr
	g.mu.Unlock()
	g.entered <- score
	if gate != nil {
		<-gate
	}
	if werr != nil {
		return nil, werr
	}
	g.mu.Lock()
	g.writes = append(g.writes, score)
	g.mu.Unlock()
	return g.inner.SubmitScore(ctx, key, score)
}

func (g *gatedStore) writeLog() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int64(nil), g.writes...)
}

func (g *gatedStore) seed(t *testing.T, key domain.Key, best int64) {
	t.Helper()
	if _, err := g.inner.SubmitScore(context.Background(), key, best); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

var testKey = domain.NewKey("p1", "flappy")

func waitEntered(t *testing.T, g *gatedStore) int64 {
	t.Helper()
	select {
	case v := <-g.entered:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("write never reached the store")
		return 0
	}
}

func waitWaiting(t *testing.T, r *Reconciler, key domain.Key, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		total := 0
		if st, ok := r.keys[key]; ok {
			for _, c := range st.waiting {
				total += c
			}
		}
		r.mu.Unlock()
		if total >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected %d waiting reports", n)
}

type result struct {
	out Outcome
	err error
}

func reportAsync(r *Reconciler, v int64) <-chan result {
	ch := make(chan result, 1)
	go func() {
		out, err := r.Report(context.Background(), testKey, v)
		ch <- result{out, err}
	}()
	return ch
}

func TestFirstReportCreatesRecord(t *testing.T) {
	store := newGatedStore()
	r := New(store, Config{}, nil)

	out, err := r.Report(context.Background(), testKey, 0)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if !out.NewHigh || !out.HasRecord || out.Best != 0 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if best, known := r.Best(testKey); !known || best != 0 {
		t.Fatalf("Best = %d, %v", best, known)
	}
	out, _ = r.Report(context.Background(), testKey, 0)
	if out.NewHigh {
		t.Fatalf("equal score must not be a new high")
	}
	if got := store.writeLog(); len(got) != 1 {
		t.Fatalf("writes = %v", got)
	}
}

func TestMonotonicity(t *testing.T) {
	store := newGatedStore()
	store.seed(t, testKey, 20)
	r := New(store, Config{}, nil)
	ctx := context.Background()

	values := []int64{5, 25, 3, 25, 40, 39, 0}
	for _, v := range values {
		if _, err := r.Report(ctx, testKey, v); err != nil {
			t.Fatalf("Report(%d): %v", v, err)
		}
	}
	if best, _ := r.Best(testKey); best != 40 {
		t.Fatalf("best = %d, want 40", best)
	}
	got := store.writeLog()
	want := []int64{25, 40}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("writes = %v, want %v", got, want)
	}
}

func TestMonotonicityConcurrent(t *testing.T) {
	store := memstore.New()
	r := New(store, Config{}, nil)
	rng := rand.New(rand.NewSource(7))

	var (
		wg  sync.WaitGroup
		max int64
	)
	for i := 0; i < 64; i++ {
		v := rng.Int63n(1000)
		if v > max {
			max = v
		}
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			if _, err := r.Report(context.Background(), testKey, v); err != nil {
				t.Errorf("Report(%d): %v", v, err)
			}
		}(v)
	}
	wg.Wait()

	if best, _ := r.Best(testKey); best != max {
		t.Fatalf("reconciler best = %d, want %d", best, max)
	}
	rec, err := store.FetchBest(context.Background(), testKey)
	if err != nil || rec.BestScore != max {
		t.Fatalf("stored best = %+v %v, want %d", rec, err, max)
	}
}

func TestNoRegressionUnderReordering(t *testing.T) {
	for _, order := range [][2]int64{{10, 7}, {7, 10}} {
		store := newGatedStore()
		store.seed(t, testKey, 1)
		store.writeGate = make(chan struct{})
		r := New(store, Config{}, nil)
		if err := r.Prime(context.Background(), testKey); err != nil {
			t.Fatalf("Prime: %v", err)
		}

		first := reportAsync(r, order[0])
		waitEntered(t, store)
		second := reportAsync(r, order[1])
		waitWaiting(t, r, testKey, 1)
		close(store.writeGate)

		<-first
		<-second
		if best, _ := r.Best(testKey); best != 10 {
			t.Fatalf("order %v: best = %d, want 10", order, best)
		}
		rec, _ := store.inner.FetchBest(context.Background(), testKey)
		if rec.BestScore != 10 {
			t.Fatalf("order %v: stored = %d, want 10", order, rec.BestScore)
		}
		for _, w := range store.writeLog() {
			if w == 7 && order[0] == 10 {
				t.Fatalf("7 was written after 10 was in flight: %v", store.writeLog())
			}
		}
	}
}

func TestDuplicateWinningScoreWritesOnce(t *testing.T) {
	store := newGatedStore()
	store.writeGate = make(chan struct{})
	r := New(store, Config{}, nil)
	if err := r.Prime(context.Background(), testKey); err != nil {
		t.Fatalf("Prime: %v", err)
	}

	a := reportAsync(r, 10)
	waitEntered(t, store)
	b := reportAsync(r, 10)
	waitWaiting(t, r, testKey, 1)
	close(store.writeGate)

	ra, rb := <-a, <-b
	if ra.err != nil || rb.err != nil {
		t.Fatalf("errors: %v %v", ra.err, rb.err)
	}
	if ra.out.NewHigh == rb.out.NewHigh {
		t.Fatalf("exactly one report should be the new high: %+v %+v", ra.out, rb.out)
	}
	if got := store.writeLog(); len(got) != 1 || got[0] != 10 {
		t.Fatalf("writes = %v, want [10]", got)
	}
	list, _ := store.inner.ListScores(context.Background(), testKey.GameID)
	if len(list) != 1 {
		t.Fatalf("leaderboard rows = %d, want 1", len(list))
	}
}

func TestOnlyLargestWaiterWrites(t *testing.T) {
	store := newGatedStore()
	store.writeGate = make(chan struct{})
	r := New(store, Config{}, nil)
	_ = r.Prime(context.Background(), testKey)

	first := reportAsync(r, 5)
	waitEntered(t, store)
	small := reportAsync(r, 7)
	large := reportAsync(r, 10)
	waitWaiting(t, r, testKey, 2)
	close(store.writeGate)

	<-first
	rs, rl := <-small, <-large
	if rs.err != nil || rl.err != nil {
		t.Fatalf("errors: %v %v", rs.err, rl.err)
	}
	if rs.out.NewHigh {
		t.Fatalf("7 must not become the best: %+v", rs.out)
	}
	if !rl.out.NewHigh {
		t.Fatalf("10 should be the new high: %+v", rl.out)
	}
	got := store.writeLog()
	if len(got) != 2 || got[0] != 5 || got[1] != 10 {
		t.Fatalf("writes = %v, want [5 10]", got)
	}
}

func TestLargestReportWaitingOnFetchWrites(t *testing.T) {
	for i := 0; i < 50; i++ {
		store := newGatedStore()
		store.fetchGate = make(chan struct{})
		r := New(store, Config{}, nil)

		large := reportAsync(r, 10)
		small := reportAsync(r, 7)
		waitWaiting(t, r, testKey, 2)
		close(store.fetchGate)

		rs, rl := <-small, <-large
		if rs.err != nil || rl.err != nil {
			t.Fatalf("errors: %v %v", rs.err, rl.err)
		}
		// 7 either yields to the waiting 10 or sees it already written
		if rs.out.NewHigh || (!rs.out.Superseded && rs.out.Best != 10) {
			t.Fatalf("7 must not win: %+v", rs.out)
		}
		if !rl.out.NewHigh || rl.out.Best != 10 {
			t.Fatalf("10 should be the new high: %+v", rl.out)
		}
		if got := store.writeLog(); len(got) != 1 || got[0] != 10 {
			t.Fatalf("iteration %d: writes = %v, want [10]", i, got)
		}
	}
}

func TestForgetDropsIdleState(t *testing.T) {
	store := newGatedStore()
	store.writeGate = make(chan struct{})
	r := New(store, Config{}, nil)
	_ = r.Prime(context.Background(), testKey)

	pending := reportAsync(r, 5)
	waitEntered(t, store)
	if r.Forget(testKey) {
		t.Fatalf("state with a write in flight must be kept")
	}
	close(store.writeGate)
	if res := <-pending; res.err != nil || !res.out.NewHigh {
		t.Fatalf("Report: %+v %v", res.out, res.err)
	}

	if !r.Forget(testKey) || r.Tracked() != 0 {
		t.Fatalf("idle state not dropped, tracked = %d", r.Tracked())
	}
	if _, known := r.Best(testKey); known {
		t.Fatalf("forgotten key must read as unknown")
	}
	out, err := r.Report(context.Background(), testKey, 3)
	if err != nil || out.NewHigh || out.Best != 5 {
		t.Fatalf("Report after Forget: %+v %v", out, err)
	}
	store.mu.Lock()
	fetches := store.fetches
	store.mu.Unlock()
	if fetches != 2 {
		t.Fatalf("fetches = %d, want 2", fetches)
	}
}

func TestMalformedReportIsNoop(t *testing.T) {
	store := newGatedStore()
	store.seed(t, testKey, 30)
	r := New(store, Config{}, nil)
	_ = r.Prime(context.Background(), testKey)

	for _, v := range []int64{-5, -1, domain.MaxScore + 1} {
		if _, err := r.Report(context.Background(), testKey, v); !errors.Is(err, domain.ErrMalformedReport) {
			t.Fatalf("Report(%d) err = %v", v, err)
		}
	}
	if best, _ := r.Best(testKey); best != 30 {
		t.Fatalf("best changed to %d", best)
	}
	if got := store.writeLog(); len(got) != 0 {
		t.Fatalf("unexpected writes %v", got)
	}
}

func TestUnknownStateDefersReport(t *testing.T) {
	store := newGatedStore()
	store.fetchGate = make(chan struct{})
	r := New(store, Config{}, nil)

	pending := reportAsync(r, 50)
	// the backend holds 80 by the time the fetch resolves
	store.seed(t, testKey, 80)
	time.Sleep(10 * time.Millisecond)
	close(store.fetchGate)

	res := <-pending
	if res.err != nil {
		t.Fatalf("Report: %v", res.err)
	}
	if res.out.NewHigh || res.out.Best != 80 {
		t.Fatalf("provisional report must not win: %+v", res.out)
	}
	if best, _ := r.Best(testKey); best != 80 {
		t.Fatalf("best = %d, want 80", best)
	}
	if got := store.writeLog(); len(got) != 0 {
		t.Fatalf("unexpected writes %v", got)
	}
}

func TestConcurrentUnknownReportsShareOneFetch(t *testing.T) {
	store := newGatedStore()
	store.fetchGate = make(chan struct{})
	r := New(store, Config{}, nil)

	a := reportAsync(r, 3)
	b := reportAsync(r, 4)
	time.Sleep(10 * time.Millisecond)
	close(store.fetchGate)
	<-a
	<-b

	store.mu.Lock()
	fetches := store.fetches
	store.mu.Unlock()
	if fetches != 1 {
		t.Fatalf("fetches = %d, want 1", fetches)
	}
	if best, _ := r.Best(testKey); best != 4 {
		t.Fatalf("best = %d, want 4", best)
	}
}

func TestWriteFailureKeepsBest(t *testing.T) {
	store := newGatedStore()
	store.seed(t, testKey, 10)
	store.writeErr = errors.New("503 from backend")
	r := New(store, Config{}, nil)

	out, err := r.Report(context.Background(), testKey, 15)
	if !errors.Is(err, domain.ErrPersistenceWrite) {
		t.Fatalf("expected ErrPersistenceWrite, got %v", err)
	}
	if !out.Unsaved || out.NewHigh || out.Best != 10 || out.Round != 15 {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	// caller resubmits once the backend recovers
	store.mu.Lock()
	store.writeErr = nil
	store.mu.Unlock()
	out, err = r.Report(context.Background(), testKey, 15)
	if err != nil || !out.NewHigh || out.Best != 15 {
		t.Fatalf("resubmit: %+v %v", out, err)
	}
}

func TestFetchFailureIsDataUnavailable(t *testing.T) {
	store := newGatedStore()
	store.fetchErr = errors.New("connection refused")
	r := New(store, Config{}, nil)

	if _, err := r.Report(context.Background(), testKey, 5); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if _, known := r.Best(testKey); known {
		t.Fatalf("key must stay unknown after a failed fetch")
	}

	store.mu.Lock()
	store.fetchErr = nil
	store.mu.Unlock()
	out, err := r.Report(context.Background(), testKey, 5)
	if err != nil || !out.NewHigh {
		t.Fatalf("retry after fetch recovery: %+v %v", out, err)
	}
}

func TestCallerLeavesWriteStillLands(t *testing.T) {
	store := newGatedStore()
	store.writeGate = make(chan struct{})
	r := New(store, Config{}, nil)
	_ = r.Prime(context.Background(), testKey)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Report(ctx, testKey, 12)
		done <- err
	}()
	waitEntered(t, store)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	r.Close()
	close(store.writeGate)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if best, known := r.Best(testKey); known && best == 12 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("late write result was not applied")
}

func TestClosedReconcilerRejectsReports(t *testing.T) {
	r := New(newGatedStore(), Config{}, nil)
	r.Close()
	if _, err := r.Report(context.Background(), testKey, 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestInvalidKey(t *testing.T) {
	r := New(newGatedStore(), Config{}, nil)
	if _, err := r.Report(context.Background(), domain.NewKey(" ", "g"), 1); !errors.Is(err, domain.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
