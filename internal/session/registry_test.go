package session

import (
	"errors"
	"testing"

	"github.com/park285/arcade-scores/internal/domain"
)

func TestOpenBindsKey(t *testing.T) {
	r := NewRegistry(0)
	s, err := r.Open(domain.NewKey("p1", "snake"), " Pat ")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.ID == "" || s.Key.PlayerID != "p1" || s.DisplayName != "Pat" {
		t.Fatalf("session = %+v", s)
	}
	got, err := r.Get(s.ID)
	if err != nil || got.Key != s.Key {
		t.Fatalf("Get: %+v %v", got, err)
	}
	if _, err := r.Open(domain.Key{}, ""); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("invalid key: %v", err)
	}
}

func TestSessionIDsAreDistinct(t *testing.T) {
	r := NewRegistry(0)
	a, _ := r.Open(domain.NewKey("p1", "snake"), "")
	b, _ := r.Open(domain.NewKey("p1", "snake"), "")
	if a.ID == b.ID {
		t.Fatalf("two embeds share a session id")
	}
	if n := len(r.ByPlayer("p1")); n != 2 {
		t.Fatalf("ByPlayer = %d", n)
	}
}

func TestPerPlayerCap(t *testing.T) {
	r := NewRegistry(2)
	key := domain.NewKey("p1", "snake")
	first, _ := r.Open(key, "")
	_, _ = r.Open(key, "")
	if _, err := r.Open(key, ""); !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("expected cap, got %v", err)
	}
	if _, err := r.Close(first.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := r.Open(key, ""); err != nil {
		t.Fatalf("slot should be free after close: %v", err)
	}
	if _, err := r.Open(domain.NewKey("p2", "snake"), ""); err != nil {
		t.Fatalf("other players are not capped: %v", err)
	}
}

func TestRecordRoundAndClose(t *testing.T) {
	r := NewRegistry(0)
	s, _ := r.Open(domain.NewKey("p1", "snake"), "")
	_ = r.RecordRound(s.ID, 10)
	_ = r.RecordRound(s.ID, 3)
	got, _ := r.Get(s.ID)
	if got.Rounds != 2 || got.LastRound != 3 {
		t.Fatalf("rounds = %+v", got)
	}
	if _, err := r.Close(s.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := r.Close(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double close: %v", err)
	}
	if err := r.RecordRound(s.ID, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record on closed: %v", err)
	}
	if r.Count() != 0 || len(r.ByPlayer("p1")) != 0 {
		t.Fatalf("registry not empty")
	}
}
