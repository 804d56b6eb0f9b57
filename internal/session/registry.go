package session

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/arcade-scores/internal/domain"
)

var (
	ErrInvalidArgs     = errors.New("invalid arguments")
	ErrNotFound        = errors.New("session not found")
	ErrTooManySessions = errors.New("too many open sessions for player")
)

// Session is one embedded game instance bound to a (player, game) key. The id
// is the capability the host hands to the channel.
type Session struct {
	ID          string
	Key         domain.Key
	DisplayName string
	OpenedAt    time.Time

	Rounds    int
	LastRound int64
	LastAt    time.Time
}

// Registry tracks open play sessions.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]*Session
	byPlayer  map[string][]string
	maxPerKey int
	now       func() time.Time
}

// NewRegistry caps the open sessions per player; maxPerPlayer <= 0 means 4.
func NewRegistry(maxPerPlayer int) *Registry {
	if maxPerPlayer <= 0 {
		maxPerPlayer = 4
	}
	return &Registry{
		byID:      make(map[string]*Session),
		byPlayer:  make(map[string][]string),
		maxPerKey: maxPerPlayer,
		now:       time.Now,
	}
}

func (r *Registry) Open(key domain.Key, displayName string) (Session, error) {
	if !key.Valid() {
		return Session{}, ErrInvalidArgs
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.byPlayer[key.PlayerID]) >= r.maxPerKey {
		return Session{}, ErrTooManySessions
	}
	s := &Session{
		ID:          uuid.NewString(),
		Key:         key,
		DisplayName: strings.TrimSpace(displayName),
		OpenedAt:    r.now(),
	}
	r.byID[s.ID] = s
	r.byPlayer[key.PlayerID] = append(r.byPlayer[key.PlayerID], s.ID)
	return *s, nil
}

func (r *Registry) Get(id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *s, nil
}

// RecordRound notes a well-formed round reported on session id.
func (r *Registry) RecordRound(id string, value int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	s.Rounds++
	s.LastRound = value
	s.LastAt = r.now()
	return nil
}

func (r *Registry) Close(id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	delete(r.byID, id)
	ids := r.byPlayer[s.Key.PlayerID]
	for i, v := range ids {
		if v == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.byPlayer, s.Key.PlayerID)
	} else {
		r.byPlayer[s.Key.PlayerID] = ids
	}
	return *s, nil
}

// ByPlayer lists the player's open sessions, oldest first.
func (r *Registry) ByPlayer(playerID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byPlayer[strings.TrimSpace(playerID)]
	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.byID[id]; ok {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
