package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/carllippert/nuance-server/internal/types"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
)

// Session statuses.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// maxEvents caps the lifecycle log kept per session.
const maxEvents = 200

// Store is the in-memory registry of voice sessions and their lifecycle
// events. Closed sessions stay listed until Prune removes them.
type Store struct {
    mu       sync.RWMutex
    sessions map[string]*types.Session
    events   map[string][]types.Event
    now      func() time.Time
}

func New() *Store {
    return &Store{
        sessions: make(map[string]*types.Session),
        events:   make(map[string][]types.Event),
        now:      time.Now,
    }
}

func (s *Store) CreateSession(sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return ErrSessionExists
	}
	if sess.Status == "" {
		sess.Status = StatusOpen
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	s.events[sess.ID] = []types.Event{}
	return nil
}

// GetSession returns a copy of the session, or nil.
func (s *Store) GetSession(id string) *types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	cp := *sess
	return &cp
}

// ListSessions returns copies of all sessions, oldest first.
func (s *Store) ListSessions() []types.Session {
    s.mu.RLock()
    out := make([]types.Session, 0, len(s.sessions))
    for _, sess := range s.sessions {
        out = append(out, *sess)
    }
    s.mu.RUnlock()
    sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
    return out
}

// MarkClosed records why and when a session ended.
func (s *Store) MarkClosed(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.Status == StatusClosed {
		return nil
	}
	at := s.now().UTC()
	sess.Status = StatusClosed
	sess.CloseReason = reason
	sess.ClosedAt = &at
	return nil
}

// Prune forgets closed sessions that ended before cutoff and returns how
// many were removed.
func (s *Store) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.ClosedAt != nil && sess.ClosedAt.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.events, id)
			n++
		}
	}
	return n
}

func (s *Store) AppendEvent(sessionID, typ string, payload map[string]any) types.Event {
    evt := types.Event{Type: typ, Ts: s.now().UTC(), Payload: payload}
    s.mu.Lock()
    defer s.mu.Unlock()
    if typ == "speech_ended" {
        if sess, ok := s.sessions[sessionID]; ok {
            sess.Utterances++
        }
    }
    s.events[sessionID] = append(s.events[sessionID], evt)
    if l := len(s.events[sessionID]); l > maxEvents {
        // Keep space for a single truncation warning so the total stays at maxEvents
        keep := maxEvents - 1
        dropped := l - keep
        s.events[sessionID] = append([]types.Event(nil), s.events[sessionID][l-keep:]...)
        warn := types.Event{Type: "events_truncated", Ts: evt.Ts, Payload: map[string]any{"session_id": sessionID, "dropped": dropped, "kept": keep}}
        s.events[sessionID] = append(s.events[sessionID], warn)
    }
    return evt
}

func (s *Store) ListEvents(sessionID string) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[sessionID]
	out := make([]types.Event, len(src))
	copy(out, src)
	return out
}

func (s *Store) ListSessionIDs() []string {
    s.mu.RLock()
    defer s.mu.RUnlock()
    out := make([]string, 0, len(s.sessions))
    for id := range s.sessions {
        out = append(out, id)
    }
    return out
}
