package store

import (
	"testing"
	"time"

	"github.com/carllippert/nuance-server/internal/types"
)

func TestCreateAndGetSession(t *testing.T) {
	st := New()
	s := &types.Session{ID: "abc123", CreatedAt: time.Now(), Identity: types.Identity{UserID: "u1"}}
	if err := st.CreateSession(s); err != nil {
		t.Fatalf("create session: %v", err)
	}
	got := st.GetSession("abc123")
	if got == nil || got.ID != s.ID {
		t.Fatalf("expected session %q, got %#v", s.ID, got)
	}
	if got.Status != StatusOpen {
		t.Fatalf("expected status %q, got %q", StatusOpen, got.Status)
	}
	if err := st.CreateSession(s); err != ErrSessionExists {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestSpeechEndedCountsUtterances(t *testing.T) {
	st := New()
	_ = st.CreateSession(&types.Session{ID: "s"})
	st.AppendEvent("s", "speech_started", nil)
	st.AppendEvent("s", "speech_ended", nil)
	st.AppendEvent("s", "speech_ended", nil)
	if got := st.GetSession("s").Utterances; got != 2 {
		t.Fatalf("expected 2 utterances, got %d", got)
	}
	if got := len(st.ListEvents("s")); got != 3 {
		t.Fatalf("expected 3 events, got %d", got)
	}
}

func TestEventsAreCapped(t *testing.T) {
	st := New()
	_ = st.CreateSession(&types.Session{ID: "s"})
	for i := 0; i < maxEvents+25; i++ {
		st.AppendEvent("s", "x", nil)
	}
	evs := st.ListEvents("s")
	if len(evs) != maxEvents {
		t.Fatalf("expected %d events, got %d", maxEvents, len(evs))
	}
	if last := evs[len(evs)-1]; last.Type != "events_truncated" {
		t.Fatalf("expected truncation marker last, got %q", last.Type)
	}
}

func TestMarkClosedAndPrune(t *testing.T) {
	st := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return base }
	_ = st.CreateSession(&types.Session{ID: "old", CreatedAt: base})
	_ = st.CreateSession(&types.Session{ID: "live", CreatedAt: base.Add(time.Second)})

	if err := st.MarkClosed("old", "client_gone"); err != nil {
		t.Fatalf("mark closed: %v", err)
	}
	if err := st.MarkClosed("missing", "x"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	got := st.GetSession("old")
	if got.Status != StatusClosed || got.CloseReason != "client_gone" || got.ClosedAt == nil {
		t.Fatalf("unexpected closed session %#v", got)
	}

	list := st.ListSessions()
	if len(list) != 2 || list[0].ID != "old" {
		t.Fatalf("expected oldest first, got %#v", list)
	}

	if n := st.Prune(base.Add(time.Minute)); n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	if st.GetSession("old") != nil || st.GetSession("live") == nil {
		t.Fatal("prune removed the wrong session")
	}
}
