package api

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/carllippert/nuance-server/internal/health"
    "github.com/carllippert/nuance-server/internal/persist"
    "github.com/carllippert/nuance-server/internal/store"
    "github.com/carllippert/nuance-server/internal/types"
)

type mockReady struct{ ok bool }

func (m mockReady) Ready(ctx context.Context) health.HealthStatus {
    return health.HealthStatus{OK: m.ok, CheckedAt: time.Now()}
}

type mockMessages struct {
    got persist.MessageFilter
    err error
}

func (m *mockMessages) RecentMessages(ctx context.Context, f persist.MessageFilter, limit int) ([]types.MessageRecord, error) {
    m.got = f
    if m.err != nil { return nil, m.err }
    return []types.MessageRecord{{ID: "m1", SessionID: f.SessionID, ResponseMessageText: "hola"}}, nil
}

func TestUnknownSession404(t *testing.T) {
    st := store.New()
    h := NewHandlers(st, nil, &mockMessages{}, nil)
    srv := httptest.NewServer(NewRouter(h, nil))
    defer srv.Close()

    for _, path := range []string{"/sessions/unknown", "/sessions/unknown/events", "/sessions/unknown/messages"} {
        resp, err := http.Get(srv.URL + path)
        if err != nil { t.Fatalf("request: %v", err) }
        resp.Body.Close()
        if resp.StatusCode != http.StatusNotFound {
            t.Fatalf("%s: expected 404, got %d", path, resp.StatusCode)
        }
    }

    resp, err := http.Post(srv.URL+"/sessions", "application/json", nil)
    if err != nil { t.Fatalf("request: %v", err) }
    resp.Body.Close()
    if resp.StatusCode != http.StatusMethodNotAllowed {
        t.Fatalf("expected 405, got %d", resp.StatusCode)
    }
}

func TestSessionsAndEvents(t *testing.T) {
    st := store.New()
    _ = st.CreateSession(&types.Session{ID: "s1", Identity: types.Identity{UserID: "u1"}, CreatedAt: time.Now()})
    st.AppendEvent("s1", "connected", nil)
    msgs := &mockMessages{}
    srv := httptest.NewServer(NewRouter(NewHandlers(st, nil, msgs, nil), nil))
    defer srv.Close()

    var list struct{ Sessions []types.Session `json:"sessions"` }
    getJSON(t, srv.URL+"/sessions?status=open", &list)
    if len(list.Sessions) != 1 || list.Sessions[0].Identity.UserID != "u1" {
        t.Fatalf("unexpected sessions %#v", list.Sessions)
    }

    var evs struct{ Events []types.Event `json:"events"` }
    getJSON(t, srv.URL+"/sessions/s1/events", &evs)
    if len(evs.Events) != 1 || evs.Events[0].Type != "connected" {
        t.Fatalf("unexpected events %#v", evs.Events)
    }

    var out struct{ Messages []types.MessageRecord `json:"messages"` }
    getJSON(t, srv.URL+"/sessions/s1/messages?limit=5", &out)
    if len(out.Messages) != 1 || msgs.got.SessionID != "s1" {
        t.Fatalf("unexpected messages %#v (filter %#v)", out.Messages, msgs.got)
    }

    resp, err := http.Get(srv.URL + "/sessions/s1/messages?limit=abc")
    if err != nil { t.Fatalf("request: %v", err) }
    resp.Body.Close()
    if resp.StatusCode != http.StatusBadRequest {
        t.Fatalf("expected 400, got %d", resp.StatusCode)
    }

    msgs.err = errors.New("db down")
    resp, err = http.Get(srv.URL + "/sessions/s1/messages")
    if err != nil { t.Fatalf("request: %v", err) }
    resp.Body.Close()
    if resp.StatusCode != http.StatusInternalServerError {
        t.Fatalf("expected 500, got %d", resp.StatusCode)
    }
}

func TestReadyz(t *testing.T) {
    for _, tc := range []struct {
        ok   bool
        want int
    }{{true, http.StatusOK}, {false, http.StatusServiceUnavailable}} {
        srv := httptest.NewServer(NewRouter(NewHandlers(store.New(), mockReady{ok: tc.ok}, nil, nil), nil))
        resp, err := http.Get(srv.URL + "/readyz")
        if err != nil { t.Fatalf("request: %v", err) }
        resp.Body.Close()
        srv.Close()
        if resp.StatusCode != tc.want {
            t.Fatalf("ready=%v: expected %d, got %d", tc.ok, tc.want, resp.StatusCode)
        }
    }
}

func getJSON(t *testing.T, url string, v any) {
    t.Helper()
    resp, err := http.Get(url)
    if err != nil { t.Fatalf("request: %v", err) }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusOK {
        t.Fatalf("GET %s: status %d", url, resp.StatusCode)
    }
    if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
        t.Fatalf("decode: %v", err)
    }
}
