package api

import (
    "context"
    "encoding/json"
    "net/http"
    "strconv"
    "time"

    "go.uber.org/zap"

    "github.com/carllippert/nuance-server/internal/health"
    "github.com/carllippert/nuance-server/internal/logging"
    "github.com/carllippert/nuance-server/internal/persist"
    "github.com/carllippert/nuance-server/internal/store"
    "github.com/carllippert/nuance-server/internal/types"
)

// Readiness reports whether backing stores are reachable.
type Readiness interface {
    Ready(ctx context.Context) health.HealthStatus
}

// MessageLister reads persisted exchanges.
type MessageLister interface {
    RecentMessages(ctx context.Context, f persist.MessageFilter, limit int) ([]types.MessageRecord, error)
}

type Handlers struct {
    store    *store.Store
    ready    Readiness
    messages MessageLister
    log      *zap.SugaredLogger
}

// NewHandlers wires the HTTP handlers. ready and messages may be nil.
func NewHandlers(st *store.Store, ready Readiness, messages MessageLister, log *zap.SugaredLogger) *Handlers {
    return &Handlers{store: st, ready: ready, messages: messages, log: logging.OrNop(log)}
}

func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
    if h.ready == nil {
        writeJSON(w, http.StatusOK, map[string]any{"ok": true})
        return
    }
    ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
    defer cancel()
    st := h.ready.Ready(ctx)
    code := http.StatusOK
    if !st.OK {
        code = http.StatusServiceUnavailable
    }
    writeJSON(w, code, st)
}

func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
    sessions := h.store.ListSessions()
    if status := r.URL.Query().Get("status"); status != "" {
        filtered := sessions[:0]
        for _, s := range sessions {
            if s.Status == status {
                filtered = append(filtered, s)
            }
        }
        sessions = filtered
    }
    writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request, id string) {
    sess := h.store.GetSession(id)
    if sess == nil {
        http.NotFound(w, r)
        return
    }
    writeJSON(w, http.StatusOK, sess)
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request, id string) {
    sess := h.store.GetSession(id)
    if sess == nil {
        http.NotFound(w, r)
        return
    }
    events := h.store.ListEvents(id)
    writeJSON(w, http.StatusOK, map[string]any{
        "session_id": id,
        "events":     events,
    })
}

func (h *Handlers) HandleListMessages(w http.ResponseWriter, r *http.Request, id string) {
    if h.store.GetSession(id) == nil {
        http.NotFound(w, r)
        return
    }
    if h.messages == nil {
        http.Error(w, "message store not configured", http.StatusServiceUnavailable)
        return
    }
    limit := 20
    if v := r.URL.Query().Get("limit"); v != "" {
        n, err := strconv.Atoi(v)
        if err != nil || n < 1 || n > 200 {
            http.Error(w, "limit must be between 1 and 200", http.StatusBadRequest)
            return
        }
        limit = n
    }
    msgs, err := h.messages.RecentMessages(r.Context(), persist.MessageFilter{SessionID: id}, limit)
    if err != nil {
        h.log.Errorw("list messages failed", "session.id", id, "error", err)
        http.Error(w, "failed to list messages", http.StatusInternalServerError)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{
        "session_id": id,
        "messages":   msgs,
    })
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}
