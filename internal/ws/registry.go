package ws

import (
    "context"
    "sync"

    "nhooyr.io/websocket"

    "github.com/carllippert/nuance-server/internal/session"
)

type entry struct {
    sess *session.Session
    conn *websocket.Conn
}

// Registry tracks live voice sessions so they can be closed on shutdown.
type Registry struct {
    mu    sync.Mutex
    conns map[string]entry
}

func NewRegistry() *Registry { return &Registry{conns: make(map[string]entry)} }

func (r *Registry) Add(id string, sess *session.Session, c *websocket.Conn) {
    r.mu.Lock()
    defer r.mu.Unlock()
    r.conns[id] = entry{sess: sess, conn: c}
}

func (r *Registry) Get(id string) *session.Session {
    r.mu.Lock(); defer r.mu.Unlock()
    return r.conns[id].sess
}

func (r *Registry) Remove(id string) {
    r.mu.Lock(); defer r.mu.Unlock()
    delete(r.conns, id)
}

func (r *Registry) Len() int {
    r.mu.Lock(); defer r.mu.Unlock()
    return len(r.conns)
}

// Shutdown closes every live connection with StatusGoingAway and waits for
// their sessions to drain, or for ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
    r.mu.Lock()
    live := make([]entry, 0, len(r.conns))
    for _, e := range r.conns {
        live = append(live, e)
    }
    r.mu.Unlock()

    for _, e := range live {
        e.sess.Close("shutdown")
        if e.conn != nil {
            go e.conn.Close(websocket.StatusGoingAway, "server shutting down")
        }
    }

    done := make(chan struct{})
    go func() {
        for _, e := range live {
            e.sess.Wait()
        }
        close(done)
    }()
    select {
    case <-done:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}
