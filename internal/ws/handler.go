package ws

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "strconv"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"
    "nhooyr.io/websocket"

    "github.com/carllippert/nuance-server/internal/logging"
    "github.com/carllippert/nuance-server/internal/session"
    "github.com/carllippert/nuance-server/internal/store"
    "github.com/carllippert/nuance-server/internal/types"
)

// SessionFactory builds the session for a freshly accepted connection.
type SessionFactory func(id string, identity types.Identity, conn session.Conn) (*session.Session, error)

type Server struct {
    Store      *store.Store
    Reg        *Registry
    NewSession SessionFactory
    ReadLimit  int64
    Log        *zap.SugaredLogger
}

func NewServer(st *store.Store, reg *Registry, factory SessionFactory, readLimit int64, log *zap.SugaredLogger) *Server {
    return &Server{Store: st, Reg: reg, NewSession: factory, ReadLimit: readLimit, Log: logging.OrNop(log)}
}

// conn adapts a websocket connection to session.Conn.
type conn struct{ c *websocket.Conn }

func (a conn) WriteText(ctx context.Context, b []byte) error {
    return a.c.Write(ctx, websocket.MessageText, b)
}

func (a conn) WriteBinary(ctx context.Context, b []byte) error {
    return a.c.Write(ctx, websocket.MessageBinary, b)
}

func (a conn) Close(code int, reason string) error {
    return a.c.Close(websocket.StatusCode(code), reason)
}

// ParseIdentity reads the client identity from the query string. The
// timezone offset is optional but must be an integer when present.
func ParseIdentity(r *http.Request) (types.Identity, error) {
    q := r.URL.Query()
    id := types.Identity{UserID: q.Get("user_id"), TimezoneName: q.Get("timezone")}
    if v := q.Get("seconds_from_gmt"); v != "" {
        n, err := strconv.Atoi(v)
        if err != nil {
            return id, fmt.Errorf("invalid seconds_from_gmt %q", v)
        }
        id.TimezoneOffset = n
    }
    return id, nil
}

func (s *Server) HandleVoiceWS(w http.ResponseWriter, r *http.Request) {
    identity, err := ParseIdentity(r)
    if err != nil {
        http.Error(w, err.Error(), http.StatusBadRequest)
        return
    }

    c, err := websocket.Accept(w, r, nil)
    if err != nil {
        s.Log.Warnw("ws accept failed", "error", err)
        return
    }
    if s.ReadLimit > 0 {
        c.SetReadLimit(s.ReadLimit)
    }

    id := uuid.NewString()
    log := s.Log.With(logging.SessionFields(id, identity.UserID)...)
    sess, err := s.NewSession(id, identity, conn{c: c})
    if err != nil {
        log.Errorw("session setup failed", "error", err)
        _ = c.Close(websocket.StatusInternalError, "session setup failed")
        return
    }
    if err := s.Store.CreateSession(&types.Session{
        ID:         id,
        Identity:   identity,
        RemoteAddr: r.RemoteAddr,
        CreatedAt:  time.Now().UTC(),
    }); err != nil {
        log.Errorw("register session failed", "error", err)
        _ = c.Close(websocket.StatusInternalError, "session setup failed")
        return
    }
    s.Reg.Add(id, sess, c)
    sess.Start()
    log.Infow("voice session opened", "remote", r.RemoteAddr)

    reason := readLoop(r.Context(), c, sess)
    sess.Close(reason)
    _ = c.Close(websocket.StatusNormalClosure, "done")
    s.Reg.Remove(id)
    if err := s.Store.MarkClosed(id, sess.CloseReason()); err != nil {
        log.Warnw("mark session closed failed", "error", err)
    }
}

// readLoop feeds binary frames to the session until the connection or the
// session ends, and returns why it stopped.
func readLoop(ctx context.Context, c *websocket.Conn, sess *session.Session) string {
    for {
        typ, data, err := c.Read(ctx)
        if err != nil {
            return closeReason(err)
        }
        if typ != websocket.MessageBinary {
            continue
        }
        if err := sess.HandleBinary(ctx, data); err != nil {
            if errors.Is(err, session.ErrSessionClosed) {
                return sess.CloseReason()
            }
            return "read_error"
        }
    }
}

func closeReason(err error) string {
    if code := websocket.CloseStatus(err); code != -1 {
        return fmt.Sprintf("client_closed_%d", int(code))
    }
    if errors.Is(err, context.Canceled) {
        return "request_canceled"
    }
    return "read_error"
}
