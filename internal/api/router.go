package api

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the HTTP surface. voice handles the websocket upgrade on
// /ws and may be nil in tests.
func NewRouter(h *Handlers, voice http.Handler) http.Handler {
    mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", h.HandleReady)
	mux.Handle("/metrics", promhttp.Handler())
	if voice != nil {
		mux.Handle("/ws", voice)
	}

	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h.HandleListSessions(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})

    mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		// /sessions/{id} | /events | /messages
		path := strings.TrimSuffix(r.URL.Path, "/")
		const prefix = "/sessions/"
		if !strings.HasPrefix(path, prefix) {
			http.NotFound(w, r)
			return
		}
		rest := strings.TrimPrefix(path, prefix)
		parts := strings.Split(rest, "/")
		if len(parts) == 0 || parts[0] == "" {
			http.NotFound(w, r)
			return
		}
		id := parts[0]
		tail := ""
		if len(parts) > 1 {
			tail = parts[1]
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

        switch tail {
        case "":
            h.HandleGetSession(w, r, id)
        case "events":
            h.HandleListEvents(w, r, id)
        case "messages":
            h.HandleListMessages(w, r, id)
        default:
            http.NotFound(w, r)
        }
    })

    return mux
}
