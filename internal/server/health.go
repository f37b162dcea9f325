package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const pingTimeout = 2 * time.Second

// Pinger reports whether the reminder store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JobCounter reports how many timer jobs are armed.
type JobCounter interface {
	Jobs() int
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Jobs   int    `json:"jobs"`
}

// HandleHealthCheck reports store reachability and the armed job count. When
// token is set, requests must carry it as a bearer token.
func HandleHealthCheck(store Pinger, jobs JobCounter, token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token != "" {
			headerToken := r.Header.Get("Authorization")
			if headerToken != "Bearer "+token {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Store: "up", Jobs: jobs.Jobs()}
		status := http.StatusOK
		if err := store.Ping(ctx); err != nil {
			resp.Status, resp.Store = "error", "down"
			status = http.StatusInternalServerError
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		}
	}
}

// NewMux routes /health to the health handler.
func NewMux(store Pinger, jobs JobCounter, token string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HandleHealthCheck(store, jobs, token))
	return mux
}
