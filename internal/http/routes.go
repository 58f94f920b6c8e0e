package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/joblens/listing-sync/internal/core"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Sync *core.SyncService
	// NextFire is optional; set when the scheduler runs in this process.
	NextFire func() time.Time
	Logger   *slog.Logger
}

// NewRouter creates and configures a new HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	syncHandlers := &SyncHandlers{Svc: services.Sync, NextFire: services.NextFire}

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /api/sync/status", http.HandlerFunc(syncHandlers.Status))
	mux.Handle("POST /api/sync/trigger", http.HandlerFunc(syncHandlers.Trigger))
	mux.Handle("GET /api/sync/runs", http.HandlerFunc(syncHandlers.ListRuns))

	return mux
}
