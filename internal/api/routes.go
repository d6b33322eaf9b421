package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"offline-sync-service/internal/engine"
	"offline-sync-service/internal/router"
	"offline-sync-service/internal/store"
)

type Handler struct {
	engine  *engine.Engine
	queue   store.OperationQueue
	gateway *router.Router
	fetcher router.Fetcher
	baseURL string
}

func NewHandler(eng *engine.Engine, queue store.OperationQueue, gateway *router.Router, fetcher router.Fetcher, baseURL string) *Handler {
	return &Handler{
		engine:  eng,
		queue:   queue,
		gateway: gateway,
		fetcher: fetcher,
		baseURL: baseURL,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sync/trigger", h.TriggerSync)
		r.Get("/sync/status", h.GetSyncStatus)

		r.Get("/queue/pending", h.ListPending)
		r.Get("/queue/failed", h.ListFailed)
		r.Post("/queue/{id}/retry", h.RetryOperation)
		r.Delete("/queue/{id}", h.DiscardOperation)

		// Unmatched API paths belong to the remote and go through the
		// gateway like everything else.
		r.NotFound(h.Gateway)
	})

	// Everything else goes through the caching gateway.
	r.NotFound(h.Gateway)

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	h.engine.TriggerSync()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.Counts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": h.engine.Status(),
		"online": h.engine.IsOnline(),
		"queue":  counts,
	})
}

func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	ops, err := h.queue.DequeuePending(r.Context(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

func (h *Handler) ListFailed(w http.ResponseWriter, r *http.Request) {
	ops, err := h.queue.ListFailed(r.Context(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

func (h *Handler) RetryOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.queue.Retry(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.engine.TriggerSync()
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued", "id": id})
}

func (h *Handler) DiscardOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.queue.Discard(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "discarded", "id": id})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}
