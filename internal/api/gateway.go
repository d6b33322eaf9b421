package api

import (
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/router"
)

// Gateway serves every non-control-plane request. Reads go through the
// caching strategies; writes to API paths are forwarded to the remote and,
// when the network is unreachable, captured into the operation queue for
// later replay.
func (h *Handler) Gateway(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req := &router.Request{
		Method: r.Method,
		URL:    h.baseURL + r.URL.RequestURI(),
		Header: r.Header.Clone(),
		Body:   body,
	}

	if isWrite(r.Method) && router.Classify(req.URL) == router.ClassAPI {
		h.gatewayWrite(w, r, req)
		return
	}

	resp := h.gateway.Handle(r.Context(), req)
	writeResponse(w, resp)
}

func (h *Handler) gatewayWrite(w http.ResponseWriter, r *http.Request, req *router.Request) {
	resp, err := h.fetcher.Do(r.Context(), req)
	if err == nil {
		// The remote answered; pass its verdict through, including
		// validation rejections.
		writeResponse(w, resp)
		return
	}

	table := tableFromPath(r.URL.Path)
	id, qerr := h.queue.Enqueue(r.Context(), table, req.Body)
	if qerr != nil {
		logger.Log.Error("Failed to queue offline mutation",
			zap.String("table", table), zap.Error(qerr))
		http.Error(w, "failed to queue operation", http.StatusInternalServerError)
		return
	}

	logger.Log.Info("Captured offline mutation",
		zap.String("table", table), zap.String("id", id))

	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued": true,
		"id":     id,
		"table":  table,
	})
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// tableFromPath extracts the logical resource type from an API path,
// e.g. /api/v1/fields/42 -> "fields".
func tableFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if p == "api" {
			rest := parts[i+1:]
			// Skip a version segment like v1.
			if len(rest) > 0 && len(rest[0]) <= 3 && strings.HasPrefix(rest[0], "v") {
				rest = rest[1:]
			}
			if len(rest) > 0 {
				return rest[0]
			}
		}
	}
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "unknown"
}

func writeResponse(w http.ResponseWriter, resp *router.Response) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}
