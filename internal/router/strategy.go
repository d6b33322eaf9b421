package router

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"offline-sync-service/internal/events"
	"offline-sync-service/internal/logger"
)

// swrRefreshTimeout bounds the background revalidation fetch, which runs
// detached from the caller's context.
const swrRefreshTimeout = 30 * time.Second

const offlinePageKey = "GET /offline.html"

const offlinePageHTML = `<!DOCTYPE html>
<html><head><title>Offline</title></head>
<body><h1>You are offline</h1>
<p>This page is unavailable without a connection. Captured changes will sync automatically when connectivity returns.</p>
</body></html>`

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="200" height="150" viewBox="0 0 200 150">
<rect width="200" height="150" fill="#e0e0e0"/>
<text x="100" y="80" text-anchor="middle" fill="#888" font-size="14">image unavailable</text>
</svg>`

// cacheFirst serves static assets: cached copy wins, the network is only
// consulted on a miss.
func (r *Router) cacheFirst(ctx context.Context, req *Request, class Class) *Response {
	if entry := r.lookup(ctx, req, class); entry != nil {
		return entryResponse(entry)
	}

	resp, err := r.fetcher.Do(ctx, req)
	if err != nil {
		return offlineResponse("resource_unavailable")
	}
	if resp.Status < 400 {
		r.storeResponse(ctx, req, resp, class)
	}
	return resp
}

// networkFirst serves API reads: freshness beats speed, the cache is the
// fallback. With neither, the caller gets a structured offline body it can
// branch on instead of an error.
func (r *Router) networkFirst(ctx context.Context, req *Request, class Class) *Response {
	resp, err := r.fetcher.Do(ctx, req)
	if err == nil {
		if resp.Status < 400 {
			r.storeResponse(ctx, req, resp, class)
			r.bus.Emit(events.FreshData, map[string]any{"url": req.URL})
		}
		return resp
	}

	if entry := r.lookup(ctx, req, class); entry != nil {
		logger.Log.Debug("Network unreachable, serving cached API response",
			zap.String("url", req.URL))
		return entryResponse(entry)
	}
	return offlineResponse("Offline")
}

// staleWhileRevalidate serves weather data: a cache hit returns
// immediately while a detached fetch refreshes the entry for next time.
func (r *Router) staleWhileRevalidate(ctx context.Context, req *Request, class Class) *Response {
	entry := r.lookup(ctx, req, class)
	if entry == nil {
		// First request blocks on the network once.
		resp, err := r.fetcher.Do(ctx, req)
		if err != nil {
			return offlineResponse("resource_unavailable")
		}
		if resp.Status < 400 {
			r.storeResponse(ctx, req, resp, class)
		}
		return resp
	}

	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), swrRefreshTimeout)
		defer cancel()

		resp, err := r.fetcher.Do(bgCtx, req)
		if err != nil || resp.Status >= 400 {
			return
		}
		r.storeResponse(bgCtx, req, resp, class)
		r.bus.Emit(events.WeatherUpdated, map[string]any{"url": req.URL})
	}()

	return entryResponse(entry)
}

// cacheFirstWithPlaceholder serves images; a broken image is worse than a
// generated placeholder, so total failure yields an SVG stand-in.
func (r *Router) cacheFirstWithPlaceholder(ctx context.Context, req *Request, class Class) *Response {
	if entry := r.lookup(ctx, req, class); entry != nil {
		return entryResponse(entry)
	}

	resp, err := r.fetcher.Do(ctx, req)
	if err == nil && resp.Status < 400 {
		r.storeResponse(ctx, req, resp, class)
		return resp
	}

	return &Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"image/svg+xml"}},
		Body:   []byte(placeholderSVG),
	}
}

// navigationFallback serves HTML navigations from the network, falling
// back to the precached offline page so the user never sees a bare error
// screen.
func (r *Router) navigationFallback(ctx context.Context, req *Request, class Class) *Response {
	resp, err := r.fetcher.Do(ctx, req)
	if err == nil {
		if resp.Status < 400 {
			r.storeResponse(ctx, req, resp, class)
		}
		return resp
	}

	if entry := r.lookup(ctx, req, class); entry != nil {
		return entryResponse(entry)
	}

	if entry, cerr := r.cache.Get(ctx, r.Partition(ClassStatic), offlinePageKey); cerr == nil {
		return entryResponse(entry)
	}

	return &Response{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:   []byte(offlinePageHTML),
	}
}

func offlineResponse(code string) *Response {
	return &Response{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"error":"` + code + `","cached":false}`),
	}
}
