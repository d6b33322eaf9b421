// Package router classifies requests by URL and serves them through one of
// five caching strategies, so the application keeps getting well-formed
// responses whether or not the network is reachable.
package router

import (
	"context"
	"fmt"
	"net/url"
	"regexp"

	"go.uber.org/zap"

	"offline-sync-service/internal/events"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/store"
)

type Class string

const (
	ClassStatic     Class = "static"
	ClassAPI        Class = "api"
	ClassWeather    Class = "weather"
	ClassImage      Class = "image"
	ClassNavigation Class = "navigation"
)

// classPatterns is evaluated in order; the first match wins. Anything that
// matches nothing is treated as an HTML navigation.
var classPatterns = []struct {
	pattern *regexp.Regexp
	class   Class
}{
	{regexp.MustCompile(`\.(?:css|js|woff2?|json)$|/manifest\b|/app-shell\b`), ClassStatic},
	{regexp.MustCompile(`/api/`), ClassAPI},
	{regexp.MustCompile(`/(?:weather|forecast)\b`), ClassWeather},
	{regexp.MustCompile(`\.(?:png|jpe?g|gif|webp|svg|ico)$`), ClassImage},
}

func Classify(rawURL string) Class {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	for _, cp := range classPatterns {
		if cp.pattern.MatchString(path) {
			return cp.class
		}
	}
	return ClassNavigation
}

// Router dispatches each request to the strategy for its class.
type Router struct {
	cache   store.CacheStore
	fetcher Fetcher
	bus     *events.Bus
	version string
}

func New(cache store.CacheStore, fetcher Fetcher, bus *events.Bus, version string) *Router {
	return &Router{
		cache:   cache,
		fetcher: fetcher,
		bus:     bus,
		version: version,
	}
}

// Handle serves a read. Failures never propagate: the result is always a
// well-formed response (cached, placeholder, or a structured offline body).
func (r *Router) Handle(ctx context.Context, req *Request) *Response {
	class := Classify(req.URL)

	switch class {
	case ClassStatic:
		return r.cacheFirst(ctx, req, class)
	case ClassAPI:
		return r.networkFirst(ctx, req, class)
	case ClassWeather:
		return r.staleWhileRevalidate(ctx, req, class)
	case ClassImage:
		return r.cacheFirstWithPlaceholder(ctx, req, class)
	default:
		return r.navigationFallback(ctx, req, class)
	}
}

// Partition returns the versioned cache partition for a class,
// e.g. "static-v3".
func (r *Router) Partition(class Class) string {
	return fmt.Sprintf("%s-%s", class, r.version)
}

// EvictStale deletes every cache partition not tagged with the current
// version. The operation queue is version-independent and untouched.
func (r *Router) EvictStale(ctx context.Context) error {
	keep := []string{
		r.Partition(ClassStatic),
		r.Partition(ClassAPI),
		r.Partition(ClassWeather),
		r.Partition(ClassImage),
		r.Partition(ClassNavigation),
	}
	if err := r.cache.DeleteAllExcept(ctx, keep); err != nil {
		return fmt.Errorf("failed to evict stale partitions: %w", err)
	}
	logger.Log.Info("Evicted stale cache partitions", zap.String("version", r.version))
	return nil
}

// Precache fetches a set of URLs and stores them in their partitions,
// used to seed the app shell and the offline page at install time.
func (r *Router) Precache(ctx context.Context, urls []string) {
	for _, u := range urls {
		req := &Request{Method: "GET", URL: u}
		resp, err := r.fetcher.Do(ctx, req)
		if err != nil || resp.Status >= 400 {
			logger.Log.Warn("Precache fetch failed", zap.String("url", u), zap.Error(err))
			continue
		}
		r.storeResponse(ctx, req, resp, Classify(u))
	}
}

func cacheKey(req *Request) string {
	return req.Method + " " + req.URL
}

func (r *Router) storeResponse(ctx context.Context, req *Request, resp *Response, class Class) {
	entry := &store.CachedEntry{
		Partition: r.Partition(class),
		Key:       cacheKey(req),
		Status:    resp.Status,
		Header:    resp.Header,
		Body:      resp.Body,
	}
	if err := r.cache.Put(ctx, entry); err != nil {
		logger.Log.Warn("Failed to store cache entry",
			zap.String("key", entry.Key), zap.Error(err))
	}
}

func (r *Router) lookup(ctx context.Context, req *Request, class Class) *store.CachedEntry {
	entry, err := r.cache.Get(ctx, r.Partition(class), cacheKey(req))
	if err != nil {
		return nil
	}
	return entry
}

func entryResponse(entry *store.CachedEntry) *Response {
	return &Response{
		Status: entry.Status,
		Header: entry.Header.Clone(),
		Body:   entry.Body,
	}
}
