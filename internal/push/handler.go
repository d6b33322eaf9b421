// Package push turns server-pushed payloads into user-visible
// notifications and tracks them until the user acts on one.
package push

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"offline-sync-service/internal/logger"
)

type State string

const (
	StateReceived State = "received"
	StateResolved State = "resolved"
)

const (
	ActionView    = "view"
	ActionDismiss = "dismiss"
)

type Action struct {
	ID    string `json:"action"`
	Label string `json:"title"`
}

// NotificationIntent is a fire-and-forget UI artifact; no retry semantics
// apply to it.
type NotificationIntent struct {
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Icon       string    `json:"icon,omitempty"`
	Tag        string    `json:"tag"`
	Actions    []Action  `json:"actions,omitempty"`
	State      State     `json:"state"`
	ReceivedAt time.Time `json:"received_at"`
}

// payload mirrors the server push format; every field is optional and
// unknown fields are ignored.
type payload struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Icon    string   `json:"icon"`
	Tag     string   `json:"tag"`
	Actions []Action `json:"actions"`
}

const (
	defaultTitle = "Field Sync"
	defaultBody  = "You have a new notification"
	defaultTag   = "general"
)

// ParsePayload builds an intent from a raw push message. A malformed
// payload yields a generic default intent; a push is never dropped
// silently.
func ParsePayload(raw []byte) *NotificationIntent {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		logger.Log.Warn("Malformed push payload, using default notification", zap.Error(err))
		p = payload{}
	}

	if p.Title == "" {
		p.Title = defaultTitle
	}
	if p.Body == "" {
		p.Body = defaultBody
	}
	if p.Tag == "" {
		p.Tag = defaultTag
	}

	return &NotificationIntent{
		Title:      p.Title,
		Body:       p.Body,
		Icon:       p.Icon,
		Tag:        p.Tag,
		Actions:    p.Actions,
		State:      StateReceived,
		ReceivedAt: time.Now().UTC(),
	}
}

// Notifier renders an intent to the user. The daemon logs them; an
// embedding application supplies its own.
type Notifier interface {
	Show(intent *NotificationIntent) error
}

// LogNotifier is the default renderer.
type LogNotifier struct{}

func (LogNotifier) Show(intent *NotificationIntent) error {
	logger.Log.Info("Notification",
		zap.String("title", intent.Title),
		zap.String("body", intent.Body),
		zap.String("tag", intent.Tag))
	return nil
}

// Handler runs the Received -> Resolved state machine, keyed by tag so a
// repeated tag replaces the earlier notification.
type Handler struct {
	mu       sync.Mutex
	notifier Notifier
	intents  map[string]*NotificationIntent
	onView   func(tag string)
}

func NewHandler(notifier Notifier, onView func(tag string)) *Handler {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Handler{
		notifier: notifier,
		intents:  make(map[string]*NotificationIntent),
		onView:   onView,
	}
}

// HandlePush parses an inbound push and renders it.
func (h *Handler) HandlePush(raw []byte) *NotificationIntent {
	intent := ParsePayload(raw)

	h.mu.Lock()
	h.intents[intent.Tag] = intent
	h.mu.Unlock()

	if err := h.notifier.Show(intent); err != nil {
		logger.Log.Warn("Failed to render notification",
			zap.String("tag", intent.Tag), zap.Error(err))
	}
	return intent
}

// Resolve records the user's interaction. "view" and any unrecognized
// action (a tap on the body) open the app; "dismiss" just closes.
func (h *Handler) Resolve(tag, action string) {
	h.mu.Lock()
	intent, ok := h.intents[tag]
	if ok {
		intent.State = StateResolved
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	if action != ActionDismiss && h.onView != nil {
		h.onView(tag)
	}
}

// Pending returns the intents not yet acted on.
func (h *Handler) Pending() []*NotificationIntent {
	h.mu.Lock()
	defer h.mu.Unlock()

	var pending []*NotificationIntent
	for _, intent := range h.intents {
		if intent.State == StateReceived {
			pending = append(pending, intent)
		}
	}
	return pending
}
