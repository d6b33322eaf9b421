package push

import (
	"sync"
	"testing"
)

type recordingNotifier struct {
	mu    sync.Mutex
	shown []*NotificationIntent
}

func (n *recordingNotifier) Show(intent *NotificationIntent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, intent)
	return nil
}

func TestParsePayloadFull(t *testing.T) {
	raw := []byte(`{
		"title": "Sync complete",
		"body": "3 observations uploaded",
		"tag": "sync",
		"icon": "/icons/ok.png",
		"actions": [{"action":"view","title":"Open"},{"action":"dismiss","title":"Close"}],
		"unknown_field": 42
	}`)

	intent := ParsePayload(raw)

	if intent.Title != "Sync complete" || intent.Body != "3 observations uploaded" {
		t.Errorf("Fields not parsed: %+v", intent)
	}
	if intent.Tag != "sync" {
		t.Errorf("Expected tag sync, got %s", intent.Tag)
	}
	if len(intent.Actions) != 2 || intent.Actions[0].ID != "view" {
		t.Errorf("Actions not parsed: %v", intent.Actions)
	}
	if intent.State != StateReceived {
		t.Errorf("Expected received state, got %s", intent.State)
	}
}

// Scenario: a malformed push payload renders a default notification
// instead of being dropped.
func TestParsePayloadMalformed(t *testing.T) {
	intent := ParsePayload([]byte("not json"))

	if intent == nil {
		t.Fatal("Malformed payload must not be dropped")
	}
	if intent.Title != defaultTitle {
		t.Errorf("Expected default title, got %q", intent.Title)
	}
	if intent.Body != defaultBody {
		t.Errorf("Expected default body, got %q", intent.Body)
	}
	if intent.Tag != defaultTag {
		t.Errorf("Expected default tag, got %q", intent.Tag)
	}
}

func TestParsePayloadPartial(t *testing.T) {
	intent := ParsePayload([]byte(`{"title":"Frost warning"}`))

	if intent.Title != "Frost warning" {
		t.Errorf("Provided title lost: %q", intent.Title)
	}
	if intent.Body != defaultBody || intent.Tag != defaultTag {
		t.Errorf("Missing fields not defaulted: %+v", intent)
	}
}

func TestHandlerRendersAndResolves(t *testing.T) {
	notifier := &recordingNotifier{}
	var viewed []string
	h := NewHandler(notifier, func(tag string) { viewed = append(viewed, tag) })

	h.HandlePush([]byte(`{"title":"Frost warning","tag":"weather"}`))

	if len(notifier.shown) != 1 {
		t.Fatalf("Expected 1 rendered notification, got %d", len(notifier.shown))
	}
	if len(h.Pending()) != 1 {
		t.Fatalf("Expected 1 pending intent, got %d", len(h.Pending()))
	}

	h.Resolve("weather", ActionView)

	if len(viewed) != 1 || viewed[0] != "weather" {
		t.Errorf("View action should open the app: %v", viewed)
	}
	if len(h.Pending()) != 0 {
		t.Error("Resolved intent still pending")
	}
}

func TestDismissDoesNotOpen(t *testing.T) {
	var viewed int
	h := NewHandler(&recordingNotifier{}, func(string) { viewed++ })

	h.HandlePush([]byte(`{"tag":"sync"}`))
	h.Resolve("sync", ActionDismiss)

	if viewed != 0 {
		t.Error("Dismiss must not open the app")
	}
}

func TestBodyTapBehavesLikeView(t *testing.T) {
	var viewed int
	h := NewHandler(&recordingNotifier{}, func(string) { viewed++ })

	h.HandlePush([]byte(`{"tag":"sync"}`))
	h.Resolve("sync", "")

	if viewed != 1 {
		t.Error("A tap on the body should behave like view")
	}
}

func TestRepeatedTagReplaces(t *testing.T) {
	h := NewHandler(&recordingNotifier{}, nil)

	h.HandlePush([]byte(`{"title":"first","tag":"sync"}`))
	h.HandlePush([]byte(`{"title":"second","tag":"sync"}`))

	pending := h.Pending()
	if len(pending) != 1 {
		t.Fatalf("Tag should dedup, got %d pending", len(pending))
	}
	if pending[0].Title != "second" {
		t.Errorf("Later push should replace earlier one, got %q", pending[0].Title)
	}
}
