package push

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"offline-sync-service/internal/engine/backoff"
	"offline-sync-service/internal/logger"
)

// Listener maintains a WebSocket connection to the push endpoint and feeds
// every inbound message to the handler. Disconnects reconnect with
// backoff; the listener never gives up until its context is cancelled.
type Listener struct {
	url     string
	handler *Handler
	policy  backoff.Policy
}

func NewListener(url string, handler *Handler, policy backoff.Policy) *Listener {
	if policy == nil {
		policy = backoff.Exponential{Base: time.Second, Max: time.Minute, Jitter: 0.5}
	}
	return &Listener{
		url:     url,
		handler: handler,
		policy:  policy,
	}
}

func (l *Listener) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
		if err != nil {
			delay := l.policy.Delay(attempt)
			attempt++
			logger.Log.Warn("Push connection failed, retrying",
				zap.String("url", l.url),
				zap.Duration("delay", delay),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		logger.Log.Info("Push channel connected", zap.String("url", l.url))
		attempt = 0

		l.readLoop(ctx, conn)
		conn.Close()
	}
}

func (l *Listener) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Log.Warn("Push channel closed", zap.Error(err))
			}
			return
		}
		l.handler.HandlePush(message)
	}
}
