package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/seantiz/xxfunc/internal/model"
)

const defaultInitialInterval = 500 * time.Millisecond

// WebSocketSource reads JSON notifications from a websocket endpoint and
// reconnects with exponential backoff whenever the connection drops.
type WebSocketSource struct {
	url             string
	dialer          *websocket.Dialer
	logger          *slog.Logger
	initialInterval time.Duration
	maxInterval     time.Duration
}

// Option configures a WebSocketSource.
type Option func(*WebSocketSource)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *WebSocketSource) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithReconnectInterval bounds the reconnect backoff.
func WithReconnectInterval(initial, maxInterval time.Duration) Option {
	return func(s *WebSocketSource) {
		s.initialInterval = initial
		s.maxInterval = maxInterval
	}
}

// NewWebSocketSource validates rawURL, which must use the ws or wss scheme.
func NewWebSocketSource(rawURL string, opts ...Option) (*WebSocketSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed url %q: scheme must be ws or wss", rawURL)
	}

	s := &WebSocketSource{
		url:             rawURL,
		dialer:          websocket.DefaultDialer,
		logger:          slog.New(slog.DiscardHandler),
		initialInterval: defaultInitialInterval,
		maxInterval:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run implements Source.
func (s *WebSocketSource) Run(ctx context.Context, h Handler) error {
	for {
		conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
			conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
			return conn, err
		},
			backoff.WithBackOff(s.newBackOff()),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				feedReconnects.Inc()
				s.logger.Warn("feed dial failed", "url", s.url, "error", err, "retry_in", next)
			}),
		)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("dial feed: %w", err)
		}

		s.logger.Info("feed connected", "url", s.url)
		err = s.consume(ctx, conn, h)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("feed disconnected", "url", s.url, "error", err)
	}
}

func (s *WebSocketSource) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialInterval
	b.MaxInterval = s.maxInterval
	return b
}

// consume reads messages until the connection fails or ctx ends.
func (s *WebSocketSource) consume(ctx context.Context, conn *websocket.Conn, h Handler) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var n model.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			feedMessages.WithLabelValues("malformed").Inc()
			s.logger.Warn("discarding malformed notification", "error", err)
			continue
		}
		if err := n.Validate(); err != nil {
			feedMessages.WithLabelValues("invalid").Inc()
			s.logger.Warn("discarding invalid notification", "error", err)
			continue
		}
		n.Normalize(time.Now())
		feedMessages.WithLabelValues("accepted").Inc()

		if err := h(ctx, &n); err != nil {
			s.logger.Error("notification handler failed", "notification_id", n.ID, "error", err)
		}
	}
}
