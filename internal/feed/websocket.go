package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"orderbook_go/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultReadTimeout      = 60 * time.Second
	writeTimeout            = 10 * time.Second
)

// WebSocketConfig configures the live feed transport.
type WebSocketConfig struct {
	URL              string
	UserAgent        string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	Signer           *Signer
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	return c
}

// WebSocket is a Transport over a gorilla/websocket client connection.
type WebSocket struct {
	cfg     WebSocketConfig
	conn    *websocket.Conn
	events  chan Event
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// DialWebSocket performs the handshake and starts the read and ping loops.
// A failed handshake returns a retriable NetworkError.
func DialWebSocket(ctx context.Context, cfg WebSocketConfig) (*WebSocket, error) {
	cfg = cfg.withDefaults()

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, domain.NewFatalNetworkError("parse feed url", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	header := make(http.Header)
	if cfg.UserAgent != "" {
		header.Set("User-Agent", cfg.UserAgent)
	}
	if cfg.Signer != nil {
		for k, v := range cfg.Signer.Headers(http.MethodGet, u.RequestURI()) {
			header[k] = v
		}
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, domain.NewNetworkError("dial feed", err)
	}

	w := &WebSocket{
		cfg:    cfg,
		conn:   conn,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})

	w.events <- Event{Type: EventOpened}

	go w.readLoop()
	go w.pingLoop()

	slog.Info("Feed WebSocket connected", slog.String("url", cfg.URL))
	return w, nil
}

// Events returns the event stream.
func (w *WebSocket) Events() <-chan Event {
	return w.events
}

// Send writes one text frame.
func (w *WebSocket) Send(data []byte) error {
	select {
	case <-w.done:
		return domain.ErrTransportClosed
	default:
	}
	return w.threadSafeWrite(websocket.TextMessage, data)
}

// Close sends a close frame and tears down the connection.
func (w *WebSocket) Close() error {
	w.once.Do(func() {
		close(w.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		w.writeMu.Lock()
		w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		w.writeMu.Unlock()
		w.conn.Close()
	})
	return nil
}

// threadSafeWrite sends a message to the WebSocket connection in a thread-safe manner
func (w *WebSocket) threadSafeWrite(messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteMessage(messageType, data)
}

func (w *WebSocket) readLoop() {
	defer close(w.events)

	for {
		_, message, err := w.conn.ReadMessage()
		if err != nil {
			w.finish(err)
			return
		}
		select {
		case w.events <- Event{Type: EventMessage, Data: message}:
		case <-w.done:
			w.finish(nil)
			return
		}
	}
}

// finish emits the terminal events for a read failure.
func (w *WebSocket) finish(err error) {
	code, reason := CloseNormal, "closed"

	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce):
		code, reason = ce.Code, ce.Text
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			w.emitFinal(Event{Type: EventErrored, Err: domain.NewNetworkError("read feed", err)})
		}
	case err != nil && !w.closed():
		code, reason = CloseAbnormal, err.Error()
		slog.Warn("Feed WebSocket read error", slog.Any("error", err))
		w.emitFinal(Event{Type: EventErrored, Err: domain.NewNetworkError("read feed", err)})
	}

	w.emitFinal(Event{Type: EventClosed, Code: code, Reason: reason})
	w.once.Do(func() {
		close(w.done)
		w.conn.Close()
	})
}

// emitFinal does not block on a consumer that has gone away.
func (w *WebSocket) emitFinal(ev Event) {
	select {
	case w.events <- ev:
	default:
		slog.Debug("Feed event dropped", slog.String("event", ev.String()))
	}
}

func (w *WebSocket) closed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *WebSocket) pingLoop() {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			w.writeMu.Unlock()
			if err != nil {
				slog.Debug("Feed ping failed", slog.Any("error", fmt.Errorf("ping: %w", err)))
			}
		}
	}
}
