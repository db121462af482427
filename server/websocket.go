package server

import (
	"bytes"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jamyx/limits"
	"github.com/opd-ai/jamyx/metrics"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

var errStreamClosed = errors.New("stream closed")

// wsConn serializes writes to one WebSocket connection.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// wsStream is the stream of one request on a shared WebSocket connection.
// Closing it ends the request, not the connection.
type wsStream struct {
	c      *wsConn
	peer   string
	mu     sync.Mutex
	closed bool
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, errStreamClosed
	}
	if err := s.c.write(websocket.TextMessage, bytes.TrimRight(p, "\n")); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *wsStream) RemoteAddr() string { return s.peer }

// WebSocketHandler speaks the command protocol over WebSocket, one request
// per text message.
type WebSocketHandler struct {
	upgrader   websocket.Upgrader
	dispatcher Dispatchable
	metrics    *metrics.Metrics
}

// NewWebSocketHandler creates the bridge. m may be nil.
func NewWebSocketHandler(d Dispatchable, m *metrics.Metrics) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // control clients run on the same host
			},
		},
		dispatcher: d,
		metrics:    m,
	}
}

// ServeHTTP upgrades the request and serves commands until the peer leaves.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "WebSocketHandler.ServeHTTP",
			"peer":     r.RemoteAddr,
			"error":    err.Error(),
		}).Warn("Failed to upgrade connection")
		return
	}
	h.metrics.RecordConnection("websocket")

	c := &wsConn{conn: conn}
	peer := conn.RemoteAddr().String()
	logrus.WithFields(logrus.Fields{
		"function": "WebSocketHandler.ServeHTTP",
		"peer":     peer,
	}).Info("WebSocket client connected")

	done := make(chan struct{})
	defer func() {
		close(done)
		conn.Close()
		logrus.WithFields(logrus.Fields{
			"function": "WebSocketHandler.ServeHTTP",
			"peer":     peer,
		}).Info("WebSocket client disconnected")
	}()

	conn.SetReadLimit(limits.MaxCommandFrame)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go h.ping(c, done)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithFields(logrus.Fields{
					"function": "WebSocketHandler.ServeHTTP",
					"peer":     peer,
					"error":    err.Error(),
				}).Warn("WebSocket read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if messageType != websocket.TextMessage {
			continue
		}

		stream := &wsStream{c: c, peer: peer}
		cmd, err := ParseCommand(message)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "WebSocketHandler.ServeHTTP",
				"peer":     peer,
				"error":    err.Error(),
			}).Warn("Rejected malformed command")
			h.metrics.RecordCommand("unknown", "invalid", RetBadCommand)
			_ = WriteResponse(stream, Errorf(RetBadCommand, "%s", err.Error()))
			_ = c.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "bad command"))
			return
		}
		h.dispatcher.Dispatch(stream, cmd)
	}
}

func (h *WebSocketHandler) ping(c *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(DefaultWriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// NewHTTPHandler serves the WebSocket bridge at /ws and the collectors of
// gatherer at /metrics.
func NewHTTPHandler(d Dispatchable, gatherer prometheus.Gatherer, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", NewWebSocketHandler(d, m))
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}
