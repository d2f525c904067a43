package server

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/hub"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/storage"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	// The API is key-gated, not origin-gated.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSink bridges a websocket connection into the hub. Writes are serialized
// and deadline-bounded so one stalled client cannot hold a broadcast.
type wsSink struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

func newWSSink(conn *websocket.Conn) *wsSink {
	return &wsSink{conn: conn}
}

func (s *wsSink) Send(msg hub.Message) error {
	if s.closed.Load() {
		return errors.New("sink closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(msg)
}

func (s *wsSink) Close(reason string) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	return s.conn.Close()
}

func (s *wsSink) Open() bool {
	return !s.closed.Load()
}

// Subscribe upgrades to a websocket and streams the order's transitions.
// With ?history=1 the update log is replayed (oldest first) before live
// delivery starts.
func (h *Handlers) Subscribe(c echo.Context) error {
	id := c.Param("id")

	order, err := h.Engine.Find(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return h.err(c, http.StatusNotFound, "order not found", nil)
		}
		return h.err(c, http.StatusInternalServerError, "failed to get order", nil)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the handshake failure.
		return nil
	}

	sink := newWSSink(conn)
	handle := h.Hub.Register(id, sink)

	if c.QueryParam("history") == "1" {
		events, err := h.Engine.History(c.Request().Context(), id, 0)
		if err == nil {
			for i := len(events) - 1; i >= 0; i-- {
				ev := events[i]
				_ = sink.Send(hub.Message{
					Type:    hub.TypeStatusUpdate,
					OrderID: ev.OrderID,
					Status:  string(ev.Status),
					Message: ev.Message,
					At:      ev.At,
					Data:    ev.Data,
				})
			}
		}
	}

	// An already-settled order gets its closing message straight away
	// instead of a stream that never ends.
	if order.Terminal() {
		h.Hub.Unregister(handle)
		_ = sink.Send(hub.Message{
			Type:    hub.TypeClosing,
			OrderID: id,
			Reason:  "order " + string(order.Status),
			At:      time.Now().UTC(),
		})
		_ = sink.Close("order " + string(order.Status))
		return nil
	}

	go h.keepalive(sink)
	h.readLoop(conn, sink, handle)
	return nil
}

// keepalive pushes pings until the sink closes.
func (h *Handlers) keepalive(sink *wsSink) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if !sink.Open() {
			return
		}
		if err := sink.Send(hub.Message{Type: hub.TypePing, At: time.Now().UTC()}); err != nil {
			return
		}
	}
}

// readLoop consumes client frames until disconnect, answering pings. A
// client dropping only unregisters its sink; processing is untouched.
func (h *Handlers) readLoop(conn *websocket.Conn, sink *wsSink, handle *hub.Handle) {
	defer func() {
		h.Hub.Unregister(handle)
		_ = sink.Close("client disconnected")
	}()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		var msg hub.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		if msg.Type == hub.TypePing {
			_ = sink.Send(hub.Message{Type: hub.TypePong, At: time.Now().UTC()})
		}
	}
}
