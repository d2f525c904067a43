// Package hub fans order transitions out to per-order subscribers.
package hub

import (
	"sync"
	"time"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/models"
	"github.com/sirupsen/logrus"
)

// Message types on the subscribe stream.
const (
	TypeConnected    = "connected"
	TypeStatusUpdate = "status_update"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeClosing      = "closing"
)

// Message is the wire envelope pushed to sinks.
type Message struct {
	Type    string    `json:"type"`
	OrderID string    `json:"order_id,omitempty"`
	Status  string    `json:"status,omitempty"`
	Message string    `json:"message,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
	Data    any       `json:"data,omitempty"`
}

// Sink is one subscriber connection. Send must be bounded (deadline or
// buffer) so a slow consumer cannot stall the hub. Close is idempotent.
type Sink interface {
	Send(msg Message) error
	Close(reason string) error
	Open() bool
}

// Handle identifies a registration for later removal.
type Handle struct {
	orderID string
	sink    Sink
}

// Gauge receives the live sink count. Satisfied by prometheus.Gauge without
// the hub depending on the metrics stack.
type Gauge interface {
	Set(float64)
}

type entry struct {
	mu    sync.Mutex
	sinks map[*Handle]Sink
}

// Hub is the per-order subscription registry. The registry map takes a
// global lock only for entry lookup; delivery serializes per order.
type Hub struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *logrus.Logger

	statsMu         sync.Mutex
	activeSinks     int64
	totalRegistered int64
	totalBroadcast  int64
	activeGauge     Gauge
}

// Stats is the observability snapshot.
type Stats struct {
	ActiveOrders    int   `json:"active_orders"`
	ActiveSinks     int   `json:"active_subscribers"`
	TotalRegistered int64 `json:"total_registered"`
	TotalBroadcast  int64 `json:"total_broadcast"`
}

func New(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// SetActiveGauge mirrors the live sink count into g on every change.
func (h *Hub) SetActiveGauge(g Gauge) {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	h.activeGauge = g
	if g != nil {
		g.Set(float64(h.activeSinks))
	}
}

// sinkDelta adjusts the live sink counter. Callers pass +1 per added sink
// and -1 per removed one.
func (h *Hub) sinkDelta(delta int64) {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	h.activeSinks += delta
	if h.activeSinks < 0 {
		h.activeSinks = 0
	}
	if h.activeGauge != nil {
		h.activeGauge.Set(float64(h.activeSinks))
	}
}

// Register subscribes sink to transitions for orderID and immediately emits
// the connected control message.
func (h *Hub) Register(orderID string, sink Sink) *Handle {
	handle := &Handle{orderID: orderID, sink: sink}

	h.mu.Lock()
	e, ok := h.entries[orderID]
	if !ok {
		e = &entry{sinks: make(map[*Handle]Sink)}
		h.entries[orderID] = e
	}
	h.mu.Unlock()

	e.mu.Lock()
	e.sinks[handle] = sink
	e.mu.Unlock()

	h.statsMu.Lock()
	h.totalRegistered++
	h.statsMu.Unlock()
	h.sinkDelta(1)

	if err := sink.Send(Message{
		Type:    TypeConnected,
		OrderID: orderID,
		At:      time.Now().UTC(),
	}); err != nil {
		h.logger.WithField("order_id", orderID).WithError(err).Debug("connected message failed")
	}
	return handle
}

// Unregister removes a single subscription, e.g. on client disconnect.
func (h *Hub) Unregister(handle *Handle) {
	if handle == nil {
		return
	}
	h.mu.RLock()
	e, ok := h.entries[handle.orderID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	_, present := e.sinks[handle]
	delete(e.sinks, handle)
	empty := len(e.sinks) == 0
	e.mu.Unlock()

	if present {
		h.sinkDelta(-1)
	}
	if empty {
		h.dropIfEmpty(handle.orderID)
	}
}

func (h *Hub) dropIfEmpty(orderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[orderID]; ok {
		e.mu.Lock()
		empty := len(e.sinks) == 0
		e.mu.Unlock()
		if empty {
			delete(h.entries, orderID)
		}
	}
}

// Broadcast delivers a transition to every live sink for the order. Dead
// sinks are pruned in the same pass. Callers must have committed the Store
// write first, so subscribers never observe a status ahead of the Store.
func (h *Hub) Broadcast(ev *models.TransitionEvent) {
	h.mu.RLock()
	e, ok := h.entries[ev.OrderID]
	h.mu.RUnlock()

	h.statsMu.Lock()
	h.totalBroadcast++
	h.statsMu.Unlock()

	if !ok {
		return
	}

	msg := Message{
		Type:    TypeStatusUpdate,
		OrderID: ev.OrderID,
		Status:  string(ev.Status),
		Message: ev.Message,
		At:      ev.At,
		Data:    ev.Data,
	}

	dropped := 0
	e.mu.Lock()
	for handle, sink := range e.sinks {
		if !sink.Open() {
			delete(e.sinks, handle)
			dropped++
			continue
		}
		if err := sink.Send(msg); err != nil {
			h.logger.WithField("order_id", ev.OrderID).WithError(err).Debug("dropping dead sink")
			_ = sink.Close("send failed")
			delete(e.sinks, handle)
			dropped++
		}
	}
	empty := len(e.sinks) == 0
	e.mu.Unlock()

	if dropped > 0 {
		h.sinkDelta(int64(-dropped))
	}
	if empty {
		h.dropIfEmpty(ev.OrderID)
	}
}

// CloseOrderSubscriptions emits closing to every sink for the order, closes
// them and removes the entry. Called on terminal transitions.
func (h *Hub) CloseOrderSubscriptions(orderID, reason string) {
	h.mu.Lock()
	e, ok := h.entries[orderID]
	if ok {
		delete(h.entries, orderID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	msg := Message{
		Type:    TypeClosing,
		OrderID: orderID,
		Reason:  reason,
		At:      time.Now().UTC(),
	}

	closed := 0
	e.mu.Lock()
	for handle, sink := range e.sinks {
		if sink.Open() {
			_ = sink.Send(msg)
		}
		_ = sink.Close(reason)
		delete(e.sinks, handle)
		closed++
	}
	e.mu.Unlock()
	h.sinkDelta(int64(-closed))
}

// CloseAll shuts every subscription down. Called once at shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	entries := h.entries
	h.entries = make(map[string]*entry)
	h.mu.Unlock()

	closed := 0
	for orderID, e := range entries {
		msg := Message{
			Type:    TypeClosing,
			OrderID: orderID,
			Reason:  "shutting down",
			At:      time.Now().UTC(),
		}
		e.mu.Lock()
		for handle, sink := range e.sinks {
			if sink.Open() {
				_ = sink.Send(msg)
			}
			_ = sink.Close("shutting down")
			delete(e.sinks, handle)
			closed++
		}
		e.mu.Unlock()
	}
	if closed > 0 {
		h.sinkDelta(int64(-closed))
	}
}

// Stats returns registry totals.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	orders := len(h.entries)
	sinks := 0
	for _, e := range h.entries {
		e.mu.Lock()
		sinks += len(e.sinks)
		e.mu.Unlock()
	}
	h.mu.RUnlock()

	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	return Stats{
		ActiveOrders:    orders,
		ActiveSinks:     sinks,
		TotalRegistered: h.totalRegistered,
		TotalBroadcast:  h.totalBroadcast,
	}
}
