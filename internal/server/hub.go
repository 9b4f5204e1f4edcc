package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"netfish/internal/model"
)

// MessageType tags every frame pushed to WebSocket clients.
type MessageType string

const (
	MsgState        MessageType = "state"
	MsgOutOfRange   MessageType = "out_of_range"
	MsgRebalance    MessageType = "rebalance"
	MsgHarvestAlert MessageType = "harvest_alert"
)

// Message is the envelope of a WebSocket frame.
type Message struct {
	Type MessageType `json:"type"`
	Data any         `json:"data,omitempty"`
}

// OutOfRange is sent when the school leaves the net and nothing recenters it.
type OutOfRange struct {
	TrackedValue float64        `json:"tracked_value"`
	Range        model.NetRange `json:"range"`
}

// HarvestAlert is sent when the claimable balance reaches a new step.
type HarvestAlert struct {
	Harvestable float64 `json:"harvestable"`
}

const broadcastBuffer = 256

// Hub fans messages out to every connected client. The client set is owned
// by the Run goroutine.
type Hub struct {
	logger  *slog.Logger
	gauge   prometheus.Gauge
	clients map[*Client]struct{}
	count   atomic.Int64

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub creates a Hub. gauge may be nil.
func NewHub(logger *slog.Logger, gauge prometheus.Gauge) *Hub {
	return &Hub{
		logger:     logger,
		gauge:      gauge,
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.updateCount()
			h.logger.Debug("Client connected", "clients", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
				h.logger.Debug("Client disconnected", "clients", len(h.clients))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client: drop it rather than stall everyone else.
					h.remove(c)
					h.logger.Warn("Dropped slow client", "clients", len(h.clients))
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.updateCount()
}

func (h *Hub) updateCount() {
	n := len(h.clients)
	h.count.Store(int64(n))
	if h.gauge != nil {
		h.gauge.Set(float64(n))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Broadcast queues msg for every client. It never blocks; when the queue is
// full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", "type", msg.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("Broadcast queue full, message dropped", "type", msg.Type)
	}
}

func (h *Hub) BroadcastState(s model.SimulationState) {
	h.Broadcast(Message{Type: MsgState, Data: s})
}
