package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"leasecli/internal/infrastructure"
	"leasecli/pkg/contracts/events"
)

const broadcastBuffer = 64

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu     sync.RWMutex
	logger *slog.Logger

	connections metric.Int64UpDownCounter
	messages    metric.Int64Counter
	dropped     metric.Int64Counter

	// last is replayed to clients that connect after it was broadcast
	last []byte
}

// NewHub creates a hub. A nil meter disables metrics.
func NewHub(logger *slog.Logger, meter metric.Meter) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("websocket")
	}

	h := &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     infrastructure.WithComponent(logger, "websocket.hub"),
	}

	// Instrument creation only fails on invalid names
	h.connections, _ = meter.Int64UpDownCounter("websocket_active_connections",
		metric.WithDescription("Connected WebSocket clients"))
	h.messages, _ = meter.Int64Counter("websocket_messages_sent_total",
		metric.WithDescription("Messages queued to WebSocket clients"))
	h.dropped, _ = meter.Int64Counter("websocket_clients_dropped_total",
		metric.WithDescription("Clients disconnected because their send buffer was full"))

	return h
}

// Run serves register, unregister and broadcast requests until ctx is done
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("Hub shutting down")
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			last := h.last
			h.mu.Unlock()

			h.connections.Add(ctx, 1)
			h.logger.Info("Client registered",
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("total_clients", count))

			h.sendConnect(client)
			if last != nil {
				h.queue(ctx, client, last)
			}

		case client := <-h.unregister:
			h.remove(ctx, client, "closed")

		case message := <-h.broadcast:
			h.mu.Lock()
			h.last = message
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.Unlock()

			for _, client := range clients {
				h.queue(ctx, client, message)
			}
			h.logger.Debug("Broadcast message",
				slog.Int("client_count", len(clients)),
				slog.Int("message_size", len(message)))
		}
	}
}

// queue hands message to client, dropping the client if it cannot keep up
func (h *Hub) queue(ctx context.Context, client *Client, message []byte) {
	select {
	case client.send <- message:
		h.messages.Add(ctx, 1)
	default:
		h.dropped.Add(ctx, 1)
		h.remove(ctx, client, "slow")
	}
}

func (h *Hub) remove(ctx context.Context, client *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	count := len(h.clients)
	h.mu.Unlock()

	h.connections.Add(ctx, -1, metric.WithAttributes(attribute.String("reason", reason)))
	h.logger.Info("Client unregistered",
		slog.String("client_id", client.id),
		slog.String("reason", reason),
		slog.Duration("connection_duration", time.Since(client.connectedAt)),
		slog.Int("total_clients", count))
}

func (h *Hub) sendConnect(client *Client) {
	msg := events.NewMessage(events.MessageTypeConnect, map[string]string{
		"status":    "connected",
		"client_id": client.id,
	})
	msg.TraceID = client.traceID

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// Broadcast queues msg for every connected client. It never blocks the caller
// for longer than it takes to fill the broadcast buffer; after the hub stops
// it is a no-op.
func (h *Hub) Broadcast(msg events.WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Error marshaling message",
			slog.String("error", err.Error()),
			slog.String("message_type", string(msg.Type)))
		return
	}

	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		h.logger.Warn("Broadcast buffer full, dropping message",
			slog.String("message_type", string(msg.Type)))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
