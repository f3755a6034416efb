package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hama-jp/koubou-go/internal/bus"
	"github.com/hama-jp/koubou-go/internal/logger"
	"github.com/hama-jp/koubou-go/internal/metrics"
)

// relayedChannels are the bus channels the hub subscribes to and
// re-broadcasts to connected clients.
var relayedChannels = []string{bus.ChannelTaskStatus, bus.ChannelWorkerStatus, bus.ChannelPoolStats}

// Hub manages WebSocket clients and fans out MessageBus events to them: it
// holds no task/worker state of its own, it only relays.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan bus.Message
	register   chan *Client
	unregister chan *Client
	bus        bus.Bus
	mu         sync.RWMutex
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewHub creates a new WebSocket hub fed by b.
func NewHub(b bus.Bus) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan bus.Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		bus:        b,
		stopCh:     make(chan struct{}),
	}
}

// Run subscribes to every relayed bus channel and starts the hub's main
// loop in background goroutines, until ctx is canceled or Stop is called.
func (h *Hub) Run(ctx context.Context) {
	for _, channel := range relayedChannels {
		ch := channel
		if _, err := h.bus.Subscribe(ctx, ch, func(msg bus.Message) {
			select {
			case h.broadcast <- msg:
			default:
				logger.Warn().Str("channel", ch).Msg("broadcast channel full, dropping message")
			}
		}); err != nil {
			logger.Error().Err(err).Str("channel", ch).Msg("failed to subscribe hub to bus channel")
		}
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				h.closeAllClients()
				return
			case <-h.stopCh:
				h.closeAllClients()
				return
			case client := <-h.register:
				h.mu.Lock()
				h.clients[client] = true
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.ClientCount()))
				logger.Debug().Str("client_id", client.ID).Msg("client registered")

			case client := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					close(client.send)
				}
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.ClientCount()))
				logger.Debug().Str("client_id", client.ID).Msg("client unregistered")

			case msg := <-h.broadcast:
				h.broadcastMessage(msg)
			}
		}
	}()

	logger.Info().Msg("WebSocket hub started")
}

// Stop stops the hub.
func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()
	logger.Info().Msg("WebSocket hub stopped")
}

// Register registers a client with the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister unregisters a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcastMessage(msg bus.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to serialize bus message for broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.IsSubscribed(msg.Channel) {
			continue
		}

		select {
		case client.send <- data:
			metrics.RecordWebSocketMessage(msg.Type)
		default:
			go func(c *Client) {
				h.unregister <- c
			}(client)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
