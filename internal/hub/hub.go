// Package hub fans run events out to subscribed websocket clients.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// AllScenarios subscribes a client to events from every scenario.
const AllScenarios = "*"

type Client struct {
	ID     string
	Send   chan []byte
	topics map[string]struct{}
	mu     sync.RWMutex
}

// NewClient creates a client whose Send channel the caller owns. The hub
// never closes it.
func NewClient(id string, send chan []byte) *Client {
	return &Client{
		ID:     id,
		Send:   send,
		topics: make(map[string]struct{}),
	}
}

func (c *Client) HasTopic(scenario string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[scenario]
	return ok
}

func (c *Client) addTopics(scenarios []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range scenarios {
		c.topics[s] = struct{}{}
	}
}

func (c *Client) removeTopics(scenarios []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range scenarios {
		delete(c.topics, s)
	}
}

func (c *Client) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	topics := make([]string, 0, len(c.topics))
	for s := range c.topics {
		topics = append(topics, s)
	}
	return topics
}

// Event is published to clients subscribed to its scenario.
type Event struct {
	Type     string
	Scenario string
	Payload  any
}

type eventMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type membership struct {
	client *Client
	join   bool
}

type Hub struct {
	mu           sync.RWMutex
	clients      map[*Client]struct{}
	topicClients map[string]map[*Client]struct{}

	// one channel keeps a client's register and unregister in order
	membership chan membership
	broadcast  chan Event

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		clients:      make(map[*Client]struct{}),
		topicClients: make(map[string]map[*Client]struct{}),
		membership:   make(chan membership, 32),
		broadcast:    make(chan Event, 256),
		logger:       logger.With("component", "hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.dropAllClients()
			return

		case m := <-h.membership:
			if m.join {
				h.addClient(m.client)
			} else {
				h.removeClient(m.client)
			}

		case ev := <-h.broadcast:
			h.fanout(ev)
		}
	}
}

func (h *Hub) Subscribe(client *Client, scenarios []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.addTopics(scenarios)

	for _, s := range scenarios {
		if h.topicClients[s] == nil {
			h.topicClients[s] = make(map[*Client]struct{})
		}
		h.topicClients[s][client] = struct{}{}
	}
}

func (h *Hub) Unsubscribe(client *Client, scenarios []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.removeTopics(scenarios)
	h.dropTopics(client, scenarios)
}

func (h *Hub) dropTopics(client *Client, scenarios []string) {
	for _, s := range scenarios {
		if h.topicClients[s] != nil {
			delete(h.topicClients[s], client)
			if len(h.topicClients[s]) == 0 {
				delete(h.topicClients, s)
			}
		}
	}
}

// Broadcast queues ev for delivery. Events are dropped when the queue is
// full.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "type", ev.Type, "scenario", ev.Scenario)
	}
}

func (h *Hub) Register(client *Client) {
	h.membership <- membership{client: client, join: true}
}

func (h *Hub) Unregister(client *Client) {
	h.membership <- membership{client: client}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// fanout sends ev once to every client subscribed to its scenario or to
// AllScenarios. Clients with a full buffer miss the event.
func (h *Hub) fanout(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := make(map[*Client]struct{})
	for _, topic := range []string{ev.Scenario, AllScenarios} {
		for client := range h.topicClients[topic] {
			targets[client] = struct{}{}
		}
	}
	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(eventMessage{Type: ev.Type, Payload: ev.Payload})
	if err != nil {
		h.logger.Error("failed to encode event", "type", ev.Type, "error", err)
		return
	}

	for client := range targets {
		select {
		case client.Send <- data:
		default:
			h.logger.Debug("client send buffer full", "client_id", client.ID)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = struct{}{}
	h.logger.Debug("client registered", "client_id", client.ID, "total", len(h.clients))
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	h.dropTopics(client, client.Topics())
	delete(h.clients, client)
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", len(h.clients))
}

func (h *Hub) dropAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients = make(map[*Client]struct{})
	h.topicClients = make(map[string]map[*Client]struct{})
}
