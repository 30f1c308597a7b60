package server

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/relaychat/internal/chat"
	"github.com/Tyrowin/relaychat/internal/observability"
)

// delivery is one encoded frame bound for an audience.
type delivery struct {
	audience chat.Audience
	event    string
	payload  []byte
}

// Hub tracks live connections and delivers frames to them. It indexes
// connections by session, by identity and by subscribed room, and implements
// chat.Fanout on top of those indexes.
//
// All writes to a client's send channel, and its closing, happen on the Run
// goroutine.
type Hub struct {
	clients    map[*Client]bool
	sessions   map[string]*Client
	users      map[string]map[*Client]struct{}
	rooms      map[string]map[*Client]struct{}
	broadcast  chan delivery
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	running    atomic.Bool
	log        *zap.Logger
}

var _ chat.Fanout = (*Hub)(nil)

// NewHub creates and initializes a new Hub instance with all necessary channels
// and indexes. The returned Hub is ready to manage WebSocket connections.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		sessions:   make(map[string]*Client),
		users:      make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		broadcast:  make(chan delivery),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run starts the hub's main event loop, handling client registration,
// unregistration, and frame delivery. It returns after Shutdown.
func (h *Hub) Run() {
	if !h.running.CompareAndSwap(false, true) {
		h.log.Warn("hub already running")
		return
	}
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("received nil client registration; skipping")
				continue
			}
			h.addClient(client)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.removeClient(client)

		case d := <-h.broadcast:
			h.deliver(d)
		}
	}
}

// Register hands a connected client to the hub, which starts its pumps.
// It reports false when the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	h.clients[client] = true
	h.sessions[client.session.ID()] = client
	userID := client.session.UserID()
	if h.users[userID] == nil {
		h.users[userID] = make(map[*Client]struct{})
	}
	h.users[userID][client] = struct{}{}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	observability.ActiveConnections.Inc()
	client.log.Info("client registered", zap.Int("total_clients", clientCount))
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	delete(h.sessions, client.session.ID())
	userID := client.session.UserID()
	delete(h.users[userID], client)
	if len(h.users[userID]) == 0 {
		delete(h.users, userID)
	}
	for roomID := range client.rooms {
		h.dropSubscription(client, roomID)
	}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	close(client.send)
	observability.ActiveConnections.Dec()
	client.log.Info("client unregistered", zap.Int("total_clients", clientCount))
}

// Subscribe adds the session's connection to the room's broadcast group.
func (h *Hub) Subscribe(sessionID, roomID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	client, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]struct{})
	}
	h.rooms[roomID][client] = struct{}{}
	client.rooms[roomID] = struct{}{}
}

// Unsubscribe removes the session's connection from the room's broadcast group.
func (h *Hub) Unsubscribe(sessionID, roomID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if client, ok := h.sessions[sessionID]; ok {
		h.dropSubscription(client, roomID)
	}
}

// dropSubscription requires h.mutex held for writing.
func (h *Hub) dropSubscription(client *Client, roomID string) {
	delete(client.rooms, roomID)
	if members, ok := h.rooms[roomID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Publish encodes event once and queues it for every matching connection.
func (h *Hub) Publish(audience chat.Audience, event chat.Event) {
	h.send(audience, outboundFrame{Event: event.Name, Data: event.Data})
}

// send encodes frame and hands it to the Run loop. Frames published from one
// goroutine are delivered in publish order. After Shutdown frames are dropped.
func (h *Hub) send(audience chat.Audience, frame outboundFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("encode frame", zap.String("event", frame.Event), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- delivery{audience: audience, event: frame.Event, payload: payload}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) deliver(d delivery) {
	targets := h.resolve(d.audience)
	for _, client := range targets {
		select {
		case client.send <- d.payload:
			observability.DeliveriesTotal.WithLabelValues(d.event).Inc()
		default:
			observability.DroppedDeliveries.Inc()
			client.log.Warn("send buffer full; dropping frame", zap.String("event", d.event))
		}
	}
}

// resolve returns the registered clients selected by audience.
func (h *Hub) resolve(audience chat.Audience) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var targets []*Client
	add := func(client *Client) {
		if client.session.ID() != audience.Except {
			targets = append(targets, client)
		}
	}

	switch {
	case audience.Everyone:
		for client := range h.clients {
			add(client)
		}
	case audience.SessionID != "":
		if client, ok := h.sessions[audience.SessionID]; ok {
			add(client)
		}
	case audience.RoomID != "":
		for client := range h.rooms[audience.RoomID] {
			add(client)
		}
	default:
		seen := make(map[*Client]struct{})
		for _, userID := range audience.UserIDs {
			for client := range h.users[userID] {
				if _, dup := seen[client]; dup {
					continue
				}
				seen[client] = struct{}{}
				add(client)
			}
		}
	}
	return targets
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// RoomSubscribers returns the number of connections subscribed to roomID.
func (h *Hub) RoomSubscribers(roomID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[roomID])
}

// shutdownClients closes and deregisters every connection. Each client's
// readPump then exits and records its offline transition.
func (h *Hub) shutdownClients() {
	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				client.log.Warn("error closing client connection", zap.Error(err))
			}
		}
		h.removeClient(client)
	}

	h.log.Info("closed client connections", zap.Int("count", len(clients)))
}

// Shutdown stops the hub and waits for all client goroutines to finish,
// or until timeout elapses.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	if h.running.Load() {
		<-h.done
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
