package socket

import (
	"context"
	"encoding/json"
	"sync"

	"recordpad/pkg/logger"
	"recordpad/pkg/metrics"
	"recordpad/pkg/record"

	"github.com/gorilla/websocket"
)

// AllOwners is the room of subscribers that receive every event.
const AllOwners = ""

// Hub fans commit events out to feed subscribers, grouped by owner.
type Hub struct {
	Rooms      map[string]map[*Client]bool
	Broadcast  chan record.Event
	Register   chan *Client
	Unregister chan *Client
	mu         sync.Mutex
	done       chan struct{}
}

type Client struct {
	Hub   *Hub
	Conn  *websocket.Conn
	Owner string
	Send  chan []byte
}

func NewHub() *Hub {
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan record.Event, 64),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Publish queues an event for delivery. It gives up when ctx ends so a
// stalled hub cannot wedge a commit.
func (h *Hub) Publish(ctx context.Context, event record.Event) {
	select {
	case h.Broadcast <- event:
	case <-h.done:
	case <-ctx.Done():
		logger.Sugar.Warnf("Dropped %s event for %s: %v", event.Type, event.DocumentID, ctx.Err())
	}
}

// Run is the hub's event loop; it returns when ctx is cancelled, closing
// every subscriber.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return

		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.Owner] == nil {
				h.Rooms[client.Owner] = make(map[*Client]bool)
			}
			h.Rooms[client.Owner][client] = true
			h.mu.Unlock()
			if metrics.Registered {
				metrics.FeedSubscribers.Inc()
			}
			logger.Sugar.Debugf("Feed subscriber joined room %q", client.Owner)

		case client := <-h.Unregister:
			h.remove(client)

		case event := <-h.Broadcast:
			payload, err := json.Marshal(event)
			if err != nil {
				logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
				continue
			}

			// Collect recipients under the lock, send outside it.
			h.mu.Lock()
			var clientsToSend []*Client
			for _, owner := range roomsFor(event) {
				for client := range h.Rooms[owner] {
					clientsToSend = append(clientsToSend, client)
				}
			}
			h.mu.Unlock()

			for _, client := range clientsToSend {
				select {
				case client.Send <- payload:
				default:
					// The client is lagging; drop it rather than block the hub.
					logger.Sugar.Warnf("Subscriber of %q has a full send buffer. Unregistering.", client.Owner)
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) register(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

// Subscribers reports how many clients are in the owner's room.
func (h *Hub) Subscribers(owner string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Rooms[owner])
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.Rooms[client.Owner][client]; !ok {
		return
	}
	delete(h.Rooms[client.Owner], client)
	close(client.Send)
	if len(h.Rooms[client.Owner]) == 0 {
		delete(h.Rooms, client.Owner)
	}
	if metrics.Registered {
		metrics.FeedSubscribers.Dec()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	var all []*Client
	for _, room := range h.Rooms {
		for client := range room {
			all = append(all, client)
		}
	}
	h.mu.Unlock()

	for _, client := range all {
		h.remove(client)
	}
}

// roomsFor lists the rooms an event goes to: each distinct owner plus the
// wildcard room.
func roomsFor(event record.Event) []string {
	rooms := []string{AllOwners}
	seen := map[string]bool{AllOwners: true}
	for _, owner := range event.Owners {
		if !seen[owner] {
			seen[owner] = true
			rooms = append(rooms, owner)
		}
	}
	return rooms
}
