package app

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// wsClient serializes writes; a connection receives broadcasts from other
// clients' read loops as well as its own initial state push.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Relay fans binary updates out to every websocket subscribed to the same
// document. Each incoming update goes through the regular save path first,
// so cache and persistence semantics are identical to the HTTP save.
type Relay struct {
	service  *Service
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]map[*wsClient]bool
}

func NewRelay(service *Service) *Relay {
	return &Relay{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// CORS is enforced by the shared middleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rooms: map[string]map[*wsClient]bool{},
	}
}

func (rl *Relay) Serve(w http.ResponseWriter, r *http.Request, id string) {
	// The upgrader writes its own error response on failure.
	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &wsClient{conn: conn}
	rl.join(id, client)
	defer func() {
		rl.leave(id, client)
		conn.Close()
	}()

	// A joining client starts from the current full state.
	state, err := rl.service.GetState(r.Context(), id)
	if err != nil {
		log.Printf("relay: initial state for %s: %v", id, err)
		return
	}
	if err := client.send(state); err != nil {
		return
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		// Detached from the request context: the save must complete
		// even if this client disconnects mid-merge.
		if _, err := rl.service.Save(context.Background(), id, data); err != nil {
			log.Printf("relay: save for %s: %v", id, err)
			continue
		}
		rl.broadcast(id, client, data)
	}
}

func (rl *Relay) join(id string, client *wsClient) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	room, ok := rl.rooms[id]
	if !ok {
		room = map[*wsClient]bool{}
		rl.rooms[id] = room
	}
	room[client] = true
}

func (rl *Relay) leave(id string, client *wsClient) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if room, ok := rl.rooms[id]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(rl.rooms, id)
		}
	}
}

func (rl *Relay) broadcast(id string, from *wsClient, data []byte) {
	rl.mu.Lock()
	peers := make([]*wsClient, 0, len(rl.rooms[id]))
	for peer := range rl.rooms[id] {
		if peer != from {
			peers = append(peers, peer)
		}
	}
	rl.mu.Unlock()

	for _, peer := range peers {
		if err := peer.send(data); err != nil {
			log.Printf("relay: broadcast for %s: %v", id, err)
		}
	}
}
