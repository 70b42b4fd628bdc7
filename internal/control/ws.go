package control

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient wraps one WebSocket connection with a write mutex, matching the
// teacher's wsClient (internal/api/server.go), since gorilla/websocket
// connections are not safe for concurrent writers.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(frame StreamFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(frame)
}

// ServeWS upgrades r to a WebSocket and runs the same command/event loop as
// the gRPC Stream handler: inbound frames carrying a Command are dispatched
// to sess, and Bus events are forwarded to the connection as they publish.
func ServeWS(sess Session, bus *Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("control: ws upgrade failed: %v", err)
			return
		}
		client := &wsClient{conn: conn}
		defer conn.Close()

		events, unsubscribe := bus.Subscribe()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for evt := range events {
				e := evt
				if err := client.send(StreamFrame{Event: &e}); err != nil {
					return
				}
			}
		}()

		for {
			var frame StreamFrame
			if err := conn.ReadJSON(&frame); err != nil {
				break
			}
			if frame.Command == nil {
				continue
			}
			resp := Dispatch(r.Context(), sess, *frame.Command)
			if err := client.send(StreamFrame{Response: &resp}); err != nil {
				break
			}
		}
		unsubscribe()
		<-done
	}
}
