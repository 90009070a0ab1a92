package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dougsko/js8emu/pkg/logging"
	"github.com/dougsko/js8emu/pkg/station"
)

const (
	feedClientBuffer = 256
	feedWriteTimeout = 5 * time.Second
	feedPingInterval = 30 * time.Second
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *feedClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Feed streams every frame to the connected websocket clients. Slow clients
// miss frames instead of holding up the emulator.
type Feed struct {
	mu      sync.Mutex
	clients map[*feedClient]struct{}
	closed  bool
}

// NewFeed creates an empty feed
func NewFeed() *Feed {
	return &Feed{clients: make(map[*feedClient]struct{})}
}

// OnFrame broadcasts f as JSON
func (f *Feed) OnFrame(frame station.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return
	}

	data, err := json.Marshal(frame)
	if err != nil {
		logging.Warnf("web", "failed to marshal frame: %v", err)
		return
	}

	for c := range f.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// Clients returns the number of connected clients
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Serve runs one websocket client until it disconnects or the feed closes
func (f *Feed) Serve(conn *websocket.Conn) {
	c := &feedClient{conn: conn, send: make(chan []byte, feedClientBuffer)}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		conn.Close()
		return
	}
	f.clients[c] = struct{}{}
	f.mu.Unlock()

	logging.Debugf("web", "Feed client %s connected", conn.RemoteAddr())

	// the read side only notices the peer going away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				f.remove(c)
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case data, ok := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				f.remove(c)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.remove(c)
				return
			}
		}
	}
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		c.close()
		logging.Debugf("web", "Feed client %s disconnected", c.conn.RemoteAddr())
	}
}

// Close disconnects every client
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for c := range f.clients {
		delete(f.clients, c)
		c.close()
	}
}
