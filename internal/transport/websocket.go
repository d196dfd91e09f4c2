// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	applog "visualizer/internal/log"
	"visualizer/internal/metadata"
)

// WebSocketTransport broadcasts band frames to every connected client as
// JSON. Clients may send JSON objects back ({"title": "...", "elapsed": 12})
// which are applied to the metadata store.
type WebSocketTransport struct {
	addr      string
	store     *metadata.Store
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]string
	clientsMu sync.Mutex
	broadcast chan any
	done      chan struct{}
	closeOnce sync.Once
	server    *http.Server
}

// NewWebSocketTransport starts serving /ws on addr. store may be nil, in
// which case client messages are ignored.
func NewWebSocketTransport(addr string, store *metadata.Store) *WebSocketTransport {
	wst := newWebSocketTransport(addr, store)
	wst.start()
	return wst
}

func newWebSocketTransport(addr string, store *metadata.Store) *WebSocketTransport {
	wst := &WebSocketTransport{
		addr:  addr,
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // overlays are served from anywhere
			},
		},
		clients:   make(map[*websocket.Conn]string),
		broadcast: make(chan any, 256),
		done:      make(chan struct{}),
	}
	go wst.handleBroadcasts()
	return wst
}

// Handler serves the upgrade endpoint.
func (wst *WebSocketTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wst.handleWebSocket)
	return mux
}

func (wst *WebSocketTransport) start() {
	wst.server = &http.Server{
		Addr:    wst.addr,
		Handler: wst.Handler(),
	}

	go func() {
		applog.Infof("WebSocketTransport: Starting WebSocket server on %s", wst.addr)
		if err := wst.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			applog.Errorf("WebSocketTransport: Server error: %v", err)
		}
	}()
}

// ClientCount is the number of connected clients.
func (wst *WebSocketTransport) ClientCount() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("WebSocketTransport: Upgrade error: %v", err)
		return
	}

	id := uuid.NewString()
	wst.clientsMu.Lock()
	wst.clients[conn] = id
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	applog.Infof("WebSocketTransport: Client %s connected, total: %d", id, total)

	go wst.readLoop(conn, id)
}

// readLoop applies metadata updates until the client goes away.
func (wst *WebSocketTransport) readLoop(conn *websocket.Conn, id string) {
	defer wst.drop(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			applog.Debugf("WebSocketTransport: Client %s read ended: %v", id, err)
			return
		}
		if wst.store == nil {
			continue
		}
		if err := applyJSON(wst.store, data); err != nil {
			applog.Warnf("WebSocketTransport: Client %s sent bad metadata: %v", id, err)
		}
	}
}

func (wst *WebSocketTransport) drop(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	id, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	conn.Close()
	if ok {
		applog.Infof("WebSocketTransport: Client %s disconnected, total: %d", id, total)
	}
}

// applyJSON applies every field of a JSON object to store.
func applyJSON(store *metadata.Store, data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	return applyFields(store, fields)
}

func applyFields(store *metadata.Store, fields map[string]any) error {
	for k, v := range fields {
		var s string
		switch v := v.(type) {
		case string:
			s = v
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			s = fmt.Sprint(v)
		}
		if err := store.Update(k, s); err != nil {
			return err
		}
	}
	return nil
}

// handleBroadcasts sends messages to all connected clients.
func (wst *WebSocketTransport) handleBroadcasts() {
	for {
		select {
		case <-wst.done:
			return
		case data := <-wst.broadcast:
			wst.clientsMu.Lock()
			for client, id := range wst.clients {
				if err := client.WriteJSON(data); err != nil {
					applog.Warnf("WebSocketTransport: Error sending to client %s: %v", id, err)
					client.Close()
					delete(wst.clients, client)
				}
			}
			wst.clientsMu.Unlock()
		}
	}
}

// Send queues data for broadcast. When the queue is full the message is
// dropped; the next frame supersedes it anyway.
func (wst *WebSocketTransport) Send(data any) error {
	select {
	case wst.broadcast <- data:
	default:
		applog.Debugf("WebSocketTransport: Broadcast queue full, dropping message")
	}
	return nil
}

// Close shuts down the WebSocket server.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		applog.Infof("WebSocketTransport: Closing server")
		close(wst.done)

		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.Close()
		}
		wst.clients = make(map[*websocket.Conn]string)
		wst.clientsMu.Unlock()

		if wst.server != nil {
			err = wst.server.Close()
		}
	})
	return err
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
