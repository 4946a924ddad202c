// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"freqresp/internal/log"

	"github.com/gorilla/websocket"
)

const (
	broadcastQueue = 256
	writeTimeout   = time.Second
)

// WebSocketTransport broadcasts events as JSON to every client connected
// on /ws.
type WebSocketTransport struct {
	addr      string
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan any
	server    *http.Server
	listener  net.Listener

	closeOnce sync.Once
	done      chan struct{}
	flushed   chan struct{}
	wg        sync.WaitGroup
}

// NewWebSocketTransport listens on addr and starts serving. Use port 0 to
// pick a free port; Addr reports the bound address.
func NewWebSocketTransport(addr string) (*WebSocketTransport, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	wst := &WebSocketTransport{
		addr: ln.Addr().String(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Local measurement dashboards connect from anywhere
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan any, broadcastQueue),
		listener:  ln,
		done:      make(chan struct{}),
		flushed:   make(chan struct{}),
	}

	wst.start()
	return wst, nil
}

// Addr returns the address the server is bound to.
func (wst *WebSocketTransport) Addr() string {
	return wst.addr
}

// ClientCount returns the number of connected clients.
func (wst *WebSocketTransport) ClientCount() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// start begins the WebSocket server
func (wst *WebSocketTransport) start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wst.handleWebSocket)

	wst.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	wst.wg.Add(1)
	go func() {
		defer wst.wg.Done()
		log.Infof("WebSocketTransport: Serving on ws://%s/ws", wst.addr)
		if err := wst.server.Serve(wst.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("WebSocketTransport: Server error: %v", err)
		}
	}()

	go func() {
		defer close(wst.flushed)
		wst.handleBroadcasts()
	}()
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WebSocketTransport: Upgrade error: %v", err)
		return
	}

	wst.clientsMu.Lock()
	wst.clients[conn] = true
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	log.Debugf("WebSocketTransport: Client connected, total: %d", total)

	// Clients only listen; a read error means they went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		wst.drop(conn)
	}()
}

func (wst *WebSocketTransport) drop(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()

	if ok {
		conn.Close()
		log.Debugf("WebSocketTransport: Client disconnected, total: %d", total)
	}
}

// handleBroadcasts sends messages to all connected clients. Messages still
// queued when the transport closes are delivered before it returns.
func (wst *WebSocketTransport) handleBroadcasts() {
	for {
		select {
		case data := <-wst.broadcast:
			wst.write(data)
		case <-wst.done:
			for {
				select {
				case data := <-wst.broadcast:
					wst.write(data)
				default:
					return
				}
			}
		}
	}
}

func (wst *WebSocketTransport) write(data any) {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()

	for client := range wst.clients {
		client.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.WriteJSON(data); err != nil {
			log.Warnf("WebSocketTransport: Error sending to client: %v", err)
			client.Close()
			delete(wst.clients, client)
		}
	}
}

// Send queues data for broadcast. Messages are dropped when the queue is
// full so a slow client cannot stall the measurement.
func (wst *WebSocketTransport) Send(data any) error {
	select {
	case <-wst.done:
		return net.ErrClosed
	default:
	}

	select {
	case wst.broadcast <- data:
	default:
		log.Debugf("WebSocketTransport: Queue full, dropping message")
	}
	return nil
}

// Close shuts down the WebSocket server and disconnects all clients.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		log.Debugf("WebSocketTransport: Closing server")
		close(wst.done)
		<-wst.flushed
		err = wst.server.Close()

		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.Close()
		}
		wst.clients = make(map[*websocket.Conn]bool)
		wst.clientsMu.Unlock()

		wst.wg.Wait()
	})
	return err
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
