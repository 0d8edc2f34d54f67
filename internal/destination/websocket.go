package destination

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/causalprof/profilomatic/pkg/profiler"
	"github.com/causalprof/profilomatic/pkg/utils"
)

// WebSocket is a live-tail sink: it runs its own HTTP server exposing
// one upgrade endpoint, and every emitted root is fanned out to all
// currently connected dashboard clients. Clients that connect after a
// root was emitted simply miss it: there is no backlog or replay buffer.
type WebSocket struct {
	logger   utils.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	server *http.Server
}

// NewWebSocket creates a WebSocket sink listening on address.
func NewWebSocket(address string, logger utils.Logger) *WebSocket {
	if logger == nil {
		logger = utils.GetGlobalLogger()
	}
	ws := &WebSocket{
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/tail", ws.handleUpgrade)
	ws.server = &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	return ws
}

// Name identifies this sink for Fanout's failure logging.
func (w *WebSocket) Name() string { return "websocket" }

// ListenAndServe starts the upgrade endpoint; call in its own
// goroutine from the service lifecycle.
func (w *WebSocket) ListenAndServe() error {
	return w.server.ListenAndServe()
}

func (w *WebSocket) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("destination/websocket: upgrade failed: %v", err)
		return
	}
	w.mu.Lock()
	w.clients[conn] = struct{}{}
	w.mu.Unlock()

	go w.drainClient(conn)
}

// drainClient discards whatever the client sends (this sink is
// write-only) until the connection closes, so the client's own
// keepalive pings don't accumulate unread frames.
func (w *WebSocket) drainClient(conn *websocket.Conn) {
	defer func() {
		w.mu.Lock()
		delete(w.clients, conn)
		w.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Send broadcasts root's JSON record to every connected client,
// dropping any client whose write fails.
func (w *WebSocket) Send(root *profiler.CallGraphRoot) error {
	data, err := root.ToJSON()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for conn := range w.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(w.clients, conn)
		}
	}
	return nil
}

// Close shuts down the upgrade server and all client connections.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	for conn := range w.clients {
		conn.Close()
	}
	w.clients = make(map[*websocket.Conn]struct{})
	w.mu.Unlock()
	return w.server.Close()
}
