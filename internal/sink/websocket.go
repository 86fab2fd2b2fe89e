package sink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const wsWriteWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocket serves a broadcast endpoint. Each batch goes out to every
// connected client as one JSON array of structured events. Batches sent while
// nobody is connected are dropped.
type WebSocket struct {
	limits  Limits
	metrics ConnMetrics
	ln      net.Listener
	srv     *http.Server
	hub     *wsHub
	once    sync.Once
}

type wsHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewWebSocket(addr, path string, limits Limits, m ConnMetrics) (*WebSocket, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("websocket listen %s: %w", addr, err)
	}
	ws := &WebSocket{
		limits:  limits,
		metrics: m,
		ln:      ln,
		hub:     &wsHub{clients: make(map[*websocket.Conn]struct{})},
	}
	mux := http.NewServeMux()
	mux.Handle(path, ws.Handler())
	ws.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := ws.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("websocket server error")
			if m != nil {
				m.SetConnected(false)
			}
		}
	}()
	log.Infof("websocket sink listening on %s%s", ln.Addr(), path)
	if m != nil {
		m.SetConnected(true)
	}
	return ws, nil
}

// Addr is the address the endpoint is bound to.
func (ws *WebSocket) Addr() net.Addr { return ws.ln.Addr() }

// Handler upgrades requests and registers the connection with the hub.
func (ws *WebSocket) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Debug("ws upgrade error")
			return
		}
		ws.hub.add(conn)
		go ws.hub.readPump(conn)
	})
}

// Clients is the number of connected subscribers.
func (ws *WebSocket) Clients() int {
	ws.hub.mu.Lock()
	defer ws.hub.mu.Unlock()
	return len(ws.hub.clients)
}

func (ws *WebSocket) OpenBatch(ctx context.Context) (Batch, error) {
	return newBoundedBatch(ws.limits), nil
}

func (ws *WebSocket) SendBatch(ctx context.Context, b Batch) error {
	bb, err := asBounded(b)
	if err != nil {
		return err
	}
	if bb.Len() == 0 {
		return nil
	}
	events := make([]json.RawMessage, 0, bb.Len())
	for _, m := range bb.Messages() {
		raw, err := m.Structured()
		if err != nil {
			return err
		}
		events = append(events, raw)
	}
	data, err := json.Marshal(events)
	if err != nil {
		return err
	}
	ws.hub.broadcast(data)
	return nil
}

func (ws *WebSocket) Close() error {
	var err error
	ws.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = ws.srv.Shutdown(ctx)
		ws.hub.closeAll()
		if ws.metrics != nil {
			ws.metrics.SetConnected(false)
		}
	})
	return err
}

func (h *wsHub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *wsHub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// broadcast holds the lock across writes; a gorilla connection allows only
// one concurrent writer.
func (h *wsHub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			_ = c.Close()
			delete(h.clients, c)
		}
	}
}

func (h *wsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.Close()
		delete(h.clients, c)
	}
}

func (h *wsHub) readPump(c *websocket.Conn) {
	defer func() {
		h.remove(c)
		_ = c.Close()
	}()
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}
