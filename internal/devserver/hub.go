// Package devserver runs the dev status hub: a small HTTP server that serves
// the latest dev status and pushes every change to websocket clients. The
// hub owns its listening port until Close.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quasarcli/quasar/internal/protocol"
)

// Routes served by the hub.
const (
	StatusPath = "/__quasar/status"
	SocketPath = "/__quasar/ws"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
	wsQueueSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Hub serves dev status snapshots.
type Hub struct {
	logger *slog.Logger
	ln     net.Listener
	srv    *http.Server
	served chan struct{}

	mu      sync.Mutex
	status  protocol.DevStatus
	clients map[chan protocol.DevStatus]struct{}
	closed  bool
}

// Listen binds host:port and starts serving. Port 0 picks a free port.
func Listen(host string, port int, logger *slog.Logger) (*Hub, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to listen for dev status hub: %w", err)
	}

	h := &Hub{
		logger:  logger,
		ln:      ln,
		served:  make(chan struct{}),
		clients: make(map[chan protocol.DevStatus]struct{}),
		status:  protocol.DevStatus{Kind: protocol.MessageKindDev, Targets: []protocol.TargetStatus{}},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+StatusPath, h.handleStatus)
	mux.HandleFunc("GET "+SocketPath, h.handleSocket)
	h.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		defer close(h.served)
		if err := h.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("dev status hub stopped", "error", err)
		}
	}()

	logger.Debug("dev status hub listening", "addr", ln.Addr().String())
	return h, nil
}

// Addr returns the bound address.
func (h *Hub) Addr() string {
	return h.ln.Addr().String()
}

// URL returns the base URL of the hub.
func (h *Hub) URL() string {
	return "http://" + h.Addr()
}

// Publish replaces the current status and sends it to every client. Slow
// clients lose intermediate snapshots, never the latest one.
func (h *Hub) Publish(st protocol.DevStatus) {
	st.Kind = protocol.MessageKindDev
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.status = st
	for ch := range h.clients {
		push(ch, st)
	}
}

// Status returns the last published status.
func (h *Hub) Status() protocol.DevStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Close disconnects every client and releases the port.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := h.srv.Shutdown(ctx)
	if err != nil {
		err = h.srv.Close()
	}
	<-h.served
	return err
}

func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Status()); err != nil {
		h.logger.Debug("failed to write status", "error", err)
	}
}

func (h *Hub) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, ok := h.subscribe()
	if !ok {
		return
	}
	defer h.unsubscribe(ch)

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// the reader only notices the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case st, ok := <-ch:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "dev session ended"))
				return
			}
			if err := conn.WriteJSON(st); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// subscribe registers a client queue primed with the current status.
func (h *Hub) subscribe() (chan protocol.DevStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan protocol.DevStatus, wsQueueSize)
	ch <- h.status
	h.clients[ch] = struct{}{}
	return ch, true
}

func (h *Hub) unsubscribe(ch chan protocol.DevStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// push queues st, dropping the oldest snapshot when the queue is full.
func push(ch chan protocol.DevStatus, st protocol.DevStatus) {
	select {
	case ch <- st:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- st:
	default:
	}
}
