package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mklimuk/station/sink"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub keeps the latest sample and streams new ones to websocket clients.
type Hub struct {
	mx      sync.Mutex
	latest  *sink.Sample
	clients map[*websocket.Conn]bool
	logger  *slog.Logger
}

var _ sink.Publisher = &Hub{}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[*websocket.Conn]bool), logger: logger}
}

func (h *Hub) Publish(ctx context.Context, s sink.Sample) error {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.latest = &s
	for client := range h.clients {
		if err := client.WriteJSON(s); err != nil {
			h.logger.Warn("websocket write error", "remote", client.RemoteAddr().String(), "error", err)
			_ = client.Close()
			delete(h.clients, client)
		}
	}
	return nil
}

func (h *Hub) Latest() (sink.Sample, bool) {
	h.mx.Lock()
	defer h.mx.Unlock()
	if h.latest == nil {
		return sink.Sample{}, false
	}
	return *h.latest, true
}

func (h *Hub) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/reading", h.handleReading)
	r.GET("/ws", h.handleWebSocket)
	return r
}

// Run serves the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: h.Router(), ReadHeaderTimeout: 5 * time.Second}
	errs := make(chan error, 1)
	go func() {
		h.logger.Info("server starting", "addr", addr)
		errs <- srv.ListenAndServe()
	}()
	select {
	case err := <-errs:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func (h *Hub) handleReading(c *gin.Context) {
	s, ok := h.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no reading yet"})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Hub) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	h.mx.Lock()
	h.clients[conn] = true
	if h.latest != nil {
		if err := conn.WriteJSON(*h.latest); err != nil {
			delete(h.clients, conn)
			h.mx.Unlock()
			return
		}
	}
	total := len(h.clients)
	h.mx.Unlock()
	h.logger.Debug("websocket client connected", "clients", total)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.mx.Lock()
	delete(h.clients, conn)
	h.mx.Unlock()
	h.logger.Debug("websocket client disconnected")
}
