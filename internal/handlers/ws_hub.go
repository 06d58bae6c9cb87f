package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"rewardengine/internal/handlers/business"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	wsSendBuffer   = 16
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// FundPoolHub pushes committed ledger events to websocket clients. It is a
// ledger observer; clients that fall behind are disconnected.
type FundPoolHub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	send chan []byte
}

func NewFundPoolHub(allowedOrigins []string) *FundPoolHub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &FundPoolHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed[origin]
			},
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// OnLedgerChange fans the event out without blocking the ledger.
func (h *FundPoolHub) OnLedgerChange(_ context.Context, evt business.LedgerEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		log.WithError(err).Error("Failed to encode ledger event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// ClientCount is the number of connected clients.
func (h *FundPoolHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *FundPoolHub) register() *wsClient {
	client := &wsClient{send: make(chan []byte, wsSendBuffer)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	return client
}

func (h *FundPoolHub) unregister(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

// HandleWebSocket upgrades the request and streams ledger events until the client leaves.
func (h *FundPoolHub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("Failed to upgrade websocket")
		return
	}
	defer conn.Close()

	client := h.register()
	defer h.unregister(client)

	clientClosed := make(chan struct{})
	go func() {
		defer close(clientClosed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case payload, ok := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientClosed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

var _ business.LedgerObserver = (*FundPoolHub)(nil)
