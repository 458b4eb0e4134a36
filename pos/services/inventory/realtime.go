package main

import (
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// PushChannel promove a conexão para WebSocket e registra no Hub.
// Cada frame é um ChangeEvent em JSON; mensagens do cliente são ignoradas.
func (h *InventoryHandler) PushChannel(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ [WS] Upgrade failed: %v", err)
		return
	}

	if err := h.hub.Register(conn); err != nil {
		log.Printf("❌ [WS] Register failed: %v", err)
	}
}

// ProductChangefeed transmite as mudanças de produtos via Server-Sent Events
func (h *InventoryHandler) ProductChangefeed(c *gin.Context) {
	sub, err := h.hub.Subscribe(0)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Realtime updates unavailable"})
		return
	}
	defer sub.Unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("message", gin.H{"type": "connected"})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-sub.C:
			if !ok {
				return false
			}
			if event.Type != EventProductsUpdate {
				return true
			}
			for _, change := range event.Changes {
				c.SSEvent("message", gin.H{"type": "change", "change": change})
			}
			if len(event.Changes) == 0 {
				c.SSEvent("message", gin.H{"type": "change", "data": event.Data})
			}
			return true
		}
	})
}
