package endpoints

import (
	"context"
	"net/http"
	"time"

	"patchbay"
	"patchbay/internal/api/handler/middleware"
	"patchbay/internal/api/service"
	"patchbay/internal/api/websocket"
	"patchbay/pkg"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, you should validate the origin
		return true
	},
}

type websocketHandler struct {
	hub           *websocket.Hub
	processor     *websocket.MessageProcessor
	mirrorService *service.MirrorService
	logger        zerolog.Logger
	config        patchbay.AppConfig
}

func newWebSocketHandler(hub *websocket.Hub, processor *websocket.MessageProcessor, mirrorService *service.MirrorService) *websocketHandler {
	return &websocketHandler{
		hub:           hub,
		processor:     processor,
		mirrorService: mirrorService,
		logger:        patchbay.Logger,
		config:        patchbay.GetConfig(),
	}
}

// WebSocketHandler sets up WebSocket routes
func WebSocketHandler(router *graceful.Graceful, hub *websocket.Hub, processor *websocket.MessageProcessor, mirrorService *service.MirrorService) {
	h := newWebSocketHandler(hub, processor, mirrorService)

	// WebSocket endpoint - requires authentication
	wsRoutes := router.Group("/api/v1/ws")
	wsRoutes.Use(middleware.AuthMiddleware(h.config))
	{
		wsRoutes.GET("/init", middleware.RequireRole(middleware.RoleOperator), h.handleWebSocket)
	}

	wsRoutes.GET("/stats", h.getStats)
}

// handleWebSocket opens a gesture session for the authenticated user
func (slf *websocketHandler) handleWebSocket(c *gin.Context) {
	clientID := uuid.New().String()
	username := pkg.GetUsername(c, "operator-"+clientID[:8])

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slf.logger.Error().Err(err).Msg("Failed to upgrade to WebSocket")
		return
	}

	client := websocket.NewClient(
		clientID,
		username,
		slf.mirrorService.NewSession(),
		slf.hub,
		conn,
		slf.processor,
		slf.logger,
	)

	select {
	case slf.hub.Register <- client:
	case <-slf.hub.Done():
		conn.Close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := slf.processor.Join(ctx, client); err != nil {
		slf.logger.Warn().Err(err).Str("clientId", clientID).Msg("Failed to send initial snapshot")
	}

	slf.logger.Info().
		Str("clientId", clientID).
		Str("username", username).
		Msg("WebSocket connection established")

	// Start client goroutines
	go client.WritePump()
	go client.ReadPump()
}

func (slf *websocketHandler) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, slf.hub.Stats())
}
