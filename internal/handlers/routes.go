package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/pion/logging"

	"github.com/mossy-p/rtc-coordinator/internal/middleware"
	"github.com/mossy-p/rtc-coordinator/internal/signaling"
)

// RouteConfig carries what the HTTP surface needs.
type RouteConfig struct {
	Coordinator          *signaling.Coordinator
	Store                RoomStore
	JWTSecret            string
	AllowedOrigins       []string
	MaxMessagesPerSecond int
	LoggerFactory        logging.LoggerFactory
}

// Register mounts the health check, the room API and the signaling
// endpoint on router.
func Register(router *gin.Engine, cfg RouteConfig) {
	rooms := NewRoomHandler(cfg.Coordinator, cfg.Store, cfg.LoggerFactory)
	ws := NewSignalingHandler(cfg.Coordinator, cfg.MaxMessagesPerSecond, cfg.LoggerFactory)
	auth := middleware.JWTAuth(cfg.JWTSecret)

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", Login(cfg.JWTSecret))

		apiGroup.GET("/rooms", rooms.ListRooms)
		apiGroup.GET("/rooms/:roomId", rooms.GetRoom)
		apiGroup.POST("/rooms", auth, rooms.CreateRoom)
		apiGroup.DELETE("/rooms/:roomId", auth, rooms.DeleteRoom)
		apiGroup.DELETE("/rooms/:roomId/peers/:peerId", auth, rooms.RemovePeer)
	}

	router.GET("/ws", ws.HandleSignaling)
}
