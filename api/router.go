package api

import (
	"fetchbot/config"

	"github.com/gin-gonic/gin"
)

func SetupRouter(svc TaskService, cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	h := NewHandler(svc)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.GET("/chats/:chatId/tasks", h.handleListChatTasks)
		v1.GET("/tasks/running", h.handleListRunning)
		v1.PATCH("/tasks/:taskId/cancel", h.handleCancelTask)
	}
	return r
}
