package routes

import (
	"net/http"
	"time"

	"ai_therapist/internal/handlers"
	"ai_therapist/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, chat *handlers.ChatHandler, hub *services.AudioHub, gatherer prometheus.Gatherer) {
	// 根路由
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "AI Therapist Server Running %s", time.Now().Format(time.RFC3339))
	})

	// 对话
	r.POST("/chat", chat.Chat)
	r.GET("/history", chat.History)

	// 健康检查
	r.GET("/health", chat.Health)

	// 音频播放端
	r.GET("/ws/audio", func(c *gin.Context) {
		hub.HandleConnection(c.Writer, c.Request)
	})

	// 监控指标
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
