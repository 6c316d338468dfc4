package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deepseek-chat/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas de la sesión.
func NewRouter(
	logger *zap.Logger,
	chatH *ChatHandler,
	jwtSvc *service.JWTService,
) *gin.Engine {
	r := gin.New()

	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), JWTAuthMiddleware(jwtSvc))

	// HTML y SSE fijan su propio Content-Type.
	r.GET("/transcript.html", chatH.GetTranscriptHTML)
	r.GET("/events", chatH.StreamEvents)

	api := r.Group("", jsonContentTypeMiddleware())
	api.GET("/transcript", chatH.GetTranscript)
	api.GET("/conversations", chatH.ListConversations)
	api.POST("/submit", chatH.Submit)
	api.POST("/retry", chatH.Retry)
	api.POST("/ack", chatH.Acknowledge)
	api.POST("/new", chatH.NewChat)
	api.POST("/save", chatH.Save)
	api.POST("/load", chatH.Load)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap; con token
// válido también registra el cliente.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		}
		if claims, ok := GetAuthClaims(c); ok {
			fields = append(fields, zap.String("client", claims.Client))
		}
		logger.Info("request", fields...)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
