package server

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"calentian-mail-pipeline/internal/config"
	"calentian-mail-pipeline/internal/handlers"
)

// SetupRouter configures routes and middleware and serves stored
// attachments as static files under their URL prefix
func SetupRouter(h *handlers.Handlers, attachments config.AttachmentsConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware())
	h.SetupRoutes(router)
	if attachments.Dir != "" {
		router.Static(attachments.URLPrefix, attachments.Dir)
	}
	return router
}

func loggerMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	})
}
