package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"APChat/global"
)

// Origin 白名单校验：未配置 APCHAT_ALLOWED_ORIGINS 时放行全部（开发态）。
// 只拦 /ws 握手；同源工具（curl 等）不带 Origin 头，放行。
func Origin() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed := global.GetConfig().Server.AllowedOrigins
		if len(allowed) == 0 {
			c.Next()
			return
		}
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		for _, a := range allowed {
			if strings.EqualFold(strings.TrimRight(a, "/"), strings.TrimRight(origin, "/")) {
				c.Next()
				return
			}
		}
		c.AbortWithStatus(http.StatusForbidden)
	}
}
