package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"APChat/global"
	"APChat/service/chat"
	security "APChat/tools/security"
)

type Options struct {
	HeaderToken               string // 默认 "authorization"
	QueryToken                string // 浏览器 WebSocket 不能自定义头，允许 ?token=
	EnableAuthorizationBearer bool   // 默认 true
	Required                  bool   // false: 无 token 按匿名放行
}

func DefaultOptions() *Options {
	return &Options{
		HeaderToken:               "authorization",
		QueryToken:                "token",
		EnableAuthorizationBearer: true,
		Required:                  false,
	}
}

// Middleware 可选 JWT 身份绑定：带合法 token 的连接落到账号，
// 不带 token 的按匿名放行（Required=false 时）。坏 token 一律拒绝。
func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))

		// 兼容 Authorization: Bearer xxx
		if token == "" && opts.EnableAuthorizationBearer {
			if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
				if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
					token = strings.TrimSpace(authz[len("bearer "):])
				}
			}
		}
		if token == "" && opts.QueryToken != "" {
			token = strings.TrimSpace(c.Query(opts.QueryToken))
		}

		if token == "" {
			if opts.Required {
				c.AbortWithStatus(http.StatusUnauthorized)
				return
			}
			c.Next() // 匿名
			return
		}

		secret := global.GetConfig().GetJwtSecret()
		if len(secret) == 0 {
			// 未配置密钥却带了 token：忽略身份，按匿名处理
			c.Next()
			return
		}
		claims, err := security.Verify(security.DefaultOptions(secret), token)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		if sub, serr := claims.GetSubject(); serr == nil && sub != "" {
			c.Set(chat.CtxUserIDKey, sub)
		}
		c.Next()
	}
}
