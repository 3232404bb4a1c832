package middleware

import (
	"github.com/gin-gonic/gin"

	midsec "APChat/middleware/security"
)

type RouteOpt struct {
	IsAuth bool
}

// POST 封装：IsAuth 时强制 JWT
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		o := midsec.DefaultOptions()
		o.Required = true
		r.POST(path, midsec.Middleware(o), handler)
	} else {
		r.POST(path, handler)
	}
}

// GET 封装
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		o := midsec.DefaultOptions()
		o.Required = true
		r.GET(path, midsec.Middleware(o), handler)
	} else {
		r.GET(path, handler)
	}
}
