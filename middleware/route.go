package middleware

import (
	midsec "PPGate/middleware/security"

	"github.com/gin-gonic/gin"
)

type RouteOpt struct {
	// Token 非空时要求 Authorization: Bearer <Token>
	Token string
}

func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.Token != "" {
		r.POST(path, midsec.Middleware(midsec.DefaultOptions(opt.Token)), handler)
		return
	}
	r.POST(path, handler)
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.Token != "" {
		r.GET(path, midsec.Middleware(midsec.DefaultOptions(opt.Token)), handler)
		return
	}
	r.GET(path, handler)
}
