package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"PPGate/tools/errs"

	"github.com/gin-gonic/gin"
)

const PPCtxAuthKey = "authorization"

type Options struct {
	Token                     string // 期望的令牌
	HeaderToken               string // 默认 "authorization"
	EnableAuthorizationBearer bool   // 默认 true
}

func DefaultOptions(token string) *Options {
	return &Options{
		Token:                     token,
		HeaderToken:               PPCtxAuthKey,
		EnableAuthorizationBearer: true,
	}
}

// Middleware 管理接口的静态令牌校验
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
		// 兼容 Authorization: Bearer xxx
		if opts.EnableAuthorizationBearer && strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = strings.TrimSpace(token[len("bearer "):])
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(opts.Token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": errs.ErrTokenInvalid.Code, "msg": errs.ErrTokenInvalid.Msg})
			return
		}
		c.Set(PPCtxAuthKey, token)
		c.Next()
	}
}
