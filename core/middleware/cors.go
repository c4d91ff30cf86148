package middleware

import (
	"strconv"
	"time"

	"github.com/searchktools/wirehttp/core/http"
)

// CORSConfig controls the Access-Control-* headers
type CORSConfig struct {
	AllowOrigin  string
	AllowMethods string
	AllowHeaders string
	MaxAge       time.Duration
}

// DefaultCORSConfig allows any origin and caches preflights for a day
var DefaultCORSConfig = CORSConfig{
	AllowOrigin:  "*",
	AllowMethods: "GET, POST, PUT, DELETE, PATCH, OPTIONS",
	AllowHeaders: "Content-Type, Authorization, X-Request-Id",
	MaxAge:       24 * time.Hour,
}

// CORS answers OPTIONS preflights with 204 and adds
// Access-Control-Allow-Origin to every other response.
func CORS(cfg CORSConfig) Middleware {
	maxAge := strconv.FormatInt(int64(cfg.MaxAge/time.Second), 10)

	return Funcs{
		OnBefore: func(x *Exchange) {
			if x.Request.Method != "OPTIONS" {
				return
			}
			resp := http.NewResponse(http.StatusNoContent).
				SetHeader("Access-Control-Allow-Origin", cfg.AllowOrigin).
				SetHeader("Access-Control-Allow-Methods", cfg.AllowMethods).
				SetHeader("Access-Control-Allow-Headers", cfg.AllowHeaders).
				SetHeader("Access-Control-Max-Age", maxAge)
			resp.KeepAlive = x.Request.WantsKeepAlive()
			x.Abort(resp)
		},
		OnAfter: func(x *Exchange) {
			x.Response.SetHeader("Access-Control-Allow-Origin", cfg.AllowOrigin)
		},
	}
}
