package middleware

import (
	"strings"

	"github.com/searchktools/wirehttp/core/http"
)

// RequireContentType rejects POST, PUT and PATCH requests whose
// Content-Type does not contain want with 415. With prefixes, only paths
// starting with one of them are checked.
func RequireContentType(want string, prefixes ...string) Middleware {
	return Funcs{
		OnBefore: func(x *Exchange) {
			switch x.Request.Method {
			case "POST", "PUT", "PATCH":
			default:
				return
			}
			if !hasAnyPrefix(x.Request.Path, prefixes) {
				return
			}
			if ct, _ := x.Request.Header(http.HeaderContentType); strings.Contains(ct, want) {
				return
			}
			resp := http.Text(http.StatusUnsupportedMediaType, "Expected Content-Type: "+want)
			resp.KeepAlive = x.Request.WantsKeepAlive()
			x.Abort(resp)
		},
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
