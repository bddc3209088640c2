package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods  = "GET,POST,OPTIONS"
	corsAllowHeaders  = "Content-Type, X-Request-ID, X-Requested-With"
	corsExposeHeaders = "Content-Disposition, X-Request-ID"
)

// CORS 生成允许指定来源访问的跨域中间件。
//
// 下载文件名通过 Content-Disposition 返回，需显式暴露给浏览器。
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := map[string]struct{}{}
	for _, origin := range allowedOrigins {
		value := strings.TrimRight(strings.TrimSpace(origin), "/")
		if value == "" {
			continue
		}
		if value == "*" {
			allowAll = true
			break
		}
		allowed[value] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowedOrigin := resolveOrigin(origin, allowAll, allowed)

			if allowedOrigin != "" {
				writeCORSHeaders(w, allowedOrigin)
			}

			if isPreflight(r) {
				if allowedOrigin == "" {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

func resolveOrigin(origin string, allowAll bool, allowed map[string]struct{}) string {
	if origin == "" {
		return ""
	}
	if allowAll {
		return "*"
	}
	if _, ok := allowed[origin]; ok {
		return origin
	}
	return ""
}

func writeCORSHeaders(w http.ResponseWriter, origin string) {
	headers := w.Header()
	headers.Set("Access-Control-Allow-Origin", origin)
	headers.Set("Access-Control-Allow-Methods", corsAllowMethods)
	headers.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	headers.Set("Access-Control-Expose-Headers", corsExposeHeaders)
	headers.Set("Access-Control-Max-Age", "600")

	if origin != "*" {
		headers.Add("Vary", "Origin")
	}
}
