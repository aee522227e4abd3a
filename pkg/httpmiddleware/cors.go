package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	// Origins is an allowlist; "*" allows any origin.
	Origins []string
	Headers []string
	MaxAge  int
}

// CORS answers preflight requests and sets Access-Control headers for
// allowed origins. Requests from other origins pass through without CORS
// headers, so the browser blocks them.
func CORS(cfg CORSConfig) Middleware {
	anyOrigin := false
	allowed := make(map[string]struct{}, len(cfg.Origins))
	for _, o := range cfg.Origins {
		if o == "*" {
			anyOrigin = true
		}
		allowed[strings.ToLower(o)] = struct{}{}
	}
	headers := strings.Join(cfg.Headers, ", ")
	methods := strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Add("Vary", "Origin")

			_, ok := allowed[strings.ToLower(origin)]
			if !ok && !anyOrigin {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)

			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Access-Control-Allow-Methods", methods)
			if headers != "" {
				w.Header().Set("Access-Control-Allow-Headers", headers)
			}
			if cfg.MaxAge > 0 {
				w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
