package middleware

import (
	"net/http"
	"strings"
)

// Normalize standardizes request fields coming through proxies (Vercel/Cloudflare)
// and mail clients:
//   - trims whitespace around URL.Path
//   - trims the token query value, which mail clients tend to pad or wrap
//   - restores scheme/host from forwarding headers for absolute-URL construction
func Normalize() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p := r.URL.Path; strings.TrimSpace(p) != p {
				r.URL.Path = strings.TrimSpace(p)
			}

			if q := r.URL.Query(); q.Has("token") {
				if tok := q.Get("token"); strings.TrimSpace(tok) != tok {
					q.Set("token", strings.TrimSpace(tok))
					r.URL.RawQuery = q.Encode()
				}
			}

			if xfproto := r.Header.Get("X-Forwarded-Proto"); xfproto != "" {
				r.URL.Scheme = xfproto
			}
			if xfhost := r.Header.Get("X-Forwarded-Host"); xfhost != "" {
				r.Host = xfhost
			}
			next.ServeHTTP(w, r)
		})
	}
}
