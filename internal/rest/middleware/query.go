package middleware

import (
	"net/http"
	"slices"
	"strings"
)

// StripEmptyQueryParams drops blank query values so that ?type= is handled
// like a missing parameter.
func StripEmptyQueryParams() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query := r.URL.Query()
			for key, values := range query {
				values = slices.DeleteFunc(values, func(v string) bool {
					return strings.TrimSpace(v) == ""
				})
				if len(values) == 0 {
					query.Del(key)
					continue
				}
				query[key] = values
			}
			r.URL.RawQuery = query.Encode()
			next.ServeHTTP(w, r)
		})
	}
}
