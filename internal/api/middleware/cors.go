// cors.go — CORS middleware трекера задач.
// API вызывается браузерным фронтендом с другого origin; токен передаётся
// с credentials, поэтому Allow-Origin отражает Origin запроса, а не "*".
package middleware

import (
	"net/http"
)

// CORS возвращает middleware, добавляющий CORS-заголовки ко всем ответам
// и отвечающий на preflight-запросы (OPTIONS) без прохода по цепочке.
func CORS() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				// Allow-Credentials несовместим с Allow-Origin: *
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
