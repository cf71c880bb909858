package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// RequireBearer rejects requests without a valid "Authorization: Bearer"
// token and attaches the verified user to the request context.
func RequireBearer(service *TokenService, logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractBearer(r.Header.Get("Authorization"))
		if token == "" {
			writeUnauthorized(w, "missing bearer token")
			return
		}
		user, err := service.Verify(token)
		if err != nil {
			logger.Warn("bearer token rejected", "path", r.URL.Path, "error", err)
			writeUnauthorized(w, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// ExtractBearer returns the token from an Authorization header value.
func ExtractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("bearer "):])
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
