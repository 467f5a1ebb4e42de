package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ThaoDoan2/ElasticClient/internal/auth/apikey"
	"github.com/ThaoDoan2/ElasticClient/pkg/logger"
)

type contextKey string

const apiKeyInfoKey contextKey = "api_key_info"

// Messages returned on authentication failure.
const (
	MsgInvalidKey = "Unauthorized: Invalid API Key"
	MsgExpiredKey = "Unauthorized: API Key Expired"
)

// Auth validates the key in the given header before any routing happens,
// so an unauthenticated request is rejected regardless of its method.
// Health endpoints are exempt.
func Auth(validator apikey.KeyValidator, header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(header)
			if key == "" {
				writeError(w, http.StatusUnauthorized, MsgInvalidKey)
				return
			}

			info, err := validator.Validate(r.Context(), key)
			if err != nil {
				switch {
				case errors.Is(err, apikey.ErrInvalidKey):
					writeError(w, http.StatusUnauthorized, MsgInvalidKey)
				case errors.Is(err, apikey.ErrExpiredKey):
					writeError(w, http.StatusUnauthorized, MsgExpiredKey)
				default:
					logger.FromContext(r.Context()).Error("api key validation failed", "error", err)
					writeError(w, http.StatusInternalServerError, "authentication error")
				}
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyInfoKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetKeyInfo retrieves the validated KeyInfo from the request context.
func GetKeyInfo(ctx context.Context) *apikey.KeyInfo {
	info, _ := ctx.Value(apiKeyInfoKey).(*apikey.KeyInfo)
	return info
}
