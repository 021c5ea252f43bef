// Package middleware provides HTTP middleware components for the control API.
package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/wbfleet/ingestor/internal/storage"
)

const microserviceAuthHeader = "authorization-microservice"

// Static authentication errors.
var (
	ErrMissingSecret = errors.New("missing authorization-microservice header")
	ErrInvalidSecret = errors.New("invalid microservice secret")
)

// performDummyBcryptComparison runs a throwaway bcrypt comparison on the
// rejection path. The success path compares the header value with
// storage.SecureCompare and does no hashing.
func performDummyBcryptComparison() {
	_ = bcrypt.CompareHashAndPassword([]byte("dummy"), []byte("dummy"))
}

// extractSharedSecret pulls the bearer token out of the
// authorization-microservice header, mirroring the Python worker's
// MicroserviceAuthMiddleware.
func extractSharedSecret(r *http.Request) (string, bool) {
	header := r.Header.Get(microserviceAuthHeader)
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" || strings.ContainsAny(token, "\r\n") {
		return "", false
	}

	return token, true
}

// AuthenticateShared creates middleware that compares the
// authorization-microservice bearer token against a single configured
// secret, in constant time via storage.SecureCompare. There is no per-caller
// identity here — the control API has exactly one trusted client.
func AuthenticateShared(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, found := extractSharedSecret(r)
			if !found {
				performDummyBcryptComparison()
				writeAuthError(w, r, logger, ErrMissingSecret)

				return
			}

			if !storage.SecureCompare(token, secret) {
				writeAuthError(w, r, logger, ErrInvalidSecret)

				return
			}

			logger.Info("microservice request authenticated",
				slog.String("correlation_id", GetCorrelationID(r.Context())),
				slog.String("endpoint", r.URL.Path),
			)

			next.ServeHTTP(w, r)
		})
	}
}

// writeAuthError writes an RFC 7807 compliant 401 response for an
// authentication failure.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	correlationID := GetCorrelationID(r.Context())

	logger.Warn("authentication failed",
		slog.String("reason", err.Error()),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)

	if writeErr := writeRFC7807Error(w, r, http.StatusUnauthorized, err.Error(), correlationID); writeErr != nil {
		logger.Error("failed to encode authentication error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.Any("encode_error", writeErr),
		)
	}
}

// writeRFC7807Error writes an RFC 7807 compliant error response without
// importing the api package.
func writeRFC7807Error(w http.ResponseWriter, r *http.Request, statusCode int, detail, correlationID string) error {
	var title string

	switch statusCode {
	case http.StatusUnauthorized:
		title = "Unauthorized"
	case http.StatusTooManyRequests:
		title = "Too Many Requests"
	default:
		title = "Request Failed"
	}

	problem := map[string]any{
		"type":          fmt.Sprintf("https://wbfleet.dev/problems/%d", statusCode),
		"title":         title,
		"status":        statusCode,
		"detail":        detail,
		"instance":      r.URL.Path,
		"correlationId": correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)

	return json.NewEncoder(w).Encode(problem)
}
