package middleware

import (
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrMissingAuthorization is returned when no Authorization header was sent.
	ErrMissingAuthorization = errors.New("missing authorization header")
	// ErrMalformedAuthorization is returned for headers that are not "Bearer <token>".
	ErrMalformedAuthorization = errors.New("invalid authorization header format")
)

// BearerToken extracts the token from an "Authorization: Bearer <token>" header
func BearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingAuthorization
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMalformedAuthorization
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrMalformedAuthorization
	}
	return token, nil
}
