package guard

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"skin-accounts/internal/respond"
)

const MaintenanceTokenType = "maintenance"

// Middleware only admits HS256 tokens of type "maintenance". An empty secret
// hides the route entirely.
func Middleware(jwtSecret string, next http.Handler) http.Handler {
	secret := []byte(strings.TrimSpace(jwtSecret))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(secret) == 0 {
			respond.Error(w, http.StatusNotFound, "not found")
			return
		}

		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			respond.Error(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			respond.Error(w, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		tokenStr := strings.TrimSpace(parts[1])
		if tokenStr == "" {
			respond.Error(w, http.StatusUnauthorized, "invalid authorization token")
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			respond.Error(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if tokenType, _ := claims["typ"].(string); tokenType != MaintenanceTokenType {
			respond.Error(w, http.StatusUnauthorized, "invalid token type")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// IssueMaintenanceToken signs a short-lived token for cron callers.
func IssueMaintenanceToken(jwtSecret, subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(jwtSecret) == "" {
		return "", errors.New("maintenance secret is empty")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"typ": MaintenanceTokenType,
	}
	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(jwtSecret)))
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return encoded, nil
}
