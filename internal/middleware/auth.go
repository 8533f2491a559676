package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fleetpay/treasury/internal/models"
	"github.com/fleetpay/treasury/internal/services"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

type contextKey string

const principalKey contextKey = "principal"

var tokenBlacklist *redis.Client

// InitAuthMiddleware enables the Redis token blacklist. Without it revoked
// tokens stay valid until they expire.
func InitAuthMiddleware(client *redis.Client) {
	tokenBlacklist = client
}

func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get token from Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			services.SendCodedError(w, "Authorization header required", "UNAUTHENTICATED", http.StatusUnauthorized, nil)
			return
		}

		// Extract token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			services.SendCodedError(w, "Invalid authorization header format", "UNAUTHENTICATED", http.StatusUnauthorized, nil)
			return
		}

		token := parts[1]

		if tokenBlacklist != nil {
			revoked, err := tokenBlacklist.Exists(r.Context(), services.BlacklistPrefix+token).Result()
			if err == nil && revoked > 0 {
				services.SendCodedError(w, "Token revoked", "UNAUTHENTICATED", http.StatusUnauthorized, nil)
				return
			}
		}

		principal, err := validateToken(token)
		if err != nil {
			services.SendCodedError(w, "Invalid token", "UNAUTHENTICATED", http.StatusUnauthorized, nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// RequireRole lets the request through only for the listed roles.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				services.SendCodedError(w, "Unauthorized", "UNAUTHENTICATED", http.StatusUnauthorized, nil)
				return
			}
			for _, role := range roles {
				if principal.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			services.SendCodedError(w, "Forbidden", "FORBIDDEN", http.StatusForbidden, nil)
		})
	}
}

func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey).(models.Principal)
	return p, ok && p.ID != ""
}

func validateToken(tokenString string) (models.Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return []byte(viper.GetString("jwt.secret_key")), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.Principal{}, err
	}
	if !token.Valid {
		return models.Principal{}, errors.New("token not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Principal{}, errors.New("unexpected claims type")
	}

	userID, ok := claims["user_id"]
	if !ok {
		return models.Principal{}, errors.New("missing user_id claim")
	}
	role, _ := claims["role"].(string)
	if !models.Role(role).Valid() {
		return models.Principal{}, fmt.Errorf("invalid role claim %q", role)
	}

	return models.Principal{ID: fmt.Sprintf("%v", userID), Role: models.Role(role)}, nil
}
