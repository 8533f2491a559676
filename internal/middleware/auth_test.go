package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fleetpay/treasury/internal/models"
	"github.com/go-redis/redismock/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(p.ID + "/" + string(p.Role)))
	})
}

func TestAuthMiddleware(t *testing.T) {
	viper.Set("jwt.secret_key", "test-secret")
	t.Cleanup(viper.Reset)
	InitAuthMiddleware(nil)

	valid := signToken(t, jwt.MapClaims{
		"user_id": "driver-9",
		"role":    "driver",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}, "test-secret")

	tests := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, "driver-9/driver"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + signToken(t, jwt.MapClaims{
			"user_id": "driver-9", "role": "driver", "exp": time.Now().Add(time.Hour).Unix(),
		}, "other"), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + signToken(t, jwt.MapClaims{
			"user_id": "driver-9", "role": "driver", "exp": time.Now().Add(-time.Hour).Unix(),
		}, "test-secret"), http.StatusUnauthorized, ""},
		{"unknown role", "Bearer " + signToken(t, jwt.MapClaims{
			"user_id": "x", "role": "root", "exp": time.Now().Add(time.Hour).Unix(),
		}, "test-secret"), http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			AuthMiddleware(principalEcho()).ServeHTTP(w, r)

			assert.Equal(t, tt.code, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestAuthMiddleware_Blacklist(t *testing.T) {
	viper.Set("jwt.secret_key", "test-secret")
	client, redisMock := redismock.NewClientMock()
	InitAuthMiddleware(client)
	t.Cleanup(func() {
		viper.Reset()
		InitAuthMiddleware(nil)
	})

	token := signToken(t, jwt.MapClaims{
		"user_id": "admin-1", "role": "admin", "exp": time.Now().Add(time.Hour).Unix(),
	}, "test-secret")
	redisMock.ExpectExists("blacklist:" + token).SetVal(1)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	AuthMiddleware(principalEcho()).ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(models.RoleTreasury, models.RoleAdmin)(principalEcho())

	t.Run("allowed role", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r = r.WithContext(WithPrincipal(r.Context(), models.Principal{ID: "t-1", Role: models.RoleTreasury}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("other role", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r = r.WithContext(WithPrincipal(r.Context(), models.Principal{ID: "d-1", Role: models.RoleDriver}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "FORBIDDEN")
	})

	t.Run("anonymous", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(http.NotFoundHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
