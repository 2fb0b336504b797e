package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumaworks/pulse/pkg/domain"
)

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		header   string
		expected string
	}{
		{
			name:     "query parameter",
			query:    "token=abc123",
			expected: "abc123",
		},
		{
			name:     "authorization header",
			header:   "Bearer abc123",
			expected: "abc123",
		},
		{
			name:     "query wins over header",
			query:    "token=from-query",
			header:   "Bearer from-header",
			expected: "from-query",
		},
		{
			name:     "header without bearer prefix",
			header:   "Basic abc123",
			expected: "",
		},
		{
			name:     "no token",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws?"+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			assert.Equal(t, tt.expected, TokenFromRequest(r))
		})
	}
}

func signHMAC(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTVerifier(t *testing.T) {
	verifier := NewJWTVerifier("secret")

	t.Run("valid token", func(t *testing.T) {
		token := signHMAC(t, "secret", jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})

		userID, err := verifier.Verify(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", userID)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signHMAC(t, "other-secret", jwt.RegisteredClaims{Subject: "user-1"})

		_, err := verifier.Verify(context.Background(), token)
		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		token := signHMAC(t, "secret", jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		})

		_, err := verifier.Verify(context.Background(), token)
		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		token := signHMAC(t, "secret", jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})

		_, err := verifier.Verify(context.Background(), token)
		assert.Error(t, err)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := verifier.Verify(context.Background(), "not-a-jwt")
		assert.Error(t, err)
	})
}

func TestEndpointVerifier(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer good-token", r.Header.Get("Authorization"))
			w.Write([]byte(`{"userId":"user-1"}`))
		}))
		defer srv.Close()

		verifier := NewEndpointVerifier(srv.URL, srv.Client())

		userID, err := verifier.Verify(context.Background(), "good-token")
		require.NoError(t, err)
		assert.Equal(t, "user-1", userID)
	})

	t.Run("rejected token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		verifier := NewEndpointVerifier(srv.URL, srv.Client())

		_, err := verifier.Verify(context.Background(), "bad-token")
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	})

	t.Run("empty user id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"userId":""}`))
		}))
		defer srv.Close()

		verifier := NewEndpointVerifier(srv.URL, srv.Client())

		_, err := verifier.Verify(context.Background(), "token")
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	})

	t.Run("malformed response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`not json`))
		}))
		defer srv.Close()

		verifier := NewEndpointVerifier(srv.URL, srv.Client())

		_, err := verifier.Verify(context.Background(), "token")
		assert.Error(t, err)
	})

	t.Run("provider timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte(`{"userId":"user-1"}`))
		}))
		defer srv.Close()

		verifier := NewEndpointVerifier(srv.URL, srv.Client())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := verifier.Verify(ctx, "token")
		assert.Error(t, err)
	})
}
