package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lumaworks/pulse/pkg/domain"
	"github.com/lumaworks/pulse/pkg/errors"
)

// Verifier validates a bearer token and resolves the identity that owns it.
// Verification is expected to complete within the context deadline; a
// timeout is treated as a rejection by the caller.
type Verifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// TokenFromRequest extracts the bearer token from an upgrade request. The
// token travels as the `token` query parameter, with the Authorization
// header as a fallback.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}

	return ""
}

// JWTVerifier verifies tokens locally against a shared HMAC secret
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
	}
}

// Verify implements the Verifier interface
func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeUnauthorized, "INVALID_TOKEN", "token verification failed")
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", errors.New(errors.ErrorTypeUnauthorized, "MISSING_SUBJECT", "token carries no subject claim")
	}

	return subject, nil
}

// EndpointVerifier submits tokens to an external identity-verification
// endpoint over HTTP
type EndpointVerifier struct {
	endpoint string
	client   *http.Client
}

// NewEndpointVerifier creates a new endpoint verifier
func NewEndpointVerifier(endpoint string, client *http.Client) *EndpointVerifier {
	if client == nil {
		client = http.DefaultClient
	}

	return &EndpointVerifier{
		endpoint: endpoint,
		client:   client,
	}
}

// Verify implements the Verifier interface. The identity provider is
// expected to answer 200 with `{"userId": "..."}` for a valid token.
func (v *EndpointVerifier) Verify(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "VERIFY_REQUEST", "failed to build verification request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeTimeout, "VERIFY_UNREACHABLE", "identity provider unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", domain.ErrUnauthenticated
	}

	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeProtocol, "VERIFY_RESPONSE", "malformed identity provider response")
	}

	if body.UserID == "" {
		return "", domain.ErrUnauthenticated
	}

	return body.UserID, nil
}
