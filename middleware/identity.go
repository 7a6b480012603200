package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/optlayer/optlayer"
)

// UnknownClient identifies callers that carry no forwarding headers
const UnknownClient = "unknown"

// IdentifierFunc resolves the caller identity used as a rate limit key and
// recorded with each metric
type IdentifierFunc func(ctx context.Context, req *optlayer.Request) string

// ClientIP identifies the caller by address: the first X-Forwarded-For hop,
// then X-Real-IP, then UnknownClient
func ClientIP(_ context.Context, req *optlayer.Request) string {
	// Try X-Forwarded-For first (for proxied requests)
	if xff := req.HeaderValue("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	// Try X-Real-IP
	if xri := strings.TrimSpace(req.HeaderValue("X-Real-IP")); xri != "" {
		return xri
	}

	return UnknownClient
}

// BearerSubject identifies callers by the "sub" claim of an HMAC-signed JWT
// in the Authorization header. Requests without a valid token are identified
// by fallback, or ClientIP when fallback is nil.
func BearerSubject(secret string, fallback IdentifierFunc) IdentifierFunc {
	if fallback == nil {
		fallback = ClientIP
	}
	key := []byte(secret)

	return func(ctx context.Context, req *optlayer.Request) string {
		token, ok := bearerToken(req)
		if !ok {
			return fallback(ctx, req)
		}

		subject, err := tokenSubject(token, key)
		if err != nil || subject == "" {
			return fallback(ctx, req)
		}

		return "user:" + subject
	}
}

func bearerToken(req *optlayer.Request) (string, bool) {
	auth := req.HeaderValue("Authorization")
	if auth == "" {
		return "", false
	}

	scheme, token, found := strings.Cut(auth, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}

func tokenSubject(tokenString string, key []byte) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return key, nil
	})
	if err != nil {
		return "", err
	}

	if !token.Valid {
		return "", errors.New("invalid token")
	}

	return token.Claims.GetSubject()
}

type identityKey struct{}

// withIdentitySlot gives inner layers a place to report the identity they
// resolved, so monitoring records the same key the rate limiter counted
func withIdentitySlot(ctx context.Context) (context.Context, *string) {
	slot := new(string)
	return context.WithValue(ctx, identityKey{}, slot), slot
}

func setIdentity(ctx context.Context, id string) {
	if slot, ok := ctx.Value(identityKey{}).(*string); ok {
		*slot = id
	}
}
