package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fichaclinica/intake-api/internal/practitioner"
)

type contextKey string

const claimsKey contextKey = "practitionerClaims"

// clockSkew tolerated on exp/nbf between the issuer and this service.
const clockSkew = 30 * time.Second

var (
	errMissingBearer = errors.New("missing bearer token")
	errNoSubject     = errors.New("token has no subject")
)

// practitionerTokens verifies HS-signed practitioner tokens.
type practitionerTokens struct {
	secret []byte
	parser *jwt.Parser
}

func newPractitionerTokens(secret string) *practitionerTokens {
	return &practitionerTokens{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockSkew),
		),
	}
}

func (p *practitionerTokens) verify(raw string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	if _, err := p.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}); err != nil {
		return nil, err
	}
	claims.Subject = strings.TrimSpace(claims.Subject)
	if claims.Subject == "" {
		return nil, errNoSubject
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, error) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errMissingBearer
	}
	return strings.TrimSpace(token), nil
}

// PractitionerJWT requires an HMAC-signed JWT with an expiry whose subject is
// the practitioner id. Every patient and form lookup is scoped to that id.
func PractitionerJWT(secret string) func(http.Handler) http.Handler {
	tokens := newPractitionerTokens(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "practitioner auth disabled", http.StatusUnauthorized)
				return
			}
			raw, err := bearerToken(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			claims, err := tokens.verify(raw)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, *claims)
			ctx = practitioner.WithID(ctx, claims.Subject)
			notePractitioner(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the practitioner JWT claims if present.
func ClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(jwt.RegisteredClaims)
	return claims, ok
}
