package middleware

import (
	"context"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/pollcast/pollcast/internal/core"
	"github.com/pollcast/pollcast/internal/core/token"
)

// claimsContextKey is a custom type to avoid context key collisions.
type claimsContextKey string

const ClaimsContextKey claimsContextKey = "claims"

// Authenticate verifies the bearer token on every request and stores
// the decoded claim set in the request context. Verification failures
// short-circuit with an opaque 401; handlers behind this middleware
// can assume claims are present.
func Authenticate(verifier *token.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := verifier.Verify(r.Header.Get("Authorization"))
			if err != nil {
				// Direct envelope write; internal/errors imports this
				// package, so the central responder is off limits here.
				envelope := errors.NewErrorEnvelope("UNAUTHORIZED", "Invalid JWT").
					WithCorrelationID(GetRequestID(r.Context()))
				writeErrorResponse(w, envelope, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaims retrieves the verified claim set from the context.
func GetClaims(ctx context.Context) (core.Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(core.Claims)
	return claims, ok
}
