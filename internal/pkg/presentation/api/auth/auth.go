package auth

import (
	"net/http"

	"github.com/go-chi/jwtauth/v5"
)

func NewTokenAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}

// RequireToken guards mutating management endpoints. Tokens are minted
// externally; this service only verifies them.
func RequireToken(tokenAuth *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return jwtauth.Verifier(tokenAuth)(jwtauth.Authenticator(next))
	}
}
