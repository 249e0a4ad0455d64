package service

import (
	"fmt"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================
// Supabase access tokens
// ============================================================

// supabaseAudience is the aud claim of tokens issued to signed-in users.
const supabaseAudience = "authenticated"

// supabaseClaims represents the claims of a Supabase access token.
type supabaseClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier validates Supabase access tokens signed with the project JWT secret.
type TokenVerifier struct {
	jwtSecret []byte
}

// NewTokenVerifier creates a verifier for the given HS256 secret.
func NewTokenVerifier(jwtSecret string) *TokenVerifier {
	return &TokenVerifier{jwtSecret: []byte(jwtSecret)}
}

// Verify parses tokenString and returns the caller it identifies.
func (v *TokenVerifier) Verify(tokenString string) (*domain.Caller, error) {
	token, err := jwt.ParseWithClaims(tokenString, &supabaseClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.jwtSecret, nil
	}, jwt.WithAudience(supabaseAudience), jwt.WithExpirationRequired())
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*supabaseClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Subject == "" {
		return nil, &domain.ErrUnauthorized{Message: "token has no subject"}
	}

	return &domain.Caller{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}
