package auth

import "github.com/golang-jwt/jwt/v5"

// AccessTokenPayload is what a token is minted for: one user acting inside
// one tenant.
type AccessTokenPayload struct {
	UserID   int64
	TenantID int64
	JTI      string
}

// AccessTokenClaims is the typed JWT presented by API callers.
type AccessTokenClaims struct {
	UserID   int64 `json:"user_id"`
	TenantID int64 `json:"tenant_id"`
	jwt.RegisteredClaims
}
