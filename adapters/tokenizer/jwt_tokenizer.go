package tokenizer

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/ports"
)

const issuer = "clearway"

var _ ports.Tokenizer = (*JWTTokenizer)(nil)

// JWTTokenizer implements the Tokenizer interface using HMAC-signed JWTs
type JWTTokenizer struct {
	secret []byte
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(secret []byte) *JWTTokenizer {
	return &JWTTokenizer{secret: secret}
}

// PrincipalToToken converts a Principal to a JWT token
func (j *JWTTokenizer) PrincipalToToken(principal *core.Principal) (string, error) {
	claims := PrincipalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   principal.Subject,
			ID:        principal.ID,
			ExpiresAt: jwt.NewNumericDate(principal.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(principal.IssuedAt),
			Audience:  jwt.ClaimStrings{string(principal.Role)},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// TokenToPrincipal converts a JWT token issued for role to a Principal
func (j *JWTTokenizer) TokenToPrincipal(tokenStr string, role core.Role) (*core.Principal, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &PrincipalClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithAudience(string(role)), jwt.WithIssuer(issuer))

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, core.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return nil, core.ErrInvalidAudience
	case err != nil:
		return nil, fmt.Errorf("failed to parse token: %w", core.ErrInvalidToken)
	}

	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*PrincipalClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	principal := &core.Principal{
		ID:      claims.ID,
		Subject: claims.Subject,
		Role:    role,
	}
	if claims.IssuedAt != nil {
		principal.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time
	}

	return principal, nil
}
