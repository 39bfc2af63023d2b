package tokenizer

import "github.com/golang-jwt/jwt/v5"

// PrincipalClaims are the standard claims carried by clearway API tokens.
// The audience holds the role the token was issued for.
type PrincipalClaims struct {
	jwt.RegisteredClaims
}
