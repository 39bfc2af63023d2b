package ports

import "github.com/layer-3/clearway/core"

// Tokenizer converts between principals and bearer tokens for the clearway API
type Tokenizer interface {
	PrincipalToToken(principal *core.Principal) (string, error)
	// TokenToPrincipal parses a token and checks it was issued for the given role
	TokenToPrincipal(token string, role core.Role) (*core.Principal, error)
}
