package ports

import (
	"context"

	"github.com/layer-3/clearway/core"
)

// TokenStore persists account token records
type TokenStore interface {
	LoadTokens(ctx context.Context) ([]core.Token, error)
	SaveToken(ctx context.Context, token core.Token) error
	DeleteToken(ctx context.Context, id string) error
}

// CredentialStore persists the shared clearance credential across restarts
type CredentialStore interface {
	SaveCredential(ctx context.Context, cred core.Credential) error
	// LoadCredential returns core.ErrCredentialNotFound when nothing was saved
	LoadCredential(ctx context.Context) (core.Credential, error)
}
