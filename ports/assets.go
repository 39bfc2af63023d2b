package ports

import "context"

// AssetFetcher downloads an asset referenced by a relayed unit and returns its local path
type AssetFetcher interface {
	Fetch(ctx context.Context, ref string) (string, error)
}
