package ports

import "context"

// UnitSource yields the units of one upstream response in order.
// Next returns io.EOF once the response is exhausted.
type UnitSource interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Upstream opens calls against the protected upstream service.
// A refused call returns a *core.DenialError.
type Upstream interface {
	Open(ctx context.Context, cookie string, payload []byte) (UnitSource, error)
}
