package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"sync/atomic"

	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/ports"
	"github.com/rs/zerolog"
)

// LivenessProbe reports whether the downstream caller is still connected
type LivenessProbe func(ctx context.Context) (bool, error)

// StreamRelay forwards upstream units to a caller while the caller is connected,
// downloading referenced assets along the way.
type StreamRelay struct {
	assets ports.AssetFetcher
	logger zerolog.Logger
}

// NewStreamRelay creates a relay. assets may be nil, in which case asset
// references pass through untouched.
func NewStreamRelay(assets ports.AssetFetcher, logger zerolog.Logger) *StreamRelay {
	return &StreamRelay{assets: assets, logger: logger}
}

// Relay returns a lazy sequence over the units of src. Liveness is checked
// before every unit and before every asset download; once the caller is gone
// the sequence ends. src is closed exactly once when iteration stops, and the
// sequence can only be ranged over once.
func (r *StreamRelay) Relay(ctx context.Context, src ports.UnitSource, alive LivenessProbe) iter.Seq2[[]byte, error] {
	var started atomic.Bool

	return func(yield func([]byte, error) bool) {
		if !started.CompareAndSwap(false, true) {
			yield(nil, core.ErrRelayConsumed)
			return
		}
		defer func() {
			if err := src.Close(); err != nil {
				r.logger.Debug().Err(err).Msg("failed to close upstream source")
			}
		}()

		for {
			if !r.connected(ctx, alive) {
				r.logger.Info().Msg("caller disconnected, stopping relay")
				return
			}

			unit, err := src.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}

			unit, ok := r.resolveAssets(ctx, unit, alive)
			if !ok {
				r.logger.Info().Msg("caller disconnected before asset download, stopping relay")
				return
			}

			if !yield(unit, nil) {
				return
			}
		}
	}
}

func (r *StreamRelay) connected(ctx context.Context, alive LivenessProbe) bool {
	if alive == nil {
		return true
	}
	ok, err := alive(ctx)
	if err != nil {
		r.logger.Debug().Err(err).Msg("liveness check failed, continuing")
		return true
	}
	return ok
}

// resolveAssets downloads the assets a unit references and annotates the unit
// with their local paths. It returns false when the caller left mid-way.
func (r *StreamRelay) resolveAssets(ctx context.Context, unit []byte, alive LivenessProbe) ([]byte, bool) {
	if r.assets == nil {
		return unit, true
	}

	var fields map[string]any
	if err := json.Unmarshal(unit, &fields); err != nil {
		return unit, true
	}
	refs := assetRefs(fields)
	if len(refs) == 0 {
		return unit, true
	}

	local := make([]string, 0, len(refs))
	for _, ref := range refs {
		if !r.connected(ctx, alive) {
			return nil, false
		}
		path, err := r.assets.Fetch(ctx, ref)
		if err != nil {
			r.logger.Warn().Err(err).Str("ref", ref).Msg("asset download failed")
			continue
		}
		local = append(local, path)
	}
	if len(local) == 0 {
		return unit, true
	}

	fields["localAssets"] = local
	annotated, err := json.Marshal(fields)
	if err != nil {
		return unit, true
	}
	return annotated, true
}

func assetRefs(fields map[string]any) []string {
	var refs []string
	if ref, ok := fields["assetUrl"].(string); ok && ref != "" {
		refs = append(refs, ref)
	}
	if list, ok := fields["imageUrls"].([]any); ok {
		for _, v := range list {
			if ref, ok := v.(string); ok && ref != "" {
				refs = append(refs, ref)
			}
		}
	}
	return refs
}
