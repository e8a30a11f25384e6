// Package extractor routes probe and fetch calls to the backend that can
// serve the locator: plain file URLs go to the direct HTTP fetcher, platform
// pages go to the yt-dlp backend.
package extractor

import (
	"context"

	"github.com/arkivist/mediavault/internal/vault"
)

// Selector implements vault.Extractor by dispatching on the locator's
// resolved platform.
type Selector struct {
	direct   vault.Extractor
	fallback vault.Extractor
}

// NewSelector builds a Selector. fallback handles every platform the direct
// fetcher does not; direct may be nil, in which case fallback takes all.
func NewSelector(direct, fallback vault.Extractor) *Selector {
	return &Selector{direct: direct, fallback: fallback}
}

// Probe resolves the locator and delegates to the owning backend.
func (s *Selector) Probe(ctx context.Context, locator string) (vault.Metadata, error) {
	identity, err := vault.ResolveIdentity(locator)
	if err != nil {
		return vault.Metadata{}, err
	}
	return s.pick(identity.Platform).Probe(ctx, locator)
}

// Fetch delegates to the owning backend.
func (s *Selector) Fetch(ctx context.Context, locator string, identity vault.Identity, opts vault.FetchOptions) (vault.FetchResult, error) {
	if identity.Zero() {
		id, err := vault.ResolveIdentity(locator)
		if err != nil {
			return vault.FetchResult{}, err
		}
		identity = id
	}
	return s.pick(identity.Platform).Fetch(ctx, locator, identity, opts)
}

func (s *Selector) pick(platform string) vault.Extractor {
	if platform == "direct" && s.direct != nil {
		return s.direct
	}
	return s.fallback
}
