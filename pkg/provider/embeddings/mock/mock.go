// Package mock provides a test double for the embeddings.Provider interface.
//
// When EmbedResult is nil the mock derives a deterministic vector from the
// text's bytes, so identical texts embed identically and tests can exercise
// similarity ordering without a live model.
package mock

import (
	"context"
	"sync"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// EmbedResult, if set, is returned for every text.
	EmbedResult []float32

	// Err, if non-nil, is returned from Embed and EmbedBatch.
	Err error

	// DimensionsValue is returned by Dimensions. Defaults to 8.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// Texts records every text submitted, in order.
	Texts []string
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed records text and returns its vector.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, text)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.vector(text), nil
}

// EmbedBatch records texts and returns one vector per text.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, texts...)
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

// Dimensions returns DimensionsValue, or 8 when unset.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dims()
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

func (p *Provider) dims() int {
	if p.DimensionsValue > 0 {
		return p.DimensionsValue
	}
	return 8
}

// vector must be called with p.mu held.
func (p *Provider) vector(text string) []float32 {
	if p.EmbedResult != nil {
		out := make([]float32, len(p.EmbedResult))
		copy(out, p.EmbedResult)
		return out
	}
	v := make([]float32, p.dims())
	for i := 0; i < len(text); i++ {
		v[i%len(v)] += float32(text[i]) / 255
	}
	return v
}
