// Package mock provides deterministic inference services for tests and
// offline runs.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/teranos/bfhtw/inference"
)

// DefaultDimensions matches the default vector sink width
const DefaultDimensions = 384

// Embedder returns FNV-seeded unit vectors: the same text always yields
// the same vector. Set EmbedTextsFunc to inject failures.
type Embedder struct {
	Dimensions     int
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	calls atomic.Int64
}

// NewEmbedder creates a mock embedder; dims <= 0 uses DefaultDimensions
func NewEmbedder(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Embedder{Dimensions: dims}
}

// EmbedText implements inference.Embedder
func (m *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts implements inference.Embedder
func (m *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	if m.EmbedTextsFunc != nil {
		return m.EmbedTextsFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(t, m.Dimensions)
	}
	return out, nil
}

// Calls returns the number of EmbedTexts calls
func (m *Embedder) Calls() int { return int(m.calls.Load()) }

// Vector derives a deterministic unit vector of dim components from text
func Vector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vec := make([]float32, dim)
	var sum float64
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000)/1000.0 - 0.5
		sum += float64(vec[i]) * float64(vec[i])
	}
	if sum > 0 {
		norm := float32(1 / math.Sqrt(sum))
		for i := range vec {
			vec[i] *= norm
		}
	}
	return vec
}

// EntityExtractor tags words from small fixed lexicons. Set ExtractFunc to
// inject failures.
type EntityExtractor struct {
	ExtractFunc func(ctx context.Context, text string) (*inference.Entities, error)

	calls atomic.Int64
}

// NewEntityExtractor creates a mock extractor
func NewEntityExtractor() *EntityExtractor {
	return &EntityExtractor{}
}

var (
	medications = map[string]bool{"cisplatin": true, "doxorubicin": true, "irinotecan": true, "vincristine": true, "carboplatin": true}
	diseases    = map[string]bool{"hepatoblastoma": true, "carcinoma": true, "sarcoma": true, "lymphoma": true, "leukemia": true, "cancer": true}
	structures  = map[string]bool{"liver": true, "tumor": true, "tissue": true, "cell": true, "lung": true}
	diagnostics = map[string]bool{"biopsy": true, "mri": true, "ct": true, "ultrasound": true}
	therapies   = map[string]bool{"surgery": true, "resection": true, "transplant": true, "chemotherapy": true, "radiotherapy": true}

	dosagePattern = regexp.MustCompile(`\b\d+(?:\.\d+)?\s?(?:mg|g|ml|iu|mg/m2)\b`)
	wordPattern   = regexp.MustCompile(`[a-z0-9]+`)
)

// ExtractEntities implements inference.EntityExtractor
func (m *EntityExtractor) ExtractEntities(ctx context.Context, text string) (*inference.Entities, error) {
	m.calls.Add(1)
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, text)
	}

	lower := strings.ToLower(text)
	ents := &inference.Entities{}
	seen := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(lower, -1) {
		if seen[w] {
			continue
		}
		seen[w] = true
		switch {
		case medications[w]:
			ents.Medications = append(ents.Medications, w)
		case diseases[w]:
			ents.Diseases = append(ents.Diseases, w)
		case structures[w]:
			ents.BiologicalStructures = append(ents.BiologicalStructures, w)
		case diagnostics[w]:
			ents.DiagnosticProcedures = append(ents.DiagnosticProcedures, w)
		case therapies[w]:
			ents.TherapeuticProcedures = append(ents.TherapeuticProcedures, w)
		}
	}
	ents.Dosages = dosagePattern.FindAllString(lower, -1)
	return ents, nil
}

// Calls returns the number of ExtractEntities calls
func (m *EntityExtractor) Calls() int { return int(m.calls.Load()) }

// Provider implements inference.Provider over the mock services
type Provider struct {
	Embed   *Embedder
	Extract *EntityExtractor
}

// NewProvider creates a mock provider producing dims-wide vectors
func NewProvider(dims int) *Provider {
	return &Provider{Embed: NewEmbedder(dims), Extract: NewEntityExtractor()}
}

// Embedder implements inference.Provider
func (p *Provider) Embedder() inference.Embedder { return p.Embed }

// EntityExtractor implements inference.Provider
func (p *Provider) EntityExtractor() inference.EntityExtractor { return p.Extract }

// Model implements inference.Provider
func (p *Provider) Model() string { return "mock" }

// Close implements inference.Provider
func (p *Provider) Close() error { return nil }
