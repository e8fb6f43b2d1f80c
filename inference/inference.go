// Package inference defines the machine-learned collaborators of document
// processing: text embedding and biomedical entity extraction.
//
// Every call is failure-prone. Callers retry per call and treat a final
// failure as a warning on the block, never as a reason to abort a batch.
package inference

import (
	"context"
)

// Embedder turns text into vectors.
// Implementations must be safe for concurrent use.
type Embedder interface {
	// EmbedText embeds a single text
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts embeds texts in one call, preserving order
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// EntityExtractor annotates text with biomedical entity mentions.
// Implementations must be safe for concurrent use.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, text string) (*Entities, error)
}

// Provider bundles the services built from one configuration
type Provider interface {
	Embedder() Embedder
	EntityExtractor() EntityExtractor

	// Model identifies the extraction model, recorded on entity rows
	Model() string

	Close() error
}

// Entities are the entity mentions found in one block, by category
type Entities struct {
	Medications           []string `json:"medications"`
	Diseases              []string `json:"diseases"`
	Symptoms              []string `json:"symptoms"`
	TherapeuticProcedures []string `json:"therapeutic_procedures"`
	DiagnosticProcedures  []string `json:"diagnostic_procedures"`
	ClinicalEvents        []string `json:"clinical_events"`
	BiologicalStructures  []string `json:"biological_structures"`
	LabValues             []string `json:"lab_values"`
	Dosages               []string `json:"dosages"`
	Durations             []string `json:"durations"`
	Times                 []string `json:"times"`
	Other                 []string `json:"other"`
}

// Categories returns each category with its mentions, in a fixed order
func (e *Entities) Categories() []Category {
	return []Category{
		{"medications", e.Medications},
		{"diseases", e.Diseases},
		{"symptoms", e.Symptoms},
		{"therapeutic_procedures", e.TherapeuticProcedures},
		{"diagnostic_procedures", e.DiagnosticProcedures},
		{"clinical_events", e.ClinicalEvents},
		{"biological_structures", e.BiologicalStructures},
		{"lab_values", e.LabValues},
		{"dosages", e.Dosages},
		{"durations", e.Durations},
		{"times", e.Times},
		{"other", e.Other},
	}
}

// Count returns the total number of mentions
func (e *Entities) Count() int {
	n := 0
	for _, c := range e.Categories() {
		n += len(c.Mentions)
	}
	return n
}

// Category is one named entity bucket
type Category struct {
	Name     string
	Mentions []string
}
