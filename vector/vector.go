// Package vector defines the sink that receives block embeddings.
package vector

import (
	"context"
)

// Point is one embedding with its identity and payload
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// Sink receives embeddings in bulk. Upsert replaces points with the same ID.
type Sink interface {
	Upsert(ctx context.Context, points []Point) error
	Close() error
}

// Match is a search hit ordered by ascending distance
type Match struct {
	ID       string
	Distance float32
	Payload  map[string]interface{}
}

// Searcher is implemented by sinks that support nearest-neighbour lookup
type Searcher interface {
	Search(ctx context.Context, query []float32, k int) ([]Match, error)
}

// Discard accepts and drops every point
type Discard struct{}

// Upsert implements Sink
func (Discard) Upsert(context.Context, []Point) error { return nil }

// Close implements Sink
func (Discard) Close() error { return nil }
