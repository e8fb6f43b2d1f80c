// Package source abstracts the origins pipelines pull raw items from:
// remote APIs, local files and existing tables.
package source

import (
	"context"
)

// Item is one raw record as a field map
type Item = map[string]interface{}

// Source yields the full item list for one run.
//
// ValidateConnection is called once before FetchMetadata; an error from it
// aborts the run and should carry the errors.ErrConnection marker.
type Source interface {
	Identifier() string
	ValidateConnection(ctx context.Context) error
	FetchMetadata(ctx context.Context) ([]Item, error)
}

// TextFetcher resolves the text of a document from an external identifier
type TextFetcher interface {
	FetchText(ctx context.Context, id string) (string, error)
}
