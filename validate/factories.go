package validate

import (
	"github.com/teranos/bfhtw/crud"
)

// DocumentMinTextLength is the minimum block length accepted by ForDocuments
const DocumentMinTextLength = 50

// ForMetadata builds the chain for metadata records: schema, completeness
// and, when refs are given, referential integrity.
func ForMetadata(def crud.Definition, required []string, refs map[string]Reference, strict bool, opts ...ChainOption) *Chain {
	validators := []Validator{
		NewSchemaValidator(def, required, strict),
		&MetadataValidator{required: required},
	}
	if len(refs) > 0 {
		validators = append(validators, NewForeignKeyValidator(refs, false))
	}
	return NewChain(validators, opts...)
}

// ForDocuments builds the chain for extracted document text: schema,
// content quality scored against vocab and, when required is non-empty,
// completeness.
func ForDocuments(def crud.Definition, required []string, strict bool, vocab *Vocabulary, opts ...ChainOption) *Chain {
	validators := []Validator{
		NewSchemaValidator(def, required, strict),
		NewContentValidator(ContentOptions{
			MinLength:         DocumentMinTextLength,
			RequireVocabulary: true,
			Vocabulary:        vocab,
		}),
	}
	if len(required) > 0 {
		validators = append(validators, &MetadataValidator{required: required})
	}
	return NewChain(validators, opts...)
}
