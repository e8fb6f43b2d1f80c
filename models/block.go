package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/bfhtw/crud"
	"github.com/teranos/bfhtw/inference"
)

// Block is one paragraph of a document's text
type Block struct {
	BlockID         string
	DocID           string
	BlockIndex      int
	Text            string
	BlockType       string
	CharStart       int
	CharEnd         int
	TokenCount      int
	EmbeddingExists bool
	NERProcessed    bool
	CreatedAt       time.Time
}

// BlockDefinition is the blocks schema
var BlockDefinition = crud.Definition{
	{Name: "block_id", Type: crud.TypeText, PrimaryKey: true},
	{Name: "doc_id", Type: crud.TypeText},
	{Name: "block_index", Type: crud.TypeInteger},
	{Name: "text", Type: crud.TypeText},
	{Name: "block_type", Type: crud.TypeText, Nullable: true},
	{Name: "char_start", Type: crud.TypeInteger, Nullable: true},
	{Name: "char_end", Type: crud.TypeInteger, Nullable: true},
	{Name: "token_count", Type: crud.TypeInteger, Nullable: true},
	{Name: "embedding_exists", Type: crud.TypeBoolean, Default: false},
	{Name: "ner_processed", Type: crud.TypeBoolean, Default: false},
	{Name: "created_at", Type: crud.TypeText, Nullable: true},
}

// BlockID derives the ID of block index of docID. Reprocessing a document
// yields the same IDs, so its blocks and vectors are replaced, not duplicated.
func BlockID(docID string, index int) string {
	ns := uuid.NewSHA1(uuid.NameSpaceURL, []byte("bfhtw:doc:"+docID))
	return uuid.NewSHA1(ns, []byte(strconv.Itoa(index))).String()
}

// ToFieldMap implements crud.Record
func (b *Block) ToFieldMap() crud.FieldMap {
	m := crud.FieldMap{
		"block_id":         b.BlockID,
		"doc_id":           b.DocID,
		"block_index":      b.BlockIndex,
		"text":             b.Text,
		"block_type":       optional(b.BlockType),
		"char_start":       b.CharStart,
		"char_end":         b.CharEnd,
		"token_count":      b.TokenCount,
		"embedding_exists": b.EmbeddingExists,
		"ner_processed":    b.NERProcessed,
		"created_at":       nil,
	}
	if !b.CreatedAt.IsZero() {
		m["created_at"] = b.CreatedAt
	}
	return m
}

// FromFieldMap populates b from a decoded row
func (b *Block) FromFieldMap(m crud.FieldMap) error {
	*b = Block{
		BlockID:         m.String("block_id"),
		DocID:           m.String("doc_id"),
		BlockIndex:      m.Int("block_index"),
		Text:            m.String("text"),
		BlockType:       m.String("block_type"),
		CharStart:       m.Int("char_start"),
		CharEnd:         m.Int("char_end"),
		TokenCount:      m.Int("token_count"),
		EmbeddingExists: m.Bool("embedding_exists"),
		NERProcessed:    m.Bool("ner_processed"),
		CreatedAt:       m.Time("created_at"),
	}
	return nil
}

// EntityBlock holds the entity mentions extracted from one block
type EntityBlock struct {
	BlockID  string
	DocID    string
	Model    string
	Entities inference.Entities
}

// EntityBlockDefinition is the bio_entities schema; each category is a list column
var EntityBlockDefinition = func() crud.Definition {
	def := crud.Definition{
		{Name: "block_id", Type: crud.TypeText, PrimaryKey: true},
		{Name: "doc_id", Type: crud.TypeText},
		{Name: "model", Type: crud.TypeText},
	}
	for _, c := range (&inference.Entities{}).Categories() {
		def = append(def, crud.Field{Name: c.Name, Type: crud.TypeList, Nullable: true})
	}
	return def
}()

// ToFieldMap implements crud.Record
func (e *EntityBlock) ToFieldMap() crud.FieldMap {
	m := crud.FieldMap{
		"block_id": e.BlockID,
		"doc_id":   e.DocID,
		"model":    e.Model,
	}
	for _, c := range e.Entities.Categories() {
		mentions := c.Mentions
		if mentions == nil {
			mentions = []string{}
		}
		m[c.Name] = mentions
	}
	return m
}

// FromFieldMap populates e from a decoded row
func (e *EntityBlock) FromFieldMap(m crud.FieldMap) error {
	e.BlockID = m.String("block_id")
	e.DocID = m.String("doc_id")
	e.Model = m.String("model")
	e.Entities = inference.Entities{
		Medications:           m.Strings("medications"),
		Diseases:              m.Strings("diseases"),
		Symptoms:              m.Strings("symptoms"),
		TherapeuticProcedures: m.Strings("therapeutic_procedures"),
		DiagnosticProcedures:  m.Strings("diagnostic_procedures"),
		ClinicalEvents:        m.Strings("clinical_events"),
		BiologicalStructures:  m.Strings("biological_structures"),
		LabValues:             m.Strings("lab_values"),
		Dosages:               m.Strings("dosages"),
		Durations:             m.Strings("durations"),
		Times:                 m.Strings("times"),
		Other:                 m.Strings("other"),
	}
	return nil
}
