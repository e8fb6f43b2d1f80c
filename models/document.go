package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/teranos/bfhtw/crud"
)

// Document is the master record of an ingested document. Document
// processing picks up rows with Processed=false.
type Document struct {
	DocID           string
	SourceDB        string
	ExternalID      string
	Format          string
	Title           string
	RetrievedAt     time.Time
	Processed       bool
	VectorSynced    bool
	Notes           string
	SearchTags      []string
	IngestPipeline  string
	LicenseType     string
	PublicationDate string
	Authors         []string
	Journal         string
	Abstract        string
	PMID            string
	DOI             string
}

// DocumentDefinition is the documents schema; (source_db, external_id) is unique
var DocumentDefinition = crud.Definition{
	{Name: "doc_id", Type: crud.TypeText, PrimaryKey: true},
	{Name: "source_db", Type: crud.TypeText},
	{Name: "external_id", Type: crud.TypeText},
	{Name: "format", Type: crud.TypeText, Nullable: true},
	{Name: "title", Type: crud.TypeText, Nullable: true},
	{Name: "retrieved_at", Type: crud.TypeText, Nullable: true},
	{Name: "processed", Type: crud.TypeBoolean, Default: false},
	{Name: "vector_synced", Type: crud.TypeBoolean, Default: false},
	{Name: "notes", Type: crud.TypeText, Nullable: true},
	{Name: "search_tags", Type: crud.TypeList, Nullable: true},
	{Name: "ingest_pipeline", Type: crud.TypeText, Nullable: true},
	{Name: "license_type", Type: crud.TypeText, Nullable: true},
	{Name: "publication_date", Type: crud.TypeText, Nullable: true},
	{Name: "authors", Type: crud.TypeList, Nullable: true},
	{Name: "journal", Type: crud.TypeText, Nullable: true},
	{Name: "abstract", Type: crud.TypeText, Nullable: true},
	{Name: "pmid", Type: crud.TypeText, Nullable: true},
	{Name: "doi", Type: crud.TypeText, Nullable: true},
}

// documentNamespace seeds deterministic document IDs
var documentNamespace = uuid.MustParse("5f1f7d52-6a1e-4c6f-9d3c-0b5e8a9f2c11")

// DocumentID derives a stable doc_id from the source and its external ID, so
// re-ingesting an article never creates a second document.
func DocumentID(sourceDB, externalID string) string {
	return uuid.NewSHA1(documentNamespace, []byte(sourceDB+"\x00"+externalID)).String()
}

// ToFieldMap implements crud.Record
func (d *Document) ToFieldMap() crud.FieldMap {
	m := crud.FieldMap{
		"doc_id":           d.DocID,
		"source_db":        d.SourceDB,
		"external_id":      d.ExternalID,
		"format":           optional(d.Format),
		"title":            optional(d.Title),
		"retrieved_at":     nil,
		"processed":        d.Processed,
		"vector_synced":    d.VectorSynced,
		"notes":            optional(d.Notes),
		"search_tags":      nil,
		"ingest_pipeline":  optional(d.IngestPipeline),
		"license_type":     optional(d.LicenseType),
		"publication_date": optional(d.PublicationDate),
		"authors":          nil,
		"journal":          optional(d.Journal),
		"abstract":         optional(d.Abstract),
		"pmid":             optional(d.PMID),
		"doi":              optional(d.DOI),
	}
	if !d.RetrievedAt.IsZero() {
		m["retrieved_at"] = d.RetrievedAt
	}
	if len(d.SearchTags) > 0 {
		m["search_tags"] = d.SearchTags
	}
	if len(d.Authors) > 0 {
		m["authors"] = d.Authors
	}
	return m
}

// FromFieldMap populates d from a decoded row
func (d *Document) FromFieldMap(m crud.FieldMap) error {
	*d = Document{
		DocID:           m.String("doc_id"),
		SourceDB:        m.String("source_db"),
		ExternalID:      m.String("external_id"),
		Format:          m.String("format"),
		Title:           m.String("title"),
		RetrievedAt:     m.Time("retrieved_at"),
		Processed:       m.Bool("processed"),
		VectorSynced:    m.Bool("vector_synced"),
		Notes:           m.String("notes"),
		SearchTags:      m.Strings("search_tags"),
		IngestPipeline:  m.String("ingest_pipeline"),
		LicenseType:     m.String("license_type"),
		PublicationDate: m.String("publication_date"),
		Authors:         m.Strings("authors"),
		Journal:         m.String("journal"),
		Abstract:        m.String("abstract"),
		PMID:            m.String("pmid"),
		DOI:             m.String("doi"),
	}
	return nil
}
