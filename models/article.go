package models

import (
	"time"

	"github.com/teranos/bfhtw/crud"
)

// Article is a PubMed Central article discovered by metadata ingestion
type Article struct {
	PMCID              string
	AccessionID        string
	PMID               string
	DOI                string
	Title              string
	Journal            string
	PublicationDate    string
	Authors            []string
	SourceDB           string
	LicenseType        string
	FTPPath            string
	FullTextDownloaded bool
	DiscoveredAt       time.Time
}

// ArticleDefinition is the pubmed_fulltext_links schema
var ArticleDefinition = crud.Definition{
	{Name: "pmcid", Type: crud.TypeText, PrimaryKey: true},
	{Name: "accession_id", Type: crud.TypeText},
	{Name: "pmid", Type: crud.TypeText, Nullable: true},
	{Name: "doi", Type: crud.TypeText, Nullable: true},
	{Name: "title", Type: crud.TypeText},
	{Name: "journal", Type: crud.TypeText, Nullable: true},
	{Name: "publication_date", Type: crud.TypeText, Nullable: true},
	{Name: "authors", Type: crud.TypeList, Nullable: true},
	{Name: "source_db", Type: crud.TypeText},
	{Name: "license_type", Type: crud.TypeText, Nullable: true},
	{Name: "ftp_path", Type: crud.TypeText, Nullable: true},
	{Name: "full_text_downloaded", Type: crud.TypeBoolean, Default: false},
	{Name: "discovered_at", Type: crud.TypeText, Nullable: true},
}

// ToFieldMap implements crud.Record
func (a *Article) ToFieldMap() crud.FieldMap {
	m := crud.FieldMap{
		"pmcid":                a.PMCID,
		"accession_id":         a.AccessionID,
		"pmid":                 optional(a.PMID),
		"doi":                  optional(a.DOI),
		"title":                a.Title,
		"journal":              optional(a.Journal),
		"publication_date":     optional(a.PublicationDate),
		"authors":              nil,
		"source_db":            a.SourceDB,
		"license_type":         optional(a.LicenseType),
		"ftp_path":             optional(a.FTPPath),
		"full_text_downloaded": a.FullTextDownloaded,
		"discovered_at":        nil,
	}
	if len(a.Authors) > 0 {
		m["authors"] = a.Authors
	}
	if !a.DiscoveredAt.IsZero() {
		m["discovered_at"] = a.DiscoveredAt
	}
	return m
}

// FromFieldMap populates a from a decoded row
func (a *Article) FromFieldMap(m crud.FieldMap) error {
	*a = Article{
		PMCID:              m.String("pmcid"),
		AccessionID:        m.String("accession_id"),
		PMID:               m.String("pmid"),
		DOI:                m.String("doi"),
		Title:              m.String("title"),
		Journal:            m.String("journal"),
		PublicationDate:    m.String("publication_date"),
		Authors:            m.Strings("authors"),
		SourceDB:           m.String("source_db"),
		LicenseType:        m.String("license_type"),
		FTPPath:            m.String("ftp_path"),
		FullTextDownloaded: m.Bool("full_text_downloaded"),
		DiscoveredAt:       m.Time("discovered_at"),
	}
	return nil
}

// Document seeds a processing document for a
func (a *Article) Document(docID, pipeline string, now time.Time) *Document {
	return &Document{
		DocID:           docID,
		SourceDB:        a.SourceDB,
		ExternalID:      a.PMCID,
		Format:          "abstract",
		Title:           a.Title,
		RetrievedAt:     now,
		IngestPipeline:  pipeline,
		LicenseType:     a.LicenseType,
		PublicationDate: a.PublicationDate,
		Authors:         a.Authors,
		Journal:         a.Journal,
		PMID:            a.PMID,
		DOI:             a.DOI,
	}
}
