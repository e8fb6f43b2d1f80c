// Package models holds the records written by the ingestion pipelines and
// the declarative table definitions they are stored under.
package models

import (
	"context"

	"github.com/teranos/bfhtw/crud"
	"github.com/teranos/bfhtw/errors"
)

// Table names
const (
	ArticlesTable  = "pubmed_fulltext_links"
	DocumentsTable = "documents"
	BlocksTable    = "blocks"
	EntitiesTable  = "bio_entities"
)

// Definitions maps each table name to its definition
var Definitions = map[string]crud.Definition{
	ArticlesTable:  ArticleDefinition,
	DocumentsTable: DocumentDefinition,
	BlocksTable:    BlockDefinition,
	EntitiesTable:  EntityBlockDefinition,
}

// uniqueKeys lists the composite UNIQUE constraint of each table, if any
var uniqueKeys = map[string][]string{
	DocumentsTable: {"source_db", "external_id"},
}

// Tables opens the handles for every record table
type Tables struct {
	Articles  *crud.Table
	Documents *crud.Table
	Blocks    *crud.Table
	Entities  *crud.Table
}

// OpenTables binds every definition on store and creates missing tables
func OpenTables(ctx context.Context, store *crud.Store) (*Tables, error) {
	open := func(name string) (*crud.Table, error) {
		tbl, err := store.Table(name, Definitions[name])
		if err != nil {
			return nil, err
		}
		if err := tbl.CreateIfNotExists(ctx, "", uniqueKeys[name]...); err != nil {
			return nil, errors.Wrapf(err, "prepare table %s", name)
		}
		return tbl, nil
	}

	var (
		t   Tables
		err error
	)
	if t.Articles, err = open(ArticlesTable); err != nil {
		return nil, err
	}
	if t.Documents, err = open(DocumentsTable); err != nil {
		return nil, err
	}
	if t.Blocks, err = open(BlocksTable); err != nil {
		return nil, err
	}
	if t.Entities, err = open(EntitiesTable); err != nil {
		return nil, err
	}
	return &t, nil
}

// optional turns "" into nil so nullable columns store NULL
func optional(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
