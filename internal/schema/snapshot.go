// Copyright (c) 2026 QueryGate. All rights reserved.

/*
Package schema introspects PostgreSQL catalogs into immutable snapshots and
caches them per database.

# Architecture

A [Snapshot] is a point-in-time description of one database's schema. It is
built once by the introspector, validated, published atomically by the
cache, and treated as read-only thereafter. Both the language-model prompt
and the access-policy checks consume the same snapshot, so they can never
disagree about what exists.

# Cycle Safety

Foreign keys can form reference cycles (users → orders → users). Targets
are therefore stored as (schema, table, column) identifier triples, never
as pointers into the snapshot, and resolved on demand.
*/
package schema

import (
	"strings"
	"time"
)

// Snapshot is an immutable description of a database's schema.
type Snapshot struct {
	// Database is the connection descriptor name the snapshot belongs to.
	Database string

	// Tables is keyed by lower-cased "schema.table".
	Tables map[string]*Table

	// Views, Enums are auxiliary catalog objects, rendered for the model
	// but not subject to row-count bookkeeping.
	Views []View
	Enums []EnumType

	// CachedAt is when the introspection ran.
	CachedAt time.Time

	// viewColumns holds view column lists between introspection passes,
	// keyed like Tables. Attached to Views when those are loaded.
	viewColumns map[string][]Column
}

// Table describes one relation.
type Table struct {
	Schema  string
	Name    string
	Comment string

	// Columns preserve catalog ordinal order.
	Columns []Column
	Indexes []Index

	// EstimatedRows comes from pg_class.reltuples and feeds the
	// large-table sequential-scan gate.
	EstimatedRows int64
}

// Column describes one attribute of a table or view.
type Column struct {
	Name     string
	DataType string
	Nullable bool

	IsPrimaryKey bool
	IsUnique     bool
	Default      string
	Comment      string

	// ForeignKey, when non-nil, names the referenced column by identifier.
	ForeignKey *ForeignKeyRef

	// EnumValues is populated when DataType is a known enum type.
	EnumValues []string
}

// ForeignKeyRef identifies a foreign-key target without owning it.
type ForeignKeyRef struct {
	Schema string
	Table  string
	Column string
}

// Index describes one index on a table.
type Index struct {
	Name    string
	Columns []string
	// Kind is the access method: btree, hash, gin, gist, brin.
	Kind    string
	Unique  bool
	Primary bool
}

// View describes one view with its column list and definition text.
type View struct {
	Schema     string
	Name       string
	Columns    []Column
	Definition string
}

// EnumType describes one user-defined enum.
type EnumType struct {
	Schema string
	Name   string
	Values []string
}

// # Lookup Helpers

// Key builds the canonical lower-cased map key for a table reference.
// An empty schema defaults to public.
func Key(schemaName, tableName string) string {
	if schemaName == "" {
		schemaName = "public"
	}
	return strings.ToLower(schemaName) + "." + strings.ToLower(tableName)
}

// Lookup finds a table by (schema, table), case-insensitively.
// An empty schema matches the public schema.
func (s *Snapshot) Lookup(schemaName, tableName string) (*Table, bool) {
	t, ok := s.Tables[Key(schemaName, tableName)]
	return t, ok
}

// RowEstimate returns the cached reltuples estimate for a table, or 0 when
// the table is unknown.
func (s *Snapshot) RowEstimate(schemaName, tableName string) int64 {
	if t, ok := s.Lookup(schemaName, tableName); ok {
		return t.EstimatedRows
	}
	return 0
}

// ColumnNames returns the ordered column names of a table, for SELECT *
// expansion.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether the table has a column, case-insensitively.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// resolveForeignKeys is the second introspection pass: FK references whose
// target table is not in the snapshot are cleared so the rendering never
// points at something the model cannot see.
func (s *Snapshot) resolveForeignKeys() {
	for _, t := range s.Tables {
		for i := range t.Columns {
			fk := t.Columns[i].ForeignKey
			if fk == nil {
				continue
			}
			if _, ok := s.Lookup(fk.Schema, fk.Table); !ok {
				t.Columns[i].ForeignKey = nil
			}
		}
	}
}
