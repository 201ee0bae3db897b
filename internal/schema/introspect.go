// Copyright (c) 2026 QueryGate. All rights reserved.

package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/querygate/querygate/internal/pool"
)

// Introspector produces a fresh snapshot for one database. The catalog
// implementation below is the production one; tests substitute fakes.
type Introspector interface {
	Introspect(ctx context.Context, database string) (*Snapshot, error)
}

// introspectTimeout bounds one full catalog pass.
const introspectTimeout = 15 * time.Second

// # Catalog Queries

// System schemas excluded from every query.
const systemSchemas = `('pg_catalog', 'information_schema', 'pg_toast')`

const tablesQuery = `
SELECT n.nspname, c.relname,
       COALESCE(obj_description(c.oid, 'pg_class'), ''),
       GREATEST(c.reltuples::bigint, 0)
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind = 'r' AND n.nspname NOT IN ` + systemSchemas + `
ORDER BY n.nspname, c.relname;`

const columnsQuery = `
SELECT n.nspname, c.relname, c.relkind, a.attname,
       pg_catalog.format_type(a.atttypid, a.atttypmod),
       NOT a.attnotnull,
       COALESCE(pg_get_expr(ad.adbin, ad.adrelid), ''),
       COALESCE(col_description(c.oid, a.attnum), '')
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_attrdef ad ON ad.adrelid = a.attrelid AND ad.adnum = a.attnum
WHERE a.attnum > 0 AND NOT a.attisdropped
  AND c.relkind IN ('r', 'v', 'm')
  AND n.nspname NOT IN ` + systemSchemas + `
ORDER BY n.nspname, c.relname, a.attnum;`

// Key-column membership joined from the standard information schema.
const keyColumnsQuery = `
SELECT tc.table_schema, tc.table_name, kcu.column_name, tc.constraint_type
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name
 AND kcu.constraint_schema = tc.constraint_schema
WHERE tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')
  AND tc.table_schema NOT IN ` + systemSchemas + `;`

const foreignKeysQuery = `
SELECT tc.table_schema, tc.table_name, kcu.column_name,
       ccu.table_schema, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name
 AND kcu.constraint_schema = tc.constraint_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name
 AND ccu.constraint_schema = tc.constraint_schema
WHERE tc.constraint_type = 'FOREIGN KEY'
  AND tc.table_schema NOT IN ` + systemSchemas + `;`

const indexesQuery = `
SELECT n.nspname, t.relname, ic.relname, am.amname,
       ix.indisunique, ix.indisprimary,
       array_agg(a.attname ORDER BY k.ord)
FROM pg_index ix
JOIN pg_class ic ON ic.oid = ix.indexrelid
JOIN pg_class t  ON t.oid = ix.indrelid
JOIN pg_namespace n ON n.oid = t.relnamespace
JOIN pg_am am ON am.oid = ic.relam
JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord) ON TRUE
JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
WHERE n.nspname NOT IN ` + systemSchemas + `
GROUP BY n.nspname, t.relname, ic.relname, am.amname, ix.indisunique, ix.indisprimary
ORDER BY n.nspname, t.relname, ic.relname;`

const enumsQuery = `
SELECT n.nspname, t.typname,
       array_agg(e.enumlabel ORDER BY e.enumsortorder)
FROM pg_type t
JOIN pg_enum e ON e.enumtypid = t.oid
JOIN pg_namespace n ON n.oid = t.typnamespace
GROUP BY n.nspname, t.typname
ORDER BY n.nspname, t.typname;`

const viewsQuery = `
SELECT schemaname, viewname, COALESCE(definition, '')
FROM pg_views
WHERE schemaname NOT IN ` + systemSchemas + `
ORDER BY schemaname, viewname;`

// CatalogIntrospector runs the catalog queries against a pooled connection
// and folds the result sets into a [Snapshot].
type CatalogIntrospector struct {
	pools *pool.Manager
	log   *slog.Logger
}

// NewCatalogIntrospector builds the production introspector.
func NewCatalogIntrospector(pools *pool.Manager, log *slog.Logger) *CatalogIntrospector {
	return &CatalogIntrospector{pools: pools, log: log}
}

// Introspect reads the catalogs and assembles the snapshot. All queries run
// on one connection so the view is consistent enough for prompting.
func (ci *CatalogIntrospector) Introspect(ctx context.Context, database string) (*Snapshot, error) {
	queryCtx, cancel := context.WithTimeout(ctx, introspectTimeout)
	defer cancel()

	snap := &Snapshot{
		Database: database,
		Tables:   make(map[string]*Table),
		CachedAt: time.Now(),
	}

	err := ci.pools.WithConn(queryCtx, database, func(conn *pgxpool.Conn) error {
		if err := ci.loadTables(queryCtx, conn, snap); err != nil {
			return fmt.Errorf("tables: %w", err)
		}
		if err := ci.loadColumns(queryCtx, conn, snap); err != nil {
			return fmt.Errorf("columns: %w", err)
		}
		if err := ci.loadKeyColumns(queryCtx, conn, snap); err != nil {
			return fmt.Errorf("key columns: %w", err)
		}
		if err := ci.loadForeignKeys(queryCtx, conn, snap); err != nil {
			return fmt.Errorf("foreign keys: %w", err)
		}
		if err := ci.loadIndexes(queryCtx, conn, snap); err != nil {
			return fmt.Errorf("indexes: %w", err)
		}
		if err := ci.loadEnums(queryCtx, conn, snap); err != nil {
			return fmt.Errorf("enums: %w", err)
		}
		if err := ci.loadViews(queryCtx, conn, snap); err != nil {
			return fmt.Errorf("views: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("introspect %s: %w", database, err)
	}

	// Second pass: drop FK targets that do not resolve to a known table,
	// then attach enum value lists to columns of enum type.
	snap.resolveForeignKeys()
	attachEnumValues(snap)

	ci.log.Info("schema_introspected",
		slog.String("database", database),
		slog.Int("tables", len(snap.Tables)),
		slog.Int("views", len(snap.Views)),
		slog.Int("enums", len(snap.Enums)),
	)
	return snap, nil
}

func (ci *CatalogIntrospector) loadTables(ctx context.Context, conn *pgxpool.Conn, snap *Snapshot) error {
	rows, err := conn.Query(ctx, tablesQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		t := &Table{}
		if err := rows.Scan(&t.Schema, &t.Name, &t.Comment, &t.EstimatedRows); err != nil {
			return err
		}
		snap.Tables[Key(t.Schema, t.Name)] = t
	}
	return rows.Err()
}

func (ci *CatalogIntrospector) loadColumns(ctx context.Context, conn *pgxpool.Conn, snap *Snapshot) error {
	rows, err := conn.Query(ctx, columnsQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	// View columns arrive interleaved with table columns; collect them
	// here and attach when the views are loaded.
	viewColumns := make(map[string][]Column)

	for rows.Next() {
		var schemaName, tableName, relkind string
		col := Column{}
		if err := rows.Scan(&schemaName, &tableName, &relkind, &col.Name,
			&col.DataType, &col.Nullable, &col.Default, &col.Comment); err != nil {
			return err
		}

		switch relkind {
		case "r":
			if t, ok := snap.Lookup(schemaName, tableName); ok {
				t.Columns = append(t.Columns, col)
			}
		default:
			viewColumns[Key(schemaName, tableName)] = append(viewColumns[Key(schemaName, tableName)], col)
		}
	}
	snap.viewColumns = viewColumns
	return rows.Err()
}

func (ci *CatalogIntrospector) loadKeyColumns(ctx context.Context, conn *pgxpool.Conn, snap *Snapshot) error {
	rows, err := conn.Query(ctx, keyColumnsQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, tableName, columnName, constraintType string
		if err := rows.Scan(&schemaName, &tableName, &columnName, &constraintType); err != nil {
			return err
		}
		t, ok := snap.Lookup(schemaName, tableName)
		if !ok {
			continue
		}
		for i := range t.Columns {
			if !strings.EqualFold(t.Columns[i].Name, columnName) {
				continue
			}
			if constraintType == "PRIMARY KEY" {
				t.Columns[i].IsPrimaryKey = true
				// Primary-key columns are NOT NULL by definition.
				t.Columns[i].Nullable = false
			} else {
				t.Columns[i].IsUnique = true
			}
		}
	}
	return rows.Err()
}

func (ci *CatalogIntrospector) loadForeignKeys(ctx context.Context, conn *pgxpool.Conn, snap *Snapshot) error {
	rows, err := conn.Query(ctx, foreignKeysQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var srcSchema, srcTable, srcColumn, dstSchema, dstTable, dstColumn string
		if err := rows.Scan(&srcSchema, &srcTable, &srcColumn, &dstSchema, &dstTable, &dstColumn); err != nil {
			return err
		}
		t, ok := snap.Lookup(srcSchema, srcTable)
		if !ok {
			continue
		}
		for i := range t.Columns {
			if strings.EqualFold(t.Columns[i].Name, srcColumn) {
				t.Columns[i].ForeignKey = &ForeignKeyRef{Schema: dstSchema, Table: dstTable, Column: dstColumn}
			}
		}
	}
	return rows.Err()
}

func (ci *CatalogIntrospector) loadIndexes(ctx context.Context, conn *pgxpool.Conn, snap *Snapshot) error {
	rows, err := conn.Query(ctx, indexesQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, tableName string
		idx := Index{}
		if err := rows.Scan(&schemaName, &tableName, &idx.Name, &idx.Kind,
			&idx.Unique, &idx.Primary, &idx.Columns); err != nil {
			return err
		}
		if t, ok := snap.Lookup(schemaName, tableName); ok {
			t.Indexes = append(t.Indexes, idx)
		}
	}
	return rows.Err()
}

func (ci *CatalogIntrospector) loadEnums(ctx context.Context, conn *pgxpool.Conn, snap *Snapshot) error {
	rows, err := conn.Query(ctx, enumsQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		e := EnumType{}
		if err := rows.Scan(&e.Schema, &e.Name, &e.Values); err != nil {
			return err
		}
		snap.Enums = append(snap.Enums, e)
	}
	return rows.Err()
}

func (ci *CatalogIntrospector) loadViews(ctx context.Context, conn *pgxpool.Conn, snap *Snapshot) error {
	rows, err := conn.Query(ctx, viewsQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		v := View{}
		if err := rows.Scan(&v.Schema, &v.Name, &v.Definition); err != nil {
			return err
		}
		v.Columns = snap.viewColumns[Key(v.Schema, v.Name)]
		snap.Views = append(snap.Views, v)
	}
	return rows.Err()
}

// attachEnumValues copies enum value lists onto columns whose declared type
// names a known enum.
func attachEnumValues(snap *Snapshot) {
	if len(snap.Enums) == 0 {
		return
	}
	byName := make(map[string][]string, len(snap.Enums))
	for _, e := range snap.Enums {
		byName[strings.ToLower(e.Name)] = e.Values
		byName[strings.ToLower(e.Schema+"."+e.Name)] = e.Values
	}
	for _, t := range snap.Tables {
		for i := range t.Columns {
			if values, ok := byName[strings.ToLower(t.Columns[i].DataType)]; ok {
				t.Columns[i].EnumValues = values
			}
		}
	}
}
