// Copyright (c) 2026 QueryGate. All rights reserved.

package sqlparse_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/internal/platform/apperr"
	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/internal/sqlparse"
)

func mustParse(t *testing.T, sql string) *sqlparse.Info {
	t.Helper()
	info, err := sqlparse.Parse(sql)
	require.NoError(t, err)
	return info
}

/*
TestParse_Kinds verifies statement classification, including WITH-fronted
statements and parenthesized set operations.
*/
func TestParse_Kinds(t *testing.T) {
	cases := []struct {
		sql  string
		kind sqlparse.Kind
	}{
		{"SELECT 1", sqlparse.KindSelect},
		{"select id from users", sqlparse.KindSelect},
		{"WITH t AS (SELECT 1) SELECT * FROM t", sqlparse.KindSelect},
		{"SELECT a FROM x UNION SELECT b FROM y", sqlparse.KindUnion},
		{"(SELECT a FROM x) UNION ALL (SELECT b FROM y)", sqlparse.KindUnion},
		{"SELECT a FROM x INTERSECT SELECT b FROM y", sqlparse.KindUnion},
		{"VALUES (1), (2)", sqlparse.KindValues},
		{"INSERT INTO users (id) VALUES (1)", sqlparse.KindInsert},
		{"UPDATE users SET name = 'x'", sqlparse.KindUpdate},
		{"DELETE FROM users WHERE id = 1", sqlparse.KindDelete},
		{"WITH d AS (SELECT 1) DELETE FROM users", sqlparse.KindDelete},
		{"DROP TABLE users", sqlparse.KindDDL},
		{"CREATE INDEX idx ON users (id)", sqlparse.KindDDL},
		{"COPY users TO stdout", sqlparse.KindOther},
	}

	for _, tc := range cases {
		info := mustParse(t, tc.sql)
		assert.Equal(t, tc.kind, info.Kind, tc.sql)
	}

	assert.True(t, sqlparse.KindSelect.ReadOnly())
	assert.True(t, sqlparse.KindUnion.ReadOnly())
	assert.True(t, sqlparse.KindValues.ReadOnly())
	assert.False(t, sqlparse.KindUpdate.ReadOnly())
	assert.False(t, sqlparse.KindDDL.ReadOnly())
}

/*
TestParse_TablesAndAliases verifies relation extraction with schema
qualification, aliases, joins, and alias resolution for column qualifiers.
*/
func TestParse_TablesAndAliases(t *testing.T) {
	info := mustParse(t, `SELECT c.id, c.name, SUM(o.total) AS spend
		FROM public.customers c
		JOIN public.orders o ON o.customer_id = c.id
		GROUP BY c.id, c.name
		ORDER BY spend DESC LIMIT 5`)

	require.Len(t, info.Tables, 2)
	assert.Equal(t, sqlparse.TableRef{Schema: "public", Table: "customers", Alias: "c"}, info.Tables[0])
	assert.Equal(t, sqlparse.TableRef{Schema: "public", Table: "orders", Alias: "o"}, info.Tables[1])
	assert.True(t, info.HasLimit)
	assert.False(t, info.SelectStar)

	// Aliases resolve to their underlying tables.
	ref, ok := info.ResolveQualifier("o")
	require.True(t, ok)
	assert.Equal(t, "orders", ref.Table)

	tables := make(map[string]bool)
	for _, c := range info.Columns {
		if c.Table != "" {
			tables[c.Table+"."+c.Column] = true
		}
	}
	assert.True(t, tables["customers.id"])
	assert.True(t, tables["customers.name"])
	assert.True(t, tables["orders.total"])
	assert.True(t, tables["orders.customer_id"])
}

/*
TestParse_SubqueriesAndCTEs verifies that references inside subqueries and
CTE bodies are collected, while CTE names themselves are not reported as
base tables.
*/
func TestParse_SubqueriesAndCTEs(t *testing.T) {
	info := mustParse(t, `WITH recent AS (
			SELECT user_id FROM public.orders WHERE placed_at > now() - interval '7 days'
		)
		SELECT u.email FROM public.users u
		WHERE u.id IN (SELECT user_id FROM recent)`)

	names := make([]string, 0, len(info.Tables))
	for _, ref := range info.Tables {
		names = append(names, ref.Qualified())
	}
	assert.ElementsMatch(t, []string{"public.orders", "public.users"}, names)
}

/*
TestParse_SelectStar verifies star detection: projection stars and
qualified stars count, COUNT(*) and multiplication do not.
*/
func TestParse_SelectStar(t *testing.T) {
	assert.True(t, mustParse(t, "SELECT * FROM users").SelectStar)
	assert.True(t, mustParse(t, "SELECT u.* FROM users u").SelectStar)
	assert.True(t, mustParse(t, "SELECT id, * FROM users").SelectStar)
	assert.False(t, mustParse(t, "SELECT COUNT(*) FROM users").SelectStar)
	assert.False(t, mustParse(t, "SELECT price * qty FROM items").SelectStar)

	info := mustParse(t, "SELECT o.* FROM public.orders o")
	assert.Equal(t, []string{"o"}, info.StarQualifiers)
}

/*
TestParse_Limit verifies that only a top-level LIMIT counts; a LIMIT inside
a subquery must not suppress injection.
*/
func TestParse_Limit(t *testing.T) {
	assert.True(t, mustParse(t, "SELECT id FROM users LIMIT 10").HasLimit)
	assert.True(t, mustParse(t, "SELECT id FROM users FETCH FIRST 10 ROWS ONLY").HasLimit)
	assert.False(t, mustParse(t, "SELECT id FROM (SELECT id FROM users LIMIT 5) t").HasLimit)
}

/*
TestParse_Invalid verifies the failure modes that drive the model retry
loop: lexical garbage carries a position, empty input is rejected, and
multi-statement input is detected.
*/
func TestParse_Invalid(t *testing.T) {
	_, err := sqlparse.Parse("SELECT 'unterminated FROM users")
	require.Error(t, err)
	appError := apperr.As(err)
	assert.Equal(t, apperr.CodeSyntaxError, appError.Code)
	assert.Contains(t, appError.Details, "position")

	_, err = sqlparse.Parse("   ")
	require.Error(t, err)

	_, err = sqlparse.Parse("SELECT id FROM users WHERE (a = 1")
	require.Error(t, err)

	info := mustParse(t, "SELECT 1; DROP TABLE users")
	assert.Equal(t, 2, info.Statements)

	info = mustParse(t, "SELECT 1;")
	assert.Equal(t, 1, info.Statements)
}

/*
TestCanonicalize verifies LIMIT injection: applied to bare SELECTs, a no-op
on already-canonical text, never applied to UNION, and existing LIMITs are
left alone.
*/
func TestCanonicalize(t *testing.T) {
	sql := "SELECT id FROM users"
	info := mustParse(t, sql)
	canonical := sqlparse.Canonicalize(sql, info, 1000)
	assert.Equal(t, "SELECT id FROM users LIMIT 1000", canonical)

	// Idempotence: canonicalizing the canonical form changes nothing.
	info2 := mustParse(t, canonical)
	assert.Equal(t, canonical, sqlparse.Canonicalize(canonical, info2, 1000))

	// Existing LIMIT is not raised.
	sql = "SELECT id FROM users LIMIT 5"
	assert.Equal(t, sql, sqlparse.Canonicalize(sql, mustParse(t, sql), 1000))

	// UNION is exempt from injection. The top-level result set is then
	// unbounded; the row cap at materialization still applies.
	sql = "SELECT a FROM x UNION SELECT b FROM y"
	assert.Equal(t, sql, sqlparse.Canonicalize(sql, mustParse(t, sql), 1000))

	// Trailing semicolons are stripped before execution.
	sql = "SELECT id FROM users;"
	assert.Equal(t, "SELECT id FROM users LIMIT 1000", sqlparse.Canonicalize(sql, mustParse(t, sql), 1000))
}

/*
TestExpandStar verifies star expansion against a column provider, including
the deny filter and qualified stars.
*/
func TestExpandStar(t *testing.T) {
	columnsFor := func(ref sqlparse.TableRef) ([]string, bool) {
		switch ref.Table {
		case "users":
			return []string{"id", "email", "password_hash"}, true
		case "orders":
			return []string{"id", "total"}, true
		}
		return nil, false
	}
	includeAll := func(sqlparse.TableRef, string) bool { return true }

	sql := "SELECT * FROM public.users u"
	expanded, err := sqlparse.ExpandStar(sql, mustParse(t, sql), columnsFor, includeAll)
	require.NoError(t, err)
	assert.Equal(t, "SELECT u.id, u.email, u.password_hash FROM public.users u", expanded)

	// Deny filter drops columns during expansion.
	noSecrets := func(_ sqlparse.TableRef, column string) bool { return column != "password_hash" }
	expanded, err = sqlparse.ExpandStar(sql, mustParse(t, sql), columnsFor, noSecrets)
	require.NoError(t, err)
	assert.Equal(t, "SELECT u.id, u.email FROM public.users u", expanded)

	// Qualified star expands only its table.
	sql = "SELECT o.*, u.email FROM public.orders o JOIN public.users u ON u.id = o.id"
	expanded, err = sqlparse.ExpandStar(sql, mustParse(t, sql), columnsFor, includeAll)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(expanded, "SELECT o.id, o.total, u.email FROM"))

	// Unknown relations keep their star.
	sql = "SELECT * FROM public.mystery"
	expanded, err = sqlparse.ExpandStar(sql, mustParse(t, sql), columnsFor, includeAll)
	require.NoError(t, err)
	assert.Equal(t, sql, expanded)
}

/*
TestRedact verifies the redaction round-trip: a redacted statement no
longer references the denied column, and the output column name survives.
*/
func TestRedact(t *testing.T) {
	sql := "SELECT email, password_hash FROM public.users"
	info := mustParse(t, sql)

	redacted, err := sqlparse.Redact(sql, info, func(ref sqlparse.ColumnRef) bool {
		return ref.Column == "password_hash"
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT email, NULL AS password_hash FROM public.users", redacted)

	// Round-trip: the re-parse must not reference the denied column.
	reparsed := mustParse(t, redacted)
	for _, c := range reparsed.Columns {
		assert.NotEqual(t, "password_hash", c.Column)
	}

	// Qualified references and aliases keep the declared output name.
	sql = "SELECT u.password_hash AS secret FROM public.users u"
	redacted, err = sqlparse.Redact(sql, mustParse(t, sql), func(ref sqlparse.ColumnRef) bool {
		return ref.Table == "users" && ref.Column == "password_hash"
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT NULL AS secret FROM public.users u", redacted)
}

/*
TestParse_RenderedSchemaRoundTrip verifies that the identifiers the schema
renderer shows the model re-parse to the same references, so the policy
checker evaluates exactly the relations the prompt named.
*/
func TestParse_RenderedSchemaRoundTrip(t *testing.T) {
	snap := &schema.Snapshot{
		Database: "shop",
		Tables: map[string]*schema.Table{
			"public.order_items": {
				Schema: "public",
				Name:   "order_items",
				Columns: []schema.Column{
					{Name: "id", DataType: "bigint", IsPrimaryKey: true},
					{Name: "order_id", DataType: "bigint"},
					{Name: "unit_price", DataType: "numeric"},
				},
			},
			"reporting.daily_sales": {
				Schema: "reporting",
				Name:   "daily_sales",
				Columns: []schema.Column{
					{Name: "day", DataType: "date"},
					{Name: "total", DataType: "numeric"},
				},
			},
		},
	}
	rendered := snap.Render()

	for qualified, table := range snap.Tables {
		// The renderer emits each table under its qualified name.
		require.Contains(t, rendered, "TABLE "+qualified)

		selects := make([]string, 0, len(table.Columns))
		for _, column := range table.Columns {
			require.Contains(t, rendered, column.Name+" "+column.DataType)
			selects = append(selects, table.Name+"."+column.Name)
		}
		sql := "SELECT " + strings.Join(selects, ", ") + " FROM " + qualified

		info := mustParse(t, sql)
		require.Len(t, info.Tables, 1)
		assert.Equal(t, qualified, info.Tables[0].Qualified())

		require.Len(t, info.Columns, len(table.Columns))
		for i, column := range table.Columns {
			assert.Equal(t, table.Name, info.Columns[i].Table)
			assert.Equal(t, column.Name, info.Columns[i].Column)
		}
	}
}
