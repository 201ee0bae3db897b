// Copyright (c) 2026 QueryGate. All rights reserved.

/*
Package policy validates parsed SQL against per-database access rules.

# Check Order

Four checks run in order: schema allow list, table allow/deny lists,
SELECT * handling, column deny patterns. Deny always wins over allow, and
name matching is case-insensitive throughout. The validator never talks to
the database; it works purely on the parse result and the cached schema
snapshot.
*/
package policy

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gobwas/glob"

	"github.com/querygate/querygate/internal/platform/apperr"
	"github.com/querygate/querygate/internal/platform/config"
	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/internal/sqlparse"
)

// StarPolicy is how a SELECT * projection is treated.
type StarPolicy string

const (
	StarAllow  StarPolicy = "allow"
	StarExpand StarPolicy = "expand"
	StarDeny   StarPolicy = "deny"
)

// Violation is one failed check.
type Violation struct {
	// Err carries the wire code and message for this violation.
	Err *apperr.AppError
	// Object is the offending schema, table, or column reference.
	Object string
}

// Result is the outcome of validating one statement.
type Result struct {
	Allowed    bool
	Violations []Violation

	// RewrittenSQL is set when star expansion or column redaction changed
	// the statement; empty means the input text stands.
	RewrittenSQL string
}

// Deny returns the first violation's error, for the orchestrator's terminal
// path.
func (r *Result) Deny() *apperr.AppError {
	if len(r.Violations) == 0 {
		return nil
	}
	return r.Violations[0].Err
}

// Checker holds the compiled policy for one database.
type Checker struct {
	log *slog.Logger

	allowedSchemas map[string]bool
	tablesAllowed  map[string]bool
	tablesDenied   map[string]bool

	denyPatterns []denyPattern
	starPolicy   StarPolicy
	redact       bool
}

type denyPattern struct {
	source  string
	matcher glob.Glob
}

// NewChecker compiles one database's policy. Pattern compilation errors are
// configuration errors; config validation should have caught them already.
func NewChecker(policyConfig config.AccessPolicyConfig, log *slog.Logger) (*Checker, error) {
	c := &Checker{
		log:            log,
		allowedSchemas: lowerSet(policyConfig.AllowedSchemas),
		tablesAllowed:  lowerSet(policyConfig.Tables.Allowed),
		tablesDenied:   lowerSet(policyConfig.Tables.Denied),
		starPolicy:     StarPolicy(policyConfig.SelectStarPolicy),
		redact:         policyConfig.OnDenied == "redact",
	}

	for _, pattern := range policyConfig.Columns.DeniedPatterns {
		// '.' is a literal separator; '*' matches within one name segment.
		matcher, err := glob.Compile(strings.ToLower(pattern), '.')
		if err != nil {
			return nil, apperr.Configuration(fmt.Sprintf("invalid deny pattern %q", pattern))
		}
		c.denyPatterns = append(c.denyPatterns, denyPattern{source: pattern, matcher: matcher})
		if pattern == "*.*" {
			log.Warn("deny_pattern_matches_everything", slog.String("pattern", pattern))
		}
	}

	if len(c.allowedSchemas) == 0 && len(c.tablesAllowed) == 0 &&
		len(c.tablesDenied) == 0 && len(c.denyPatterns) == 0 {
		log.Warn("access_policy_empty")
	}
	return c, nil
}

// Validate runs the four checks against one parse result.
//
// The snapshot supplies column lists for star expansion; it may be nil when
// the star policy is allow. When the policy is redact, the returned result
// carries the rewritten SQL and stays allowed as long as every denied
// reference could actually be redacted.
func (c *Checker) Validate(info *sqlparse.Info, snap *schema.Snapshot, sql string) *Result {
	result := &Result{Allowed: true}

	// 1. Schema check
	for _, table := range info.Tables {
		schemaName := strings.ToLower(table.Schema)
		if schemaName == "" {
			schemaName = "public"
		}
		if len(c.allowedSchemas) > 0 && !c.allowedSchemas[schemaName] {
			result.fail(Violation{Err: apperr.SchemaAccessDenied(schemaName), Object: schemaName})
		}
	}
	if !result.Allowed {
		return result
	}

	// 2. Table check: deny wins over allow; a non-empty allow list is
	// exhaustive.
	for _, table := range info.Tables {
		qualified := strings.ToLower(table.Qualified())
		if c.tablesDenied[qualified] {
			result.fail(Violation{Err: apperr.TableAccessDenied(qualified), Object: qualified})
			continue
		}
		if len(c.tablesAllowed) > 0 && !c.tablesAllowed[qualified] {
			result.fail(Violation{Err: apperr.TableAccessDenied(qualified), Object: qualified})
		}
	}
	if !result.Allowed {
		return result
	}

	// 3. SELECT * handling
	rewritten := sql
	if info.SelectStar {
		switch c.starPolicy {
		case StarDeny:
			result.fail(Violation{Err: apperr.ColumnAccessDenied("*"), Object: "*"})
			return result

		case StarExpand:
			expanded, err := sqlparse.ExpandStar(sql, info, c.columnsFor(snap), c.includeColumn)
			if err != nil {
				result.fail(Violation{Err: apperr.As(err), Object: "*"})
				return result
			}
			if expanded != sql {
				rewritten = expanded
				reparsed, err := sqlparse.Parse(rewritten)
				if err != nil {
					result.fail(Violation{Err: apperr.As(err), Object: "*"})
					return result
				}
				info = reparsed
			}
		}
	}

	// 4. Column check
	denied := c.deniedColumns(info)
	if len(denied) > 0 {
		if !c.redact {
			first := denied[0]
			result.fail(Violation{Err: apperr.ColumnAccessDenied(first.Column), Object: columnObject(first)})
			return result
		}

		redacted, err := sqlparse.Redact(rewritten, info, c.denier(info))
		if err != nil {
			result.fail(Violation{Err: apperr.As(err), Object: columnObject(denied[0])})
			return result
		}
		rewritten = redacted

		// Redaction only rewrites plain projections. A denied reference
		// that survives the rewrite (expressions, WHERE clauses) falls
		// back to rejection.
		reparsed, err := sqlparse.Parse(rewritten)
		if err == nil {
			if leftover := c.deniedColumns(reparsed); len(leftover) > 0 {
				first := leftover[0]
				result.fail(Violation{Err: apperr.ColumnAccessDenied(first.Column), Object: columnObject(first)})
				return result
			}
		}
	}

	if rewritten != sql {
		result.RewrittenSQL = rewritten
	}
	return result
}

func (r *Result) fail(v Violation) {
	r.Allowed = false
	r.Violations = append(r.Violations, v)
}

// deniedColumns returns every column reference that matches a deny pattern.
func (c *Checker) deniedColumns(info *sqlparse.Info) []sqlparse.ColumnRef {
	if len(c.denyPatterns) == 0 {
		return nil
	}
	isDenied := c.denier(info)
	var denied []sqlparse.ColumnRef
	for _, ref := range info.Columns {
		if isDenied(ref) {
			denied = append(denied, ref)
		}
	}
	return denied
}

// denier builds the per-statement match function. A qualified reference is
// checked as "table.column". An unqualified one could belong to any table
// in the FROM list, so it is checked bare, against wildcard-table patterns,
// and against every referenced table.
func (c *Checker) denier(info *sqlparse.Info) func(sqlparse.ColumnRef) bool {
	return func(ref sqlparse.ColumnRef) bool {
		column := strings.ToLower(ref.Column)
		candidates := make([]string, 0, 2+len(info.Tables))
		if ref.Table != "" {
			candidates = append(candidates, strings.ToLower(ref.Table)+"."+column)
		} else {
			candidates = append(candidates, column, "*."+column)
			for _, table := range info.Tables {
				candidates = append(candidates, strings.ToLower(table.Table)+"."+column)
			}
		}
		return c.matchAny(candidates)
	}
}

func (c *Checker) matchAny(candidates []string) bool {
	for _, pattern := range c.denyPatterns {
		for _, candidate := range candidates {
			if pattern.matcher.Match(candidate) {
				return true
			}
		}
	}
	return false
}

// includeColumn is the star-expansion filter: denied columns are omitted
// from the expansion instead of failing the query.
func (c *Checker) includeColumn(table sqlparse.TableRef, column string) bool {
	return !c.matchAny([]string{
		strings.ToLower(table.Table) + "." + strings.ToLower(column),
		"*." + strings.ToLower(column),
	})
}

// columnsFor adapts the snapshot to the expansion callback.
func (c *Checker) columnsFor(snap *schema.Snapshot) func(sqlparse.TableRef) ([]string, bool) {
	return func(ref sqlparse.TableRef) ([]string, bool) {
		if snap == nil {
			return nil, false
		}
		table, ok := snap.Lookup(ref.Schema, ref.Table)
		if !ok {
			return nil, false
		}
		return table.ColumnNames(), true
	}
}

func columnObject(ref sqlparse.ColumnRef) string {
	if ref.Table != "" {
		return ref.Table + "." + ref.Column
	}
	return ref.Column
}

func lowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = true
	}
	return set
}
