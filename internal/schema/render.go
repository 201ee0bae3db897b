// Copyright (c) 2026 QueryGate. All rights reserved.

package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Render produces the deterministic text description of a snapshot used as
// language-model context.
//
// The output is stable: schemas, tables, views, and enums are emitted in
// dictionary order, columns in their catalog ordinal order. The same
// snapshot always renders to the same bytes, so prompt caching and tests
// can rely on the text.
func (s *Snapshot) Render() string {
	var b strings.Builder

	// 1. Group tables by schema, dictionary-ordered
	bySchema := make(map[string][]*Table)
	for _, t := range s.Tables {
		bySchema[t.Schema] = append(bySchema[t.Schema], t)
	}
	schemas := make([]string, 0, len(bySchema))
	for name := range bySchema {
		schemas = append(schemas, name)
	}
	sort.Strings(schemas)

	fmt.Fprintf(&b, "Database: %s\n", s.Database)

	for _, schemaName := range schemas {
		tables := bySchema[schemaName]
		sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })

		fmt.Fprintf(&b, "\nSchema %s:\n", schemaName)
		for _, t := range tables {
			renderTable(&b, t)
		}
	}

	// 2. Views, dictionary-ordered by qualified name
	if len(s.Views) > 0 {
		views := make([]View, len(s.Views))
		copy(views, s.Views)
		sort.Slice(views, func(i, j int) bool {
			return views[i].Schema+"."+views[i].Name < views[j].Schema+"."+views[j].Name
		})

		b.WriteString("\nViews:\n")
		for _, v := range views {
			fmt.Fprintf(&b, "VIEW %s.%s (", v.Schema, v.Name)
			for i, c := range v.Columns {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(c.Name + " " + c.DataType)
			}
			b.WriteString(")\n")
		}
	}

	// 3. Enum types, dictionary-ordered
	if len(s.Enums) > 0 {
		enums := make([]EnumType, len(s.Enums))
		copy(enums, s.Enums)
		sort.Slice(enums, func(i, j int) bool {
			return enums[i].Schema+"."+enums[i].Name < enums[j].Schema+"."+enums[j].Name
		})

		b.WriteString("\nEnum types:\n")
		for _, e := range enums {
			fmt.Fprintf(&b, "ENUM %s.%s: [%s]\n", e.Schema, e.Name, strings.Join(e.Values, ", "))
		}
	}

	return b.String()
}

func renderTable(b *strings.Builder, t *Table) {
	fmt.Fprintf(b, "TABLE %s.%s (~%d rows)", t.Schema, t.Name, t.EstimatedRows)
	if t.Comment != "" {
		fmt.Fprintf(b, " -- %s", t.Comment)
	}
	b.WriteString("\n")

	for _, c := range t.Columns {
		fmt.Fprintf(b, "  %s %s", c.Name, c.DataType)
		for _, tag := range columnTags(c) {
			b.WriteString(" " + tag)
		}
		b.WriteString("\n")
	}

	for _, idx := range t.Indexes {
		attrs := []string{idx.Kind}
		if idx.Primary {
			attrs = append(attrs, "primary")
		} else if idx.Unique {
			attrs = append(attrs, "unique")
		}
		fmt.Fprintf(b, "  INDEX %s (%s) ON (%s)\n", idx.Name, strings.Join(attrs, ", "), strings.Join(idx.Columns, ", "))
	}
}

// columnTags builds the attribute tags in a fixed order so the rendering
// stays byte-stable.
func columnTags(c Column) []string {
	var tags []string
	if c.IsPrimaryKey {
		tags = append(tags, "PRIMARY KEY")
	}
	if !c.Nullable {
		tags = append(tags, "NOT NULL")
	}
	if c.IsUnique && !c.IsPrimaryKey {
		tags = append(tags, "UNIQUE")
	}
	if c.ForeignKey != nil {
		tags = append(tags, fmt.Sprintf("FK -> %s.%s.%s", c.ForeignKey.Schema, c.ForeignKey.Table, c.ForeignKey.Column))
	}
	if len(c.EnumValues) > 0 {
		tags = append(tags, fmt.Sprintf("ENUM: [%s]", strings.Join(c.EnumValues, ", ")))
	}
	return tags
}
