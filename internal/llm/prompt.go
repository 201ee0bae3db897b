// Copyright (c) 2026 QueryGate. All rights reserved.

package llm

import (
	"strings"

	"github.com/querygate/querygate/internal/schema"
)

// systemPrompt states the generation rules. The hard rules here are
// advisory for the model; the parser, policy, and read-only transaction
// enforce them regardless.
const systemPrompt = `You translate natural-language questions into PostgreSQL SELECT queries.

Rules:
- Generate exactly one SELECT statement. Never INSERT, UPDATE, DELETE, or DDL.
- Do not add a LIMIT clause; the server appends one.
- Never call volatile or dangerous functions (pg_sleep, pg_read_file, dblink, copy).
- Use schema-qualified table names exactly as they appear in the schema.
- Only reference tables and columns that exist in the schema.
- If the question cannot be answered from the schema, return an empty "sql" and explain why.

Respond with a JSON object: {"sql": "...", "explanation": "..."}`

// buildUserPrompt renders the deterministic schema text plus the question.
// On a retry the previous failure is appended so the model can correct
// itself.
func buildUserPrompt(question string, snap *schema.Snapshot, errorContext string) string {
	var b strings.Builder
	b.WriteString("Database schema:\n\n")
	b.WriteString(snap.Render())
	b.WriteString("\nQuestion: ")
	b.WriteString(strings.TrimSpace(question))
	if errorContext != "" {
		b.WriteString("\n\nPrevious attempt failed with error: ")
		b.WriteString(errorContext)
	}
	return b.String()
}

// stripFences removes a markdown code fence around the model output, which
// some models add despite the JSON response format.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimPrefix(content, "json")
	content = strings.TrimPrefix(content, "sql")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

// EstimateTokens approximates the token cost of one generation request for
// rate-limit admission, using the usual four-characters-per-token rule.
func EstimateTokens(question string, snap *schema.Snapshot) int {
	chars := len(systemPrompt) + len(question)
	if snap != nil {
		chars += len(snap.Render())
	}
	return chars/4 + 1
}
