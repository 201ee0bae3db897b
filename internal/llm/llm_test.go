// Copyright (c) 2026 QueryGate. All rights reserved.

package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	openai "github.com/openai/openai-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/internal/platform/apperr"
	"github.com/querygate/querygate/internal/platform/config"
	"github.com/querygate/querygate/internal/schema"
)

func testSnapshot() *schema.Snapshot {
	return &schema.Snapshot{
		Database: "main",
		Tables: map[string]*schema.Table{
			"public.customers": {
				Schema: "public", Name: "customers",
				Columns: []schema.Column{
					{Name: "id", DataType: "bigint", IsPrimaryKey: true},
					{Name: "name", DataType: "text"},
				},
			},
		},
	}
}

/*
TestBuildUserPrompt verifies the prompt layout: schema rendering first,
then the question, then the error context only on retries.
*/
func TestBuildUserPrompt(t *testing.T) {
	snap := testSnapshot()

	prompt := buildUserPrompt("top customers", snap, "")
	assert.Contains(t, prompt, "Database schema:")
	assert.Contains(t, prompt, "TABLE public.customers")
	assert.Contains(t, prompt, "Question: top customers")
	assert.NotContains(t, prompt, "Previous attempt failed")

	retryPrompt := buildUserPrompt("top customers", snap, `syntax error at or near "SELEC"`)
	assert.Contains(t, retryPrompt, `Previous attempt failed with error: syntax error at or near "SELEC"`)

	// Determinism: same snapshot, same prompt bytes.
	assert.Equal(t, prompt, buildUserPrompt("top customers", snap, ""))
}

/*
TestParseReply verifies reply decoding: the JSON contract, fenced output,
bare SQL fallback, and the ambiguous cases.
*/
func TestParseReply(t *testing.T) {
	result, err := parseReply(`{"sql": "SELECT id FROM public.customers", "explanation": "lists ids"}`)
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM public.customers", result.SQL)
	assert.Equal(t, "lists ids", result.Explanation)

	result, err = parseReply("```json\n{\"sql\": \"SELECT 1\", \"explanation\": \"\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", result.SQL)

	// Some models ignore the response format and return bare SQL.
	result, err = parseReply("SELECT name FROM public.customers")
	require.NoError(t, err)
	assert.Equal(t, "SELECT name FROM public.customers", result.SQL)

	// Empty SQL means the model could not answer.
	_, err = parseReply(`{"sql": "", "explanation": "no such table"}`)
	require.Error(t, err)
	appError := apperr.As(err)
	assert.Equal(t, apperr.CodeAmbiguousQuery, appError.Code)
	assert.Equal(t, "no such table", appError.Message)

	_, err = parseReply("I cannot answer that question.")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeAmbiguousQuery, apperr.As(err).Code)
}

/*
TestClassify verifies the retry taxonomy: 429 and 5xx are transient, auth
and invalid-request are fatal, and caller cancellation surfaces as
CANCELLED rather than an OpenAI error.
*/
func TestClassify(t *testing.T) {
	client := New(configForTest(), slog.Default())

	transient := client.classify(context.Background(), &openai.Error{StatusCode: 429})
	assert.True(t, apperr.As(transient).Retryable())

	transient = client.classify(context.Background(), &openai.Error{StatusCode: 503})
	assert.True(t, apperr.As(transient).Retryable())

	fatal := client.classify(context.Background(), &openai.Error{StatusCode: 401})
	assert.False(t, apperr.As(fatal).Retryable())

	fatal = client.classify(context.Background(), &openai.Error{StatusCode: 400})
	assert.False(t, apperr.As(fatal).Retryable())

	// Plain network failures retry.
	transient = client.classify(context.Background(), errors.New("connection reset by peer"))
	assert.True(t, apperr.As(transient).Retryable())

	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()
	cancelled := client.classify(cancelledCtx, context.Canceled)
	assert.Equal(t, apperr.CodeCancelled, apperr.As(cancelled).Code)
}

/*
TestEstimateTokens verifies the admission estimate scales with the schema
rendering and never returns zero.
*/
func TestEstimateTokens(t *testing.T) {
	withSchema := EstimateTokens("top customers", testSnapshot())
	bare := EstimateTokens("top customers", nil)
	assert.Greater(t, withSchema, bare)
	assert.Positive(t, bare)
}

/*
TestStripFences verifies fence stripping is a no-op on clean content.
*/
func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"sql": "SELECT 1"}`, stripFences("```json\n{\"sql\": \"SELECT 1\"}\n```"))
	assert.Equal(t, "SELECT 1", stripFences("```sql\nSELECT 1\n```"))
	assert.Equal(t, "SELECT 1", stripFences("SELECT 1"))
	assert.False(t, strings.Contains(stripFences("```\nSELECT 1\n```"), "`"))
}

func configForTest() config.OpenAIConfig {
	return config.OpenAIConfig{Model: "gpt-4o-mini", Timeout: 5}
}
