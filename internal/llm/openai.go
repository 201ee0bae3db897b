// Copyright (c) 2026 QueryGate. All rights reserved.

/*
Package llm is the language-model boundary: it turns a question plus a
schema snapshot into SQL. It is the only package that knows the vendor SDK;
everything above it sees a structured result or a typed error.
*/
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/querygate/querygate/internal/platform/apperr"
	"github.com/querygate/querygate/internal/platform/config"
	"github.com/querygate/querygate/internal/schema"
)

// Result is one successful generation.
type Result struct {
	SQL         string
	Explanation string
	TokensUsed  int64
}

// Client wraps the OpenAI-compatible chat API.
type Client struct {
	api     openai.Client
	model   string
	timeout time.Duration
	log     *slog.Logger
}

// New builds the client from configuration. BaseURL allows pointing at any
// OpenAI-compatible endpoint.
func New(openaiConfig config.OpenAIConfig, log *slog.Logger) *Client {
	opts := []option.RequestOption{
		// The SDK's own retry loop is disabled; the pipeline's retry
		// executor owns backoff so attempts count against one budget.
		option.WithMaxRetries(0),
	}
	if !openaiConfig.APIKey.IsZero() {
		opts = append(opts, option.WithAPIKey(openaiConfig.APIKey.Reveal()))
	}
	if openaiConfig.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(openaiConfig.BaseURL))
	}

	return &Client{
		api:     openai.NewClient(opts...),
		model:   openaiConfig.Model,
		timeout: time.Duration(openaiConfig.Timeout) * time.Second,
		log:     log,
	}
}

// modelReply is the JSON object the system prompt demands.
type modelReply struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

// GenerateSQL asks the model for one SQL statement. errorContext carries
// the previous attempt's failure on a syntax retry; empty on the first
// call.
func (c *Client) GenerateSQL(ctx context.Context, question string, snap *schema.Snapshot, errorContext string) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	resp, err := c.api.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildUserPrompt(question, snap, errorContext)),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperr.OpenAI(errors.New("empty completion"), true)
	}

	result, err := parseReply(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	result.TokensUsed = resp.Usage.TotalTokens

	c.log.Debug("sql_generated",
		slog.String("model", c.model),
		slog.Int64("tokens_used", result.TokensUsed),
		slog.Duration("duration", time.Since(started)),
		slog.Bool("retry", errorContext != ""),
	)
	return result, nil
}

// parseReply decodes the JSON object, tolerating fenced output. A reply
// that is bare SQL is accepted as-is; anything else is an ambiguous
// question.
func parseReply(content string) (*Result, error) {
	content = stripFences(content)

	var reply modelReply
	if err := json.Unmarshal([]byte(content), &reply); err == nil {
		if strings.TrimSpace(reply.SQL) == "" {
			return nil, apperr.Ambiguous(reply.Explanation)
		}
		return &Result{SQL: strings.TrimSpace(reply.SQL), Explanation: reply.Explanation}, nil
	}

	upper := strings.ToUpper(content)
	if strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH") {
		return &Result{SQL: content}, nil
	}
	return nil, apperr.Ambiguous("")
}

// classify sorts SDK errors into the retry taxonomy: rate limits, server
// errors, and timeouts are transient; auth and invalid-request are fatal;
// caller cancellation is neither.
func (c *Client) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return apperr.Cancelled(ctx.Err())
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429 || apiErr.StatusCode >= 500:
			return apperr.OpenAI(err, true)
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return apperr.OpenAI(err, false)
		default:
			return apperr.OpenAI(err, false)
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperr.OpenAI(err, true)
	}
	return apperr.OpenAI(err, true)
}
