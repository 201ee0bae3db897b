// Copyright (c) 2026 QueryGate. All rights reserved.

package secret_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/internal/platform/secret"
)

/*
TestSecret_Masking verifies that every serialization path masks the value.
*/
func TestSecret_Masking(t *testing.T) {
	s := secret.Secret("hunter2")

	// 1. Stringer and fmt verbs
	assert.Equal(t, "***", s.String())
	assert.Equal(t, "***", fmt.Sprintf("%v", s))
	assert.Equal(t, "***", fmt.Sprintf("%s", s))

	// 2. JSON marshalling
	data, err := json.Marshal(struct {
		Password secret.Secret `json:"password"`
	}{Password: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"password":"***"}`, string(data))

	// 3. The raw value remains reachable on purpose
	assert.Equal(t, "hunter2", s.Reveal())
}

/*
TestSecret_JSONRoundTrip verifies that configuration input is read raw.
*/
func TestSecret_JSONRoundTrip(t *testing.T) {
	var out struct {
		APIKey secret.Secret `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"api_key":"sk-123"}`), &out))
	assert.Equal(t, "sk-123", out.APIKey.Reveal())
}

/*
TestRedact verifies the default-pattern scrubbing of free-form text.
*/
func TestRedact(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "dsn password",
			in:   "connect failed: host=db password=hunter2 user=app",
			want: "connect failed: host=db password=*** user=app",
		},
		{
			name: "api key colon",
			in:   `api_key: sk-proj-abcdef`,
			want: `api_key: ***`,
		},
		{
			name: "case insensitive",
			in:   "TOKEN=eyJhbGciOi",
			want: "TOKEN=***",
		},
		{
			name: "untouched text",
			in:   "SELECT id FROM public.users LIMIT 5",
			want: "SELECT id FROM public.users LIMIT 5",
		},
		{
			name: "credential suffix",
			in:   "credentials=abc123;mode=require",
			want: "credentials=***;mode=require",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, secret.Redact(tc.in))
		})
	}
}
