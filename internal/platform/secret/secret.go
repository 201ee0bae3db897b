// Copyright (c) 2026 QueryGate. All rights reserved.

/*
Package secret provides a marker type for sensitive values and a redaction
pass for free-form text.

Architecture:

  - Secret: a string wrapper whose serializations always render as "***".
    Connection passwords and API keys are carried as [Secret] so they can
    never leak through logs, error messages, or audit events by accident.
  - Redact: a text scrubber applied to error messages and audit payloads
    before they leave the process.
*/
package secret

import (
	"fmt"
	"regexp"
)

// Mask is the replacement emitted for every redacted value.
const Mask = "***"

// Secret wraps a sensitive string. The zero value is an empty secret.
type Secret string

// Reveal returns the underlying value. Call sites are expected to pass the
// result directly to the consuming API (DSN builder, HTTP header) and never
// store it.
func (s Secret) Reveal() string { return string(s) }

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool { return s == "" }

// String implements [fmt.Stringer] and always masks.
func (s Secret) String() string { return Mask }

// Format ensures %v, %s, %q and friends all mask.
func (s Secret) Format(f fmt.State, verb rune) {
	fmt.Fprint(f, Mask)
}

// MarshalJSON masks the value in JSON output.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + Mask + `"`), nil
}

// MarshalYAML masks the value in YAML output.
func (s Secret) MarshalYAML() (any, error) {
	return Mask, nil
}

// UnmarshalJSON reads the raw value from configuration input.
func (s *Secret) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	*s = Secret(raw)
	return nil
}

// UnmarshalYAML reads the raw value from configuration input.
func (s *Secret) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*s = Secret(raw)
	return nil
}

// # Text Redaction

// defaultPatterns are the key names whose values are scrubbed from text,
// matched case-insensitively.
var defaultPatterns = []string{
	"password", "secret", "token", "api_key", "auth", "credential", "private_key",
}

// redactRe matches `<key>[=:] <value>` occurrences for any default pattern.
// The value runs to the next whitespace, quote, or delimiter.
var redactRe = func() *regexp.Regexp {
	keys := ""
	for i, p := range defaultPatterns {
		if i > 0 {
			keys += "|"
		}
		keys += p
	}
	return regexp.MustCompile(`(?i)((?:` + keys + `)[a-z0-9_]*\s*[=:]\s*["']?)([^"'\s,;&]+)`)
}()

// Redact scrubs values of sensitive-looking keys from free-form text.
//
// It is applied to error messages and audit events before they are written
// to any sink. The key itself is preserved so the message stays diagnosable.
func Redact(text string) string {
	return redactRe.ReplaceAllString(text, "${1}"+Mask)
}
