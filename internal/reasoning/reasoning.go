// Package reasoning provides the client for the external reasoning service
// used by the screening agents. Responses are expected to be JSON, possibly
// wrapped in a markdown code fence; unparsable responses are surfaced to
// callers as degraded data rather than errors.
package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrDisabled is returned by the noop client when no API key is configured.
var ErrDisabled = errors.New("reasoning: no API key configured")

// Client invokes the reasoning service with a system prompt and a user prompt
// and returns the raw text of the response. Implementations must be safe for
// concurrent use and must honor ctx cancellation.
type Client interface {
	Invoke(ctx context.Context, system, prompt string) (string, error)
}

// Disabled is a Client that always fails. Used when no API key is set so the
// agents take their deterministic fallback paths.
type Disabled struct{}

func (Disabled) Invoke(ctx context.Context, system, prompt string) (string, error) {
	return "", ErrDisabled
}

var _ Client = Disabled{}

// StripFences removes a surrounding markdown code fence (``` or ```json) from
// a model response, returning the inner text unchanged if no fence is found.
func StripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// DecodeJSON strips any markdown fence from raw and unmarshals it into v.
// A non-nil error means the response could not be parsed; callers treat that
// as a degraded response, keeping the raw text.
func DecodeJSON(raw string, v any) error {
	return json.Unmarshal([]byte(StripFences(raw)), v)
}
