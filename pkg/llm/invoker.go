// Package llm is the model-invocation collaborator of the execution bridge.
//
// A Client calls an OpenAI-compatible chat completion endpoint and expects a
// JSON object back. It never fails for missing credentials: without an API key,
// and whenever the endpoint times out or cannot be reached, it answers with a
// deterministic mock shaped to the requested output schema.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lelandsequel/shipmachine/pkg/operations"
)

// Invoker calls a model with a rendered prompt
type Invoker interface {
	Call(ctx context.Context, prompt, model string, schema operations.Schema) (*Response, error)
}

// Response is the parsed model output
type Response struct {
	Content    map[string]any
	Raw        string
	TokensUsed int
	IsMock     bool
}

// ParseContent extracts the JSON object from a model reply. Replies wrapped in
// prose or code fences are accepted as long as they contain one object.
func ParseContent(raw string) (map[string]any, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("model reply contains no JSON object")
	}

	var content map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &content); err != nil {
		return nil, fmt.Errorf("model reply is not valid JSON: %w", err)
	}
	return content, nil
}
