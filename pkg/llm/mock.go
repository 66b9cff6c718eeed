package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lelandsequel/shipmachine/pkg/operations"
)

// Mock answers every call with content shaped to the schema. The same prompt
// and schema always give the same response.
type Mock struct {
	counter TokenCounter
}

// NewMock creates a mock responder
func NewMock(counter TokenCounter) *Mock {
	if counter == nil {
		counter = NewTokenCounter()
	}
	return &Mock{counter: counter}
}

// Call implements Invoker
func (m *Mock) Call(_ context.Context, prompt, _ string, schema operations.Schema) (*Response, error) {
	content := MockContent(schema)
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mock content: %w", err)
	}
	return &Response{
		Content:    content,
		Raw:        string(raw),
		TokensUsed: m.counter.Count(prompt) + m.counter.Count(string(raw)),
		IsMock:     true,
	}, nil
}

// MockContent builds a value for every typed and required field
func MockContent(schema operations.Schema) map[string]any {
	content := make(map[string]any)

	names := make([]string, 0, len(schema.Fields))
	for name := range schema.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		content[name] = mockValue(name, schema.Fields[name])
	}
	for _, name := range schema.Required {
		if _, ok := content[name]; !ok {
			content[name] = mockValue(name, operations.FieldString)
		}
	}
	return content
}

func mockValue(name string, t operations.FieldType) any {
	switch t {
	case operations.FieldNumber:
		return float64(0)
	case operations.FieldBoolean:
		return true
	case operations.FieldArray:
		return []any{}
	case operations.FieldObject:
		return map[string]any{}
	default:
		return fmt.Sprintf("mock %s", name)
	}
}
