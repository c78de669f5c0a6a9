// Package ruledoc reads and writes rule-set documents.
//
// A document is YAML (JSON is accepted as a YAML subset) naming a scope, its
// engine mode, the declared fields and the ordered rules. Documents are
// checked structurally against an embedded JSON schema and then linted with
// rules.Validate before anything is stored or evaluated.
package ruledoc

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/solatis/cascade/internal/rules"
	"github.com/solatis/cascade/internal/types"
)

//go:embed schema.json
var schemaJSON []byte

// schema is compiled once; the embedded document never changes.
var schema = mustSchema()

func mustSchema() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("ruledoc: invalid embedded schema: %v", err))
	}
	return s
}

// Document is one scope's rule set.
type Document struct {
	Scope  string        `json:"scope" yaml:"scope"`
	Mode   rules.Mode    `json:"mode,omitempty" yaml:"mode,omitempty"`
	Fields []types.Field `json:"fields" yaml:"fields"`
	Rules  []types.Rule  `json:"rules" yaml:"rules"`
}

// Parse decodes, schema-checks and lints a document.
// Scalar "value" entries written as bare numbers, booleans or dates are
// read as their text, so `value: 0` and `value: "0"` are the same literal.
func Parse(data []byte) (*Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse rule document: %w", err)
	}
	if raw == nil {
		return nil, errors.New("rule document is empty")
	}

	normalized, err := json.Marshal(normalize(raw, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to encode rule document: %w", err)
	}
	if err := validateSchema(normalized); err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(normalized, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode rule document: %w", err)
	}

	mode, err := rules.ParseMode(string(doc.Mode))
	if err != nil {
		return nil, err
	}
	doc.Mode = mode

	if err := rules.Validate(doc.Rules, doc.Fields); err != nil {
		return nil, fmt.Errorf("rule set %q is invalid: %w", doc.Scope, err)
	}
	return &doc, nil
}

// Marshal renders a document as YAML.
func Marshal(doc *Document) ([]byte, error) {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rule document: %w", err)
	}
	return out, nil
}

// ParseValues decodes a YAML or JSON object of field values.
func ParseValues(data []byte) (types.ValueBag, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse values: %w", err)
	}
	return types.BagFromMap(raw), nil
}

// normalize converts a decoded YAML tree into JSON-encodable values and
// stringifies scalars stored under "value" keys.
func normalize(node any, key string) any {
	switch x := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			out[k] = normalize(v, k)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			ks := fmt.Sprint(k)
			out[ks] = normalize(v, ks)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, v := range x {
			out[i] = normalize(v, "")
		}
		return out
	}

	if key != "value" {
		if t, ok := node.(time.Time); ok {
			return t.Format(time.RFC3339)
		}
		return node
	}
	switch x := node.(type) {
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(types.DateLayout)
	case nil:
		return ""
	default:
		return node
	}
}

func validateSchema(data []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("rule document schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return formatNumberedErrors("rule document schema validation failed", msgs)
}

// formatNumberedErrors formats a list of messages as a single error with a numbered list.
func formatNumberedErrors(prefix string, msgs []string) error {
	if len(msgs) == 1 {
		return fmt.Errorf("%s: %s", prefix, msgs[0])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s with %d errors:\n", prefix, len(msgs))
	for i, msg := range msgs {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, msg)
	}
	return errors.New(strings.TrimSuffix(b.String(), "\n"))
}
