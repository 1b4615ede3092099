package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/redpen-ai/redpen/internal/review"
)

// resultSchema is the contract the model's JSON must satisfy. Unknown top
// level or issue fields are rejected so schema drift surfaces immediately
// instead of silently dropping data.
const resultSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["summary", "issues"],
  "properties": {
    "summary": {"type": "string"},
    "issues": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["file", "start_line", "severity", "title", "suggestion"],
        "properties": {
          "file": {"type": "string", "minLength": 1},
          "start_line": {"type": "integer"},
          "severity": {"type": "string", "enum": ["critical", "major", "minor", "info"]},
          "title": {"type": "string", "minLength": 1},
          "suggestion": {"type": "string"},
          "confidenceScore": {"type": "number", "minimum": 0, "maximum": 1},
          "confidenceExplanation": {"type": "string"},
          "suggestedFix": {"type": "string"}
        }
      }
    },
    "non_blocking_notes": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["file", "line", "note"],
        "properties": {
          "file": {"type": "string"},
          "line": {"type": "integer"},
          "note": {"type": "string"}
        }
      }
    }
  }
}`

var compiledSchema = gojsonschema.NewStringLoader(resultSchema)

// ExtractJSON pulls the JSON object out of raw model output. Fenced code
// blocks are preferred; otherwise the first balanced object in the text is
// taken. A top-level array is rejected outright.
func ExtractJSON(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)

	if i := strings.Index(candidate, "```"); i >= 0 {
		rest := candidate[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			candidate = strings.TrimSpace(rest[:end])
		}
	}

	start := strings.IndexByte(candidate, '{')
	arrStart := strings.IndexByte(candidate, '[')
	if start < 0 || (arrStart >= 0 && arrStart < start) {
		return "", fmt.Errorf("%w: response contains no JSON object", review.ErrLLMSchemaViolation)
	}

	// Walk to the matching close brace, string-aware.
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(candidate); i++ {
		c := candidate[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == '{':
			depth++
		case !inString && c == '}':
			depth--
			if depth == 0 {
				return candidate[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: unterminated JSON object", review.ErrLLMSchemaViolation)
}

// ParseResult extracts, schema-validates, and unmarshals a model response.
// The raw response is preserved on the result for diagnostics.
func ParseResult(raw string) (*review.ReviewResult, error) {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	res, err := gojsonschema.Validate(compiledSchema, gojsonschema.NewStringLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", review.ErrLLMSchemaViolation, err)
	}
	if !res.Valid() {
		details := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			details = append(details, e.String())
		}
		return nil, fmt.Errorf("%w: %s", review.ErrLLMSchemaViolation, strings.Join(details, "; "))
	}

	var result review.ReviewResult
	if err := json.Unmarshal([]byte(doc), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", review.ErrLLMSchemaViolation, err)
	}
	result.RawLLMResponse = raw
	return &result, nil
}
