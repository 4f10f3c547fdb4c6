package question

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalid wraps every questionnaire validation failure.
var ErrInvalid = errors.New("invalid questionnaire")

// MaxQuestions bounds a single questionnaire.
const MaxQuestions = 10

const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["questions"],
  "properties": {
    "questions": {
      "type": "array",
      "minItems": 1,
      "maxItems": 10,
      "items": {
        "oneOf": [
          {
            "type": "object",
            "required": ["type", "id", "prompt"],
            "properties": {
              "type": {"const": "open"},
              "id": {"type": "string", "minLength": 1},
              "prompt": {"type": "string", "minLength": 1},
              "description": {"type": "string"},
              "placeholder": {"type": "string"},
              "minLength": {"type": "integer", "minimum": 0},
              "maxLength": {"type": "integer", "minimum": 1}
            }
          },
          {
            "type": "object",
            "required": ["type", "id", "prompt", "options"],
            "properties": {
              "type": {"const": "multiple_choice"},
              "id": {"type": "string", "minLength": 1},
              "prompt": {"type": "string", "minLength": 1},
              "description": {"type": "string"},
              "options": {
                "type": "array",
                "minItems": 1,
                "items": {
                  "type": "object",
                  "required": ["id", "label"],
                  "properties": {
                    "id": {"type": "string", "minLength": 1},
                    "label": {"type": "string", "minLength": 1},
                    "description": {"type": "string"}
                  }
                }
              },
              "defaultOptionID": {"type": "string"},
              "allowMultiple": {"type": "boolean"},
              "minSelections": {"type": "integer", "minimum": 1},
              "maxSelections": {"type": "integer", "minimum": 1},
              "allowOwnVariant": {"type": "boolean"}
            }
          }
        ]
      }
    }
  }
}`

var compiled = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
})

// Validate checks a raw questionnaire document against the schema and the
// cross-field rules the schema cannot express.
func Validate(raw []byte) error {
	schema, err := compiled()
	if err != nil {
		return fmt.Errorf("compile questionnaire schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
	}
	var q Questionnaire
	if err := json.Unmarshal(raw, &q); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return q.check()
}

// Parse validates raw and decodes it.
func Parse(raw []byte) (Questionnaire, error) {
	var q Questionnaire
	if err := Validate(raw); err != nil {
		return q, err
	}
	err := json.Unmarshal(raw, &q)
	return q, err
}

func (q Questionnaire) check() error {
	ids := make(map[string]bool, len(q.Questions))
	for _, qu := range q.Questions {
		if ids[qu.ID] {
			return fmt.Errorf("%w: duplicate question id %q", ErrInvalid, qu.ID)
		}
		ids[qu.ID] = true
		switch qu.Type {
		case TypeOpen:
			if qu.MaxLength > 0 && qu.MinLength > qu.MaxLength {
				return fmt.Errorf("%w: question %q: minLength exceeds maxLength", ErrInvalid, qu.ID)
			}
		case TypeMultipleChoice:
			opts := make(map[string]bool, len(qu.Options))
			for _, o := range qu.Options {
				if opts[o.ID] || o.ID == OtherOptionID {
					return fmt.Errorf("%w: question %q: bad option id %q", ErrInvalid, qu.ID, o.ID)
				}
				opts[o.ID] = true
			}
			if qu.DefaultOptionID != "" && !opts[qu.DefaultOptionID] {
				return fmt.Errorf("%w: question %q: unknown default option %q", ErrInvalid, qu.ID, qu.DefaultOptionID)
			}
			if qu.MaxSelections > 0 && qu.MinSelections > qu.MaxSelections {
				return fmt.Errorf("%w: question %q: minSelections exceeds maxSelections", ErrInvalid, qu.ID)
			}
		}
	}
	return nil
}
