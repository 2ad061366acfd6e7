// Package mapping turns raw source records into target records through
// per-field mapping rules. Each rule reads one source field, optionally runs
// a formula over it, substitutes through a lookup table and writes the
// result to a target field.
package mapping

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/json"
	"github.com/ajitpratap0/datasync/pkg/mapping/expr"
)

// Target type hints accepted in Transformation.Type.
const (
	TypeNumber  = "number"
	TypeString  = "string"
	TypeBoolean = "boolean"
)

// MappingRule maps one source field to one target field.
type MappingRule struct {
	ID             string         `json:"id"`
	DataSourceID   string         `json:"dataSourceId"`
	SourceField    string         `json:"sourceField"`
	TargetField    string         `json:"targetField"`
	Transformation Transformation `json:"transformation"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Transformation lists the optional steps of a rule, applied in order:
// formula, lookup table, type coercion. Default replaces a missing source
// value and skips formula and lookup.
type Transformation struct {
	Formula     string       `json:"formula,omitempty"`
	LookupTable *LookupTable `json:"lookupTable,omitempty"`
	Type        string       `json:"type,omitempty"`
	Default     interface{}  `json:"default,omitempty"`
}

// LookupTable is a flat string-to-string substitution map. It decodes from
// either a JSON object or a string holding a JSON object. The text is kept
// as given and parsed when the rule is compiled.
type LookupTable struct {
	raw string
}

// NewLookupTable builds a table from entries.
func NewLookupTable(entries map[string]string) *LookupTable {
	raw, _ := json.Marshal(entries)
	return &LookupTable{raw: string(raw)}
}

// LookupTableText wraps table text that has not been parsed yet.
func LookupTableText(text string) *LookupTable {
	return &LookupTable{raw: text}
}

// Text returns the table as given.
func (l *LookupTable) Text() string { return l.raw }

// Entries parses the table. Anything other than a flat object of scalar
// values is an error.
func (l *LookupTable) Entries() (map[string]string, error) {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(l.raw), &parsed); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "lookup table is not a JSON object")
	}
	if parsed == nil {
		return nil, errors.New(errors.ErrorTypeData, "lookup table is not a JSON object")
	}
	out := make(map[string]string, len(parsed))
	for k, v := range parsed {
		switch x := v.(type) {
		case string:
			out[k] = x
		case float64, bool:
			out[k] = formatScalar(x)
		default:
			return nil, errors.Newf(errors.ErrorTypeData, "lookup table entry %q is not a string", k)
		}
	}
	return out, nil
}

// MarshalJSON emits the table as an object when it parses and as the
// original text otherwise.
func (l LookupTable) MarshalJSON() ([]byte, error) {
	if entries, err := l.Entries(); err == nil {
		return json.Marshal(entries)
	}
	return json.Marshal(l.raw)
}

// UnmarshalJSON accepts an object or a string.
func (l *LookupTable) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		l.raw = text
		return nil
	}
	l.raw = string(trimmed)
	return nil
}

// ValidateRule checks a rule before it is stored: both fields are set, the
// formula parses, the lookup table parses and the type hint is known.
func ValidateRule(rule MappingRule) error {
	verr := errors.NewValidationError("mapping rule")
	if strings.TrimSpace(rule.SourceField) == "" {
		verr.Add("sourceField", "is required")
	}
	if strings.TrimSpace(rule.TargetField) == "" {
		verr.Add("targetField", "is required")
	}
	t := rule.Transformation
	if strings.TrimSpace(t.Formula) != "" {
		if _, err := expr.Parse(t.Formula); err != nil {
			verr.Add("transformation.formula", err.Error())
		}
	}
	if t.LookupTable != nil {
		if _, err := t.LookupTable.Entries(); err != nil {
			verr.Add("transformation.lookupTable", err.Error())
		}
	}
	switch t.Type {
	case "", TypeNumber, TypeString, TypeBoolean:
	default:
		verr.Addf("transformation.type", "unknown type %q", t.Type)
	}
	return verr.OrNil()
}

func formatScalar(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
