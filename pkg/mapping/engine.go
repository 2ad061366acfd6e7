package mapping

import (
	"math"
	"strconv"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/json"
	"github.com/ajitpratap0/datasync/pkg/logger"
	"github.com/ajitpratap0/datasync/pkg/mapping/expr"
)

// Engine applies mapping rules. It keeps no per-record state; parsed
// formulas are memoized by source text so large record sets are not
// reparsed. An Engine is safe for concurrent use.
type Engine struct {
	logger   *zap.Logger
	programs *ristretto.Cache[string, *expr.Program]
}

// NewEngine creates an Engine. A nil logger is replaced with a no-op one.
func NewEngine(log *zap.Logger) *Engine {
	e := &Engine{logger: logger.OrNop(log).With(zap.String("component", "mapping"))}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *expr.Program]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		e.logger.Warn("formula cache disabled", zap.Error(err))
		return e
	}
	e.programs = cache
	return e
}

// Close releases the formula cache.
func (e *Engine) Close() {
	if e.programs != nil {
		e.programs.Close()
	}
}

func (e *Engine) program(formula string) (*expr.Program, error) {
	if e.programs != nil {
		if p, ok := e.programs.Get(formula); ok {
			return p, nil
		}
	}
	p, err := expr.Compile(formula)
	if err != nil {
		return nil, err
	}
	if e.programs != nil {
		e.programs.Set(formula, p, 1)
	}
	return p, nil
}

// CompiledRule is a rule whose formula and lookup table have been parsed.
// A rule that failed to compile keeps its error and reports it on every
// application.
type CompiledRule struct {
	Rule    MappingRule
	program *expr.Program
	lookup  map[string]string
	err     error
}

// Err returns the compile error, if any.
func (c *CompiledRule) Err() error { return c.err }

// Compile parses the rule's formula and lookup table. The returned rule is
// usable even when err is non-nil.
func (e *Engine) Compile(rule MappingRule) (*CompiledRule, error) {
	c := &CompiledRule{Rule: rule}
	t := rule.Transformation
	if strings.TrimSpace(t.Formula) != "" {
		p, err := e.program(t.Formula)
		if err != nil {
			c.err = transformationError(rule, err)
			return c, c.err
		}
		c.program = p
	}
	if t.LookupTable != nil {
		entries, err := t.LookupTable.Entries()
		if err != nil {
			c.err = transformationError(rule, err)
			return c, c.err
		}
		c.lookup = entries
	}
	return c, nil
}

// Mapper is a compiled rule set, built once and applied to many records.
type Mapper struct {
	rules []*CompiledRule
}

// Mapper compiles rules. Compile failures are kept per rule and reported
// by Apply, so one bad rule does not block the others.
func (e *Engine) Mapper(rules []MappingRule) *Mapper {
	m := &Mapper{rules: make([]*CompiledRule, 0, len(rules))}
	for _, r := range rules {
		c, err := e.Compile(r)
		if err != nil {
			e.logger.Debug("mapping rule does not compile",
				zap.String("rule_id", r.ID),
				zap.Error(err))
		}
		m.rules = append(m.rules, c)
	}
	return m
}

// Len returns the number of rules.
func (m *Mapper) Len() int { return len(m.rules) }

// Apply maps record through every rule. The output holds each field whose
// rule succeeded; failed rules are returned joined as
// *errors.TransformationError values.
func (m *Mapper) Apply(record map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(m.rules))
	var errs []error
	for _, c := range m.rules {
		v, _, err := c.run(record)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[c.Rule.TargetField] = v
	}
	return out, errors.Join(errs...)
}

// Apply compiles rules and maps a single record.
func (e *Engine) Apply(record map[string]interface{}, rules []MappingRule) (map[string]interface{}, error) {
	return e.Mapper(rules).Apply(record)
}

// PreviewResult is the outcome of running one transformation on a sample.
type PreviewResult struct {
	SourceField string      `json:"sourceField"`
	SourceValue interface{} `json:"sourceValue"`
	Description string      `json:"description"`
	Result      interface{} `json:"result"`
}

// Preview runs transformation on a single sample value without a record.
// Description lists the steps that ran, e.g. "Formula: value*1.1 + Lookup
// Table", or "Direct mapping" when none did.
func (e *Engine) Preview(sourceField string, sample interface{}, t Transformation) (PreviewResult, error) {
	rule := MappingRule{ID: "preview", SourceField: sourceField, TargetField: sourceField, Transformation: t}
	res := PreviewResult{SourceField: sourceField, SourceValue: sample}

	c, err := e.Compile(rule)
	if err != nil {
		return res, err
	}
	record := map[string]interface{}{}
	if sample != nil {
		record[sourceField] = sample
	}
	v, steps, err := c.run(record)
	if err != nil {
		return res, err
	}
	res.Result = v
	res.Description = describe(steps)
	return res, nil
}

func describe(steps []string) string {
	if len(steps) == 0 {
		return "Direct mapping"
	}
	return strings.Join(steps, " + ")
}

// run executes the rule pipeline on record and reports the steps applied.
func (c *CompiledRule) run(record map[string]interface{}) (interface{}, []string, error) {
	if c.err != nil {
		return nil, nil, c.err
	}
	t := c.Rule.Transformation
	var steps []string

	value := record[c.Rule.SourceField]
	if value == nil && t.Default != nil {
		steps = append(steps, "Default value")
		v, err := coerce(t.Default, t.Type)
		if err != nil {
			return nil, nil, transformationError(c.Rule, err)
		}
		if t.Type != "" {
			steps = append(steps, "Type: "+t.Type)
		}
		return v, steps, nil
	}

	if c.program != nil {
		out, err := c.program.Eval(numericInput(value))
		if err != nil {
			return nil, nil, transformationError(c.Rule, err)
		}
		value = out
		steps = append(steps, "Formula: "+t.Formula)
	}

	if c.lookup != nil {
		steps = append(steps, "Lookup Table")
		if value != nil {
			if mapped, ok := c.lookup[formatScalar(value)]; ok {
				value = mapped
			}
		}
	}

	if t.Type != "" {
		v, err := coerce(value, t.Type)
		if err != nil {
			return nil, nil, transformationError(c.Rule, err)
		}
		value = v
		steps = append(steps, "Type: "+t.Type)
	}
	return value, steps, nil
}

// numericInput turns strings that parse as numbers into float64, so a
// formula sees "100" as 100.
func numericInput(v interface{}) interface{} {
	switch x := v.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return x
		}
		return f
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	}
	return v
}

func coerce(v interface{}, typ string) (interface{}, error) {
	switch typ {
	case "":
		return v, nil
	case TypeString:
		if v == nil {
			return nil, nil
		}
		return formatScalar(v), nil
	case TypeNumber:
		switch x := numericInput(v).(type) {
		case float64:
			return x, nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case nil:
			return nil, nil
		}
		return nil, errors.Newf(errors.ErrorTypeData, "cannot convert %v to number", v)
	case TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, errors.Newf(errors.ErrorTypeData, "cannot convert %q to boolean", x)
			}
			return b, nil
		case float64:
			if x == 0 || x == 1 {
				return x == 1, nil
			}
		case nil:
			return nil, nil
		}
		return nil, errors.Newf(errors.ErrorTypeData, "cannot convert %v to boolean", v)
	}
	return nil, errors.Newf(errors.ErrorTypeData, "unknown type %q", typ)
}

func transformationError(rule MappingRule, cause error) error {
	return &errors.TransformationError{RuleID: rule.ID, Field: rule.TargetField, Cause: cause}
}
