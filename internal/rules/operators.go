package rules

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Operator compares a context value with a condition value
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpGreaterThan        Operator = "greater_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThan           Operator = "less_than"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "not_contains"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not_in"
	OpBetween            Operator = "between"
	OpRegex              Operator = "regex"
	OpIsTrue             Operator = "is_true"
	OpIsFalse            Operator = "is_false"
	OpIsNull             Operator = "is_null"
	OpIsNotNull          Operator = "is_not_null"
)

// Known reports whether the operator is supported
func (o Operator) Known() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual,
		OpContains, OpNotContains, OpIn, OpNotIn, OpBetween, OpRegex,
		OpIsTrue, OpIsFalse, OpIsNull, OpIsNotNull:
		return true
	}
	return false
}

func (e *Engine) check(c Condition, ctx map[string]interface{}) bool {
	actual := Lookup(ctx, c.Field)

	switch c.Operator {
	case OpEquals:
		return equal(actual, c.Value)
	case OpNotEquals:
		return !equal(actual, c.Value)
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		a, ok := toFloat64(actual)
		if !ok {
			return false
		}
		b, ok := toFloat64(c.Value)
		if !ok {
			return false
		}
		switch c.Operator {
		case OpGreaterThan:
			return a > b
		case OpGreaterThanOrEqual:
			return a >= b
		case OpLessThan:
			return a < b
		default:
			return a <= b
		}
	case OpContains:
		return actual != nil && contains(actual, c.Value)
	case OpNotContains:
		return actual != nil && !contains(actual, c.Value)
	case OpIn:
		list, ok := c.Value.([]interface{})
		return ok && member(actual, list)
	case OpNotIn:
		list, ok := c.Value.([]interface{})
		return ok && !member(actual, list)
	case OpBetween:
		bounds, ok := c.Value.([]interface{})
		if !ok || len(bounds) != 2 {
			return false
		}
		a, ok := toFloat64(actual)
		lo, okLo := toFloat64(bounds[0])
		hi, okHi := toFloat64(bounds[1])
		return ok && okLo && okHi && lo <= a && a <= hi
	case OpRegex:
		re, ok := e.patterns[fmt.Sprint(c.Value)]
		return ok && actual != nil && re.MatchString(fmt.Sprint(actual))
	case OpIsTrue:
		return truthy(actual)
	case OpIsFalse:
		return !truthy(actual)
	case OpIsNull:
		return actual == nil
	case OpIsNotNull:
		return actual != nil
	}
	return false
}

// Lookup resolves a dot path such as "customer.age" in ctx. Missing keys yield nil.
func Lookup(ctx map[string]interface{}, path string) interface{} {
	if path == "" {
		return nil
	}
	var cur interface{} = ctx
	for _, key := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]interface{}:
			cur = m[key]
		case map[string]string:
			v, ok := m[key]
			if !ok {
				return nil
			}
			cur = v
		default:
			return nil
		}
	}
	return cur
}

func equal(a, b interface{}) bool {
	if fa, ok := toFloat64(a); ok {
		if fb, ok := toFloat64(b); ok {
			return fa == fb
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return sa == sb
		}
	}
	return reflect.DeepEqual(a, b)
}

func contains(haystack, needle interface{}) bool {
	if list, ok := haystack.([]interface{}); ok {
		return member(needle, list)
	}
	if list, ok := haystack.([]string); ok {
		for _, s := range list {
			if s == fmt.Sprint(needle) {
				return true
			}
		}
		return false
	}
	return strings.Contains(fmt.Sprint(haystack), fmt.Sprint(needle))
}

func member(v interface{}, list []interface{}) bool {
	for _, item := range list {
		if equal(v, item) {
			return true
		}
	}
	return false
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(t)
		if err == nil {
			return b
		}
		return t != ""
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	}
	if f, ok := toFloat64(v); ok {
		return f != 0
	}
	return true
}

func toFloat64(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
