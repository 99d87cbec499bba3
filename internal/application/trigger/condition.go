package trigger

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"

	"github.com/Knetic/govaluate"

	domain "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/trigger"
)

var expressions = map[domain.Operator]string{
	domain.OpEquals:         "field == value",
	domain.OpNotEquals:      "field != value",
	domain.OpGreater:        "field > value",
	domain.OpGreaterOrEqual: "field >= value",
	domain.OpLesser:         "field < value",
	domain.OpLesserOrEqual:  "field <= value",
	domain.OpContains:       "field =~ value",
	domain.OpNotContains:    "field !~ value",
	domain.OpStartsWith:     "field =~ value",
	domain.OpEndsWith:       "field =~ value",
}

// Matches reports whether every group holds for obj.
func Matches(conditions []domain.ConditionGroup, obj *domain.Object) (bool, error) {
	for _, g := range conditions {
		for _, item := range g.Items {
			ok, err := EvaluateItem(item, obj)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
	}
	return true, nil
}

// EvaluateItem evaluates one condition item against obj. A missing field
// satisfies only EMPTY, NOT_EQUALS and NOT_CONTAINS.
func EvaluateItem(item domain.ConditionItem, obj *domain.Object) (bool, error) {
	field, present := obj.Field(item.FieldSource, item.FieldIdentifier)
	if present && field == nil {
		present = false
	}

	switch item.Operator {
	case domain.OpEmpty:
		return !present || isEmpty(field), nil
	case domain.OpNotEmpty:
		return present && !isEmpty(field), nil
	}
	if !present {
		switch item.Operator {
		case domain.OpNotEquals, domain.OpNotContains:
			return true, nil
		default:
			return false, nil
		}
	}

	src, ok := expressions[item.Operator]
	if !ok {
		return false, fmt.Errorf("unsupported operator %q", item.Operator)
	}
	expr, err := govaluate.NewEvaluableExpression(src)
	if err != nil {
		return false, err
	}
	params, err := parameters(item.Operator, field, item.Value)
	if err != nil {
		return false, err
	}
	result, err := expr.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("evaluate %s on %s: %w", item.Operator, item.FieldIdentifier, err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, errors.New("condition did not evaluate to boolean")
	}
	return b, nil
}

func parameters(op domain.Operator, field, value any) (map[string]interface{}, error) {
	switch op {
	case domain.OpContains, domain.OpNotContains:
		return map[string]interface{}{"field": toString(field), "value": regexp.QuoteMeta(toString(value))}, nil
	case domain.OpStartsWith:
		return map[string]interface{}{"field": toString(field), "value": "^" + regexp.QuoteMeta(toString(value))}, nil
	case domain.OpEndsWith:
		return map[string]interface{}{"field": toString(field), "value": regexp.QuoteMeta(toString(value)) + "$"}, nil
	case domain.OpGreater, domain.OpGreaterOrEqual, domain.OpLesser, domain.OpLesserOrEqual:
		f, fok := toNumber(field)
		v, vok := toNumber(value)
		if fok && vok {
			return map[string]interface{}{"field": f, "value": v}, nil
		}
		return map[string]interface{}{"field": toString(field), "value": toString(value)}, nil
	default:
		f, fok := toNumber(field)
		v, vok := toNumber(value)
		if fok && vok {
			return map[string]interface{}{"field": f, "value": v}, nil
		}
		if fb, ok := field.(bool); ok {
			if vb, ok := toBool(value); ok {
				return map[string]interface{}{"field": fb, "value": vb}, nil
			}
		}
		return map[string]interface{}{"field": toString(field), "value": toString(value)}, nil
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	}
	return false, false
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
