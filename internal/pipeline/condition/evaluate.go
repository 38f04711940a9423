// Package condition evaluates pipeline gates against an execution context.
//
// Comparison is strict: numbers only compare with numbers, strings with
// strings, and bools support equality only. Nothing is coerced.
package condition

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/pipelink-labs/pipelink-go/internal/domain"
)

// Evaluate resolves c.Field from ctx and applies c.Operator against c.Value.
func Evaluate(c domain.Condition, ctx *Context) (bool, error) {
	if !c.Operator.Valid() {
		return false, &domain.Error{Kind: domain.KindInvalidOperator, Index: -1, Field: c.Field, Message: fmt.Sprintf("operator %q", c.Operator)}
	}
	left, ok := ctx.Lookup(c.Field)
	if !ok {
		return false, &domain.Error{Kind: domain.KindUnresolvedField, Index: -1, Field: c.Field, Message: "field not present in execution context"}
	}
	return Compare(left, c.Operator, c.Value, c.Field)
}

// Compare applies op to left and right. field is only used for error detail.
func Compare(left any, op domain.Operator, right any, field string) (bool, error) {
	if ln, ok := toDecimal(left); ok {
		rn, ok := toDecimal(right)
		if !ok {
			return false, mismatch(field, left, right)
		}
		return applyOrdered(ln.Cmp(rn), op), nil
	}
	switch l := left.(type) {
	case string:
		r, ok := right.(string)
		if !ok {
			return false, mismatch(field, left, right)
		}
		switch {
		case l < r:
			return applyOrdered(-1, op), nil
		case l > r:
			return applyOrdered(1, op), nil
		default:
			return applyOrdered(0, op), nil
		}
	case bool:
		r, ok := right.(bool)
		if !ok {
			return false, mismatch(field, left, right)
		}
		switch op {
		case domain.OpEqual:
			return l == r, nil
		case domain.OpNotEqual:
			return l != r, nil
		default:
			return false, &domain.Error{Kind: domain.KindTypeMismatch, Index: -1, Field: field, Message: fmt.Sprintf("operator %s is not defined for bool", op)}
		}
	default:
		return false, &domain.Error{Kind: domain.KindTypeMismatch, Index: -1, Field: field, Message: fmt.Sprintf("value of type %T is not comparable", left)}
	}
}

func applyOrdered(cmp int, op domain.Operator) bool {
	switch op {
	case domain.OpEqual:
		return cmp == 0
	case domain.OpNotEqual:
		return cmp != 0
	case domain.OpGreater:
		return cmp > 0
	case domain.OpGreaterEqual:
		return cmp >= 0
	case domain.OpLess:
		return cmp < 0
	case domain.OpLessEqual:
		return cmp <= 0
	default:
		return false
	}
}

func mismatch(field string, left, right any) error {
	return &domain.Error{
		Kind:    domain.KindTypeMismatch,
		Index:   -1,
		Field:   field,
		Message: fmt.Sprintf("cannot compare %s with %s", kindName(left), kindName(right)),
	}
}

func kindName(v any) string {
	if _, ok := toDecimal(v); ok {
		return "number"
	}
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int8:
		return decimal.NewFromInt(int64(t)), true
	case int16:
		return decimal.NewFromInt(int64(t)), true
	case int32:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case uint:
		return fromUint(uint64(t)), true
	case uint8:
		return fromUint(uint64(t)), true
	case uint16:
		return fromUint(uint64(t)), true
	case uint32:
		return fromUint(uint64(t)), true
	case uint64:
		return fromUint(t), true
	case float32:
		return floatDecimal(float64(t))
	case float64:
		return floatDecimal(t)
	default:
		return decimal.Decimal{}, false
	}
}

func floatDecimal(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(f), true
}

func fromUint(u uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(u), 0)
}
