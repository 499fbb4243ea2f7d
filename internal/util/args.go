package util

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// StringArg returns params[key] as a trimmed string. Numbers are formatted.
func StringArg(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// IntArg returns params[key] as an int, or def when absent or unparsable.
func IntArg(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// DecimalArg returns params[key] as a decimal. Absent values yield zero.
func DecimalArg(params map[string]any, key string) (decimal.Decimal, error) {
	switch v := params[key].(type) {
	case nil:
		return decimal.Zero, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, &ValidationError{Field: key, Value: v, Message: "not a decimal number"}
		}
		return d, nil
	default:
		return decimal.Zero, &ValidationError{Field: key, Value: v, Message: fmt.Sprintf("unsupported type %T", v)}
	}
}
