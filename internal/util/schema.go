package util

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ValidationError describes the first tool argument that failed validation.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Argument formats checked by ValidateParameters. They are declared with the
// `format` struct tag.
const (
	// FormatDate is a calendar date, YYYY-MM-DD.
	FormatDate = "date"
	// FormatLocation is a city name or an IATA airport/city code.
	FormatLocation = "location"
	// FormatCurrency is an ISO 4217 currency code.
	FormatCurrency = "currency"
)

// CreateSchema derives an object schema from the exported fields of a struct.
// Recognized tags: json (name; omitempty marks the field optional),
// description, format, minimum and enum (comma separated values).
func CreateSchema(structType any) map[string]any {
	properties := map[string]any{}
	schema := map[string]any{"type": "object", "properties": properties}

	t := reflect.TypeOf(structType)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return schema
	}

	var required []string
	for _, field := range reflect.VisibleFields(t) {
		if !field.IsExported() || field.Anonymous {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
		}

		prop := map[string]any{"type": jsonType(field.Type)}
		if d := field.Tag.Get("description"); d != "" {
			prop["description"] = d
		}
		if f := field.Tag.Get("format"); f != "" {
			prop["format"] = f
		}
		if m := field.Tag.Get("minimum"); m != "" {
			if v, err := strconv.ParseFloat(m, 64); err == nil {
				prop["minimum"] = v
			}
		}
		if e := field.Tag.Get("enum"); e != "" {
			prop["enum"] = strings.Split(e, ",")
		}
		properties[name] = prop

		if !slices.Contains(strings.Split(opts, ","), "omitempty") && field.Type.Kind() != reflect.Pointer {
			required = append(required, name)
		}
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ValidateParameters checks params against schema: required fields, JSON
// types, minimums, enums and the travel formats. Extra fields are allowed.
// Fields are checked in name order so the reported error is stable.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	for _, name := range stringList(schema["required"]) {
		if v, ok := params[name]; !ok || v == nil || v == "" {
			return &ValidationError{Field: name, Message: "required field is missing"}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for _, name := range slices.Sorted(maps.Keys(params)) {
		prop, ok := properties[name].(map[string]any)
		value := params[name]
		if !ok || value == nil {
			continue
		}
		if msg := checkValue(value, prop); msg != "" {
			return &ValidationError{Field: name, Value: value, Message: msg}
		}
	}
	return nil
}

func checkValue(value any, prop map[string]any) string {
	typ, _ := prop["type"].(string)
	if !isType(value, typ) {
		return fmt.Sprintf("expected type %s, got %T", typ, value)
	}

	if minimum, ok := prop["minimum"].(float64); ok {
		if n, isNum := toFloat(value); isNum && n < minimum {
			return fmt.Sprintf("must be at least %s", strconv.FormatFloat(minimum, 'f', -1, 64))
		}
	}

	s, isString := value.(string)
	if !isString || strings.TrimSpace(s) == "" {
		return ""
	}
	s = strings.TrimSpace(s)

	if enum := stringList(prop["enum"]); len(enum) > 0 && !slices.ContainsFunc(enum, func(e string) bool { return strings.EqualFold(e, s) }) {
		return "must be one of " + strings.Join(enum, ", ")
	}

	format, _ := prop["format"].(string)
	switch format {
	case FormatDate:
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			return "must be a date in YYYY-MM-DD format"
		}
	case FormatLocation:
		if !isLocation(s) {
			return "must be a city name or IATA code"
		}
	case FormatCurrency:
		if len(s) != 3 || strings.IndexFunc(s, func(r rune) bool { return r > unicode.MaxASCII || !unicode.IsLetter(r) }) >= 0 {
			return "must be a 3-letter ISO currency code"
		}
	}
	return ""
}

// isLocation accepts names like "New Delhi", "Port-au-Prince" or "BOM".
func isLocation(s string) bool {
	if n := len([]rune(s)); n < 2 || n > 64 {
		return false
	}
	letters := 0
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letters++
		case r == ' ' || r == '-' || r == '.' || r == '\'' || r == ',':
		default:
			return false
		}
	}
	return letters > 0
}

// stringList accepts []string (CreateSchema) and []any (decoded JSON).
func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, e := range l {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func jsonType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Pointer:
		return jsonType(t.Elem())
	default:
		return "string"
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func isType(v any, typ string) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "integer":
		n, ok := toFloat(v)
		return ok && n == float64(int64(n))
	case "number":
		_, ok := toFloat(v)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		switch v.(type) {
		case []any, []string, []map[string]any:
			return true
		}
		return false
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}
