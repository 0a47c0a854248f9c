package types

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

var selectionNameKeys = []string{"name", "variant", "key", "label"}

// VariantSelection is the buyer's variant choice attached to a cart entry or
// order line. It is stored as an opaque JSON object.
type VariantSelection map[string]any

// String returns the value stored at key when it is a non-empty string or number.
func (s VariantSelection) String(key string) string {
	value, ok := s[key]
	if !ok {
		return ""
	}
	return stringify(value)
}

func (s VariantSelection) lookup(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	for k, value := range s {
		if sameLabel(k, key) {
			str := stringify(value)
			return str, str != ""
		}
	}
	return "", false
}

// attributeValues returns the string values of attribute-style selections,
// e.g. {"color":"Red","size":"M"}.
func (s VariantSelection) attributeValues() []string {
	var values []string
	for k, value := range s {
		if isReservedSelectionKey(k) {
			continue
		}
		if str := stringify(value); str != "" {
			values = append(values, str)
		}
	}
	return values
}

func isReservedSelectionKey(key string) bool {
	for _, reserved := range selectionNameKeys {
		if key == reserved {
			return true
		}
	}
	switch key {
	case "option", "value", "quantity", "price", "sku", "id":
		return true
	}
	return false
}

// Equal compares two selections by their normalized string values.
func (s VariantSelection) Equal(other VariantSelection) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		ov, ok := other[k]
		if !ok || normalizeLabel(stringify(v)) != normalizeLabel(stringify(ov)) {
			return false
		}
	}
	return true
}

// UnmarshalJSON accepts an object, or a list of {name, option|value} pairs
// which is folded into a name->option object.
func (s *VariantSelection) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = nil
		return nil
	}
	switch trimmed[0] {
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return err
		}
		*s = obj
		return nil
	case '[':
		var pairs []map[string]any
		if err := json.Unmarshal(trimmed, &pairs); err != nil {
			return err
		}
		out := VariantSelection{}
		for _, pair := range pairs {
			name := stringify(pair["name"])
			value := stringify(pair["option"])
			if value == "" {
				value = stringify(pair["value"])
			}
			if name != "" && value != "" {
				out[name] = value
			}
		}
		*s = out
		return nil
	case '"':
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return err
		}
		inner = strings.TrimSpace(inner)
		if strings.HasPrefix(inner, "{") || strings.HasPrefix(inner, "[") {
			return s.UnmarshalJSON([]byte(inner))
		}
		if inner == "" {
			*s = nil
			return nil
		}
		*s = VariantSelection{"name": inner}
		return nil
	default:
		return fmt.Errorf("variant selection: unsupported payload %q", truncate(trimmed, 32))
	}
}

// Value implements driver.Valuer.
func (s VariantSelection) Value() (driver.Value, error) {
	if len(s) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(map[string]any(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *VariantSelection) Scan(src any) error {
	switch value := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return s.UnmarshalJSON(value)
	case string:
		return s.UnmarshalJSON([]byte(value))
	default:
		return fmt.Errorf("VariantSelection: unsupported Scan type %T", src)
	}
}

// GormDataType keeps AutoMigrate on a json column.
func (VariantSelection) GormDataType() string {
	return "json"
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
	case bool:
		return fmt.Sprintf("%t", v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func normalizeLabel(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func sameLabel(a, b string) bool {
	return normalizeLabel(a) == normalizeLabel(b)
}

// labelTokens splits a composite variant name such as "Rouge / M" or
// "Red-XL" into its normalized parts.
func labelTokens(label string) map[string]struct{} {
	parts := strings.FieldsFunc(label, func(r rune) bool {
		return r == '/' || r == '-' || r == ',' || r == '|' || unicode.IsSpace(r)
	})
	tokens := make(map[string]struct{}, len(parts)+1)
	tokens[normalizeLabel(label)] = struct{}{}
	for _, part := range parts {
		if part = normalizeLabel(part); part != "" {
			tokens[part] = struct{}{}
		}
	}
	return tokens
}
