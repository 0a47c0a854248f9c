package types

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// VariantShape records which persisted layout a VariantStock was decoded from
// so it can be written back in the same layout.
type VariantShape string

const (
	// VariantShapeLegacy is a list of {name, options[], quantities[]} groups.
	VariantShapeLegacy VariantShape = "legacy"
	// VariantShapeCurrent is {variants: [{name, quantity}], options: [...]}.
	VariantShapeCurrent VariantShape = "current"
)

// ErrVariantQuantity is returned when a variant would go below zero.
var ErrVariantQuantity = errors.New("variant quantity would go negative")

// VariantEntry is one stock-carrying variant.
type VariantEntry struct {
	Key      string `json:"key"`
	Group    string `json:"group,omitempty"`
	Option   string `json:"option"`
	Quantity int    `json:"quantity"`

	groupIdx int
	extra    map[string]json.RawMessage
}

type legacyGroup struct {
	name  string
	extra map[string]json.RawMessage
}

// VariantStock is the decoded per-variant stock of a product. Both persisted
// layouts resolve to the same flat list of entries.
type VariantStock struct {
	Shape   VariantShape
	Entries []VariantEntry

	groups   []legacyGroup
	options  json.RawMessage
	topExtra map[string]json.RawMessage
}

// IsZero reports whether the product carries no variant structure.
func (v VariantStock) IsZero() bool {
	return v.Shape == "" && len(v.Entries) == 0
}

// HasEntries reports whether at least one variant carries stock.
func (v VariantStock) HasEntries() bool {
	return len(v.Entries) > 0
}

// Total sums every variant quantity.
func (v VariantStock) Total() int {
	total := 0
	for _, entry := range v.Entries {
		total += entry.Quantity
	}
	return total
}

// Clone returns a deep copy of the entries so callers can mutate freely.
func (v VariantStock) Clone() VariantStock {
	out := v
	if v.Entries != nil {
		out.Entries = make([]VariantEntry, len(v.Entries))
		copy(out.Entries, v.Entries)
	}
	return out
}

// Quantity returns the quantity at index i.
func (v VariantStock) Quantity(i int) int {
	if i < 0 || i >= len(v.Entries) {
		return 0
	}
	return v.Entries[i].Quantity
}

// Decrement removes delta units from entry i; a negative delta restocks.
// The receiver is left untouched and the updated copy is returned.
func (v VariantStock) Decrement(i int, delta int) (VariantStock, error) {
	if i < 0 || i >= len(v.Entries) {
		return v, fmt.Errorf("variant index %d out of range", i)
	}
	next := v.Entries[i].Quantity - delta
	if next < 0 {
		return v, fmt.Errorf("%w: %s has %d, requested %d", ErrVariantQuantity, v.Entries[i].Key, v.Entries[i].Quantity, delta)
	}
	out := v.Clone()
	out.Entries[i].Quantity = next
	return out, nil
}

// Resolve finds the entry matching a selection.
func (v VariantStock) Resolve(sel VariantSelection) (int, bool) {
	if len(sel) == 0 || len(v.Entries) == 0 {
		return -1, false
	}
	switch v.Shape {
	case VariantShapeLegacy:
		return v.resolveLegacy(sel)
	default:
		return v.resolveCurrent(sel)
	}
}

func (v VariantStock) resolveLegacy(sel VariantSelection) (int, bool) {
	group := sel.String("name")
	option := sel.String("option")
	if option == "" {
		option = sel.String("value")
	}
	if group != "" && option != "" {
		for i, entry := range v.Entries {
			if sameLabel(entry.Group, group) && sameLabel(entry.Option, option) {
				return i, true
			}
		}
	}
	for i, entry := range v.Entries {
		if value, ok := sel.lookup(entry.Group); ok && sameLabel(value, entry.Option) {
			return i, true
		}
	}
	return -1, false
}

func (v VariantStock) resolveCurrent(sel VariantSelection) (int, bool) {
	for _, key := range selectionNameKeys {
		name := sel.String(key)
		if name == "" {
			continue
		}
		for i, entry := range v.Entries {
			if sameLabel(entry.Key, name) {
				return i, true
			}
		}
	}

	values := sel.attributeValues()
	if len(values) == 0 {
		return -1, false
	}
	for i, entry := range v.Entries {
		tokens := labelTokens(entry.Key)
		matched := true
		for _, value := range values {
			if _, ok := tokens[normalizeLabel(value)]; !ok {
				matched = false
				break
			}
		}
		if matched {
			return i, true
		}
	}
	return -1, false
}

// ParseVariantStock decodes either persisted layout. Empty input and JSON
// null decode to the zero value.
func ParseVariantStock(data []byte) (VariantStock, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return VariantStock{}, nil
	}

	switch trimmed[0] {
	case '"':
		// JSON stored as a JSON string.
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return VariantStock{}, fmt.Errorf("variant stock: %w", err)
		}
		return ParseVariantStock([]byte(inner))
	case '[':
		return parseLegacy(trimmed)
	case '{':
		return parseCurrent(trimmed)
	default:
		return VariantStock{}, fmt.Errorf("variant stock: unsupported payload %q", truncate(trimmed, 32))
	}
}

func parseLegacy(data []byte) (VariantStock, error) {
	var rawGroups []map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawGroups); err != nil {
		return VariantStock{}, fmt.Errorf("variant stock legacy: %w", err)
	}

	out := VariantStock{Shape: VariantShapeLegacy, Entries: []VariantEntry{}}
	for gi, raw := range rawGroups {
		var name string
		if err := decodeOptional(raw["name"], &name); err != nil {
			return VariantStock{}, fmt.Errorf("variant stock legacy group %d name: %w", gi, err)
		}
		var options []string
		if err := decodeOptional(raw["options"], &options); err != nil {
			return VariantStock{}, fmt.Errorf("variant stock legacy group %d options: %w", gi, err)
		}
		var quantities []flexInt
		if err := decodeOptional(raw["quantities"], &quantities); err != nil {
			return VariantStock{}, fmt.Errorf("variant stock legacy group %d quantities: %w", gi, err)
		}

		extra := cloneRawMap(raw, "name", "options", "quantities")
		out.groups = append(out.groups, legacyGroup{name: name, extra: extra})

		for oi, option := range options {
			qty := 0
			if oi < len(quantities) {
				qty = int(quantities[oi])
			}
			out.Entries = append(out.Entries, VariantEntry{
				Key:      name + ":" + option,
				Group:    name,
				Option:   option,
				Quantity: qty,
				groupIdx: gi,
			})
		}
	}
	return out, nil
}

func parseCurrent(data []byte) (VariantStock, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return VariantStock{}, fmt.Errorf("variant stock: %w", err)
	}

	var rawVariants []map[string]json.RawMessage
	if err := decodeOptional(top["variants"], &rawVariants); err != nil {
		return VariantStock{}, fmt.Errorf("variant stock variants: %w", err)
	}

	out := VariantStock{
		Shape:    VariantShapeCurrent,
		Entries:  make([]VariantEntry, 0, len(rawVariants)),
		topExtra: cloneRawMap(top, "variants", "options"),
	}
	if opts, ok := top["options"]; ok {
		out.options = append(json.RawMessage(nil), opts...)
	}

	for i, raw := range rawVariants {
		var name string
		if err := decodeOptional(raw["name"], &name); err != nil {
			return VariantStock{}, fmt.Errorf("variant stock variant %d name: %w", i, err)
		}
		var qty flexInt
		if err := decodeOptional(raw["quantity"], &qty); err != nil {
			return VariantStock{}, fmt.Errorf("variant stock variant %d quantity: %w", i, err)
		}
		out.Entries = append(out.Entries, VariantEntry{
			Key:      name,
			Option:   name,
			Quantity: int(qty),
			extra:    cloneRawMap(raw, "name", "quantity"),
		})
	}
	return out, nil
}

// MarshalJSON writes the stock back in the layout it was read from.
func (v VariantStock) MarshalJSON() ([]byte, error) {
	switch v.Shape {
	case "":
		if len(v.Entries) == 0 {
			return []byte("null"), nil
		}
		return v.marshalCurrent()
	case VariantShapeLegacy:
		return v.marshalLegacy()
	default:
		return v.marshalCurrent()
	}
}

// UnmarshalJSON accepts either layout.
func (v *VariantStock) UnmarshalJSON(data []byte) error {
	parsed, err := ParseVariantStock(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v VariantStock) marshalLegacy() ([]byte, error) {
	type group struct {
		fields     map[string]any
		options    []string
		quantities []int
	}
	groups := make([]*group, 0, len(v.groups))
	names := make([]string, 0, len(v.groups))
	for _, g := range v.groups {
		fields := make(map[string]any, len(g.extra))
		for k, raw := range g.extra {
			fields[k] = raw
		}
		groups = append(groups, &group{fields: fields, options: []string{}, quantities: []int{}})
		names = append(names, g.name)
	}

	for _, entry := range v.Entries {
		pos := -1
		if entry.groupIdx >= 0 && entry.groupIdx < len(names) && names[entry.groupIdx] == entry.Group {
			pos = entry.groupIdx
		} else {
			for i, name := range names {
				if name == entry.Group {
					pos = i
					break
				}
			}
		}
		if pos < 0 {
			groups = append(groups, &group{fields: map[string]any{}, options: []string{}, quantities: []int{}})
			names = append(names, entry.Group)
			pos = len(groups) - 1
		}
		groups[pos].options = append(groups[pos].options, entry.Option)
		groups[pos].quantities = append(groups[pos].quantities, entry.Quantity)
	}

	out := make([]map[string]any, 0, len(groups))
	for i, g := range groups {
		g.fields["name"] = names[i]
		g.fields["options"] = g.options
		g.fields["quantities"] = g.quantities
		out = append(out, g.fields)
	}
	return json.Marshal(out)
}

func (v VariantStock) marshalCurrent() ([]byte, error) {
	top := make(map[string]any, len(v.topExtra)+2)
	for k, raw := range v.topExtra {
		top[k] = raw
	}

	variants := make([]map[string]any, 0, len(v.Entries))
	for _, entry := range v.Entries {
		out := make(map[string]any, len(entry.extra)+2)
		for k, raw := range entry.extra {
			out[k] = raw
		}
		out["name"] = entry.Key
		out["quantity"] = entry.Quantity
		variants = append(variants, out)
	}
	top["variants"] = variants

	if len(v.options) > 0 {
		top["options"] = v.options
	} else {
		top["options"] = []any{}
	}
	return json.Marshal(top)
}

// Value implements driver.Valuer. Products without variants persist NULL.
func (v VariantStock) Value() (driver.Value, error) {
	if v.IsZero() {
		return nil, nil
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (v *VariantStock) Scan(src any) error {
	switch value := src.(type) {
	case nil:
		*v = VariantStock{}
		return nil
	case []byte:
		return v.UnmarshalJSON(value)
	case string:
		return v.UnmarshalJSON([]byte(value))
	default:
		return fmt.Errorf("VariantStock: unsupported Scan type %T", src)
	}
}

// GormDataType keeps AutoMigrate on a json column.
func (VariantStock) GormDataType() string {
	return "json"
}

// flexInt accepts JSON numbers and numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = 0
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		trimmed = []byte(strings.TrimSpace(s))
		if len(trimmed) == 0 {
			*f = 0
			return nil
		}
	}
	n, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil {
		return fmt.Errorf("invalid quantity %q", string(trimmed))
	}
	*f = flexInt(int(n))
	return nil
}

func decodeOptional(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func cloneRawMap(src map[string]json.RawMessage, skip ...string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
outer:
	for k, v := range src {
		for _, s := range skip {
			if k == s {
				continue outer
			}
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
