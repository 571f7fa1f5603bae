// Copyright 2023 QuarkFin

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wire

import (
	"strconv"
	"strings"

	"github.com/stockparfait/errors"

	"github.com/quarkfin/qf-lib-sub003/dates"
)

// FieldType is the declared type of a field, as reported by the field-list
// resource. It drives per-cell value coercion.
type FieldType uint8

// Enum values for FieldType.
const (
	TypeText FieldType = iota // the fallback for unrecognized declarations
	TypeNumber
	TypeDate
	TypeBulk
)

// ParseFieldType maps a declared type string from the field-list resource to
// a FieldType. Unrecognized declarations coerce as plain text.
func ParseFieldType(s string) FieldType {
	switch s {
	case "Date":
		return TypeDate
	case "Price", "Real", "Integer":
		return TypeNumber
	case "Bulk Format":
		return TypeBulk
	}
	return TypeText
}

// FieldTypeMap maps a field mnemonic to its declared type.
type FieldTypeMap map[string]FieldType

// Of returns the type of the field, defaulting to text for unknown fields.
func (m FieldTypeMap) Of(field string) FieldType {
	if t, ok := m[field]; ok {
		return t
	}
	return TypeText
}

// ValueKind discriminates the variants of Value.
type ValueKind uint8

// Enum values for ValueKind.
const (
	KindMissing ValueKind = iota
	KindNumber
	KindText
	KindDate
	KindList
)

// Value is a single decoded table cell. Exactly one of the payload fields is
// meaningful, selected by Kind; the zero value is the missing value.
type Value struct {
	Kind ValueKind
	Num  float64
	Text string
	Date dates.Date
	List []string
}

// Missing returns the missing value.
func Missing() Value { return Value{} }

// Number wraps a numeric cell.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// Text wraps a text cell.
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

// Day wraps a calendar date cell.
func Day(d dates.Date) Value { return Value{Kind: KindDate, Date: d} }

// List wraps a decoded bulk cell.
func List(items []string) Value { return Value{Kind: KindList, List: items} }

// IsMissing checks for the missing value.
func (v Value) IsMissing() bool { return v.Kind == KindMissing }

// String renders the value for CSV and text output. The missing value renders
// as the empty string.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindText:
		return v.Text
	case KindDate:
		return v.Date.String()
	case KindList:
		return strings.Join(v.List, ";")
	}
	return ""
}

// Sentinel strings the service emits in place of an absent value.
func isSentinel(s string) bool {
	return s == "N.A." || s == "N.S."
}

// Coerce converts a raw cell to a typed Value according to the declared field
// type. Blank cells, sentinel strings and unparseable tokens all become the
// missing value; coercion never fails.
func Coerce(cell string, t FieldType) Value {
	s := strings.TrimSpace(cell)
	if s == "" || isSentinel(s) {
		return Missing()
	}
	switch t {
	case TypeDate:
		d, err := dates.FromCompact(s)
		if err != nil {
			return Missing()
		}
		return Day(d)
	case TypeNumber:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Missing()
		}
		return Number(f)
	case TypeBulk:
		items, err := parseBulkToken(s)
		if err != nil || len(items) == 0 {
			return Missing()
		}
		return List(items)
	}
	return Text(s)
}

// parseBulkToken tokenizes a count-prefixed, semicolon-delimited micro-list,
// e.g. "3;CLZ21;CLF22;CLG22", into its ordered sub-identifiers.
func parseBulkToken(s string) ([]string, error) {
	s = strings.Trim(strings.TrimSpace(s), ";")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ";")
	n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, errors.Annotate(err, "bulk token has no leading count: '%s'", s)
	}
	items := parts[1:]
	if n != len(items) {
		return nil, errors.Reason(
			"bulk token declares %d items but carries %d: '%s'", n, len(items), s)
	}
	for i, item := range items {
		items[i] = strings.TrimSpace(item)
	}
	return items, nil
}
