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

// Package cube assembles parsed rows into a dense three-axis container
// (date x instrument x field) and collapses the axes the caller requested as
// single values.
//
// The container is always built over the requested axes, not the axes
// observed in a response, so the output shape is stable regardless of
// partial or empty upstream data: any combination absent from the response
// holds the missing value.
//
// Squeeze is a pure function from the three single-axis flags to one of four
// result shapes; it never inspects the data itself:
//
//	date  instrument  field   result
//	 1         1        1     Scalar
//	 1         1        n     Series over fields
//	 1         n        1     Series over instruments
//	 n         1        1     Series over dates
//	 1         n        n     Table instrument x field
//	 n         1        n     Table date x field
//	 n         n        1     Table date x instrument
//	 n         n        n     the Cube itself
package cube

import (
	"golang.org/x/exp/slices"

	"github.com/quarkfin/qf-lib-sub003/dates"
	"github.com/quarkfin/qf-lib-sub003/wire"
)

// Axis identifies one of the three cube axes.
type Axis uint8

// Enum values for Axis.
const (
	AxisDate Axis = iota
	AxisInstrument
	AxisField
)

// String names the axis for output headers.
func (a Axis) String() string {
	switch a {
	case AxisDate:
		return "date"
	case AxisInstrument:
		return "instrument"
	case AxisField:
		return "field"
	}
	return "unknown"
}

// Single records which request axes were supplied as a single value rather
// than a sequence. It is computed once at the call boundary and fully
// determines the result shape.
type Single struct {
	Date       bool
	Instrument bool
	Field      bool
}

// Result is the dimension-appropriate output of a fetch: exactly one of
// *Scalar, *Series, *Table or *Cube.
type Result interface {
	result()
}

// Scalar is a zero-axis result. Value is missing when the single requested
// combination was absent from the response.
type Scalar struct {
	Name  string // canonical display name of the single instrument, if any
	Value wire.Value
}

// Series is a one-axis result.
type Series struct {
	Name   string
	Axis   Axis
	Labels []string
	Values []wire.Value
}

// Table is a two-axis result, Cells[row][col].
type Table struct {
	Name      string
	RowAxis   Axis
	ColAxis   Axis
	RowLabels []string
	ColLabels []string
	Cells     [][]wire.Value
}

func (*Scalar) result() {}
func (*Series) result() {}
func (*Table) result()  {}
func (*Cube) result()   {}

// Cube is the full three-axis container. Cells not explicitly Set hold the
// missing value.
type Cube struct {
	Name        string
	dates       []dates.Date
	instruments []string
	fields      []string
	dateIdx     map[dates.Date]int
	instIdx     map[string]int
	fieldIdx    map[string]int
	cells       []wire.Value
}

func dedupe(labels []string) ([]string, map[string]int) {
	out := make([]string, 0, len(labels))
	idx := make(map[string]int, len(labels))
	for _, l := range labels {
		if _, ok := idx[l]; ok {
			continue
		}
		idx[l] = len(out)
		out = append(out, l)
	}
	return out, idx
}

// New creates a Cube over the given axes, all cells missing. Dates are
// sorted ascending and deduplicated; instrument and field order is
// preserved.
func New(ds []dates.Date, instruments, fields []string) *Cube {
	sorted := slices.Clone(ds)
	slices.SortFunc(sorted, func(a, b dates.Date) bool { return a.Before(b) })
	sorted = slices.Compact(sorted)

	c := &Cube{
		dates:   sorted,
		dateIdx: make(map[dates.Date]int, len(sorted)),
	}
	for i, d := range sorted {
		c.dateIdx[d] = i
	}
	c.instruments, c.instIdx = dedupe(instruments)
	c.fields, c.fieldIdx = dedupe(fields)
	c.cells = make([]wire.Value, len(c.dates)*len(c.instruments)*len(c.fields))
	return c
}

// Dates returns a copy of the date axis, ascending.
func (c *Cube) Dates() []dates.Date { return slices.Clone(c.dates) }

// Instruments returns a copy of the instrument axis, in requested order.
func (c *Cube) Instruments() []string { return slices.Clone(c.instruments) }

// Fields returns a copy of the field axis, in requested order.
func (c *Cube) Fields() []string { return slices.Clone(c.fields) }

func (c *Cube) at(di, ii, fi int) wire.Value {
	if di < 0 || ii < 0 || fi < 0 {
		return wire.Missing()
	}
	return c.cells[(di*len(c.instruments)+ii)*len(c.fields)+fi]
}

// Set stores a value. It reports whether the coordinates belong to the
// requested axes; values off the axes are ignored.
func (c *Cube) Set(d dates.Date, instrument, field string, v wire.Value) bool {
	di, ok := c.dateIdx[d]
	if !ok {
		return false
	}
	ii, ok := c.instIdx[instrument]
	if !ok {
		return false
	}
	fi, ok := c.fieldIdx[field]
	if !ok {
		return false
	}
	c.cells[(di*len(c.instruments)+ii)*len(c.fields)+fi] = v
	return true
}

// At returns the value at the coordinates. The second value is false when
// any coordinate is off the requested axes.
func (c *Cube) At(d dates.Date, instrument, field string) (wire.Value, bool) {
	di, ok := c.dateIdx[d]
	if !ok {
		return wire.Missing(), false
	}
	ii, ok := c.instIdx[instrument]
	if !ok {
		return wire.Missing(), false
	}
	fi, ok := c.fieldIdx[field]
	if !ok {
		return wire.Missing(), false
	}
	return c.at(di, ii, fi), true
}

// only returns the sole index of a collapsed axis, or -1 when the axis is
// empty; reading through -1 yields the missing value.
func only(n int) int {
	if n == 0 {
		return -1
	}
	return 0
}

func (c *Cube) dateLabels() []string {
	labels := make([]string, len(c.dates))
	for i, d := range c.dates {
		labels[i] = d.String()
	}
	return labels
}

// Squeeze collapses the axes marked single and returns the dimension-
// appropriate result. The decision depends only on the flags, never on the
// data.
func (c *Cube) Squeeze(s Single) Result {
	switch {
	case s.Date && s.Instrument && s.Field:
		return &Scalar{
			Name:  c.Name,
			Value: c.at(only(len(c.dates)), only(len(c.instruments)), only(len(c.fields))),
		}

	case s.Date && s.Instrument:
		values := make([]wire.Value, len(c.fields))
		for fi := range c.fields {
			values[fi] = c.at(only(len(c.dates)), only(len(c.instruments)), fi)
		}
		return &Series{Name: c.Name, Axis: AxisField,
			Labels: slices.Clone(c.fields), Values: values}

	case s.Date && s.Field:
		values := make([]wire.Value, len(c.instruments))
		for ii := range c.instruments {
			values[ii] = c.at(only(len(c.dates)), ii, only(len(c.fields)))
		}
		return &Series{Name: c.Name, Axis: AxisInstrument,
			Labels: slices.Clone(c.instruments), Values: values}

	case s.Instrument && s.Field:
		values := make([]wire.Value, len(c.dates))
		for di := range c.dates {
			values[di] = c.at(di, only(len(c.instruments)), only(len(c.fields)))
		}
		return &Series{Name: c.Name, Axis: AxisDate,
			Labels: c.dateLabels(), Values: values}

	case s.Date:
		cells := make([][]wire.Value, len(c.instruments))
		for ii := range c.instruments {
			cells[ii] = make([]wire.Value, len(c.fields))
			for fi := range c.fields {
				cells[ii][fi] = c.at(only(len(c.dates)), ii, fi)
			}
		}
		return &Table{Name: c.Name, RowAxis: AxisInstrument, ColAxis: AxisField,
			RowLabels: slices.Clone(c.instruments),
			ColLabels: slices.Clone(c.fields), Cells: cells}

	case s.Instrument:
		cells := make([][]wire.Value, len(c.dates))
		for di := range c.dates {
			cells[di] = make([]wire.Value, len(c.fields))
			for fi := range c.fields {
				cells[di][fi] = c.at(di, only(len(c.instruments)), fi)
			}
		}
		return &Table{Name: c.Name, RowAxis: AxisDate, ColAxis: AxisField,
			RowLabels: c.dateLabels(),
			ColLabels: slices.Clone(c.fields), Cells: cells}

	case s.Field:
		cells := make([][]wire.Value, len(c.dates))
		for di := range c.dates {
			cells[di] = make([]wire.Value, len(c.instruments))
			for ii := range c.instruments {
				cells[di][ii] = c.at(di, ii, only(len(c.fields)))
			}
		}
		return &Table{Name: c.Name, RowAxis: AxisDate, ColAxis: AxisInstrument,
			RowLabels: c.dateLabels(),
			ColLabels: slices.Clone(c.instruments), Cells: cells}
	}
	return c
}
