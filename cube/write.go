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

package cube

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/stockparfait/errors"
)

// WriteParams are parameters for pretty-printing or CSV export of a Result.
type WriteParams struct {
	NoHeader    bool // whether to print the header, default - yes
	MaxColWidth int  // for WriteText only; 0 = unlimited, otherwise must be >= 4
}

// grid flattens any Result variant into a header and string rows. A missing
// value renders as the empty string.
func grid(r Result) (header []string, rows [][]string) {
	name := func(n string) string {
		if n == "" {
			return "value"
		}
		return n
	}
	switch v := r.(type) {
	case *Scalar:
		return []string{name(v.Name)}, [][]string{{v.Value.String()}}

	case *Series:
		header = []string{v.Axis.String(), name(v.Name)}
		for i, label := range v.Labels {
			rows = append(rows, []string{label, v.Values[i].String()})
		}
		return header, rows

	case *Table:
		header = append([]string{v.RowAxis.String()}, v.ColLabels...)
		for i, label := range v.RowLabels {
			row := make([]string, 0, len(v.Cells[i])+1)
			row = append(row, label)
			for _, cell := range v.Cells[i] {
				row = append(row, cell.String())
			}
			rows = append(rows, row)
		}
		return header, rows

	case *Cube:
		header = append([]string{"date", "instrument"}, v.fields...)
		for di, d := range v.dates {
			for ii, instrument := range v.instruments {
				row := make([]string, 0, len(v.fields)+2)
				row = append(row, d.String(), instrument)
				for fi := range v.fields {
					row = append(row, v.at(di, ii, fi).String())
				}
				rows = append(rows, row)
			}
		}
		return header, rows
	}
	return nil, nil
}

// WriteCSV writes the result to w in CSV format.
func WriteCSV(w io.Writer, r Result, p WriteParams) error {
	header, rows := grid(r)
	cw := csv.NewWriter(w)
	if !p.NoHeader && len(header) > 0 {
		if err := cw.Write(header); err != nil {
			return errors.Annotate(err, "failed to write header")
		}
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return errors.Annotate(err, "failed to write row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Annotate(err, "failed to flush written rows")
	}
	return nil
}

// WriteText writes the result as a text table formatted for ease of reading.
func WriteText(w io.Writer, r Result, p WriteParams) error {
	if p.MaxColWidth != 0 && p.MaxColWidth < 4 {
		return errors.Reason("MaxColWidth [%d] must be 0 or >= 4", p.MaxColWidth)
	}
	header, rows := grid(r)
	all := rows
	if !p.NoHeader && len(header) > 0 {
		all = append([][]string{header}, rows...)
	}
	if len(all) == 0 {
		return nil
	}

	clip := func(s string) string {
		if p.MaxColWidth > 0 && len(s) > p.MaxColWidth {
			return s[:p.MaxColWidth-3] + "..."
		}
		return s
	}
	widths := make([]int, len(all[0]))
	for _, row := range all {
		if len(row) != len(widths) {
			return errors.Reason("row size [%d] != expected size [%d]",
				len(row), len(widths))
		}
		for i, cell := range row {
			if l := len(clip(cell)); l > widths[i] {
				widths[i] = l
			}
		}
	}
	for _, row := range all {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = fmt.Sprintf("%-*s", widths[i], clip(cell))
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " ")); err != nil {
			return errors.Annotate(err, "failed to write row")
		}
	}
	return nil
}

// AllMissing reports whether every cell of the result is the missing value.
// A request whose whole universe failed server side yields a correctly
// shaped, all-missing result rather than an error, and callers may want to
// detect that.
func AllMissing(r Result) bool {
	switch v := r.(type) {
	case *Scalar:
		return v.Value.IsMissing()
	case *Series:
		for _, val := range v.Values {
			if !val.IsMissing() {
				return false
			}
		}
		return true
	case *Table:
		for _, row := range v.Cells {
			for _, val := range row {
				if !val.IsMissing() {
					return false
				}
			}
		}
		return true
	case *Cube:
		for _, val := range v.cells {
			if !val.IsMissing() {
				return false
			}
		}
		return true
	}
	return true
}
