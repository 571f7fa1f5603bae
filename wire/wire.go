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

// Package wire decodes the sectioned text format delivered by the remote
// market-data service:
//
//	START-OF-FIELDS
//	<field mnemonic>
//	...
//	END-OF-FIELDS
//	...
//	START-OF-DATA
//	<pipe-delimited row>
//	...
//	END-OF-DATA
//
// Payloads arrive gzip-compressed; Open reads the compressed file directly.
// Missing section markers are fatal, individual malformed rows are dropped
// with a logged warning. A non-zero per-row error code yields an all-missing
// record for that instrument and never suppresses the other rows.
package wire

import (
	"bufio"
	"compress/gzip"
	"context"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/iterator"
	"github.com/stockparfait/logging"

	"github.com/quarkfin/qf-lib-sub003/dates"
)

// Section markers of the wire format.
const (
	fieldsStart = "START-OF-FIELDS"
	fieldsEnd   = "END-OF-FIELDS"
	dataStart   = "START-OF-DATA"
	dataEnd     = "END-OF-DATA"
)

const delimiter = "|"

// Row is one instrument's decoded record. Values are aligned with the Fields
// slice of the enclosing set; a non-zero ErrorCode leaves them all missing.
type Row struct {
	Instrument string
	ErrorCode  int
	FieldCount int // the field count the row itself declares
	Values     []Value
}

// CurrentSet is a decoded current-values payload.
type CurrentSet struct {
	Fields []string // mnemonics from the FIELDS block, in payload order
	Rows   map[string]Row
}

// HistorySet is a decoded history payload: per instrument, one table of
// values indexed by date.
type HistorySet struct {
	Fields []string
	Rows   map[string]map[dates.Date][]Value
}

// Open opens a downloaded payload file and returns a reader over the
// decompressed text. The caller must close it.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open payload '%s'", path)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Annotate(err, "payload '%s' is not gzip", path)
	}
	return &payloadReader{gz: gz, f: f}, nil
}

type payloadReader struct {
	gz *gzip.Reader
	f  *os.File
}

func (p *payloadReader) Read(b []byte) (int, error) { return p.gz.Read(b) }

func (p *payloadReader) Close() error {
	// Close in reverse order of opening. The file error wins over the
	// decompressor error, since it indicates a real I/O problem.
	gzErr := p.gz.Close()
	if err := p.f.Close(); err != nil {
		return err
	}
	return gzErr
}

// splitSections extracts the ordered field mnemonics and the raw data lines.
// A payload without all four section markers is malformed.
func splitSections(r io.Reader) (fields []string, data []string, err error) {
	var section string
	seen := make(map[string]bool)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch strings.TrimSpace(line) {
		case fieldsStart, dataStart:
			section = strings.TrimSpace(line)
			seen[section] = true
			continue
		case fieldsEnd, dataEnd:
			seen[strings.TrimSpace(line)] = true
			section = ""
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		switch section {
		case fieldsStart:
			fields = append(fields, strings.TrimSpace(line))
		case dataStart:
			data = append(data, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, errors.Annotate(err, "failed to read payload")
	}
	for _, marker := range []string{fieldsStart, fieldsEnd, dataStart, dataEnd} {
		if !seen[marker] {
			return nil, nil, errors.Reason("malformed payload: no %s marker", marker)
		}
	}
	return fields, data, nil
}

// splitRow strips the trailing field delimiter and splits the line into
// columns, verifying the expected column count for the request shape.
func splitRow(line string, want int) ([]string, bool) {
	cols := strings.Split(strings.TrimSuffix(line, delimiter), delimiter)
	if len(cols) != want {
		return nil, false
	}
	return cols, true
}

// rowHead decodes the three columns common to every shape: instrument key,
// error code and declared field count.
func rowHead(cols []string) (instrument string, errorCode, fieldCount int, err error) {
	instrument = strings.TrimSpace(cols[0])
	if instrument == "" {
		return "", 0, 0, errors.Reason("row has no instrument key")
	}
	errorCode, err = strconv.Atoi(strings.TrimSpace(cols[1]))
	if err != nil {
		return "", 0, 0, errors.Annotate(err, "error code is not an integer: '%s'", cols[1])
	}
	fieldCount, err = strconv.Atoi(strings.TrimSpace(cols[2]))
	if err != nil {
		return "", 0, 0, errors.Annotate(err, "field count is not an integer: '%s'", cols[2])
	}
	return instrument, errorCode, fieldCount, nil
}

// coerceAll decodes one cell per field. A non-zero error code means the
// instrument failed server side, and every cell becomes missing.
func coerceAll(cells, fields []string, types FieldTypeMap, errorCode int) []Value {
	values := make([]Value, len(fields))
	if errorCode != 0 {
		return values
	}
	for i, f := range fields {
		values[i] = Coerce(cells[i], types.Of(f))
	}
	return values
}

func snippet(line string) string {
	if len(line) > 80 {
		return line[:80] + "..."
	}
	return line
}

// decodeRows runs the per-line parser over all data lines, dropping the lines
// for which it returns nil. Parsing a line is pure, so the lines are mapped
// in parallel; everything downstream is keyed by instrument and date, making
// the output order irrelevant. Reduce drains the iterator completely, which
// is all the cleanup ParallelMap needs.
func decodeRows[T any](ctx context.Context, data []string, parse func(string) *T) []*T {
	pm := iterator.ParallelMap(ctx, runtime.NumCPU(), iterator.FromSlice(data), parse)
	return iterator.Reduce[*T, []*T](pm, []*T{}, func(r *T, acc []*T) []*T {
		if r != nil {
			acc = append(acc, r)
		}
		return acc
	})
}

// DecodeCurrent decodes a current-values payload. Row shape:
// [instrument, errorCode, fieldCount, <value>*F].
func DecodeCurrent(ctx context.Context, r io.Reader, types FieldTypeMap) (*CurrentSet, error) {
	fields, data, err := splitSections(r)
	if err != nil {
		return nil, errors.Annotate(err, "failed to decode current-values payload")
	}
	want := len(fields) + 3
	parse := func(line string) *Row {
		cols, ok := splitRow(line, want)
		if !ok {
			logging.Warningf(ctx, "dropping row with unexpected column count: '%s'",
				snippet(line))
			return nil
		}
		instrument, errorCode, fieldCount, err := rowHead(cols)
		if err != nil {
			logging.Warningf(ctx, "dropping malformed row: %s", err.Error())
			return nil
		}
		return &Row{
			Instrument: instrument,
			ErrorCode:  errorCode,
			FieldCount: fieldCount,
			Values:     coerceAll(cols[3:], fields, types, errorCode),
		}
	}
	set := &CurrentSet{Fields: fields, Rows: make(map[string]Row)}
	for _, row := range decodeRows(ctx, data, parse) {
		set.Rows[row.Instrument] = *row
	}
	return set, nil
}

// historyRow is a single dated observation of one instrument.
type historyRow struct {
	Row
	Date dates.Date
}

// DecodeHistory decodes a history payload. Row shape:
// [instrument, errorCode, fieldCount, pricingSource, date, <value>*F].
// Rows whose date column does not parse to a date are dropped.
func DecodeHistory(ctx context.Context, r io.Reader, types FieldTypeMap) (*HistorySet, error) {
	fields, data, err := splitSections(r)
	if err != nil {
		return nil, errors.Annotate(err, "failed to decode history payload")
	}
	want := len(fields) + 5
	parse := func(line string) *historyRow {
		cols, ok := splitRow(line, want)
		if !ok {
			logging.Warningf(ctx, "dropping row with unexpected column count: '%s'",
				snippet(line))
			return nil
		}
		instrument, errorCode, fieldCount, err := rowHead(cols)
		if err != nil {
			logging.Warningf(ctx, "dropping malformed row: %s", err.Error())
			return nil
		}
		date := Coerce(cols[4], TypeDate)
		if date.IsMissing() {
			logging.Debugf(ctx, "dropping undated history row for %s", instrument)
			return nil
		}
		return &historyRow{
			Row: Row{
				Instrument: instrument,
				ErrorCode:  errorCode,
				FieldCount: fieldCount,
				Values:     coerceAll(cols[5:], fields, types, errorCode),
			},
			Date: date.Date,
		}
	}
	set := &HistorySet{
		Fields: fields,
		Rows:   make(map[string]map[dates.Date][]Value),
	}
	for _, row := range decodeRows(ctx, data, parse) {
		byDate := set.Rows[row.Instrument]
		if byDate == nil {
			byDate = make(map[dates.Date][]Value)
			set.Rows[row.Instrument] = byDate
		}
		byDate[row.Date] = row.Values
	}
	return set, nil
}

// DecodeChain decodes a bulk payload into instrument -> ordered
// sub-identifiers. Row shape: [instrument, errorCode, fieldCount,
// <bulkToken>]. A failed instrument maps to a nil list.
func DecodeChain(ctx context.Context, r io.Reader) (map[string][]string, error) {
	_, data, err := splitSections(r)
	if err != nil {
		return nil, errors.Annotate(err, "failed to decode bulk payload")
	}
	type chainRow struct {
		instrument string
		items      []string
	}
	parse := func(line string) *chainRow {
		cols, ok := splitRow(line, 4)
		if !ok {
			logging.Warningf(ctx, "dropping row with unexpected column count: '%s'",
				snippet(line))
			return nil
		}
		instrument, errorCode, _, err := rowHead(cols)
		if err != nil {
			logging.Warningf(ctx, "dropping malformed row: %s", err.Error())
			return nil
		}
		if errorCode != 0 {
			return &chainRow{instrument: instrument}
		}
		items, err := parseBulkToken(cols[3])
		if err != nil {
			logging.Warningf(ctx, "dropping row of %s: %s", instrument, err.Error())
			return nil
		}
		return &chainRow{instrument: instrument, items: items}
	}
	chains := make(map[string][]string)
	for _, row := range decodeRows(ctx, data, parse) {
		chains[row.instrument] = row.items
	}
	return chains, nil
}
