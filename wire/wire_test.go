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
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/quarkfin/qf-lib-sub003/dates"
)

var testTypes = FieldTypeMap{
	"PX_LAST":  TypeNumber,
	"PX_OPEN":  TypeNumber,
	"MATURITY": TypeDate,
	"NAME":     TypeText,
	"CHAIN":    TypeBulk,
}

func payload(fields []string, rows []string) string {
	var sb strings.Builder
	sb.WriteString("START-OF-FIELDS\n")
	for _, f := range fields {
		sb.WriteString(f + "\n")
	}
	sb.WriteString("END-OF-FIELDS\n\nTIMESTARTED=2021-07-07\nSTART-OF-DATA\n")
	for _, r := range rows {
		sb.WriteString(r + "\n")
	}
	sb.WriteString("END-OF-DATA\nTIMEFINISHED=2021-07-07\n")
	return sb.String()
}

func TestWire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	Convey("Coerce handles all declared types", t, func() {
		So(Coerce("20210707", TypeDate), ShouldResemble, Day(dates.New(2021, 7, 7)))
		So(Coerce("N.A.", TypeDate), ShouldResemble, Missing())
		So(Coerce("N.S.", TypeNumber), ShouldResemble, Missing())
		So(Coerce("N.A.", TypeNumber), ShouldResemble, Missing())
		So(Coerce("142.5", TypeNumber), ShouldResemble, Number(142.5))
		So(Coerce("not-a-number", TypeNumber), ShouldResemble, Missing())
		So(Coerce("  Crude Oil  ", TypeText), ShouldResemble, Text("Crude Oil"))
		So(Coerce("", TypeText), ShouldResemble, Missing())
		So(Coerce("   ", TypeNumber), ShouldResemble, Missing())
		So(Coerce("2;CLZ21 Comdty;CLF22 Comdty", TypeBulk), ShouldResemble,
			List([]string{"CLZ21 Comdty", "CLF22 Comdty"}))
	})

	Convey("ParseFieldType maps declared types", t, func() {
		So(ParseFieldType("Date"), ShouldEqual, TypeDate)
		So(ParseFieldType("Price"), ShouldEqual, TypeNumber)
		So(ParseFieldType("Real"), ShouldEqual, TypeNumber)
		So(ParseFieldType("Integer"), ShouldEqual, TypeNumber)
		So(ParseFieldType("Bulk Format"), ShouldEqual, TypeBulk)
		So(ParseFieldType("String"), ShouldEqual, TypeText)
		So(ParseFieldType("whatever else"), ShouldEqual, TypeText)
	})

	Convey("parseBulkToken", t, func() {
		items, err := parseBulkToken(";3;A;B;C;")
		So(err, ShouldBeNil)
		So(items, ShouldResemble, []string{"A", "B", "C"})

		_, err = parseBulkToken("5;A;B")
		So(err, ShouldNotBeNil)

		_, err = parseBulkToken("A;B")
		So(err, ShouldNotBeNil)
	})

	Convey("DecodeCurrent", t, func() {
		Convey("decodes well-formed rows", func() {
			blob := payload([]string{"PX_LAST", "NAME"}, []string{
				"CL1 Comdty|0|2|71.5|WTI CRUDE FUTURE|",
				"IBM US Equity|0|2|141.25| INTL BUS MACHINES |",
			})
			set, err := DecodeCurrent(ctx, strings.NewReader(blob), testTypes)
			So(err, ShouldBeNil)
			So(set.Fields, ShouldResemble, []string{"PX_LAST", "NAME"})
			So(len(set.Rows), ShouldEqual, 2)
			So(set.Rows["CL1 Comdty"], ShouldResemble, Row{
				Instrument: "CL1 Comdty",
				FieldCount: 2,
				Values:     []Value{Number(71.5), Text("WTI CRUDE FUTURE")},
			})
			So(set.Rows["IBM US Equity"].Values[1], ShouldResemble,
				Text("INTL BUS MACHINES"))
		})

		Convey("drops truncated rows and keeps the rest", func() {
			blob := payload([]string{"PX_LAST", "NAME"}, []string{
				"CL1 Comdty|0|2|71.5|WTI CRUDE FUTURE|",
				"CL1 Comdty|0|",
			})
			set, err := DecodeCurrent(ctx, strings.NewReader(blob), testTypes)
			So(err, ShouldBeNil)
			So(len(set.Rows), ShouldEqual, 1)
			So(set.Rows["CL1 Comdty"].Values[0], ShouldResemble, Number(71.5))
		})

		Convey("isolates per-instrument error codes", func() {
			blob := payload([]string{"PX_LAST", "NAME"}, []string{
				"BAD Equity|10|2|||",
				"IBM US Equity|0|2|141.25|INTL BUS MACHINES|",
			})
			set, err := DecodeCurrent(ctx, strings.NewReader(blob), testTypes)
			So(err, ShouldBeNil)
			So(len(set.Rows), ShouldEqual, 2)
			So(set.Rows["BAD Equity"].ErrorCode, ShouldEqual, 10)
			So(set.Rows["BAD Equity"].Values, ShouldResemble,
				[]Value{Missing(), Missing()})
			So(set.Rows["IBM US Equity"].Values[0], ShouldResemble, Number(141.25))
		})

		Convey("blank cells become missing", func() {
			blob := payload([]string{"PX_LAST", "MATURITY"}, []string{
				"CL1 Comdty|0|2||20211122|",
			})
			set, err := DecodeCurrent(ctx, strings.NewReader(blob), testTypes)
			So(err, ShouldBeNil)
			So(set.Rows["CL1 Comdty"].Values, ShouldResemble,
				[]Value{Missing(), Day(dates.New(2021, 11, 22))})
		})

		Convey("missing markers are fatal", func() {
			blob := "PX_LAST\nSTART-OF-DATA\nrow|0|1|1.0|\nEND-OF-DATA\n"
			_, err := DecodeCurrent(ctx, strings.NewReader(blob), testTypes)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "START-OF-FIELDS")
		})
	})

	Convey("DecodeHistory", t, func() {
		blob := payload([]string{"PX_LAST", "PX_OPEN"}, []string{
			"CL1 Comdty|0|2|BGN|20210705|70.5|70.1|",
			"CL1 Comdty|0|2|BGN|20210706|71.0|70.6|",
			"CL1 Comdty|0|2|BGN|N.A.|1.0|2.0|",
			"IBM US Equity|0|2|BGN|20210705|140.0|139.5|",
		})
		set, err := DecodeHistory(ctx, strings.NewReader(blob), testTypes)
		So(err, ShouldBeNil)
		So(len(set.Rows), ShouldEqual, 2)
		So(len(set.Rows["CL1 Comdty"]), ShouldEqual, 2) // the undated row is dropped
		So(set.Rows["CL1 Comdty"][dates.New(2021, 7, 6)], ShouldResemble,
			[]Value{Number(71.0), Number(70.6)})
		So(set.Rows["IBM US Equity"][dates.New(2021, 7, 5)], ShouldResemble,
			[]Value{Number(140.0), Number(139.5)})
	})

	Convey("DecodeChain", t, func() {
		blob := payload([]string{"CHAIN"}, []string{
			"CL1 Comdty|0|1|2;CLZ21 Comdty;CLF22 Comdty|",
			"BAD Comdty|10|1||",
		})
		chains, err := DecodeChain(ctx, strings.NewReader(blob))
		So(err, ShouldBeNil)
		So(chains["CL1 Comdty"], ShouldResemble,
			[]string{"CLZ21 Comdty", "CLF22 Comdty"})
		items, ok := chains["BAD Comdty"]
		So(ok, ShouldBeTrue)
		So(items, ShouldBeNil)
	})

	Convey("Open reads a gzip payload off disk", t, func() {
		tmpdir, err := os.MkdirTemp("", "wire_test")
		So(err, ShouldBeNil)
		defer os.RemoveAll(tmpdir)

		blob := payload([]string{"PX_LAST"}, []string{"CL1 Comdty|0|1|71.5|"})
		path := filepath.Join(tmpdir, "r123.bbg.gz")
		f, err := os.Create(path)
		So(err, ShouldBeNil)
		gz := gzip.NewWriter(f)
		_, err = gz.Write([]byte(blob))
		So(err, ShouldBeNil)
		So(gz.Close(), ShouldBeNil)
		So(f.Close(), ShouldBeNil)

		r, err := Open(path)
		So(err, ShouldBeNil)
		text, err := io.ReadAll(r)
		So(err, ShouldBeNil)
		So(r.Close(), ShouldBeNil)
		So(string(text), ShouldEqual, blob)

		Convey("and rejects a plain text file", func() {
			plain := filepath.Join(tmpdir, "plain.gz")
			So(os.WriteFile(plain, []byte(blob), 0644), ShouldBeNil)
			_, err := Open(plain)
			So(err, ShouldNotBeNil)
		})
	})
}
