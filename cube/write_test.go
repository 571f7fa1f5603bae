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
	"bytes"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/quarkfin/qf-lib-sub003/wire"
)

func TestWrite(t *testing.T) {
	t.Parallel()

	series := &Series{
		Name:   "CL1 Comdty",
		Axis:   AxisField,
		Labels: []string{"PX_LAST", "NAME"},
		Values: []wire.Value{wire.Number(71.5), wire.Missing()},
	}

	Convey("WriteCSV", t, func() {
		var buf bytes.Buffer
		So(WriteCSV(&buf, series, WriteParams{}), ShouldBeNil)
		So(buf.String(), ShouldEqual,
			"field,CL1 Comdty\nPX_LAST,71.5\nNAME,\n")

		Convey("without header", func() {
			buf.Reset()
			So(WriteCSV(&buf, series, WriteParams{NoHeader: true}), ShouldBeNil)
			So(buf.String(), ShouldEqual, "PX_LAST,71.5\nNAME,\n")
		})
	})

	Convey("WriteCSV of a scalar", t, func() {
		var buf bytes.Buffer
		s := &Scalar{Value: wire.Text("hello")}
		So(WriteCSV(&buf, s, WriteParams{}), ShouldBeNil)
		So(buf.String(), ShouldEqual, "value\nhello\n")
	})

	Convey("WriteText", t, func() {
		var buf bytes.Buffer
		So(WriteText(&buf, series, WriteParams{}), ShouldBeNil)
		So(buf.String(), ShouldEqual, `field    CL1 Comdty
PX_LAST  71.5
NAME
`)

		Convey("rejects a too small MaxColWidth", func() {
			So(WriteText(&buf, series, WriteParams{MaxColWidth: 3}), ShouldNotBeNil)
		})

		Convey("clips wide columns", func() {
			buf.Reset()
			So(WriteText(&buf, series, WriteParams{MaxColWidth: 5, NoHeader: true}),
				ShouldBeNil)
			So(buf.String(), ShouldEqual, "PX...  71.5\nNAME\n")
		})
	})
}
