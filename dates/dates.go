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

// Package dates implements the calendar Date value type used throughout the
// retrieval client. The remote service encodes dates on the wire as 8-digit
// yyyymmdd tokens; request payloads use dashed yyyy-mm-dd strings.
package dates

import (
	"time"

	"github.com/stockparfait/errors"
)

// Date records a calendar date as year, month and day. The struct is designed
// to fit into 4 bytes. The zero value is "no date".
type Date struct {
	YearVal  uint16
	MonthVal uint8
	DayVal   uint8
}

// New is the constructor for Date.
func New(year uint16, month, day uint8) Date {
	return Date{year, month, day}
}

// FromTime creates a Date from a time.Time value in its own location.
func FromTime(t time.Time) Date {
	return Date{
		YearVal:  uint16(t.Year()),
		MonthVal: uint8(t.Month()),
		DayVal:   uint8(t.Day()),
	}
}

// FromCompact parses an 8-digit yyyymmdd token as emitted by the wire format.
func FromCompact(s string) (Date, error) {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return Date{}, errors.Annotate(err, "not a yyyymmdd date: '%s'", s)
	}
	return FromTime(t), nil
}

// FromString parses a dashed yyyy-mm-dd string.
func FromString(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, errors.Annotate(err, "not a yyyy-mm-dd date: '%s'", s)
	}
	return FromTime(t), nil
}

func (d Date) Year() uint16 { return d.YearVal }
func (d Date) Month() uint8 { return d.MonthVal }
func (d Date) Day() uint8   { return d.DayVal }

// ToTime converts Date to time.Time at midnight UTC.
func (d Date) ToTime() time.Time {
	return time.Date(int(d.Year()), time.Month(d.Month()), int(d.Day()),
		0, 0, 0, 0, time.UTC)
}

// String formats the date as yyyy-mm-dd, the form used in request payloads.
func (d Date) String() string {
	return d.ToTime().Format("2006-01-02")
}

// Compact formats the date as the 8-digit wire token.
func (d Date) Compact() string {
	return d.ToTime().Format("20060102")
}

// IsZero checks whether the date has a zero value.
func (d Date) IsZero() bool {
	return d.Year() == 0 && d.Month() == 0 && d.Day() == 0
}

// Before compares two dates for strict inequality, self < d2.
func (d Date) Before(d2 Date) bool {
	if d.Year() != d2.Year() {
		return d.Year() < d2.Year()
	}
	if d.Month() != d2.Month() {
		return d.Month() < d2.Month()
	}
	return d.Day() < d2.Day()
}

// After compares two dates for strict inequality, self > d2.
func (d Date) After(d2 Date) bool {
	return d2.Before(d)
}
