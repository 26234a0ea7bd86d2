// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package table reads delimited tabular text into rows of trimmed cells.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrNoData is returned when the input holds no rows at all.
var ErrNoData = errors.New("no data to insert")

// ParseError reports malformed delimited input.
type ParseError struct {
	Line  int
	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parsing CSV at line %d: %v", e.Line, e.Cause)
	}
	return fmt.Sprintf("parsing CSV: %v", e.Cause)
}

// Unwrap returns the underlying csv error.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Options tunes parsing.
type Options struct {
	// Comma is the field delimiter (default ',').
	Comma rune
}

// Read parses all rows from r. Row 0 is the header. Cells are trimmed of
// surrounding whitespace and rows may have differing widths. Input is UTF-8
// unless a UTF-16 byte order mark says otherwise; a leading UTF-8 byte order
// mark is dropped.
func Read(r io.Reader, opts Options) ([][]string, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = false
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, &ParseError{Line: pe.Line, Cause: pe.Err}
			}
			return nil, &ParseError{Cause: err}
		}
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		rows = append(rows, record)
	}

	if len(rows) == 0 {
		return nil, ErrNoData
	}
	return rows, nil
}

// Width returns the widest row's cell count.
func Width(rows [][]string) int {
	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	return width
}
