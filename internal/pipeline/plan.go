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

package pipeline

import (
	"fmt"
	"unicode/utf16"
)

// Addressing describes how a destination locates table cells.
type Addressing int

const (
	// OffsetAddressing locates cells by character offset in a flat
	// document body. Edits are emitted in reverse so that inserting text
	// never shifts an offset that a later edit depends on.
	OffsetAddressing Addressing = iota

	// AbsoluteAddressing locates cells by row and column. Edits are
	// emitted in reading order.
	AbsoluteAddressing
)

func (a Addressing) String() string {
	switch a {
	case OffsetAddressing:
		return "offset"
	case AbsoluteAddressing:
		return "absolute"
	default:
		return fmt.Sprintf("addressing(%d)", int(a))
	}
}

// Placeholder is written for missing or blank cells. Zero-length inserts
// are rejected by offset-addressed document APIs.
const Placeholder = " "

// firstCellOffset is the offset of cell (0,0) in an empty table inserted at
// offset 1: the table start, its first row and cell, and the cell's
// paragraph each take one position.
const firstCellOffset = 5

// CellEdit inserts one cell's text. Header edits also make their own text
// bold, which a destination applies as a second operation.
type CellEdit struct {
	Row    int
	Column int

	// Index is the insertion offset under OffsetAddressing; zero otherwise.
	Index int

	Text string
	Bold bool
}

// Ops returns how many remote operations the edit costs.
func (e CellEdit) Ops() int {
	if e.Bold {
		return 2
	}
	return 1
}

// Len returns the text length in UTF-16 code units, the unit document
// offsets are counted in.
func (e CellEdit) Len() int {
	return TextLen(e.Text)
}

// End returns the offset just past the inserted text.
func (e CellEdit) End() int {
	return e.Index + e.Len()
}

// TextLen returns the length of s in UTF-16 code units.
func TextLen(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// Plan is the full edit sequence for one table.
type Plan struct {
	Addressing Addressing

	// Rows and Columns are the table's dimensions. Columns is the widest row.
	Rows    int
	Columns int

	// HeaderColumns is the header row's own width. Column width
	// distribution is based on it.
	HeaderColumns int

	Edits []CellEdit

	// HeaderEnd is the offset just past the header row's text once every
	// edit has been applied (offset addressing only).
	HeaderEnd int

	// TextEnd is the offset just past the last cell's text once every
	// edit has been applied (offset addressing only).
	TextEnd int
}

// Cells returns the number of cells in the table.
func (p *Plan) Cells() int {
	return p.Rows * p.Columns
}

// CellOffset returns the insertion offset of cell (row, col) in an empty
// table with the given column count.
func CellOffset(row, col, columns int) int {
	return firstCellOffset + row*(2*columns+1) + 2*col
}

// BuildPlan converts rows into cell edits. Row 0 is the header. Every cell
// of the rows-by-widest-row grid gets exactly one edit; cells that are
// missing or blank get Placeholder.
func BuildPlan(rows [][]string, addressing Addressing) (*Plan, error) {
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	columns := 0
	for _, row := range rows {
		columns = max(columns, len(row))
	}
	if columns == 0 {
		return nil, ErrNoData
	}

	plan := &Plan{
		Addressing:    addressing,
		Rows:          len(rows),
		Columns:       columns,
		HeaderColumns: len(rows[0]),
		Edits:         make([]CellEdit, 0, len(rows)*columns),
	}

	switch addressing {
	case OffsetAddressing:
		plan.buildReverse(rows)
	case AbsoluteAddressing:
		plan.buildForward(rows)
	default:
		return nil, fmt.Errorf("unsupported addressing %v", addressing)
	}
	return plan, nil
}

func cellText(rows [][]string, r, c int) string {
	if c < len(rows[r]) && rows[r][c] != "" {
		return rows[r][c]
	}
	return Placeholder
}

func (p *Plan) buildReverse(rows [][]string) {
	total := 0
	headerLen := 0

	for r := p.Rows - 1; r >= 0; r-- {
		for c := p.Columns - 1; c >= 0; c-- {
			edit := CellEdit{
				Row:    r,
				Column: c,
				Index:  CellOffset(r, c, p.Columns),
				Text:   cellText(rows, r, c),
				Bold:   r == 0,
			}
			total += edit.Len()
			if r == 0 {
				headerLen += edit.Len()
			}
			p.Edits = append(p.Edits, edit)
		}
	}

	p.HeaderEnd = CellOffset(0, p.Columns-1, p.Columns) + headerLen
	p.TextEnd = CellOffset(p.Rows-1, p.Columns-1, p.Columns) + total
}

func (p *Plan) buildForward(rows [][]string) {
	for r := 0; r < p.Rows; r++ {
		for c := 0; c < p.Columns; c++ {
			p.Edits = append(p.Edits, CellEdit{
				Row:    r,
				Column: c,
				Text:   cellText(rows, r, c),
				Bold:   r == 0,
			})
		}
	}
}

// Partition splits edits into order-preserving batches of at most maxOps
// operations. An edit and its bold directive always share a batch, so
// maxOps below 2 is raised to 2.
func Partition(edits []CellEdit, maxOps int) [][]CellEdit {
	if maxOps < 2 {
		maxOps = 2
	}

	var batches [][]CellEdit
	var current []CellEdit
	ops := 0
	for _, e := range edits {
		if ops+e.Ops() > maxOps {
			batches = append(batches, current)
			current = nil
			ops = 0
		}
		current = append(current, e)
		ops += e.Ops()
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// BatchOps returns the operation count of a batch.
func BatchOps(edits []CellEdit) int {
	n := 0
	for _, e := range edits {
		n += e.Ops()
	}
	return n
}
