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
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unit is one UTF-16 code unit of a simulated document body. Structural
// units carry a label; the unit labelled end(r,c) closes cell (r,c).
type unit struct {
	label string
	char  uint16
	bold  bool
}

func endLabel(r, c int) string { return fmt.Sprintf("end(%d,%d)", r, c) }

// emptyTable lays out a body holding an empty rows-by-columns table
// inserted at offset 1.
func emptyTable(rows, columns int) []unit {
	last := CellOffset(rows-1, columns-1, columns)
	body := make([]unit, last+2)
	for i := range body {
		body[i] = unit{label: "struct"}
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < columns; c++ {
			body[CellOffset(r, c, columns)] = unit{label: endLabel(r, c)}
		}
	}
	return body
}

// replay applies offset edits the way an offset-addressed document API does.
func replay(t *testing.T, plan *Plan) []unit {
	t.Helper()
	body := emptyTable(plan.Rows, plan.Columns)
	for _, e := range plan.Edits {
		require.LessOrEqual(t, e.Index, len(body))
		chars := utf16.Encode([]rune(e.Text))
		ins := make([]unit, len(chars))
		for i, ch := range chars {
			ins[i] = unit{char: ch}
		}
		body = append(body[:e.Index], append(ins, body[e.Index:]...)...)
		if e.Bold {
			for i := e.Index; i < e.End(); i++ {
				require.Empty(t, body[i].label, "bold range must cover only inserted text")
				body[i].bold = true
			}
		}
	}
	return body
}

type cellResult struct {
	text string
	bold bool
}

// cells reads back each cell's text and boldness from a replayed body.
func cells(body []unit) (map[string]cellResult, map[string]int) {
	out := make(map[string]cellResult)
	pos := make(map[string]int)
	var text []uint16
	bold := true
	for i, u := range body {
		if u.label == "" {
			text = append(text, u.char)
			bold = bold && u.bold
			continue
		}
		if u.label != "struct" {
			out[u.label] = cellResult{text: string(utf16.Decode(text)), bold: bold && len(text) > 0}
			pos[u.label] = i
		}
		text = nil
		bold = true
	}
	return out, pos
}

func TestBuildPlan_OffsetReplay(t *testing.T) {
	rows := [][]string{
		{"name", "city", "note"},
		{"Ada", "Zürich", ""},
		{"Grace", "😀 NYC"},
		{"Linus", "Helsinki", "x", "extra"},
	}

	plan, err := BuildPlan(rows, OffsetAddressing)
	require.NoError(t, err)
	assert.Equal(t, 4, plan.Rows)
	assert.Equal(t, 4, plan.Columns)
	assert.Equal(t, 3, plan.HeaderColumns)
	assert.Len(t, plan.Edits, 16)

	body := replay(t, plan)
	got, pos := cells(body)

	for r := 0; r < plan.Rows; r++ {
		for c := 0; c < plan.Columns; c++ {
			want := Placeholder
			if c < len(rows[r]) && rows[r][c] != "" {
				want = rows[r][c]
			}
			cell := got[endLabel(r, c)]
			assert.Equal(t, want, cell.text, "cell (%d,%d)", r, c)
			assert.Equal(t, r == 0, cell.bold, "bold of cell (%d,%d)", r, c)
		}
	}

	assert.Equal(t, pos[endLabel(0, plan.Columns-1)], plan.HeaderEnd)
	assert.Equal(t, pos[endLabel(plan.Rows-1, plan.Columns-1)], plan.TextEnd)
}

func TestBuildPlan_OffsetOrder(t *testing.T) {
	plan, err := BuildPlan([][]string{{"a", "b"}, {"c", "d"}}, OffsetAddressing)
	require.NoError(t, err)

	// 5 + 1*(2*2+1) + 2*1 = 12 for the last cell, then -2 per column and -1 per row.
	var indexes []int
	for _, e := range plan.Edits {
		indexes = append(indexes, e.Index)
	}
	assert.Equal(t, []int{12, 10, 7, 5}, indexes)

	for i := 1; i < len(plan.Edits); i++ {
		assert.Less(t, plan.Edits[i].Index, plan.Edits[i-1].Index, "offsets must strictly decrease")
	}
}

func TestBuildPlan_Absolute(t *testing.T) {
	plan, err := BuildPlan([][]string{{"h1", "h2"}, {"v1"}}, AbsoluteAddressing)
	require.NoError(t, err)

	want := []CellEdit{
		{Row: 0, Column: 0, Text: "h1", Bold: true},
		{Row: 0, Column: 1, Text: "h2", Bold: true},
		{Row: 1, Column: 0, Text: "v1"},
		{Row: 1, Column: 1, Text: Placeholder},
	}
	assert.Equal(t, want, plan.Edits)
	assert.Zero(t, plan.HeaderEnd)
}

func TestBuildPlan_NoData(t *testing.T) {
	_, err := BuildPlan(nil, OffsetAddressing)
	assert.ErrorIs(t, err, ErrNoData)

	_, err = BuildPlan([][]string{{}}, OffsetAddressing)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestTextLen(t *testing.T) {
	assert.Equal(t, 0, TextLen(""))
	assert.Equal(t, 6, TextLen("Zürich"))
	assert.Equal(t, 2, TextLen("😀"))
}

func TestPartition(t *testing.T) {
	plan, err := BuildPlan([][]string{
		{"a", "b", "c"},
		{"1", "2", "3"},
		{"4", "5", "6"},
	}, OffsetAddressing)
	require.NoError(t, err)

	for _, maxOps := range []int{2, 3, 4, 5, 7, 100} {
		t.Run(fmt.Sprintf("max=%d", maxOps), func(t *testing.T) {
			batches := Partition(plan.Edits, maxOps)

			var joined []CellEdit
			for _, b := range batches {
				require.NotEmpty(t, b)
				assert.LessOrEqual(t, BatchOps(b), maxOps)
				joined = append(joined, b...)
			}
			assert.Equal(t, plan.Edits, joined, "batches must concatenate to the original sequence")
		})
	}
}

func TestPartition_Maximal(t *testing.T) {
	edits := []CellEdit{{Text: "a"}, {Text: "b"}, {Text: "c"}, {Text: "h", Bold: true}, {Text: "i", Bold: true}}

	batches := Partition(edits, 3)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 3)
	assert.Equal(t, []CellEdit{{Text: "h", Bold: true}}, batches[1])
	assert.Equal(t, []CellEdit{{Text: "i", Bold: true}}, batches[2])
}

func TestPartition_FloorOfTwo(t *testing.T) {
	edits := []CellEdit{{Text: "h", Bold: true}, {Text: "x"}}
	batches := Partition(edits, 1)
	require.Len(t, batches, 2)
	assert.Equal(t, 2, BatchOps(batches[0]))
}

func TestPartition_Empty(t *testing.T) {
	assert.Empty(t, Partition(nil, 10))
}

func TestResolveContainer(t *testing.T) {
	tests := []struct {
		name      string
		folderURL string
		folder    string
		want      string
	}{
		{name: "my drive url", folderURL: "https://drive.google.com/drive/my-drive", want: RootContainer},
		{name: "folder url", folderURL: "https://drive.google.com/corp/drive/folders/1AbC_d-9?usp=sharing", want: "1AbC_d-9"},
		{name: "unrecognised url", folderURL: "https://example.com/elsewhere", folder: "ignored", want: RootContainer},
		{name: "folder field fallback", folder: "fld-123", want: "fld-123"},
		{name: "nothing", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveContainer(tt.folderURL, tt.folder))
		})
	}
}
