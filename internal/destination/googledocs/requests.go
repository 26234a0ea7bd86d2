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

package googledocs

import (
	"github.com/tombee/docrelay/internal/pipeline"
)

// Page layout in points. The page is flipped to landscape after the
// table is styled.
const (
	pt               = 72.0
	pageWidth        = pt * 8.5
	pageHeight       = pt * 11
	pageMargin       = pt * 0.5
	firstColumnWidth = pt * 0.5
	portrait         = false

	lineSpacing  = 50
	dataFontSize = 8
	headerShade  = 0.95

	// tableStart is the offset of the table inserted at offset 1.
	tableStart = 2
)

// Dimension is a magnitude with a unit.
type Dimension struct {
	Magnitude float64 `json:"magnitude"`
	Unit      string  `json:"unit"`
}

func points(v float64) *Dimension {
	return &Dimension{Magnitude: v, Unit: "PT"}
}

// Location is a document offset.
type Location struct {
	Index int `json:"index"`
}

// Range is a half-open span of document offsets.
type Range struct {
	StartIndex int `json:"startIndex"`
	EndIndex   int `json:"endIndex"`
}

// Size is a page size.
type Size struct {
	Height *Dimension `json:"height"`
	Width  *Dimension `json:"width"`
}

// DocumentStyle is the subset of document style that is set.
type DocumentStyle struct {
	PageSize     *Size      `json:"pageSize,omitempty"`
	MarginLeft   *Dimension `json:"marginLeft,omitempty"`
	MarginRight  *Dimension `json:"marginRight,omitempty"`
	MarginTop    *Dimension `json:"marginTop,omitempty"`
	MarginBottom *Dimension `json:"marginBottom,omitempty"`
}

// UpdateDocumentStyle sets page size and margins.
type UpdateDocumentStyle struct {
	DocumentStyle DocumentStyle `json:"documentStyle"`
	Fields        string        `json:"fields"`
}

// InsertTable inserts an empty table.
type InsertTable struct {
	Rows     int      `json:"rows"`
	Columns  int      `json:"columns"`
	Location Location `json:"location"`
}

// InsertText inserts text at an offset.
type InsertText struct {
	Text     string   `json:"text"`
	Location Location `json:"location"`
}

// TextStyle is the subset of text style that is set.
type TextStyle struct {
	Bold     bool       `json:"bold,omitempty"`
	FontSize *Dimension `json:"fontSize,omitempty"`
}

// UpdateTextStyle styles a range of text.
type UpdateTextStyle struct {
	TextStyle TextStyle `json:"textStyle"`
	Range     Range     `json:"range"`
	Fields    string    `json:"fields"`
}

// PinTableHeaderRows repeats header rows on every page.
type PinTableHeaderRows struct {
	TableStartLocation    Location `json:"tableStartLocation"`
	PinnedHeaderRowsCount int      `json:"pinnedHeaderRowsCount"`
}

// RGBColor is a color with components in [0,1].
type RGBColor struct {
	Red   float64 `json:"red"`
	Green float64 `json:"green"`
	Blue  float64 `json:"blue"`
}

// Color wraps an RGB color.
type Color struct {
	RGBColor RGBColor `json:"rgbColor"`
}

// OptionalColor wraps a Color.
type OptionalColor struct {
	Color Color `json:"color"`
}

// TableCellStyle is the subset of cell style that is set.
type TableCellStyle struct {
	BackgroundColor OptionalColor `json:"backgroundColor"`
}

// TableCellLocation addresses a cell by row and column.
type TableCellLocation struct {
	RowIndex           int      `json:"rowIndex"`
	ColumnIndex        int      `json:"columnIndex"`
	TableStartLocation Location `json:"tableStartLocation"`
}

// TableRange is a rectangular block of cells.
type TableRange struct {
	RowSpan           int               `json:"rowSpan"`
	ColumnSpan        int               `json:"columnSpan"`
	TableCellLocation TableCellLocation `json:"tableCellLocation"`
}

// UpdateTableCellStyle styles a block of cells.
type UpdateTableCellStyle struct {
	TableCellStyle TableCellStyle `json:"tableCellStyle"`
	TableRange     TableRange     `json:"tableRange"`
	Fields         string         `json:"fields"`
}

// TableColumnProperties sets a column width.
type TableColumnProperties struct {
	WidthType string     `json:"widthType"`
	Width     *Dimension `json:"width"`
}

// UpdateTableColumnProperties sets column widths.
type UpdateTableColumnProperties struct {
	TableStartLocation    Location              `json:"tableStartLocation"`
	ColumnIndices         []int                 `json:"columnIndices"`
	TableColumnProperties TableColumnProperties `json:"tableColumnProperties"`
	Fields                string                `json:"fields"`
}

// ParagraphStyle is the subset of paragraph style that is set.
type ParagraphStyle struct {
	NamedStyleType string  `json:"namedStyleType"`
	LineSpacing    float64 `json:"lineSpacing"`
}

// UpdateParagraphStyle styles the paragraphs in a range.
type UpdateParagraphStyle struct {
	ParagraphStyle ParagraphStyle `json:"paragraphStyle"`
	Range          Range          `json:"range"`
	Fields         string         `json:"fields"`
}

// SectionStyle is the subset of section style that is set.
type SectionStyle struct {
	FlipPageOrientation bool `json:"flipPageOrientation"`
}

// UpdateSectionStyle styles the section covering a range.
type UpdateSectionStyle struct {
	SectionStyle SectionStyle `json:"sectionStyle"`
	Range        Range        `json:"range"`
	Fields       string       `json:"fields"`
}

// Request is one entry of a documents.batchUpdate call. Exactly one field
// is set.
type Request struct {
	UpdateDocumentStyle         *UpdateDocumentStyle         `json:"updateDocumentStyle,omitempty"`
	InsertTable                 *InsertTable                 `json:"insertTable,omitempty"`
	InsertText                  *InsertText                  `json:"insertText,omitempty"`
	UpdateTextStyle             *UpdateTextStyle             `json:"updateTextStyle,omitempty"`
	PinTableHeaderRows          *PinTableHeaderRows          `json:"pinTableHeaderRows,omitempty"`
	UpdateTableCellStyle        *UpdateTableCellStyle        `json:"updateTableCellStyle,omitempty"`
	UpdateTableColumnProperties *UpdateTableColumnProperties `json:"updateTableColumnProperties,omitempty"`
	UpdateParagraphStyle        *UpdateParagraphStyle        `json:"updateParagraphStyle,omitempty"`
	UpdateSectionStyle          *UpdateSectionStyle          `json:"updateSectionStyle,omitempty"`
}

// Requests renders a pipeline batch as batchUpdate requests.
func Requests(batch pipeline.Batch) []Request {
	switch batch.Kind {
	case pipeline.KindStructure:
		return structureRequests(batch.Plan)
	case pipeline.KindCells:
		return cellRequests(batch.Edits)
	case pipeline.KindPostProcess:
		return postProcessRequests(batch.Plan)
	default:
		return nil
	}
}

func structureRequests(plan *pipeline.Plan) []Request {
	return []Request{
		{UpdateDocumentStyle: &UpdateDocumentStyle{
			DocumentStyle: DocumentStyle{
				PageSize:     &Size{Height: points(pageHeight), Width: points(pageWidth)},
				MarginLeft:   points(pageMargin),
				MarginRight:  points(pageMargin),
				MarginTop:    points(pageMargin),
				MarginBottom: points(pageMargin),
			},
			Fields: "pageSize,marginLeft,marginRight,marginTop,marginBottom,flipPageOrientation",
		}},
		{InsertTable: &InsertTable{
			Rows:     plan.Rows,
			Columns:  plan.Columns,
			Location: Location{Index: 1},
		}},
	}
}

func cellRequests(edits []pipeline.CellEdit) []Request {
	reqs := make([]Request, 0, pipeline.BatchOps(edits))
	for _, e := range edits {
		reqs = append(reqs, Request{InsertText: &InsertText{
			Text:     e.Text,
			Location: Location{Index: e.Index},
		}})
		if e.Bold {
			reqs = append(reqs, Request{UpdateTextStyle: &UpdateTextStyle{
				TextStyle: TextStyle{Bold: true},
				Range:     Range{StartIndex: e.Index, EndIndex: e.End()},
				Fields:    "bold",
			}})
		}
	}
	return reqs
}

// availableWidth is the printable width of a landscape page.
func availableWidth() float64 {
	if portrait {
		return pageWidth - 2*pageMargin
	}
	return pageHeight - 2*pageMargin
}

func postProcessRequests(plan *pipeline.Plan) []Request {
	headers := plan.HeaderColumns
	if headers < 1 {
		headers = plan.Columns
	}
	start := Location{Index: tableStart}

	reqs := []Request{
		{PinTableHeaderRows: &PinTableHeaderRows{TableStartLocation: start, PinnedHeaderRowsCount: 1}},
		{UpdateTableCellStyle: &UpdateTableCellStyle{
			TableCellStyle: TableCellStyle{BackgroundColor: OptionalColor{Color: Color{
				RGBColor: RGBColor{Red: headerShade, Green: headerShade, Blue: headerShade},
			}}},
			TableRange: TableRange{
				RowSpan:           1,
				ColumnSpan:        headers,
				TableCellLocation: TableCellLocation{TableStartLocation: start},
			},
			Fields: "backgroundColor",
		}},
		{UpdateTableColumnProperties: &UpdateTableColumnProperties{
			TableStartLocation: start,
			ColumnIndices:      []int{0},
			TableColumnProperties: TableColumnProperties{
				WidthType: "FIXED_WIDTH",
				Width:     points(firstColumnWidth),
			},
			Fields: "widthType,width",
		}},
	}

	// The remaining header columns share what the first leaves over.
	if headers > 1 {
		others := make([]int, 0, headers-1)
		for i := 1; i < headers; i++ {
			others = append(others, i)
		}
		reqs = append(reqs, Request{UpdateTableColumnProperties: &UpdateTableColumnProperties{
			TableStartLocation: start,
			ColumnIndices:      others,
			TableColumnProperties: TableColumnProperties{
				WidthType: "FIXED_WIDTH",
				Width:     points((availableWidth() - firstColumnWidth) / float64(headers-1)),
			},
			Fields: "widthType,width",
		}})
	}

	reqs = append(reqs, Request{UpdateParagraphStyle: &UpdateParagraphStyle{
		ParagraphStyle: ParagraphStyle{NamedStyleType: "NORMAL_TEXT", LineSpacing: lineSpacing},
		Range:          Range{StartIndex: 1, EndIndex: plan.TextEnd},
		Fields:         "namedStyleType,lineSpacing",
	}})

	// A header-only table has no data text to shrink.
	if plan.TextEnd > plan.HeaderEnd {
		reqs = append(reqs, Request{UpdateTextStyle: &UpdateTextStyle{
			TextStyle: TextStyle{FontSize: points(dataFontSize)},
			Range:     Range{StartIndex: plan.HeaderEnd, EndIndex: plan.TextEnd},
			Fields:    "fontSize",
		}})
	}

	return append(reqs,
		Request{UpdateSectionStyle: &UpdateSectionStyle{
			SectionStyle: SectionStyle{FlipPageOrientation: !portrait},
			Range:        Range{StartIndex: 0, EndIndex: 1},
			Fields:       "flipPageOrientation",
		}},
	)
}
