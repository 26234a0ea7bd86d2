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

package sharepoint

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Page geometry in twentieths of a point: US letter, half-inch margins.
const (
	pageShortTwips  = 12240
	pageLongTwips   = 15840
	pageMarginTwips = 720

	// firstColumnTwips matches the half-inch first column of the Google layout.
	firstColumnTwips = 720

	// dataFontHalfPoints is 8pt.
	dataFontHalfPoints = 16

	headerFill = "F2F2F2"
)

const contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
	`</Types>`

const relsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
	`</Relationships>`

// Grid is a table being assembled cell by cell.
type Grid struct {
	Cells [][]string

	// Bold marks cells whose text is bold.
	Bold [][]bool

	// HeaderColumns is the header row's width, used for column widths.
	HeaderColumns int

	// Styled is set once header pinning and shading apply.
	Styled bool
}

// NewGrid returns an empty rows-by-columns grid.
func NewGrid(rows, columns, headerColumns int) *Grid {
	g := &Grid{
		Cells:         make([][]string, rows),
		Bold:          make([][]bool, rows),
		HeaderColumns: headerColumns,
	}
	for r := range g.Cells {
		g.Cells[r] = make([]string, columns)
		g.Bold[r] = make([]bool, columns)
	}
	return g
}

// Set writes one cell. Out-of-range cells are an error.
func (g *Grid) Set(row, col int, text string, bold bool) error {
	if row < 0 || row >= len(g.Cells) || col < 0 || col >= len(g.Cells[row]) {
		return fmt.Errorf("cell (%d,%d) outside %dx%d table", row, col, len(g.Cells), g.columns())
	}
	g.Cells[row][col] = text
	g.Bold[row][col] = bold
	return nil
}

func (g *Grid) columns() int {
	if len(g.Cells) == 0 {
		return 0
	}
	return len(g.Cells[0])
}

// WriteDocx writes g as a Word document package.
func (g *Grid) WriteDocx(w io.Writer) error {
	zw := zip.NewWriter(w)
	parts := []struct {
		name string
		body string
	}{
		{"[Content_Types].xml", contentTypesXML},
		{"_rels/.rels", relsXML},
		{"word/document.xml", g.documentXML()},
	}
	for _, p := range parts {
		f, err := zw.CreateHeader(&zip.FileHeader{Name: p.name, Method: zip.Deflate})
		if err != nil {
			return fmt.Errorf("creating %s: %w", p.name, err)
		}
		if _, err := io.WriteString(f, p.body); err != nil {
			return fmt.Errorf("writing %s: %w", p.name, err)
		}
	}
	return zw.Close()
}

func (g *Grid) columnWidths() []int {
	cols := g.columns()
	widths := make([]int, cols)
	if cols == 0 {
		return widths
	}
	headers := g.HeaderColumns
	if headers < 1 || headers > cols {
		headers = cols
	}
	available := pageLongTwips - 2*pageMarginTwips
	widths[0] = firstColumnTwips
	other := available - firstColumnTwips
	if headers > 1 {
		other = (available - firstColumnTwips) / (headers - 1)
	}
	for i := 1; i < cols; i++ {
		widths[i] = other
	}
	return widths
}

func (g *Grid) documentXML() string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	b.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)

	if len(g.Cells) > 0 {
		widths := g.columnWidths()
		b.WriteString(`<w:tbl><w:tblPr><w:tblStyle w:val="TableGrid"/><w:tblLayout w:type="fixed"/></w:tblPr><w:tblGrid>`)
		for _, wd := range widths {
			fmt.Fprintf(&b, `<w:gridCol w:w="%d"/>`, wd)
		}
		b.WriteString(`</w:tblGrid>`)

		for r, row := range g.Cells {
			b.WriteString(`<w:tr>`)
			header := r == 0 && g.Styled
			if header {
				b.WriteString(`<w:trPr><w:tblHeader/></w:trPr>`)
			}
			for c, text := range row {
				fmt.Fprintf(&b, `<w:tc><w:tcPr><w:tcW w:w="%d" w:type="dxa"/>`, widths[c])
				if header && c < max(g.HeaderColumns, 1) {
					fmt.Fprintf(&b, `<w:shd w:val="clear" w:color="auto" w:fill="%s"/>`, headerFill)
				}
				b.WriteString(`</w:tcPr><w:p><w:r>`)
				g.writeRunProps(&b, r, c)
				b.WriteString(`<w:t xml:space="preserve">`)
				_ = xml.EscapeText(&b, []byte(text))
				b.WriteString(`</w:t></w:r></w:p></w:tc>`)
			}
			b.WriteString(`</w:tr>`)
		}
		b.WriteString(`</w:tbl><w:p/>`)
	}

	fmt.Fprintf(&b, `<w:sectPr><w:pgSz w:w="%d" w:h="%d" w:orient="landscape"/>`, pageLongTwips, pageShortTwips)
	fmt.Fprintf(&b, `<w:pgMar w:top="%d" w:right="%d" w:bottom="%d" w:left="%d" w:header="0" w:footer="0" w:gutter="0"/>`,
		pageMarginTwips, pageMarginTwips, pageMarginTwips, pageMarginTwips)
	b.WriteString(`</w:sectPr></w:body></w:document>`)
	return b.String()
}

func (g *Grid) writeRunProps(b *strings.Builder, r, c int) {
	bold := g.Bold[r][c]
	small := g.Styled && r > 0
	if !bold && !small {
		return
	}
	b.WriteString(`<w:rPr>`)
	if bold {
		b.WriteString(`<w:b/>`)
	}
	if small {
		fmt.Fprintf(b, `<w:sz w:val="%d"/>`, dataFontHalfPoints)
	}
	b.WriteString(`</w:rPr>`)
}
