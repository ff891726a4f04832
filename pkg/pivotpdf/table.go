package pivotpdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pivotpdftools/pivotpdf/internal/pdf"
)

// CellOverflow selects how text that exceeds the cell height is
// handled.
type CellOverflow int

const (
	// OverflowWrap wraps text across lines; the row grows to fit.
	OverflowWrap CellOverflow = iota
	// OverflowClip wraps text but clips it to the row's fixed height.
	OverflowClip
	// OverflowShrink reduces the font size until the text fits.
	OverflowShrink
)

// TextAlign selects horizontal alignment of cell text.
type TextAlign int

const (
	AlignLeft TextAlign = iota
	AlignCenter
	AlignRight
)

// CellStyle holds the visual options for a table cell.
type CellStyle struct {
	Font     FontRef
	FontSize float64
	// Padding applies to all four sides, in points.
	Padding   float64
	Overflow  CellOverflow
	WordBreak WordBreak
	Align     TextAlign
	// BackgroundColor overrides the row background when set.
	BackgroundColor *Color
	// TextColor defaults to black when nil.
	TextColor *Color
}

// DefaultCellStyle is 10pt Helvetica with 4pt padding, wrap overflow,
// and break-all word breaking.
func DefaultCellStyle() CellStyle {
	return CellStyle{
		Font:      BuiltinRef(Helvetica),
		FontSize:  10.0,
		Padding:   4.0,
		Overflow:  OverflowWrap,
		WordBreak: WordBreakAll,
	}
}

func (s CellStyle) textStyle() TextStyle {
	return TextStyle{Font: s.Font, FontSize: s.FontSize}
}

// Cell is one table cell: text plus style.
type Cell struct {
	Text  string
	Style CellStyle
}

// NewCell builds a cell with the default style.
func NewCell(text string) Cell {
	return Cell{Text: text, Style: DefaultCellStyle()}
}

// StyledCell builds a cell with an explicit style.
func StyledCell(text string, style CellStyle) Cell {
	return Cell{Text: text, Style: style}
}

// Row is one table row. FixedHeight is required for Clip and Shrink
// overflow; when nil the height is computed from the wrapped content.
type Row struct {
	Cells           []Cell
	BackgroundColor *Color
	FixedHeight     *float64
}

// NewRow builds a row with auto height and no background.
func NewRow(cells ...Cell) Row {
	return Row{Cells: cells}
}

// Table holds column widths and visual style. It stores no row data:
// the caller feeds one Row at a time to FitRow, so rows can stream
// from a database cursor without buffering the full dataset.
type Table struct {
	// Columns are the column widths in points.
	Columns []float64
	// DefaultStyle seeds cell styles and sizes empty columns.
	DefaultStyle CellStyle
	BorderColor  Color
	// BorderWidth of 0 disables borders.
	BorderWidth float64
}

// NewTable builds a table layout with the given column widths, black
// 0.5pt borders, and the default cell style.
func NewTable(columns ...float64) *Table {
	return &Table{
		Columns:      columns,
		DefaultStyle: DefaultCellStyle(),
		BorderColor:  black,
		BorderWidth:  0.5,
	}
}

// TableCursor tracks where the next row lands within a page rect.
//
// Create one per table area, pass it to every FitRow call, and call
// Reset when starting a new page. IsFirstRow lets the caller detect a
// fresh page to repeat a header row.
type TableCursor struct {
	rect     Rect
	currentY float64
	firstRow bool
}

// NewTableCursor returns a cursor positioned at the top of rect.
func NewTableCursor(rect Rect) *TableCursor {
	return &TableCursor{rect: rect, currentY: rect.Y, firstRow: true}
}

// Reset moves the cursor to the top of a new rect for the next page.
func (c *TableCursor) Reset(rect Rect) {
	c.rect = rect
	c.currentY = rect.Y
	c.firstRow = true
}

// IsFirstRow reports whether no rows have been placed on the current
// page yet.
func (c *TableCursor) IsFirstRow() bool {
	return c.firstRow
}

// CurrentY returns the Y coordinate where the next row would start.
// After the last row it equals that row's bottom edge, so content
// following the table can be positioned without guessing.
func (c *TableCursor) CurrentY() float64 {
	return c.currentY
}

// generateRowOps produces the content-stream bytes for one row and
// advances the cursor. Emits nothing unless the row fits.
func (t *Table) generateRowOps(row Row, cursor *TableCursor, fonts []*TrueTypeFont) ([]byte, FitResult, UsedFonts) {
	rowHeight := t.measureRowHeight(row, fonts)
	bottom := cursor.rect.Y - cursor.rect.Height

	if cursor.currentY-rowHeight < bottom {
		// First row on the page means the rect itself is too small;
		// otherwise the page is simply full and the caller turns it.
		if cursor.firstRow {
			return nil, BoxEmpty, newUsedFonts()
		}
		return nil, BoxFull, newUsedFonts()
	}

	var out bytes.Buffer
	used := newUsedFonts()

	drawRowBackgrounds(row, t.Columns, cursor.rect.X, cursor.currentY, rowHeight, &out)

	colX := cursor.rect.X
	for colIdx, colWidth := range t.Columns {
		if colIdx < len(row.Cells) {
			renderCell(row.Cells[colIdx], colX, cursor.currentY, colWidth, rowHeight, fonts, &out, &used)
		}
		colX += colWidth
	}

	if t.BorderWidth > 0 {
		drawRowBorders(t.Columns, cursor.rect.X, cursor.currentY, rowHeight, t.BorderColor, t.BorderWidth, &out)
	}

	cursor.currentY -= rowHeight
	cursor.firstRow = false
	return out.Bytes(), Stop, used
}

// measureRowHeight returns the fixed height when set, otherwise the
// tallest wrapped cell. Missing cells contribute one line plus
// padding.
func (t *Table) measureRowHeight(row Row, fonts []*TrueTypeFont) float64 {
	if row.FixedHeight != nil {
		return *row.FixedHeight
	}
	height := 0.0
	for colIdx, colWidth := range t.Columns {
		var h float64
		if colIdx < len(row.Cells) {
			cell := row.Cells[colIdx]
			h = measureCellHeight(cell.Text, cell.Style, colWidth, fonts)
		} else {
			h = lineHeightFor(t.DefaultStyle.textStyle(), fonts) + 2.0*t.DefaultStyle.Padding
		}
		if h > height {
			height = h
		}
	}
	return height
}

// measureCellHeight computes the height a cell needs with wrapping.
func measureCellHeight(text string, style CellStyle, colWidth float64, fonts []*TrueTypeFont) float64 {
	availWidth := colWidth - 2.0*style.Padding
	ts := style.textStyle()
	lh := lineHeightFor(ts, fonts)
	lines := wrapCellText(text, availWidth, ts, style.WordBreak, fonts)
	return float64(len(lines))*lh + 2.0*style.Padding
}

// wrapCellText word-wraps text into lines that fit availWidth,
// honoring embedded newlines as paragraph breaks.
func wrapCellText(text string, availWidth float64, style TextStyle, mode WordBreak, fonts []*TrueTypeFont) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		wrapParagraph(strings.TrimSpace(para), availWidth, style, mode, fonts, &lines)
	}
	if len(lines) == 0 {
		lines = append(lines, "")
	}
	return lines
}

func wrapParagraph(text string, availWidth float64, style TextStyle, mode WordBreak, fonts []*TrueTypeFont, out *[]string) {
	if text == "" {
		*out = append(*out, "")
		return
	}
	current := ""
	lineWidth := 0.0

	for _, w := range strings.Fields(text) {
		wordWidth := measureWord(w, style, fonts)
		spaceWidth := 0.0
		if current != "" {
			spaceWidth = measureWord(" ", style, fonts)
		}
		needed := lineWidth + spaceWidth + wordWidth

		switch {
		case needed > availWidth && current != "":
			*out = append(*out, current)
			current = ""
			lineWidth = 0
			placeWordOnLine(w, availWidth, style, mode, fonts, &current, &lineWidth, out)
		case wordWidth > availWidth && mode != WordBreakNormal && current == "":
			placeWordOnLine(w, availWidth, style, mode, fonts, &current, &lineWidth, out)
		default:
			if current != "" {
				current += " "
			}
			current += w
			lineWidth = needed
		}
	}
	if current != "" {
		*out = append(*out, current)
	}
}

// placeWordOnLine appends a word to the line in progress, breaking it
// first when it is wider than availWidth. Full pieces go to out; the
// last piece stays in current so following words continue the line.
func placeWordOnLine(w string, availWidth float64, style TextStyle, mode WordBreak, fonts []*TrueTypeFont, current *string, lineWidth *float64, out *[]string) {
	wordWidth := measureWord(w, style, fonts)
	if wordWidth <= availWidth || mode == WordBreakNormal {
		if *current != "" {
			*current += " "
		}
		*current += w
		*lineWidth += wordWidth
		return
	}
	pieces := breakWord(w, availWidth, style, mode, fonts)
	for i, piece := range pieces {
		if i < len(pieces)-1 {
			*out = append(*out, piece)
		} else {
			*current = piece
			*lineWidth = measureWord(piece, style, fonts)
		}
	}
}

func emitFill(c Color, x, y, w, h float64, out *bytes.Buffer) {
	fmt.Fprintf(out, "%s %s %s rg\n%s %s %s %s re\nf\n",
		pdf.FormatCoord(c.R), pdf.FormatCoord(c.G), pdf.FormatCoord(c.B),
		pdf.FormatCoord(x), pdf.FormatCoord(y),
		pdf.FormatCoord(w), pdf.FormatCoord(h))
}

// drawRowBackgrounds paints the row background first, then per-cell
// backgrounds on top of it.
func drawRowBackgrounds(row Row, columns []float64, rowX, rowTop, rowHeight float64, out *bytes.Buffer) {
	rowBottom := rowTop - rowHeight

	if row.BackgroundColor != nil {
		total := 0.0
		for _, w := range columns {
			total += w
		}
		emitFill(*row.BackgroundColor, rowX, rowBottom, total, rowHeight, out)
	}

	colX := rowX
	for colIdx, colWidth := range columns {
		if colIdx < len(row.Cells) {
			if bg := row.Cells[colIdx].Style.BackgroundColor; bg != nil {
				emitFill(*bg, colX, rowBottom, colWidth, rowHeight, out)
			}
		}
		colX += colWidth
	}
}

// drawRowBorders strokes the row's outer rectangle and the vertical
// dividers between columns, isolated in q/Q.
func drawRowBorders(columns []float64, rowX, rowTop, rowHeight float64, borderColor Color, borderWidth float64, out *bytes.Buffer) {
	rowBottom := rowTop - rowHeight
	total := 0.0
	for _, w := range columns {
		total += w
	}

	out.WriteString("q\n")
	fmt.Fprintf(out, "%s %s %s RG\n%s w\n",
		pdf.FormatCoord(borderColor.R), pdf.FormatCoord(borderColor.G), pdf.FormatCoord(borderColor.B),
		pdf.FormatCoord(borderWidth))
	fmt.Fprintf(out, "%s %s %s %s re\nS\n",
		pdf.FormatCoord(rowX), pdf.FormatCoord(rowBottom),
		pdf.FormatCoord(total), pdf.FormatCoord(rowHeight))

	// Dividers between columns; none after the last column.
	colX := rowX
	for i := 0; i < len(columns)-1; i++ {
		colX += columns[i]
		fmt.Fprintf(out, "%s %s m\n%s %s l\nS\n",
			pdf.FormatCoord(colX), pdf.FormatCoord(rowTop),
			pdf.FormatCoord(colX), pdf.FormatCoord(rowBottom))
	}
	out.WriteString("Q\n")
}

// renderCell emits one cell's text, wrapped in q/Q so clip paths and
// fill colors stay local to the cell.
func renderCell(cell Cell, cellX, rowTop, colWidth, rowHeight float64, fonts []*TrueTypeFont, out *bytes.Buffer, used *UsedFonts) {
	style := cell.Style
	availWidth := colWidth - 2.0*style.Padding
	if availWidth < 0 {
		availWidth = 0
	}
	availHeight := rowHeight - 2.0*style.Padding
	if availHeight < 0 {
		availHeight = 0
	}

	effectiveSize := style.FontSize
	if style.Overflow == OverflowShrink {
		effectiveSize = shrinkFontSize(cell.Text, style.Font, style.FontSize, availWidth, availHeight, style.WordBreak, fonts)
	}

	ts := TextStyle{Font: style.Font, FontSize: effectiveSize}
	lh := lineHeightFor(ts, fonts)
	lines := wrapCellText(cell.Text, availWidth, ts, style.WordBreak, fonts)

	out.WriteString("q\n")

	if style.Overflow == OverflowClip {
		fmt.Fprintf(out, "%s %s %s %s re\nW\nn\n",
			pdf.FormatCoord(cellX), pdf.FormatCoord(rowTop-rowHeight),
			pdf.FormatCoord(colWidth), pdf.FormatCoord(rowHeight))
	}

	textX := cellX + style.Padding
	// Baseline: cell top minus padding minus font size (ascent
	// approximation, as in textflow).
	firstLineY := rowTop - style.Padding - effectiveSize

	out.WriteString("BT\n")

	// Always set an explicit fill color for text. The fill color from
	// background drawing is set outside any q/Q and would otherwise
	// bleed into text rendering, hiding text on colored rows.
	textColor := black
	if style.TextColor != nil {
		textColor = *style.TextColor
	}
	fmt.Fprintf(out, "%s %s %s rg\n",
		pdf.FormatCoord(textColor.R), pdf.FormatCoord(textColor.G), pdf.FormatCoord(textColor.B))

	fmt.Fprintf(out, "/%s %s Tf\n", fontResourceName(ts.Font, fonts), pdf.FormatCoord(effectiveSize))
	used.record(ts.Font)

	offset := alignOffset(style.Align, lines[0], ts, availWidth, fonts)
	fmt.Fprintf(out, "%s %s Td\n", pdf.FormatCoord(textX+offset), pdf.FormatCoord(firstLineY))
	emitCellText(lines[0], ts.Font, fonts, out)

	prevOffset := offset
	for _, line := range lines[1:] {
		offset = alignOffset(style.Align, line, ts, availWidth, fonts)
		fmt.Fprintf(out, "%s %s Td\n", pdf.FormatCoord(offset-prevOffset), pdf.FormatCoord(-lh))
		emitCellText(line, ts.Font, fonts, out)
		prevOffset = offset
	}

	out.WriteString("ET\n")
	out.WriteString("Q\n")
}

// alignOffset returns the extra x offset for one line under the given
// alignment.
func alignOffset(align TextAlign, line string, style TextStyle, availWidth float64, fonts []*TrueTypeFont) float64 {
	if align == AlignLeft || line == "" {
		return 0
	}
	lineWidth := measureWord(line, style, fonts)
	slack := availWidth - lineWidth
	if slack <= 0 {
		return 0
	}
	if align == AlignCenter {
		return slack / 2.0
	}
	return slack
}

func emitCellText(line string, font FontRef, fonts []*TrueTypeFont, out *bytes.Buffer) {
	if line == "" {
		return
	}
	if font.IsTrueType() {
		fmt.Fprintf(out, "%s Tj\n", fonts[font.TrueTypeIndex()].encodeTextHex(line))
		return
	}
	fmt.Fprintf(out, "(%s) Tj\n", pdf.EscapeString(line))
}

// Shrink mode reduces the font in half-point steps and never below
// 4pt.
const (
	minShrinkFontSize = 4.0
	shrinkStep        = 0.5
)

// shrinkFontSize steps the font size down until the wrapped text fits
// the available height and, for Normal word breaking, every word fits
// the available width (an unbreakable word wider than the column can
// only be cured by shrinking).
func shrinkFontSize(text string, font FontRef, initialSize, availWidth, availHeight float64, mode WordBreak, fonts []*TrueTypeFont) float64 {
	fontSize := initialSize
	for {
		ts := TextStyle{Font: font, FontSize: fontSize}
		lh := lineHeightFor(ts, fonts)
		lines := wrapCellText(text, availWidth, ts, mode, fonts)
		fitsHeight := float64(len(lines))*lh <= availHeight
		fitsWidth := mode != WordBreakNormal || allWordsFit(text, ts, availWidth, fonts)
		if (fitsHeight && fitsWidth) || fontSize <= minShrinkFontSize {
			return fontSize
		}
		fontSize -= shrinkStep
		if fontSize < minShrinkFontSize {
			fontSize = minShrinkFontSize
		}
	}
}

func allWordsFit(text string, style TextStyle, availWidth float64, fonts []*TrueTypeFont) bool {
	for _, w := range strings.Fields(text) {
		if measureWord(w, style, fonts) > availWidth {
			return false
		}
	}
	return true
}
