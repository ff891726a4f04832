package pivotpdf

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pivotpdftools/pivotpdf/internal/pdf"
	"github.com/pivotpdftools/pivotpdf/internal/pdf/font"
)

// TrueTypeFont is a TrueType face loaded into a Document, together
// with the set of glyphs the document has used so far. The face is
// embedded whole (no subsetting); the used-glyph set drives the /W
// widths array and the ToUnicode CMap.
type TrueTypeFont struct {
	face         *font.Face
	usedGlyphs   map[uint16]struct{}
	resourceName string
}

// parseFace runs the sfnt parser on raw TTF bytes.
func parseFace(data []byte) (*font.Face, error) {
	return font.Parse(data)
}

func newTrueTypeFont(face *font.Face, index int) *TrueTypeFont {
	// Built-in fonts reserve F1..F14; TrueType faces start at F15.
	return &TrueTypeFont{
		face:         face,
		usedGlyphs:   make(map[uint16]struct{}),
		resourceName: fmt.Sprintf("F%d", 15+index),
	}
}

// ResourceName returns the font's content-stream resource name
// ("F15" for the first loaded face, "F16" for the next, ...).
func (t *TrueTypeFont) ResourceName() string {
	return t.resourceName
}

// PostScriptName returns the face's PostScript name, used as the
// /BaseFont and /FontName values.
func (t *TrueTypeFont) PostScriptName() string {
	return t.face.PostScriptName
}

// scaleToPDF converts a font-unit value to 1/1000 em units.
func (t *TrueTypeFont) scaleToPDF(v int) int {
	return v * 1000 / int(t.face.UnitsPerEm)
}

func (t *TrueTypeFont) glyphWidth(gid uint16) int {
	if int(gid) < len(t.face.GlyphWidths) {
		return int(t.face.GlyphWidths[gid])
	}
	return t.defaultWidthRaw()
}

func (t *TrueTypeFont) defaultWidthRaw() int {
	if len(t.face.GlyphWidths) > 0 {
		return int(t.face.GlyphWidths[0])
	}
	return 0
}

// CharWidthPDF returns the advance width of ch in 1/1000 em units.
// Unmapped characters use glyph 0's width.
func (t *TrueTypeFont) CharWidthPDF(ch rune) int {
	gid := t.face.CharToGlyph[ch]
	return t.scaleToPDF(t.glyphWidth(gid))
}

// MeasureText returns the width of s in points at the given size.
func (t *TrueTypeFont) MeasureText(s string, fontSize float64) float64 {
	total := 0
	for _, ch := range s {
		total += t.CharWidthPDF(ch)
	}
	return float64(total) * fontSize / 1000.0
}

// LineHeight returns (ascent - descent) scaled to the font size.
func (t *TrueTypeFont) LineHeight(fontSize float64) float64 {
	span := float64(int(t.face.Ascender) - int(t.face.Descender))
	return span / float64(t.face.UnitsPerEm) * fontSize
}

// glyphID resolves ch to its glyph ID (0 when unmapped) and records
// the glyph as used.
func (t *TrueTypeFont) glyphID(ch rune) uint16 {
	gid := t.face.CharToGlyph[ch]
	t.usedGlyphs[gid] = struct{}{}
	return gid
}

// encodeTextHex encodes s as Identity-H glyph IDs: four uppercase hex
// digits per character, wrapped in angle brackets. Every encoded glyph
// is recorded as used.
func (t *TrueTypeFont) encodeTextHex(s string) string {
	var b strings.Builder
	b.Grow(len(s)*4 + 2)
	b.WriteByte('<')
	for _, ch := range s {
		fmt.Fprintf(&b, "%04X", t.glyphID(ch))
	}
	b.WriteByte('>')
	return b.String()
}

func (t *TrueTypeFont) sortedUsedGlyphs() []uint16 {
	gids := make([]uint16, 0, len(t.usedGlyphs))
	for gid := range t.usedGlyphs {
		gids = append(gids, gid)
	}
	sort.Slice(gids, func(i, j int) bool { return gids[i] < gids[j] })
	return gids
}

// wArray builds the CIDFont /W widths array for the used glyphs:
// consecutive glyph ID runs become `start [w1 w2 ...]` groups.
func (t *TrueTypeFont) wArray() pdf.Array {
	gids := t.sortedUsedGlyphs()
	var result pdf.Array
	for i := 0; i < len(gids); {
		start := gids[i]
		var widths pdf.Array
		j := i
		for j < len(gids) && gids[j] == start+uint16(j-i) {
			widths = append(widths, pdf.Integer(t.scaleToPDF(t.glyphWidth(gids[j]))))
			j++
		}
		result = append(result, pdf.Integer(int64(start)), widths)
		i = j
	}
	return result
}

// defaultWidthPDF returns glyph 0's width in 1/1000 em units, used as
// the CIDFont /DW value.
func (t *TrueTypeFont) defaultWidthPDF() int {
	return t.scaleToPDF(t.defaultWidthRaw())
}

// Font descriptor flag bits (ISO 32000-1 table 123).
const (
	flagFixedPitch  = 1 << 0
	flagNonsymbolic = 1 << 5
	flagItalic      = 1 << 6
)

// descriptorFlags derives the FontDescriptor /Flags bit-field.
func (t *TrueTypeFont) descriptorFlags() int {
	flags := flagNonsymbolic
	if t.face.IsFixedPitch {
		flags |= flagFixedPitch
	}
	if t.face.IsItalic {
		flags |= flagItalic
	}
	return flags
}

// stemV estimates the dominant vertical stem width from the weight
// class: 10 + 220 * (weight/1000)^2.
func (t *TrueTypeFont) stemV() int {
	w := float64(t.face.WeightClass) / 1000.0
	return int(10.0 + 220.0*w*w)
}

func (t *TrueTypeFont) fontBBox() pdf.Array {
	return pdf.Array{
		pdf.Integer(t.scaleToPDF(int(t.face.BBox[0]))),
		pdf.Integer(t.scaleToPDF(int(t.face.BBox[1]))),
		pdf.Integer(t.scaleToPDF(int(t.face.BBox[2]))),
		pdf.Integer(t.scaleToPDF(int(t.face.BBox[3]))),
	}
}

// bfcharChunkSize caps each beginbfchar block; the CMap spec allows at
// most 100 mappings per block.
const bfcharChunkSize = 100

// toUnicodeCMap builds the ToUnicode CMap stream payload for the used
// glyphs, mapping glyph IDs back to Unicode codepoints so text extract
// and copy/paste work on Identity-H encoded text.
func (t *TrueTypeFont) toUnicodeCMap() []byte {
	var b strings.Builder
	b.WriteString("/CIDInit /ProcSet findresource begin\n" +
		"12 dict begin\n" +
		"begincmap\n" +
		"/CIDSystemInfo\n" +
		"<< /Registry (Adobe)\n" +
		"/Ordering (UCS)\n" +
		"/Supplement 0\n" +
		">> def\n" +
		"/CMapName /Adobe-Identity-UCS def\n" +
		"/CMapType 2 def\n" +
		"1 begincodespacerange\n" +
		"<0000> <FFFF>\n" +
		"endcodespacerange\n")

	type mapping struct {
		gid uint16
		cp  rune
	}
	var mappings []mapping
	for _, gid := range t.sortedUsedGlyphs() {
		if cp, ok := t.face.GlyphToChar[gid]; ok {
			mappings = append(mappings, mapping{gid: gid, cp: cp})
		}
	}

	for start := 0; start < len(mappings); start += bfcharChunkSize {
		end := start + bfcharChunkSize
		if end > len(mappings) {
			end = len(mappings)
		}
		fmt.Fprintf(&b, "%d beginbfchar\n", end-start)
		for _, m := range mappings[start:end] {
			fmt.Fprintf(&b, "<%04X> <%04X>\n", m.gid, m.cp)
		}
		b.WriteString("endbfchar\n")
	}

	b.WriteString("endcmap\n" +
		"CMapName currentdict /CMap defineresource pop\n" +
		"end\n" +
		"end\n")
	return []byte(b.String())
}
