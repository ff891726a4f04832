package pivotpdf

import (
	"bytes"
	"fmt"

	"github.com/pivotpdftools/pivotpdf/internal/pdf"
)

// TextStyle selects a font and size for a span of text.
type TextStyle struct {
	Font     FontRef
	FontSize float64
}

// BuiltinStyle builds a TextStyle for a standard font.
func BuiltinStyle(f BuiltinFont, size float64) TextStyle {
	return TextStyle{Font: BuiltinRef(f), FontSize: size}
}

// DefaultTextStyle is 12pt Helvetica.
func DefaultTextStyle() TextStyle {
	return BuiltinStyle(Helvetica, 12.0)
}

// WordBreak selects how words wider than the available width are
// handled during layout.
type WordBreak int

const (
	// WordBreakNormal never splits a word; an oversized word
	// overflows its line.
	WordBreakNormal WordBreak = iota
	// WordBreakAll splits an oversized word at a character boundary.
	WordBreakAll
	// WordBreakHyphenate splits like WordBreakAll and suffixes every
	// non-final piece with a hyphen.
	WordBreakHyphenate
)

// UsedFonts collects the fonts referenced while emitting content.
type UsedFonts struct {
	Builtin  map[BuiltinFont]struct{}
	TrueType map[int]struct{}
}

func newUsedFonts() UsedFonts {
	return UsedFonts{
		Builtin:  make(map[BuiltinFont]struct{}),
		TrueType: make(map[int]struct{}),
	}
}

func (u *UsedFonts) record(f FontRef) {
	if f.IsTrueType() {
		u.TrueType[f.TrueTypeIndex()] = struct{}{}
	} else {
		u.Builtin[f.Builtin()] = struct{}{}
	}
}

type textSpan struct {
	text  string
	style TextStyle
}

// word is one layout unit: either a run of non-space characters or a
// forced line break ("\n").
type word struct {
	text         string
	style        TextStyle
	leadingSpace bool
}

// TextFlow lays styled text out across one or more bounding rects.
// The flow keeps a cursor into its word list, so the same value can be
// passed to FitTextFlow on successive pages and picks up where the
// previous page stopped.
//
// For the cursor to stay valid across pages, every FitTextFlow call
// for a given flow must use the same rect width: oversized words are
// pre-broken against that width before layout, and the word-list shape
// depends only on the spans, the width, and the break mode.
type TextFlow struct {
	spans     []textSpan
	cursor    int
	wordBreak WordBreak

	// Broken word list cache, keyed by the width it was built for.
	broken      []word
	brokenWidth float64
	brokenOK    bool
}

// NewTextFlow returns an empty flow with WordBreakAll.
func NewTextFlow() *TextFlow {
	return &TextFlow{wordBreak: WordBreakAll}
}

// AddText appends styled text to the flow.
func (tf *TextFlow) AddText(text string, style TextStyle) {
	tf.spans = append(tf.spans, textSpan{text: text, style: style})
	tf.brokenOK = false
}

// SetWordBreak changes the break mode for subsequent layout.
func (tf *TextFlow) SetWordBreak(mode WordBreak) {
	tf.wordBreak = mode
	tf.brokenOK = false
}

// Rewind resets the cursor so the flow can be laid out again from the
// beginning.
func (tf *TextFlow) Rewind() {
	tf.cursor = 0
}

// IsFinished reports whether all text has been consumed.
func (tf *TextFlow) IsFinished() bool {
	if tf.brokenOK {
		return tf.cursor >= len(tf.broken)
	}
	return tf.cursor >= len(tf.extractWords())
}

// extractWords flattens the spans into layout words. Runs of spaces
// collapse to a leading-space flag on the following word; newlines
// become their own words; leading spaces before the very first word
// are dropped.
func (tf *TextFlow) extractWords() []word {
	var words []word
	hadSpace := false
	for _, span := range tf.spans {
		runes := []rune(span.text)
		i := 0
		for i < len(runes) {
			for i < len(runes) && runes[i] == ' ' {
				hadSpace = true
				i++
			}
			if i < len(runes) && runes[i] == '\n' {
				i++
				words = append(words, word{text: "\n", style: span.style})
				hadSpace = false
				continue
			}
			start := i
			for i < len(runes) && runes[i] != ' ' && runes[i] != '\n' {
				i++
			}
			if i > start {
				words = append(words, word{
					text:         string(runes[start:i]),
					style:        span.style,
					leadingSpace: hadSpace && len(words) > 0,
				})
				hadSpace = false
			}
		}
	}
	return words
}

// wordsFor returns the word list used for layout against the given
// width, pre-breaking oversized words unless the mode is Normal.
func (tf *TextFlow) wordsFor(width float64, fonts []*TrueTypeFont) []word {
	if tf.brokenOK && tf.brokenWidth == width {
		return tf.broken
	}
	words := tf.extractWords()
	if tf.wordBreak != WordBreakNormal {
		var out []word
		for _, w := range words {
			if w.text == "\n" {
				out = append(out, w)
				continue
			}
			pieces := breakWord(w.text, width, w.style, tf.wordBreak, fonts)
			for i, piece := range pieces {
				out = append(out, word{
					text:         piece,
					style:        w.style,
					leadingSpace: w.leadingSpace && i == 0,
				})
			}
		}
		words = out
	}
	tf.broken = words
	tf.brokenWidth = width
	tf.brokenOK = true
	return words
}

// measureWord returns the width of text in points for its style.
func measureWord(text string, style TextStyle, fonts []*TrueTypeFont) float64 {
	if style.Font.IsTrueType() {
		return fonts[style.Font.TrueTypeIndex()].MeasureText(text, style.FontSize)
	}
	return MeasureText(text, style.Font.Builtin(), style.FontSize)
}

// lineHeightFor returns the line height in points for a style.
func lineHeightFor(style TextStyle, fonts []*TrueTypeFont) float64 {
	if style.Font.IsTrueType() {
		return fonts[style.Font.TrueTypeIndex()].LineHeight(style.FontSize)
	}
	return LineHeight(style.FontSize)
}

// breakWord splits text into pieces that fit within availWidth.
//
// The result is deterministic in (text, availWidth, style, mode) and
// never splits a UTF-8 codepoint. Every piece carries at least one
// codepoint even when that codepoint alone exceeds the budget, so the
// caller always makes forward progress. In Hyphenate mode every
// non-final piece ends with "-" and is measured including the hyphen.
func breakWord(text string, availWidth float64, style TextStyle, mode WordBreak, fonts []*TrueTypeFont) []string {
	if mode == WordBreakNormal || measureWord(text, style, fonts) <= availWidth {
		return []string{text}
	}

	hyphen := ""
	if mode == WordBreakHyphenate {
		hyphen = "-"
	}

	var pieces []string
	current := ""
	for _, r := range text {
		candidate := current + string(r)
		if current != "" && measureWord(candidate+hyphen, style, fonts) > availWidth {
			pieces = append(pieces, current+hyphen)
			current = string(r)
			continue
		}
		current = candidate
	}
	if current != "" {
		pieces = append(pieces, current)
	}
	return pieces
}

// generateContentOps lays out words starting at the cursor into rect
// and returns the content-stream bytes, the fit result, and the fonts
// used. On BoxFull the cursor points at the first word that did not
// fit; on Stop it equals the word-list length; on BoxEmpty nothing is
// emitted and the cursor does not move.
func (tf *TextFlow) generateContentOps(rect Rect, fonts []*TrueTypeFont) ([]byte, FitResult, UsedFonts) {
	used := newUsedFonts()
	words := tf.wordsFor(rect.Width, fonts)
	if tf.cursor >= len(words) {
		return nil, Stop, used
	}

	var out bytes.Buffer
	first := words[tf.cursor]
	firstLineHeight := lineHeightFor(first.style, fonts)
	if firstLineHeight > rect.Height {
		return nil, BoxEmpty, used
	}

	out.WriteString("BT\n")

	// First baseline: top of rect minus the font size, an ascent
	// approximation consistent with the 1.2x line-height rule.
	firstBaselineY := rect.Y - first.style.FontSize
	currentY := firstBaselineY
	isFirstLine := true
	anyTextPlaced := false

	var activeFont FontRef
	var activeSize float64
	haveActive := false

	for tf.cursor < len(words) {
		lineStyle := words[tf.cursor].style
		lineHeight := lineHeightFor(lineStyle, fonts)

		if !isFirstLine {
			nextY := currentY - lineHeight
			if nextY < rect.Y-rect.Height {
				out.WriteString("ET\n")
				return out.Bytes(), BoxFull, used
			}
		}

		// Collect the words that fit on this line.
		lineStart := tf.cursor
		lineEnd := tf.cursor
		lineWidth := 0.0
		for lineEnd < len(words) {
			w := words[lineEnd]
			if w.text == "\n" {
				lineEnd++
				break
			}
			wordWidth := measureWord(w.text, w.style, fonts)
			spaceWidth := 0.0
			if w.leadingSpace {
				spaceWidth = measureWord(" ", w.style, fonts)
			}
			total := lineWidth + spaceWidth + wordWidth
			if total > rect.Width && lineEnd > lineStart {
				break
			}
			if total > rect.Width && lineEnd == lineStart {
				// Single word wider than the box.
				if !anyTextPlaced {
					return nil, BoxEmpty, newUsedFonts()
				}
				// Text already placed: let it overflow the line.
				lineEnd++
				break
			}
			lineWidth = total
			lineEnd++
		}
		if lineEnd == lineStart {
			break
		}

		if isFirstLine {
			fmt.Fprintf(&out, "%s %s Td\n",
				pdf.FormatCoord(rect.X), pdf.FormatCoord(firstBaselineY))
			isFirstLine = false
		} else {
			fmt.Fprintf(&out, "0 %s Td\n", pdf.FormatCoord(-lineHeight))
			currentY -= lineHeight
		}

		for i := lineStart; i < lineEnd; i++ {
			w := words[i]
			if w.text == "\n" {
				continue
			}
			if !haveActive || activeFont != w.style.Font || activeSize != w.style.FontSize {
				fmt.Fprintf(&out, "/%s %s Tf\n",
					fontResourceName(w.style.Font, fonts), pdf.FormatCoord(w.style.FontSize))
				activeFont = w.style.Font
				activeSize = w.style.FontSize
				haveActive = true
				used.record(w.style.Font)
			}
			display := w.text
			if w.leadingSpace && i != lineStart {
				display = " " + display
			}
			if w.style.Font.IsTrueType() {
				hex := fonts[w.style.Font.TrueTypeIndex()].encodeTextHex(display)
				fmt.Fprintf(&out, "%s Tj\n", hex)
			} else {
				fmt.Fprintf(&out, "(%s) Tj\n", pdf.EscapeString(display))
			}
		}

		anyTextPlaced = true
		tf.cursor = lineEnd
	}

	out.WriteString("ET\n")
	if tf.cursor >= len(words) {
		return out.Bytes(), Stop, used
	}
	return out.Bytes(), BoxFull, used
}

// fontResourceName resolves a FontRef to its content-stream resource
// name.
func fontResourceName(f FontRef, fonts []*TrueTypeFont) string {
	if f.IsTrueType() {
		return fonts[f.TrueTypeIndex()].ResourceName()
	}
	return f.Builtin().ResourceName()
}
