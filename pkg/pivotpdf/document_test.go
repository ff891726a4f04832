package pivotpdf

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSimpleDoc(t *testing.T, build func(*Document)) []byte {
	t.Helper()
	var buf bytes.Buffer
	doc, err := New(&buf)
	require.NoError(t, err)
	build(doc)
	require.NoError(t, doc.EndDocument())
	return buf.Bytes()
}

func TestDocumentHeaderAndEOF(t *testing.T) {
	out := buildSimpleDoc(t, func(doc *Document) {
		require.NoError(t, doc.BeginPage(612, 792))
		require.NoError(t, doc.EndPage())
	})
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-1.7\n")))
	assert.Equal(t, byte(0xE2), out[10])
	assert.True(t, bytes.HasSuffix(out, []byte("%%EOF\n")))
}

func TestDocumentHelloWorld(t *testing.T) {
	// Info entries, one page, default-font text: the minimal
	// end-to-end document.
	out := string(buildSimpleDoc(t, func(doc *Document) {
		doc.SetInfo("Creator", "x")
		doc.SetInfo("Title", "T")
		require.NoError(t, doc.BeginPage(612, 792))
		require.NoError(t, doc.PlaceText("Hello", 20, 20))
		require.NoError(t, doc.EndPage())
	}))

	assert.Contains(t, out, "(Hello) Tj")
	assert.Contains(t, out, "/F1 12 Tf")
	assert.Contains(t, out, "20 20 Td")
	assert.Contains(t, out, "(x)")
	assert.Contains(t, out, "(T)")
	assert.Contains(t, out, "/BaseFont /Helvetica")
	assert.Contains(t, out, "/Count 1")
	assert.Contains(t, out, "/Size 7")
	assert.Contains(t, out, "xref\n0 7\n")
}

func TestDocumentMultiplePages(t *testing.T) {
	out := string(buildSimpleDoc(t, func(doc *Document) {
		for i := 1; i <= 3; i++ {
			require.NoError(t, doc.BeginPage(612, 792))
			require.NoError(t, doc.PlaceText(fmt.Sprintf("Page %d", i), 72, 720))
			require.NoError(t, doc.EndPage())
		}
	}))
	assert.Contains(t, out, "/Count 3")
	assert.Contains(t, out, "(Page 1) Tj")
	assert.Contains(t, out, "(Page 2) Tj")
	assert.Contains(t, out, "(Page 3) Tj")
}

func TestDocumentEscapesParentheses(t *testing.T) {
	out := string(buildSimpleDoc(t, func(doc *Document) {
		require.NoError(t, doc.BeginPage(612, 792))
		require.NoError(t, doc.PlaceText("Price: $100 (USD)", 72, 720))
		require.NoError(t, doc.EndPage())
	}))
	assert.Contains(t, out, `(Price: $100 \(USD\)) Tj`)
}

func TestDocumentEmptyPage(t *testing.T) {
	out := string(buildSimpleDoc(t, func(doc *Document) {
		require.NoError(t, doc.BeginPage(612, 792))
		require.NoError(t, doc.EndPage())
	}))
	assert.Contains(t, out, "/Length 0")
	assert.NotContains(t, out, "/Font")
}

func TestDocumentOnlyUsedFontsEmitted(t *testing.T) {
	out := string(buildSimpleDoc(t, func(doc *Document) {
		require.NoError(t, doc.BeginPage(612, 792))
		require.NoError(t, doc.PlaceTextStyled("hi", 72, 720, BuiltinStyle(Helvetica, 12)))
		require.NoError(t, doc.EndPage())
	}))
	assert.Contains(t, out, "/BaseFont /Helvetica")
	assert.NotContains(t, out, "/BaseFont /Times-Roman")
	assert.NotContains(t, out, "/Courier")
}

func TestDocumentBuiltinFontWrittenOnce(t *testing.T) {
	out := string(buildSimpleDoc(t, func(doc *Document) {
		for i := 0; i < 3; i++ {
			require.NoError(t, doc.BeginPage(612, 792))
			require.NoError(t, doc.PlaceText("x", 72, 720))
			require.NoError(t, doc.EndPage())
		}
	}))
	assert.Equal(t, 1, strings.Count(out, "/BaseFont /Helvetica"))
}

func TestDocumentAutoClosePage(t *testing.T) {
	out := string(buildSimpleDoc(t, func(doc *Document) {
		require.NoError(t, doc.BeginPage(612, 792))
		require.NoError(t, doc.PlaceText("Page 1", 72, 720))
		// BeginPage without EndPage auto-closes.
		require.NoError(t, doc.BeginPage(612, 792))
		require.NoError(t, doc.PlaceText("Page 2", 72, 720))
		// EndDocument auto-closes the last page.
	}))
	assert.Contains(t, out, "/Count 2")
	assert.Contains(t, out, "(Page 2) Tj")
}

func TestDocumentProgrammingErrors(t *testing.T) {
	var buf bytes.Buffer
	doc, err := New(&buf)
	require.NoError(t, err)

	err = doc.PlaceText("x", 0, 0)
	assert.ErrorContains(t, err, "PlaceText")
	assert.ErrorContains(t, err, "no open page")

	err = doc.EndPage()
	assert.ErrorContains(t, err, "EndPage")

	require.NoError(t, doc.EndDocument())
	assert.ErrorContains(t, doc.EndDocument(), "twice")
	assert.Error(t, doc.BeginPage(612, 792))
}

func TestDocumentPageCount(t *testing.T) {
	var buf bytes.Buffer
	doc, err := New(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, doc.PageCount())

	require.NoError(t, doc.BeginPage(612, 792))
	assert.Equal(t, 0, doc.PageCount(), "open page not counted yet")
	require.NoError(t, doc.EndPage())
	assert.Equal(t, 1, doc.PageCount())

	require.NoError(t, doc.OpenPage(1))
	require.NoError(t, doc.EndPage())
	assert.Equal(t, 1, doc.PageCount(), "overlay edits add no pages")
	require.NoError(t, doc.EndDocument())
}

func TestDocumentOpenPageErrors(t *testing.T) {
	var buf bytes.Buffer
	doc, err := New(&buf)
	require.NoError(t, err)
	assert.Error(t, doc.OpenPage(1), "no pages yet")

	require.NoError(t, doc.BeginPage(612, 792))
	require.NoError(t, doc.EndPage())
	assert.Error(t, doc.OpenPage(0))
	assert.Error(t, doc.OpenPage(2))
	require.NoError(t, doc.OpenPage(1))
	require.NoError(t, doc.EndPage())
	require.NoError(t, doc.EndDocument())
}

// resolvePageDicts opens out with the package Reader and resolves
// every page object through the xref table, so assertions see the
// dictionary the recorded offset actually points at — for a reopened
// page that must be the superseding dict, not the stale original.
func resolvePageDicts(t *testing.T, out []byte) []map[string]string {
	t.Helper()
	r, err := FromBytes(out)
	require.NoError(t, err)
	pages, err := r.ObjectDict(2)
	require.NoError(t, err)
	var dicts []map[string]string
	for _, num := range kidRefNumbers(t, pages["Kids"]) {
		page, err := r.ObjectDict(num)
		require.NoError(t, err)
		dicts = append(dicts, page)
	}
	return dicts
}

func TestDocumentOverlayContents(t *testing.T) {
	raw := buildSimpleDoc(t, func(doc *Document) {
		for i := 1; i <= 3; i++ {
			require.NoError(t, doc.BeginPage(612, 792))
			require.NoError(t, doc.PlaceText(fmt.Sprintf("Body %d", i), 72, 700))
			require.NoError(t, doc.EndPage())
		}
		for i := 1; i <= 3; i++ {
			require.NoError(t, doc.OpenPage(i))
			require.NoError(t, doc.PlaceText(fmt.Sprintf("Page %d of 3", i), 72, 36))
			require.NoError(t, doc.EndPage())
		}
	})
	out := string(raw)

	for i := 1; i <= 3; i++ {
		assert.Contains(t, out, fmt.Sprintf("(Body %d) Tj", i))
		assert.Contains(t, out, fmt.Sprintf("(Page %d of 3) Tj", i))
	}
	// Each page dictionary was superseded with a contents array.
	assert.Equal(t, 3, strings.Count(out, "/Contents ["))

	// The xref entry for each reopened page must point at the
	// superseding dict, not the stale pre-overlay one: resolve every
	// page through the Reader and check the contents array survives.
	pages := resolvePageDicts(t, raw)
	require.Len(t, pages, 3)
	for i, page := range pages {
		contents := page["Contents"]
		assert.True(t, strings.HasPrefix(contents, "["),
			"page %d resolved /Contents %q should be an array", i+1, contents)
		assert.Equal(t, 2, strings.Count(contents, " R"),
			"page %d should reference the original and one overlay stream", i+1)
	}
}

func TestDocumentOverlayMultipleTimes(t *testing.T) {
	raw := buildSimpleDoc(t, func(doc *Document) {
		require.NoError(t, doc.BeginPage(612, 792))
		require.NoError(t, doc.PlaceText("base", 72, 700))
		require.NoError(t, doc.EndPage())
		for i := 0; i < 2; i++ {
			require.NoError(t, doc.OpenPage(1))
			require.NoError(t, doc.PlaceText(fmt.Sprintf("overlay %d", i), 72, 40+float64(i)*12))
			require.NoError(t, doc.EndPage())
		}
	})
	out := string(raw)
	assert.Contains(t, out, "(overlay 0) Tj")
	assert.Contains(t, out, "(overlay 1) Tj")

	// The page dict the xref resolves to is the last superseding one,
	// referencing all three content streams.
	pages := resolvePageDicts(t, raw)
	require.Len(t, pages, 1)
	contents := pages[0]["Contents"]
	assert.True(t, strings.HasPrefix(contents, "["))
	assert.Equal(t, 3, strings.Count(contents, " R"))
}

func TestDocumentOverlayMergesResources(t *testing.T) {
	raw := buildSimpleDoc(t, func(doc *Document) {
		require.NoError(t, doc.BeginPage(612, 792))
		require.NoError(t, doc.PlaceText("base", 72, 700))
		require.NoError(t, doc.EndPage())
		require.NoError(t, doc.OpenPage(1))
		require.NoError(t, doc.PlaceTextStyled("stamp", 72, 40, BuiltinStyle(TimesRoman, 9)))
		require.NoError(t, doc.EndPage())
	})
	// The page dict reached through the xref is the superseding one
	// and lists both the original and the overlay-only font.
	pages := resolvePageDicts(t, raw)
	require.Len(t, pages, 1)
	resources := pages[0]["Resources"]
	assert.Contains(t, resources, "/F1 ")
	assert.Contains(t, resources, "/F5 ")
	assert.True(t, strings.HasPrefix(pages[0]["Contents"], "["))
}

func TestDocumentImageDeduplication(t *testing.T) {
	jpeg := buildTestJPEG(100, 80, 3)
	out := string(buildSimpleDoc(t, func(doc *Document) {
		id, err := doc.LoadImage(jpeg)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			require.NoError(t, doc.BeginPage(612, 792))
			require.NoError(t, doc.PlaceImage(id, Rect{X: 72, Y: 72, Width: 200, Height: 150}, FitModeFit))
			require.NoError(t, doc.EndPage())
		}
	}))
	// One XObject, referenced from three pages.
	assert.Equal(t, 1, strings.Count(out, "/Filter /DCTDecode"))
	assert.Equal(t, 3, strings.Count(out, "/Im1 Do"))
}

func TestDocumentDistinctHandlesForSameBytes(t *testing.T) {
	jpeg := buildTestJPEG(10, 10, 3)
	out := string(buildSimpleDoc(t, func(doc *Document) {
		a, err := doc.LoadImage(jpeg)
		require.NoError(t, err)
		b, err := doc.LoadImage(jpeg)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
		require.NoError(t, doc.BeginPage(612, 792))
		require.NoError(t, doc.PlaceImage(a, Rect{X: 72, Y: 72, Width: 100, Height: 100}, FitModeFit))
		require.NoError(t, doc.PlaceImage(b, Rect{X: 72, Y: 300, Width: 100, Height: 100}, FitModeFit))
		require.NoError(t, doc.EndPage())
	}))
	// Two separate XObjects with stable names.
	assert.Contains(t, out, "/Im1 Do")
	assert.Contains(t, out, "/Im2 Do")
	assert.Equal(t, 2, strings.Count(out, "/Filter /DCTDecode"))
}

func TestDocumentJPEGPlacement(t *testing.T) {
	jpeg := buildTestJPEG(100, 80, 3)
	out := string(buildSimpleDoc(t, func(doc *Document) {
		id, err := doc.LoadImage(jpeg)
		require.NoError(t, err)
		require.NoError(t, doc.BeginPage(612, 792))
		require.NoError(t, doc.PlaceImage(id, Rect{X: 72, Y: 72, Width: 200, Height: 150}, FitModeFit))
		require.NoError(t, doc.EndPage())
	}))
	assert.Contains(t, out, "187.5 0 0 150 78.25 570 cm")
	assert.Contains(t, out, "/Filter /DCTDecode")
	assert.Contains(t, out, "/ColorSpace /DeviceRGB")
}

func TestDocumentPNGAlphaPlacement(t *testing.T) {
	src := buildRGBAPNG(t)
	out := string(buildSimpleDoc(t, func(doc *Document) {
		id, err := doc.LoadImage(src)
		require.NoError(t, err)
		require.NoError(t, doc.BeginPage(612, 792))
		require.NoError(t, doc.PlaceImage(id, Rect{X: 72, Y: 72, Width: 200, Height: 150}, FitModeFill))
		require.NoError(t, doc.EndPage())
	}))
	assert.Contains(t, out, "/SMask")
	assert.Contains(t, out, "/ColorSpace /DeviceGray")
	// Fill mode clips before transforming.
	clipIdx := strings.Index(out, "re\nW\nn")
	cmIdx := strings.Index(out, "cm\n")
	require.GreaterOrEqual(t, clipIdx, 0)
	assert.Less(t, clipIdx, cmIdx)
}

func TestDocumentCompressionFlatesContent(t *testing.T) {
	var buf bytes.Buffer
	doc, err := New(&buf, WithCompression(true))
	require.NoError(t, err)
	require.NoError(t, doc.BeginPage(612, 792))
	require.NoError(t, doc.PlaceText("compress me", 72, 720))
	require.NoError(t, doc.EndPage())
	require.NoError(t, doc.EndDocument())

	out := buf.String()
	assert.Contains(t, out, "/Filter /FlateDecode")
	assert.NotContains(t, out, "(compress me)")

	// The stream payload decompresses back to the original operators.
	start := strings.Index(out, "stream\n") + len("stream\n")
	end := strings.Index(out, "\nendstream")
	zr, err := zlib.NewReader(strings.NewReader(out[start:end]))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(plain), "(compress me) Tj")
}

func TestDocumentJPEGNeverDoubleCompressed(t *testing.T) {
	jpeg := buildTestJPEG(10, 10, 3)
	var buf bytes.Buffer
	doc, err := New(&buf, WithCompression(true))
	require.NoError(t, err)
	id, err := doc.LoadImage(jpeg)
	require.NoError(t, err)
	require.NoError(t, doc.BeginPage(612, 792))
	require.NoError(t, doc.PlaceImage(id, Rect{X: 72, Y: 72, Width: 100, Height: 100}, FitModeFit))
	require.NoError(t, doc.EndPage())
	require.NoError(t, doc.EndDocument())

	out := buf.String()
	idx := strings.Index(out, "/Filter /DCTDecode")
	require.GreaterOrEqual(t, idx, 0)
	// The image stream dictionary carries DCTDecode alone.
	dictStart := strings.LastIndex(out[:idx], "<<")
	dict := out[dictStart:strings.Index(out[dictStart:], "stream")+dictStart]
	assert.NotContains(t, dict, "FlateDecode")
}

func TestDocumentTrueTypeEmbedding(t *testing.T) {
	out := string(buildSimpleDoc(t, func(doc *Document) {
		ref, err := doc.LoadFont(buildTestFont())
		require.NoError(t, err)
		require.NoError(t, doc.BeginPage(612, 792))
		require.NoError(t, doc.PlaceTextStyled("ABC", 72, 720, TextStyle{Font: ref, FontSize: 14}))
		require.NoError(t, doc.EndPage())
	}))

	assert.Contains(t, out, "/Subtype /Type0")
	assert.Contains(t, out, "/Subtype /CIDFontType2")
	assert.Contains(t, out, "/Encoding /Identity-H")
	assert.Contains(t, out, "/BaseFont /TestSans-Regular")
	assert.Contains(t, out, "/FontFile2")
	assert.Contains(t, out, "/Registry (Adobe)")
	assert.Contains(t, out, "/Ordering (Identity)")
	assert.Contains(t, out, "/ToUnicode")
	assert.Contains(t, out, "/W [1 [600 650 700]]")
	assert.Contains(t, out, "/DW 500")
	assert.Contains(t, out, "<000100020003> Tj")
	assert.Contains(t, out, "/F15 14 Tf")
	assert.Contains(t, out, "beginbfchar")
}

func TestDocumentUnusedTrueTypeNotEmbedded(t *testing.T) {
	out := string(buildSimpleDoc(t, func(doc *Document) {
		_, err := doc.LoadFont(buildTestFont())
		require.NoError(t, err)
		require.NoError(t, doc.BeginPage(612, 792))
		require.NoError(t, doc.PlaceText("builtin only", 72, 720))
		require.NoError(t, doc.EndPage())
	}))
	assert.NotContains(t, out, "/FontFile2")
	assert.NotContains(t, out, "Type0")
}

func TestDocumentLoadFontRejectsGarbage(t *testing.T) {
	var buf bytes.Buffer
	doc, err := New(&buf)
	require.NoError(t, err)
	_, err = doc.LoadFont([]byte("not a font"))
	assert.Error(t, err)
	// The document stays usable after the failed load.
	require.NoError(t, doc.BeginPage(612, 792))
	require.NoError(t, doc.EndPage())
	require.NoError(t, doc.EndDocument())
}

func TestDocumentLoadImageRejectsGarbage(t *testing.T) {
	var buf bytes.Buffer
	doc, err := New(&buf)
	require.NoError(t, err)
	_, err = doc.LoadImage([]byte("BMP?"))
	assert.Error(t, err)
	require.NoError(t, doc.BeginPage(612, 792))
	require.NoError(t, doc.EndPage())
	require.NoError(t, doc.EndDocument())
}

func TestDocumentGraphicsOps(t *testing.T) {
	out := string(buildSimpleDoc(t, func(doc *Document) {
		require.NoError(t, doc.BeginPage(612, 792))
		require.NoError(t, doc.SaveState())
		require.NoError(t, doc.SetStrokeColor(RGB(0, 0, 1)))
		require.NoError(t, doc.SetLineWidth(2))
		require.NoError(t, doc.MoveTo(100, 500))
		require.NoError(t, doc.LineTo(300, 550))
		require.NoError(t, doc.Stroke())
		require.NoError(t, doc.SetFillColor(Gray(0.9)))
		require.NoError(t, doc.Rectangle(100, 600, 200, 50))
		require.NoError(t, doc.Fill())
		require.NoError(t, doc.ClosePath())
		require.NoError(t, doc.FillStroke())
		require.NoError(t, doc.RestoreState())
		require.NoError(t, doc.EndPage())
	}))
	assert.Contains(t, out, "q\n")
	assert.Contains(t, out, "0 0 1 RG")
	assert.Contains(t, out, "2 w")
	assert.Contains(t, out, "100 500 m")
	assert.Contains(t, out, "300 550 l")
	assert.Contains(t, out, "0.9 0.9 0.9 rg")
	assert.Contains(t, out, "100 600 200 50 re")
	assert.Contains(t, out, "Q\n")
}

func TestDocumentFitTextFlowAndRow(t *testing.T) {
	out := string(buildSimpleDoc(t, func(doc *Document) {
		require.NoError(t, doc.BeginPage(612, 792))

		tf := NewTextFlow()
		tf.AddText("flowing text", DefaultTextStyle())
		result, err := doc.FitTextFlow(tf, flowRect())
		require.NoError(t, err)
		assert.Equal(t, Stop, result)

		table := NewTable(234, 234)
		cursor := NewTableCursor(Rect{X: 72, Y: 400, Width: 468, Height: 300})
		result, err = doc.FitRow(table, NewRow(NewCell("Qty"), NewCell("Price")), cursor)
		require.NoError(t, err)
		assert.Equal(t, Stop, result)

		require.NoError(t, doc.EndPage())
	}))
	assert.Contains(t, out, "(flowing) Tj")
	assert.Contains(t, out, "(Qty) Tj")
	assert.Contains(t, out, "(Price) Tj")
	assert.Contains(t, out, "/F1 ")
}
