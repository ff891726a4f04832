package pivotpdf_test

import (
	"bytes"
	"fmt"
	"log"
	"strings"

	"github.com/pivotpdftools/pivotpdf/pkg/pivotpdf"
)

// Build a one-page document and read it back with the package's own
// reader.
func Example() {
	var buf bytes.Buffer
	doc, err := pivotpdf.New(&buf)
	if err != nil {
		log.Fatal(err)
	}
	doc.SetInfo("Title", "Hello")
	if err := doc.BeginPage(612, 792); err != nil {
		log.Fatal(err)
	}
	if err := doc.PlaceText("Hello, world!", 72, 720); err != nil {
		log.Fatal(err)
	}
	if err := doc.EndPage(); err != nil {
		log.Fatal(err)
	}
	if err := doc.EndDocument(); err != nil {
		log.Fatal(err)
	}

	r, err := pivotpdf.FromBytes(buf.Bytes())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(r.Version(), r.PageCount())
	// Output: 1.7 1
}

// Flow a long text across as many pages as it needs.
func ExampleTextFlow() {
	var buf bytes.Buffer
	doc, err := pivotpdf.New(&buf)
	if err != nil {
		log.Fatal(err)
	}

	tf := pivotpdf.NewTextFlow()
	tf.AddText("Releases\n", pivotpdf.BuiltinStyle(pivotpdf.HelveticaBold, 14))
	tf.AddText(strings.Repeat("All changes ship behind a flag first. ", 400),
		pivotpdf.DefaultTextStyle())

	rect := pivotpdf.Rect{X: 72, Y: 720, Width: 468, Height: 648}
	for {
		if err := doc.BeginPage(612, 792); err != nil {
			log.Fatal(err)
		}
		result, err := doc.FitTextFlow(tf, rect)
		if err != nil {
			log.Fatal(err)
		}
		if err := doc.EndPage(); err != nil {
			log.Fatal(err)
		}
		if result != pivotpdf.BoxFull {
			break
		}
	}
	if err := doc.EndDocument(); err != nil {
		log.Fatal(err)
	}

	fmt.Println(doc.PageCount() > 1)
	// Output: true
}

// Stream table rows page by page, repeating the header row whenever a
// fresh page starts.
func ExampleTableCursor() {
	var buf bytes.Buffer
	doc, err := pivotpdf.New(&buf)
	if err != nil {
		log.Fatal(err)
	}

	table := pivotpdf.NewTable(234, 234)
	header := pivotpdf.NewRow(pivotpdf.NewCell("SKU"), pivotpdf.NewCell("Stock"))
	rect := pivotpdf.Rect{X: 72, Y: 720, Width: 468, Height: 648}
	cursor := pivotpdf.NewTableCursor(rect)

	rows := make([]pivotpdf.Row, 80)
	for i := range rows {
		rows[i] = pivotpdf.NewRow(
			pivotpdf.NewCell(fmt.Sprintf("SKU-%03d", i)),
			pivotpdf.NewCell(fmt.Sprintf("%d", i*3%97)),
		)
	}

	if err := doc.BeginPage(612, 792); err != nil {
		log.Fatal(err)
	}
	if _, err := doc.FitRow(table, header, cursor); err != nil {
		log.Fatal(err)
	}
	placed := 0
	for i := 0; i < len(rows); {
		result, err := doc.FitRow(table, rows[i], cursor)
		if err != nil {
			log.Fatal(err)
		}
		switch result {
		case pivotpdf.Stop:
			placed++
			i++
		case pivotpdf.BoxFull:
			if err := doc.EndPage(); err != nil {
				log.Fatal(err)
			}
			if err := doc.BeginPage(612, 792); err != nil {
				log.Fatal(err)
			}
			cursor.Reset(rect)
			if _, err := doc.FitRow(table, header, cursor); err != nil {
				log.Fatal(err)
			}
		}
	}
	if err := doc.EndPage(); err != nil {
		log.Fatal(err)
	}
	if err := doc.EndDocument(); err != nil {
		log.Fatal(err)
	}

	fmt.Println(placed)
	// Output: 80
}

// Stamp "Page N of M" once the page total is known.
func ExampleDocument_OpenPage() {
	var buf bytes.Buffer
	doc, err := pivotpdf.New(&buf)
	if err != nil {
		log.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := doc.BeginPage(612, 792); err != nil {
			log.Fatal(err)
		}
		if err := doc.PlaceText("body", 72, 700); err != nil {
			log.Fatal(err)
		}
		if err := doc.EndPage(); err != nil {
			log.Fatal(err)
		}
	}

	total := doc.PageCount()
	for i := 1; i <= total; i++ {
		if err := doc.OpenPage(i); err != nil {
			log.Fatal(err)
		}
		if err := doc.PlaceText(fmt.Sprintf("Page %d of %d", i, total), 270, 36); err != nil {
			log.Fatal(err)
		}
		if err := doc.EndPage(); err != nil {
			log.Fatal(err)
		}
	}
	if err := doc.EndDocument(); err != nil {
		log.Fatal(err)
	}

	fmt.Println(total)
	// Output: 3
}
