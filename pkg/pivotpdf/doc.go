// Package pivotpdf generates PDF 1.7 documents programmatically.
//
// The package writes a conformant byte stream with incremental page
// flushing, supports the 14 built-in fonts and embedded TrueType
// fonts, JPEG and PNG images (including alpha via SMask), vector
// graphics, multi-page styled text flow, and streaming table layout.
// A minimal reader parses the cross-reference table of finished files
// to count pages.
//
// # Quick Start
//
//	var buf bytes.Buffer
//	doc, err := pivotpdf.New(&buf)
//	if err != nil {
//	    return err
//	}
//	doc.SetInfo("Title", "Hello")
//	doc.BeginPage(612, 792)
//	doc.PlaceText("Hello, world!", 72, 720)
//	doc.EndPage()
//	if err := doc.EndDocument(); err != nil {
//	    return err
//	}
//
// # Text Flow
//
// A TextFlow carries styled spans and a cursor. Fit it into a rect on
// each page until it reports Stop:
//
//	tf := pivotpdf.NewTextFlow()
//	tf.AddText("Lorem ipsum ...", pivotpdf.DefaultTextStyle())
//	rect := pivotpdf.Rect{X: 72, Y: 720, Width: 468, Height: 648}
//	for {
//	    doc.BeginPage(612, 792)
//	    result, _ := doc.FitTextFlow(tf, rect)
//	    doc.EndPage()
//	    if result != pivotpdf.BoxFull {
//	        break
//	    }
//	}
//
// # Tables
//
// Tables stream row by row: the caller owns the row source and feeds
// FitRow until it reports BoxFull, then turns the page and resets the
// cursor. TableCursor.IsFirstRow detects a fresh page for repeating a
// header row.
//
// # Overlay Edits
//
// OpenPage reopens a completed page; content placed before the next
// EndPage is appended as an additional content stream. This is how
// "Page N of M" footers are stamped after the page total is known.
//
// # Ownership
//
// A Document exclusively owns its byte sink and all loaded fonts and
// images. Fonts and images are addressed by cheap handles (FontRef,
// ImageID); TextFlow spans and table cells never hold owning
// references. Documents are not safe for concurrent use.
package pivotpdf
