package pivotpdf

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/pivotpdftools/pivotpdf/logging"
	"github.com/pivotpdftools/pivotpdf/internal/pdf"
)

// Objects 1 and 2 are reserved up front; every other object number is
// handed out by the document's counter.
const (
	catalogObjNumber   = 1
	pagesObjNumber     = 2
	firstFreeObjNumber = 3
)

type infoEntry struct {
	key   string
	value string
}

// pageRecord is a completed page. Resource sets accumulate when the
// page is reopened for overlay edits, because the superseding page
// dictionary must list every resource any of its content streams
// touches.
type pageRecord struct {
	width, height float64
	pageID        pdf.ObjectID
	contentID     pdf.ObjectID
	overlayIDs    []pdf.ObjectID
	builtinFonts  map[BuiltinFont]struct{}
	ttFonts       map[int]struct{}
	images        map[int]struct{}
}

// pageBuilder buffers one page's content stream and tracks which
// resources that content references. editIndex is -1 for a new page
// and the completed-page index when reopened via OpenPage.
type pageBuilder struct {
	width, height float64
	content       bytes.Buffer
	usedBuiltin   map[BuiltinFont]struct{}
	usedTT        map[int]struct{}
	usedImages    map[int]struct{}
	editIndex     int
}

func newPageBuilder(width, height float64, editIndex int) *pageBuilder {
	return &pageBuilder{
		width:       width,
		height:      height,
		usedBuiltin: make(map[BuiltinFont]struct{}),
		usedTT:      make(map[int]struct{}),
		usedImages:  make(map[int]struct{}),
		editIndex:   editIndex,
	}
}

// ttObjectSet holds the five object IDs reserved for one embedded
// TrueType face. IDs are reserved at the face's first use; the objects
// themselves are written at EndDocument.
type ttObjectSet struct {
	type0      pdf.ObjectID
	cidFont    pdf.ObjectID
	descriptor pdf.ObjectID
	fontFile   pdf.ObjectID
	toUnicode  pdf.ObjectID
}

// imageObjectSet holds the object IDs for one embedded image.
type imageObjectSet struct {
	xobject pdf.ObjectID
	smask   *pdf.ObjectID
}

// Document builds a PDF incrementally against a byte sink.
//
// Pages are flushed by EndPage: the content stream, any newly used
// font and image objects, and the page dictionary are written out and
// the page buffer is released, so peak memory stays proportional to a
// single page. Deferred TrueType font objects are written by
// EndDocument.
//
// A Document is single-owner and not safe for concurrent use.
type Document struct {
	writer *pdf.Writer
	// Set by Create: flushed and closed by EndDocument.
	buffered *bufio.Writer
	file     *os.File

	info        []infoEntry
	pages       []*pageRecord
	current     *pageBuilder
	nextObjNum  uint32
	compress    bool
	ended       bool

	builtinFontIDs map[BuiltinFont]pdf.ObjectID
	ttFonts        []*TrueTypeFont
	ttObjects      map[int]ttObjectSet
	images         []*imageData
	imageNames     []string
	imageObjects   map[int]imageObjectSet
	writtenImages  map[int]struct{}
}

// Option configures a Document at construction.
type Option func(*Document)

// WithCompression enables or disables FlateDecode on stream payloads.
func WithCompression(on bool) Option {
	return func(d *Document) { d.compress = on }
}

// New starts a document against w and immediately writes the PDF
// header. The caller keeps ownership of w; EndDocument finishes the
// file.
func New(w io.Writer, opts ...Option) (*Document, error) {
	d := &Document{
		writer:         pdf.NewWriter(w),
		nextObjNum:     firstFreeObjNumber,
		builtinFontIDs: make(map[BuiltinFont]pdf.ObjectID),
		ttObjects:      make(map[int]ttObjectSet),
		imageObjects:   make(map[int]imageObjectSet),
		writtenImages:  make(map[int]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.writer.WriteHeader(); err != nil {
		return nil, err
	}
	return d, nil
}

// Create starts a document writing to a new file at path. EndDocument
// flushes and closes the file.
func Create(path string, opts ...Option) (*Document, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(f)
	d, err := New(buf, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	d.buffered = buf
	d.file = f
	return d, nil
}

// SetCompression toggles FlateDecode for streams written after the
// call. Streams already flushed keep their encoding.
func (d *Document) SetCompression(on bool) {
	d.compress = on
}

// SetInfo appends a document information entry (e.g. "Creator",
// "Title"). Entries keep insertion order.
func (d *Document) SetInfo(key, value string) {
	d.info = append(d.info, infoEntry{key: key, value: value})
}

// PageCount returns the number of completed pages. Pages reopened for
// overlay edits are not counted again.
func (d *Document) PageCount() int {
	return len(d.pages)
}

func (d *Document) allocateObject() pdf.ObjectID {
	id := pdf.NewObjectID(d.nextObjNum)
	d.nextObjNum++
	return id
}

func (d *Document) openPageBuilder(op string) (*pageBuilder, error) {
	if d.ended {
		return nil, errors.Errorf("pivotpdf: %s called on ended document", op)
	}
	if d.current == nil {
		return nil, errors.Errorf("pivotpdf: %s called with no open page", op)
	}
	return d.current, nil
}

// BeginPage starts a new page with the given dimensions in points. An
// open page is closed automatically first.
func (d *Document) BeginPage(width, height float64) error {
	if d.ended {
		return errors.New("pivotpdf: BeginPage called on ended document")
	}
	if d.current != nil {
		if err := d.EndPage(); err != nil {
			return err
		}
	}
	d.current = newPageBuilder(width, height, -1)
	return nil
}

// OpenPage reopens completed page n (1-based) for overlay edits.
// Content placed until the next EndPage is appended as an additional
// content stream; the page dictionary is superseded with a /Contents
// array and merged resources. The same page may be reopened any number
// of times.
func (d *Document) OpenPage(n int) error {
	if d.ended {
		return errors.New("pivotpdf: OpenPage called on ended document")
	}
	if n < 1 || n > len(d.pages) {
		return errors.Errorf("pivotpdf: OpenPage index %d out of range (document has %d pages)", n, len(d.pages))
	}
	if d.current != nil {
		if err := d.EndPage(); err != nil {
			return err
		}
	}
	rec := d.pages[n-1]
	d.current = newPageBuilder(rec.width, rec.height, n-1)
	logging.Logger().Debug("reopened page for overlay", "page", n)
	return nil
}

// PlaceText places text at (x, y) in 12pt Helvetica. Coordinates use
// PDF's bottom-left origin.
func (d *Document) PlaceText(text string, x, y float64) error {
	page, err := d.openPageBuilder("PlaceText")
	if err != nil {
		return err
	}
	fmt.Fprintf(&page.content, "BT\n/F1 12 Tf\n%s %s Td\n(%s) Tj\nET\n",
		pdf.FormatCoord(x), pdf.FormatCoord(y), pdf.EscapeString(text))
	page.usedBuiltin[Helvetica] = struct{}{}
	return nil
}

// PlaceTextStyled places text at (x, y) with an explicit style.
func (d *Document) PlaceTextStyled(text string, x, y float64, style TextStyle) error {
	page, err := d.openPageBuilder("PlaceTextStyled")
	if err != nil {
		return err
	}
	if style.Font.IsTrueType() {
		if err := d.checkTTIndex(style.Font.TrueTypeIndex()); err != nil {
			return err
		}
	}
	fmt.Fprintf(&page.content, "BT\n/%s %s Tf\n%s %s Td\n",
		fontResourceName(style.Font, d.ttFonts), pdf.FormatCoord(style.FontSize),
		pdf.FormatCoord(x), pdf.FormatCoord(y))
	if style.Font.IsTrueType() {
		fmt.Fprintf(&page.content, "%s Tj\nET\n", d.ttFonts[style.Font.TrueTypeIndex()].encodeTextHex(text))
		page.usedTT[style.Font.TrueTypeIndex()] = struct{}{}
	} else {
		fmt.Fprintf(&page.content, "(%s) Tj\nET\n", pdf.EscapeString(text))
		page.usedBuiltin[style.Font.Builtin()] = struct{}{}
	}
	return nil
}

// FitTextFlow lays out as much of tf as fits into rect on the open
// page. The flow's cursor advances past the placed words, so calling
// again on a later page continues the text. On BoxEmpty nothing is
// appended.
func (d *Document) FitTextFlow(tf *TextFlow, rect Rect) (FitResult, error) {
	page, err := d.openPageBuilder("FitTextFlow")
	if err != nil {
		return BoxEmpty, err
	}
	ops, result, used := tf.generateContentOps(rect, d.ttFonts)
	page.content.Write(ops)
	d.recordUsedFonts(page, used)
	return result, nil
}

// FitRow places one table row at cursor on the open page. See
// TableCursor for the paging protocol.
func (d *Document) FitRow(table *Table, row Row, cursor *TableCursor) (FitResult, error) {
	page, err := d.openPageBuilder("FitRow")
	if err != nil {
		return BoxEmpty, err
	}
	ops, result, used := table.generateRowOps(row, cursor, d.ttFonts)
	page.content.Write(ops)
	d.recordUsedFonts(page, used)
	return result, nil
}

func (d *Document) recordUsedFonts(page *pageBuilder, used UsedFonts) {
	for f := range used.Builtin {
		page.usedBuiltin[f] = struct{}{}
	}
	for i := range used.TrueType {
		page.usedTT[i] = struct{}{}
	}
}

// LoadFont parses TrueType font bytes and registers the face with the
// document. The full font file is embedded at EndDocument if any page
// uses the face.
func (d *Document) LoadFont(data []byte) (FontRef, error) {
	if d.ended {
		return FontRef{}, errors.New("pivotpdf: LoadFont called on ended document")
	}
	face, err := parseFace(data)
	if err != nil {
		return FontRef{}, err
	}
	index := len(d.ttFonts)
	d.ttFonts = append(d.ttFonts, newTrueTypeFont(face, index))
	logging.Logger().Debug("loaded TrueType face",
		"postscript_name", face.PostScriptName, "resource", d.ttFonts[index].ResourceName())
	return FontRef{truetype: true, ttIndex: index}, nil
}

// LoadFontFile reads path and calls LoadFont.
func (d *Document) LoadFontFile(path string) (FontRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FontRef{}, errors.Wrapf(err, "read font file %s", path)
	}
	return d.LoadFont(data)
}

// TrueTypeFontAt exposes a loaded face for measurement.
func (d *Document) TrueTypeFontAt(ref FontRef) (*TrueTypeFont, error) {
	if !ref.IsTrueType() {
		return nil, errors.New("pivotpdf: font reference is not TrueType")
	}
	if err := d.checkTTIndex(ref.TrueTypeIndex()); err != nil {
		return nil, err
	}
	return d.ttFonts[ref.TrueTypeIndex()], nil
}

func (d *Document) checkTTIndex(i int) error {
	if i < 0 || i >= len(d.ttFonts) {
		return errors.Errorf("pivotpdf: unknown TrueType font index %d", i)
	}
	return nil
}

// LoadImage decodes JPEG or PNG bytes and registers the image. Each
// call produces a distinct handle even for identical bytes; one handle
// placed on many pages embeds its XObject once.
func (d *Document) LoadImage(data []byte) (ImageID, error) {
	if d.ended {
		return 0, errors.New("pivotpdf: LoadImage called on ended document")
	}
	img, err := loadImageData(data)
	if err != nil {
		return 0, err
	}
	index := len(d.images)
	d.images = append(d.images, img)
	d.imageNames = append(d.imageNames, fmt.Sprintf("Im%d", index+1))
	return ImageID(index), nil
}

// LoadImageFile reads path and calls LoadImage.
func (d *Document) LoadImageFile(path string) (ImageID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "read image file %s", path)
	}
	return d.LoadImage(data)
}

// PlaceImage draws a loaded image into rect under the given fit mode.
func (d *Document) PlaceImage(id ImageID, rect Rect, fit FitMode) error {
	page, err := d.openPageBuilder("PlaceImage")
	if err != nil {
		return err
	}
	index := int(id)
	if index < 0 || index >= len(d.images) {
		return errors.Errorf("pivotpdf: unknown image handle %d", index)
	}
	img := d.images[index]
	placement := CalculatePlacement(img.width, img.height, rect, fit, page.height)

	page.content.WriteString("q\n")
	if placement.Clip != nil {
		fmt.Fprintf(&page.content, "%s %s %s %s re\nW\nn\n",
			pdf.FormatCoord(placement.Clip.X), pdf.FormatCoord(placement.Clip.Y),
			pdf.FormatCoord(placement.Clip.Width), pdf.FormatCoord(placement.Clip.Height))
	}
	fmt.Fprintf(&page.content, "%s 0 0 %s %s %s cm\n",
		pdf.FormatCoord(placement.Width), pdf.FormatCoord(placement.Height),
		pdf.FormatCoord(placement.X), pdf.FormatCoord(placement.Y))
	fmt.Fprintf(&page.content, "/%s Do\nQ\n", d.imageNames[index])

	page.usedImages[index] = struct{}{}
	return nil
}

// Graphics operators. Each appends to the open page's content stream;
// colors and widths persist until changed or restored by RestoreState.

// SaveState pushes the graphics state (q).
func (d *Document) SaveState() error { return d.appendOp("SaveState", "q\n") }

// RestoreState pops the graphics state (Q).
func (d *Document) RestoreState() error { return d.appendOp("RestoreState", "Q\n") }

// SetStrokeColor sets the stroking color.
func (d *Document) SetStrokeColor(c Color) error {
	return d.appendOp("SetStrokeColor", fmt.Sprintf("%s %s %s RG\n",
		pdf.FormatCoord(c.R), pdf.FormatCoord(c.G), pdf.FormatCoord(c.B)))
}

// SetFillColor sets the non-stroking color.
func (d *Document) SetFillColor(c Color) error {
	return d.appendOp("SetFillColor", fmt.Sprintf("%s %s %s rg\n",
		pdf.FormatCoord(c.R), pdf.FormatCoord(c.G), pdf.FormatCoord(c.B)))
}

// SetLineWidth sets the stroke width in points.
func (d *Document) SetLineWidth(width float64) error {
	return d.appendOp("SetLineWidth", fmt.Sprintf("%s w\n", pdf.FormatCoord(width)))
}

// MoveTo starts a new subpath at (x, y).
func (d *Document) MoveTo(x, y float64) error {
	return d.appendOp("MoveTo", fmt.Sprintf("%s %s m\n", pdf.FormatCoord(x), pdf.FormatCoord(y)))
}

// LineTo appends a straight segment to (x, y).
func (d *Document) LineTo(x, y float64) error {
	return d.appendOp("LineTo", fmt.Sprintf("%s %s l\n", pdf.FormatCoord(x), pdf.FormatCoord(y)))
}

// ClosePath closes the current subpath.
func (d *Document) ClosePath() error { return d.appendOp("ClosePath", "h\n") }

// Rectangle appends a rectangle subpath. Coordinates are PDF
// bottom-left.
func (d *Document) Rectangle(x, y, width, height float64) error {
	return d.appendOp("Rectangle", fmt.Sprintf("%s %s %s %s re\n",
		pdf.FormatCoord(x), pdf.FormatCoord(y), pdf.FormatCoord(width), pdf.FormatCoord(height)))
}

// Stroke strokes the current path.
func (d *Document) Stroke() error { return d.appendOp("Stroke", "S\n") }

// Fill fills the current path.
func (d *Document) Fill() error { return d.appendOp("Fill", "f\n") }

// FillStroke fills then strokes the current path.
func (d *Document) FillStroke() error { return d.appendOp("FillStroke", "B\n") }

func (d *Document) appendOp(op, ops string) error {
	page, err := d.openPageBuilder(op)
	if err != nil {
		return err
	}
	page.content.WriteString(ops)
	return nil
}

// EndPage closes the open page: newly used font and image objects are
// written, then the content stream, then the page dictionary. The page
// buffer is released.
func (d *Document) EndPage() error {
	if d.ended {
		return errors.New("pivotpdf: EndPage called on ended document")
	}
	page := d.current
	if page == nil {
		return errors.New("pivotpdf: EndPage called with no open page")
	}
	d.current = nil

	if err := d.writePageResources(page); err != nil {
		return err
	}
	if page.editIndex >= 0 {
		return d.endOverlayPage(page)
	}
	return d.endNewPage(page)
}

// writePageResources flushes resource objects the page requires:
// built-in font dictionaries (written once on first use), TrueType
// object ID reservations (objects deferred to EndDocument), and image
// XObject streams (written once on first use, SMask first).
func (d *Document) writePageResources(page *pageBuilder) error {
	for _, f := range sortedBuiltins(page.usedBuiltin) {
		if _, done := d.builtinFontIDs[f]; done {
			continue
		}
		id := d.allocateObject()
		obj := pdf.Dict{
			pdf.Entry("Type", pdf.Name("Font")),
			pdf.Entry("Subtype", pdf.Name("Type1")),
			pdf.Entry("BaseFont", pdf.Name(f.BaseName())),
		}
		if err := d.writer.WriteObject(id, obj); err != nil {
			return err
		}
		d.builtinFontIDs[f] = id
	}

	for _, i := range sortedInts(page.usedTT) {
		if _, done := d.ttObjects[i]; done {
			continue
		}
		d.ttObjects[i] = ttObjectSet{
			type0:      d.allocateObject(),
			cidFont:    d.allocateObject(),
			descriptor: d.allocateObject(),
			fontFile:   d.allocateObject(),
			toUnicode:  d.allocateObject(),
		}
	}

	for _, i := range sortedInts(page.usedImages) {
		if _, done := d.writtenImages[i]; done {
			continue
		}
		if err := d.writeImageObjects(i); err != nil {
			return err
		}
		d.writtenImages[i] = struct{}{}
	}
	return nil
}

func (d *Document) writeImageObjects(index int) error {
	img := d.images[index]
	var set imageObjectSet

	if img.smask != nil {
		smaskID := d.allocateObject()
		set.smask = &smaskID
		dict := pdf.Dict{
			pdf.Entry("Type", pdf.Name("XObject")),
			pdf.Entry("Subtype", pdf.Name("Image")),
			pdf.Entry("Width", pdf.Integer(img.width)),
			pdf.Entry("Height", pdf.Integer(img.height)),
			pdf.Entry("ColorSpace", pdf.Name("DeviceGray")),
			pdf.Entry("BitsPerComponent", pdf.Integer(img.bitsPerComponent)),
		}
		data := img.smask
		if d.compress {
			compressed, err := flateCompress(data)
			if err != nil {
				return err
			}
			data = compressed
			dict = append(dict, pdf.Entry("Filter", pdf.Name("FlateDecode")))
		}
		if err := d.writer.WriteObject(smaskID, pdf.Stream{Dict: dict, Data: data}); err != nil {
			return err
		}
	}

	xobjectID := d.allocateObject()
	set.xobject = xobjectID
	dict := pdf.Dict{
		pdf.Entry("Type", pdf.Name("XObject")),
		pdf.Entry("Subtype", pdf.Name("Image")),
		pdf.Entry("Width", pdf.Integer(img.width)),
		pdf.Entry("Height", pdf.Integer(img.height)),
		pdf.Entry("ColorSpace", pdf.Name(img.colorSpace.pdfName())),
		pdf.Entry("BitsPerComponent", pdf.Integer(img.bitsPerComponent)),
	}
	data := img.data
	if img.format == FormatJPEG {
		// JPEG embeds as-is; never double-wrapped with FlateDecode.
		dict = append(dict, pdf.Entry("Filter", pdf.Name("DCTDecode")))
	} else if d.compress {
		compressed, err := flateCompress(data)
		if err != nil {
			return err
		}
		data = compressed
		dict = append(dict, pdf.Entry("Filter", pdf.Name("FlateDecode")))
	}
	if set.smask != nil {
		dict = append(dict, pdf.Entry("SMask", pdf.RefTo(*set.smask)))
	}
	if err := d.writer.WriteObject(xobjectID, pdf.Stream{Dict: dict, Data: data}); err != nil {
		return err
	}

	d.imageObjects[index] = set
	logging.Logger().Debug("wrote image XObject",
		"resource", d.imageNames[index], "width", img.width, "height", img.height,
		"smask", img.smask != nil)
	return nil
}

func (d *Document) writeContentStream(content []byte) (pdf.ObjectID, error) {
	id := d.allocateObject()
	var dict pdf.Dict
	data := content
	if d.compress {
		compressed, err := flateCompress(data)
		if err != nil {
			return pdf.ObjectID{}, err
		}
		data = compressed
		dict = append(dict, pdf.Entry("Filter", pdf.Name("FlateDecode")))
	}
	if err := d.writer.WriteObject(id, pdf.Stream{Dict: dict, Data: data}); err != nil {
		return pdf.ObjectID{}, err
	}
	return id, nil
}

func (d *Document) endNewPage(page *pageBuilder) error {
	contentID, err := d.writeContentStream(page.content.Bytes())
	if err != nil {
		return err
	}

	rec := &pageRecord{
		width:        page.width,
		height:       page.height,
		pageID:       d.allocateObject(),
		contentID:    contentID,
		builtinFonts: page.usedBuiltin,
		ttFonts:      page.usedTT,
		images:       page.usedImages,
	}
	if err := d.writer.WriteObject(rec.pageID, d.pageDict(rec)); err != nil {
		return err
	}
	d.pages = append(d.pages, rec)
	logging.Logger().Debug("flushed page",
		"page", len(d.pages), "content_bytes", page.content.Len())
	return nil
}

func (d *Document) endOverlayPage(page *pageBuilder) error {
	overlayID, err := d.writeContentStream(page.content.Bytes())
	if err != nil {
		return err
	}

	rec := d.pages[page.editIndex]
	rec.overlayIDs = append(rec.overlayIDs, overlayID)
	for f := range page.usedBuiltin {
		rec.builtinFonts[f] = struct{}{}
	}
	for i := range page.usedTT {
		rec.ttFonts[i] = struct{}{}
	}
	for i := range page.usedImages {
		rec.images[i] = struct{}{}
	}

	// Supersede the page dictionary: same object number, new offset.
	// The xref keeps the final offset.
	if err := d.writer.WriteObject(rec.pageID, d.pageDict(rec)); err != nil {
		return err
	}
	logging.Logger().Debug("flushed overlay",
		"page", page.editIndex+1, "overlays", len(rec.overlayIDs))
	return nil
}

// pageDict builds a page dictionary from a record. /Contents is a
// direct reference for plain pages and an array once overlays exist.
func (d *Document) pageDict(rec *pageRecord) pdf.Dict {
	var contents pdf.Object
	if len(rec.overlayIDs) == 0 {
		contents = pdf.RefTo(rec.contentID)
	} else {
		arr := pdf.Array{pdf.RefTo(rec.contentID)}
		for _, id := range rec.overlayIDs {
			arr = append(arr, pdf.RefTo(id))
		}
		contents = arr
	}

	dict := pdf.Dict{
		pdf.Entry("Type", pdf.Name("Page")),
		pdf.Entry("Parent", pdf.Ref(pagesObjNumber)),
		pdf.Entry("MediaBox", pdf.Array{
			pdf.Integer(0), pdf.Integer(0),
			pdf.Real(rec.width), pdf.Real(rec.height),
		}),
		pdf.Entry("Contents", contents),
		pdf.Entry("Resources", d.resourceDict(rec)),
	}
	return dict
}

// resourceDict lists exactly the fonts and images the page's content
// streams reference.
func (d *Document) resourceDict(rec *pageRecord) pdf.Dict {
	var resources pdf.Dict

	var fontDict pdf.Dict
	for _, f := range sortedBuiltins(rec.builtinFonts) {
		fontDict = append(fontDict, pdf.Entry(f.ResourceName(), pdf.RefTo(d.builtinFontIDs[f])))
	}
	for _, i := range sortedInts(rec.ttFonts) {
		fontDict = append(fontDict, pdf.Entry(d.ttFonts[i].ResourceName(), pdf.RefTo(d.ttObjects[i].type0)))
	}
	if fontDict != nil {
		resources = append(resources, pdf.Entry("Font", fontDict))
	}

	var xobjectDict pdf.Dict
	for _, i := range sortedInts(rec.images) {
		xobjectDict = append(xobjectDict, pdf.Entry(d.imageNames[i], pdf.RefTo(d.imageObjects[i].xobject)))
	}
	if xobjectDict != nil {
		resources = append(resources, pdf.Entry("XObject", xobjectDict))
	}

	if resources == nil {
		resources = pdf.Dict{}
	}
	return resources
}

// EndDocument finishes the file: any open page is closed, deferred
// TrueType font objects are written, then the info dictionary, the
// pages tree, the catalog, and the xref table with trailer. The
// document cannot be used afterwards.
func (d *Document) EndDocument() error {
	if d.ended {
		return errors.New("pivotpdf: EndDocument called twice")
	}
	if d.current != nil {
		if err := d.EndPage(); err != nil {
			return err
		}
	}
	d.ended = true

	if err := d.writeDeferredFonts(); err != nil {
		return err
	}

	var infoID *pdf.ObjectID
	if len(d.info) > 0 {
		id := d.allocateObject()
		var dict pdf.Dict
		for _, e := range d.info {
			dict = append(dict, pdf.Entry(e.key, pdf.String(e.value)))
		}
		if err := d.writer.WriteObject(id, dict); err != nil {
			return err
		}
		infoID = &id
	}

	kids := make(pdf.Array, 0, len(d.pages))
	for _, rec := range d.pages {
		kids = append(kids, pdf.RefTo(rec.pageID))
	}
	pagesDict := pdf.Dict{
		pdf.Entry("Type", pdf.Name("Pages")),
		pdf.Entry("Kids", kids),
		pdf.Entry("Count", pdf.Integer(len(d.pages))),
	}
	if err := d.writer.WriteObject(pdf.NewObjectID(pagesObjNumber), pagesDict); err != nil {
		return err
	}

	catalog := pdf.Dict{
		pdf.Entry("Type", pdf.Name("Catalog")),
		pdf.Entry("Pages", pdf.Ref(pagesObjNumber)),
	}
	if err := d.writer.WriteObject(pdf.NewObjectID(catalogObjNumber), catalog); err != nil {
		return err
	}

	if err := d.writer.WriteXrefAndTrailer(pdf.NewObjectID(catalogObjNumber), infoID); err != nil {
		return err
	}

	if d.buffered != nil {
		if err := d.buffered.Flush(); err != nil {
			return err
		}
	}
	if d.file != nil {
		if err := d.file.Close(); err != nil {
			return err
		}
	}
	logging.Logger().Debug("finished document",
		"pages", len(d.pages), "bytes", d.writer.CurrentOffset())
	return nil
}

// writeDeferredFonts emits the five-object stack for every TrueType
// face that was used: FontFile2, FontDescriptor, CIDFontType2,
// ToUnicode, and the Type0 wrapper, in that order.
func (d *Document) writeDeferredFonts() error {
	for _, index := range sortedInts(toSet(d.ttObjects)) {
		font := d.ttFonts[index]
		set := d.ttObjects[index]

		// FontFile2: the raw font bytes, embedded whole.
		fontData := font.face.RawData
		fileDict := pdf.Dict{
			pdf.Entry("Length1", pdf.Integer(len(fontData))),
		}
		if d.compress {
			compressed, err := flateCompress(fontData)
			if err != nil {
				return err
			}
			fontData = compressed
			fileDict = append(fileDict, pdf.Entry("Filter", pdf.Name("FlateDecode")))
		}
		if err := d.writer.WriteObject(set.fontFile, pdf.Stream{Dict: fileDict, Data: fontData}); err != nil {
			return err
		}

		descriptor := pdf.Dict{
			pdf.Entry("Type", pdf.Name("FontDescriptor")),
			pdf.Entry("FontName", pdf.Name(font.PostScriptName())),
			pdf.Entry("Flags", pdf.Integer(font.descriptorFlags())),
			pdf.Entry("FontBBox", font.fontBBox()),
			pdf.Entry("ItalicAngle", pdf.Real(font.face.ItalicAngle)),
			pdf.Entry("Ascent", pdf.Integer(font.scaleToPDF(int(font.face.Ascender)))),
			pdf.Entry("Descent", pdf.Integer(font.scaleToPDF(int(font.face.Descender)))),
			pdf.Entry("CapHeight", pdf.Integer(font.scaleToPDF(int(font.face.CapHeight)))),
			pdf.Entry("StemV", pdf.Integer(font.stemV())),
			pdf.Entry("FontFile2", pdf.RefTo(set.fontFile)),
		}
		if err := d.writer.WriteObject(set.descriptor, descriptor); err != nil {
			return err
		}

		cidFont := pdf.Dict{
			pdf.Entry("Type", pdf.Name("Font")),
			pdf.Entry("Subtype", pdf.Name("CIDFontType2")),
			pdf.Entry("BaseFont", pdf.Name(font.PostScriptName())),
			pdf.Entry("CIDSystemInfo", pdf.Dict{
				pdf.Entry("Registry", pdf.String("Adobe")),
				pdf.Entry("Ordering", pdf.String("Identity")),
				pdf.Entry("Supplement", pdf.Integer(0)),
			}),
			pdf.Entry("FontDescriptor", pdf.RefTo(set.descriptor)),
			pdf.Entry("DW", pdf.Integer(font.defaultWidthPDF())),
			pdf.Entry("W", font.wArray()),
		}
		if err := d.writer.WriteObject(set.cidFont, cidFont); err != nil {
			return err
		}

		cmapData := font.toUnicodeCMap()
		var cmapDict pdf.Dict
		if d.compress {
			compressed, err := flateCompress(cmapData)
			if err != nil {
				return err
			}
			cmapData = compressed
			cmapDict = append(cmapDict, pdf.Entry("Filter", pdf.Name("FlateDecode")))
		}
		if err := d.writer.WriteObject(set.toUnicode, pdf.Stream{Dict: cmapDict, Data: cmapData}); err != nil {
			return err
		}

		type0 := pdf.Dict{
			pdf.Entry("Type", pdf.Name("Font")),
			pdf.Entry("Subtype", pdf.Name("Type0")),
			pdf.Entry("BaseFont", pdf.Name(font.PostScriptName())),
			pdf.Entry("Encoding", pdf.Name("Identity-H")),
			pdf.Entry("DescendantFonts", pdf.Array{pdf.RefTo(set.cidFont)}),
			pdf.Entry("ToUnicode", pdf.RefTo(set.toUnicode)),
		}
		if err := d.writer.WriteObject(set.type0, type0); err != nil {
			return err
		}

		logging.Logger().Debug("embedded TrueType font",
			"resource", font.ResourceName(), "glyphs_used", len(font.usedGlyphs))
	}
	return nil
}

// flateCompress is the zlib compression collaborator: zlib-wrapped
// DEFLATE over the whole payload.
func flateCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sortedBuiltins(set map[BuiltinFont]struct{}) []BuiltinFont {
	out := make([]BuiltinFont, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedInts(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func toSet(m map[int]ttObjectSet) map[int]struct{} {
	out := make(map[int]struct{}, len(m))
	for i := range m {
		out[i] = struct{}{}
	}
	return out
}
