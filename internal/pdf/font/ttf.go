// Package font parses TrueType font files into the face data needed
// for Type0/CIDFontType2 embedding: global metrics, the Unicode
// character map, and per-glyph advance widths.
//
// Only the sfnt tables this library consumes are read: head, hhea,
// maxp, hmtx, cmap (formats 4 and 12, Unicode subtables), name, OS/2,
// and post. The raw font bytes are retained for FontFile2 embedding.
package font

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Face holds the parsed data for one TrueType face.
type Face struct {
	PostScriptName string
	FamilyName     string

	UnitsPerEm  uint16
	Ascender    int16
	Descender   int16 // negative
	CapHeight   int16
	ItalicAngle float64
	WeightClass uint16
	BBox        [4]int16 // xMin, yMin, xMax, yMax

	IsFixedPitch bool
	IsItalic     bool

	NumGlyphs uint16
	// Advance width in font units per glyph ID.
	GlyphWidths []uint16
	// Unicode codepoint to glyph ID.
	CharToGlyph map[rune]uint16
	// Reverse mapping for the ToUnicode CMap; first codepoint wins.
	GlyphToChar map[uint16]rune

	// Raw font bytes, embedded whole in the FontFile2 stream.
	RawData []byte
}

type tableEntry struct {
	offset uint32
	length uint32
}

// Parse reads a TrueType font from raw .ttf bytes.
func Parse(data []byte) (*Face, error) {
	if len(data) < 12 {
		return nil, errors.New("font data too short")
	}

	face := &Face{
		RawData:     data,
		CharToGlyph: make(map[rune]uint16),
		GlyphToChar: make(map[uint16]rune),
	}

	r := bytes.NewReader(data)

	var sfntVersion uint32
	if err := binary.Read(r, binary.BigEndian, &sfntVersion); err != nil {
		return nil, errors.Wrap(err, "read sfnt version")
	}
	// 0x00010000 = TrueType outlines, 'true' = legacy Apple TrueType.
	// CFF ('OTTO') faces cannot be embedded in a FontFile2 stream.
	if sfntVersion != 0x00010000 && sfntVersion != 0x74727565 {
		return nil, errors.Errorf("unsupported font format: 0x%08X", sfntVersion)
	}

	var numTables uint16
	if err := binary.Read(r, binary.BigEndian, &numTables); err != nil {
		return nil, errors.Wrap(err, "read table count")
	}
	if _, err := r.Seek(6, io.SeekCurrent); err != nil {
		return nil, errors.Wrap(err, "skip search fields")
	}

	tables := make(map[string]tableEntry, numTables)
	for i := uint16(0); i < numTables; i++ {
		var tag [4]byte
		var checksum, offset, length uint32
		if _, err := io.ReadFull(r, tag[:]); err != nil {
			return nil, errors.Wrap(err, "read table tag")
		}
		if err := binary.Read(r, binary.BigEndian, &checksum); err != nil {
			return nil, errors.Wrap(err, "read table checksum")
		}
		if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
			return nil, errors.Wrap(err, "read table offset")
		}
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, errors.Wrap(err, "read table length")
		}
		if int64(offset)+int64(length) > int64(len(data)) {
			return nil, errors.Errorf("table %q extends past end of file", tag[:])
		}
		tables[string(tag[:])] = tableEntry{offset: offset, length: length}
	}

	if err := face.parseHead(data, tables); err != nil {
		return nil, errors.Wrap(err, "parse head table")
	}
	if err := face.parseHhea(data, tables); err != nil {
		return nil, errors.Wrap(err, "parse hhea table")
	}
	if err := face.parseMaxp(data, tables); err != nil {
		return nil, errors.Wrap(err, "parse maxp table")
	}
	if err := face.parseHmtx(data, tables); err != nil {
		return nil, errors.Wrap(err, "parse hmtx table")
	}
	if err := face.parseCmap(data, tables); err != nil {
		return nil, errors.Wrap(err, "parse cmap table")
	}

	// name, OS/2, and post are optional; defaults are serviceable.
	if err := face.parseName(data, tables); err != nil {
		face.FamilyName = "Unknown"
		face.PostScriptName = "Unknown"
	}
	if face.PostScriptName == "" {
		face.PostScriptName = removeSpaces(face.FamilyName)
	}
	if err := face.parseOS2(data, tables); err != nil {
		face.CapHeight = int16(float64(face.UnitsPerEm) * 0.7)
		face.WeightClass = 400
	}
	if err := face.parsePost(data, tables); err != nil {
		face.ItalicAngle = 0
		face.IsFixedPitch = false
	}
	face.IsItalic = face.ItalicAngle != 0

	return face, nil
}

func (f *Face) parseHead(data []byte, tables map[string]tableEntry) error {
	t, ok := tables["head"]
	if !ok {
		return errors.New("missing head table")
	}
	if t.length < 54 {
		return errors.New("head table truncated")
	}
	r := bytes.NewReader(data[t.offset:])
	// Skip version, fontRevision, checkSumAdjustment, magicNumber, flags.
	if _, err := r.Seek(18, io.SeekCurrent); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, &f.UnitsPerEm); err != nil {
		return err
	}
	if f.UnitsPerEm == 0 {
		return errors.New("unitsPerEm is zero")
	}
	// Skip created and modified timestamps.
	if _, err := r.Seek(16, io.SeekCurrent); err != nil {
		return err
	}
	for i := range f.BBox {
		if err := binary.Read(r, binary.BigEndian, &f.BBox[i]); err != nil {
			return err
		}
	}
	return nil
}

func (f *Face) parseHhea(data []byte, tables map[string]tableEntry) error {
	t, ok := tables["hhea"]
	if !ok {
		return errors.New("missing hhea table")
	}
	if t.length < 36 {
		return errors.New("hhea table truncated")
	}
	r := bytes.NewReader(data[t.offset:])
	if _, err := r.Seek(4, io.SeekCurrent); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, &f.Ascender); err != nil {
		return err
	}
	return binary.Read(r, binary.BigEndian, &f.Descender)
}

func (f *Face) parseMaxp(data []byte, tables map[string]tableEntry) error {
	t, ok := tables["maxp"]
	if !ok {
		return errors.New("missing maxp table")
	}
	if t.length < 6 {
		return errors.New("maxp table truncated")
	}
	r := bytes.NewReader(data[t.offset:])
	if _, err := r.Seek(4, io.SeekCurrent); err != nil {
		return err
	}
	return binary.Read(r, binary.BigEndian, &f.NumGlyphs)
}

func (f *Face) parseHmtx(data []byte, tables map[string]tableEntry) error {
	t, ok := tables["hmtx"]
	if !ok {
		return errors.New("missing hmtx table")
	}
	hhea, ok := tables["hhea"]
	if !ok || hhea.length < 36 {
		return errors.New("hhea table required for hmtx")
	}

	var numberOfHMetrics uint16
	r := bytes.NewReader(data[hhea.offset+34:])
	if err := binary.Read(r, binary.BigEndian, &numberOfHMetrics); err != nil {
		return err
	}
	if numberOfHMetrics == 0 {
		return errors.New("numberOfHMetrics is zero")
	}
	if numberOfHMetrics > f.NumGlyphs {
		numberOfHMetrics = f.NumGlyphs
	}

	f.GlyphWidths = make([]uint16, f.NumGlyphs)
	r = bytes.NewReader(data[t.offset:])
	var lastWidth uint16
	for i := uint16(0); i < numberOfHMetrics; i++ {
		if err := binary.Read(r, binary.BigEndian, &f.GlyphWidths[i]); err != nil {
			return err
		}
		// Skip left side bearing.
		if _, err := r.Seek(2, io.SeekCurrent); err != nil {
			return err
		}
		lastWidth = f.GlyphWidths[i]
	}
	// Trailing glyphs repeat the last advance width.
	for i := numberOfHMetrics; i < f.NumGlyphs; i++ {
		f.GlyphWidths[i] = lastWidth
	}
	return nil
}

func (f *Face) parseCmap(data []byte, tables map[string]tableEntry) error {
	t, ok := tables["cmap"]
	if !ok {
		return errors.New("missing cmap table")
	}
	r := bytes.NewReader(data[t.offset:])
	if _, err := r.Seek(2, io.SeekCurrent); err != nil {
		return err
	}
	var numSubtables uint16
	if err := binary.Read(r, binary.BigEndian, &numSubtables); err != nil {
		return err
	}

	// Pick the best Unicode subtable, preferring format 12 over 4.
	var bestOffset uint32
	var bestFormat uint16
	for i := uint16(0); i < numSubtables; i++ {
		var platformID, encodingID uint16
		var offset uint32
		if err := binary.Read(r, binary.BigEndian, &platformID); err != nil {
			return err
		}
		if err := binary.Read(r, binary.BigEndian, &encodingID); err != nil {
			return err
		}
		if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
			return err
		}
		unicode := platformID == 0 ||
			(platformID == 3 && (encodingID == 1 || encodingID == 10))
		if !unicode {
			continue
		}
		if int64(t.offset)+int64(offset)+2 > int64(len(data)) {
			continue
		}
		format := binary.BigEndian.Uint16(data[t.offset+offset:])
		if format == 12 || (format == 4 && bestFormat != 12) {
			bestOffset = offset
			bestFormat = format
		}
	}
	if bestOffset == 0 && bestFormat == 0 {
		return errors.New("no Unicode cmap subtable")
	}

	switch bestFormat {
	case 4:
		return f.parseCmapFormat4(data, t.offset+bestOffset)
	case 12:
		return f.parseCmapFormat12(data, t.offset+bestOffset)
	default:
		return errors.Errorf("unsupported cmap subtable format %d", bestFormat)
	}
}

func (f *Face) parseCmapFormat4(data []byte, offset uint32) error {
	sub := data[offset:]
	r := bytes.NewReader(sub)
	if _, err := r.Seek(6, io.SeekCurrent); err != nil {
		return err
	}
	var segCountX2 uint16
	if err := binary.Read(r, binary.BigEndian, &segCountX2); err != nil {
		return err
	}
	segCount := int(segCountX2 / 2)
	if _, err := r.Seek(6, io.SeekCurrent); err != nil {
		return err
	}

	readArray := func(n int) ([]uint16, error) {
		out := make([]uint16, n)
		if err := binary.Read(r, binary.BigEndian, out); err != nil {
			return nil, err
		}
		return out, nil
	}

	endCodes, err := readArray(segCount)
	if err != nil {
		return err
	}
	if _, err := r.Seek(2, io.SeekCurrent); err != nil { // reservedPad
		return err
	}
	startCodes, err := readArray(segCount)
	if err != nil {
		return err
	}
	idDeltas, err := readArray(segCount)
	if err != nil {
		return err
	}
	idRangeOffsetPos, _ := r.Seek(0, io.SeekCurrent)
	idRangeOffsets, err := readArray(segCount)
	if err != nil {
		return err
	}

	for i := 0; i < segCount; i++ {
		if startCodes[i] == 0xFFFF {
			break
		}
		for c := uint32(startCodes[i]); c <= uint32(endCodes[i]); c++ {
			var glyphID uint16
			if idRangeOffsets[i] == 0 {
				glyphID = uint16(c) + idDeltas[i]
			} else {
				// idRangeOffset is relative to its own position
				// in the idRangeOffset array.
				pos := idRangeOffsetPos + int64(i)*2 + int64(idRangeOffsets[i]) +
					int64(c-uint32(startCodes[i]))*2
				if pos+2 > int64(len(sub)) {
					continue
				}
				glyphID = binary.BigEndian.Uint16(sub[pos:])
				if glyphID != 0 {
					glyphID += idDeltas[i]
				}
			}
			if glyphID != 0 && glyphID < f.NumGlyphs {
				f.CharToGlyph[rune(c)] = glyphID
				if _, seen := f.GlyphToChar[glyphID]; !seen {
					f.GlyphToChar[glyphID] = rune(c)
				}
			}
		}
	}
	return nil
}

func (f *Face) parseCmapFormat12(data []byte, offset uint32) error {
	r := bytes.NewReader(data[offset:])
	if _, err := r.Seek(12, io.SeekCurrent); err != nil {
		return err
	}
	var numGroups uint32
	if err := binary.Read(r, binary.BigEndian, &numGroups); err != nil {
		return err
	}
	for g := uint32(0); g < numGroups; g++ {
		var startChar, endChar, startGlyph uint32
		if err := binary.Read(r, binary.BigEndian, &startChar); err != nil {
			return err
		}
		if err := binary.Read(r, binary.BigEndian, &endChar); err != nil {
			return err
		}
		if err := binary.Read(r, binary.BigEndian, &startGlyph); err != nil {
			return err
		}
		for c := startChar; c <= endChar; c++ {
			glyphID := uint16(startGlyph + (c - startChar))
			if glyphID == 0 || glyphID >= f.NumGlyphs {
				continue
			}
			f.CharToGlyph[rune(c)] = glyphID
			if _, seen := f.GlyphToChar[glyphID]; !seen {
				f.GlyphToChar[glyphID] = rune(c)
			}
		}
	}
	return nil
}

// Name table IDs.
const (
	nameIDFamily     = 1
	nameIDPostScript = 6
)

func (f *Face) parseName(data []byte, tables map[string]tableEntry) error {
	t, ok := tables["name"]
	if !ok {
		return errors.New("missing name table")
	}
	r := bytes.NewReader(data[t.offset:])
	if _, err := r.Seek(2, io.SeekCurrent); err != nil {
		return err
	}
	var count, stringOffset uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, &stringOffset); err != nil {
		return err
	}
	storage := int64(t.offset) + int64(stringOffset)

	for i := uint16(0); i < count; i++ {
		var platformID, encodingID, languageID, nameID, length, offset uint16
		for _, dst := range []*uint16{&platformID, &encodingID, &languageID, &nameID, &length, &offset} {
			if err := binary.Read(r, binary.BigEndian, dst); err != nil {
				return err
			}
		}
		if nameID != nameIDFamily && nameID != nameIDPostScript {
			continue
		}
		start := storage + int64(offset)
		end := start + int64(length)
		if end > int64(len(data)) {
			continue
		}
		raw := data[start:end]

		var value string
		switch {
		case platformID == 3 || platformID == 0:
			value = decodeUTF16BE(raw)
		case platformID == 1 && encodingID == 0:
			value = string(raw)
		default:
			continue
		}
		if value == "" {
			continue
		}
		switch nameID {
		case nameIDFamily:
			if f.FamilyName == "" {
				f.FamilyName = value
			}
		case nameIDPostScript:
			if f.PostScriptName == "" {
				f.PostScriptName = value
			}
		}
	}
	if f.FamilyName == "" && f.PostScriptName == "" {
		return errors.New("name table has no usable entries")
	}
	if f.FamilyName == "" {
		f.FamilyName = f.PostScriptName
	}
	return nil
}

func (f *Face) parseOS2(data []byte, tables map[string]tableEntry) error {
	t, ok := tables["OS/2"]
	if !ok {
		return errors.New("missing OS/2 table")
	}
	if t.length < 6 {
		return errors.New("OS/2 table truncated")
	}
	f.WeightClass = binary.BigEndian.Uint16(data[t.offset+4:])
	// sCapHeight exists from version 2 onward (offset 88).
	if t.length >= 90 {
		f.CapHeight = int16(binary.BigEndian.Uint16(data[t.offset+88:]))
	}
	if f.CapHeight == 0 {
		f.CapHeight = int16(float64(f.UnitsPerEm) * 0.7)
	}
	return nil
}

func (f *Face) parsePost(data []byte, tables map[string]tableEntry) error {
	t, ok := tables["post"]
	if !ok {
		return errors.New("missing post table")
	}
	if t.length < 16 {
		return errors.New("post table truncated")
	}
	// italicAngle is a 16.16 fixed value at offset 4.
	raw := int32(binary.BigEndian.Uint32(data[t.offset+4:]))
	f.ItalicAngle = float64(raw) / 65536.0
	f.IsFixedPitch = binary.BigEndian.Uint32(data[t.offset+12:]) != 0
	return nil
}

// decodeUTF16BE decodes big-endian UTF-16 without surrogate handling;
// font family and PostScript names stay within the BMP in practice.
func decodeUTF16BE(raw []byte) string {
	runes := make([]rune, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		runes = append(runes, rune(raw[i])<<8|rune(raw[i+1]))
	}
	return string(runes)
}

func removeSpaces(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != ' ' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
