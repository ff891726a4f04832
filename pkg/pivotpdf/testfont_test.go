package pivotpdf

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"
)

// buildTestFont assembles a minimal TrueType font for tests: 4 glyphs,
// unitsPerEm 1000, ascender 800, descender -200, cmap mapping 'A'..'C'
// to glyphs 1..3 with advances 600/650/700 (glyph 0: 500). It mirrors
// the builder in internal/pdf/font's tests so package tests need no
// fixture files.
func buildTestFont() []byte {
	be := binary.BigEndian

	u16b := func(buf *bytes.Buffer, v uint16) { _ = binary.Write(buf, be, v) }
	i16b := func(buf *bytes.Buffer, v int16) { _ = binary.Write(buf, be, v) }
	u32b := func(buf *bytes.Buffer, v uint32) { _ = binary.Write(buf, be, v) }

	var head bytes.Buffer
	u32b(&head, 0x00010000)
	u32b(&head, 0)
	u32b(&head, 0)
	u32b(&head, 0x5F0F3CF5)
	u16b(&head, 0)
	u16b(&head, 1000) // unitsPerEm
	head.Write(make([]byte, 16))
	i16b(&head, -100)
	i16b(&head, -200)
	i16b(&head, 900)
	i16b(&head, 800)
	u16b(&head, 0)
	u16b(&head, 8)
	i16b(&head, 2)
	i16b(&head, 0)
	i16b(&head, 0)

	var hhea bytes.Buffer
	u32b(&hhea, 0x00010000)
	i16b(&hhea, 800)
	i16b(&hhea, -200)
	i16b(&hhea, 0)
	u16b(&hhea, 700)
	for i := 0; i < 10; i++ {
		i16b(&hhea, 0)
	}
	i16b(&hhea, 0)
	u16b(&hhea, 4) // numberOfHMetrics

	var maxp bytes.Buffer
	u32b(&maxp, 0x00010000)
	u16b(&maxp, 4)

	var hmtx bytes.Buffer
	for _, advance := range []uint16{500, 600, 650, 700} {
		u16b(&hmtx, advance)
		i16b(&hmtx, 0)
	}

	var cmap bytes.Buffer
	u16b(&cmap, 0)
	u16b(&cmap, 1)
	u16b(&cmap, 3)
	u16b(&cmap, 1)
	u32b(&cmap, 12)
	u16b(&cmap, 4)
	u16b(&cmap, 32)
	u16b(&cmap, 0)
	u16b(&cmap, 4)
	u16b(&cmap, 4)
	u16b(&cmap, 1)
	u16b(&cmap, 0)
	u16b(&cmap, 0x0043)
	u16b(&cmap, 0xFFFF)
	u16b(&cmap, 0)
	u16b(&cmap, 0x0041)
	u16b(&cmap, 0xFFFF)
	u16b(&cmap, 0xFFC0)
	u16b(&cmap, 0x0001)
	u16b(&cmap, 0)
	u16b(&cmap, 0)

	utf16be := func(s string) []byte {
		var out bytes.Buffer
		for _, u := range utf16.Encode([]rune(s)) {
			_ = binary.Write(&out, be, u)
		}
		return out.Bytes()
	}
	family := utf16be("Test Sans")
	psName := utf16be("TestSans-Regular")

	var name bytes.Buffer
	u16b(&name, 0)
	u16b(&name, 2)
	u16b(&name, 30)
	writeRecord := func(nameID, length, offset uint16) {
		u16b(&name, 3)
		u16b(&name, 1)
		u16b(&name, 0x0409)
		u16b(&name, nameID)
		u16b(&name, length)
		u16b(&name, offset)
	}
	writeRecord(1, uint16(len(family)), 0)
	writeRecord(6, uint16(len(psName)), uint16(len(family)))
	name.Write(family)
	name.Write(psName)

	os2 := make([]byte, 96)
	be.PutUint16(os2[0:], 4)
	be.PutUint16(os2[4:], 400)  // usWeightClass
	be.PutUint16(os2[88:], 700) // sCapHeight

	var post bytes.Buffer
	u32b(&post, 0x00030000)
	u32b(&post, 0) // italicAngle
	i16b(&post, 0)
	i16b(&post, 0)
	u32b(&post, 0) // isFixedPitch
	post.Write(make([]byte, 16))

	tables := []struct {
		tag  string
		data []byte
	}{
		{"cmap", cmap.Bytes()},
		{"head", head.Bytes()},
		{"hhea", hhea.Bytes()},
		{"hmtx", hmtx.Bytes()},
		{"maxp", maxp.Bytes()},
		{"name", name.Bytes()},
		{"OS/2", os2},
		{"post", post.Bytes()},
	}

	var file bytes.Buffer
	u32b(&file, 0x00010000)
	u16b(&file, uint16(len(tables)))
	u16b(&file, 128)
	u16b(&file, 3)
	u16b(&file, 0)

	offset := 12 + 16*len(tables)
	var payload bytes.Buffer
	for _, tbl := range tables {
		file.WriteString(tbl.tag)
		u32b(&file, 0)
		u32b(&file, uint32(offset))
		u32b(&file, uint32(len(tbl.data)))
		payload.Write(tbl.data)
		offset += len(tbl.data)
		for offset%4 != 0 {
			payload.WriteByte(0)
			offset++
		}
	}
	file.Write(payload.Bytes())
	return file.Bytes()
}
