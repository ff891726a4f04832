package pivotpdf

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"

	"github.com/pkg/errors"
)

// ImageID is an opaque handle to an image loaded into a Document.
// Loading the same bytes twice yields two distinct handles; placing
// one handle on many pages embeds the image exactly once.
type ImageID int

// ImageFormat identifies a supported input format.
type ImageFormat int

const (
	FormatJPEG ImageFormat = iota
	FormatPNG
)

// FitMode selects how an image is scaled into a bounding rect.
type FitMode int

const (
	// FitModeFit scales uniformly to fit inside the rect, centered.
	FitModeFit FitMode = iota
	// FitModeFill scales uniformly to cover the rect, centered and
	// clipped to the rect.
	FitModeFill
	// FitModeStretch fills the rect exactly, distorting if needed.
	FitModeStretch
	// FitModeNone places the image at natural size (1px = 1pt),
	// anchored to the rect's top-left corner.
	FitModeNone
)

// ColorSpace is the PDF color space of embedded image data.
type ColorSpace int

const (
	DeviceRGB ColorSpace = iota
	DeviceGray
)

func (c ColorSpace) pdfName() string {
	if c == DeviceGray {
		return "DeviceGray"
	}
	return "DeviceRGB"
}

// imageData is a decoded image ready for embedding.
type imageData struct {
	width            int
	height           int
	format           ImageFormat
	colorSpace       ColorSpace
	bitsPerComponent int
	// Raw JPEG bytes (DCTDecode passthrough) or raw pixel samples.
	data []byte
	// Grayscale alpha plane for the SMask, when the source had alpha.
	smask []byte
}

// DetectImageFormat inspects magic bytes: FF D8 for JPEG, the PNG
// signature for PNG. Anything else is an error.
func DetectImageFormat(data []byte) (ImageFormat, error) {
	if len(data) < 4 {
		return 0, errors.New("image data too short to detect format")
	}
	if data[0] == 0xFF && data[1] == 0xD8 {
		return FormatJPEG, nil
	}
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return FormatPNG, nil
	}
	return 0, errors.New("unsupported image format (expected JPEG or PNG)")
}

func loadImageData(data []byte) (*imageData, error) {
	format, err := DetectImageFormat(data)
	if err != nil {
		return nil, err
	}
	if format == FormatJPEG {
		return parseJPEG(data)
	}
	return parsePNG(data)
}

// parseJPEG extracts dimensions and component count from the first
// SOF marker. The JPEG bytes themselves embed as-is with DCTDecode;
// no pixel decoding happens.
func parseJPEG(data []byte) (*imageData, error) {
	width, height, components, err := jpegDimensions(data)
	if err != nil {
		return nil, err
	}
	var cs ColorSpace
	switch components {
	case 1:
		cs = DeviceGray
	case 3:
		cs = DeviceRGB
	default:
		return nil, errors.Errorf("unsupported JPEG component count: %d (expected 1 or 3)", components)
	}
	return &imageData{
		width:            width,
		height:           height,
		format:           FormatJPEG,
		colorSpace:       cs,
		bitsPerComponent: 8,
		data:             data,
	}, nil
}

// jpegDimensions scans marker segments for SOF0..SOF3 and reads the
// big-endian height, width, and component count that follow.
func jpegDimensions(data []byte) (width, height int, components byte, err error) {
	n := len(data)
	i := 0
	for i+1 < n {
		if data[i] != 0xFF {
			i++
			continue
		}
		marker := data[i+1]
		if marker >= 0xC0 && marker <= 0xC3 {
			if i+9 >= n {
				return 0, 0, 0, errors.New("JPEG SOF marker truncated")
			}
			height = int(binary.BigEndian.Uint16(data[i+5:]))
			width = int(binary.BigEndian.Uint16(data[i+7:]))
			components = data[i+9]
			return width, height, components, nil
		}
		// Fill bytes and stuffed zero markers.
		if marker == 0xFF || marker == 0x00 {
			i++
			continue
		}
		// Standalone markers carry no length field.
		if marker == 0xD8 || marker == 0xD9 || (marker >= 0xD0 && marker <= 0xD7) {
			i += 2
			continue
		}
		if i+3 >= n {
			break
		}
		segLen := int(binary.BigEndian.Uint16(data[i+2:]))
		i += 2 + segLen
	}
	return 0, 0, 0, errors.New("no SOF marker found in JPEG data")
}

// PNG IHDR color types.
const (
	pngGray      = 0
	pngRGB       = 2
	pngPalette   = 3
	pngGrayAlpha = 4
	pngRGBA      = 6
)

// parsePNG decodes pixels with the stdlib decoder and splits any alpha
// channel into a separate grayscale SMask plane. Dispatch follows the
// IHDR color type so palette and 16-bit images are rejected up front.
func parsePNG(data []byte) (*imageData, error) {
	// IHDR is always the first chunk: bit depth at byte 24, color
	// type at byte 25.
	if len(data) < 26 {
		return nil, errors.New("PNG data truncated before IHDR")
	}
	bitDepth := data[24]
	colorType := data[25]
	switch colorType {
	case pngGray, pngRGB, pngGrayAlpha, pngRGBA:
	default:
		return nil, errors.Errorf("unsupported PNG color type: %d", colorType)
	}
	if bitDepth != 8 {
		return nil, errors.Errorf("unsupported PNG bit depth: %d", bitDepth)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "PNG decode error")
	}
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	pixelCount := w * h

	out := &imageData{
		width:            w,
		height:           h,
		format:           FormatPNG,
		bitsPerComponent: 8,
	}

	switch colorType {
	case pngRGB:
		out.colorSpace = DeviceRGB
		out.data = make([]byte, 0, pixelCount*3)
		eachPixel(img, func(px color.NRGBA) {
			out.data = append(out.data, px.R, px.G, px.B)
		})
	case pngRGBA:
		out.colorSpace = DeviceRGB
		out.data = make([]byte, 0, pixelCount*3)
		out.smask = make([]byte, 0, pixelCount)
		eachPixel(img, func(px color.NRGBA) {
			out.data = append(out.data, px.R, px.G, px.B)
			out.smask = append(out.smask, px.A)
		})
	case pngGray:
		out.colorSpace = DeviceGray
		out.data = make([]byte, 0, pixelCount)
		eachPixel(img, func(px color.NRGBA) {
			out.data = append(out.data, px.R)
		})
	case pngGrayAlpha:
		out.colorSpace = DeviceGray
		out.data = make([]byte, 0, pixelCount)
		out.smask = make([]byte, 0, pixelCount)
		eachPixel(img, func(px color.NRGBA) {
			out.data = append(out.data, px.R)
			out.smask = append(out.smask, px.A)
		})
	default:
		return nil, errors.Errorf("unsupported PNG color type: %d", colorType)
	}
	return out, nil
}

// eachPixel visits pixels row by row as non-premultiplied NRGBA, which
// preserves color values under partial alpha.
func eachPixel(img image.Image, visit func(color.NRGBA)) {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			visit(color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA))
		}
	}
}

// ClipRect is a clip rectangle in PDF coordinates (bottom-left
// origin), emitted before the cm matrix in Fill mode.
type ClipRect struct {
	X, Y, Width, Height float64
}

// ImagePlacement is a computed image position in PDF coordinates.
type ImagePlacement struct {
	X, Y          float64
	Width, Height float64
	Clip          *ClipRect
}

// CalculatePlacement converts a layout rect (upper-left origin) and a
// fit mode into PDF-coordinate placement for an imgW x imgH image.
// pageHeight performs the origin flip.
func CalculatePlacement(imgW, imgH int, rect Rect, fit FitMode, pageHeight float64) ImagePlacement {
	iw := float64(imgW)
	ih := float64(imgH)
	pdfBottom := pageHeight - (rect.Y + rect.Height)

	switch fit {
	case FitModeFill:
		scale := rect.Width / iw
		if s := rect.Height / ih; s > scale {
			scale = s
		}
		w := iw * scale
		h := ih * scale
		return ImagePlacement{
			X:      rect.X + (rect.Width-w)/2.0,
			Y:      pdfBottom + (rect.Height-h)/2.0,
			Width:  w,
			Height: h,
			Clip:   &ClipRect{X: rect.X, Y: pdfBottom, Width: rect.Width, Height: rect.Height},
		}
	case FitModeStretch:
		return ImagePlacement{X: rect.X, Y: pdfBottom, Width: rect.Width, Height: rect.Height}
	case FitModeNone:
		// Natural size anchored to the rect's top-left. An image
		// taller than the rect lands below it; that is a caller
		// error, not checked here.
		return ImagePlacement{
			X:      rect.X,
			Y:      pdfBottom + (rect.Height - ih),
			Width:  iw,
			Height: ih,
		}
	default: // FitModeFit
		scale := rect.Width / iw
		if s := rect.Height / ih; s < scale {
			scale = s
		}
		w := iw * scale
		h := ih * scale
		return ImagePlacement{
			X:      rect.X + (rect.Width-w)/2.0,
			Y:      pdfBottom + (rect.Height-h)/2.0,
			Width:  w,
			Height: h,
		}
	}
}
