package testutil

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"time"

	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/mrtd/tlv"
)

// Specimen values from the ICAO 9303 worked examples.
var Specimen = struct {
	DocumentNumber string
	DateOfBirth    time.Time
	DateOfExpiry   time.Time
	MRZ            string
}{
	DocumentNumber: "L898902C",
	DateOfBirth:    time.Date(1969, 8, 6, 0, 0, 0, 0, time.UTC),
	DateOfExpiry:   time.Date(1994, 6, 23, 0, 0, 0, 0, time.UTC),
	MRZ: pad("P<UTOERIKSSON<<ANNA<MARIA", 44) +
		"L898902C<3UTO6908061F9406236ZE184226B<<<<<14",
}

func pad(s string, n int) string {
	return s + strings.Repeat("<", n-len(s))
}

// SpecimenKeySpec returns the access key of the specimen document.
func SpecimenKeySpec() models.KeySpec {
	return models.KeySpec{
		DocumentNumber: Specimen.DocumentNumber,
		DateOfBirth:    Specimen.DateOfBirth,
		DateOfExpiry:   Specimen.DateOfExpiry,
	}
}

// Image data types of ISO 19794-5.
const (
	ImageTypeJPEG     byte = 0x00
	ImageTypeJPEG2000 byte = 0x01
)

// DocumentBuilder builds the elementary files of a test document.
type DocumentBuilder struct {
	mrz           string
	image         []byte
	imageType     byte
	featurePoints int
	faces         int
	sod           []byte
}

// NewDocumentBuilder creates a builder for the specimen document with a small
// JPEG face image.
func NewDocumentBuilder() *DocumentBuilder {
	return &DocumentBuilder{
		mrz:       Specimen.MRZ,
		image:     JPEGImage(16, 20),
		imageType: ImageTypeJPEG,
		faces:     1,
		sod:       bytes.Repeat([]byte{0x30}, 64),
	}
}

func (b *DocumentBuilder) WithMRZ(mrz string) *DocumentBuilder {
	b.mrz = mrz
	return b
}

func (b *DocumentBuilder) WithFaceImage(data []byte, imageType byte) *DocumentBuilder {
	b.image = data
	b.imageType = imageType
	return b
}

func (b *DocumentBuilder) WithFeaturePoints(n int) *DocumentBuilder {
	b.featurePoints = n
	return b
}

func (b *DocumentBuilder) WithoutFaces() *DocumentBuilder {
	b.faces = 0
	return b
}

func (b *DocumentBuilder) WithSOD(content []byte) *DocumentBuilder {
	b.sod = content
	return b
}

// Image returns the face image bytes stored in DG2.
func (b *DocumentBuilder) Image() []byte {
	return b.image
}

// Build returns the encoded files keyed by file identifier.
func (b *DocumentBuilder) Build() map[models.FileID][]byte {
	return map[models.FileID][]byte{
		models.FileCOM: COMFile(),
		models.FileSOD: tlv.Encode(0x77, b.sod),
		models.FileDG1: DG1File(b.mrz),
		models.FileDG2: DG2File(b.image, b.imageType, b.featurePoints, b.faces),
	}
}

// COMFile encodes an EF.COM announcing DG1 and DG2.
func COMFile() []byte {
	return tlv.Encode(0x60, tlv.EncodeAll(
		tlv.Object{Tag: 0x5F01, Value: []byte("0107")},
		tlv.Object{Tag: 0x5F36, Value: []byte("040000")},
		tlv.Object{Tag: 0x5C, Value: []byte{0x61, 0x75}},
	))
}

// DG1File encodes an EF.DG1 holding mrz.
func DG1File(mrz string) []byte {
	return tlv.Encode(0x61, tlv.Encode(0x5F1F, []byte(mrz)))
}

// DG2File encodes an EF.DG2 with a single biometric template. faces is the
// number of identical image records in the facial record.
func DG2File(img []byte, imageType byte, featurePoints, faces int) []byte {
	var record bytes.Buffer
	record.WriteString("FAC\x00010\x00")
	blockLen := 20 + 8*featurePoints + 12 + len(img)
	_ = binary.Write(&record, binary.BigEndian, uint32(14+faces*blockLen))
	_ = binary.Write(&record, binary.BigEndian, uint16(faces))
	for range faces {
		_ = binary.Write(&record, binary.BigEndian, uint32(blockLen))
		_ = binary.Write(&record, binary.BigEndian, uint16(featurePoints))
		record.Write([]byte{0x02, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
		for i := range featurePoints {
			record.Write([]byte{0x01, byte(0x11 + i), 0x00, byte(i), 0x00, byte(2 * i), 0x00, 0x00})
		}
		record.Write([]byte{0x01, imageType})
		_ = binary.Write(&record, binary.BigEndian, uint16(16))
		_ = binary.Write(&record, binary.BigEndian, uint16(20))
		record.Write([]byte{0x01, 0x02, 0x00, 0x00, 0x00, 0x00})
		record.Write(img)
	}

	bit := tlv.EncodeAll(
		tlv.Object{Tag: 0xA1, Value: tlv.EncodeAll(
			tlv.Object{Tag: 0x80, Value: []byte{0x01, 0x01}},
			tlv.Object{Tag: 0x87, Value: []byte{0x01, 0x01}},
			tlv.Object{Tag: 0x88, Value: []byte{0x00, 0x08}},
		)},
		tlv.Object{Tag: 0x5F2E, Value: record.Bytes()},
	)
	group := tlv.EncodeAll(
		tlv.Object{Tag: 0x02, Value: []byte{0x01}},
		tlv.Object{Tag: 0x7F60, Value: bit},
	)
	return tlv.Encode(0x75, tlv.Encode(0x7F61, group))
}

// TestImage returns a w x h gradient.
func TestImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / max(w, 1)), G: uint8(y * 255 / max(h, 1)), B: 0x80, A: 0xFF})
		}
	}
	return img
}

// JPEGImage encodes TestImage(w, h) as JPEG.
func JPEGImage(w, h int) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, TestImage(w, h), nil); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// PNGImage encodes TestImage(w, h) as PNG.
func PNGImage(w, h int) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, TestImage(w, h)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// SpecimenScanResult returns the result a scan of the specimen document yields.
func SpecimenScanResult() *models.ScanResult {
	return &models.ScanResult{
		DocumentCode:         "P",
		IssuingState:         "UTO",
		PrimaryIdentifier:    "ERIKSSON",
		SecondaryIdentifiers: []string{"ANNA", "MARIA"},
		Nationality:          "UTO",
		DocumentNumber:       "L898902C",
		PersonalNumber:       "ZE184226B",
		DateOfBirth:          "690806",
		DateOfExpiry:         "940623",
		Gender:               models.GenderFemale,
		FaceImage:            TestImage(16, 20),
		AccessControl:        models.AccessBAC,
		CompletedAt:          time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}
