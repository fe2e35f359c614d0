package lds

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/mrtd/tlv"
)

const (
	tagBiometricGroup  uint32 = 0x7F61
	tagInstanceCount   uint32 = 0x02
	tagBiometricInfo   uint32 = 0x7F60
	tagBiometricHeader uint32 = 0xA1
	tagBiometricData   uint32 = 0x5F2E
	tagBiometricDataC  uint32 = 0x7F2E
)

// ISO/IEC 19794-5 facial record layout.
const (
	facialHeaderLen    = 14
	facialInfoLen      = 20
	featurePointLen    = 8
	imageInfoLen       = 12
	formatIdentifier   = "FAC\x00"
	maxFeaturePoints   = 1024
	maxBiometricHeader = 1024
)

// ErrInvalidFacialRecord reports a biometric data block that is not an ISO
// 19794-5 facial record.
var ErrInvalidFacialRecord = errors.New("lds: invalid facial record")

// ImageDataType is the encoding of the face image.
type ImageDataType byte

const (
	ImageJPEG     ImageDataType = 0x00
	ImageJPEG2000 ImageDataType = 0x01
)

func (t ImageDataType) String() string {
	switch t {
	case ImageJPEG:
		return "jpeg"
	case ImageJPEG2000:
		return "jpeg2000"
	default:
		return fmt.Sprintf("0x%02X", byte(t))
	}
}

// FeaturePoint is a facial landmark.
type FeaturePoint struct {
	Type byte
	Code byte
	X    uint16
	Y    uint16
}

// FaceImageInfo is one facial image record. The image data itself is not
// buffered; Image reads it from the file stream.
type FaceImageInfo struct {
	Gender          byte
	EyeColor        byte
	HairColor       byte
	FeatureMask     uint32
	Expression      uint16
	PoseAngle       [3]byte
	PoseUncertainty [3]byte
	FeaturePoints   []FeaturePoint
	FaceImageType   byte
	ImageDataType   ImageDataType
	Width           uint16
	Height          uint16
	ColorSpace      byte
	SourceType      byte
	DeviceType      uint16
	Quality         uint16
	ImageLength     int

	data io.Reader
}

// Image returns a reader over the ImageLength bytes of image data.
func (f *FaceImageInfo) Image() io.Reader {
	return f.data
}

// DG2 is the encoded face data group.
// Only the leading image record is decoded; the remainder of the file is
// never requested from the chip.
type DG2 struct {
	// Instances is the number of biometric templates the group announces.
	Instances int
	// RecordImages is the number of images the first facial record declares.
	RecordImages int
	Images       []*FaceImageInfo
}

func (*DG2) FileID() models.FileID { return models.FileDG2 }

func decodeDG2(r io.Reader) (*DG2, error) {
	if err := expectHeader(r, TagDG2); err != nil {
		return nil, err
	}
	if err := expectHeader(r, tagBiometricGroup); err != nil {
		return nil, err
	}
	count, err := readObject(r, tagInstanceCount)
	if err != nil {
		return nil, err
	}
	dg2 := &DG2{Instances: beInt(count)}
	if dg2.Instances == 0 {
		return dg2, nil
	}

	if err := expectHeader(r, tagBiometricInfo); err != nil {
		return nil, err
	}
	tag, length, _, err := tlv.ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if tag != tagBiometricHeader {
		return nil, fmt.Errorf("%w: got %X, want %X", ErrUnexpectedTag, tag, tagBiometricHeader)
	}
	if length > maxBiometricHeader {
		return nil, fmt.Errorf("%w: biometric header of %d bytes", ErrInvalidFacialRecord, length)
	}
	if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
		return nil, err
	}

	tag, _, _, err = tlv.ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if tag != tagBiometricData && tag != tagBiometricDataC {
		return nil, fmt.Errorf("%w: got %X, want %X", ErrUnexpectedTag, tag, tagBiometricData)
	}

	header := make([]byte, facialHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if !bytes.Equal(header[:4], []byte(formatIdentifier)) {
		return nil, fmt.Errorf("%w: format identifier %q", ErrInvalidFacialRecord, header[:4])
	}
	dg2.RecordImages = int(binary.BigEndian.Uint16(header[12:14]))
	if dg2.RecordImages == 0 {
		return dg2, nil
	}

	info, err := readFaceImageInfo(r)
	if err != nil {
		return nil, err
	}
	dg2.Images = []*FaceImageInfo{info}
	return dg2, nil
}

func readFaceImageInfo(r io.Reader) (*FaceImageInfo, error) {
	b := make([]byte, facialInfoLen)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	blockLen := int(binary.BigEndian.Uint32(b[0:4]))
	points := int(binary.BigEndian.Uint16(b[4:6]))
	if points > maxFeaturePoints {
		return nil, fmt.Errorf("%w: %d feature points", ErrInvalidFacialRecord, points)
	}
	f := &FaceImageInfo{
		Gender:      b[6],
		EyeColor:    b[7],
		HairColor:   b[8],
		FeatureMask: uint32(b[9])<<16 | uint32(b[10])<<8 | uint32(b[11]),
		Expression:  binary.BigEndian.Uint16(b[12:14]),
	}
	copy(f.PoseAngle[:], b[14:17])
	copy(f.PoseUncertainty[:], b[17:20])

	if points > 0 {
		fp := make([]byte, points*featurePointLen)
		if _, err := io.ReadFull(r, fp); err != nil {
			return nil, err
		}
		f.FeaturePoints = make([]FeaturePoint, points)
		for i := range f.FeaturePoints {
			p := fp[i*featurePointLen:]
			f.FeaturePoints[i] = FeaturePoint{
				Type: p[0],
				Code: p[1],
				X:    binary.BigEndian.Uint16(p[2:4]),
				Y:    binary.BigEndian.Uint16(p[4:6]),
			}
		}
	}

	ii := make([]byte, imageInfoLen)
	if _, err := io.ReadFull(r, ii); err != nil {
		return nil, err
	}
	f.FaceImageType = ii[0]
	f.ImageDataType = ImageDataType(ii[1])
	f.Width = binary.BigEndian.Uint16(ii[2:4])
	f.Height = binary.BigEndian.Uint16(ii[4:6])
	f.ColorSpace = ii[6]
	f.SourceType = ii[7]
	f.DeviceType = binary.BigEndian.Uint16(ii[8:10])
	f.Quality = binary.BigEndian.Uint16(ii[10:12])

	f.ImageLength = blockLen - facialInfoLen - points*featurePointLen - imageInfoLen
	if f.ImageLength < 0 {
		return nil, fmt.Errorf("%w: block length %d too short", ErrInvalidFacialRecord, blockLen)
	}
	f.data = io.LimitReader(r, int64(f.ImageLength))
	return f, nil
}

func expectHeader(r io.Reader, want uint32) error {
	tag, _, _, err := tlv.ReadHeader(r)
	if err != nil {
		return fmt.Errorf("read %X header: %w", want, err)
	}
	if tag != want {
		return fmt.Errorf("%w: got %X, want %X", ErrUnexpectedTag, tag, want)
	}
	return nil
}

func beInt(b []byte) int {
	n := 0
	for _, c := range b {
		n = n<<8 | int(c)
	}
	return n
}
