// Package lds decodes the elementary files of the ICAO logical data structure
// read during a scan: EF.COM, EF.SOD, EF.DG1 and EF.DG2.
package lds

import (
	"errors"
	"fmt"
	"io"

	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/mrtd/tlv"
)

//go:generate mockgen -source=lds.go -destination=mocks/lds_mock.go -package=mocks DataGroupDecoder

// File tags of the logical data structure.
const (
	TagCOM uint32 = 0x60
	TagSOD uint32 = 0x77
	TagDG1 uint32 = 0x61
	TagDG2 uint32 = 0x75
)

var (
	ErrUnexpectedTag   = errors.New("lds: unexpected tag")
	ErrMissingObject   = errors.New("lds: missing data object")
	ErrUnsupportedFile = errors.New("lds: unsupported file")
)

// File is a decoded elementary file.
type File interface {
	FileID() models.FileID
}

// DataGroupDecoder turns the byte stream of an elementary file into its
// structured form. r yields the complete file, header included.
type DataGroupDecoder interface {
	Decode(id models.FileID, r io.Reader) (File, error)
}

// Decoder is the DataGroupDecoder for the files a scan reads.
type Decoder struct{}

// NewDecoder returns a Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode dispatches on the file identifier. EF.DG2 is decoded lazily: the
// returned *DG2 keeps reading r when its image data is consumed.
func (d *Decoder) Decode(id models.FileID, r io.Reader) (File, error) {
	switch id {
	case models.FileCOM:
		return decodeCOM(r)
	case models.FileSOD:
		return decodeSOD(r)
	case models.FileDG1:
		return decodeDG1(r)
	case models.FileDG2:
		return decodeDG2(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, id)
	}
}

// readObject reads one complete data object with the expected outer tag.
func readObject(r io.Reader, want uint32) ([]byte, error) {
	tag, length, _, err := tlv.ReadHeader(r)
	if err != nil {
		return nil, fmt.Errorf("read %X header: %w", want, err)
	}
	if tag != want {
		return nil, fmt.Errorf("%w: got %X, want %X", ErrUnexpectedTag, tag, want)
	}
	value := make([]byte, length)
	if _, err := io.ReadFull(r, value); err != nil {
		return nil, fmt.Errorf("read %X value: %w", want, err)
	}
	return value, nil
}

// Files collects the decoded files of a scan.
type Files struct {
	COM *COM
	SOD *SOD
	DG1 *DG1
	DG2 *DG2
}

// Add stores f in its slot.
func (fs *Files) Add(f File) {
	switch v := f.(type) {
	case *COM:
		fs.COM = v
	case *SOD:
		fs.SOD = v
	case *DG1:
		fs.DG1 = v
	case *DG2:
		fs.DG2 = v
	}
}

var _ DataGroupDecoder = (*Decoder)(nil)
