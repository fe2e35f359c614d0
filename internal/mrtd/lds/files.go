package lds

import (
	"fmt"
	"io"

	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/mrtd/tlv"
)

const (
	tagLDSVersion     uint32 = 0x5F01
	tagUnicodeVersion uint32 = 0x5F36
	tagTagList        uint32 = 0x5C
	tagMRZ            uint32 = 0x5F1F
)

// dataGroupTags maps data group tags listed in EF.COM to their files.
var dataGroupTags = map[byte]models.FileID{
	0x61: models.FileDG1,
	0x75: models.FileDG2,
}

// COM is the common data file: LDS version and the data groups present.
type COM struct {
	LDSVersion     string
	UnicodeVersion string
	TagList        []byte
}

func (*COM) FileID() models.FileID { return models.FileCOM }

// Lists reports whether EF.COM announces the given data group.
func (c *COM) Lists(id models.FileID) bool {
	for _, t := range c.TagList {
		if dataGroupTags[t] == id {
			return true
		}
	}
	return false
}

func decodeCOM(r io.Reader) (*COM, error) {
	value, err := readObject(r, TagCOM)
	if err != nil {
		return nil, err
	}
	objs, err := tlv.DecodeAll(value)
	if err != nil {
		return nil, err
	}
	tags, ok := tlv.Find(objs, tagTagList)
	if !ok {
		return nil, fmt.Errorf("%w: tag list", ErrMissingObject)
	}
	com := &COM{TagList: tags.Value}
	if o, ok := tlv.Find(objs, tagLDSVersion); ok {
		com.LDSVersion = string(o.Value)
	}
	if o, ok := tlv.Find(objs, tagUnicodeVersion); ok {
		com.UnicodeVersion = string(o.Value)
	}
	return com, nil
}

// SOD is the document security object. Its CMS signature is kept undecoded.
type SOD struct {
	SignedData []byte
}

func (*SOD) FileID() models.FileID { return models.FileSOD }

func decodeSOD(r io.Reader) (*SOD, error) {
	value, err := readObject(r, TagSOD)
	if err != nil {
		return nil, err
	}
	return &SOD{SignedData: value}, nil
}

// DG1 holds the machine readable zone as stored on the chip.
type DG1 struct {
	MRZ string
}

func (*DG1) FileID() models.FileID { return models.FileDG1 }

func decodeDG1(r io.Reader) (*DG1, error) {
	value, err := readObject(r, TagDG1)
	if err != nil {
		return nil, err
	}
	o, ok, err := tlv.FindIn(value, tagMRZ)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: MRZ", ErrMissingObject)
	}
	return &DG1{MRZ: string(o.Value)}, nil
}
