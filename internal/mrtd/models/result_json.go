package models

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"time"
)

const (
	imageDataURLPrefix = "data:image/jpeg;base64,"
	imageJPEGQuality   = 90
)

type scanResultJSON struct {
	DocumentCode         string    `json:"documentCode"`
	IssuingState         string    `json:"issuingState"`
	PrimaryIdentifier    string    `json:"primaryIdentifier"`
	SecondaryIdentifiers []string  `json:"secondaryIdentifiers"`
	Nationality          string    `json:"nationality"`
	DocumentNumber       string    `json:"documentNumber"`
	PersonalNumber       string    `json:"personalNumber"`
	DateOfBirth          string    `json:"dateOfBirth"`
	DateOfExpiry         string    `json:"dateOfExpiry"`
	Gender               string    `json:"gender"`
	Image                string    `json:"image,omitempty"`
	AccessControl        string    `json:"accessControl,omitempty"`
	CompletedAt          time.Time `json:"completedAt,omitzero"`
}

// MarshalJSON writes the persisted form, embedding the face image as a JPEG data URL.
func (r ScanResult) MarshalJSON() ([]byte, error) {
	out := scanResultJSON{
		DocumentCode:         r.DocumentCode,
		IssuingState:         r.IssuingState,
		PrimaryIdentifier:    r.PrimaryIdentifier,
		SecondaryIdentifiers: r.SecondaryIdentifiers,
		Nationality:          r.Nationality,
		DocumentNumber:       r.DocumentNumber,
		PersonalNumber:       r.PersonalNumber,
		DateOfBirth:          r.DateOfBirth,
		DateOfExpiry:         r.DateOfExpiry,
		Gender:               string(r.Gender),
		AccessControl:        string(r.AccessControl),
		CompletedAt:          r.CompletedAt,
	}
	if out.SecondaryIdentifiers == nil {
		out.SecondaryIdentifiers = []string{}
	}
	if r.FaceImage != nil {
		url, err := EncodeImageDataURL(r.FaceImage)
		if err != nil {
			return nil, err
		}
		out.Image = url
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the persisted form.
func (r *ScanResult) UnmarshalJSON(data []byte) error {
	var in scanResultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	res := ScanResult{
		DocumentCode:         in.DocumentCode,
		IssuingState:         in.IssuingState,
		PrimaryIdentifier:    in.PrimaryIdentifier,
		SecondaryIdentifiers: in.SecondaryIdentifiers,
		Nationality:          in.Nationality,
		DocumentNumber:       in.DocumentNumber,
		PersonalNumber:       in.PersonalNumber,
		DateOfBirth:          in.DateOfBirth,
		DateOfExpiry:         in.DateOfExpiry,
		Gender:               Gender(in.Gender),
		AccessControl:        AccessControl(in.AccessControl),
		CompletedAt:          in.CompletedAt,
	}
	if in.Image != "" {
		img, err := DecodeImageDataURL(in.Image)
		if err != nil {
			return err
		}
		res.FaceImage = img
	}
	*r = res
	return nil
}

// EncodeImageDataURL encodes img as a base64 JPEG data URL.
func EncodeImageDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: imageJPEGQuality}); err != nil {
		return "", fmt.Errorf("encode face image: %w", err)
	}
	return imageDataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeImageDataURL parses a data URL written by EncodeImageDataURL.
func DecodeImageDataURL(url string) (image.Image, error) {
	payload, ok := strings.CutPrefix(url, imageDataURLPrefix)
	if !ok {
		return nil, fmt.Errorf("unsupported image data url")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode image data url: %w", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode face image: %w", err)
	}
	return img, nil
}
