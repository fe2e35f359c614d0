// Package mrz projects the machine readable zone stored in EF.DG1 onto
// normalized document fields and derives the MRZ key used for access control.
package mrz

import (
	"errors"
	"fmt"
	"strings"

	"mrtdreader/internal/mrtd/models"
)

// Format is the MRZ layout of a document.
type Format int

const (
	FormatTD1 Format = iota + 1 // ID cards: 3 lines of 30
	FormatTD2                   // 2 lines of 36
	FormatTD3                   // passports: 2 lines of 44
)

func (f Format) String() string {
	switch f {
	case FormatTD1:
		return "TD1"
	case FormatTD2:
		return "TD2"
	case FormatTD3:
		return "TD3"
	default:
		return "unknown"
	}
}

const filler = '<'

// ErrInvalidLength reports an MRZ that matches none of the known layouts.
var ErrInvalidLength = errors.New("mrz: length matches no known layout")

// Document holds the normalized MRZ fields. Dates stay in YYMMDD form.
type Document struct {
	Format               Format
	DocumentCode         string
	IssuingState         string
	PrimaryIdentifier    string
	SecondaryIdentifiers []string
	Nationality          string
	DocumentNumber       string
	PersonalNumber       string
	DateOfBirth          string
	DateOfExpiry         string
	Gender               models.Gender
}

// Parse reads an MRZ given either as the concatenated lines stored in DG1 or
// as newline separated lines.
func Parse(s string) (Document, error) {
	s = strings.Join(strings.Fields(s), "")
	switch len(s) {
	case 90:
		return parseTD1(s), nil
	case 72:
		return parseTD2(s), nil
	case 88:
		return parseTD3(s), nil
	default:
		return Document{}, fmt.Errorf("%w: %d characters", ErrInvalidLength, len(s))
	}
}

func parseTD1(s string) Document {
	l1, l2, l3 := s[0:30], s[30:60], s[60:90]
	d := Document{
		Format:       FormatTD1,
		DocumentCode: trim(l1[0:2]),
		IssuingState: trim(l1[2:5]),
		DateOfBirth:  l2[0:6],
		Gender:       gender(l2[7]),
		DateOfExpiry: l2[8:14],
		Nationality:  trim(l2[15:18]),
	}
	docNumber, optional := l1[5:14], l1[15:30]
	if l1[14] == filler {
		// Document numbers longer than 9 characters continue in the optional
		// data field, followed by their check digit.
		ext, _, _ := strings.Cut(optional, string(filler))
		if len(ext) > 0 {
			docNumber += ext[:len(ext)-1]
		}
		optional = ""
	}
	d.DocumentNumber = trim(docNumber)
	d.PersonalNumber = trim(optional)
	d.PrimaryIdentifier, d.SecondaryIdentifiers = names(l3)
	return d
}

func parseTD2(s string) Document {
	l1, l2 := s[0:36], s[36:72]
	d := Document{
		Format:         FormatTD2,
		DocumentCode:   trim(l1[0:2]),
		IssuingState:   trim(l1[2:5]),
		DocumentNumber: trim(l2[0:9]),
		Nationality:    trim(l2[10:13]),
		DateOfBirth:    l2[13:19],
		Gender:         gender(l2[20]),
		DateOfExpiry:   l2[21:27],
		PersonalNumber: trim(l2[28:35]),
	}
	d.PrimaryIdentifier, d.SecondaryIdentifiers = names(l1[5:36])
	return d
}

func parseTD3(s string) Document {
	l1, l2 := s[0:44], s[44:88]
	d := Document{
		Format:         FormatTD3,
		DocumentCode:   trim(l1[0:2]),
		IssuingState:   trim(l1[2:5]),
		DocumentNumber: trim(l2[0:9]),
		Nationality:    trim(l2[10:13]),
		DateOfBirth:    l2[13:19],
		Gender:         gender(l2[20]),
		DateOfExpiry:   l2[21:27],
		PersonalNumber: trim(l2[28:42]),
	}
	d.PrimaryIdentifier, d.SecondaryIdentifiers = names(l1[5:44])
	return d
}

// names splits the name field into the primary identifier and the secondary
// identifier components.
func names(field string) (string, []string) {
	primary, secondary, _ := strings.Cut(strings.TrimRight(field, string(filler)), "<<")
	components := []string{}
	for _, c := range strings.Split(secondary, string(filler)) {
		if c != "" {
			components = append(components, c)
		}
	}
	return strings.TrimSpace(strings.ReplaceAll(primary, string(filler), " ")), components
}

func gender(c byte) models.Gender {
	switch c {
	case 'M':
		return models.GenderMale
	case 'F':
		return models.GenderFemale
	case filler, 'X':
		return models.GenderUnspecified
	default:
		return models.GenderUnknown
	}
}

func trim(s string) string {
	return strings.Trim(s, string(filler))
}

// Apply copies the document fields into r.
func (d Document) Apply(r *models.ScanResult) {
	r.DocumentCode = d.DocumentCode
	r.IssuingState = d.IssuingState
	r.PrimaryIdentifier = d.PrimaryIdentifier
	r.SecondaryIdentifiers = append([]string{}, d.SecondaryIdentifiers...)
	r.Nationality = d.Nationality
	r.DocumentNumber = d.DocumentNumber
	r.PersonalNumber = d.PersonalNumber
	r.DateOfBirth = d.DateOfBirth
	r.DateOfExpiry = d.DateOfExpiry
	r.Gender = d.Gender
}
