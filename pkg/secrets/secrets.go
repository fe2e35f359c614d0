// Package secrets generates random values for service credentials.
package secrets

import (
	"crypto/rand"
	"encoding/base64"

	dErrors "mrtdreader/pkg/domain-errors"
)

// DefaultSize is the byte length of generated secrets.
const DefaultSize = 32

// Generate returns n random bytes encoded as unpadded base64url. n below
// DefaultSize is raised to DefaultSize.
func Generate(n int) (string, error) {
	if n < DefaultSize {
		n = DefaultSize
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate secret")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
