// Package idgen generates the short, URL-safe identifiers CTProto's wire
// format requires (messageId, fileId: 10 characters, alphabet
// [A-Za-z0-9_-]). Longer internal identifiers such as connection ids are
// not generated here; internal/connserver uses github.com/google/uuid.
//
// No example in the retrieved corpus ships a nanoid-shaped short-id
// generator, so the 10-char generator here is built directly on
// crypto/rand — documented in DESIGN.md as a standard-library choice, not an
// omission.
package idgen

import (
	"crypto/rand"
	"fmt"
)

// WireIDLength is the fixed length of a messageId or fileId per spec.md §3.
const WireIDLength = 10

// alphabet is the URL-safe id alphabet from spec.md §3: [A-Za-z0-9_-].
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

// WireID returns a fresh 10-character id drawn uniformly from the wire
// alphabet, suitable for use as a messageId or fileId.
func WireID() string {
	var buf [WireIDLength]byte
	randBytes := make([]byte, WireIDLength)
	if _, err := rand.Read(randBytes); err != nil {
		// crypto/rand.Read on the standard Reader only fails if the OS
		// entropy source is unavailable, which is unrecoverable here.
		panic(fmt.Sprintf("idgen: crypto/rand unavailable: %v", err))
	}
	for i, b := range randBytes {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf[:])
}

// IsValidWireID reports whether s has the shape of a valid messageId/fileId:
// exactly WireIDLength characters, every one drawn from the wire alphabet.
func IsValidWireID(s string) bool {
	if len(s) != WireIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isAlphabetByte(s[i]) {
			return false
		}
	}
	return true
}

func isAlphabetByte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z':
		return true
	case b >= 'a' && b <= 'z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '_' || b == '-':
		return true
	default:
		return false
	}
}
