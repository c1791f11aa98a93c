package object

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashBytes computes the raw SHA-256 of data, the digest Git LFS uses as an
// object id.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashObject computes the SHA-1 of the envelope "type len\0content", which is
// how Git (and therefore GitHub) addresses objects.
func HashObject(objType ObjectType, data []byte) Hash {
	header := fmt.Sprintf("%s %d\x00", objType, len(data))
	h := sha1.New()
	h.Write([]byte(header))
	h.Write(data)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// ValidateHash checks that h is a 40-character hex Git object id.
func ValidateHash(h Hash) error {
	return validateHex(string(h), 40)
}

// ValidateOID checks that oid is a 64-character hex SHA-256 digest.
func ValidateOID(oid string) error {
	return validateHex(oid, 64)
}

func validateHex(s string, n int) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("hash is empty")
	}
	if len(s) != n {
		return fmt.Errorf("hash length %d, expected %d", len(s), n)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return fmt.Errorf("hash contains non-hex characters: %w", err)
	}
	return nil
}
