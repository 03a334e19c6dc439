// Package hashutil computes the content hash used as the ETag for
// distribution session responses.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex returns the lowercase hex SHA-256 digest of buf, the digest
// used as the distribution session hash and ETag.
func SHA256Hex(buf []byte) string {
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
