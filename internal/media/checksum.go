package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Checksum returns the SHA-256 hex digest of data
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChecksumReader hashes everything readable from r and returns the digest
// together with the number of bytes read
func ChecksumReader(r io.Reader) (string, int64, error) {
	hash := sha256.New()
	n, err := io.Copy(hash, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to read content: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), n, nil
}
