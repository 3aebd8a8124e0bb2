// Package checksum derives content digests for change detection and chunk ids.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumReader digests r without buffering it; it returns the same value as Sum
// over the bytes read.
func SumReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChunkID derives a stable chunk identifier from its owning source, position and text.
// Re-ingesting an unchanged file yields the same identifiers.
func ChunkID(sourceID string, ordinal int, text string) string {
	h := sha256.New()
	h.Write([]byte(sourceID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(ordinal)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
