// Package checksum computes content digests used for optimistic concurrency.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/varde/mnemo/internal/models"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Note digests the caller-visible fields of a note (title, body, tags).
// Task and timestamp changes do not alter the digest, so an If-Match update
// only conflicts on edits the caller could actually observe.
func Note(n *models.Note) string {
	h := sha256.New()
	h.Write([]byte(n.Title))
	h.Write([]byte{0})
	h.Write([]byte(n.Body))
	for _, tag := range n.Tags {
		h.Write([]byte{0})
		h.Write([]byte(tag))
	}
	return hex.EncodeToString(h.Sum(nil))
}
