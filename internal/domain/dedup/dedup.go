// Package dedup implements spec.md §4.3's content-hash dedup layer:
// hashing normalized text into the value the store's unique
// (subreddit, contentType, contentHash) index keys ingestion dedup on.
// The in-process match-dedup layer lives separately in
// internal/infra/concurrency.Deduplicator, which this package does not
// wrap — the Match Engine calls that one directly, since it needs no
// store round-trip.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns the sha-256 hex digest of normalizedText, the value
// stored in RedditContent.ContentHash and keyed by the store's ingestion
// dedup index. Hashing the normalized (not raw) text means two posts that
// differ only in case, markdown formatting, or whitespace collapse to the
// same hash and are treated as the same content.
func ContentHash(normalizedText string) string {
	sum := sha256.Sum256([]byte(normalizedText))
	return hex.EncodeToString(sum[:])
}
