package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// chunkingVersion is appended to every cache key so that a future
// change to chunking semantics invalidates the whole cache rather
// than silently returning embeddings computed over a different slice
// of the source (spec.md §4.B).
const chunkingVersion = "|v1_chunking"

// Normalize applies the byte-normalization rule spec.md §3 requires
// for content_hash: CRLF -> LF, then trim trailing whitespace. Key
// and ContentHash (the FileState.ContentHash the indexer records) both
// hash this result, so they share this function.
func Normalize(content string) string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	return strings.TrimRight(normalized, " \t\n\r\v\f")
}

// Key computes the content-addressed cache key: SHA-256 of the
// normalized content, the model ID, and the literal "|v1_chunking"
// (spec.md §4.B — this exact concatenation is what makes the key
// stable across repositories).
func Key(content, modelID string) string {
	h := sha256.New()
	h.Write([]byte(Normalize(content)))
	h.Write([]byte(modelID))
	h.Write([]byte(chunkingVersion))
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash computes the FileState.ContentHash for a whole file:
// SHA-256 of the normalized bytes alone (no model or chunking suffix),
// per spec.md §3.
func ContentHash(content string) string {
	h := sha256.New()
	h.Write([]byte(Normalize(content)))
	return hex.EncodeToString(h.Sum(nil))
}
