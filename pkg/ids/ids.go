// Package ids provides deterministic content hashing and ID generation for
// runs, checkpoints, and artifacts, mirroring the hashing and identifier
// conventions the rest of the pack uses (google/uuid for opaque ids,
// sha256 for content addressing).
package ids

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HashBytes returns the lowercase hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashCanonical deterministically hashes v by marshalling it to JSON.
// encoding/json already serializes map keys in sorted order, which gives
// the "canonical serialization, sorted keys" property id hashing needs
// for without a bespoke canonicalizer.
func HashCanonical(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical hash: marshal: %w", err)
	}
	return HashBytes(data), nil
}

// NewUUID returns a new random UUID string, used for checkpoint_id and
// artifact_id.
func NewUUID() string {
	return uuid.New().String()
}

// NewRunID returns a time-prefixed, lexicographically sortable run id of
// the form "<compact-RFC3339Nano>-<profile>-<rand4hex>". Sorting run ids as
// strings sorts them by creation time, matching the "sortable by
// creation time" requirement.
func NewRunID(profile string, now time.Time) string {
	ts := now.UTC().Format("20060102T150405.000000000Z")
	var randBuf [2]byte
	_, _ = rand.Read(randBuf[:])
	return fmt.Sprintf("%s-%s-%s", ts, sanitizeProfile(profile), hex.EncodeToString(randBuf[:]))
}

func sanitizeProfile(p string) string {
	if p == "" {
		return "unknown"
	}
	return strings.ToLower(p)
}

// BlobPath returns the content-addressed relative path for a blob hash,
// matching the "artifacts/blobs/<hash-prefix>/<hash>" layout.
func BlobPath(hash string) string {
	if len(hash) < 2 {
		return hash
	}
	return hash[:2] + "/" + hash
}
