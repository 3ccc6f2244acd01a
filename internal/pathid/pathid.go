// Package pathid derives the stable, content-addressed identifiers used
// throughout MeowDiff: project_id (keyed off a canonical path) and record_id
// (keyed off a record's timestamp, touched paths, and diff hash).
//
// Both follow the same shape as tk's shortIDFromUUIDBits (internal/store/id.go
// in the example pack): hash something stable, take the top bits, encode them
// in a short fixed-width alphabet. MeowDiff has no creation-time UUID to draw
// the bits from, so it hashes its own identity inputs with BLAKE3 instead.
package pathid

import (
	"encoding/binary"
	"encoding/hex"
	"path/filepath"
	"sort"
	"strings"

	"lukechampine.com/blake3"
)

const (
	// ProjectIDLength is the number of hex characters kept from the project
	// hash.
	ProjectIDLength = 16

	// RecordIDLength is the number of base62 characters in a record_id.
	RecordIDLength = 12

	base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// ProjectID derives a stable project identifier from a project's canonical
// absolute path. The same path always yields the same ID; different paths
// practically never collide.
func ProjectID(canonicalAbsPath string) string {
	sum := blake3.Sum256([]byte("project:" + filepath.Clean(canonicalAbsPath)))

	return hex.EncodeToString(sum[:])[:ProjectIDLength]
}

// RecordID derives a record's identifier from its closing timestamp (unix
// nanoseconds), the set of paths it touched, and its diff hash. Paths are
// sorted before hashing so argument order never affects the result.
//
// RecordID does not embed ordering the way tk's path-derived short ID does:
// records are ordered by ts_end in the index, not by the lexicographic value
// of record_id.
func RecordID(tsEndUnixNano int64, paths []string, diffHash string) string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(tsEndUnixNano))

	h := blake3.New(32, nil)
	h.Write(tsBuf[:])
	h.Write([]byte(strings.Join(sorted, "\x00")))
	h.Write([]byte(diffHash))

	sum := h.Sum(nil)

	return encodeBase62Top60(sum)
}

// encodeBase62Top60 encodes the top 60 bits of a BLAKE3 digest as a
// fixed-width, 12-character base62 string.
func encodeBase62Top60(digest []byte) string {
	top60 := (uint64(digest[0]) << 52) |
		(uint64(digest[1]) << 44) |
		(uint64(digest[2]) << 36) |
		(uint64(digest[3]) << 28) |
		(uint64(digest[4]) << 20) |
		(uint64(digest[5]) << 12) |
		(uint64(digest[6]) << 4) |
		(uint64(digest[7]) >> 4)

	var buf [RecordIDLength]byte
	value := top60
	for i := RecordIDLength - 1; i >= 0; i-- {
		buf[i] = base62Alphabet[value%62]
		value /= 62
	}

	return string(buf[:])
}
