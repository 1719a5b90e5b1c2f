// Package util provides shared utility functions.
package util

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Fingerprint computes a short FNV-1a hash of a pasted text block so both
// humans can read it aloud and confirm that an offer or answer arrived intact.
// Line endings are normalized first; terminals often turn "\r\n" into "\n".
func Fingerprint(text string) string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.TrimSpace(normalized)

	h := fnv.New32a()
	h.Write([]byte(normalized))
	return fmt.Sprintf("%08x", h.Sum32())
}
