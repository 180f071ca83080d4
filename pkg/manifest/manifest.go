// Package manifest computes content digests and encodes the dependency
// manifest header that prefixes every derived artifact.
//
// A header is a single line of comma-separated "key:digest" pairs. Keys are
// written in sorted order so the same dependency set always renders the same
// line, which keeps artifact files stable across runs.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// DigestLen is the number of hex characters kept from the SHA-256 sum.
const DigestLen = 16

// Manifest maps a dependency key to the digest of that dependency's content.
type Manifest map[string]string

// Digest returns the fixed-length content digest of text.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:DigestLen]
}

// Validate reports whether m can be written as a header.
func (m Manifest) Validate() error {
	if len(m) == 0 {
		return fmt.Errorf("manifest: empty")
	}
	for k, d := range m {
		if !validKey(k) {
			return fmt.Errorf("manifest: invalid key %q", k)
		}
		if !validDigest(d) {
			return fmt.Errorf("manifest: invalid digest %q for key %q", d, k)
		}
	}
	return nil
}

// Equal reports whether m and other hold the same keys with the same digests.
func (m Manifest) Equal(other Manifest) bool {
	if len(m) != len(other) {
		return false
	}
	for k, d := range m {
		if od, ok := other[k]; !ok || od != d {
			return false
		}
	}
	return true
}

// Keys returns the manifest keys in sorted order.
func (m Manifest) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Format renders m as a header line without the trailing newline.
// The caller is expected to have validated m.
func Format(m Manifest) string {
	keys := m.Keys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ":" + m[k]
	}
	return strings.Join(parts, ",")
}

// Parse decodes a header line. Any malformed or missing header yields
// ok == false; Parse never fails with an error.
func Parse(line string) (m Manifest, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, false
	}
	m = make(Manifest)
	for _, pair := range strings.Split(line, ",") {
		k, d, found := strings.Cut(pair, ":")
		if !found || !validKey(k) || !validDigest(d) {
			return nil, false
		}
		if _, dup := m[k]; dup {
			return nil, false
		}
		m[k] = d
	}
	return m, true
}

// Split separates a stored artifact into its manifest and body.
// ok is false when the first line is not a valid header; in that case body
// holds the whole content.
func Split(content string) (m Manifest, body string, ok bool) {
	first, rest, _ := strings.Cut(content, "\n")
	m, ok = Parse(first)
	if !ok {
		return nil, content, false
	}
	return m, rest, true
}

// Join prefixes body with the header for m.
func Join(m Manifest, body string) string {
	return Format(m) + "\n" + body
}

func validKey(k string) bool {
	if k == "" {
		return false
	}
	for _, r := range k {
		if r == ':' || r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return false
		}
	}
	return true
}

func validDigest(d string) bool {
	if len(d) != DigestLen {
		return false
	}
	for i := 0; i < len(d); i++ {
		c := d[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
