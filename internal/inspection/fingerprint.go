// Package inspection serves inspection reports, computing each one through
// its engine at most once per package and parameter set and keeping the
// result in the package's cache directory.
package inspection

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// fingerprintVersion changes whenever the cached entry layout changes, so
// older entries stop matching.
const fingerprintVersion = "v1"

// Fingerprint derives the cache key of an inspection from the engine name
// and the request parameters. The package id is not part of it: entries
// live inside the package directory already. Parameter order does not
// matter and values are length-prefixed, so no two distinct sets collide
// through concatenation.
func Fingerprint(tool string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	writeField(&b, fingerprintVersion)
	writeField(&b, tool)
	for _, k := range keys {
		writeField(&b, k)
		writeField(&b, params[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeField(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
	b.WriteByte('|')
}
