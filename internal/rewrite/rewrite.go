// Package rewrite moves reports between their stored, host independent
// form and the form served to a particular client.
//
// Stored reports reference assets as "{hostname}/<packageId>/assets/...".
// Serving a report expands the leading placeholder into the base URL of
// the request. Only asset reference fields are rewritten; text content
// passes through untouched in both directions.
package rewrite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// HostnameToken is the placeholder standing for the service base URL.
const HostnameToken = "hostname"

// assetKeys are the report fields holding file references.
var assetKeys = map[string]bool{
	"preview":  true,
	"location": true,
	"source":   true,
}

// Portable replaces every occurrence of the absolute storage root in the
// asset references of report with the {hostname} placeholder. Values that
// referenced the root get their backslashes turned into slashes.
func Portable(report json.RawMessage, storageRoot string) (json.RawMessage, error) {
	roots := rootVariants(storageRoot)
	if len(roots) == 0 {
		return report, nil
	}
	placeholder := "{" + HostnameToken + "}"

	return transform(report, func(s string) string {
		out, n := replaceRoots(s, roots, placeholder)
		if n == 0 {
			return s
		}
		return strings.ReplaceAll(out, `\`, "/")
	})
}

// Expand substitutes placeholders at the start of asset references. A
// value is rewritten only when it is "{token}" or begins with "{token}/".
// Tokens match case-insensitively.
func Expand(report json.RawMessage, substitutions map[string]string) (json.RawMessage, error) {
	if len(substitutions) == 0 {
		return report, nil
	}
	subs := make(map[string]string, len(substitutions))
	for k, v := range substitutions {
		subs[strings.ToLower(k)] = v
	}

	return transform(report, func(s string) string {
		if !strings.HasPrefix(s, "{") {
			return s
		}
		end := strings.IndexByte(s, '}')
		if end < 0 {
			return s
		}
		rest := s[end+1:]
		if rest != "" && rest[0] != '/' {
			return s
		}
		v, ok := subs[strings.ToLower(s[1:end])]
		if !ok {
			return s
		}
		return v + rest
	})
}

// rootVariants returns the root in the spellings an engine may emit, longest first.
func rootVariants(root string) []string {
	root = strings.TrimRight(root, `/\`)
	if root == "" {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, v := range []string{
		root,
		strings.ReplaceAll(root, `\`, "/"),
		strings.ReplaceAll(root, "/", `\`),
	} {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// replaceRoots replaces each occurrence of any root that ends at a path
// boundary. It scans left to right so no text is rewritten twice.
func replaceRoots(s string, roots []string, placeholder string) (string, int) {
	var b strings.Builder
	n := 0
	for i := 0; i < len(s); {
		matched := ""
		for _, r := range roots {
			if i > 0 && isPathByte(s[i-1]) {
				break
			}
			if strings.HasPrefix(s[i:], r) {
				next := i + len(r)
				if next == len(s) || s[next] == '/' || s[next] == '\\' {
					matched = r
					break
				}
			}
		}
		if matched == "" {
			b.WriteByte(s[i])
			i++
			continue
		}
		b.WriteString(placeholder)
		i += len(matched)
		n++
	}
	if n == 0 {
		return s, 0
	}
	return b.String(), n
}

// isPathByte reports whether c can continue a path, in which case a root
// starting right after it is only the tail of a longer path.
func isPathByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte(`:._-/\`, c) >= 0
}

// transform applies fn to the string values of a JSON document found under
// an asset key, directly or inside arrays. Everything else, numbers
// included, is preserved.
func transform(doc json.RawMessage, fn func(string) string) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}

	v = walk(v, false, fn)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func walk(v any, asset bool, fn func(string) string) any {
	switch t := v.(type) {
	case string:
		if !asset {
			return t
		}
		return fn(t)
	case []any:
		for i := range t {
			t[i] = walk(t[i], asset, fn)
		}
		return t
	case map[string]any:
		for k, val := range t {
			t[k] = walk(val, assetKeys[k], fn)
		}
		return t
	default:
		return v
	}
}
