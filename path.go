package filekit

import "strings"

// Remote paths use "/" regardless of backend or host platform. A directory
// path is either "" (the root) or ends with exactly one "/"; a file path
// never ends with "/". Both normalization functions are idempotent, so
// already-normalized input passes through unchanged.

// NormalizePath canonicalizes a directory path: surrounding whitespace is
// trimmed, runs of separators collapse to one, and leading and trailing
// separators are stripped before a single trailing separator is appended.
// The empty result denotes the storage root.
func NormalizePath(path string) string {
	p := strings.TrimSpace(path)
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// NormalizeFilename canonicalizes a file path: the directory portion goes
// through NormalizePath while the basename is kept as-is, dots included.
// Staked names such as "report.pdf.3f2a.staked" survive unchanged.
func NormalizeFilename(name string) string {
	n := strings.TrimSpace(name)
	i := strings.LastIndex(n, "/")
	if i < 0 {
		return n
	}
	return NormalizePath(n[:i]) + n[i+1:]
}

// SplitFilename splits a file path into its normalized directory and its
// basename.
func SplitFilename(name string) (dir, base string) {
	n := strings.TrimSpace(name)
	i := strings.LastIndex(n, "/")
	if i < 0 {
		return "", n
	}
	return NormalizePath(n[:i]), n[i+1:]
}
