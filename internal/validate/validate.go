// Package validate implements the path and payload validator (C1): the
// single choke point every request path and body passes through before any
// storage touch.
package validate

import (
	"strings"

	"github.com/zynqcloud/capdocs/internal/apperr"
)

const (
	// MaxPathBytes is the absolute cap on a normalized path's length.
	MaxPathBytes = 1024
	// MaxSegmentBytes is the per-segment cap.
	MaxSegmentBytes = 255

	// MaxFileContentBytes is the PUT body size limit (10 MiB).
	MaxFileContentBytes = 10 * 1024 * 1024
	// MaxAppendContentBytes is the single-append content size limit (1 MiB).
	MaxAppendContentBytes = 1024 * 1024
)

// Path normalizes and validates a already percent-decoded request path.
// It rejects traversal, null bytes, and oversize paths/segments, and
// collapses duplicate slashes and a trailing slash.
func Path(decoded string) (string, error) {
	if strings.Contains(decoded, "\x00") {
		return "", apperr.InvalidPath("path contains a null byte")
	}
	if !strings.HasPrefix(decoded, "/") {
		decoded = "/" + decoded
	}

	segments := strings.Split(decoded, "/")
	clean := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if seg == ".." {
			return "", apperr.InvalidPath("path must not contain ..")
		}
		if seg == "." {
			continue
		}
		if len(seg) > MaxSegmentBytes {
			return "", apperr.InvalidPath("path segment exceeds maximum length")
		}
		if hasDisallowedControl(seg) {
			return "", apperr.InvalidPath("path contains a disallowed control character")
		}
		clean = append(clean, seg)
	}

	normalized := "/" + strings.Join(clean, "/")
	if len(normalized) > MaxPathBytes {
		return "", apperr.InvalidPath("path exceeds maximum length")
	}
	return normalized, nil
}

// hasDisallowedControl rejects control characters other than standard
// filename whitespace; backslash is accepted as a literal byte-preserving
// character per §4.1.
func hasDisallowedControl(segment string) bool {
	for _, r := range segment {
		if r < 0x20 && r != '\t' {
			return true
		}
		if r == 0x7f {
			return true
		}
	}
	return false
}

// FileContentSize enforces the 10 MiB file body limit (P9).
func FileContentSize(n int) error {
	if n > MaxFileContentBytes {
		return apperr.PayloadTooLarge("file content exceeds the maximum size", MaxFileContentBytes)
	}
	return nil
}

// AppendContentSize enforces the 1 MiB single-append content limit (P9).
func AppendContentSize(n int) error {
	if n > MaxAppendContentBytes {
		return apperr.PayloadTooLarge("append content exceeds the maximum size", MaxAppendContentBytes)
	}
	return nil
}

// Basename returns the final path segment, or "" for the root.
func Basename(path string) string {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// Dirname returns the folder containing path ("/" for a root-level file).
func Dirname(path string) string {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

// JoinFolder joins a folder path and a basename into a normalized path.
func JoinFolder(folder, name string) string {
	folder = strings.TrimSuffix(folder, "/")
	if folder == "" {
		return "/" + name
	}
	return folder + "/" + name
}
