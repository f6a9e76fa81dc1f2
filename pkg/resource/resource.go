// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package resource

import (
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"
)

// Kind distinguishes the three Resource variants.
type Kind int

const (
	// KindMemory holds an owned, in-process byte buffer (e.g. a captured body).
	KindMemory Kind = iota
	// KindFile names a path resolved relative to the data directory.
	KindFile
	// KindInline holds a textual literal, e.g. a CA blob pasted by a user.
	KindInline
)

func (k Kind) String() string {
	switch k {
	case KindMemory:
		return "memory"
	case KindFile:
		return "file"
	case KindInline:
		return "inline"
	default:
		return "unknown"
	}
}

// Resource is a tagged union over the three ways the proxy core holds
// bytes: an owned buffer, a path relative to the data directory, or an
// inline string literal. Exactly one of its fields is meaningful,
// selected by Kind.
type Resource struct {
	kind   Kind
	buffer []byte
	path   string
	inline string
}

// NewMemory wraps an owned byte buffer. A nil buffer is treated as empty.
func NewMemory(buffer []byte) Resource {
	return Resource{kind: KindMemory, buffer: buffer}
}

// NewFile names a path resolved relative to a data directory at read time.
func NewFile(path string) Resource {
	return Resource{kind: KindFile, path: path}
}

// NewInline wraps a textual literal with no on-disk backing.
func NewInline(s string) Resource {
	return Resource{kind: KindInline, inline: s}
}

// Empty returns a Memory resource with a zero-length buffer, the
// canonical "nothing captured" value.
func Empty() Resource {
	return NewMemory(nil)
}

// Kind reports which variant this Resource holds.
func (r Resource) Kind() Kind {
	return r.kind
}

// Path returns the relative path for a File resource, and ok=false
// otherwise.
func (r Resource) Path() (string, bool) {
	if r.kind != KindFile {
		return "", false
	}
	return r.path, true
}

// Bytes returns the raw buffer for a Memory resource, and ok=false
// otherwise.
func (r Resource) Bytes() ([]byte, bool) {
	if r.kind != KindMemory {
		return nil, false
	}
	return r.buffer, true
}

// AsString materializes the resource as UTF-8 text. File resolution is an
// I/O fault, not a logic fault: a missing or unreadable file returns an
// error rather than panicking. A Memory buffer that is not valid UTF-8
// also returns an error.
func (r Resource) AsString() (string, error) {
	switch r.kind {
	case KindMemory:
		if !utf8.Valid(r.buffer) {
			return "", fmt.Errorf("resource: memory buffer is not valid UTF-8")
		}
		return string(r.buffer), nil
	case KindFile:
		data, err := os.ReadFile(r.path)
		if err != nil {
			return "", fmt.Errorf("resource: read file %q: %w", r.path, err)
		}
		return string(data), nil
	case KindInline:
		return r.inline, nil
	default:
		return "", fmt.Errorf("resource: unknown kind %d", r.kind)
	}
}

// ResolveAsString is identical to AsString except that File paths are
// joined to dataDir before being read, so a config can move its
// workspace without its CA resources going stale. It is kept as a free
// function taking the anchoring directory (rather than a method needing
// a *config.Config) so this package never imports config.
func ResolveAsString(r Resource, dataDir string) (string, error) {
	if r.kind != KindFile {
		return r.AsString()
	}
	full := filepath.Join(dataDir, r.path)
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("resource: read file %q: %w", full, err)
	}
	return string(data), nil
}
