// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipvfs

import (
	"fmt"
	"io/fs"
	"strings"

	"golang.org/x/text/cases"
)

// caseFolder implements the case-insensitive UTF-8 comparison spec
// requires, using golang.org/x/text/cases rather than a hand-rolled
// strings.ToLower, which does not fold every Unicode case pair
// correctly. Both insertion and lookup must fold through the exact
// same transformer or they disagree, so it is shared via this single
// package-level value.
var caseFolder = cases.Fold()

func foldPath(p string) string {
	return caseFolder.String(p)
}

func equalFold(a, b string) bool {
	return foldPath(a) == foldPath(b)
}

// hashIndex is the archive's directory tree plus its hash index:
// buckets of same-name-fold chains for O(1)-ish lookup, and, hanging
// off the synthetic root, the children/sibling tree used to enumerate
// directories.
type hashIndex struct {
	buckets []*Entry
	root    *Entry
}

// newHashIndex allocates a table sized max(1, entryCount/5), per spec.
func newHashIndex(entryCount int64) *hashIndex {
	size := entryCount / 5
	if size < 1 {
		size = 1
	}
	return &hashIndex{
		buckets: make([]*Entry, size),
		root:    &Entry{name: "", kind: kindDirectory, mode: fs.ModeDir | 0o755},
	}
}

func (h *hashIndex) bucketFor(foldedPath string) int {
	var hv uint32
	for i := 0; i < len(foldedPath); i++ {
		hv = hv*31 + uint32(foldedPath[i])
	}
	return int(hv % uint32(len(h.buckets)))
}

// lookup finds path without MRU reordering, used internally while
// building the tree (ensureAncestors, duplicate detection).
func (h *hashIndex) lookup(path string) *Entry {
	if path == "" {
		return h.root
	}
	folded := foldPath(path)
	idx := h.bucketFor(folded)
	for e := h.buckets[idx]; e != nil; e = e.hashNext {
		if foldPath(e.name) == folded {
			return e
		}
	}
	return nil
}

// Find looks up path, splicing a hit to the head of its bucket
// (move-to-front / MRU). An empty path returns the synthetic root.
func (h *hashIndex) Find(path string) (*Entry, error) {
	if path == "" || path == "." {
		return h.root, nil
	}
	folded := foldPath(path)
	idx := h.bucketFor(folded)

	var prev *Entry
	for e := h.buckets[idx]; e != nil; e = e.hashNext {
		if foldPath(e.name) == folded {
			if prev != nil {
				prev.hashNext = e.hashNext
				e.hashNext = h.buckets[idx]
				h.buckets[idx] = e
			}
			return e, nil
		}
		prev = e
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
}

// Insert adds one real central-directory-backed entry, fabricating any
// missing ancestor directories and overwriting a previously fabricated
// placeholder's metadata in place.
func (h *hashIndex) Insert(e *Entry) error {
	if existing := h.lookup(e.name); existing != nil {
		if !existing.isPlaceholder() {
			return fmt.Errorf("%w: duplicate entry %q", ErrCorrupt, e.name)
		}
		mergeEntry(existing, e)
		return nil
	}
	if err := h.ensureAncestors(e.name); err != nil {
		return err
	}
	return h.link(e)
}

// ensureAncestors fabricates a placeholder directory for every missing
// path segment above name, recursing toward the root first so parents
// always exist before children are linked.
func (h *hashIndex) ensureAncestors(name string) error {
	parent, _ := splitPath(name)
	if parent == "" {
		return nil
	}
	if existing := h.lookup(parent); existing != nil {
		if !existing.IsDir() {
			return fmt.Errorf("%w: %q exists and is not a directory", ErrCorrupt, parent)
		}
		return nil
	}
	if err := h.ensureAncestors(parent); err != nil {
		return err
	}
	placeholder := &Entry{name: parent, kind: kindDirectory, mode: fs.ModeDir | 0o755}
	return h.link(placeholder)
}

// link attaches e to its parent's children list and to its hash
// bucket's head. The parent must already exist (ensureAncestors is
// responsible for that).
func (h *hashIndex) link(e *Entry) error {
	parentPath, _ := splitPath(e.name)
	var parent *Entry
	if parentPath == "" {
		parent = h.root
	} else {
		parent = h.lookup(parentPath)
		if parent == nil {
			return fmt.Errorf("%w: missing parent for %q", ErrCorrupt, e.name)
		}
		if !parent.IsDir() {
			return fmt.Errorf("%w: parent of %q is not a directory", ErrCorrupt, e.name)
		}
	}

	e.sibling = parent.children
	parent.children = e

	idx := h.bucketFor(foldPath(e.name))
	e.hashNext = h.buckets[idx]
	h.buckets[idx] = e
	return nil
}

// mergeEntry overwrites a fabricated placeholder's fields with the
// real record's fields, preserving the placeholder's existing tree and
// hash-bucket links.
func mergeEntry(placeholder, real *Entry) {
	children, sibling, hashNext, name := placeholder.children, placeholder.sibling, placeholder.hashNext, placeholder.name
	*placeholder = *real
	placeholder.children, placeholder.sibling, placeholder.hashNext, placeholder.name = children, sibling, hashNext, name
}

// splitPath splits a slash-separated archive path into its parent
// directory path and final segment. splitPath("a/b/c") == ("a/b", "c");
// splitPath("a") == ("", "a").
func splitPath(p string) (parent, base string) {
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return "", p
	}
	return p[:idx], p[idx+1:]
}
