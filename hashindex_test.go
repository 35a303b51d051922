// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipvfs

import (
	"errors"
	"testing"
)

func fileEntry(name string) *Entry {
	return &Entry{name: name, kind: kindResolved, lastModTime: 1}
}

func TestHashIndexInsertFabricatesAncestors(t *testing.T) {
	h := newHashIndex(4)
	if err := h.Insert(fileEntry("a/b/c.txt")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	a, err := h.Find("a")
	if err != nil {
		t.Fatalf("Find(a): %v", err)
	}
	if !a.IsDir() || !a.isPlaceholder() {
		t.Fatalf("a: want fabricated directory, got kind=%v placeholder=%v", a.kind, a.isPlaceholder())
	}

	b, err := h.Find("a/b")
	if err != nil {
		t.Fatalf("Find(a/b): %v", err)
	}
	if !b.isPlaceholder() {
		t.Fatalf("a/b: want placeholder")
	}

	c, err := h.Find("a/b/c.txt")
	if err != nil {
		t.Fatalf("Find(a/b/c.txt): %v", err)
	}
	if c.isPlaceholder() {
		t.Fatalf("c.txt: want real entry, not a placeholder")
	}
}

func TestHashIndexInsertMergesPlaceholder(t *testing.T) {
	h := newHashIndex(4)
	if err := h.Insert(fileEntry("dir/file.txt")); err != nil {
		t.Fatalf("Insert file: %v", err)
	}

	real := &Entry{name: "dir", kind: kindDirectory, lastModTime: 42, mode: 0o755}
	if err := h.Insert(real); err != nil {
		t.Fatalf("Insert real dir: %v", err)
	}

	dir, err := h.Find("dir")
	if err != nil {
		t.Fatalf("Find(dir): %v", err)
	}
	if dir.isPlaceholder() {
		t.Fatalf("dir: want merged real entry, still looks like a placeholder")
	}
	if dir.lastModTime != 42 {
		t.Fatalf("dir.lastModTime = %d, want 42", dir.lastModTime)
	}

	// The placeholder's tree linkage must survive the merge: the child
	// inserted before the merge is still reachable afterward.
	found := false
	for c := dir.children; c != nil; c = c.sibling {
		if c.name == "dir/file.txt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("dir/file.txt not reachable from dir.children after merge")
	}
}

func TestHashIndexInsertDuplicateRejected(t *testing.T) {
	h := newHashIndex(4)
	if err := h.Insert(fileEntry("a.txt")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := h.Insert(fileEntry("a.txt"))
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Insert duplicate: got %v, want ErrCorrupt", err)
	}
}

func TestHashIndexFindCaseInsensitive(t *testing.T) {
	h := newHashIndex(4)
	if err := h.Insert(fileEntry("Docs/Readme.TXT")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := h.Find("docs/readme.txt"); err != nil {
		t.Fatalf("Find case-folded: %v", err)
	}
}

func TestHashIndexFindRootAliases(t *testing.T) {
	h := newHashIndex(4)
	for _, p := range []string{"", "."} {
		e, err := h.Find(p)
		if err != nil {
			t.Fatalf("Find(%q): %v", p, err)
		}
		if e != h.root {
			t.Fatalf("Find(%q) did not return the synthetic root", p)
		}
	}
}

func TestHashIndexFindMovesToFront(t *testing.T) {
	h := newHashIndex(1) // single bucket forces every entry into one chain
	names := []string{"one", "two", "three"}
	for _, n := range names {
		if err := h.Insert(fileEntry(n)); err != nil {
			t.Fatalf("Insert(%s): %v", n, err)
		}
	}

	if _, err := h.Find("three"); err != nil {
		t.Fatalf("Find(three): %v", err)
	}
	if h.buckets[0] == nil || h.buckets[0].name != "three" {
		t.Fatalf("bucket head after Find(three) = %v, want three spliced to front", h.buckets[0])
	}
}

func TestHashIndexFindMissing(t *testing.T) {
	h := newHashIndex(4)
	if _, err := h.Find("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Find(nope) = %v, want ErrNotFound", err)
	}
}

func TestHashIndexAncestorNotADirectoryRejected(t *testing.T) {
	h := newHashIndex(4)
	if err := h.Insert(fileEntry("a")); err != nil {
		t.Fatalf("Insert(a): %v", err)
	}
	err := h.Insert(fileEntry("a/b"))
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Insert(a/b) under file a = %v, want ErrCorrupt", err)
	}
}
