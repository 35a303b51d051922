// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipvfs

import (
	"bytes"
	"testing"
)

func TestLocateCentralDirectoryPlain(t *testing.T) {
	raw := buildZip([]testEntry{{name: "hello.txt", data: []byte("hello world")}})
	src := NewByteSource(bytes.NewReader(raw), int64(len(raw)))

	loc, err := locateCentralDirectory(src)
	if err != nil {
		t.Fatalf("locateCentralDirectory: %v", err)
	}
	if loc.dataStart != 0 {
		t.Fatalf("dataStart = %d, want 0 for a prefix-free archive", loc.dataStart)
	}
	if loc.entryCount != 1 {
		t.Fatalf("entryCount = %d, want 1", loc.entryCount)
	}
	if loc.zip64 {
		t.Fatalf("zip64 = true, want false for a small plain archive")
	}
}

func TestLocateCentralDirectorySelfExtractorPrefix(t *testing.T) {
	pure := buildZip([]testEntry{{name: "a.txt", data: []byte("payload")}})
	prefix := bytes.Repeat([]byte{0x90}, 4096) // simulated launcher stub
	full := append(append([]byte{}, prefix...), pure...)

	src := NewByteSource(bytes.NewReader(full), int64(len(full)))
	loc, err := locateCentralDirectory(src)
	if err != nil {
		t.Fatalf("locateCentralDirectory: %v", err)
	}
	if loc.dataStart != int64(len(prefix)) {
		t.Fatalf("dataStart = %d, want %d", loc.dataStart, len(prefix))
	}

	entries, _, err := parseCentralDirectory(src, loc)
	if err != nil {
		t.Fatalf("parseCentralDirectory: %v", err)
	}
	if len(entries) != 1 || entries[0].name != "a.txt" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestLocateCentralDirectoryTrailingComment(t *testing.T) {
	pure := buildZip([]testEntry{{name: "a.txt", data: []byte("x")}})
	// Overwrite the EOCD comment length field (last two bytes) and
	// append a comment, exercising the backward scan past arbitrary
	// trailing bytes.
	comment := []byte("built by a test, not a real tool")
	pure[len(pure)-2] = byte(len(comment))
	pure[len(pure)-1] = byte(len(comment) >> 8)
	full := append(pure, comment...)

	src := NewByteSource(bytes.NewReader(full), int64(len(full)))
	loc, err := locateCentralDirectory(src)
	if err != nil {
		t.Fatalf("locateCentralDirectory: %v", err)
	}
	if loc.entryCount != 1 {
		t.Fatalf("entryCount = %d, want 1", loc.entryCount)
	}
}

func TestLocateCentralDirectoryTruncatedRejected(t *testing.T) {
	raw := buildZip([]testEntry{{name: "a.txt", data: []byte("x")}})
	truncated := raw[:len(raw)/2]
	src := NewByteSource(bytes.NewReader(truncated), int64(len(truncated)))

	if _, err := locateCentralDirectory(src); err == nil {
		t.Fatalf("locateCentralDirectory on truncated archive: want error, got nil")
	}
}
