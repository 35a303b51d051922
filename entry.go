// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipvfs

import (
	"crypto/cipher"
	"io/fs"
)

// entryKind is the resolution state of an Entry, per the state machine
// in the entry resolver.
type entryKind uint8

const (
	kindUnresolvedFile entryKind = iota
	kindUnresolvedSymlink
	kindResolving
	kindResolved
	kindDirectory
	kindBrokenFile
	kindBrokenSymlink
)

func (k entryKind) String() string {
	switch k {
	case kindUnresolvedFile:
		return "unresolved-file"
	case kindUnresolvedSymlink:
		return "unresolved-symlink"
	case kindResolving:
		return "resolving"
	case kindResolved:
		return "resolved"
	case kindDirectory:
		return "directory"
	case kindBrokenFile:
		return "broken-file"
	case kindBrokenSymlink:
		return "broken-symlink"
	default:
		return "unknown"
	}
}

// aesKeyStrength is one of the three WinZip AES key sizes.
type aesKeyStrength uint16

const (
	aesKeyStrength128 aesKeyStrength = 128
	aesKeyStrength192 aesKeyStrength = 192
	aesKeyStrength256 aesKeyStrength = 256
)

func (s aesKeyStrength) saltLen() int {
	switch s {
	case aesKeyStrength128:
		return 8
	case aesKeyStrength192:
		return 12
	default:
		return 16
	}
}

func (s aesKeyStrength) keyLen() int {
	switch s {
	case aesKeyStrength128:
		return 16
	case aesKeyStrength192:
		return 24
	default:
		return 32
	}
}

// aesParams holds the WinZip AES metadata decoded from an entry's
// extra field. innerMethod is the real compression method, since the
// central directory's outer method is always the sentinel 99. block is
// populated once, at first resolution, after the salt-derived key has
// been verified against the password; later reads and seeks reuse it
// rather than re-running PBKDF2 on every open.
type aesParams struct {
	strength    aesKeyStrength
	innerMethod uint16
	block       cipher.Block
}

// Entry represents one name in the archive tree.
type Entry struct {
	name string // slash-separated, no leading/trailing slash

	kind          entryKind
	symlinkTarget *Entry

	// dataOffset is absolute, biased by the archive's data_start.
	// Before resolution it points at the local file header; after,
	// at the first payload byte.
	dataOffset int64

	versionMadeBy       uint16
	versionNeeded       uint16
	generalPurposeBits  uint16
	compressionMethod   uint16
	crc32               uint32
	compressedSize      int64 // as declared in the central directory, including crypto overhead
	payloadLen          int64 // bytes remaining from dataOffset after resolution; == compressedSize until parseLocal advances dataOffset
	uncompressedSize    int64
	dosModTime          uint32 // packed date<<16 | time, raw wire value
	lastModTime         int64  // seconds since epoch

	mode fs.FileMode

	aes *aesParams

	children *Entry // first child
	sibling  *Entry // next sibling under the same parent
	hashNext *Entry // next entry in the same hash bucket
}

// isPlaceholder reports whether e was fabricated as a missing ancestor
// directory rather than backed by a real central-directory record.
// Fabricated directories carry the zero value of lastModTime, matching
// spec's "characteristic of a fabricated ancestor directory" rule; a
// real record with a genuine epoch-zero timestamp is exceedingly rare
// and, per spec, is not distinguished from a placeholder.
func (e *Entry) isPlaceholder() bool {
	return e.kind == kindDirectory && e.lastModTime == 0
}

// Name returns the entry's slash-separated path.
func (e *Entry) Name() string { return e.name }

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool { return e.kind == kindDirectory }

// IsSymlink reports whether the entry is, or resolved from, a symlink.
func (e *Entry) IsSymlink() bool {
	return e.kind == kindUnresolvedSymlink || e.kind == kindBrokenSymlink ||
		(e.kind == kindResolved && e.symlinkTarget != nil)
}

// Mode returns the entry's file mode bits.
func (e *Entry) Mode() fs.FileMode { return e.mode }

// UncompressedSize returns the entry's decompressed size in bytes.
func (e *Entry) UncompressedSize() int64 { return e.uncompressedSize }

// CompressedSize returns the entry's on-disk size in bytes.
func (e *Entry) CompressedSize() int64 { return e.compressedSize }

// CRC32 returns the entry's stored (unchecked) CRC-32.
func (e *Entry) CRC32() uint32 { return e.crc32 }

// ModTime returns the entry's last-modified time as seconds since the
// epoch, decoded using the host's local time zone.
func (e *Entry) ModTime() int64 { return e.lastModTime }
