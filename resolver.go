// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipvfs

import (
	"bytes"
	"crypto/aes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/kagelabs/zipvfs/internal/wire"
)

// resolve runs e through the entry resolution state machine, idempotently
// and cycle-safely:
//
//	unresolved-file    --parse-local--> resolved | broken-file
//	unresolved-symlink --parse-local--> resolving --follow--> resolved | broken-symlink
//	directory          --(no-op)-----> directory
//	resolving          --> ErrSymlinkLoop
//	broken-*           --> ErrCorrupt
//
// The caller must hold the archive's write lock; resolution mutates
// e.kind and, for symlinks, e.symlinkTarget and e.dataOffset.
// resolve uses the archive's configured AES password for any AES key
// derivation it needs; traditional-encrypted payloads are not verified
// here, only at stream-open time in reader.go, since that password is
// supplied per OpenRead call rather than fixed for the archive.
func (a *Archive) resolve(e *Entry) error {
	switch e.kind {
	case kindResolved, kindDirectory:
		return nil
	case kindResolving:
		return fmt.Errorf("%w: %s", ErrSymlinkLoop, e.name)
	case kindBrokenFile, kindBrokenSymlink:
		return fmt.Errorf("%w: %s: previously failed to resolve", ErrCorrupt, e.name)
	}

	isSymlink := e.kind == kindUnresolvedSymlink
	if isSymlink {
		e.kind = kindResolving
	}

	if err := a.parseLocal(e); err != nil {
		e.kind = kindBrokenFile
		if isSymlink {
			e.kind = kindBrokenSymlink
		}
		return err
	}

	if !isSymlink {
		e.kind = kindResolved
		return nil
	}

	target, err := a.followSymlink(e)
	if err != nil {
		e.kind = kindBrokenSymlink
		return err
	}
	e.symlinkTarget = target
	e.kind = kindResolved
	return nil
}

// parseLocal seeks to e's current (pre-resolution) offset, validates
// the local file header against the central directory's record,
// tolerating the zero and 0xFFFFFFFF sentinel values some producers
// emit, and advances e.dataOffset past the header (and, for AES
// entries, past the salt and verifier) to the first payload byte.
func (a *Archive) parseLocal(e *Entry) error {
	sr := io.NewSectionReader(a.src, e.dataOffset, a.src.Len()-e.dataOffset)

	var sig [4]byte
	if _, err := io.ReadFull(sr, sig[:]); err != nil {
		return fmt.Errorf("%w: %s: read local file header: %v", ErrIO, e.name, err)
	}
	if binary.LittleEndian.Uint32(sig[:]) != wire.LocalFileHeaderSignature {
		return fmt.Errorf("%w: %s: bad local file header signature", ErrCorrupt, e.name)
	}

	lh, err := wire.ReadLocalFileHeader(sr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, e.name, err)
	}

	if !sentinelOrEqual64(int64(lh.CompressedSize), e.compressedSize) {
		return fmt.Errorf("%w: %s: local/central compressed size mismatch", ErrCorrupt, e.name)
	}
	if !sentinelOrEqual64(int64(lh.UncompressedSize), e.uncompressedSize) {
		return fmt.Errorf("%w: %s: local/central uncompressed size mismatch", ErrCorrupt, e.name)
	}
	if e.aes == nil && lh.CRC32 != 0 && lh.CRC32 != 0xFFFFFFFF && lh.CRC32 != e.crc32 {
		return fmt.Errorf("%w: %s: local/central crc mismatch", ErrCorrupt, e.name)
	}

	if _, err := io.CopyN(io.Discard, sr, int64(lh.FilenameLength)+int64(lh.ExtraFieldLength)); err != nil {
		return fmt.Errorf("%w: %s: skip local filename/extra: %v", ErrIO, e.name, err)
	}

	headerLen := wire.LocalFileHeaderLen + int64(lh.FilenameLength) + int64(lh.ExtraFieldLength)
	e.dataOffset += headerLen
	// payloadLen is unaffected: it already holds compressedSize, the
	// declared on-disk payload size, which by format definition excludes
	// the local file header that just got skipped.

	if e.aes != nil {
		saltLen := int64(e.aes.strength.saltLen())
		salt := make([]byte, saltLen)
		if _, err := io.ReadFull(sr, salt); err != nil {
			return fmt.Errorf("%w: %s: read aes salt: %v", ErrIO, e.name, err)
		}
		keys := deriveAESKeys(a.aesPassword, salt, e.aes.strength)

		pvv := make([]byte, aesPVVSize)
		if _, err := io.ReadFull(sr, pvv); err != nil {
			return fmt.Errorf("%w: %s: read aes pvv: %v", ErrIO, e.name, err)
		}
		if !bytes.Equal(pvv, keys.pvv) {
			return fmt.Errorf("%w: %s: aes password verifier mismatch", ErrBadPassword, e.name)
		}

		block, err := aes.NewCipher(keys.encKey)
		if err != nil {
			return fmt.Errorf("%w: %s: aes cipher init: %v", ErrCorrupt, e.name, err)
		}
		e.aes.block = block

		advance := saltLen + aesPVVSize
		e.dataOffset += advance
		e.payloadLen -= advance
	}

	return nil
}

// sentinelOrEqual64 reports whether local, as stored in the (32-bit on
// the wire) local file header, is consistent with central: equal,
// zero (bit-3 "streaming"/Jar producers), or the Zip64 sentinel.
func sentinelOrEqual64(local, central int64) bool {
	if local == 0 || local == 0xFFFFFFFF {
		return true
	}
	return local == central
}

// followSymlink reads the symlink's payload as its link text, inflating
// first if the entry is deflated, normalizes the path, looks it up, and
// recursively resolves the target. If the target is itself a resolved
// symlink, this entry adopts its final non-symlink target.
func (a *Archive) followSymlink(e *Entry) (*Entry, error) {
	rc, err := a.openPayload(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: open symlink payload: %v", ErrCorrupt, e.name, err)
	}
	defer rc.Close()

	buf := make([]byte, e.uncompressedSize)
	if _, err := io.ReadFull(rc, buf); err != nil {
		return nil, fmt.Errorf("%w: %s: read symlink target text: %v", ErrCorrupt, e.name, err)
	}

	linkText := string(buf)
	host := hostSystemOf(e)
	if host == 0 {
		linkText = strings.ReplaceAll(linkText, "\\", "/")
	}

	normalized, ok := normalizeSymlinkPath(parentDir(e.name), linkText)
	if !ok {
		return nil, fmt.Errorf("%w: %s: symlink escapes archive root", ErrCorrupt, e.name)
	}

	target, err := a.index.Find(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNotFound, e.name, normalized)
	}

	if err := a.resolve(target); err != nil {
		return nil, err
	}
	if target.symlinkTarget != nil {
		return target.symlinkTarget, nil
	}
	return target, nil
}

func hostSystemOf(e *Entry) uint8 {
	return uint8(e.versionMadeBy >> 8)
}

func parentDir(name string) string {
	parent, _ := splitPath(name)
	return parent
}

// normalizeSymlinkPath resolves a (possibly relative) symlink target
// text against the directory containing the symlink, collapsing "."
// and ".." segments. ".." above the archive root fails (ok=false)
// rather than escaping it.
func normalizeSymlinkPath(baseDir, target string) (string, bool) {
	var segs []string
	if baseDir != "" {
		segs = strings.Split(baseDir, "/")
	}
	if strings.HasPrefix(target, "/") {
		segs = nil
	}

	for _, seg := range strings.Split(target, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(segs) == 0 {
				return "", false
			}
			segs = segs[:len(segs)-1]
		default:
			segs = append(segs, seg)
		}
	}
	return strings.Join(segs, "/"), true
}
