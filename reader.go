// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipvfs

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// Reader streams one entry's decompressed, decrypted payload. It
// implements io.ReadSeekCloser plus Duplicate, matching the per-open-
// file session the archive façade hands back from OpenRead.
//
// Forward seeks on a stored (uncompressed) entry, and any seek on an
// AES-encrypted stored entry, reseat directly: AES-CTR is a random-
// access cipher, so the keystream at any byte offset can be derived
// without replaying everything before it. Every other combination
// (deflate, or the traditional PKWARE cipher, whose running key state
// depends on every preceding plaintext byte) has to rewind to the
// start of the payload and re-derive forward, discarding output until
// the target position.
type Reader struct {
	archive  *Archive
	entry    *Entry
	src      ByteSource // archive's byte source, duplicated for this session
	password string     // traditional cipher password; unused for AES

	pos    int64 // uncompressed byte offset, for Tell/Seek bookkeeping
	stream io.Reader
	closer io.Closer // non-nil when stream owns a resource needing Close (the inflator)
}

// openPayload opens a bare, position-tracked reader over e's payload
// without routing through symlink redirection, used internally by the
// resolver to read a symlink's link-text target.
func (a *Archive) openPayload(e *Entry) (io.ReadCloser, error) {
	return a.newReader(e, "")
}

// newReader builds a Reader positioned at the start of e's
// decompressed payload. password is used only if e is encrypted with
// the traditional PKWARE cipher; AES entries use the archive's
// configured AES password, already verified during resolution.
func (a *Archive) newReader(e *Entry, password string) (*Reader, error) {
	dup, err := a.src.Duplicate()
	if err != nil {
		return nil, fmt.Errorf("%w: duplicate byte source: %v", ErrIO, err)
	}
	r := &Reader{archive: a, entry: e, src: dup, password: password}
	if err := r.rebuild(0); err != nil {
		dup.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) isTraditional() bool {
	return r.entry.aes == nil && r.entry.generalPurposeBits&0x1 != 0
}

// usesDirectSeek reports whether offsets into this entry's ciphertext
// and its decompressed output are in a fixed, known relationship, so a
// seek can reseat rather than replay. Only true for method-stored
// entries whose cipher (if any) is random-access: plaintext, or AES.
// Deflate never qualifies, even under AES, since the inflator's
// dictionary state cannot be reconstructed from a mid-stream offset.
func (r *Reader) usesDirectSeek() bool {
	return r.entry.compressionMethod == 0 && !r.isTraditional()
}

// rebuild (re)constructs the decrypt+decompress pipeline starting
// rawOffset bytes into the entry's payload. It is only ever called
// with 0, or with a direct-seek-eligible offset where the raw and
// decompressed offsets coincide (stored data is read 1:1).
func (r *Reader) rebuild(rawOffset int64) error {
	if r.closer != nil {
		r.closer.Close()
		r.closer = nil
	}

	e := r.entry
	remaining := e.payloadLen - rawOffset
	if remaining < 0 {
		remaining = 0
	}

	var raw io.Reader = io.NewSectionReader(r.src, e.dataOffset+rawOffset, remaining)

	var decrypted io.Reader
	switch {
	case e.aes != nil:
		cipherLen := remaining - aesMACSize
		if cipherLen < 0 {
			cipherLen = 0
		}
		decrypted = newAESDecryptReaderAt(io.LimitReader(raw, cipherLen), e.aes.block, rawOffset)
	case r.isTraditional():
		if rawOffset != 0 {
			return fmt.Errorf("%w: %s: traditional cipher cannot reseat mid-stream", ErrCorrupt, e.name)
		}
		dr, err := newTraditionalDecryptReader(raw, r.password, e.generalPurposeBits, e.crc32, uint16(e.dosModTime))
		if err != nil {
			return err
		}
		decrypted = dr
	default:
		decrypted = raw
	}

	if e.compressionMethod == 8 {
		fr := flate.NewReader(decrypted)
		r.stream = fr
		r.closer = fr
	} else {
		r.stream = decrypted
		r.closer = nil
	}
	return nil
}

// Read implements io.Reader, returning io.EOF once the entry's
// declared uncompressed size has been reached.
func (r *Reader) Read(p []byte) (int, error) {
	avail := r.entry.uncompressedSize - r.pos
	if avail <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > avail {
		p = p[:avail]
	}
	n, err := r.stream.Read(p)
	r.pos += int64(n)
	if err == nil && n == 0 {
		err = io.EOF
	}
	return n, err
}

// ReadContext is Read, but returns ctx.Err() instead of reading once
// ctx is done. Cancellation is checked before each Read call rather
// than mid-copy, so an already-in-flight Read still completes.
func (r *Reader) ReadContext(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return r.Read(p)
}

// Seek implements io.Seeker. Only whence values io.SeekStart,
// io.SeekCurrent and io.SeekEnd are accepted.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.pos + offset
	case io.SeekEnd:
		target = r.entry.uncompressedSize + offset
	default:
		return 0, fmt.Errorf("%w: invalid whence", ErrUnsupported)
	}
	if target < 0 || target > r.entry.uncompressedSize {
		return 0, fmt.Errorf("%w: seek target %d out of range", ErrPastEOF, target)
	}

	if target == r.pos {
		return target, nil
	}

	if r.usesDirectSeek() {
		if err := r.rebuild(target); err != nil {
			return 0, err
		}
		r.pos = target
		return target, nil
	}

	if target < r.pos {
		if err := r.rebuild(0); err != nil {
			return 0, err
		}
		r.pos = 0
	}
	if err := r.discard(target - r.pos); err != nil {
		return 0, err
	}
	return target, nil
}

// discard reads and throws away n bytes in bounded chunks: a seek
// backward on a deflated or traditional-encrypted entry has to
// re-derive every byte between the start of the payload and the
// target, there being no shortcut for either the inflator's or the
// traditional cipher's internal state.
func (r *Reader) discard(n int64) error {
	buf := make([]byte, 512)
	for n > 0 {
		chunk := buf
		if n < int64(len(chunk)) {
			chunk = chunk[:n]
		}
		read, err := r.Read(chunk)
		n -= int64(read)
		if err != nil {
			if err == io.EOF && n == 0 {
				return nil
			}
			return err
		}
	}
	return nil
}

// Tell returns the current decompressed-byte position.
func (r *Reader) Tell() int64 { return r.pos }

// Duplicate returns an independent Reader over the same entry,
// positioned at offset 0 regardless of r's current position.
func (r *Reader) Duplicate() (*Reader, error) {
	return r.archive.newReader(r.entry, r.password)
}

// Close releases the reader's byte source duplicate and any
// decompressor resources. It does not affect the archive.
func (r *Reader) Close() error {
	if r.closer != nil {
		r.closer.Close()
	}
	return r.src.Close()
}
