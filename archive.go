// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipvfs

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// archiveShared is the state an Archive and every handle returned by
// its Duplicate share: the parsed directory tree and its guarding
// lock. Each Archive handle owns an independent ByteSource but they
// all resolve entries against, and splice MRU buckets in, the same
// tree, so the lock has to be shared too rather than merely the data.
type archiveShared struct {
	mu                sync.RWMutex
	index             *hashIndex
	zip64             bool
	hasEncryptedEntry bool
	aesPassword       string
}

// Archive is an open, read-only ZIP archive. The directory tree is
// parsed once at Open and is immutable afterward except for MRU bucket
// reordering and the one-time unresolved→resolved transition each
// entry goes through on first access; see [Archive.Duplicate] for
// sharing an archive across goroutines that each need their own
// streaming cursor.
type Archive struct {
	*archiveShared
	src ByteSource
}

// Open opens the archive at path for reading.
func Open(path string, opts ...OpenOption) (*Archive, error) {
	return OpenContext(context.Background(), path, opts...)
}

// OpenContext is Open with cancellation support for the initial parse.
func OpenContext(ctx context.Context, path string, opts ...OpenOption) (*Archive, error) {
	src, err := NewFileByteSource(path)
	if err != nil {
		return nil, err
	}
	a, err := OpenByteSourceContext(ctx, src, opts...)
	if err != nil {
		src.Close()
		return nil, err
	}
	return a, nil
}

// OpenByteSource opens an archive already available as a ByteSource,
// for callers whose bytes do not come from a plain local file (e.g. a
// section of a larger multiplexed stream, or an in-memory buffer).
func OpenByteSource(src ByteSource, opts ...OpenOption) (*Archive, error) {
	return OpenByteSourceContext(context.Background(), src, opts...)
}

// OpenByteSourceContext parses src's central directory and returns a
// ready-to-use Archive. Every entry starts unresolved; local-header
// validation and symlink following happen lazily on first access.
//
// The archive's first four bytes are read and compared against the
// local file header signature purely as a diagnostic: whatever the
// result, the central directory is always located by scanning
// backward from EOF (locateCentralDirectory), which already computes
// the correct offset bias for an arbitrary prepended prefix, so no
// separate code path is needed for the self-extractor case.
func OpenByteSourceContext(ctx context.Context, src ByteSource, opts ...OpenOption) (*Archive, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := openConfig{aesPassword: defaultAESPassword}
	for _, opt := range opts {
		opt(&cfg)
	}

	var sig [4]byte
	if _, err := src.ReadAt(sig[:], 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: sniff archive header: %v", ErrIO, err)
	}

	loc, err := locateCentralDirectory(src)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, hasEncrypted, err := parseCentralDirectory(src, loc)
	if err != nil {
		return nil, err
	}

	index := newHashIndex(loc.entryCount)
	for _, e := range entries {
		if err := index.Insert(e); err != nil {
			return nil, err
		}
	}

	return &Archive{
		archiveShared: &archiveShared{
			index:             index,
			zip64:             loc.zip64,
			hasEncryptedEntry: hasEncrypted,
			aesPassword:       cfg.aesPassword,
		},
		src: src,
	}, nil
}

// Close releases this handle's byte source. Handles produced by
// Duplicate own independent byte sources and must each be closed;
// the parsed directory tree they share is freed by the garbage
// collector once its last referencing handle is gone.
func (a *Archive) Close() error {
	return a.src.Close()
}

// Stat looks up path and returns its entry without resolving it: the
// kind, size, and mode reported are exactly what the central directory
// declared, without following a symlink or validating its local
// header.
func (a *Archive) Stat(path string) (*Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.index.Find(path)
}

// Enumerate looks up dir, which must resolve to a directory, and
// invokes cb once per direct child with the child's parent directory
// path, base name, and entry. Iteration stops at the first error cb
// returns.
func (a *Archive) Enumerate(dir string, cb func(parentDir, baseName string, entry *Entry) error) error {
	a.mu.Lock()
	e, err := a.index.Find(dir)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	if err := a.resolve(e); err != nil {
		a.mu.Unlock()
		return err
	}
	if !e.IsDir() {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s: not a directory", ErrUnsupported, dir)
	}
	children := make([]*Entry, 0, 8)
	for c := e.children; c != nil; c = c.sibling {
		children = append(children, c)
	}
	a.mu.Unlock()

	for _, c := range children {
		_, base := splitPath(c.name)
		if err := cb(dir, base, c); err != nil {
			return err
		}
	}
	return nil
}

// OpenRead opens path for streaming reads.
//
// If path is not found as-is and the archive contains at least one
// encrypted entry, the last '$' in path splits it into an entry path
// and a password: "secret.bin$hunter2" looks up "secret.bin" with
// password "hunter2". A traditional-cipher entry requires a password
// supplied this way; an AES entry ignores it and uses the archive's
// configured AES password instead; an unencrypted entry rejects any
// supplied password as ErrBadPassword.
func (a *Archive) OpenRead(path string) (*Reader, error) {
	return a.OpenReadContext(context.Background(), path)
}

// OpenReadContext is OpenRead with cancellation support for the lazy
// resolution step (local-header validation and symlink following).
func (a *Archive) OpenReadContext(ctx context.Context, path string) (*Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	entry, password, err := a.lookupWithPassword(path)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	if err := a.resolve(entry); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	target := entry
	if entry.symlinkTarget != nil {
		target = entry.symlinkTarget
	}
	a.mu.Unlock()

	switch {
	case target.aes != nil:
		password = ""
	case target.generalPurposeBits&0x1 != 0:
		if password == "" {
			return nil, fmt.Errorf("%w: %s: traditional encryption requires a password", ErrBadPassword, path)
		}
	default:
		if password != "" {
			return nil, fmt.Errorf("%w: %s: password supplied for a non-encrypted entry", ErrBadPassword, path)
		}
	}

	return a.newReader(target, password)
}

// lookupWithPassword resolves path to an entry and, if needed, a
// traditional-cipher password split off its trailing "$password"
// suffix. The caller must hold a.mu.
func (a *Archive) lookupWithPassword(path string) (*Entry, string, error) {
	if e, err := a.index.Find(path); err == nil {
		return e, "", nil
	}
	if !a.hasEncryptedEntry {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	idx := strings.LastIndexByte(path, '$')
	if idx < 0 {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	prefix, password := path[:idx], path[idx+1:]
	e, err := a.index.Find(prefix)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return e, password, nil
}

// resolvedEntry looks up path, resolves it, and follows a symlink to
// its final target. Used by fs.go, which needs the same "what does
// this path actually refer to" answer for both Open and Stat.
func (a *Archive) resolvedEntry(path string) (*Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, err := a.index.Find(path)
	if err != nil {
		return nil, err
	}
	if err := a.resolve(e); err != nil {
		return nil, err
	}
	if e.symlinkTarget != nil {
		return e.symlinkTarget, nil
	}
	return e, nil
}

// Duplicate returns a new Archive handle over the same parsed
// directory tree with its own independent byte source, for use from a
// second goroutine. It does not clone or reset any Reader already
// open against the original handle.
func (a *Archive) Duplicate() (*Archive, error) {
	dup, err := a.src.Duplicate()
	if err != nil {
		return nil, fmt.Errorf("%w: duplicate archive byte source: %v", ErrIO, err)
	}
	return &Archive{archiveShared: a.archiveShared, src: dup}, nil
}

// OpenWrite always fails: this package never writes an archive.
func (a *Archive) OpenWrite(path string) (io.WriteCloser, error) {
	return nil, fmt.Errorf("%w: OpenWrite", ErrReadOnly)
}

// OpenAppend always fails: this package never writes an archive.
func (a *Archive) OpenAppend(path string) (io.WriteCloser, error) {
	return nil, fmt.Errorf("%w: OpenAppend", ErrReadOnly)
}

// Remove always fails: this package never modifies an archive.
func (a *Archive) Remove(path string) error {
	return fmt.Errorf("%w: Remove", ErrReadOnly)
}

// Mkdir always fails: this package never modifies an archive.
func (a *Archive) Mkdir(path string) error {
	return fmt.Errorf("%w: Mkdir", ErrReadOnly)
}

// Write always fails: Reader is a read-only stream.
func (r *Reader) Write(p []byte) (int, error) {
	return 0, fmt.Errorf("%w: Write", ErrReadOnly)
}

// Flush always fails: Reader is a read-only stream.
func (r *Reader) Flush() error {
	return fmt.Errorf("%w: Flush", ErrReadOnly)
}
