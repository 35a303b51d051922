// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipvfs

import (
	"io"
	"io/fs"
	"path"
	"sort"
	"time"
)

var (
	_ fs.FS        = (*archiveFS)(nil)
	_ fs.StatFS    = (*archiveFS)(nil)
	_ fs.ReadDirFS = (*archiveFS)(nil)
)

// archiveFS adapts an Archive to io/fs. Every method resolves through
// the same symlink-following, cycle-detecting path as OpenRead: a
// symlink is transparent to callers going through this adapter.
type archiveFS struct {
	a *Archive
}

// FS returns an io/fs.FS view of a. The returned value is valid for
// as long as a is open.
func FS(a *Archive) fs.FS {
	return &archiveFS{a: a}
}

// Open implements fs.FS.
func (afs *archiveFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	e, err := afs.a.resolvedEntry(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	if e.IsDir() {
		return &fsDir{fs: afs, entry: e, dirPath: name}, nil
	}

	rc, err := afs.a.OpenRead(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &fsFile{entry: e, rc: rc}, nil
}

// Stat implements fs.StatFS.
func (afs *archiveFS) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	e, err := afs.a.resolvedEntry(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return fileInfoAdapter{e}, nil
}

// ReadDir implements fs.ReadDirFS.
func (afs *archiveFS) ReadDir(name string) ([]fs.DirEntry, error) {
	f, err := afs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dir, ok := f.(fs.ReadDirFile)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	return dir.ReadDir(-1)
}

// fsFile wraps an open Reader to satisfy fs.File.
type fsFile struct {
	entry *Entry
	rc    *Reader
}

func (f *fsFile) Stat() (fs.FileInfo, error) { return fileInfoAdapter{f.entry}, nil }
func (f *fsFile) Read(b []byte) (int, error) { return f.rc.Read(b) }
func (f *fsFile) Close() error               { return f.rc.Close() }

// fsDir wraps a directory entry to satisfy fs.ReadDirFile.
type fsDir struct {
	fs      *archiveFS
	entry   *Entry
	dirPath string
}

func (d *fsDir) Stat() (fs.FileInfo, error) { return fileInfoAdapter{d.entry}, nil }
func (d *fsDir) Close() error               { return nil }

func (d *fsDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.dirPath, Err: fs.ErrInvalid}
}

// ReadDir enumerates the directory's direct children, sorted by name
// to give callers a stable order even though the hash index doesn't
// keep one.
func (d *fsDir) ReadDir(n int) ([]fs.DirEntry, error) {
	var entries []fs.DirEntry
	cb := func(_, base string, e *Entry) error {
		entries = append(entries, fsDirEntryAdapter{name: base, entry: e})
		return nil
	}
	if err := d.fs.a.Enumerate(d.dirPath, cb); err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	if n <= 0 {
		return entries, nil
	}
	if len(entries) <= n {
		return entries, io.EOF
	}
	return entries[:n], nil
}

type fileInfoAdapter struct{ e *Entry }

func (i fileInfoAdapter) Name() string       { return path.Base(i.e.name) }
func (i fileInfoAdapter) Size() int64        { return i.e.uncompressedSize }
func (i fileInfoAdapter) Mode() fs.FileMode  { return i.e.mode }
func (i fileInfoAdapter) ModTime() time.Time { return time.Unix(i.e.lastModTime, 0) }
func (i fileInfoAdapter) IsDir() bool        { return i.e.IsDir() }
func (i fileInfoAdapter) Sys() interface{}   { return i.e }

type fsDirEntryAdapter struct {
	name  string
	entry *Entry
}

func (e fsDirEntryAdapter) Name() string      { return e.name }
func (e fsDirEntryAdapter) IsDir() bool       { return e.entry.IsDir() }
func (e fsDirEntryAdapter) Type() fs.FileMode { return e.entry.Mode().Type() }
func (e fsDirEntryAdapter) Info() (fs.FileInfo, error) {
	return fileInfoAdapter{e.entry}, nil
}
