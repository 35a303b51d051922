// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipvfs

import (
	"fmt"
	"io"
	"os"
)

// ByteSource is the random-access, read-only byte stream an Archive is
// opened against. Implementations are assumed finite and immutable for
// the archive's lifetime. There is deliberately no Write method: the
// type system enforces read-only-ness rather than a method that always
// fails.
type ByteSource interface {
	io.ReaderAt
	io.Seeker

	// Tell returns the current seek position.
	Tell() (int64, error)

	// Len returns the total byte length of the source, or -1 if
	// unknown.
	Len() int64

	// Duplicate returns an independent handle over the same
	// underlying bytes with its own cursor, positioned at 0.
	Duplicate() (ByteSource, error)

	// Close releases any resources held by the source.
	Close() error
}

// fileByteSource adapts an *os.File opened for reading.
type fileByteSource struct {
	f    *os.File
	path string
	size int64
}

// NewFileByteSource opens path and returns a ByteSource backed by it.
func NewFileByteSource(path string) (ByteSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, path, err)
	}
	return &fileByteSource{f: f, path: path, size: fi.Size()}, nil
}

func (s *fileByteSource) ReadAt(p []byte, off int64) (int, error) {
	n, err := s.f.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return n, err
}

func (s *fileByteSource) Seek(offset int64, whence int) (int64, error) {
	n, err := s.f.Seek(offset, whence)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return n, nil
}

func (s *fileByteSource) Tell() (int64, error) {
	return s.f.Seek(0, io.SeekCurrent)
}

func (s *fileByteSource) Len() int64 { return s.size }

func (s *fileByteSource) Duplicate() (ByteSource, error) {
	return NewFileByteSource(s.path)
}

func (s *fileByteSource) Close() error {
	return s.f.Close()
}

// sectionByteSource adapts any io.ReaderAt (e.g. a *bytes.Reader over
// an in-memory archive) into a ByteSource, using an io.SectionReader
// as its cursor-carrying view.
type sectionByteSource struct {
	ra   io.ReaderAt
	sr   *io.SectionReader
	size int64
}

// NewByteSource wraps ra (of the given total length) as a ByteSource.
// If length is unknown, pass -1.
func NewByteSource(ra io.ReaderAt, length int64) ByteSource {
	if length < 0 {
		length = 1<<63 - 1
	}
	return &sectionByteSource{ra: ra, sr: io.NewSectionReader(ra, 0, length), size: length}
}

func (s *sectionByteSource) ReadAt(p []byte, off int64) (int, error) {
	n, err := s.ra.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return n, err
}

func (s *sectionByteSource) Seek(offset int64, whence int) (int64, error) {
	n, err := s.sr.Seek(offset, whence)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return n, nil
}

func (s *sectionByteSource) Tell() (int64, error) {
	return s.sr.Seek(0, io.SeekCurrent)
}

func (s *sectionByteSource) Len() int64 { return s.size }

func (s *sectionByteSource) Duplicate() (ByteSource, error) {
	return &sectionByteSource{
		ra:   s.ra,
		sr:   io.NewSectionReader(s.ra, 0, s.size),
		size: s.size,
	}, nil
}

func (s *sectionByteSource) Close() error {
	if c, ok := s.ra.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
