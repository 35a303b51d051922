// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zipvfs implements a read-only ZIP archive reader intended to
// sit behind a virtual-filesystem mount point. It locates and parses
// the central directory (including Zip64 extensions and archives with
// an arbitrary prepended prefix, i.e. self-extractors), lazily
// resolves entries against a hashed, case-insensitive directory tree
// with move-to-front bucket reordering, and streams decompressed and
// optionally decrypted file content on demand with forward and
// backward seek support.
//
// The package never writes, appends to, or removes from an archive.
// Every mutating method exists only to satisfy a wider virtual
// filesystem contract and unconditionally reports ErrReadOnly.
package zipvfs
