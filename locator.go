// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipvfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kagelabs/zipvfs/internal/wire"
)

// eocdMaxScan is the maximum distance to scan backward from EOF
// looking for the end-of-central-directory signature: the 22-byte
// fixed record plus the largest possible 65535-byte comment.
const eocdMaxScan = 22 + 65535

// eocdWindow is the size of each backward-scanning chunk. Consecutive
// windows overlap by eocdOverlap bytes so a signature whose four bytes
// straddle a window boundary is never missed.
const (
	eocdWindow  = 256
	eocdOverlap = 3
)

// centralDirLocation is the result of locating and parsing the end of
// a central directory, biased for any self-extractor prefix.
type centralDirLocation struct {
	zip64             bool
	dataStart         int64
	centralDirOffset  int64
	centralDirSize    int64
	entryCount        int64
}

// locateCentralDirectory finds the EOCD (and, if present, the Zip64
// EOCD) and computes the data_start bias that corrects every absolute
// offset stored in the archive for an arbitrary prepended prefix.
func locateCentralDirectory(src ByteSource) (*centralDirLocation, error) {
	eocdPos, eocd, err := findEndOfCentralDir(src)
	if err != nil {
		return nil, err
	}

	zip64Found, zip64Pos, zip64Rec, storedOffset, err := locateZip64EOCD(src, eocdPos)
	if err != nil {
		return nil, err
	}

	loc := &centralDirLocation{zip64: zip64Found}
	if zip64Found {
		loc.dataStart = zip64Pos - int64(storedOffset)
		loc.centralDirOffset = int64(zip64Rec.CentralDirOffset) + loc.dataStart
		loc.centralDirSize = int64(zip64Rec.CentralDirSize)
		loc.entryCount = int64(zip64Rec.TotalNumberOfEntries)
	} else {
		loc.dataStart = eocdPos - (int64(eocd.CentralDirOffset) + int64(eocd.CentralDirSize))
		loc.centralDirOffset = int64(eocd.CentralDirOffset) + loc.dataStart
		loc.centralDirSize = int64(eocd.CentralDirSize)
		loc.entryCount = int64(eocd.TotalNumberOfEntries)
	}
	return loc, nil
}

// findEndOfCentralDir scans backward from EOF for the EOCD signature,
// returning the match closest to EOF. Candidates that sniff as the
// signature but fail to decode as a sane record (e.g. a declared
// comment length running past EOF, or a signature occurring inside an
// earlier comment's text) are skipped in favor of the next match
// further from EOF.
func findEndOfCentralDir(src ByteSource) (int64, wire.EndOfCentralDirectory, error) {
	length := src.Len()
	if length < wire.EndOfCentralDirLen {
		return 0, wire.EndOfCentralDirectory{}, fmt.Errorf("%w: archive too small for end of central directory", ErrUnsupported)
	}

	maxBack := int64(eocdMaxScan)
	if maxBack > length {
		maxBack = length
	}
	floor := length - maxBack

	buf := make([]byte, eocdWindow+eocdOverlap)
	winEnd := length
	for winEnd > floor {
		winStart := winEnd - eocdWindow
		if winStart < floor {
			winStart = floor
		}
		readEnd := winEnd + eocdOverlap
		if readEnd > length {
			readEnd = length
		}
		n := readEnd - winStart
		chunk := buf[:n]
		if _, err := src.ReadAt(chunk, winStart); err != nil && err != io.EOF {
			return 0, wire.EndOfCentralDirectory{}, fmt.Errorf("%w: scan for eocd: %v", ErrIO, err)
		}

		for i := int64(len(chunk)) - 4; i >= 0; i-- {
			if chunk[i] == 'P' && chunk[i+1] == 'K' && chunk[i+2] == 0x05 && chunk[i+3] == 0x06 {
				pos := winStart + i
				if rec, err := readEOCDAt(src, pos); err == nil {
					return pos, rec, nil
				}
			}
		}
		winEnd = winStart
	}
	return 0, wire.EndOfCentralDirectory{}, fmt.Errorf("%w: end of central directory record not found", ErrUnsupported)
}

func readEOCDAt(src ByteSource, pos int64) (wire.EndOfCentralDirectory, error) {
	length := src.Len()
	if pos < 0 || pos >= length {
		return wire.EndOfCentralDirectory{}, errors.New("position out of range")
	}
	sr := io.NewSectionReader(src, pos, length-pos)
	var sig [4]byte
	if _, err := io.ReadFull(sr, sig[:]); err != nil {
		return wire.EndOfCentralDirectory{}, err
	}
	if binary.LittleEndian.Uint32(sig[:]) != wire.EndOfCentralDirSignature {
		return wire.EndOfCentralDirectory{}, errors.New("bad eocd signature")
	}
	return wire.ReadEndOfCentralDir(sr)
}

// locateZip64EOCD checks for a Zip64 EOCD locator 20 bytes before the
// EOCD and, if present, resolves the real Zip64 EOCD record position
// using the exact fallback order required when the archive may carry
// an arbitrary self-extractor prefix: (a) the stored offset, (b)
// eocdPos-56, (c) eocdPos-84, (d) a brute-force 256 KiB backward scan.
func locateZip64EOCD(src ByteSource, eocdPos int64) (found bool, pos int64, rec wire.Zip64EndOfCentralDirectory, storedOffset uint64, err error) {
	if eocdPos < wire.Zip64LocatorLen {
		return false, 0, wire.Zip64EndOfCentralDirectory{}, 0, nil
	}
	locatorPos := eocdPos - wire.Zip64LocatorLen
	sr := io.NewSectionReader(src, locatorPos, wire.Zip64LocatorLen)
	var sig [4]byte
	if _, err := io.ReadFull(sr, sig[:]); err != nil {
		return false, 0, wire.Zip64EndOfCentralDirectory{}, 0, nil
	}
	if binary.LittleEndian.Uint32(sig[:]) != wire.Zip64EndOfCentralDirLocatorSignature {
		return false, 0, wire.Zip64EndOfCentralDirectory{}, 0, nil
	}
	loc, lerr := wire.ReadZip64EndOfCentralDirLocator(sr)
	if lerr != nil {
		return false, 0, wire.Zip64EndOfCentralDirectory{}, 0, fmt.Errorf("%w: read zip64 locator: %v", ErrCorrupt, lerr)
	}

	candidates := []int64{
		int64(loc.Zip64EndOfCentralDirOffset), // (a) stored offset, untrusted under a self-extractor prefix
		eocdPos - 56,                           // (b)
		eocdPos - 84,                           // (c)
	}
	for _, c := range candidates {
		if c < 0 {
			continue
		}
		if r, rerr := readZip64EOCDAt(src, c); rerr == nil {
			return true, c, r, loc.Zip64EndOfCentralDirOffset, nil
		}
	}

	// (d) brute-force backward scan.
	p, r, serr := scanForZip64EOCD(src, eocdPos)
	if serr != nil {
		return false, 0, wire.Zip64EndOfCentralDirectory{}, 0, fmt.Errorf("%w: zip64 end of central directory not found: %v", ErrCorrupt, serr)
	}
	return true, p, r, loc.Zip64EndOfCentralDirOffset, nil
}

func readZip64EOCDAt(src ByteSource, pos int64) (wire.Zip64EndOfCentralDirectory, error) {
	length := src.Len()
	if pos < 0 || pos >= length {
		return wire.Zip64EndOfCentralDirectory{}, errors.New("position out of range")
	}
	sr := io.NewSectionReader(src, pos, length-pos)
	var sig [4]byte
	if _, err := io.ReadFull(sr, sig[:]); err != nil {
		return wire.Zip64EndOfCentralDirectory{}, err
	}
	if binary.LittleEndian.Uint32(sig[:]) != wire.Zip64EndOfCentralDirSignature {
		return wire.Zip64EndOfCentralDirectory{}, errors.New("bad zip64 eocd signature")
	}
	return wire.ReadZip64EndOfCentralDir(sr)
}

const zip64BruteForceScanBudget = 256 * 1024

func scanForZip64EOCD(src ByteSource, eocdPos int64) (int64, wire.Zip64EndOfCentralDirectory, error) {
	floor := eocdPos - zip64BruteForceScanBudget
	if floor < 0 {
		floor = 0
	}
	buf := make([]byte, 4096)
	end := eocdPos
	for end > floor {
		start := end - int64(len(buf))
		if start < floor {
			start = floor
		}
		n := end - start
		chunk := buf[:n]
		if _, err := src.ReadAt(chunk, start); err != nil && err != io.EOF {
			return 0, wire.Zip64EndOfCentralDirectory{}, fmt.Errorf("%w: %v", ErrIO, err)
		}
		for i := n - 4; i >= 0; i-- {
			if chunk[i] == 'P' && chunk[i+1] == 'K' && chunk[i+2] == 0x06 && chunk[i+3] == 0x06 {
				pos := start + i
				if rec, err := readZip64EOCDAt(src, pos); err == nil {
					return pos, rec, nil
				}
			}
		}
		end = start
	}
	return 0, wire.Zip64EndOfCentralDirectory{}, errors.New("zip64 end of central directory not found within scan budget")
}
