// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipvfs

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/kagelabs/zipvfs/internal/hostattr"
	"github.com/kagelabs/zipvfs/internal/wire"
)

// parseCentralDirectory decodes exactly loc.entryCount central
// directory records starting at loc.centralDirOffset, returning the
// decoded Entry values in on-disk order (not yet linked into the
// hash index / tree).
func parseCentralDirectory(src ByteSource, loc *centralDirLocation) ([]*Entry, bool, error) {
	length := src.Len()
	if loc.centralDirOffset < 0 || loc.centralDirOffset > length {
		return nil, false, fmt.Errorf("%w: central directory offset out of range", ErrCorrupt)
	}
	sr := io.NewSectionReader(src, loc.centralDirOffset, length-loc.centralDirOffset)

	entries := make([]*Entry, 0, loc.entryCount)
	hasEncrypted := false

	for i := int64(0); i < loc.entryCount; i++ {
		var sig [4]byte
		if _, err := io.ReadFull(sr, sig[:]); err != nil {
			return nil, false, fmt.Errorf("%w: read central directory record %d: %v", ErrCorrupt, i, err)
		}
		if binary.LittleEndian.Uint32(sig[:]) != wire.CentralDirectorySignature {
			return nil, false, fmt.Errorf("%w: bad central directory signature at record %d", ErrCorrupt, i)
		}

		cd, err := wire.ReadCentralDirEntry(sr)
		if err != nil {
			return nil, false, fmt.Errorf("%w: decode central directory record %d: %v", ErrCorrupt, i, err)
		}
		if cd.DiskNumberStart != 0 {
			return nil, false, fmt.Errorf("%w: multi-disk archives are not supported", ErrCorrupt)
		}

		entry, err := newEntryFromCentralDir(cd, loc.dataStart)
		if err != nil {
			return nil, false, err
		}
		if entry.aes != nil {
			hasEncrypted = true
		} else if entry.generalPurposeBits&0x1 != 0 {
			hasEncrypted = true
		}
		entries = append(entries, entry)
	}

	return entries, hasEncrypted, nil
}

// newEntryFromCentralDir classifies and decodes one central directory
// record into an Entry. The entry's dataOffset still points at the
// local file header; resolution (see resolver.go) advances it past the
// header to the first payload byte.
func newEntryFromCentralDir(cd wire.CentralDirectory, dataStart int64) (*Entry, error) {
	name := cd.Filename
	host := hostattr.HostSystem(cd.VersionMadeBy >> 8)
	if host == hostattr.HostSystemFAT {
		name = strings.ReplaceAll(name, "\\", "/")
	}

	e := &Entry{
		name:               strings.TrimSuffix(name, "/"),
		versionMadeBy:      cd.VersionMadeBy,
		versionNeeded:      cd.VersionNeededToExtract,
		generalPurposeBits: cd.GeneralPurposeBitFlag,
		compressionMethod:  cd.CompressionMethod,
		crc32:              cd.CRC32,
		compressedSize:     int64(cd.CompressedSize),
		payloadLen:         int64(cd.CompressedSize),
		uncompressedSize:   int64(cd.UncompressedSize),
		dosModTime:         uint32(cd.LastModFileDate)<<16 | uint32(cd.LastModFileTime),
		dataOffset:         int64(cd.LocalHeaderOffset) + dataStart,
	}
	e.lastModTime = dosTimeToEpoch(cd.LastModFileDate, cd.LastModFileTime).Unix()

	wantU := cd.UncompressedSize == 0xFFFFFFFF
	wantC := cd.CompressedSize == 0xFFFFFFFF
	wantO := cd.LocalHeaderOffset == 0xFFFFFFFF
	if wantU || wantC || wantO {
		raw, ok := cd.ExtraField[wire.Zip64ExtraFieldTag]
		if !ok {
			return nil, fmt.Errorf("%w: %s: zip64 sentinel without zip64 extra field", ErrCorrupt, e.name)
		}
		z64, err := wire.ParseZip64ExtraField(raw, wantU, wantC, wantO, false)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, e.name, err)
		}
		if wantU {
			e.uncompressedSize = int64(z64.UncompressedSize)
		}
		if wantC {
			e.compressedSize = int64(z64.CompressedSize)
			e.payloadLen = e.compressedSize
		}
		if wantO {
			e.dataOffset = int64(z64.LocalHeaderOffset) + dataStart
		}
	}

	if cd.CompressionMethod == wire.WinZipAESCompressionMethod {
		raw, ok := cd.ExtraField[wire.AESExtraFieldTag]
		if !ok {
			return nil, fmt.Errorf("%w: %s: aes compression method without aes extra field", ErrCorrupt, e.name)
		}
		aesField, err := wire.ParseAESExtraField(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, e.name, err)
		}
		if aesField.VendorVersion != 1 && aesField.VendorVersion != 2 {
			return nil, fmt.Errorf("%w: %s: unrecognized aes vendor version %d", ErrCorrupt, e.name, aesField.VendorVersion)
		}
		if aesField.VendorID != [2]byte{'A', 'E'} {
			return nil, fmt.Errorf("%w: %s: unrecognized aes vendor id", ErrCorrupt, e.name)
		}
		var strength aesKeyStrength
		switch aesField.KeyStrength {
		case 1:
			strength = aesKeyStrength128
		case 2:
			strength = aesKeyStrength192
		case 3:
			strength = aesKeyStrength256
		default:
			return nil, fmt.Errorf("%w: %s: unrecognized aes key strength tag %d", ErrCorrupt, e.name, aesField.KeyStrength)
		}
		if aesField.RealCompression != 0 && aesField.RealCompression != 8 {
			return nil, fmt.Errorf("%w: %s: unsupported inner aes compression method %d", ErrCorrupt, e.name, aesField.RealCompression)
		}
		e.aes = &aesParams{strength: strength, innerMethod: aesField.RealCompression}
		e.compressionMethod = aesField.RealCompression
	}

	extMode := fs.FileMode(0)
	if host == hostattr.HostSystemUNIX || host == hostattr.HostSystemDarwin {
		extMode = fs.FileMode(cd.ExternalFileAttributes >> 16)
	}

	switch {
	case strings.HasSuffix(cd.Filename, "/"):
		e.kind = kindDirectory
		e.mode = fs.ModeDir | 0o755
	case hostattr.CanHaveSymlinks(host) && hostattr.IsSymlinkMode(uint32(extMode)) && e.uncompressedSize > 0:
		e.kind = kindUnresolvedSymlink
		e.mode = fs.ModeSymlink | 0o777
	default:
		e.kind = kindUnresolvedFile
		e.mode = modeFromExternalAttrs(host, cd.ExternalFileAttributes, cd.Filename)
	}

	return e, nil
}

// modeFromExternalAttrs derives a plausible fs.FileMode for regular
// files from whatever the creating host encoded; DOS/Windows hosts
// only encode a handful of attribute bits, so this is necessarily an
// approximation rather than an exact Unix mode round-trip.
func modeFromExternalAttrs(host hostattr.HostSystem, attrs uint32, name string) fs.FileMode {
	if host == hostattr.HostSystemUNIX || host == hostattr.HostSystemDarwin {
		mode := fs.FileMode(attrs>>16) & 0o7777
		if mode == 0 {
			return 0o644
		}
		return mode
	}
	mode := fs.FileMode(0o644)
	if attrs&0x01 != 0 { // read-only
		mode &^= 0o222
	}
	return mode
}

// dosTimeToEpoch decodes the standard DOS date/time packing to civil
// time and converts to an epoch timestamp using the host's local time
// zone, letting it decide DST — matching the PhysicsFS original
// source's use of libc mktime() rather than a fixed UTC conversion.
func dosTimeToEpoch(dosDate, dosTime uint16) time.Time {
	day := dosDate & 0x1F
	month := (dosDate >> 5) & 0x0F
	year := int((dosDate>>9)&0x7F) + 1980
	second := (dosTime & 0x1F) * 2
	minute := (dosTime >> 5) & 0x3F
	hour := (dosTime >> 11) & 0x1F

	if month < 1 || month > 12 {
		month = 1
	}
	if day < 1 || day > 31 {
		day = 1
	}

	return time.Date(year, time.Month(month), int(day), int(hour), int(minute), int(second), 0, time.Local)
}
