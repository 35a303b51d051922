// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wire decodes the on-disk structures of the PKZip central
// directory and local file headers, including the Zip64 extensions.
// It performs no writing: the archive this module reads is never
// mutated, only streamed.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Record signatures. All ZIP records begin with the two-byte marker
// 0x4b50 ("PK") followed by two bytes identifying the record type.
const (
	LocalFileHeaderSignature             uint32 = 0x04034b50
	CentralDirectorySignature            uint32 = 0x02014b50
	EndOfCentralDirSignature             uint32 = 0x06054b50
	Zip64EndOfCentralDirSignature        uint32 = 0x06064b50
	Zip64EndOfCentralDirLocatorSignature uint32 = 0x07064b50
)

// Extra field tags consulted while parsing the central directory.
const (
	Zip64ExtraFieldTag uint16 = 0x0001
	AESExtraFieldTag   uint16 = 0x9901
)

// WinZipAESCompressionMethod is the outer compression method value that
// signals AES wrapping; the real method lives in the AES extra field.
const WinZipAESCompressionMethod uint16 = 99

// LocalFileHeader is the per-entry header immediately preceding payload
// bytes. It is read once per entry, on first resolution.
type LocalFileHeader struct {
	VersionNeededToExtract uint16
	GeneralPurposeBitFlag  uint16
	CompressionMethod      uint16
	LastModFileTime        uint16
	LastModFileDate        uint16
	CRC32                  uint32
	CompressedSize         uint32
	UncompressedSize       uint32
	FilenameLength         uint16
	ExtraFieldLength       uint16
}

const LocalFileHeaderLen = 30

// ReadLocalFileHeader decodes the fixed-size part of a local file header.
// The caller must have already verified the signature.
func ReadLocalFileHeader(r io.Reader) (LocalFileHeader, error) {
	var buf [LocalFileHeaderLen - 4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return LocalFileHeader{}, fmt.Errorf("read local file header: %w", err)
	}
	return LocalFileHeader{
		VersionNeededToExtract: binary.LittleEndian.Uint16(buf[0:2]),
		GeneralPurposeBitFlag:  binary.LittleEndian.Uint16(buf[2:4]),
		CompressionMethod:      binary.LittleEndian.Uint16(buf[4:6]),
		LastModFileTime:        binary.LittleEndian.Uint16(buf[6:8]),
		LastModFileDate:        binary.LittleEndian.Uint16(buf[8:10]),
		CRC32:                  binary.LittleEndian.Uint32(buf[10:14]),
		CompressedSize:         binary.LittleEndian.Uint32(buf[14:18]),
		UncompressedSize:       binary.LittleEndian.Uint32(buf[18:22]),
		FilenameLength:         binary.LittleEndian.Uint16(buf[22:24]),
		ExtraFieldLength:       binary.LittleEndian.Uint16(buf[24:26]),
	}, nil
}

// CentralDirectory is one parsed central-directory record. ExtraField
// maps tag id to raw payload bytes (signature and length already
// stripped), keyed so Zip64 and AES fields can be located directly.
type CentralDirectory struct {
	VersionMadeBy          uint16
	VersionNeededToExtract uint16
	GeneralPurposeBitFlag  uint16
	CompressionMethod      uint16
	LastModFileTime        uint16
	LastModFileDate        uint16
	CRC32                  uint32
	CompressedSize         uint32
	UncompressedSize       uint32
	FilenameLength         uint16
	ExtraFieldLength       uint16
	FileCommentLength      uint16
	DiskNumberStart        uint16
	InternalFileAttributes uint16
	ExternalFileAttributes uint32
	LocalHeaderOffset      uint32
	Filename               string
	ExtraField             map[uint16][]byte
	Comment                string
}

const centralDirectoryFixedLen = 42

// ReadCentralDirEntry decodes one central-directory record, including its
// variable-length filename, extra field, and comment. The caller must
// have already verified the signature.
func ReadCentralDirEntry(r io.Reader) (CentralDirectory, error) {
	var buf [centralDirectoryFixedLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return CentralDirectory{}, fmt.Errorf("read central directory entry: %w", err)
	}

	entry := CentralDirectory{
		VersionMadeBy:          binary.LittleEndian.Uint16(buf[0:2]),
		VersionNeededToExtract: binary.LittleEndian.Uint16(buf[2:4]),
		GeneralPurposeBitFlag:  binary.LittleEndian.Uint16(buf[4:6]),
		CompressionMethod:      binary.LittleEndian.Uint16(buf[6:8]),
		LastModFileTime:        binary.LittleEndian.Uint16(buf[8:10]),
		LastModFileDate:        binary.LittleEndian.Uint16(buf[10:12]),
		CRC32:                  binary.LittleEndian.Uint32(buf[12:16]),
		CompressedSize:         binary.LittleEndian.Uint32(buf[16:20]),
		UncompressedSize:       binary.LittleEndian.Uint32(buf[20:24]),
		FilenameLength:         binary.LittleEndian.Uint16(buf[24:26]),
		ExtraFieldLength:       binary.LittleEndian.Uint16(buf[26:28]),
		FileCommentLength:      binary.LittleEndian.Uint16(buf[28:30]),
		DiskNumberStart:        binary.LittleEndian.Uint16(buf[30:32]),
		InternalFileAttributes: binary.LittleEndian.Uint16(buf[32:34]),
		ExternalFileAttributes: binary.LittleEndian.Uint32(buf[34:38]),
		LocalHeaderOffset:      binary.LittleEndian.Uint32(buf[38:42]),
	}

	if entry.FilenameLength > 0 {
		name := make([]byte, entry.FilenameLength)
		if _, err := io.ReadFull(r, name); err != nil {
			return CentralDirectory{}, fmt.Errorf("read filename: %w", err)
		}
		entry.Filename = string(name)
	}

	if entry.ExtraFieldLength > 0 {
		raw := make([]byte, entry.ExtraFieldLength)
		if _, err := io.ReadFull(r, raw); err != nil {
			return CentralDirectory{}, fmt.Errorf("read extra field: %w", err)
		}
		fields, err := ParseExtraField(raw)
		if err != nil {
			return CentralDirectory{}, err
		}
		entry.ExtraField = fields
	}

	if entry.FileCommentLength > 0 {
		comment := make([]byte, entry.FileCommentLength)
		if _, err := io.ReadFull(r, comment); err != nil {
			return CentralDirectory{}, fmt.Errorf("read comment: %w", err)
		}
		entry.Comment = string(comment)
	}

	return entry, nil
}

// ParseExtraField walks a raw extra-field blob as (id:u16, len:u16,
// payload[len]) records until the declared length is consumed.
// A trailing partial record is silently dropped rather than treated
// as corrupt, matching the tolerant behavior of most ZIP readers.
func ParseExtraField(raw []byte) (map[uint16][]byte, error) {
	m := make(map[uint16][]byte)
	for offset := 0; offset+4 <= len(raw); {
		tag := binary.LittleEndian.Uint16(raw[offset : offset+2])
		size := int(binary.LittleEndian.Uint16(raw[offset+2 : offset+4]))
		offset += 4
		if offset+size > len(raw) {
			return nil, fmt.Errorf("extra field %#04x: declared length %d exceeds remaining %d", tag, size, len(raw)-offset)
		}
		m[tag] = raw[offset : offset+size]
		offset += size
	}
	return m, nil
}

// EndOfCentralDirectory is the fixed trailer that locates the central
// directory. Offsets it carries for a self-extractor prefix are
// meaningless until corrected by the archive's data_start bias.
type EndOfCentralDirectory struct {
	ThisDiskNum                     uint16
	DiskNumWithStartOfCentralDir    uint16
	TotalNumberOfEntriesOnThisDisk  uint16
	TotalNumberOfEntries            uint16
	CentralDirSize                  uint32
	CentralDirOffset                uint32
	CommentLength                   uint16
	Comment                         string
}

const EndOfCentralDirLen = 22

// ReadEndOfCentralDir decodes the EOCD record starting immediately after
// its signature.
func ReadEndOfCentralDir(r io.Reader) (EndOfCentralDirectory, error) {
	var buf [EndOfCentralDirLen - 4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return EndOfCentralDirectory{}, fmt.Errorf("read end of central directory: %w", err)
	}
	end := EndOfCentralDirectory{
		ThisDiskNum:                    binary.LittleEndian.Uint16(buf[0:2]),
		DiskNumWithStartOfCentralDir:   binary.LittleEndian.Uint16(buf[2:4]),
		TotalNumberOfEntriesOnThisDisk: binary.LittleEndian.Uint16(buf[4:6]),
		TotalNumberOfEntries:           binary.LittleEndian.Uint16(buf[6:8]),
		CentralDirSize:                 binary.LittleEndian.Uint32(buf[8:12]),
		CentralDirOffset:               binary.LittleEndian.Uint32(buf[12:16]),
		CommentLength:                  binary.LittleEndian.Uint16(buf[16:18]),
	}
	if end.CommentLength > 0 {
		comment := make([]byte, end.CommentLength)
		if _, err := io.ReadFull(r, comment); err != nil {
			return EndOfCentralDirectory{}, fmt.Errorf("read eocd comment: %w", err)
		}
		end.Comment = string(comment)
	}
	return end, nil
}

// Zip64EndOfCentralDirectoryLocator points (untrustworthily, for
// self-extractors) at the Zip64EndOfCentralDirectory record.
type Zip64EndOfCentralDirectoryLocator struct {
	DiskWithZip64EOCD         uint32
	Zip64EndOfCentralDirOffset uint64
	TotalNumberOfDisks        uint32
}

const Zip64LocatorLen = 20

// ReadZip64EndOfCentralDirLocator decodes the locator starting immediately
// after its signature.
func ReadZip64EndOfCentralDirLocator(r io.Reader) (Zip64EndOfCentralDirectoryLocator, error) {
	var buf [Zip64LocatorLen - 4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Zip64EndOfCentralDirectoryLocator{}, fmt.Errorf("read zip64 locator: %w", err)
	}
	return Zip64EndOfCentralDirectoryLocator{
		DiskWithZip64EOCD:          binary.LittleEndian.Uint32(buf[0:4]),
		Zip64EndOfCentralDirOffset: binary.LittleEndian.Uint64(buf[4:12]),
		TotalNumberOfDisks:         binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// Zip64EndOfCentralDirectory widens the EOCD's 32-bit fields to 64 bits.
type Zip64EndOfCentralDirectory struct {
	SizeOfRecord                   uint64
	VersionMadeBy                  uint16
	VersionNeededToExtract         uint16
	ThisDiskNum                    uint32
	DiskNumWithStartOfCentralDir   uint32
	TotalNumberOfEntriesOnThisDisk uint64
	TotalNumberOfEntries           uint64
	CentralDirSize                 uint64
	CentralDirOffset                uint64
}

const Zip64EndOfCentralDirFixedLen = 52

// ReadZip64EndOfCentralDir decodes the record starting immediately after
// its signature.
func ReadZip64EndOfCentralDir(r io.Reader) (Zip64EndOfCentralDirectory, error) {
	var buf [Zip64EndOfCentralDirFixedLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Zip64EndOfCentralDirectory{}, fmt.Errorf("read zip64 end of central directory: %w", err)
	}
	return Zip64EndOfCentralDirectory{
		SizeOfRecord:                   binary.LittleEndian.Uint64(buf[0:8]),
		VersionMadeBy:                  binary.LittleEndian.Uint16(buf[8:10]),
		VersionNeededToExtract:         binary.LittleEndian.Uint16(buf[10:12]),
		ThisDiskNum:                    binary.LittleEndian.Uint32(buf[12:16]),
		DiskNumWithStartOfCentralDir:   binary.LittleEndian.Uint32(buf[16:20]),
		TotalNumberOfEntriesOnThisDisk: binary.LittleEndian.Uint64(buf[20:28]),
		TotalNumberOfEntries:           binary.LittleEndian.Uint64(buf[28:36]),
		CentralDirSize:                 binary.LittleEndian.Uint64(buf[36:44]),
		CentralDirOffset:               binary.LittleEndian.Uint64(buf[44:52]),
	}, nil
}

// AESExtraField is the payload of extra field 0x9901, present when the
// central directory's compression method is WinZipAESCompressionMethod.
type AESExtraField struct {
	VendorVersion    uint16
	VendorID         [2]byte
	KeyStrength      byte
	RealCompression  uint16
}

// ParseAESExtraField decodes the fixed 7-byte AES extra-field payload.
func ParseAESExtraField(raw []byte) (AESExtraField, error) {
	if len(raw) < 7 {
		return AESExtraField{}, fmt.Errorf("aes extra field too short: %d bytes", len(raw))
	}
	return AESExtraField{
		VendorVersion:   binary.LittleEndian.Uint16(raw[0:2]),
		VendorID:        [2]byte{raw[2], raw[3]},
		KeyStrength:     raw[4],
		RealCompression: binary.LittleEndian.Uint16(raw[5:7]),
	}, nil
}

// Zip64ExtraField widens whichever 32-bit sentinel fields the central
// directory record declared as 0xFFFFFFFF, read in the fixed order
// uncompressed size, compressed size, local header offset, starting disk.
type Zip64ExtraField struct {
	UncompressedSize  uint64
	CompressedSize    uint64
	LocalHeaderOffset uint64
	StartingDisk      uint32
}

// ParseZip64ExtraField reads only the fields the caller says were
// sentineled, in the fixed wire order, and reports how many bytes it
// consumed so callers can detect a truncated field as corruption.
func ParseZip64ExtraField(raw []byte, wantUncompressed, wantCompressed, wantOffset, wantDisk bool) (Zip64ExtraField, error) {
	var out Zip64ExtraField
	pos := 0

	take64 := func(name string) (uint64, error) {
		if pos+8 > len(raw) {
			return 0, fmt.Errorf("zip64 extra field: truncated %s", name)
		}
		v := binary.LittleEndian.Uint64(raw[pos : pos+8])
		pos += 8
		return v, nil
	}
	take32 := func(name string) (uint32, error) {
		if pos+4 > len(raw) {
			return 0, fmt.Errorf("zip64 extra field: truncated %s", name)
		}
		v := binary.LittleEndian.Uint32(raw[pos : pos+4])
		pos += 4
		return v, nil
	}

	var err error
	if wantUncompressed {
		if out.UncompressedSize, err = take64("uncompressed size"); err != nil {
			return out, err
		}
	}
	if wantCompressed {
		if out.CompressedSize, err = take64("compressed size"); err != nil {
			return out, err
		}
	}
	if wantOffset {
		if out.LocalHeaderOffset, err = take64("local header offset"); err != nil {
			return out, err
		}
	}
	if wantDisk {
		if out.StartingDisk, err = take32("starting disk"); err != nil {
			return out, err
		}
	}
	return out, nil
}
