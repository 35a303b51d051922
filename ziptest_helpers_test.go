// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipvfs

import (
	"bytes"
	"compress/flate"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"hash/crc32"

	"github.com/kagelabs/zipvfs/internal/hostattr"
	"github.com/kagelabs/zipvfs/internal/wire"
)

// testEntry describes one file/dir/symlink to bake into a hand-built
// archive for tests. Only the fields a given scenario needs are set;
// the zero value produces a plain stored file.
type testEntry struct {
	name    string
	data    []byte // plaintext/uncompressed content; link text for symlinks
	isDir   bool
	symlink bool

	deflate bool // compress data with DEFLATE before anything else

	traditional  bool
	tradPassword string

	aes         bool
	aesStrength aesKeyStrength
	aesPassword string
}

func deflateBytes(p []byte) []byte {
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.BestCompression)
	w.Write(p)
	w.Close()
	return buf.Bytes()
}

// traditionalEncrypt mirrors traditionalDecryptReader's transform in
// reverse, reusing the production cipher state machine so encrypted
// test fixtures decrypt through the exact code path being tested.
func traditionalEncrypt(password string, plain []byte) []byte {
	c := newTraditionalCipher(password)
	out := make([]byte, len(plain))
	for i, pt := range plain {
		k := c.magicByte()
		out[i] = pt ^ k
		c.updateKeys(pt)
	}
	return out
}

// aesEncryptCTR XORs plain with the same little-endian CTR keystream
// aesDecryptReader consumes; CTR mode is its own inverse.
func aesEncryptCTR(block cipher.Block, plain []byte) []byte {
	c := newWinZipCounter(block)
	out := make([]byte, len(plain))
	c.XORKeyStream(out, plain)
	return out
}

func aesKeyStrengthTag(s aesKeyStrength) byte {
	switch s {
	case aesKeyStrength128:
		return 1
	case aesKeyStrength192:
		return 2
	default:
		return 3
	}
}

// buildZip packs entries into a ZIP byte stream with every offset
// relative to position 0 of the returned slice (a "pure" archive with
// no self-extractor prefix). Callers simulating a self-extractor
// prepend arbitrary bytes to the result themselves; locateCentralDirectory's
// data_start bias recovers the prefix length without the builder's
// help.
func buildZip(entries []testEntry) []byte {
	var out bytes.Buffer
	var cdRecords [][]byte

	for _, te := range entries {
		offset := int64(out.Len())

		name := te.name
		if te.isDir && name[len(name)-1] != '/' {
			name += "/"
		}

		var payload []byte
		method := uint16(0)
		crc := uint32(0)
		uncompSize := uint32(len(te.data))
		externalAttrs := uint32(0o644) << 16
		versionMadeBy := uint16(0) // FAT host by default

		switch {
		case te.isDir:
			payload = nil
			externalAttrs = uint32(0o755)<<16 | 0x10
		case te.symlink:
			payload = te.data
			crc = crc32.ChecksumIEEE(te.data)
			versionMadeBy = uint16(hostattr.HostSystemUNIX) << 8
			externalAttrs = (uint32(hostattr.S_IFLNK) | 0o777) << 16
		default:
			versionMadeBy = uint16(hostattr.HostSystemUNIX) << 8
			externalAttrs = uint32(0o644) << 16
		}

		var extra []byte
		gpbf := uint16(0)

		if !te.isDir {
			inner := te.data
			crc = crc32.ChecksumIEEE(te.data)
			if te.deflate {
				inner = deflateBytes(te.data)
				method = 8
			}

			switch {
			case te.traditional:
				gpbf |= 0x1
				header := make([]byte, 12)
				header[11] = byte(crc >> 24)
				plain := append(header, inner...)
				payload = traditionalEncrypt(te.tradPassword, plain)
			case te.aes:
				strength := te.aesStrength
				if strength == 0 {
					strength = aesKeyStrength256
				}
				salt := make([]byte, strength.saltLen())
				for i := range salt {
					salt[i] = byte(i + 1)
				}
				keys := deriveAESKeys(te.aesPassword, salt, strength)
				block, _ := aes.NewCipher(keys.encKey)
				cipherText := aesEncryptCTR(block, inner)
				mac := make([]byte, aesMACSize)

				realMethod := method
				method = wire.WinZipAESCompressionMethod
				crc = 0

				payload = append(append(append(append([]byte{}, salt...), keys.pvv...), cipherText...), mac...)

				extra = aesExtraField(realMethod, strength)
			default:
				payload = inner
			}
		}

		compSize := uint32(len(payload))

		local := encodeLocalHeader(localHeaderFields{
			versionNeeded: 20,
			gpbf:          gpbf,
			method:        method,
			crc:           crc,
			compSize:      compSize,
			uncompSize:    uncompSize,
			name:          name,
			extra:         extra,
		})
		local = append(local, payload...)
		out.Write(local)

		cd := encodeCentralDirEntry(centralDirFields{
			versionMadeBy: versionMadeBy,
			versionNeeded: 20,
			gpbf:          gpbf,
			method:        method,
			crc:           crc,
			compSize:      compSize,
			uncompSize:    uncompSize,
			name:          name,
			extra:         extra,
			externalAttrs: externalAttrs,
			localOffset:   uint32(offset),
		})
		cdRecords = append(cdRecords, cd)
	}

	cdOffset := int64(out.Len())
	for _, cd := range cdRecords {
		out.Write(cd)
	}
	cdSize := int64(out.Len()) - cdOffset

	eocd := encodeEOCD(uint16(len(entries)), uint32(cdSize), uint32(cdOffset))
	out.Write(eocd)

	return out.Bytes()
}

func aesExtraField(realMethod uint16, strength aesKeyStrength) []byte {
	payload := make([]byte, 7)
	binary.LittleEndian.PutUint16(payload[0:2], 2) // vendor version AE-2
	payload[2] = 'A'
	payload[3] = 'E'
	payload[4] = aesKeyStrengthTag(strength)
	binary.LittleEndian.PutUint16(payload[5:7], realMethod)

	field := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint16(field[0:2], wire.AESExtraFieldTag)
	binary.LittleEndian.PutUint16(field[2:4], uint16(len(payload)))
	copy(field[4:], payload)
	return field
}

type localHeaderFields struct {
	versionNeeded uint16
	gpbf          uint16
	method        uint16
	crc           uint32
	compSize      uint32
	uncompSize    uint32
	name          string
	extra         []byte
}

func encodeLocalHeader(f localHeaderFields) []byte {
	buf := make([]byte, wire.LocalFileHeaderLen)
	binary.LittleEndian.PutUint32(buf[0:4], wire.LocalFileHeaderSignature)
	binary.LittleEndian.PutUint16(buf[4:6], f.versionNeeded)
	binary.LittleEndian.PutUint16(buf[6:8], f.gpbf)
	binary.LittleEndian.PutUint16(buf[8:10], f.method)
	binary.LittleEndian.PutUint16(buf[10:12], 0) // mod time
	binary.LittleEndian.PutUint16(buf[12:14], 0x21) // mod date (non-zero, valid DOS date)
	binary.LittleEndian.PutUint32(buf[14:18], f.crc)
	binary.LittleEndian.PutUint32(buf[18:22], f.compSize)
	binary.LittleEndian.PutUint32(buf[22:26], f.uncompSize)
	binary.LittleEndian.PutUint16(buf[26:28], uint16(len(f.name)))
	binary.LittleEndian.PutUint16(buf[28:30], uint16(len(f.extra)))
	buf = append(buf, []byte(f.name)...)
	buf = append(buf, f.extra...)
	return buf
}

type centralDirFields struct {
	versionMadeBy uint16
	versionNeeded uint16
	gpbf          uint16
	method        uint16
	crc           uint32
	compSize      uint32
	uncompSize    uint32
	name          string
	extra         []byte
	externalAttrs uint32
	localOffset   uint32
}

func encodeCentralDirEntry(f centralDirFields) []byte {
	buf := make([]byte, 46)
	binary.LittleEndian.PutUint32(buf[0:4], wire.CentralDirectorySignature)
	binary.LittleEndian.PutUint16(buf[4:6], f.versionMadeBy)
	binary.LittleEndian.PutUint16(buf[6:8], f.versionNeeded)
	binary.LittleEndian.PutUint16(buf[8:10], f.gpbf)
	binary.LittleEndian.PutUint16(buf[10:12], f.method)
	binary.LittleEndian.PutUint16(buf[12:14], 0)
	binary.LittleEndian.PutUint16(buf[14:16], 0x21)
	binary.LittleEndian.PutUint32(buf[16:20], f.crc)
	binary.LittleEndian.PutUint32(buf[20:24], f.compSize)
	binary.LittleEndian.PutUint32(buf[24:28], f.uncompSize)
	binary.LittleEndian.PutUint16(buf[28:30], uint16(len(f.name)))
	binary.LittleEndian.PutUint16(buf[30:32], uint16(len(f.extra)))
	binary.LittleEndian.PutUint16(buf[32:34], 0) // comment length
	binary.LittleEndian.PutUint16(buf[34:36], 0) // disk start
	binary.LittleEndian.PutUint16(buf[36:38], 0) // internal attrs
	binary.LittleEndian.PutUint32(buf[38:42], f.externalAttrs)
	binary.LittleEndian.PutUint32(buf[42:46], f.localOffset)
	buf = append(buf, []byte(f.name)...)
	buf = append(buf, f.extra...)
	return buf
}

func encodeEOCD(numEntries uint16, cdSize, cdOffset uint32) []byte {
	buf := make([]byte, wire.EndOfCentralDirLen)
	binary.LittleEndian.PutUint32(buf[0:4], wire.EndOfCentralDirSignature)
	binary.LittleEndian.PutUint16(buf[4:6], 0)
	binary.LittleEndian.PutUint16(buf[6:8], 0)
	binary.LittleEndian.PutUint16(buf[8:10], numEntries)
	binary.LittleEndian.PutUint16(buf[10:12], numEntries)
	binary.LittleEndian.PutUint32(buf[12:16], cdSize)
	binary.LittleEndian.PutUint32(buf[16:20], cdOffset)
	binary.LittleEndian.PutUint16(buf[20:22], 0)
	return buf
}
