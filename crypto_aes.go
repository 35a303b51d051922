// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipvfs

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const aesMACSize = 10 // HMAC-SHA1 truncated to 10 bytes
const aesPVVSize = 2  // password verification value

// winZipCounter implements a little-endian 128-bit CTR-mode keystream
// generator. WinZip AES increments its counter little-endian; the
// standard library's crypto/cipher.NewCTR is hard-coded big-endian
// (NIST SP 800-38A convention) and cannot be reused here.
type winZipCounter struct {
	block   cipher.Block
	counter [16]byte
	buffer  []byte
	pos     int
}

func newWinZipCounter(block cipher.Block) *winZipCounter {
	c := &winZipCounter{block: block, buffer: make([]byte, aes.BlockSize)}
	c.counter[0] = 1
	return c
}

// reset rewinds the keystream generator to the state it had right
// after construction, used to re-derive a fresh keystream from byte 0
// when a backward seek requires a full replay.
func (c *winZipCounter) reset() {
	c.counter = [16]byte{}
	c.counter[0] = 1
	c.pos = 0
}

func (c *winZipCounter) XORKeyStream(dst, src []byte) {
	for i := range src {
		if c.pos == 0 {
			c.block.Encrypt(c.buffer, c.counter[:])
			for j := 0; j < aes.BlockSize; j++ {
				c.counter[j]++
				if c.counter[j] != 0 {
					break
				}
			}
		}
		dst[i] = src[i] ^ c.buffer[c.pos]
		c.pos = (c.pos + 1) % aes.BlockSize
	}
}

// aesKeys holds the keys and password-verification value derived from
// a password and salt.
type aesKeys struct {
	encKey []byte
	macKey []byte
	pvv    []byte
}

// deriveAESKeys runs PBKDF2-HMAC-SHA1 (1000 iterations, per WinZip AE-2)
// to derive encKey||macKey||pvv, using golang.org/x/crypto/pbkdf2
// rather than a hand-rolled implementation.
func deriveAESKeys(password string, salt []byte, strength aesKeyStrength) aesKeys {
	keyLen := strength.keyLen()
	total := 2*keyLen + aesPVVSize
	dk := pbkdf2.Key([]byte(password), salt, 1000, total, sha1.New)
	return aesKeys{
		encKey: dk[:keyLen],
		macKey: dk[keyLen : 2*keyLen],
		pvv:    dk[2*keyLen : 2*keyLen+aesPVVSize],
	}
}

// aesDecryptReader decrypts a WinZip AES-CTR payload. The trailing
// 10-byte truncated HMAC-SHA1 MAC is deliberately never read back or
// compared: it is addressed by excluding it from the ciphertext length
// passed to newAESDecryptReader, not by verifying it. src must be
// positioned immediately after the salt and PVV have already been
// consumed and checked.
type aesDecryptReader struct {
	src    io.Reader
	stream *winZipCounter
}

// newAESDecryptReader reads and verifies the salt and PVV from src,
// then returns a reader over the following dataSize bytes of
// ciphertext (the trailing MAC is not part of dataSize and is left
// unread).
func newAESDecryptReader(src io.Reader, password string, strength aesKeyStrength, dataSize int64) (*aesDecryptReader, error) {
	salt := make([]byte, strength.saltLen())
	if _, err := io.ReadFull(src, salt); err != nil {
		return nil, fmt.Errorf("%w: read aes salt: %v", ErrIO, err)
	}
	keys := deriveAESKeys(password, salt, strength)

	pvv := make([]byte, aesPVVSize)
	if _, err := io.ReadFull(src, pvv); err != nil {
		return nil, fmt.Errorf("%w: read aes pvv: %v", ErrIO, err)
	}
	if !bytes.Equal(pvv, keys.pvv) {
		return nil, fmt.Errorf("%w: aes password verifier mismatch", ErrBadPassword)
	}

	block, err := aes.NewCipher(keys.encKey)
	if err != nil {
		return nil, fmt.Errorf("%w: aes cipher init: %v", ErrCorrupt, err)
	}

	return newAESDecryptReaderAt(io.LimitReader(src, dataSize), block, 0), nil
}

// newAESDecryptReaderAt wraps raw (already positioned) ciphertext with
// a counter pre-advanced to intraOffset, used both for the initial
// open (intraOffset 0) and for reseating mid-stream on a seek.
func newAESDecryptReaderAt(raw io.Reader, block cipher.Block, intraOffset int64) *aesDecryptReader {
	return &aesDecryptReader{src: raw, stream: aesCounterForOffset(block, intraOffset)}
}

func (r *aesDecryptReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.stream.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}

// aesCounterForOffset advances a fresh winZipCounter keystream by
// discarding intraOffset bytes of keystream, matching the reference
// behavior of rebuilding the counter by replaying from byte 0 rather
// than reconstructing it directly via division by 16.
func aesCounterForOffset(block cipher.Block, intraOffset int64) *winZipCounter {
	c := newWinZipCounter(block)
	discard := make([]byte, intraOffset)
	c.XORKeyStream(discard, discard)
	return c
}
