// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipvfs

import (
	"bytes"
	"crypto/aes"
	"errors"
	"io"
	"testing"
)

// TestAESDecryptReaderConvenienceConstructor exercises
// newAESDecryptReader directly: every production call site goes
// through newAESDecryptReaderAt instead (the salt/PVV having already
// been consumed during resolution), but this constructor is still a
// complete, independently useful entry point and is covered here
// rather than left unexercised.
func TestAESDecryptReaderConvenienceConstructor(t *testing.T) {
	strength := aesKeyStrength256
	password := "correct horse battery staple"
	plain := []byte("winzip AE-2 payload, exactly as long as it needs to be")

	salt := make([]byte, strength.saltLen())
	for i := range salt {
		salt[i] = byte(i + 7)
	}
	keys := deriveAESKeys(password, salt, strength)
	block, err := aes.NewCipher(keys.encKey)
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	cipherText := aesEncryptCTR(block, plain)

	var stream bytes.Buffer
	stream.Write(salt)
	stream.Write(keys.pvv)
	stream.Write(cipherText)

	r, err := newAESDecryptReader(&stream, password, strength, int64(len(cipherText)))
	if err != nil {
		t.Fatalf("newAESDecryptReader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("decrypted = %q, want %q", got, plain)
	}
}

func TestAESDecryptReaderBadPassword(t *testing.T) {
	strength := aesKeyStrength128
	salt := make([]byte, strength.saltLen())
	keys := deriveAESKeys("right", salt, strength)

	var stream bytes.Buffer
	stream.Write(salt)
	stream.Write(keys.pvv)
	stream.Write([]byte("irrelevant ciphertext"))

	_, err := newAESDecryptReader(&stream, "wrong", strength, 21)
	if !errors.Is(err, ErrBadPassword) {
		t.Fatalf("newAESDecryptReader wrong password = %v, want ErrBadPassword", err)
	}
}

func TestAESCounterForOffsetMatchesSequentialRead(t *testing.T) {
	block, err := aes.NewCipher(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}

	plain := bytes.Repeat([]byte("0123456789abcdef"), 4) // 64 bytes, 4 AES blocks
	cipherText := aesEncryptCTR(block, plain)

	const offset = 32 // exactly two blocks in
	reseated := newAESDecryptReaderAt(bytes.NewReader(cipherText[offset:]), block, int64(offset))
	got, err := io.ReadAll(reseated)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, plain[offset:]) {
		t.Fatalf("reseated decrypt = %q, want %q", got, plain[offset:])
	}
}
