// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipvfs

// defaultAESPassword is the built-in password used to unlock WinZip
// AES-encrypted entries when no WithAESPassword option is supplied.
// Embedding a fixed password is a pragmatic contract for a single
// deployment, not a general-purpose secret store; override it via
// WithAESPassword for anything else.
const defaultAESPassword = "zipvfs-default-aes-password"

type openConfig struct {
	aesPassword string
}

// OpenOption configures an Open call.
type OpenOption func(*openConfig)

// WithAESPassword overrides the built-in password used to unlock
// WinZip AES-encrypted entries. Traditional PKWARE encryption is
// unaffected: its password travels per OpenRead call via the path's
// trailing "$password" suffix instead.
func WithAESPassword(password string) OpenOption {
	return func(c *openConfig) {
		c.aesPassword = password
	}
}
