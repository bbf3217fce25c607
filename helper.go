// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vertipaq

import (
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// decodeUTF16 decodes a UTF-16LE byte slice (no BOM required) to a Go
// string, following the same golang.org/x/text decoder the teacher uses
// for its own UTF-16 strings.
func decodeUTF16(b []byte) (string, error) {
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	s, err := decoder.Bytes(b)
	if err != nil {
		return "", err
	}
	return string(s), nil
}

// decodeUTF16NulPadded decodes a UTF-16LE buffer and trims trailing NUL
// characters, as used for the fixed-size Backup Log Header page.
func decodeUTF16NulPadded(b []byte) (string, error) {
	s, err := decodeUTF16(b)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(s, "\x00"), nil
}

// splitUTF16Strings decodes a UTF-16LE buffer made of NUL-separated
// strings (an uncompressed dictionary string page's character buffer) and
// drops the final, empty trailing string.
func splitUTF16Strings(b []byte) ([]string, error) {
	s, err := decodeUTF16(b)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(s, "\x00")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts, nil
}

// sliceBounds validates that [offset, offset+size) lies within a buffer of
// length total, guarding against overflow.
func sliceBounds(offset, size, total uint64) error {
	end := offset + size
	if end < offset {
		return ErrOutsideBoundary
	}
	if offset > total || end > total {
		return ErrOutsideBoundary
	}
	return nil
}

// iso88591ToUTF8 re-encodes a single ISO-8859-1 code point (the alphabet
// Huffman-compressed string pages use) as UTF-8.
func iso88591ToUTF8(code byte) []byte {
	if code < 0x80 {
		return []byte{code}
	}
	return []byte{0xC2 + (code>>6)&1, (code & 0x3F) | 0x80}
}

// trimTrailing4 drops the last 4 bytes of b, used when the Backup Log
// Header's ErrorCode bit trims a trailing CRC/error word from an artifact.
func trimTrailing4(b []byte) []byte {
	if len(b) < 4 {
		return b
	}
	return b[:len(b)-4]
}
