// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vertipaq

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func putS32(buf *bytes.Buffer, v int32) { putU32(buf, uint32(v)) }

func encodeUTF16LE(s string) []byte {
	var out []byte
	for _, r := range s {
		out = append(out, byte(r), byte(r>>8))
	}
	return out
}

// buildDictionaryHeader writes the type + 6x s32 hash_information prefix
// every .dictionary artifact starts with.
func buildDictionaryHeader(buf *bytes.Buffer, kind dictionaryType) {
	putS32(buf, int32(kind))
	for i := 0; i < 6; i++ {
		putS32(buf, 0)
	}
}

func TestReadDictionaryLong(t *testing.T) {
	var buf bytes.Buffer
	buildDictionaryHeader(&buf, dictionaryLong)
	putU64(&buf, 2) // element_count
	putU32(&buf, 4) // element_size
	putS32(&buf, 100)
	putS32(&buf, -7)

	got, err := readDictionary("col.dictionary", buf.Bytes(), 5)
	if err != nil {
		t.Fatalf("readDictionary() error = %v", err)
	}
	if got[5] != int32(100) {
		t.Errorf("got[5] = %v, want 100", got[5])
	}
	if got[6] != int32(-7) {
		t.Errorf("got[6] = %v, want -7", got[6])
	}
}

func TestReadDictionaryReal(t *testing.T) {
	var buf bytes.Buffer
	buildDictionaryHeader(&buf, dictionaryReal)
	putU64(&buf, 1) // element_count
	putU32(&buf, 8) // element_size
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(3.5))
	buf.Write(b[:])

	got, err := readDictionary("col.dictionary", buf.Bytes(), 0)
	if err != nil {
		t.Fatalf("readDictionary() error = %v", err)
	}
	if got[0] != 3.5 {
		t.Errorf("got[0] = %v, want 3.5", got[0])
	}
}

func TestReadDictionaryUnknownType(t *testing.T) {
	var buf bytes.Buffer
	buildDictionaryHeader(&buf, dictionaryInvalid)
	_, err := readDictionary("col.dictionary", buf.Bytes(), 0)
	if err == nil {
		t.Fatal("readDictionary() expected error for invalid dictionary type")
	}
}

// buildUncompressedPage writes one DictionaryPage whose string store is a
// plain NUL-separated UTF-16LE buffer.
func buildUncompressedPage(buf *bytes.Buffer, strs []string) {
	var charBuf bytes.Buffer
	for _, s := range strs {
		charBuf.Write(encodeUTF16LE(s))
		charBuf.Write([]byte{0x00, 0x00})
	}

	putU64(buf, 0)        // page_mask
	buf.WriteByte(0)       // page_contains_nulls
	putU64(buf, 0)         // start_index
	putU64(buf, uint64(len(strs))) // string_count
	buf.WriteByte(0)       // compressed_flag = false
	putU32(buf, 0)         // string_store_begin_mark
	putU64(buf, 0)         // remaining_store_available
	putU64(buf, 0)         // buffer_used_characters
	putU64(buf, uint64(charBuf.Len())) // allocation_size
	buf.Write(charBuf.Bytes())
	putU32(buf, 0) // string_store_end_mark
}

func TestReadDictionaryStringUncompressed(t *testing.T) {
	var buf bytes.Buffer
	buildDictionaryHeader(&buf, dictionaryString)
	putS64(&buf, 2)   // store_string_count
	buf.WriteByte(0)  // f_store_compressed
	putS64(&buf, 5)   // store_longest_string
	putS64(&buf, 1)   // store_page_count

	buildUncompressedPage(&buf, []string{"foo", "bar"})

	putU64(&buf, 0) // handles element_count
	putU32(&buf, 4) // handles element_size

	got, err := readDictionary("col.dictionary", buf.Bytes(), 10)
	if err != nil {
		t.Fatalf("readDictionary() error = %v", err)
	}
	if got[10] != "foo" {
		t.Errorf("got[10] = %v, want foo", got[10])
	}
	if got[11] != "bar" {
		t.Errorf("got[11] = %v, want bar", got[11])
	}
}

func putS64(buf *bytes.Buffer, v int64) { putU64(buf, uint64(v)) }

// buildCompressedPage writes one DictionaryPage whose string store is a
// Huffman-compressed bit stream, encoding exactly the two-string,
// three-symbol fixture codeStream encodes. The caller writes the per-record
// bit offsets (0 and 3) into the handles vector itself.
func buildCompressedPage(buf *bytes.Buffer, stringCount uint64) {
	putU64(buf, 0)       // page_mask
	buf.WriteByte(0)     // page_contains_nulls
	putU64(buf, 0)       // page_start_index
	putU64(buf, stringCount)
	buf.WriteByte(1)     // page_compressed = true
	putU32(buf, 0)       // string_store_begin_mark

	// Three symbols: 'a' length 1 (code 0), 'b' length 2 (code 10), 0xE9
	// ('é' in ISO-8859-1) length 2 (code 11) - the same canonical shape as
	// TestBuildHuffmanTreeRoundTrip, packed two 4-bit lengths per byte.
	var encodeArray [128]byte
	encodeArray['a'/2] |= 1 << 4   // 'a' = 0x61, odd -> high nibble of byte 48
	encodeArray['b'/2] = 2         // 'b' = 0x62, even -> low nibble of byte 49
	encodeArray[0xE9/2] |= 2 << 4  // 0xE9, odd -> high nibble of byte 116
	buf.Write(encodeArray[:])

	putU64(buf, 6) // store_total_bits: "aé" = "0 11" (3 bits), "ba" = "10 0" (3 bits)
	// Bit-pair-swapped stream: bits 0..7 come from byte[1] MSB-first.
	// bit sequence 0,1,1,1,0,0 -> byte[1] = 0111_0000 = 0x70.
	buf.Write([]byte{0x00, 0x70})

	putU32(buf, 0) // string_store_end_mark
}

// TestReadDictionaryStringCompressed is the S2 scenario: a dictionary
// string column with at least one Huffman-compressed page, decoded to the
// exact strings including an ISO-8859-1 character re-encoded as two-byte
// UTF-8.
func TestReadDictionaryStringCompressed(t *testing.T) {
	var buf bytes.Buffer
	buildDictionaryHeader(&buf, dictionaryString)
	putS64(&buf, 2)  // store_string_count
	buf.WriteByte(1) // f_store_compressed
	putS64(&buf, 2)  // store_longest_string
	putS64(&buf, 1)  // store_page_count

	buildCompressedPage(&buf, 2)

	putU64(&buf, 2) // handles element_count
	putU32(&buf, 4) // handles element_size
	putU32(&buf, 0) // "aé" starts at bit 0
	putU32(&buf, 3) // "ba" starts at bit 3

	got, err := readDictionary("col.dictionary", buf.Bytes(), 20)
	if err != nil {
		t.Fatalf("readDictionary() error = %v", err)
	}
	if got[20] != "aé" {
		t.Errorf("got[20] = %q, want %q", got[20], "aé")
	}
	if got[21] != "ba" {
		t.Errorf("got[21] = %q, want %q", got[21], "ba")
	}
}

// TestReadDictionaryStringMixedPages exercises an uncompressed page
// followed by a compressed page in the same dictionary, proving page
// bodies are consumed inline in page order rather than the compressed
// payload being pooled after the handles vector.
func TestReadDictionaryStringMixedPages(t *testing.T) {
	var buf bytes.Buffer
	buildDictionaryHeader(&buf, dictionaryString)
	putS64(&buf, 3)  // store_string_count
	buf.WriteByte(1) // f_store_compressed (mixed; page-level flag governs each page)
	putS64(&buf, 5)  // store_longest_string
	putS64(&buf, 2)  // store_page_count

	buildUncompressedPage(&buf, []string{"foo"})
	buildCompressedPage(&buf, 2)

	putU64(&buf, 2) // handles element_count (only the compressed page owns handles)
	putU32(&buf, 4) // handles element_size
	putU32(&buf, 0)
	putU32(&buf, 3)

	got, err := readDictionary("col.dictionary", buf.Bytes(), 0)
	if err != nil {
		t.Fatalf("readDictionary() error = %v", err)
	}
	if got[0] != "foo" {
		t.Errorf("got[0] = %q, want foo", got[0])
	}
	if got[1] != "aé" {
		t.Errorf("got[1] = %q, want %q", got[1], "aé")
	}
	if got[2] != "ba" {
		t.Errorf("got[2] = %q, want ba", got[2])
	}
}
