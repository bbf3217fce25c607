// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vertipaq

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildIDFMeta assembles a synthetic `.idfmeta` artifact byte-for-byte
// following parseIDFMeta's exact field sequence, using the package's own
// tag constants so the fixture can't drift from the real byte literals.
func buildIDFMeta(aBA5A, iterator uint32, minDataID uint32, countBitPacked uint64) []byte {
	var buf bytes.Buffer
	u64 := func(v uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		buf.Write(b[:])
	}
	u32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	zeros := func(n int) { buf.Write(make([]byte, n)) }

	buf.Write(tagCPOpen)
	u64(1) // version_one

	buf.Write(tagCSOpen)
	u64(0) // records
	u64(1) // one
	u32(aBA5A)
	u32(iterator)
	zeros(8) // bookmark_bits_1_2_8
	zeros(8) // storage_alloc_size
	zeros(8) // storage_used_size
	buf.WriteByte(0) // segment_needs_resizing
	zeros(4) // compression_info

	buf.Write(tagSSOpen)
	zeros(8) // distinct_states
	u32(minDataID)
	zeros(4) // max_data_id
	zeros(4) // original_min_segment_data_id
	zeros(8) // rle_sort_order
	zeros(8) // row_count
	buf.WriteByte(0) // has_nulls
	zeros(8)         // rle_runs
	zeros(8)         // others_rle_runs
	buf.Write(tagSSClose)

	buf.WriteByte(0) // has_bit_packed_sub_seg

	buf.Write(tagCSOpen)
	u64(countBitPacked)
	zeros(9) // blob_with9_zeros
	buf.Write(tagCSClose)

	buf.Write(tagCSClose)
	buf.Write(tagCPClose)

	buf.Write(tagSDOsOpen)
	buf.Write(tagCSDOsOpen)
	zeros(8) // zero_c_s_d_o
	zeros(8) // primary_segment_size
	buf.Write(tagCSDOsOpen)
	zeros(8) // sub_segment_offset
	zeros(8) // sub_segment_size
	buf.Write(tagCSDOsClose)
	buf.Write(tagCSDOsClose)
	buf.Write(tagSDOsClose)

	return buf.Bytes()
}

func TestParseIDFMeta(t *testing.T) {
	buf := buildIDFMeta(20, 3, 42, 1000)

	meta, err := parseIDFMeta("col.idfmeta", buf)
	if err != nil {
		t.Fatalf("parseIDFMeta() error = %v", err)
	}
	if meta.minDataID != 42 {
		t.Errorf("minDataID = %d, want 42", meta.minDataID)
	}
	if meta.countBitPacked != 1000 {
		t.Errorf("countBitPacked = %d, want 1000", meta.countBitPacked)
	}
	if want := int64(36 - 20 + 3); meta.bitWidth != want {
		t.Errorf("bitWidth = %d, want %d", meta.bitWidth, want)
	}
}

func TestParseIDFMetaTruncated(t *testing.T) {
	buf := buildIDFMeta(20, 3, 42, 1000)
	_, err := parseIDFMeta("col.idfmeta", buf[:len(buf)-20])
	if err == nil {
		t.Fatal("parseIDFMeta() expected error on truncated buffer")
	}
}

func TestParseIDFMetaBadTag(t *testing.T) {
	buf := buildIDFMeta(20, 3, 42, 1000)
	buf[0] = 'X' // corrupt the opening CP tag
	_, err := parseIDFMeta("col.idfmeta", buf)
	if err == nil {
		t.Fatal("parseIDFMeta() expected error on corrupted tag")
	}
}
