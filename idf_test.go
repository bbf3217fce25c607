// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vertipaq

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"testing"
)

func putU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// buildIDFSegment assembles one segment: primary_count, primary entries,
// sub_count, sub words, following readIDFSegment's exact layout.
func buildIDFSegment(primary []idfSegmentEntry, sub []uint64) []byte {
	var buf bytes.Buffer
	putU64(&buf, uint64(len(primary)))
	for _, e := range primary {
		putU32(&buf, e.dataValue)
		putU32(&buf, e.repeatValue)
	}
	putU64(&buf, uint64(len(sub)))
	for _, w := range sub {
		putU64(&buf, w)
	}
	return buf.Bytes()
}

func TestReadIDFSegmentRoundTrip(t *testing.T) {
	primary := []idfSegmentEntry{{dataValue: 5, repeatValue: 3}}
	sub := []uint64{0x1122334455667788}
	buf := buildIDFSegment(primary, sub)

	seg, n, err := readIDFSegment("col.idf", buf)
	if err != nil {
		t.Fatalf("readIDFSegment() error = %v", err)
	}
	if n != len(buf) {
		t.Fatalf("readIDFSegment() consumed %d bytes, want %d", n, len(buf))
	}
	if !reflect.DeepEqual(seg.primary, primary) {
		t.Fatalf("primary = %+v, want %+v", seg.primary, primary)
	}
	if !reflect.DeepEqual(seg.sub, sub) {
		t.Fatalf("sub = %+v, want %+v", seg.sub, sub)
	}
}

func TestBitUnpack(t *testing.T) {
	// bitWidth=4 packs 16 4-bit ids per 64-bit word: 0x...FEDCBA9876543210
	word := uint64(0xFEDCBA9876543210)
	ids := bitUnpack([]uint64{word}, 4, 100)

	if len(ids) != 16 {
		t.Fatalf("len(ids) = %d, want 16", len(ids))
	}
	for i := 0; i < 16; i++ {
		want := 100 + uint32(i)
		if ids[i] != want {
			t.Errorf("ids[%d] = %d, want %d", i, ids[i], want)
		}
	}
}

func TestDecodeRLEBitPackedHybridRLEOnly(t *testing.T) {
	primary := []idfSegmentEntry{
		{dataValue: 7, repeatValue: 2},
		{dataValue: 9, repeatValue: 1},
	}
	buf := buildIDFSegment(primary, nil)
	meta := &idfMeta{minDataID: 0, countBitPacked: 0, bitWidth: 0}

	got, err := decodeRLEBitPackedHybrid("col.idf", buf, meta)
	if err != nil {
		t.Fatalf("decodeRLEBitPackedHybrid() error = %v", err)
	}
	want := []uint32{7, 7, 9}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("decodeRLEBitPackedHybrid() = %v, want %v", got, want)
	}
}

func TestDecodeRLEBitPackedHybridBitPackedMarker(t *testing.T) {
	// One sub word of bit width 32 holding two ids: 0 and 10, each plus minDataID.
	// The primary entry's data_value+offset == 0xFFFFFFFF marks "take
	// `repeat` values from the bit-packed buffer starting at the running
	// offset".
	minDataID := uint32(5)
	bitWidth := int64(32)
	word := uint64(0) | (uint64(10) << 32) // low 32 bits id 0 (+minDataID), high 32 bits id 10 (+minDataID)

	primary := []idfSegmentEntry{
		{dataValue: 0xFFFFFFFF, repeatValue: 2},
	}
	buf := buildIDFSegment(primary, []uint64{word})
	meta := &idfMeta{minDataID: minDataID, countBitPacked: 2, bitWidth: bitWidth}

	got, err := decodeRLEBitPackedHybrid("col.idf", buf, meta)
	if err != nil {
		t.Fatalf("decodeRLEBitPackedHybrid() error = %v", err)
	}
	want := []uint32{minDataID + 0, minDataID + 10}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("decodeRLEBitPackedHybrid() = %v, want %v", got, want)
	}
}

func TestDecodeRLEBitPackedHybridEmptyStringShortcut(t *testing.T) {
	primary := []idfSegmentEntry{
		{dataValue: 0xFFFFFFFF, repeatValue: 3},
	}
	buf := buildIDFSegment(primary, []uint64{0})
	meta := &idfMeta{minDataID: 42, countBitPacked: 3, bitWidth: 4}

	got, err := decodeRLEBitPackedHybrid("col.idf", buf, meta)
	if err != nil {
		t.Fatalf("decodeRLEBitPackedHybrid() error = %v", err)
	}
	want := []uint32{42, 42, 42}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("decodeRLEBitPackedHybrid() = %v, want %v", got, want)
	}
}

func TestDecodeRLEBitPackedHybridNoSegments(t *testing.T) {
	_, err := decodeRLEBitPackedHybrid("col.idf", nil, &idfMeta{})
	if err == nil {
		t.Fatal("decodeRLEBitPackedHybrid() expected error on empty buffer")
	}
}
