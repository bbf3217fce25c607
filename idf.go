// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vertipaq

import (
	"encoding/binary"
	"fmt"
)

// idfSegmentEntry is one (data_value, repeat_value) RLE/marker pair from a
// segment's primary list.
type idfSegmentEntry struct {
	dataValue   uint32
	repeatValue uint32
}

// idfSegment is one `.idf` segment: a primary RLE/marker list plus a
// sub-segment of bit-packed u64 words. Grounded on
// original_source/pbixray/column_data/idf.py.
type idfSegment struct {
	primary []idfSegmentEntry
	sub     []uint64
}

// readIDFSegments reads every segment in buf. Only segment 0 is ever
// decoded downstream (§4.5's documented scope), but segments are parsed
// in full so a truncated buffer fails loudly rather than silently.
func readIDFSegments(artifact string, buf []byte) ([]idfSegment, error) {
	var segments []idfSegment
	pos := 0

	for pos < len(buf) {
		seg, n, err := readIDFSegment(artifact, buf[pos:])
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
		pos += n
	}
	return segments, nil
}

func readIDFSegment(artifact string, buf []byte) (idfSegment, int, error) {
	pos := 0
	if pos+8 > len(buf) {
		return idfSegment{}, 0, newArtifactErr(artifact, "IDF", ErrOutsideBoundary)
	}
	primaryCount := binary.LittleEndian.Uint64(buf[pos:])
	pos += 8

	primary := make([]idfSegmentEntry, 0, primaryCount)
	for i := uint64(0); i < primaryCount; i++ {
		if pos+8 > len(buf) {
			return idfSegment{}, 0, newArtifactErr(artifact, "IDF", ErrOutsideBoundary)
		}
		entry := idfSegmentEntry{
			dataValue:   binary.LittleEndian.Uint32(buf[pos:]),
			repeatValue: binary.LittleEndian.Uint32(buf[pos+4:]),
		}
		primary = append(primary, entry)
		pos += 8
	}

	if pos+8 > len(buf) {
		return idfSegment{}, 0, newArtifactErr(artifact, "IDF", ErrOutsideBoundary)
	}
	subCount := binary.LittleEndian.Uint64(buf[pos:])
	pos += 8

	sub := make([]uint64, 0, subCount)
	for i := uint64(0); i < subCount; i++ {
		if pos+8 > len(buf) {
			return idfSegment{}, 0, newArtifactErr(artifact, "IDF", ErrOutsideBoundary)
		}
		sub = append(sub, binary.LittleEndian.Uint64(buf[pos:]))
		pos += 8
	}

	return idfSegment{primary: primary, sub: sub}, pos, nil
}

// bitUnpack expands a sub-segment's u64 words into floor(64/bitWidth) ids
// per word, each masked to bitWidth bits and offset by minDataID.
func bitUnpack(sub []uint64, bitWidth int64, minDataID uint32) []uint32 {
	if bitWidth <= 0 {
		return nil
	}
	mask := uint64(1)<<uint(bitWidth) - 1
	perWord := 64 / int(bitWidth)

	ids := make([]uint32, 0, len(sub)*perWord)
	for _, word := range sub {
		w := word
		for k := 0; k < perWord; k++ {
			ids = append(ids, minDataID+uint32(w&mask))
			w >>= uint(bitWidth)
		}
	}
	return ids
}

// decodeRLEBitPackedHybrid reproduces
// original_source/pbixray/decode.py:read_rle_bit_packed_hybrid: it
// bit-unpacks segment 0's sub-segment (honoring the empty-string
// shortcut), then walks segment 0's primary list emitting either RLE runs
// or slices of the bit-packed buffer.
func decodeRLEBitPackedHybrid(artifact string, buf []byte, meta *idfMeta) ([]uint32, error) {
	segments, err := readIDFSegments(artifact, buf)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, newArtifactErr(artifact, "IDF", fmt.Errorf("no segments present"))
	}
	seg := segments[0]

	var bitpackedValues []uint32
	if meta.countBitPacked > 0 {
		if len(seg.sub) == 1 && seg.sub[0] == 0 {
			// Empty-string column shortcut: every bit-packed id is
			// min_data_id.
			bitpackedValues = make([]uint32, meta.countBitPacked)
			for i := range bitpackedValues {
				bitpackedValues[i] = meta.minDataID
			}
		} else {
			bitpackedValues = bitUnpack(seg.sub, meta.bitWidth, meta.minDataID)
		}
	}

	var vector []uint32
	bitPackedOffset := uint32(0)
	for _, entry := range seg.primary {
		if entry.dataValue+bitPackedOffset == 0xFFFFFFFF {
			repeat := entry.repeatValue
			if int(bitPackedOffset)+int(repeat) > len(bitpackedValues) {
				return nil, newArtifactErr(artifact, "IDF", fmt.Errorf(
					"bit-packed slice [%d:%d] exceeds %d unpacked values",
					bitPackedOffset, bitPackedOffset+repeat, len(bitpackedValues)))
			}
			vector = append(vector, bitpackedValues[bitPackedOffset:bitPackedOffset+repeat]...)
			bitPackedOffset += repeat
			continue
		}
		for i := uint32(0); i < entry.repeatValue; i++ {
			vector = append(vector, entry.dataValue)
		}
	}

	return vector, nil
}
