// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vertipaq

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Exact byte tags delimiting each idfmeta section. Grounded on
// original_source/pbixray/column_data/idfmeta.py's Kaitai-generated
// validation constants — every opening tag is matched against its closing
// counterpart byte-for-byte.
var (
	tagCPOpen     = []byte("<1:CP\x00")
	tagCPClose    = []byte("CP:1>\x00")
	tagCSOpen     = []byte("<1:CS\x00")
	tagCSClose    = []byte("CS:1>\x00")
	tagSSOpen     = []byte("<1:SS\x00")
	tagSSClose    = []byte("SS:1>\x00")
	tagSDOsOpen   = []byte("<1:SDOs\x00")
	tagSDOsClose  = []byte("SDOs:1>\x00")
	tagCSDOsOpen  = []byte("<1:CSDOs\x00")
	tagCSDOsClose = []byte("CSDOs:1>\x00")
)

// idfMeta is the decoded triple downstream segment/dictionary decoding
// needs: the column's minimum data id, its bit-packed entry count, and the
// bit width each bit-packed sub-segment word is sliced into.
type idfMeta struct {
	minDataID      uint32
	countBitPacked uint64
	bitWidth       int64
}

// idfMetaCursor is a tiny byte-slice reader, in the spirit of the
// teacher's offset-checked reads in helper.go, specialized for idfmeta's
// fixed little-endian field layout.
type idfMetaCursor struct {
	artifact string
	buf      []byte
	pos      int
}

func (c *idfMetaCursor) need(n int) error {
	if c.pos+n > len(c.buf) {
		return ErrOutsideBoundary
	}
	return nil
}

func (c *idfMetaCursor) tag(section string, want []byte) error {
	n := len(want)
	if err := c.need(n); err != nil {
		return newArtifactErr(c.artifact, section, err)
	}
	got := c.buf[c.pos : c.pos+n]
	if !bytes.Equal(got, want) {
		return newArtifactErr(c.artifact, section,
			fmt.Errorf("tag mismatch: want %x, got %x", want, got))
	}
	c.pos += n
	return nil
}

func (c *idfMetaCursor) u8(section string) (byte, error) {
	if err := c.need(1); err != nil {
		return 0, newArtifactErr(c.artifact, section, err)
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *idfMetaCursor) u32(section string) (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, newArtifactErr(c.artifact, section, err)
	}
	v := binary.LittleEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *idfMetaCursor) u64(section string) (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, newArtifactErr(c.artifact, section, err)
	}
	v := binary.LittleEndian.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v, nil
}

func (c *idfMetaCursor) skip(section string, n int) error {
	if err := c.need(n); err != nil {
		return newArtifactErr(c.artifact, section, err)
	}
	c.pos += n
	return nil
}

// parseIDFMeta decodes a `.idfmeta` artifact: CP { version, CS0 { ...,
// SS, CS1 { count_bit_packed } } } followed by an SDOs block this decoder
// does not need beyond structural validation. Grounded on
// original_source/pbixray/column_data/idfmeta.py and
// original_source/pbixray/decode.py:read_idfmeta.
func parseIDFMeta(artifact string, buf []byte) (*idfMeta, error) {
	c := &idfMetaCursor{artifact: artifact, buf: buf}

	if err := c.tag("CP", tagCPOpen); err != nil {
		return nil, err
	}
	if _, err := c.u64("CP"); err != nil { // version_one
		return nil, err
	}

	if err := c.tag("CS", tagCSOpen); err != nil {
		return nil, err
	}
	if _, err := c.u64("CS"); err != nil { // records
		return nil, err
	}
	if _, err := c.u64("CS"); err != nil { // one
		return nil, err
	}
	// a_b_a_5_a: bit-width adjustment base, true name unknown.
	aBA5A, err := c.u32("CS")
	if err != nil {
		return nil, err
	}
	iterator, err := c.u32("CS")
	if err != nil {
		return nil, err
	}
	if err := c.skip("CS", 8); err != nil { // bookmark_bits_1_2_8
		return nil, err
	}
	if err := c.skip("CS", 8); err != nil { // storage_alloc_size
		return nil, err
	}
	if err := c.skip("CS", 8); err != nil { // storage_used_size
		return nil, err
	}
	if _, err := c.u8("CS"); err != nil { // segment_needs_resizing
		return nil, err
	}
	if err := c.skip("CS", 4); err != nil { // compression_info
		return nil, err
	}

	if err := c.tag("SS", tagSSOpen); err != nil {
		return nil, err
	}
	if err := c.skip("SS", 8); err != nil { // distinct_states
		return nil, err
	}
	minDataID, err := c.u32("SS")
	if err != nil {
		return nil, err
	}
	if err := c.skip("SS", 4); err != nil { // max_data_id
		return nil, err
	}
	if err := c.skip("SS", 4); err != nil { // original_min_segment_data_id
		return nil, err
	}
	if err := c.skip("SS", 8); err != nil { // rle_sort_order
		return nil, err
	}
	if err := c.skip("SS", 8); err != nil { // row_count
		return nil, err
	}
	if _, err := c.u8("SS"); err != nil { // has_nulls
		return nil, err
	}
	if err := c.skip("SS", 8); err != nil { // rle_runs
		return nil, err
	}
	if err := c.skip("SS", 8); err != nil { // others_rle_runs
		return nil, err
	}
	if err := c.tag("SS", tagSSClose); err != nil {
		return nil, err
	}

	if _, err := c.u8("CS"); err != nil { // has_bit_packed_sub_seg
		return nil, err
	}

	if err := c.tag("CS", tagCSOpen); err != nil {
		return nil, err
	}
	countBitPacked, err := c.u64("CS")
	if err != nil {
		return nil, err
	}
	if err := c.skip("CS", 9); err != nil { // blob_with9_zeros
		return nil, err
	}
	if err := c.tag("CS", tagCSClose); err != nil {
		return nil, err
	}

	if err := c.tag("CS", tagCSClose); err != nil {
		return nil, err
	}
	if err := c.tag("CP", tagCPClose); err != nil {
		return nil, err
	}

	if err := parseIDFMetaSDOs(c); err != nil {
		return nil, err
	}

	return &idfMeta{
		minDataID:      minDataID,
		countBitPacked: countBitPacked,
		bitWidth:       36 - int64(aBA5A) + int64(iterator),
	}, nil
}

// parseIDFMetaSDOs validates the trailing SDOs { CSDOs { CSDOs1 } } block.
// Its fields (storage offsets into the original on-disk page allocator)
// have no bearing on in-memory decoding, so only structural validity is
// checked — a malformed SDOs block still means the artifact is corrupt.
func parseIDFMetaSDOs(c *idfMetaCursor) error {
	if err := c.tag("SDOs", tagSDOsOpen); err != nil {
		return err
	}

	if err := c.tag("CSDOs", tagCSDOsOpen); err != nil {
		return err
	}
	if err := c.skip("CSDOs", 8); err != nil { // zero_c_s_d_o
		return err
	}
	if err := c.skip("CSDOs", 8); err != nil { // primary_segment_size
		return err
	}

	if err := c.tag("CSDOs", tagCSDOsOpen); err != nil {
		return err
	}
	if err := c.skip("CSDOs", 8); err != nil { // sub_segment_offset
		return err
	}
	if err := c.skip("CSDOs", 8); err != nil { // sub_segment_size
		return err
	}
	if err := c.tag("CSDOs", tagCSDOsClose); err != nil {
		return err
	}

	if err := c.tag("CSDOs", tagCSDOsClose); err != nil {
		return err
	}
	return c.tag("SDOs", tagSDOsClose)
}
