// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vertipaq

import (
	"encoding/binary"
	"fmt"
)

// hidxCursor is a small sequential reader over a hash-index buffer.
type hidxCursor struct {
	artifact string
	buf      []byte
	pos      int
}

func (c *hidxCursor) need(n int) error {
	if c.pos+n > len(c.buf) {
		return newArtifactErr(c.artifact, "HIDX", ErrOutsideBoundary)
	}
	return nil
}

func (c *hidxCursor) u32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *hidxCursor) s32() (int32, error) {
	v, err := c.u32()
	return int32(v), err
}

func (c *hidxCursor) u64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v, nil
}

func (c *hidxCursor) s64() (int64, error) {
	v, err := c.u64()
	return int64(v), err
}

func (c *hidxCursor) u8() (byte, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *hidxCursor) bytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	v := c.buf[c.pos : c.pos+n]
	c.pos += n
	return v, nil
}

// readHashTable parses a `.hidx` artifact into a flat hash->key table,
// merging each hash bin's local entries with the trailing overflow list —
// original_source/pbixray/decode.py:read_hash_table's two-pass merge.
func readHashTable(artifact string, buf []byte) (map[uint32]uint32, error) {
	c := &hidxCursor{artifact: artifact, buf: buf}

	hashAlgorithm, err := c.s32()
	if err != nil {
		return nil, err
	}
	_ = hashAlgorithm

	hashEntrySize, err := c.u32()
	if err != nil {
		return nil, err
	}
	hashBinSize, err := c.u32()
	if err != nil {
		return nil, err
	}
	localEntryCount, err := c.u32()
	if err != nil {
		return nil, err
	}
	binCount, err := c.u64()
	if err != nil {
		return nil, err
	}
	if _, err := c.s64(); err != nil { // number_of_records
		return nil, err
	}
	if _, err := c.s64(); err != nil { // current_mask
		return nil, err
	}

	hashStats, err := c.u8()
	if err != nil {
		return nil, err
	}
	if hashStats != 0 {
		if err := skipHashStatistics(c); err != nil {
			return nil, err
		}
	}

	_ = hashEntrySize

	result := make(map[uint32]uint32)

	for i := uint64(0); i < binCount; i++ {
		binBuf, err := c.bytes(int(hashBinSize))
		if err != nil {
			return nil, err
		}
		if err := readHashBin(artifact, binBuf, int(localEntryCount), result); err != nil {
			return nil, err
		}
	}

	overflowCount, err := c.u64()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < overflowCount; i++ {
		hash, err := c.u32()
		if err != nil {
			return nil, err
		}
		key, err := c.u32()
		if err != nil {
			return nil, err
		}
		if hash != 0 {
			result[hash] = key
		}
	}

	return result, nil
}

// skipHashStatistics consumes an optional HashStatisticsType block: six
// u64 summary fields, an element_count (u64), an element_size (u32), and
// element_count entries of element_size each (4 or 8 bytes).
func skipHashStatistics(c *hidxCursor) error {
	for i := 0; i < 6; i++ {
		if _, err := c.u64(); err != nil { // number_of_elements .. maximum_chain
			return err
		}
	}
	elementCount, err := c.u64()
	if err != nil {
		return err
	}
	elementSize, err := c.u32()
	if err != nil {
		return err
	}
	for i := uint64(0); i < elementCount; i++ {
		switch elementSize {
		case 4:
			if _, err := c.u32(); err != nil {
				return err
			}
		case 8:
			if _, err := c.u64(); err != nil {
				return err
			}
		default:
			return newArtifactErr(c.artifact, "HIDX",
				fmt.Errorf("unsupported histogram element size %d", elementSize))
		}
	}
	return nil
}

// readHashBin parses one fixed-size hash bin: a chain pointer, a used
// count, localEntryCount HashEntry pairs, and a 4-byte pad.
func readHashBin(artifact string, buf []byte, localEntryCount int, out map[uint32]uint32) error {
	c := &hidxCursor{artifact: artifact, buf: buf}
	if _, err := c.u64(); err != nil { // m_rg_chain
		return err
	}
	if _, err := c.u32(); err != nil { // m_count
		return err
	}
	for i := 0; i < localEntryCount; i++ {
		hash, err := c.u32()
		if err != nil {
			return err
		}
		key, err := c.u32()
		if err != nil {
			return err
		}
		if hash != 0 {
			out[hash] = key
		}
	}
	return nil
}

// hashLookup applies the Path B numeric recovery formula: (id + baseID) /
// magnitude, §4.8.
func hashLookup(id uint32, baseID int64, magnitude float64) float64 {
	return (float64(id) + float64(baseID)) / magnitude
}
