// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vertipaq

import "sort"

// huffmanNode is a binary trie node; leaves carry the ISO-8859-1 code
// point they decode to. Grounded on
// original_source/pbixray/huffman.py:HuffmanTree.
type huffmanNode struct {
	char        byte
	left, right *huffmanNode
}

func (n *huffmanNode) isLeaf() bool {
	return n.left == nil && n.right == nil
}

// decompressEncodeArray expands the compact 128-byte encode_array (two
// 4-bit codeword lengths per byte) into 256 per-character lengths.
func decompressEncodeArray(compressed []byte) [256]byte {
	var lengths [256]byte
	for i, b := range compressed {
		lengths[2*i] = b & 0x0F
		lengths[2*i+1] = (b >> 4) & 0x0F
	}
	return lengths
}

type lengthChar struct {
	length byte
	char   int
}

// buildHuffmanTree constructs the canonical Huffman tree for a page's
// expanded codeword-length table: sort (length, character) pairs, assign
// codes left-aligned and incrementing, then insert each into the trie.
func buildHuffmanTree(lengths [256]byte) *huffmanNode {
	var entries []lengthChar
	for ch, length := range lengths {
		if length != 0 {
			entries = append(entries, lengthChar{length: length, char: ch})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].length != entries[j].length {
			return entries[i].length < entries[j].length
		}
		return entries[i].char < entries[j].char
	})

	root := &huffmanNode{}
	var code uint32
	var lastLength byte
	for _, e := range entries {
		if lastLength != e.length {
			code <<= uint(e.length - lastLength)
			lastLength = e.length
		}
		insertHuffmanCode(root, byte(e.char), code, e.length)
		code++
	}
	return root
}

func insertHuffmanCode(root *huffmanNode, char byte, code uint32, length byte) {
	node := root
	for i := int(length) - 1; i >= 0; i-- {
		bit := (code >> uint(i)) & 1
		if bit == 0 {
			if node.left == nil {
				node.left = &huffmanNode{}
			}
			node = node.left
		} else {
			if node.right == nil {
				node.right = &huffmanNode{}
			}
			node = node.right
		}
	}
	node.char = char
}

// huffmanBit reads bit bitPos of a byte stream whose bytes are consumed
// in swapped pairs: for pair [a, b] the decoder reads b's bits before a's.
// Grounded verbatim on
// original_source/pbixray/huffman.py:decode_substring's byte_pos formula.
func huffmanBit(stream []byte, bitPos int) bool {
	bytePos := bitPos / 8
	bitOffset := uint(bitPos % 8)
	bytePos = (bytePos &^ 1) + (1 - (bytePos & 1))
	return stream[bytePos]&(1<<(7-bitOffset)) != 0
}

// decodeHuffmanSubstring walks tree one bit at a time over [startBit,
// endBit), emitting a character (as UTF-8) each time a leaf is reached
// and resetting to the root; if the walk ends sitting on a leaf, one
// final character is emitted.
func decodeHuffmanSubstring(stream []byte, tree *huffmanNode, startBit, endBit int) string {
	var out []byte
	node := tree
	for bitPos := startBit; bitPos < endBit; bitPos++ {
		if node.isLeaf() {
			out = append(out, iso88591ToUTF8(node.char)...)
			node = tree
		}
		if huffmanBit(stream, bitPos) {
			node = node.right
		} else {
			node = node.left
		}
	}
	if node.isLeaf() {
		out = append(out, iso88591ToUTF8(node.char)...)
	}
	return string(out)
}

// decodeHuffmanPage decodes every string in a compressed dictionary page
// given its expanded codeword lengths, bit stream, and per-record start
// bit offsets. The last string runs to totalBits.
func decodeHuffmanPage(encodeArray [256]byte, stream []byte, handles []uint64, totalBits uint64) []string {
	tree := buildHuffmanTree(encodeArray)

	strs := make([]string, len(handles))
	for i, start := range handles {
		end := totalBits
		if i+1 < len(handles) {
			end = handles[i+1]
		}
		strs[i] = decodeHuffmanSubstring(stream, tree, int(start), int(end))
	}
	return strs
}
