// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vertipaq

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// dataModelEntryNames lists the zip entry names that hold the compressed
// ABF stream, in container-format preference order: a .pbix carries
// "DataModel", an .xlsx/.xlsm Power Pivot workbook carries
// "xl/model/item.data".
var dataModelEntryNames = []string{"DataModel", "xl/model/item.data"}

var registerFastFlateOnce sync.Once

// registerFastFlate rebinds zip's DEFLATE method to klauspost/compress's
// faster pure-Go implementation, the dependency arloliu/mebo's go.mod
// already vendors for exactly this kind of large-archive-member read.
func registerFastFlate() {
	registerFastFlateOnce.Do(func() {
		zip.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
			return flate.NewReader(r)
		})
	})
}

// openDataModelEntry locates and fully reads the container's DataModel
// (or Power Pivot item.data) entry from an opened zip reader.
func openDataModelEntry(zr *zip.Reader) ([]byte, error) {
	registerFastFlate()

	for _, name := range dataModelEntryNames {
		for _, f := range zr.File {
			if f.Name != name {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("%w: opening %s: %v", ErrUnsupportedContainer, name, err)
			}
			defer rc.Close()
			data, err := io.ReadAll(rc)
			if err != nil {
				return nil, fmt.Errorf("%w: reading %s: %v", ErrUnsupportedContainer, name, err)
			}
			return data, nil
		}
	}
	return nil, ErrUnsupportedContainer
}

// openABF reads a .pbix/.xlsx/.xlsm container's DataModel entry, strips
// its Xpress9 framing, and parses the resulting ABF document.
func openABF(data []byte) (*abfDocument, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedContainer, err)
	}

	entry, err := openDataModelEntry(zr)
	if err != nil {
		return nil, err
	}

	decompressed, err := decompressABFStream(entry)
	if err != nil {
		return nil, err
	}

	return parseABFDocument(decompressed)
}
