// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vertipaq

import (
	"errors"
	"fmt"
)

// Errors returned by the core decoding pipeline. Each corresponds to one of
// the error kinds named in the format's design notes.
var (
	// ErrUnsupportedContainer is returned when the outer zip has no entry
	// recognized as a DataModel stream.
	ErrUnsupportedContainer = errors.New("vertipaq: no DataModel entry found in container")

	// ErrUnknownStreamFormat is returned when the first bytes of the
	// DataModel entry match none of the accepted ABF stream signatures.
	ErrUnknownStreamFormat = errors.New("vertipaq: unrecognized ABF stream signature")

	// ErrDecompressionFailed is returned when Xpress9 or Xpress8 produced
	// the wrong number of bytes or ran past the end of their input.
	ErrDecompressionFailed = errors.New("vertipaq: decompression failed")

	// ErrDecompressionSizeMismatch names an Xpress8-chunked artifact slice
	// that decompresses to a size different from the size declared for it.
	// abfDocument.artifact does not compare the decompressed length against
	// a declared size, so no function in this package returns it.
	ErrDecompressionSizeMismatch = errors.New("vertipaq: decompressed artifact size mismatch")

	// ErrMalformedAbf is returned when the virtual directory or backup log
	// XML cannot be parsed or a range falls outside the stream. A backup-log
	// entry with no virtual-directory match is left out of the file log, so
	// a request for it fails with ErrCatalogMismatch instead.
	ErrMalformedAbf = errors.New("vertipaq: malformed ABF container")

	// ErrUnknownDictionaryKind is returned for an invalid or unrecognized
	// dictionary_type tag.
	ErrUnknownDictionaryKind = errors.New("vertipaq: unknown dictionary kind")

	// ErrUndecodableColumn is returned when a column descriptor has
	// neither a dictionary nor a HIDX reference.
	ErrUndecodableColumn = errors.New("vertipaq: column has neither dictionary nor hash index")

	// ErrRaggedTable is returned when two columns of the same table
	// decode to different row counts.
	ErrRaggedTable = errors.New("vertipaq: table columns disagree on row count")

	// ErrCatalogMismatch is returned when a column descriptor names an
	// embedded file absent from the virtual directory.
	ErrCatalogMismatch = errors.New("vertipaq: catalog references unknown artifact")

	// ErrOutsideBoundary is returned when a read would cross the bounds
	// of its owning buffer.
	ErrOutsideBoundary = errors.New("vertipaq: read outside artifact boundary")
)

// ArtifactError names the artifact, byte offset, and section that failed to
// parse, so a caller can tell exactly which on-disk structure was corrupt.
type ArtifactError struct {
	Artifact string // catalog-visible file name, e.g. "<guid>.1.idfmeta"
	Offset   int64  // byte offset within the artifact, -1 if not meaningful
	Section  string // section/tag label that failed, e.g. "CS", "SS"
	Err      error
}

func (e *ArtifactError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("vertipaq: %s: section %s at offset 0x%x: %v",
			e.Artifact, e.Section, e.Offset, e.Err)
	}
	return fmt.Sprintf("vertipaq: %s: section %s: %v", e.Artifact, e.Section, e.Err)
}

func (e *ArtifactError) Unwrap() error { return e.Err }

// newArtifactErr builds an ArtifactError with no meaningful offset.
func newArtifactErr(artifact, section string, err error) *ArtifactError {
	return &ArtifactError{Artifact: artifact, Offset: -1, Section: section, Err: err}
}
