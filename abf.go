// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vertipaq

import (
	"encoding/xml"
	"fmt"
)

// backupLogHeaderOffset and backupLogHeaderSize locate the Backup Log
// Header page within the decompressed ABF stream: a single 4096-byte page
// starting right after the 72-byte STREAM_STORAGE_SIGNATURE marker.
const (
	backupLogHeaderOffset = 72
	backupLogHeaderSize   = 0x1000
)

// backupLogHeader is the UTF-16, NUL-padded XML document occupying the
// stream's fixed header page. Grounded on
// original_source/pbixray/abf/backup_log_header.py.
type backupLogHeader struct {
	XMLName                 xml.Name `xml:"BackupRestoreSyncStoredValidation"`
	BackupRestoreSyncVersion int     `xml:"BackupRestoreSyncVersion"`
	Fault                    bool    `xml:"Fault"`
	FaultCode                int     `xml:"faultcode"`
	ErrorCode                bool    `xml:"ErrorCode"`
	EncryptionFlag           bool    `xml:"EncryptionFlag"`
	EncryptionKey            int     `xml:"EncryptionKey"`
	ApplyCompression         bool    `xml:"ApplyCompression"`
	OffsetHeader             int64   `xml:"m_cbOffsetHeader"`
	DataSize                 int64   `xml:"DataSize"`
	Files                    int     `xml:"Files"`
	ObjectID                 string  `xml:"ObjectID"`
	OffsetData               int64   `xml:"m_cbOffsetData"`
}

func parseBackupLogHeader(buf []byte) (*backupLogHeader, error) {
	s, err := decodeUTF16NulPadded(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: backup log header: %v", ErrMalformedAbf, err)
	}
	var h backupLogHeader
	if err := xml.Unmarshal([]byte(s), &h); err != nil {
		return nil, fmt.Errorf("%w: backup log header: %v", ErrMalformedAbf, err)
	}
	return &h, nil
}

// virtualDirectoryFile is one <BackupFile> element of the Virtual
// Directory listing — a flat index of every artifact embedded in the
// stream and its byte range.
type virtualDirectoryFile struct {
	Path             string `xml:"Path"`
	Size             int64  `xml:"Size"`
	OffsetHeader     int64  `xml:"m_cbOffsetHeader"`
	Delete           bool   `xml:"Delete"`
	CreatedTimestamp int64  `xml:"CreatedTimestamp"`
	Access           int64  `xml:"Access"`
	LastWriteTime    int64  `xml:"LastWriteTime"`
}

type virtualDirectory struct {
	XMLName     xml.Name               `xml:"VirtualDirectory"`
	BackupFiles []virtualDirectoryFile `xml:"BackupFile"`
}

func parseVirtualDirectory(buf []byte) (*virtualDirectory, error) {
	s, err := decodeUTF16(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: virtual directory: %v", ErrMalformedAbf, err)
	}
	var vd virtualDirectory
	if err := xml.Unmarshal([]byte(s), &vd); err != nil {
		return nil, fmt.Errorf("%w: virtual directory: %v", ErrMalformedAbf, err)
	}
	return &vd, nil
}

// backupFile is one <BackupFile> entry inside a FileGroup's FileList — the
// logical path and where it lives in storage terms.
type backupFile struct {
	Path          string `xml:"Path"`
	StoragePath   string `xml:"StoragePath"`
	LastWriteTime int64  `xml:"LastWriteTime"`
	Size          int64  `xml:"Size"`
}

type fileGroup struct {
	Class               int          `xml:"Class"`
	ID                   string       `xml:"ID"`
	Name                 string       `xml:"Name"`
	ObjectVersion        int          `xml:"ObjectVersion"`
	PersistLocation      int          `xml:"PersistLocation"`
	PersistLocationPath  string       `xml:"PersistLocationPath"`
	StorageLocationPath  string       `xml:"StorageLocationPath"`
	ObjectID             string       `xml:"ObjectID"`
	FileList             []backupFile `xml:"FileList>BackupFile"`
}

// backupLog is the manifest describing how the model's logical files map
// onto virtual-directory storage paths, grouped by FileGroup. Grounded on
// original_source/pbixray/abf/backup_log.py.
type backupLog struct {
	XMLName                  xml.Name    `xml:"BackupLog"`
	BackupRestoreSyncVersion string      `xml:"BackupRestoreSyncVersion"`
	ServerRoot               string      `xml:"ServerRoot"`
	SvrEncryptPwdFlag        bool        `xml:"SvrEncryptPwdFlag"`
	ServerEnableBinaryXML    bool        `xml:"ServerEnableBinaryXML"`
	ServerEnableCompression  bool        `xml:"ServerEnableCompression"`
	CompressionFlag          bool        `xml:"CompressionFlag"`
	EncryptionFlag           bool        `xml:"EncryptionFlag"`
	ObjectName               string      `xml:"ObjectName"`
	ObjectID                 string      `xml:"ObjectId"`
	Write                    string      `xml:"Write"`
	OlapInfo                 bool        `xml:"OlapInfo"`
	Collations               []string    `xml:"Collations>Collation"`
	Languages                []int       `xml:"Languages>Language"`
	FileGroups               []fileGroup `xml:"FileGroups>FileGroup"`
}

func parseBackupLog(buf []byte, errorCode bool) (*backupLog, error) {
	if errorCode {
		buf = trimTrailing4(buf)
	}
	s, err := decodeUTF16(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: backup log: %v", ErrMalformedAbf, err)
	}
	var bl backupLog
	if err := xml.Unmarshal([]byte(s), &bl); err != nil {
		return nil, fmt.Errorf("%w: backup log: %v", ErrMalformedAbf, err)
	}
	return &bl, nil
}

// fileLogEntry is one logical artifact reachable from the stream, with its
// catalog-relative path and its byte range in the decompressed buffer.
type fileLogEntry struct {
	Path         string
	StoragePath  string
	Size         int64
	OffsetHeader int64
}

// abfDocument is the fully parsed ABF stream: the three XML documents plus
// the cross-joined file log the rest of the decoder walks by path.
type abfDocument struct {
	buffer           []byte
	header           *backupLogHeader
	virtualDirectory *virtualDirectory
	log              *backupLog
	fileLog          []fileLogEntry
}

// parseABFDocument runs the full Backup Log Header -> Virtual Directory ->
// Backup Log -> cross-join pipeline against a fully decompressed ABF
// stream buffer. Grounded on original_source/pbixray/abf/parser.py.
func parseABFDocument(buf []byte) (*abfDocument, error) {
	if err := sliceBounds(backupLogHeaderOffset, backupLogHeaderSize, uint64(len(buf))); err != nil {
		return nil, fmt.Errorf("%w: backup log header page: %v", ErrMalformedAbf, err)
	}
	header, err := parseBackupLogHeader(buf[backupLogHeaderOffset : backupLogHeaderOffset+backupLogHeaderSize])
	if err != nil {
		return nil, err
	}

	if err := sliceBounds(uint64(header.OffsetHeader), uint64(header.DataSize), uint64(len(buf))); err != nil {
		return nil, fmt.Errorf("%w: virtual directory: %v", ErrMalformedAbf, err)
	}
	vd, err := parseVirtualDirectory(buf[header.OffsetHeader : header.OffsetHeader+header.DataSize])
	if err != nil {
		return nil, err
	}
	if len(vd.BackupFiles) == 0 {
		return nil, fmt.Errorf("%w: virtual directory has no backup files", ErrMalformedAbf)
	}

	logFile := vd.BackupFiles[len(vd.BackupFiles)-1]
	if err := sliceBounds(uint64(logFile.OffsetHeader), uint64(logFile.Size), uint64(len(buf))); err != nil {
		return nil, fmt.Errorf("%w: backup log: %v", ErrMalformedAbf, err)
	}
	bl, err := parseBackupLog(buf[logFile.OffsetHeader:logFile.OffsetHeader+logFile.Size], header.ErrorCode)
	if err != nil {
		return nil, err
	}

	doc := &abfDocument{buffer: buf, header: header, virtualDirectory: vd, log: bl}
	doc.fileLog = matchLogsAndGetAttributes(vd, bl)
	return doc, nil
}

// matchLogsAndGetAttributes joins each FileGroup's logical BackupFile
// entries against the Virtual Directory's storage-path index, stripping
// the second FileGroup's PersistLocationPath prefix from each logical
// path. Grounded on
// original_source/pbixray/abf/parser.py:__match_logs_and_get_attributes.
func matchLogsAndGetAttributes(vd *virtualDirectory, bl *backupLog) []fileLogEntry {
	var persistRoot string
	if len(bl.FileGroups) > 1 {
		persistRoot = bl.FileGroups[1].PersistLocationPath + `\`
	}

	byPath := make(map[string]virtualDirectoryFile, len(vd.BackupFiles))
	for _, f := range vd.BackupFiles {
		byPath[f.Path] = f
	}

	var out []fileLogEntry
	for _, fg := range bl.FileGroups {
		for _, bf := range fg.FileList {
			matched, ok := byPath[bf.StoragePath]
			if !ok {
				continue
			}
			p := bf.Path
			if persistRoot != "" && len(p) >= len(persistRoot) && p[:len(persistRoot)] == persistRoot {
				p = p[len(persistRoot):]
			}
			out = append(out, fileLogEntry{
				Path:         p,
				StoragePath:  bf.StoragePath,
				Size:         matched.Size,
				OffsetHeader: matched.OffsetHeader,
			})
		}
	}
	return out
}

// artifact returns the fully materialized, decompressed bytes for the
// logical artifact at path, applying the Backup Log Header's
// ApplyCompression and ErrorCode flags the way
// original_source/pbixray/core.py's slice() helper does.
func (d *abfDocument) artifact(path string) ([]byte, error) {
	for _, e := range d.fileLog {
		if e.Path != path {
			continue
		}
		if err := sliceBounds(uint64(e.OffsetHeader), uint64(e.Size), uint64(len(d.buffer))); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedAbf, path, err)
		}
		raw := d.buffer[e.OffsetHeader : e.OffsetHeader+e.Size]
		if d.header.ErrorCode {
			raw = trimTrailing4(raw)
		}
		if !d.header.ApplyCompression {
			out := make([]byte, len(raw))
			copy(out, raw)
			return out, nil
		}
		return xpress8DecompressChunked(raw)
	}
	return nil, fmt.Errorf("%w: %s", ErrCatalogMismatch, path)
}
