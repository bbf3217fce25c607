// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vertipaq

import (
	"fmt"
	"os"
	"time"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/cespare/xxhash/v2"

	"github.com/hugoberry/vertipaq-go/log"
)

// windowsEpoch is the zero tick for every DateTime column's raw int64
// value, grounded on original_source/pbixray/utils.py's
// WINDOWS_EPOCH_START constant.
var windowsEpoch = time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)

// Options configures how a Model is opened, mirroring the teacher's
// pe.Options shape (boolean feature flags plus an injectable Logger).
type Options struct {
	// Fast is accepted but not read: Open never decodes table data
	// eagerly, and GetTable decodes on demand whether or not Fast is set.
	Fast bool

	// PermissiveColumns causes GetTable to skip a column it could not
	// decode (recording the error) instead of failing the whole table.
	PermissiveColumns bool

	// MaxColumnsPerTable caps how many columns GetTable will decode, 0
	// meaning unlimited. Guards against pathological catalogs.
	MaxColumnsPerTable int

	Logger log.Logger
}

func (o *Options) logger() *log.Helper {
	if o == nil || o.Logger == nil {
		return log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.LevelError)))
	}
	return log.NewHelper(o.Logger)
}

// Model is the open, read-only handle onto one .pbix/.xlsx VertiPaq
// store. It owns the decompressed ABF buffer and the resolved catalog
// adapter for as long as it is open.
type Model struct {
	opts    *Options
	log     *log.Helper
	doc     *abfDocument
	catalog Catalog
	closer  func() error

	raw []byte
}

// Open memory-maps path the same way the teacher's pe.New does, fully
// decompresses its DataModel entry, and resolves a catalog backend. The
// backend is chosen by which catalog artifact the ABF document actually
// contains (see resolveCatalog), not by the file's extension.
func Open(path string, opts *Options) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vertipaq: %w", err)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("vertipaq: %w", err)
	}

	m, err := OpenBytes(data, opts)
	if err != nil {
		data.Unmap()
		f.Close()
		return nil, err
	}

	prevCloser := m.closer
	m.closer = func() error {
		err := prevCloser()
		if uerr := data.Unmap(); uerr != nil && err == nil {
			err = uerr
		}
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		return err
	}
	return m, nil
}

// OpenBytes is Open without a filesystem dependency, for containers
// already held in memory.
func OpenBytes(data []byte, opts *Options) (*Model, error) {
	doc, err := openABF(data)
	if err != nil {
		return nil, err
	}

	m := &Model{opts: opts, log: opts.logger(), doc: doc, raw: data}

	catalog, closer, err := resolveCatalog(doc)
	if err != nil {
		return nil, err
	}
	m.catalog = catalog
	m.closer = closer

	m.log.Debugf("opened model: %d embedded artifacts", len(doc.fileLog))
	return m, nil
}

// resolveCatalog picks the pbix (SQLite) or xlsx (AS XML bundle) backend
// by which artifact the ABF document actually carries.
func resolveCatalog(doc *abfDocument) (Catalog, func() error, error) {
	for _, entry := range doc.fileLog {
		if entry.Path == "metadata.sqlitedb" {
			buf, err := doc.artifact(entry.Path)
			if err != nil {
				return nil, nil, err
			}
			c, err := newCatalogPBIX(buf)
			if err != nil {
				return nil, nil, err
			}
			return c, c.Close, nil
		}
	}

	for _, entry := range doc.fileLog {
		if hasSuffix(entry.Path, ".cub.xml") {
			c, err := newCatalogXLSX(doc)
			if err != nil {
				return nil, nil, err
			}
			return c, func() error { return nil }, nil
		}
	}

	return nil, nil, fmt.Errorf("%w: no recognized catalog artifact", ErrCatalogMismatch)
}

// Close releases the catalog backend (and, for .pbix, the temp file it
// spilled metadata.sqlitedb into).
func (m *Model) Close() error {
	if m.closer != nil {
		return m.closer()
	}
	return nil
}

// Size returns the fully decompressed ABF stream's byte length.
func (m *Model) Size() uint64 {
	return uint64(len(m.doc.buffer))
}

// Fingerprint returns a content hash of the decompressed ABF stream,
// suitable for cache keys or change detection across re-exports of the
// same model. Uses xxhash for the same speed/size tradeoff
// other_examples' content-addressing code reaches for.
func (m *Model) Fingerprint() uint64 {
	return xxhash.Sum64(m.doc.buffer)
}

// Tables lists every table name the catalog knows about.
func (m *Model) Tables() ([]string, error) {
	return m.catalog.Tables()
}

// SchemaColumn describes one column's catalog metadata plus whether it
// needs Windows-epoch tick conversion.
type SchemaColumn struct {
	ColumnDescriptor
	IsDateTime bool
}

// Schema returns every table's column descriptors, tagging DateTime
// columns so a caller can convert the raw tick count Model.GetTable
// returns for them.
func (m *Model) Schema() (map[string][]SchemaColumn, error) {
	tables, err := m.catalog.Tables()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]SchemaColumn, len(tables))
	for _, t := range tables {
		cols, err := m.catalog.Columns(t)
		if err != nil {
			return nil, err
		}
		schemaCols := make([]SchemaColumn, len(cols))
		for i, c := range cols {
			schemaCols[i] = SchemaColumn{ColumnDescriptor: c, IsDateTime: c.DataType == DataTypeDateTime}
		}
		out[t] = schemaCols
	}
	return out, nil
}

// GetTable decodes every column of table and assembles it into a Table.
func (m *Model) GetTable(table string) (*Table, error) {
	cols, err := m.catalog.Columns(table)
	if err != nil {
		return nil, err
	}
	if m.opts != nil && m.opts.MaxColumnsPerTable > 0 && len(cols) > m.opts.MaxColumnsPerTable {
		cols = cols[:m.opts.MaxColumnsPerTable]
	}

	if m.opts == nil || !m.opts.PermissiveColumns {
		return decodeTable(m.doc, cols)
	}

	return decodeTablePermissive(m.doc, cols, m.log)
}

// decodeTablePermissive decodes each column independently, skipping (and
// logging) any column that fails rather than failing the whole table —
// the behavior Options.PermissiveColumns opts into.
func decodeTablePermissive(r artifactReader, descriptors []ColumnDescriptor, l *log.Helper) (*Table, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("%w: no columns in table", ErrCatalogMismatch)
	}

	t := &Table{Name: descriptors[0].TableName, Data: make(map[string][]interface{}, len(descriptors))}
	for _, d := range descriptors {
		values, err := decodeColumn(r, d)
		if err != nil {
			l.Warnf("skipping %s.%s: %v", d.TableName, d.ColumnName, err)
			continue
		}
		values = castColumn(values, d.DataType)

		if t.RowCount == 0 {
			t.RowCount = len(values)
		} else if len(values) != t.RowCount {
			l.Warnf("skipping %s.%s: row count %d disagrees with table's %d",
				d.TableName, d.ColumnName, len(values), t.RowCount)
			continue
		}

		t.Columns = append(t.Columns, d.ColumnName)
		t.Data[d.ColumnName] = values
	}
	return t, nil
}

// ColumnStatistic is a read-only view over artifact sizes already known
// from the virtual directory, grounded on
// original_source/pbixray/core.py:_compute_statistics.
type ColumnStatistic struct {
	TableName      string
	ColumnName     string
	Cardinality    int64
	DictionarySize int64
	HashIndexSize  int64
	DataSize       int64
}

// Statistics reports, per column, its cardinality and the byte size of
// each artifact backing it, without decoding any of them.
func (m *Model) Statistics() ([]ColumnStatistic, error) {
	tables, err := m.catalog.Tables()
	if err != nil {
		return nil, err
	}

	sizeOf := func(path string) int64 {
		if path == "" {
			return 0
		}
		for _, e := range m.doc.fileLog {
			if e.Path == path {
				return e.Size
			}
		}
		return 0
	}

	var out []ColumnStatistic
	for _, t := range tables {
		cols, err := m.catalog.Columns(t)
		if err != nil {
			return nil, err
		}
		for _, c := range cols {
			out = append(out, ColumnStatistic{
				TableName:      c.TableName,
				ColumnName:     c.ColumnName,
				Cardinality:    c.Cardinality,
				DictionarySize: sizeOf(c.Dictionary),
				HashIndexSize:  sizeOf(c.HIDX),
				DataSize:       sizeOf(c.IDF),
			})
		}
	}
	return out, nil
}

// ServerRoot returns the Backup Log's ServerRoot field, identifying the
// Analysis Services instance the backup was produced from.
func (m *Model) ServerRoot() string {
	return m.doc.log.ServerRoot
}

// HashIndex exposes a column's raw HIDX hash table directly, for callers
// who want the hash->key mapping itself rather than Path B's resolved
// numeric values. Returns ErrUndecodableColumn if the column has no HIDX
// artifact.
func (m *Model) HashIndex(table, column string) (map[uint32]uint32, error) {
	cols, err := m.catalog.Columns(table)
	if err != nil {
		return nil, err
	}
	for _, c := range cols {
		if c.ColumnName != column {
			continue
		}
		if c.HIDX == "" {
			return nil, fmt.Errorf("%w: %s.%s has no HIDX artifact", ErrUndecodableColumn, table, column)
		}
		buf, err := m.doc.artifact(c.HIDX)
		if err != nil {
			return nil, err
		}
		return readHashTable(c.HIDX, buf)
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrCatalogMismatch, table, column)
}

func (m *Model) Relationships() ([]Relationship, error)             { return m.catalog.Relationships() }
func (m *Model) PowerQueryExpressions() ([]QueryExpression, error)  { return m.catalog.PowerQueryExpressions() }
func (m *Model) DaxTableExpressions() ([]QueryExpression, error)    { return m.catalog.DaxTableExpressions() }
func (m *Model) DaxMeasures() ([]Measure, error)                    { return m.catalog.DaxMeasures() }
func (m *Model) Annotations() ([]Annotation, error)                 { return m.catalog.Annotations() }

// WindowsEpochToTime converts a DateTime column's raw 100-nanosecond tick
// count (since 1601-01-01 UTC) to a calendar time, per spec.md §4.8's
// "caller ... is responsible for converting" contract.
func WindowsEpochToTime(ticks int64) time.Time {
	return windowsEpoch.Add(time.Duration(ticks * 100))
}
