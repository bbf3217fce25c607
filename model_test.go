// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vertipaq

import (
	"testing"
	"time"

	"github.com/hugoberry/vertipaq-go/log"
	"github.com/stretchr/testify/require"
)

func TestWindowsEpochToTime(t *testing.T) {
	// One day (864,000,000,000 100ns ticks) past the Windows epoch.
	got := WindowsEpochToTime(864000000000)
	want := time.Date(1601, 1, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("WindowsEpochToTime() = %v, want %v", got, want)
	}
}

func TestResolveCatalogMismatch(t *testing.T) {
	doc := &abfDocument{fileLog: []fileLogEntry{{Path: "unrelated.bin"}}}
	_, _, err := resolveCatalog(doc)
	if err == nil {
		t.Fatal("resolveCatalog() expected error when no catalog artifact is present")
	}
}

// fakeCatalog is a minimal Catalog stand-in for exercising Model's
// pass-through accessors without a real ABF/SQLite backend.
type fakeCatalog struct {
	tables  []string
	columns map[string][]ColumnDescriptor
}

func (f *fakeCatalog) Tables() ([]string, error) { return f.tables, nil }
func (f *fakeCatalog) Columns(table string) ([]ColumnDescriptor, error) {
	return f.columns[table], nil
}
func (f *fakeCatalog) Relationships() ([]Relationship, error)            { return nil, nil }
func (f *fakeCatalog) PowerQueryExpressions() ([]QueryExpression, error) { return nil, nil }
func (f *fakeCatalog) DaxTableExpressions() ([]QueryExpression, error)   { return nil, nil }
func (f *fakeCatalog) DaxMeasures() ([]Measure, error)                   { return nil, nil }
func (f *fakeCatalog) Annotations() ([]Annotation, error)                { return nil, nil }

func TestModelTablesAndServerRoot(t *testing.T) {
	cat := &fakeCatalog{tables: []string{"Orders", "Customers"}}
	m := &Model{
		opts:    &Options{},
		log:     (&Options{}).logger(),
		doc:     &abfDocument{log: &backupLog{ServerRoot: "ANALYSIS01"}},
		catalog: cat,
	}

	tables, err := m.Tables()
	if err != nil {
		t.Fatalf("Tables() error = %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("Tables() = %v, want 2 entries", tables)
	}
	if got := m.ServerRoot(); got != "ANALYSIS01" {
		t.Fatalf("ServerRoot() = %q, want ANALYSIS01", got)
	}
}

func TestModelGetTablePermissiveSkipsBadColumn(t *testing.T) {
	metaOK := buildIDFMeta(20, 3, 0, 0)
	idfOK := buildIDFSegment([]idfSegmentEntry{{dataValue: 1, repeatValue: 2}}, nil)

	reader := fakeArtifactReader{
		"ok.idfmeta": metaOK,
		"ok.idf":     idfOK,
		// "bad.idf"/"bad.idfmeta" intentionally absent, so decodeColumn fails.
	}

	descriptors := []ColumnDescriptor{
		{TableName: "T", ColumnName: "OK", IDF: "ok.idf", HIDX: "ok.hidx", Magnitude: 1.0, DataType: DataTypeFloat64},
		{TableName: "T", ColumnName: "Bad", IDF: "bad.idf", HIDX: "bad.hidx"},
	}

	table, err := decodeTablePermissive(reader, descriptors, (&Options{}).logger())
	if err != nil {
		t.Fatalf("decodeTablePermissive() error = %v", err)
	}
	if len(table.Columns) != 1 || table.Columns[0] != "OK" {
		t.Fatalf("decodeTablePermissive() kept columns %v, want only OK", table.Columns)
	}
}

func TestModelHashIndex(t *testing.T) {
	hidx := buildHashTable(1, map[uint32]uint32{7: 700}, map[uint32]uint32{9: 900})
	cat := &fakeCatalog{
		columns: map[string][]ColumnDescriptor{
			"T": {{TableName: "T", ColumnName: "Amt", HIDX: "amt.hidx"}},
		},
	}
	doc := &abfDocument{
		buffer:  hidx,
		header:  &backupLogHeader{},
		fileLog: []fileLogEntry{{Path: "amt.hidx", OffsetHeader: 0, Size: int64(len(hidx))}},
	}
	m := &Model{opts: &Options{}, log: (&Options{}).logger(), doc: doc, catalog: cat}

	got, err := m.HashIndex("T", "Amt")
	if err != nil {
		t.Fatalf("HashIndex() error = %v", err)
	}
	if got[7] != 700 || got[9] != 900 {
		t.Fatalf("HashIndex() = %v, want {7:700, 9:900, ...}", got)
	}
}

func TestModelHashIndexNoArtifact(t *testing.T) {
	cat := &fakeCatalog{
		columns: map[string][]ColumnDescriptor{
			"T": {{TableName: "T", ColumnName: "Amt", Dictionary: "amt.dict"}},
		},
	}
	m := &Model{opts: &Options{}, log: (&Options{}).logger(), doc: &abfDocument{header: &backupLogHeader{}}, catalog: cat}

	if _, err := m.HashIndex("T", "Amt"); err == nil {
		t.Fatal("HashIndex() expected error for column with no HIDX artifact")
	}
}

func TestModelSchema(t *testing.T) {
	cat := &fakeCatalog{
		tables: []string{"Orders"},
		columns: map[string][]ColumnDescriptor{
			"Orders": {
				{TableName: "Orders", ColumnName: "Amount", DataType: DataTypeFloat64, IDF: "a.idf"},
				{TableName: "Orders", ColumnName: "Placed", DataType: DataTypeDateTime, IDF: "p.idf"},
			},
		},
	}
	m := &Model{opts: &Options{}, log: (&Options{}).logger(), doc: &abfDocument{}, catalog: cat}

	got, err := m.Schema()
	require.NoError(t, err)
	require.Equal(t, map[string][]SchemaColumn{
		"Orders": {
			{ColumnDescriptor: ColumnDescriptor{TableName: "Orders", ColumnName: "Amount", DataType: DataTypeFloat64, IDF: "a.idf"}, IsDateTime: false},
			{ColumnDescriptor: ColumnDescriptor{TableName: "Orders", ColumnName: "Placed", DataType: DataTypeDateTime, IDF: "p.idf"}, IsDateTime: true},
		},
	}, got)
}

func TestOptionsLoggerDefaultsWhenNil(t *testing.T) {
	var opts *Options
	if opts.logger() == nil {
		t.Fatal("(*Options)(nil).logger() returned nil")
	}
}

func TestOptionsLoggerUsesProvided(t *testing.T) {
	opts := &Options{Logger: log.NewStdLogger(nil)}
	if opts.logger() == nil {
		t.Fatal("logger() returned nil despite a configured Logger")
	}
}
