// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vertipaq

import "testing"

// buildXLSXDoc assembles a minimal abfDocument whose file log points at
// hand-authored cub.xml/dim.xml/det.xml/scr.xml artifacts packed back to
// back in one buffer, uncompressed and without the ErrorCode trim.
func buildXLSXDoc() *abfDocument {
	cub := []byte(`<Cube><Dimensions><Dimension><ID>D1</ID><Name>Orders</Name></Dimension></Dimensions></Cube>`)
	dim := []byte(`<Dimension><ID>D1</ID><Name>Orders</Name><Attributes><Attribute><ID>A1</ID><Name>Amount</Name></Attribute></Attributes></Dimension>`)
	det := []byte(`<Details><Storage><AttributeID>A1</AttributeID><Dictionary>col.dict</Dictionary><HashIndex>col.hidx</HashIndex><DataFile>col.idf</DataFile><BaseId>5</BaseId><Magnitude>2.0</Magnitude><Cardinality>100</Cardinality><DataType>8</DataType></Storage></Details>`)
	scr := []byte(`<MdxScript><Commands><Command><Text>EVALUATE Orders</Text></Command></Commands></MdxScript>`)

	var buf []byte
	addEntry := func(name string, content []byte) fileLogEntry {
		e := fileLogEntry{Path: name, OffsetHeader: int64(len(buf)), Size: int64(len(content))}
		buf = append(buf, content...)
		return e
	}

	entries := []fileLogEntry{
		addEntry("model.cub.xml", cub),
		addEntry("D1.dim.xml", dim),
		addEntry("model.det.xml", det),
		addEntry("script1.scr.xml", scr),
	}

	return &abfDocument{
		buffer:  buf,
		header:  &backupLogHeader{ApplyCompression: false, ErrorCode: false},
		fileLog: entries,
	}
}

func TestNewCatalogXLSXTablesAndColumns(t *testing.T) {
	doc := buildXLSXDoc()
	c, err := newCatalogXLSX(doc)
	if err != nil {
		t.Fatalf("newCatalogXLSX() error = %v", err)
	}

	tables, err := c.Tables()
	if err != nil {
		t.Fatalf("Tables() error = %v", err)
	}
	if len(tables) != 1 || tables[0] != "Orders" {
		t.Fatalf("Tables() = %v, want [Orders]", tables)
	}

	cols, err := c.Columns("Orders")
	if err != nil {
		t.Fatalf("Columns() error = %v", err)
	}
	if len(cols) != 1 {
		t.Fatalf("Columns() returned %d columns, want 1", len(cols))
	}
	col := cols[0]
	if col.ColumnName != "Amount" || col.Dictionary != "col.dict" || col.HIDX != "col.hidx" || col.IDF != "col.idf" {
		t.Fatalf("Columns()[0] = %+v", col)
	}
	if col.BaseID != 5 || col.Magnitude != 2.0 || col.Cardinality != 100 || col.DataType != DataTypeFloat64 {
		t.Fatalf("Columns()[0] numeric/type fields = %+v", col)
	}
}

func TestNewCatalogXLSXDaxTableExpressions(t *testing.T) {
	doc := buildXLSXDoc()
	c, err := newCatalogXLSX(doc)
	if err != nil {
		t.Fatalf("newCatalogXLSX() error = %v", err)
	}

	exprs, err := c.DaxTableExpressions()
	if err != nil {
		t.Fatalf("DaxTableExpressions() error = %v", err)
	}
	if len(exprs) != 1 || exprs[0].Expression != "EVALUATE Orders" {
		t.Fatalf("DaxTableExpressions() = %+v", exprs)
	}
}

func TestNewCatalogXLSXUnknownTable(t *testing.T) {
	doc := buildXLSXDoc()
	c, err := newCatalogXLSX(doc)
	if err != nil {
		t.Fatalf("newCatalogXLSX() error = %v", err)
	}
	if _, err := c.Columns("NoSuchTable"); err == nil {
		t.Fatal("Columns() expected error for unknown table")
	}
}
