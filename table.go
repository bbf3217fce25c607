// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vertipaq

import "fmt"

// Table is a fully decoded, column-major table: Columns lists the column
// names in catalog order and Data holds one slice of values per column,
// keyed by name, all agreeing on row count.
type Table struct {
	Name    string
	Columns []string
	Data    map[string][]interface{}
	RowCount int
}

// decodeTable assembles every column of one catalog table, in the
// catalog's storage_position order, per §4.9. All columns must agree on
// row count or the table is ragged.
func decodeTable(r artifactReader, descriptors []ColumnDescriptor) (*Table, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("%w: no columns in table", ErrCatalogMismatch)
	}

	t := &Table{
		Name: descriptors[0].TableName,
		Data: make(map[string][]interface{}, len(descriptors)),
	}

	for _, d := range descriptors {
		values, err := decodeColumn(r, d)
		if err != nil {
			return nil, err
		}
		values = castColumn(values, d.DataType)

		if t.RowCount == 0 {
			t.RowCount = len(values)
		} else if len(values) != t.RowCount {
			return nil, fmt.Errorf("%w: %s.%s has %d rows, table has %d",
				ErrRaggedTable, d.TableName, d.ColumnName, len(values), t.RowCount)
		}

		t.Columns = append(t.Columns, d.ColumnName)
		t.Data[d.ColumnName] = values
	}

	return t, nil
}
