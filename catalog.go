// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vertipaq

// DataType is the AMO/TOM ExplicitDataType enumeration a column
// descriptor carries, mirroring the AMO_PANDAS_TYPE_MAPPING table of
// original_source/pbixray/core.py.
type DataType int

const (
	DataTypeUnknown  DataType = 0
	DataTypeString   DataType = 2
	DataTypeInt64    DataType = 6
	DataTypeFloat64  DataType = 8
	DataTypeDateTime DataType = 9
	DataTypeDecimal  DataType = 10
	DataTypeBool     DataType = 11
	DataTypeBytes    DataType = 17
)

// ColumnDescriptor is the catalog-resolved pointer to one column's
// on-disk artifacts plus enough schema metadata to decode and type it,
// the "already-resolved Column Descriptor" spec.md's column decoder
// consumes.
type ColumnDescriptor struct {
	TableName  string
	ColumnName string

	Dictionary string // artifact path, empty if column has no dictionary
	HIDX       string // artifact path, empty if column has no hash index
	IDF        string // artifact path, always present

	Cardinality int64
	DataType    DataType
	BaseID      int64
	Magnitude   float64
	IsNullable  bool

	StoragePosition int
}

// Relationship is a pass-through view of the model's Relationship table,
// grounded on metadata_query.py:populate_relationships.
type Relationship struct {
	FromTable               string
	FromColumn              string
	ToTable                 string
	ToColumn                string
	IsActive                bool
	Cardinality             string
	CrossFilteringBehavior  string
	RelyOnReferentialIntegrity bool
}

// QueryExpression is one Power Query M or DAX calculated-table expression,
// grounded on metadata_query.py:__populate_m/__populate_dax_tables.
type QueryExpression struct {
	TableName  string
	Expression string
}

// Measure is one DAX measure, grounded on
// metadata_query.py:__populate_dax_measures.
type Measure struct {
	TableName     string
	Name          string
	Expression    string
	DisplayFolder string
	Description   string
}

// Annotation is one model-level annotation, grounded on
// metadata_query.py:populate_metadata.
type Annotation struct {
	Name  string
	Value string
}

// Catalog is the abstraction separating "where is this column's data" from
// "how is it encoded on disk" — the same adapter seam spec.md's §6
// describes, implemented by catalogPBIX (SQLite metadata.sqlitedb) and
// catalogXLSX (AS XML bundle).
type Catalog interface {
	Tables() ([]string, error)
	Columns(table string) ([]ColumnDescriptor, error)

	Relationships() ([]Relationship, error)
	PowerQueryExpressions() ([]QueryExpression, error)
	DaxTableExpressions() ([]QueryExpression, error)
	DaxMeasures() ([]Measure, error)
	Annotations() ([]Annotation, error)
}
