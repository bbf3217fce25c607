// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vertipaq

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// catalogPBIX is the .pbix Catalog backend: the embedded
// "metadata.sqlitedb" artifact, queried with the same five statements
// original_source/pbixray/meta/metadata_query.py runs, executed here
// through modernc.org/sqlite (a cgo-free driver so the whole module stays
// a single static binary, the same packaging goal the teacher's mmap-only
// file access pursues).
type catalogPBIX struct {
	db        *sql.DB
	closeFile string // temp file backing db, removed on Close
}

// newCatalogPBIX opens a metadata.sqlitedb artifact. Since
// database/sql's sqlite driver needs a filesystem path, the artifact is
// first spilled to a private temp file; modernc.org/sqlite has no
// in-process byte-buffer VFS in the examples pack, so this mirrors the
// teacher's own mmap-backed-by-a-real-file posture rather than inventing
// one.
func newCatalogPBIX(artifact []byte) (*catalogPBIX, error) {
	f, err := os.CreateTemp("", "vertipaq-metadata-*.sqlitedb")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAbf, err)
	}
	path := f.Name()
	if _, err := f.Write(artifact); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w: %v", ErrMalformedAbf, err)
	}
	f.Close()

	db, err := sql.Open("sqlite", path+"?mode=ro&immutable=1")
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: %v", ErrMalformedAbf, err)
	}

	return &catalogPBIX{db: db, closeFile: path}, nil
}

func (c *catalogPBIX) Close() error {
	err := c.db.Close()
	if c.closeFile != "" {
		os.Remove(c.closeFile)
	}
	return err
}

const schemaQuery = `
SELECT
	t.Name AS TableName,
	c.ExplicitName AS ColumnName,
	sfd.FileName AS Dictionary,
	sfh.FileName AS HIDX,
	sfi.FileName AS IDF,
	cs.Statistics_DistinctStates AS Cardinality,
	c.ExplicitDataType AS DataType,
	ds.BaseId,
	ds.Magnitude,
	ds.IsNullable,
	cs.StoragePosition
FROM Column c
JOIN [Table] t ON c.TableId = t.ID
JOIN ColumnStorage cs ON c.ColumnStorageID = cs.ID
JOIN AttributeHierarchy ah ON ah.ColumnID = c.ID
JOIN AttributeHierarchyStorage ahs ON ah.AttributeHierarchyStorageID = ahs.ID
LEFT JOIN StorageFile sfh ON sfh.ID = ahs.StorageFileID
LEFT JOIN DictionaryStorage ds ON ds.ID = cs.DictionaryStorageID
LEFT JOIN StorageFile sfd ON sfd.ID = ds.StorageFileID
JOIN ColumnPartitionStorage cps ON cps.ColumnStorageID = cs.ID
JOIN StorageFile sfi ON sfi.ID = cps.StorageFileID
WHERE c.Type = 1
ORDER BY t.Name, cs.StoragePosition
`

func (c *catalogPBIX) allColumns() ([]ColumnDescriptor, error) {
	rows, err := c.db.Query(schemaQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: schema query: %v", ErrMalformedAbf, err)
	}
	defer rows.Close()

	var out []ColumnDescriptor
	for rows.Next() {
		var d ColumnDescriptor
		var dictionary, hidx sql.NullString
		var baseID, magnitude sql.NullFloat64
		var isNullable sql.NullBool
		if err := rows.Scan(&d.TableName, &d.ColumnName, &dictionary, &hidx, &d.IDF,
			&d.Cardinality, &d.DataType, &baseID, &magnitude, &isNullable, &d.StoragePosition); err != nil {
			return nil, fmt.Errorf("%w: schema row: %v", ErrMalformedAbf, err)
		}
		d.Dictionary = dictionary.String
		d.HIDX = hidx.String
		d.BaseID = int64(baseID.Float64)
		d.Magnitude = magnitude.Float64
		d.IsNullable = isNullable.Bool
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *catalogPBIX) Tables() ([]string, error) {
	cols, err := c.allColumns()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var tables []string
	for _, d := range cols {
		if !seen[d.TableName] {
			seen[d.TableName] = true
			tables = append(tables, d.TableName)
		}
	}
	return tables, nil
}

func (c *catalogPBIX) Columns(table string) ([]ColumnDescriptor, error) {
	cols, err := c.allColumns()
	if err != nil {
		return nil, err
	}
	var out []ColumnDescriptor
	for _, d := range cols {
		if d.TableName == table {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *catalogPBIX) queryExpressions(partitionType int) ([]QueryExpression, error) {
	rows, err := c.db.Query(`
		SELECT t.Name, p.QueryDefinition
		FROM partition p
		JOIN [Table] t ON t.ID = p.TableID
		WHERE p.Type = ?`, partitionType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAbf, err)
	}
	defer rows.Close()

	var out []QueryExpression
	for rows.Next() {
		var q QueryExpression
		if err := rows.Scan(&q.TableName, &q.Expression); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedAbf, err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (c *catalogPBIX) PowerQueryExpressions() ([]QueryExpression, error) { return c.queryExpressions(4) }
func (c *catalogPBIX) DaxTableExpressions() ([]QueryExpression, error)   { return c.queryExpressions(2) }

func (c *catalogPBIX) DaxMeasures() ([]Measure, error) {
	rows, err := c.db.Query(`
		SELECT t.Name, m.Name, m.Expression, m.DisplayFolder, m.Description
		FROM Measure m
		JOIN [Table] t ON m.TableID = t.ID`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAbf, err)
	}
	defer rows.Close()

	var out []Measure
	for rows.Next() {
		var m Measure
		var displayFolder, description sql.NullString
		if err := rows.Scan(&m.TableName, &m.Name, &m.Expression, &displayFolder, &description); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedAbf, err)
		}
		m.DisplayFolder = displayFolder.String
		m.Description = description.String
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c *catalogPBIX) Annotations() ([]Annotation, error) {
	rows, err := c.db.Query(`SELECT Name, Value FROM Annotation WHERE ObjectType = 1`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAbf, err)
	}
	defer rows.Close()

	var out []Annotation
	for rows.Next() {
		var a Annotation
		if err := rows.Scan(&a.Name, &a.Value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedAbf, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (c *catalogPBIX) Relationships() ([]Relationship, error) {
	rows, err := c.db.Query(`
		SELECT
			ft.Name, fc.ExplicitName, tt.Name, tc.ExplicitName,
			rel.IsActive,
			CASE WHEN rel.FromCardinality = 2 THEN 'M' ELSE '1' END ||
			':' ||
			CASE WHEN rel.ToCardinality = 2 THEN 'M' ELSE '1' END,
			CASE
				WHEN rel.CrossFilteringBehavior = 1 THEN 'Single'
				WHEN rel.CrossFilteringBehavior = 2 THEN 'Both'
				ELSE CAST(rel.CrossFilteringBehavior AS TEXT)
			END,
			rel.RelyOnReferentialIntegrity
		FROM Relationship rel
			LEFT JOIN [Table] ft ON rel.FromTableID = ft.id
			LEFT JOIN [Column] fc ON rel.FromColumnID = fc.id
			LEFT JOIN [Table] tt ON rel.ToTableID = tt.id AND tt.systemflags = 0
			LEFT JOIN [Column] tc ON rel.ToColumnID = tc.id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAbf, err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.FromTable, &r.FromColumn, &r.ToTable, &r.ToColumn,
			&r.IsActive, &r.Cardinality, &r.CrossFilteringBehavior, &r.RelyOnReferentialIntegrity); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedAbf, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
