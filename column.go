// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vertipaq

import "fmt"

// artifactReader fetches and fully decompresses a named catalog artifact.
// abfDocument.artifact satisfies it; tests substitute a map-backed stub.
type artifactReader interface {
	artifact(path string) ([]byte, error)
}

// decodeColumn resolves one column's values from its descriptor, per
// §4.8's three decode paths.
func decodeColumn(r artifactReader, d ColumnDescriptor) ([]interface{}, error) {
	idfMetaBuf, err := r.artifact(d.IDF + "meta")
	if err != nil {
		return nil, err
	}
	meta, err := parseIDFMeta(d.IDF+"meta", idfMetaBuf)
	if err != nil {
		return nil, err
	}

	idfBuf, err := r.artifact(d.IDF)
	if err != nil {
		return nil, err
	}
	ids, err := decodeRLEBitPackedHybrid(d.IDF, idfBuf, meta)
	if err != nil {
		return nil, err
	}

	switch {
	case d.Dictionary != "":
		return decodeColumnPathA(r, d, ids, meta)
	case d.HIDX != "":
		return decodeColumnPathB(ids, d.BaseID, d.Magnitude), nil
	default:
		return nil, fmt.Errorf("%w: %s.%s", ErrUndecodableColumn, d.TableName, d.ColumnName)
	}
}

// decodeColumnPathA maps each id through the column's dictionary. The
// dictionary is keyed from meta.minDataID (the .idfmeta-derived per-segment
// value spec.md §4.2/§4.6 calls "the column's min_data_id"), not the
// catalog's BaseID/Magnitude pair — those two fields are Path B's alone and
// have no reason to coincide with minDataID on a real multi-segment file.
func decodeColumnPathA(r artifactReader, d ColumnDescriptor, ids []uint32, meta *idfMeta) ([]interface{}, error) {
	dictBuf, err := r.artifact(d.Dictionary)
	if err != nil {
		return nil, err
	}
	dict, err := readDictionary(d.Dictionary, dictBuf, meta.minDataID)
	if err != nil {
		return nil, err
	}

	values := make([]interface{}, len(ids))
	for i, id := range ids {
		v, ok := dict[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s: id %d absent from dictionary",
				ErrCatalogMismatch, d.TableName, d.ColumnName, id)
		}
		values[i] = v
	}
	return values, nil
}

// decodeColumnPathB recovers fixed-point values via (id + baseID) /
// magnitude without a dictionary.
func decodeColumnPathB(ids []uint32, baseID int64, magnitude float64) []interface{} {
	values := make([]interface{}, len(ids))
	for i, id := range ids {
		values[i] = hashLookup(id, baseID, magnitude)
	}
	return values
}

// castColumn casts a decoded value sequence to the semantic Go type the
// descriptor's DataType implies. DateTime columns are left as the raw
// Windows-epoch tick count per spec.md §4.8; Model.Schema tags them so a
// caller can convert.
func castColumn(values []interface{}, dt DataType) []interface{} {
	switch dt {
	case DataTypeInt64, DataTypeDateTime:
		out := make([]interface{}, len(values))
		for i, v := range values {
			out[i] = toInt64(v)
		}
		return out
	case DataTypeFloat64, DataTypeDecimal:
		out := make([]interface{}, len(values))
		for i, v := range values {
			out[i] = toFloat64(v)
		}
		return out
	case DataTypeBool:
		out := make([]interface{}, len(values))
		for i, v := range values {
			out[i] = toInt64(v) != 0
		}
		return out
	default:
		return values
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int32:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float64:
		return t
	default:
		return 0
	}
}
