// Package schema implements the Schema Discoverer (C8): it drives a
// connector's per-backend GetSchemaInfo walker, normalizes the result into
// a SchemaSnapshot, and diffs two snapshots structurally. Grounded on
// original_source/database/schema_discovery.py for walk order and
// normalization rules, since spec.md is largely silent on exact diff
// semantics (resolved per the "use original_source/ to resolve ambiguity"
// rule).
package schema

import (
	"context"
	"sort"
	"time"

	"github.com/dafelhub/dataplatform/internal/connector"
)

// SchemaSnapshot is the normalized output of a discovery pass, per
// spec §3's data model.
type SchemaSnapshot struct {
	Database        string
	Dialect         connector.Backend
	Tables          []connector.TableInfo
	Views           []string
	Routines        []string
	Sequences       []string
	ServerInfo      map[string]string
	AnalyzedAt      time.Time
	AnalysisElapsed time.Duration
}

// Discover runs GetSchemaInfo against a live connector and wraps the
// resulting fragment into a full snapshot.
func Discover(ctx context.Context, c connector.Connector, scope connector.SchemaScope) (SchemaSnapshot, error) {
	start := time.Now()
	frag, err := c.GetSchemaInfo(ctx, scope)
	if err != nil {
		return SchemaSnapshot{}, err
	}
	cfg := c.Config()
	meta := c.Metadata()

	tables := append([]connector.TableInfo(nil), frag.Tables...)
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })

	return SchemaSnapshot{
		Database:        cfg.Database,
		Dialect:         cfg.Backend,
		Tables:          tables,
		ServerInfo:      meta.ServerInfo,
		AnalyzedAt:      start,
		AnalysisElapsed: time.Since(start),
	}, nil
}

// ColumnDelta describes one column whose shape differs between two
// snapshots of the same table.
type ColumnDelta struct {
	Column        string
	TypeBefore    connector.ColumnType
	TypeAfter     connector.ColumnType
	NullableBefore bool
	NullableAfter  bool
}

// TableDiff is the per-table delta set for a table present in both
// snapshots.
type TableDiff struct {
	Table            string
	ColumnsAdded     []string
	ColumnsRemoved   []string
	ColumnsChanged   []ColumnDelta
}

// Diff is the structural comparison of two snapshots, per spec §4.4. It
// never compares row data, only catalog shape.
type Diff struct {
	TablesOnlyInA []string
	TablesOnlyInB []string
	TablesChanged []TableDiff
}

// Compare returns the structural diff between a (before) and b (after).
func Compare(a, b SchemaSnapshot) Diff {
	aTables := indexTables(a.Tables)
	bTables := indexTables(b.Tables)

	var d Diff
	for name := range aTables {
		if _, ok := bTables[name]; !ok {
			d.TablesOnlyInA = append(d.TablesOnlyInA, name)
		}
	}
	for name := range bTables {
		if _, ok := aTables[name]; !ok {
			d.TablesOnlyInB = append(d.TablesOnlyInB, name)
		}
	}
	sort.Strings(d.TablesOnlyInA)
	sort.Strings(d.TablesOnlyInB)

	var commonNames []string
	for name := range aTables {
		if _, ok := bTables[name]; ok {
			commonNames = append(commonNames, name)
		}
	}
	sort.Strings(commonNames)

	for _, name := range commonNames {
		if td, changed := diffTable(aTables[name], bTables[name]); changed {
			d.TablesChanged = append(d.TablesChanged, td)
		}
	}
	return d
}

func indexTables(tables []connector.TableInfo) map[string]connector.TableInfo {
	idx := make(map[string]connector.TableInfo, len(tables))
	for _, t := range tables {
		idx[t.Name] = t
	}
	return idx
}

func diffTable(a, b connector.TableInfo) (TableDiff, bool) {
	aCols := indexColumns(a.Columns)
	bCols := indexColumns(b.Columns)

	td := TableDiff{Table: a.Name}
	for name := range aCols {
		if _, ok := bCols[name]; !ok {
			td.ColumnsRemoved = append(td.ColumnsRemoved, name)
		}
	}
	for name := range bCols {
		if _, ok := aCols[name]; !ok {
			td.ColumnsAdded = append(td.ColumnsAdded, name)
		}
	}
	sort.Strings(td.ColumnsAdded)
	sort.Strings(td.ColumnsRemoved)

	var commonNames []string
	for name := range aCols {
		if _, ok := bCols[name]; ok {
			commonNames = append(commonNames, name)
		}
	}
	sort.Strings(commonNames)

	for _, name := range commonNames {
		ac, bc := aCols[name], bCols[name]
		if ac.Type != bc.Type || ac.Nullable != bc.Nullable {
			td.ColumnsChanged = append(td.ColumnsChanged, ColumnDelta{
				Column: name, TypeBefore: ac.Type, TypeAfter: bc.Type,
				NullableBefore: ac.Nullable, NullableAfter: bc.Nullable,
			})
		}
	}

	changed := len(td.ColumnsAdded) > 0 || len(td.ColumnsRemoved) > 0 || len(td.ColumnsChanged) > 0
	return td, changed
}

func indexColumns(cols []connector.ColumnInfo) map[string]connector.ColumnInfo {
	idx := make(map[string]connector.ColumnInfo, len(cols))
	for _, c := range cols {
		idx[c.Name] = c
	}
	return idx
}
