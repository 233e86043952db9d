package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dafelhub/dataplatform/internal/connector"
)

func snapshot(tables ...connector.TableInfo) SchemaSnapshot {
	return SchemaSnapshot{Database: "app", Dialect: connector.BackendPostgres, Tables: tables}
}

func TestCompare_TablesOnlyInOneSide(t *testing.T) {
	a := snapshot(
		connector.TableInfo{Name: "users"},
		connector.TableInfo{Name: "orders"},
	)
	b := snapshot(
		connector.TableInfo{Name: "users"},
		connector.TableInfo{Name: "invoices"},
	)

	d := Compare(a, b)
	assert.Equal(t, []string{"orders"}, d.TablesOnlyInA)
	assert.Equal(t, []string{"invoices"}, d.TablesOnlyInB)
	assert.Empty(t, d.TablesChanged)
}

func TestCompare_ColumnAddedRemovedChanged(t *testing.T) {
	a := snapshot(connector.TableInfo{
		Name: "users",
		Columns: []connector.ColumnInfo{
			{Name: "id", Type: connector.ColTypeInteger, Nullable: false},
			{Name: "legacy_flag", Type: connector.ColTypeBoolean, Nullable: true},
			{Name: "age", Type: connector.ColTypeInteger, Nullable: true},
		},
	})
	b := snapshot(connector.TableInfo{
		Name: "users",
		Columns: []connector.ColumnInfo{
			{Name: "id", Type: connector.ColTypeInteger, Nullable: false},
			{Name: "age", Type: connector.ColTypeFloat, Nullable: false},
			{Name: "email", Type: connector.ColTypeString, Nullable: true},
		},
	})

	d := Compare(a, b)
	assert.Len(t, d.TablesChanged, 1)
	tc := d.TablesChanged[0]
	assert.Equal(t, []string{"email"}, tc.ColumnsAdded)
	assert.Equal(t, []string{"legacy_flag"}, tc.ColumnsRemoved)
	assert.Len(t, tc.ColumnsChanged, 1)
	assert.Equal(t, "age", tc.ColumnsChanged[0].Column)
	assert.Equal(t, connector.ColTypeInteger, tc.ColumnsChanged[0].TypeBefore)
	assert.Equal(t, connector.ColTypeFloat, tc.ColumnsChanged[0].TypeAfter)
}

func TestCompare_IdenticalSnapshotsYieldNoDiff(t *testing.T) {
	tables := []connector.TableInfo{{
		Name:    "users",
		Columns: []connector.ColumnInfo{{Name: "id", Type: connector.ColTypeInteger}},
	}}
	a := snapshot(tables...)
	b := snapshot(tables...)

	d := Compare(a, b)
	assert.Empty(t, d.TablesOnlyInA)
	assert.Empty(t, d.TablesOnlyInB)
	assert.Empty(t, d.TablesChanged)
}
