package postgres

import (
	"context"
	"strings"

	"github.com/dafelhub/dataplatform/internal/apperrors"
	"github.com/dafelhub/dataplatform/internal/connector"
)

// GetSchemaInfo walks pg_catalog/information_schema, grounded on the walk
// order used by original_source/database/schema_discovery.py (tables,
// columns, indexes, constraints, row estimates).
func (c *Connector) GetSchemaInfo(ctx context.Context, scope connector.SchemaScope) (connector.SchemaFragment, error) {
	pool, err := c.acquirePool()
	if err != nil {
		return connector.SchemaFragment{}, err
	}

	tableFilter := ""
	args := []any{}
	if len(scope.Tables) > 0 {
		tableFilter = " AND table_name = ANY($1)"
		args = append(args, scope.Tables)
	}

	rows, err := pool.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'`+tableFilter+`
		ORDER BY table_name`, args...)
	if err != nil {
		return connector.SchemaFragment{}, apperrors.New(apperrors.KindUnknown, "postgres.GetSchemaInfo", err)
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return connector.SchemaFragment{}, apperrors.New(apperrors.KindUnknown, "postgres.GetSchemaInfo", err)
		}
		names = append(names, n)
	}
	rows.Close()

	frag := connector.SchemaFragment{}
	for _, name := range names {
		table, err := c.describeTable(ctx, name)
		if err != nil {
			return connector.SchemaFragment{}, err
		}
		frag.Tables = append(frag.Tables, table)
	}
	return frag, nil
}

func (c *Connector) describeTable(ctx context.Context, name string) (connector.TableInfo, error) {
	pool, err := c.acquirePool()
	if err != nil {
		return connector.TableInfo{}, err
	}

	table := connector.TableInfo{Name: name}

	colRows, err := pool.Query(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`, name)
	if err != nil {
		return table, apperrors.New(apperrors.KindUnknown, "postgres.describeTable", err)
	}
	for colRows.Next() {
		var colName, dataType, nullable string
		if err := colRows.Scan(&colName, &dataType, &nullable); err != nil {
			colRows.Close()
			return table, apperrors.New(apperrors.KindUnknown, "postgres.describeTable", err)
		}
		table.Columns = append(table.Columns, connector.ColumnInfo{
			Name:       colName,
			NativeType: dataType,
			Type:       normalizeType(dataType),
			Nullable:   strings.EqualFold(nullable, "YES"),
		})
	}
	colRows.Close()

	idxRows, err := pool.Query(ctx, `
		SELECT indexname, indexdef FROM pg_indexes
		WHERE schemaname = 'public' AND tablename = $1`, name)
	if err != nil {
		return table, apperrors.New(apperrors.KindUnknown, "postgres.describeTable", err)
	}
	for idxRows.Next() {
		var idxName, idxDef string
		if err := idxRows.Scan(&idxName, &idxDef); err != nil {
			idxRows.Close()
			return table, apperrors.New(apperrors.KindUnknown, "postgres.describeTable", err)
		}
		table.Indexes = append(table.Indexes, connector.IndexInfo{
			Name:   idxName,
			Unique: strings.Contains(strings.ToUpper(idxDef), "UNIQUE"),
		})
	}
	idxRows.Close()

	var estimate int64
	_ = pool.QueryRow(ctx, `SELECT reltuples::bigint FROM pg_class WHERE relname = $1`, name).Scan(&estimate)
	table.RowEstimate = estimate

	return table, nil
}

// normalizeType maps PostgreSQL native types onto the closed ColumnType
// enum; unknown native types map to Unknown without failing, per spec §4.4.
func normalizeType(native string) connector.ColumnType {
	switch strings.ToLower(native) {
	case "integer", "smallint", "bigint", "numeric", "decimal":
		return connector.ColTypeInteger
	case "real", "double precision":
		return connector.ColTypeFloat
	case "boolean":
		return connector.ColTypeBoolean
	case "character varying", "varchar", "text", "char", "character":
		return connector.ColTypeString
	case "date":
		return connector.ColTypeDate
	case "timestamp without time zone", "timestamp with time zone", "timestamptz":
		return connector.ColTypeDateTime
	case "bytea":
		return connector.ColTypeBinary
	case "json", "jsonb":
		return connector.ColTypeJSON
	default:
		return connector.ColTypeUnknown
	}
}
