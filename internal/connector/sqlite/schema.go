package sqlite

import (
	"context"
	"strings"

	"github.com/dafelhub/dataplatform/internal/apperrors"
	"github.com/dafelhub/dataplatform/internal/connector"
)

func (c *Connector) GetSchemaInfo(ctx context.Context, scope connector.SchemaScope) (connector.SchemaFragment, error) {
	db, err := c.acquire()
	if err != nil {
		return connector.SchemaFragment{}, err
	}

	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return connector.SchemaFragment{}, apperrors.New(apperrors.KindUnknown, "sqlite.GetSchemaInfo", err)
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return connector.SchemaFragment{}, apperrors.New(apperrors.KindUnknown, "sqlite.GetSchemaInfo", err)
		}
		if len(scope.Tables) == 0 || contains(scope.Tables, n) {
			names = append(names, n)
		}
	}
	rows.Close()

	frag := connector.SchemaFragment{}
	for _, name := range names {
		table := connector.TableInfo{Name: name}

		colRows, err := db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(name)+")")
		if err != nil {
			return frag, apperrors.New(apperrors.KindUnknown, "sqlite.GetSchemaInfo", err)
		}
		for colRows.Next() {
			var cid int
			var colName, colType string
			var notNull int
			var dfltValue any
			var pk int
			if err := colRows.Scan(&cid, &colName, &colType, &notNull, &dfltValue, &pk); err != nil {
				colRows.Close()
				return frag, apperrors.New(apperrors.KindUnknown, "sqlite.GetSchemaInfo", err)
			}
			table.Columns = append(table.Columns, connector.ColumnInfo{
				Name:       colName,
				NativeType: colType,
				Type:       normalizeType(colType),
				Nullable:   notNull == 0,
			})
		}
		colRows.Close()

		idxRows, err := db.QueryContext(ctx, "PRAGMA index_list("+quoteIdent(name)+")")
		if err == nil {
			for idxRows.Next() {
				var seq int
				var idxName string
				var unique int
				var origin, partial string
				if err := idxRows.Scan(&seq, &idxName, &unique, &origin, &partial); err == nil {
					table.Indexes = append(table.Indexes, connector.IndexInfo{Name: idxName, Unique: unique == 1})
				}
			}
			idxRows.Close()
		}

		frag.Tables = append(frag.Tables, table)
	}
	return frag, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func normalizeType(native string) connector.ColumnType {
	up := strings.ToUpper(native)
	switch {
	case strings.Contains(up, "INT"):
		return connector.ColTypeInteger
	case strings.Contains(up, "CHAR"), strings.Contains(up, "TEXT"), strings.Contains(up, "CLOB"):
		return connector.ColTypeString
	case strings.Contains(up, "REAL"), strings.Contains(up, "FLOA"), strings.Contains(up, "DOUB"):
		return connector.ColTypeFloat
	case strings.Contains(up, "BLOB"):
		return connector.ColTypeBinary
	case strings.Contains(up, "BOOL"):
		return connector.ColTypeBoolean
	case strings.Contains(up, "DATE"), strings.Contains(up, "TIME"):
		return connector.ColTypeDateTime
	case up == "":
		return connector.ColTypeUnknown
	default:
		return connector.ColTypeUnknown
	}
}
