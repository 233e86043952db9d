package mysql

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

	rows, err := db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	if err != nil {
		return connector.SchemaFragment{}, apperrors.New(apperrors.KindUnknown, "mysql.GetSchemaInfo", err)
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return connector.SchemaFragment{}, apperrors.New(apperrors.KindUnknown, "mysql.GetSchemaInfo", err)
		}
		if len(scope.Tables) == 0 || contains(scope.Tables, n) {
			names = append(names, n)
		}
	}
	rows.Close()

	frag := connector.SchemaFragment{}
	for _, name := range names {
		table := connector.TableInfo{Name: name}

		colRows, err := db.QueryContext(ctx, `
			SELECT column_name, data_type, is_nullable
			FROM information_schema.columns
			WHERE table_schema = DATABASE() AND table_name = ?
			ORDER BY ordinal_position`, name)
		if err != nil {
			return frag, apperrors.New(apperrors.KindUnknown, "mysql.GetSchemaInfo", err)
		}
		for colRows.Next() {
			var colName, dataType, nullable string
			if err := colRows.Scan(&colName, &dataType, &nullable); err != nil {
				colRows.Close()
				return frag, apperrors.New(apperrors.KindUnknown, "mysql.GetSchemaInfo", err)
			}
			table.Columns = append(table.Columns, connector.ColumnInfo{
				Name: colName, NativeType: dataType, Type: normalizeType(dataType),
				Nullable: strings.EqualFold(nullable, "YES"),
			})
		}
		colRows.Close()

		idxRows, err := db.QueryContext(ctx, "SHOW INDEX FROM "+quoteIdent(name))
		if err == nil {
			seen := map[string]bool{}
			for idxRows.Next() {
				cols, _ := idxRows.Columns()
				vals := make([]any, len(cols))
				ptrs := make([]any, len(cols))
				for i := range vals {
					ptrs[i] = &vals[i]
				}
				if err := idxRows.Scan(ptrs...); err == nil {
					idxName := ""
					for i, c := range cols {
						if strings.EqualFold(c, "Key_name") {
							if b, ok := vals[i].([]byte); ok {
								idxName = string(b)
							}
						}
					}
					if idxName != "" && !seen[idxName] {
						seen[idxName] = true
						table.Indexes = append(table.Indexes, connector.IndexInfo{Name: idxName, Unique: idxName == "PRIMARY"})
					}
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
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func normalizeType(native string) connector.ColumnType {
	switch strings.ToLower(native) {
	case "int", "tinyint", "smallint", "mediumint", "bigint", "decimal", "numeric":
		return connector.ColTypeInteger
	case "float", "double":
		return connector.ColTypeFloat
	case "varchar", "char", "text", "tinytext", "mediumtext", "longtext", "enum", "set":
		return connector.ColTypeString
	case "date":
		return connector.ColTypeDate
	case "datetime", "timestamp":
		return connector.ColTypeDateTime
	case "blob", "tinyblob", "mediumblob", "longblob", "binary", "varbinary":
		return connector.ColTypeBinary
	case "json":
		return connector.ColTypeJSON
	case "bool", "boolean":
		return connector.ColTypeBoolean
	default:
		return connector.ColTypeUnknown
	}
}
