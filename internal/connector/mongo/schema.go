package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dafelhub/dataplatform/internal/apperrors"
	"github.com/dafelhub/dataplatform/internal/connector"
)

// sampleSize bounds how many documents GetSchemaInfo inspects per collection
// to infer a field shape, per spec §4.4's note that document backends have no
// authoritative schema catalog.
const sampleSize = 50

func (c *Connector) GetSchemaInfo(ctx context.Context, scope connector.SchemaScope) (connector.SchemaFragment, error) {
	db, err := c.acquire()
	if err != nil {
		return connector.SchemaFragment{}, err
	}

	names, err := db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return connector.SchemaFragment{}, apperrors.New(apperrors.KindUnknown, "mongo.GetSchemaInfo", err)
	}

	frag := connector.SchemaFragment{}
	for _, name := range names {
		if len(scope.Tables) > 0 && !contains(scope.Tables, name) {
			continue
		}
		table := connector.TableInfo{Name: name}

		coll := db.Collection(name)
		count, cerr := coll.EstimatedDocumentCount(ctx)
		if cerr == nil {
			table.RowEstimate = count
		}

		cur, ferr := coll.Find(ctx, bson.M{}, options.Find().SetLimit(sampleSize))
		if ferr == nil {
			seen := map[string]connector.ColumnType{}
			order := []string{}
			for cur.Next(ctx) {
				var doc bson.M
				if err := cur.Decode(&doc); err != nil {
					continue
				}
				for field, val := range doc {
					if _, ok := seen[field]; !ok {
						order = append(order, field)
					}
					seen[field] = mergeType(seen[field], inferType(val))
				}
			}
			cur.Close(ctx)
			for _, field := range order {
				table.Columns = append(table.Columns, connector.ColumnInfo{
					Name:       field,
					NativeType: string(seen[field]),
					Type:       seen[field],
					Nullable:   true,
				})
			}
		}

		idx := coll.Indexes()
		idxCur, ierr := idx.List(ctx)
		if ierr == nil {
			var specs []bson.M
			if err := idxCur.All(ctx, &specs); err == nil {
				for _, spec := range specs {
					idxName, _ := spec["name"].(string)
					unique, _ := spec["unique"].(bool)
					var cols []string
					if key, ok := spec["key"].(bson.M); ok {
						for k := range key {
							cols = append(cols, k)
						}
					}
					table.Indexes = append(table.Indexes, connector.IndexInfo{Name: idxName, Columns: cols, Unique: unique})
				}
			}
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

func inferType(v any) connector.ColumnType {
	switch v.(type) {
	case string:
		return connector.ColTypeString
	case int32, int64, int:
		return connector.ColTypeInteger
	case float64, float32:
		return connector.ColTypeFloat
	case bool:
		return connector.ColTypeBoolean
	case bson.M, map[string]any, bson.A, []any:
		return connector.ColTypeJSON
	default:
		return connector.ColTypeUnknown
	}
}

// mergeType widens the inferred type across sampled documents rather than
// overwriting it, since document fields are not required to agree in shape.
func mergeType(prev, next connector.ColumnType) connector.ColumnType {
	if prev == "" {
		return next
	}
	if prev == next {
		return prev
	}
	return connector.ColTypeJSON
}
