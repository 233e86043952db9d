package querybuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_SelectPostgres(t *testing.T) {
	res, err := New(DialectPostgres).
		Select("id", "name").
		From("users", "u").
		Where("status", OpEq, "active").
		Where("age", OpGte, 18).
		OrderBy("created_at", true).
		Limit(10).
		Offset(20).
		Build()

	require.NoError(t, err)
	assert.Equal(t, `SELECT "id", "name" FROM "users" AS "u" WHERE "status" = $1 AND "age" >= $2 ORDER BY "created_at" DESC LIMIT $3 OFFSET $4`, res.SQL)
	assert.Equal(t, []any{"active", 18, 10, 20}, res.Params)
}

func TestBuilder_SelectMySQLPlaceholders(t *testing.T) {
	res, err := New(DialectMySQL).Select().From("orders", "").Where("id", OpIn, 1, 2, 3).Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM `orders` WHERE `id` IN (?, ?, ?)", res.SQL)
	assert.Equal(t, []any{1, 2, 3}, res.Params)
}

func TestBuilder_ILikeFallback(t *testing.T) {
	res, err := New(DialectSQLite).Select().From("users", "").Where("email", OpILike, "%@example.com").Build()
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "LOWER(")
	assert.Equal(t, []any{"%@example.com"}, res.Params)
}

func TestBuilder_ILikePostgresNative(t *testing.T) {
	res, err := New(DialectPostgres).Select().From("users", "").Where("email", OpILike, "%@example.com").Build()
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "ILIKE")
}

func TestBuilder_Between(t *testing.T) {
	res, err := New(DialectPostgres).Select().From("events", "").Where("ts", OpBetween, 100, 200).Build()
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "events" WHERE "ts" BETWEEN $1 AND $2`, res.SQL)
}

func TestBuilder_BetweenWrongArity(t *testing.T) {
	_, err := New(DialectPostgres).Select().From("events", "").Where("ts", OpBetween, 100).Build()
	assert.Error(t, err)
}

func TestBuilder_IsNull(t *testing.T) {
	res, err := New(DialectPostgres).Select().From("users", "").Where("deleted_at", OpIsNull).Build()
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "users" WHERE "deleted_at" IS NULL`, res.SQL)
	assert.Empty(t, res.Params)
}

func TestBuilder_Page(t *testing.T) {
	res, err := New(DialectPostgres).Select().From("users", "").Page(3, 25).Build()
	require.NoError(t, err)
	assert.Equal(t, []any{25, 50}, res.Params)
}

func TestBuilder_Insert(t *testing.T) {
	res, err := New(DialectPostgres).Insert("users", map[string]any{"id": 1, "name": "ana"}).Build()
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "users" ("id", "name") VALUES ($1, $2)`, res.SQL)
	assert.Equal(t, []any{1, "ana"}, res.Params)
}

func TestBuilder_UpdateWithWhere(t *testing.T) {
	res, err := New(DialectPostgres).Update("users", map[string]any{"name": "bob"}).Where("id", OpEq, 7).Build()
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "users" SET "name" = $1 WHERE "id" = $2`, res.SQL)
	assert.Equal(t, []any{"bob", 7}, res.Params)
}

func TestBuilder_Delete(t *testing.T) {
	res, err := New(DialectPostgres).Delete("users").Where("id", OpEq, 7).Build()
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "users" WHERE "id" = $1`, res.SQL)
}

func TestBuilder_NoTableError(t *testing.T) {
	_, err := New(DialectPostgres).Select().Build()
	assert.Error(t, err)
}

func TestBuilder_DocumentFind(t *testing.T) {
	res, err := New(DialectMongo).Select().From("users", "").Where("status", OpEq, "active").Build()
	require.NoError(t, err)
	require.NotNil(t, res.Document)
	assert.Equal(t, "users", res.Document["collection"])
	filter, ok := res.Document["filter"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "active", filter["status"])
}

func TestBuilder_DocumentInsert(t *testing.T) {
	res, err := New(DialectMongo).Insert("users", map[string]any{"name": "ana"}).Build()
	require.NoError(t, err)
	docs, ok := res.Document["documents"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, docs, 1)
}

func TestBuilder_DocumentAggregateOnGroupBy(t *testing.T) {
	res, err := New(DialectMongo).Select().From("orders", "").GroupBy("customer_id").Build()
	require.NoError(t, err)
	pipeline, ok := res.Document["pipeline"].([]map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, pipeline)
}

func TestBuilder_CloneIndependence(t *testing.T) {
	base := New(DialectPostgres).Select().From("users", "")
	withWhere := base.Where("id", OpEq, 1)

	_, err := base.Build()
	require.NoError(t, err)

	clone := withWhere.Clone().Where("name", OpEq, "x")
	resOriginal, err := withWhere.Build()
	require.NoError(t, err)
	resClone, err := clone.Build()
	require.NoError(t, err)

	assert.NotEqual(t, resOriginal.SQL, resClone.SQL, "mutating the clone must not affect the original")
}

func TestBuilder_Reset(t *testing.T) {
	b := New(DialectPostgres).Select().From("users", "").Where("id", OpEq, 1)
	reset := b.Reset()
	_, err := reset.Build()
	assert.Error(t, err, "reset builder has no table set")
}
