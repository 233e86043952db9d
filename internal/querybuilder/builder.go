// Package querybuilder implements the Query Builder (C7): a fluent,
// immutable-on-build composer that produces either a parameterized SQL
// string or a document-backend operation descriptor. Grounded on the
// teacher's pkg/history/query/builder.go, generalized from a single
// alerts-table query to an arbitrary table/collection across dialects, and
// made immutable per spec §4.3's "build returns a value, clone returns an
// independent copy" contract (the teacher's Builder mutates in place).
package querybuilder

import (
	"fmt"
	"strings"

	"github.com/dafelhub/dataplatform/internal/apperrors"
)

// Dialect selects the target wire syntax.
type Dialect string

const (
	DialectPostgres Dialect = "postgresql"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
	DialectMongo    Dialect = "mongodb"
)

// Operator is the closed comparison-operator enum from spec §4.3.
type Operator string

const (
	OpEq         Operator = "="
	OpNeq        Operator = "!="
	OpLt         Operator = "<"
	OpLte        Operator = "<="
	OpGt         Operator = ">"
	OpGte        Operator = ">="
	OpLike       Operator = "like"
	OpILike      Operator = "ilike"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not-in"
	OpBetween    Operator = "between"
	OpNotBetween Operator = "not-between"
	OpIsNull     Operator = "is-null"
	OpIsNotNull  Operator = "is-not-null"
)

// JoinKind is the SQL join keyword; document dialects fold every join into
// a $lookup stage regardless of kind.
type JoinKind string

const (
	JoinInner JoinKind = "INNER"
	JoinLeft  JoinKind = "LEFT"
	JoinRight JoinKind = "RIGHT"
)

// Condition is one WHERE/HAVING predicate.
type Condition struct {
	Column string
	Op     Operator
	Values []any
}

// Join is one explicit SQL join, or a lookup-stage source for the document
// dialect.
type Join struct {
	Kind  JoinKind
	Table string
	Alias string
	On    string
}

// OrderTerm is one ORDER BY / sort term.
type OrderTerm struct {
	Column string
	Desc   bool
}

// opKind is the statement shape being composed; Builder is immutable so
// each mutator returns a new value with opKind (and everything else)
// copied forward.
type opKind string

const (
	opSelect opKind = "select"
	opInsert opKind = "insert"
	opUpdate opKind = "update"
	opDelete opKind = "delete"
)

// Builder is a fluent, immutable composer: every method returns a new
// Builder, never mutating the receiver. Build() is the only method that
// inspects accumulated state to produce output.
type Builder struct {
	dialect Dialect
	kind    opKind

	table   string
	alias   string
	columns []string
	joins   []Join
	wheres  []Condition
	groupBy []string
	having  []Condition
	order   []OrderTerm
	limit   int
	offset  int

	insertRows []map[string]any
	updateSet  map[string]any
}

// New starts a fresh builder for the given dialect.
func New(dialect Dialect) *Builder {
	return &Builder{dialect: dialect, kind: opSelect}
}

// clone returns a deep-enough copy for immutable chaining: slices and maps
// are copied so no two Builder values ever alias mutable state.
func (b *Builder) clone() *Builder {
	n := *b
	n.columns = append([]string(nil), b.columns...)
	n.joins = append([]Join(nil), b.joins...)
	n.wheres = append([]Condition(nil), b.wheres...)
	n.groupBy = append([]string(nil), b.groupBy...)
	n.having = append([]Condition(nil), b.having...)
	n.order = append([]OrderTerm(nil), b.order...)
	n.insertRows = append([]map[string]any(nil), b.insertRows...)
	if b.updateSet != nil {
		n.updateSet = make(map[string]any, len(b.updateSet))
		for k, v := range b.updateSet {
			n.updateSet[k] = v
		}
	}
	return &n
}

// Clone returns an independent copy, per spec §4.3.
func (b *Builder) Clone() *Builder { return b.clone() }

// Reset returns to initial state, keeping only the dialect.
func (b *Builder) Reset() *Builder { return New(b.dialect) }

// Select sets the projected columns; an empty call means "all columns"
// (SQL wildcard, or an empty document projection).
func (b *Builder) Select(columns ...string) *Builder {
	n := b.clone()
	n.kind = opSelect
	n.columns = append([]string(nil), columns...)
	return n
}

// From sets the table or collection, with an optional alias (SQL only).
func (b *Builder) From(table, alias string) *Builder {
	n := b.clone()
	n.table = table
	n.alias = alias
	return n
}

// Join adds an explicit join; folded into a $lookup stage for the document
// dialect regardless of kind.
func (b *Builder) Join(kind JoinKind, table, alias, on string) *Builder {
	n := b.clone()
	n.joins = append(n.joins, Join{Kind: kind, Table: table, Alias: alias, On: on})
	return n
}

// Where adds a predicate, ANDed with any existing predicates.
func (b *Builder) Where(column string, op Operator, values ...any) *Builder {
	n := b.clone()
	n.wheres = append(n.wheres, Condition{Column: column, Op: op, Values: values})
	return n
}

// GroupBy sets the grouping columns.
func (b *Builder) GroupBy(columns ...string) *Builder {
	n := b.clone()
	n.groupBy = append([]string(nil), columns...)
	return n
}

// Having adds a post-aggregation predicate.
func (b *Builder) Having(column string, op Operator, values ...any) *Builder {
	n := b.clone()
	n.having = append(n.having, Condition{Column: column, Op: op, Values: values})
	return n
}

// OrderBy adds a sort term.
func (b *Builder) OrderBy(column string, desc bool) *Builder {
	n := b.clone()
	n.order = append(n.order, OrderTerm{Column: column, Desc: desc})
	return n
}

// Limit sets the row cap; non-positive values are ignored.
func (b *Builder) Limit(limit int) *Builder {
	n := b.clone()
	if limit > 0 {
		n.limit = limit
	}
	return n
}

// Offset sets the row skip; non-positive values are ignored.
func (b *Builder) Offset(offset int) *Builder {
	n := b.clone()
	if offset > 0 {
		n.offset = offset
	}
	return n
}

// Page is a convenience for limit+offset = (page-1)*perPage, per spec §4.3.
// page is 1-indexed; page<1 or perPage<1 is a no-op.
func (b *Builder) Page(page, perPage int) *Builder {
	if page < 1 || perPage < 1 {
		return b.clone()
	}
	return b.Limit(perPage).Offset((page - 1) * perPage)
}

// Insert switches to insert mode with one or more row documents.
func (b *Builder) Insert(table string, rows ...map[string]any) *Builder {
	n := b.clone()
	n.kind = opInsert
	n.table = table
	n.insertRows = append([]map[string]any(nil), rows...)
	return n
}

// Update switches to update mode with a column→value set clause.
func (b *Builder) Update(table string, set map[string]any) *Builder {
	n := b.clone()
	n.kind = opUpdate
	n.table = table
	n.updateSet = make(map[string]any, len(set))
	for k, v := range set {
		n.updateSet[k] = v
	}
	return n
}

// Delete switches to delete mode.
func (b *Builder) Delete(table string) *Builder {
	n := b.clone()
	n.kind = opDelete
	n.table = table
	return n
}

// Result is Build's output: exactly one of (SQL, Params) or Document is
// populated, depending on dialect.
type Result struct {
	SQL      string
	Params   []any
	Document map[string]any
}

// Build composes the final query or document descriptor. It is pure: the
// receiver is never mutated and calling Build twice on the same Builder
// yields identical output.
func (b *Builder) Build() (Result, error) {
	if b.table == "" {
		return Result{}, apperrors.New(apperrors.KindInvalidConfig, "querybuilder.Build", fmt.Errorf("no table or collection set"))
	}
	if b.dialect == DialectMongo {
		return b.buildDocument()
	}
	return b.buildSQL()
}

func quoteIdent(dialect Dialect, name string) string {
	switch dialect {
	case DialectMySQL:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

func placeholder(dialect Dialect, n int) string {
	if dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// renderCondition renders one condition, appending params to *params and
// returning the next placeholder index.
func renderCondition(dialect Dialect, c Condition, params *[]any, nextIdx int) (string, int, error) {
	col := quoteIdent(dialect, c.Column)
	switch c.Op {
	case OpIsNull:
		return col + " IS NULL", nextIdx, nil
	case OpIsNotNull:
		return col + " IS NOT NULL", nextIdx, nil
	case OpBetween, OpNotBetween:
		if len(c.Values) != 2 {
			return "", nextIdx, fmt.Errorf("%s requires exactly 2 values", c.Op)
		}
		kw := "BETWEEN"
		if c.Op == OpNotBetween {
			kw = "NOT BETWEEN"
		}
		p1 := placeholder(dialect, nextIdx)
		nextIdx++
		p2 := placeholder(dialect, nextIdx)
		nextIdx++
		*params = append(*params, c.Values[0], c.Values[1])
		return fmt.Sprintf("%s %s %s AND %s", col, kw, p1, p2), nextIdx, nil
	case OpIn, OpNotIn:
		if len(c.Values) == 0 {
			return "", nextIdx, fmt.Errorf("%s requires at least 1 value", c.Op)
		}
		kw := "IN"
		if c.Op == OpNotIn {
			kw = "NOT IN"
		}
		placeholders := make([]string, len(c.Values))
		for i, v := range c.Values {
			placeholders[i] = placeholder(dialect, nextIdx)
			nextIdx++
			*params = append(*params, v)
		}
		return fmt.Sprintf("%s %s (%s)", col, kw, strings.Join(placeholders, ", ")), nextIdx, nil
	case OpILike:
		if len(c.Values) != 1 {
			return "", nextIdx, fmt.Errorf("ilike requires exactly 1 value")
		}
		if dialect == DialectPostgres {
			p := placeholder(dialect, nextIdx)
			nextIdx++
			*params = append(*params, c.Values[0])
			return fmt.Sprintf("%s ILIKE %s", col, p), nextIdx, nil
		}
		// fallback per spec §4.3: LOWER(col) LIKE LOWER(?)
		p := placeholder(dialect, nextIdx)
		nextIdx++
		*params = append(*params, c.Values[0])
		return fmt.Sprintf("LOWER(%s) LIKE LOWER(%s)", col, p), nextIdx, nil
	default:
		if len(c.Values) != 1 {
			return "", nextIdx, fmt.Errorf("%s requires exactly 1 value", c.Op)
		}
		sqlOp, ok := binaryOps[c.Op]
		if !ok {
			return "", nextIdx, fmt.Errorf("unsupported operator %q", c.Op)
		}
		p := placeholder(dialect, nextIdx)
		nextIdx++
		*params = append(*params, c.Values[0])
		return fmt.Sprintf("%s %s %s", col, sqlOp, p), nextIdx, nil
	}
}

var binaryOps = map[Operator]string{
	OpEq: "=", OpNeq: "!=", OpLt: "<", OpLte: "<=", OpGt: ">", OpGte: ">=", OpLike: "LIKE",
}

func (b *Builder) buildSQL() (Result, error) {
	var params []any
	nextIdx := 1

	table := quoteIdent(b.dialect, b.table)
	if b.alias != "" {
		table += " AS " + quoteIdent(b.dialect, b.alias)
	}

	switch b.kind {
	case opInsert:
		if len(b.insertRows) == 0 {
			return Result{}, apperrors.New(apperrors.KindInvalidConfig, "querybuilder.buildSQL", fmt.Errorf("insert requires at least 1 row"))
		}
		cols := sortedKeys(b.insertRows[0])
		var valueGroups []string
		for _, row := range b.insertRows {
			placeholders := make([]string, len(cols))
			for i, c := range cols {
				placeholders[i] = placeholder(b.dialect, nextIdx)
				nextIdx++
				params = append(params, row[c])
			}
			valueGroups = append(valueGroups, "("+strings.Join(placeholders, ", ")+")")
		}
		quotedCols := make([]string, len(cols))
		for i, c := range cols {
			quotedCols[i] = quoteIdent(b.dialect, c)
		}
		sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", quoteIdent(b.dialect, b.table), strings.Join(quotedCols, ", "), strings.Join(valueGroups, ", "))
		return Result{SQL: sql, Params: params}, nil

	case opUpdate:
		if len(b.updateSet) == 0 {
			return Result{}, apperrors.New(apperrors.KindInvalidConfig, "querybuilder.buildSQL", fmt.Errorf("update requires a non-empty set clause"))
		}
		cols := sortedKeys(b.updateSet)
		assigns := make([]string, len(cols))
		for i, c := range cols {
			p := placeholder(b.dialect, nextIdx)
			nextIdx++
			params = append(params, b.updateSet[c])
			assigns[i] = fmt.Sprintf("%s = %s", quoteIdent(b.dialect, c), p)
		}
		sql := fmt.Sprintf("UPDATE %s SET %s", quoteIdent(b.dialect, b.table), strings.Join(assigns, ", "))
		where, werr := b.renderWhere(&params, &nextIdx)
		if werr != nil {
			return Result{}, apperrors.New(apperrors.KindInvalidConfig, "querybuilder.buildSQL", werr)
		}
		if where != "" {
			sql += " WHERE " + where
		}
		return Result{SQL: sql, Params: params}, nil

	case opDelete:
		sql := fmt.Sprintf("DELETE FROM %s", quoteIdent(b.dialect, b.table))
		where, werr := b.renderWhere(&params, &nextIdx)
		if werr != nil {
			return Result{}, apperrors.New(apperrors.KindInvalidConfig, "querybuilder.buildSQL", werr)
		}
		if where != "" {
			sql += " WHERE " + where
		}
		return Result{SQL: sql, Params: params}, nil

	default: // opSelect
		cols := "*"
		if len(b.columns) > 0 {
			quoted := make([]string, len(b.columns))
			for i, c := range b.columns {
				quoted[i] = quoteIdent(b.dialect, c)
			}
			cols = strings.Join(quoted, ", ")
		}
		var parts []string
		parts = append(parts, fmt.Sprintf("SELECT %s FROM %s", cols, table))
		for _, j := range b.joins {
			joinTable := quoteIdent(b.dialect, j.Table)
			if j.Alias != "" {
				joinTable += " AS " + quoteIdent(b.dialect, j.Alias)
			}
			parts = append(parts, fmt.Sprintf("%s JOIN %s ON %s", j.Kind, joinTable, j.On))
		}
		where, werr := b.renderWhere(&params, &nextIdx)
		if werr != nil {
			return Result{}, apperrors.New(apperrors.KindInvalidConfig, "querybuilder.buildSQL", werr)
		}
		if where != "" {
			parts = append(parts, "WHERE "+where)
		}
		if len(b.groupBy) > 0 {
			quoted := make([]string, len(b.groupBy))
			for i, c := range b.groupBy {
				quoted[i] = quoteIdent(b.dialect, c)
			}
			parts = append(parts, "GROUP BY "+strings.Join(quoted, ", "))
		}
		if len(b.having) > 0 {
			var clauses []string
			for _, h := range b.having {
				rendered, next, err := renderCondition(b.dialect, h, &params, nextIdx)
				if err != nil {
					return Result{}, apperrors.New(apperrors.KindInvalidConfig, "querybuilder.buildSQL", err)
				}
				nextIdx = next
				clauses = append(clauses, rendered)
			}
			parts = append(parts, "HAVING "+strings.Join(clauses, " AND "))
		}
		if len(b.order) > 0 {
			terms := make([]string, len(b.order))
			for i, o := range b.order {
				dir := "ASC"
				if o.Desc {
					dir = "DESC"
				}
				terms[i] = fmt.Sprintf("%s %s", quoteIdent(b.dialect, o.Column), dir)
			}
			parts = append(parts, "ORDER BY "+strings.Join(terms, ", "))
		}
		if b.limit > 0 {
			parts = append(parts, fmt.Sprintf("LIMIT %s", placeholder(b.dialect, nextIdx)))
			params = append(params, b.limit)
			nextIdx++
		}
		if b.offset > 0 {
			parts = append(parts, fmt.Sprintf("OFFSET %s", placeholder(b.dialect, nextIdx)))
			params = append(params, b.offset)
			nextIdx++
		}
		return Result{SQL: strings.Join(parts, " "), Params: params}, nil
	}
}

func (b *Builder) renderWhere(params *[]any, nextIdx *int) (string, error) {
	if len(b.wheres) == 0 {
		return "", nil
	}
	var clauses []string
	for _, w := range b.wheres {
		rendered, next, err := renderCondition(b.dialect, w, params, *nextIdx)
		if err != nil {
			return "", err
		}
		*nextIdx = next
		clauses = append(clauses, rendered)
	}
	return strings.Join(clauses, " AND "), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// buildDocument composes the Mongo operation descriptor matching
// internal/connector/mongo's opDescriptor JSON shape.
func (b *Builder) buildDocument() (Result, error) {
	doc := map[string]any{"collection": b.table}

	switch b.kind {
	case opInsert:
		if len(b.insertRows) == 0 {
			return Result{}, apperrors.New(apperrors.KindInvalidConfig, "querybuilder.buildDocument", fmt.Errorf("insert requires at least 1 document"))
		}
		rows := make([]map[string]any, len(b.insertRows))
		copy(rows, b.insertRows)
		doc["documents"] = rows
		return Result{Document: doc}, nil

	case opUpdate:
		if len(b.updateSet) == 0 {
			return Result{}, apperrors.New(apperrors.KindInvalidConfig, "querybuilder.buildDocument", fmt.Errorf("update requires a non-empty set clause"))
		}
		filter, err := b.documentFilter()
		if err != nil {
			return Result{}, err
		}
		doc["filter"] = filter
		doc["update"] = b.updateSet
		return Result{Document: doc}, nil

	case opDelete:
		filter, err := b.documentFilter()
		if err != nil {
			return Result{}, err
		}
		doc["filter"] = filter
		doc["delete"] = true
		return Result{Document: doc}, nil

	default: // opSelect -> find, or aggregate if joins/group present
		if len(b.joins) > 0 || len(b.groupBy) > 0 {
			pipeline := b.aggregationPipeline()
			doc["pipeline"] = pipeline
			return Result{Document: doc}, nil
		}
		filter, err := b.documentFilter()
		if err != nil {
			return Result{}, err
		}
		doc["filter"] = filter
		return Result{Document: doc}, nil
	}
}

// documentFilter renders WHERE conditions into a Mongo filter map. Only the
// subset of operators with a direct document-query equivalent is supported;
// between/like are mapped to their closest Mongo operator.
func (b *Builder) documentFilter() (map[string]any, error) {
	filter := map[string]any{}
	for _, w := range b.wheres {
		switch w.Op {
		case OpEq:
			filter[w.Column] = w.Values[0]
		case OpNeq:
			filter[w.Column] = map[string]any{"$ne": w.Values[0]}
		case OpLt:
			filter[w.Column] = map[string]any{"$lt": w.Values[0]}
		case OpLte:
			filter[w.Column] = map[string]any{"$lte": w.Values[0]}
		case OpGt:
			filter[w.Column] = map[string]any{"$gt": w.Values[0]}
		case OpGte:
			filter[w.Column] = map[string]any{"$gte": w.Values[0]}
		case OpIn:
			filter[w.Column] = map[string]any{"$in": w.Values}
		case OpNotIn:
			filter[w.Column] = map[string]any{"$nin": w.Values}
		case OpBetween:
			if len(w.Values) != 2 {
				return nil, fmt.Errorf("between requires exactly 2 values")
			}
			filter[w.Column] = map[string]any{"$gte": w.Values[0], "$lte": w.Values[1]}
		case OpIsNull:
			filter[w.Column] = nil
		case OpIsNotNull:
			filter[w.Column] = map[string]any{"$ne": nil}
		case OpLike, OpILike:
			filter[w.Column] = map[string]any{"$regex": fmt.Sprintf("%v", w.Values[0]), "$options": "i"}
		default:
			return nil, fmt.Errorf("operator %q has no document filter equivalent", w.Op)
		}
	}
	return filter, nil
}

// aggregationPipeline folds joins into $lookup stages and group-by into a
// $group stage, per spec §4.3's join/group mapping for the document dialect.
func (b *Builder) aggregationPipeline() []map[string]any {
	var pipeline []map[string]any
	if filter, err := b.documentFilter(); err == nil && len(filter) > 0 {
		pipeline = append(pipeline, map[string]any{"$match": filter})
	}
	for _, j := range b.joins {
		localField, foreignField := parseEquiJoin(j.On)
		pipeline = append(pipeline, map[string]any{"$lookup": map[string]any{
			"from":         j.Table,
			"localField":   localField,
			"foreignField": foreignField,
			"as":           j.Alias,
		}})
	}
	if len(b.groupBy) > 0 {
		id := map[string]any{}
		for _, g := range b.groupBy {
			id[g] = "$" + g
		}
		pipeline = append(pipeline, map[string]any{"$group": map[string]any{"_id": id}})
	}
	if len(b.order) > 0 {
		sort := map[string]any{}
		for _, o := range b.order {
			dir := 1
			if o.Desc {
				dir = -1
			}
			sort[o.Column] = dir
		}
		pipeline = append(pipeline, map[string]any{"$sort": sort})
	}
	if b.offset > 0 {
		pipeline = append(pipeline, map[string]any{"$skip": b.offset})
	}
	if b.limit > 0 {
		pipeline = append(pipeline, map[string]any{"$limit": b.limit})
	}
	return pipeline
}

// parseEquiJoin extracts "left.a = right.b" into its two field references.
// On expressions this simple heuristic cannot parse fall back to the raw
// string on both sides, letting the descriptor surface the problem instead
// of silently dropping the join condition.
func parseEquiJoin(on string) (string, string) {
	parts := strings.SplitN(on, "=", 2)
	if len(parts) != 2 {
		return on, on
	}
	left := lastSegment(strings.TrimSpace(parts[0]))
	right := lastSegment(strings.TrimSpace(parts[1]))
	return left, right
}

func lastSegment(s string) string {
	idx := strings.LastIndex(s, ".")
	if idx < 0 {
		return s
	}
	return s[idx+1:]
}
