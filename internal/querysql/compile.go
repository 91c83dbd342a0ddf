package querysql

import (
	"fmt"
	"reflect"
	"strings"

	"gopkg.in/src-d/go-errors.v1"

	"github.com/roach88/tuplex/internal/expr"
	"github.com/roach88/tuplex/internal/header"
	"github.com/roach88/tuplex/internal/provider"
	"github.com/roach88/tuplex/internal/tuple"
)

// ErrParam is returned by Bind when an execution parameter is missing or
// has the wrong type.
var ErrParam = errors.NewKind("parameter $%s: %s")

// IsParamError reports whether err is, or wraps, ErrParam.
func IsParamError(err error) bool { return tuple.IsKind(ErrParam, err) }

// Arg is one positional parameter of a compiled query. Exactly one of
// Value, Param and Count is the source of the bound value.
type Arg struct {
	// Type is the field type of the value. It is nil for counts.
	Type reflect.Type
	// Value is a literal.
	Value any
	// Param names an execution parameter.
	Param string
	// Count is a deferred row count.
	Count provider.Count
}

// Query is a compiled provider tree. The columns of the result are named
// c0..cN in header order.
type Query struct {
	SQL  string
	Args []Arg
}

// Bind resolves the arguments against the execution parameters. Counts are
// evaluated here, so a deferred count sees its value at execution time.
// Negative counts bind as zero.
func (q *Query) Bind(params map[string]any) ([]any, error) {
	out := make([]any, len(q.Args))
	for i, a := range q.Args {
		switch {
		case a.Count != nil:
			out[i] = int64(max(a.Count(), 0))
		case a.Param != "":
			v, ok := params[a.Param]
			if !ok {
				return nil, ErrParam.New(a.Param, "not set")
			}
			if v != nil && reflect.TypeOf(v) != a.Type {
				coerced, err := expr.Coerce(v, a.Type)
				if err != nil {
					return nil, ErrParam.New(a.Param, err.Error())
				}
				v = coerced
			}
			out[i] = v
		default:
			out[i] = a.Value
		}
	}
	return out, nil
}

// SQLCompiler compiles provider trees to parameterized SQL for SQLite.
//
// Values are never interpolated: every literal, parameter and deferred count
// becomes a ? placeholder with a matching Arg. Every subquery qualifies its
// column references with its own alias, so result aliases never shadow them.
type SQLCompiler struct {
	// Tables names the tables holding the rows of leaves other than Index,
	// such as Raw rows loaded into a temporary table. Must be set by the
	// caller before compilation; leaves with no entry are unsupported.
	Tables map[provider.Provider]string
}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{Tables: make(map[provider.Provider]string)}
}

// Compile converts the tree rooted at p to a query. The outermost query
// carries an ORDER BY when the root header is ordered.
func (c *SQLCompiler) Compile(p provider.Provider) (*Query, error) {
	if p == nil {
		return nil, fmt.Errorf("cannot compile nil provider")
	}
	b := &builder{c: c}
	f, err := b.compile(p)
	if err != nil {
		return nil, err
	}
	alias := b.alias()
	sql := fmt.Sprintf("SELECT * FROM (%s) AS %s", f.sql, alias)
	if order := p.Header().Order(); len(order) > 0 {
		by, err := orderBy(p.Header(), alias, order)
		if err != nil {
			return nil, err
		}
		sql += " ORDER BY " + by
	}
	return &Query{SQL: sql, Args: f.args}, nil
}

// fragment is the SQL of one subtree. Its result columns are c0..cN and its
// args are in textual placeholder order.
type fragment struct {
	sql  string
	args []Arg
}

type builder struct {
	c *SQLCompiler
	n int
}

// alias returns a fresh subquery alias.
func (b *builder) alias() string {
	b.n++
	return fmt.Sprintf("t%d", b.n)
}

func (b *builder) compile(p provider.Provider) (*fragment, error) {
	f, err := b.compileNode(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Kind(), err)
	}
	return f, nil
}

func (b *builder) compileNode(p provider.Provider) (*fragment, error) {
	switch p := p.(type) {
	case *provider.Index:
		return table(Ident(p.Info().Name), p.Header().Len()), nil
	case *provider.Raw:
		name, ok := b.c.Tables[p]
		if !ok {
			return nil, provider.ErrUnsupported.New("Raw without a table")
		}
		return table(Ident(name), p.Header().Len()), nil
	case *provider.Filter:
		return b.filter(p)
	case *provider.Calculate:
		return b.calculate(p)
	case *provider.Select:
		return b.selectColumns(p)
	case *provider.Sort:
		return b.sort(p)
	case *provider.Reindex:
		return b.compile(p.Source())
	case *provider.Alias:
		return b.compile(p.Source())
	case *provider.Take:
		return b.limit(p.Source(), nil, p.Count())
	case *provider.Skip:
		return b.limit(p.Source(), p.Count(), nil)
	case *provider.Paging:
		return b.limit(p.Source(), p.Skip(), p.Take())
	case *provider.Distinct:
		return b.wrap(p.Source(), func(src, _ string) string { return "SELECT DISTINCT * FROM " + src })
	case *provider.Aggregate:
		return b.aggregate(p)
	case *provider.RowNumber:
		return b.rowNumber(p)
	case *provider.Existence:
		f, err := b.compile(p.Source())
		if err != nil {
			return nil, err
		}
		return &fragment{sql: fmt.Sprintf("SELECT EXISTS (%s) AS c0", f.sql), args: f.args}, nil
	case *provider.Join:
		return b.join(p)
	case *provider.PredicateJoin:
		return b.predicateJoin(p)
	case *provider.Union:
		return b.compound(p, "UNION")
	case *provider.Concat:
		return b.compound(p, "UNION ALL")
	case *provider.Except:
		return b.compound(p, "EXCEPT")
	case *provider.Intersect:
		return b.compound(p, "INTERSECT")
	default:
		return nil, provider.ErrUnsupported.New(p.Kind())
	}
}

func table(name string, n int) *fragment {
	return &fragment{sql: fmt.Sprintf("SELECT %s FROM %s", columnList(n), name)}
}

// wrap compiles source and builds a query over it. build receives the
// aliased subquery ("(...) AS tN") and the alias.
func (b *builder) wrap(source provider.Provider, build func(src, alias string) string) (*fragment, error) {
	f, err := b.compile(source)
	if err != nil {
		return nil, err
	}
	alias := b.alias()
	return &fragment{sql: build(fmt.Sprintf("(%s) AS %s", f.sql, alias), alias), args: f.args}, nil
}

func (b *builder) filter(p *provider.Filter) (*fragment, error) {
	f, err := b.compile(p.Source())
	if err != nil {
		return nil, err
	}
	alias := b.alias()
	pred, err := newExprWriter(p.Source().Header().Descriptor(), qualified(alias)).write(p.Predicate())
	if err != nil {
		return nil, err
	}
	return &fragment{
		sql:  fmt.Sprintf("SELECT * FROM (%s) AS %s WHERE %s", f.sql, alias, pred.sql),
		args: append(f.args, pred.args...),
	}, nil
}

func (b *builder) calculate(p *provider.Calculate) (*fragment, error) {
	f, err := b.compile(p.Source())
	if err != nil {
		return nil, err
	}
	alias := b.alias()
	w := newExprWriter(p.Source().Header().Descriptor(), qualified(alias))
	parts := []string{alias + ".*"}
	var args []Arg
	for i, col := range p.Columns() {
		e, err := w.write(col.Expr)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		parts = append(parts, fmt.Sprintf("%s AS c%d", e.sql, p.Offset()+i))
		args = append(args, e.args...)
	}
	return &fragment{
		sql:  fmt.Sprintf("SELECT %s FROM (%s) AS %s", strings.Join(parts, ", "), f.sql, alias),
		args: append(args, f.args...),
	}, nil
}

func (b *builder) selectColumns(p *provider.Select) (*fragment, error) {
	return b.wrap(p.Source(), func(src, alias string) string {
		parts := make([]string, 0, len(p.Indexes()))
		for i, idx := range p.Indexes() {
			parts = append(parts, fmt.Sprintf("%s.c%d AS c%d", alias, idx, i))
		}
		return fmt.Sprintf("SELECT %s FROM %s", strings.Join(parts, ", "), src)
	})
}

func (b *builder) sort(p *provider.Sort) (*fragment, error) {
	f, err := b.compile(p.Source())
	if err != nil {
		return nil, err
	}
	alias := b.alias()
	by, err := orderBy(p.Header(), alias, p.Order())
	if err != nil {
		return nil, err
	}
	return &fragment{sql: fmt.Sprintf("SELECT * FROM (%s) AS %s ORDER BY %s", f.sql, alias, by), args: f.args}, nil
}

// limit renders Take, Skip and Paging. The source ordering is repeated so
// the bound applies to the ordered rows.
func (b *builder) limit(source provider.Provider, skip, take provider.Count) (*fragment, error) {
	f, err := b.compile(source)
	if err != nil {
		return nil, err
	}
	alias := b.alias()
	sql := fmt.Sprintf("SELECT * FROM (%s) AS %s", f.sql, alias)
	if order := source.Header().Order(); len(order) > 0 {
		by, err := orderBy(source.Header(), alias, order)
		if err != nil {
			return nil, err
		}
		sql += " ORDER BY " + by
	}
	args := f.args
	if take != nil {
		sql += " LIMIT ?"
		args = append(args, Arg{Count: take})
	} else {
		sql += " LIMIT -1"
	}
	if skip != nil {
		sql += " OFFSET ?"
		args = append(args, Arg{Count: skip})
	}
	return &fragment{sql: sql, args: args}, nil
}

var aggregateFunc = map[provider.AggregateType]string{
	provider.AggregateCount: "COUNT",
	provider.AggregateSum:   "SUM",
	provider.AggregateAvg:   "AVG",
	provider.AggregateMin:   "MIN",
	provider.AggregateMax:   "MAX",
}

func (b *builder) aggregate(p *provider.Aggregate) (*fragment, error) {
	src := p.Source().Header()
	for _, col := range p.Columns() {
		if col.Source >= 0 && src.Column(col.Source).Type() == tuple.Decimal {
			return nil, provider.ErrUnsupported.New(fmt.Sprintf("%s over decimal", col.Type))
		}
	}
	return b.wrap(p.Source(), func(from, alias string) string {
		groups := p.Groups()
		var parts, keys []string
		for i, g := range groups {
			parts = append(parts, fmt.Sprintf("%s.c%d AS c%d", alias, g, i))
			keys = append(keys, fmt.Sprintf("%s.c%d", alias, g))
		}
		for i, col := range p.Columns() {
			arg := "*"
			if col.Source >= 0 {
				arg = fmt.Sprintf("%s.c%d", alias, col.Source)
			}
			parts = append(parts, fmt.Sprintf("%s(%s) AS c%d", aggregateFunc[col.Type], arg, len(groups)+i))
		}
		sql := fmt.Sprintf("SELECT %s FROM %s", strings.Join(parts, ", "), from)
		if len(keys) > 0 {
			sql += " GROUP BY " + strings.Join(keys, ", ")
		}
		return sql
	})
}

func (b *builder) rowNumber(p *provider.RowNumber) (*fragment, error) {
	f, err := b.compile(p.Source())
	if err != nil {
		return nil, err
	}
	alias := b.alias()
	over := ""
	if order := p.Source().Header().Order(); len(order) > 0 {
		by, err := orderBy(p.Source().Header(), alias, order)
		if err != nil {
			return nil, err
		}
		over = "ORDER BY " + by
	}
	return &fragment{
		sql: fmt.Sprintf("SELECT %s.*, ROW_NUMBER() OVER (%s) AS c%d FROM (%s) AS %s",
			alias, over, p.Source().Header().Len(), f.sql, alias),
		args: f.args,
	}, nil
}

var joinKeyword = map[provider.JoinType]string{
	provider.JoinInner:     "JOIN",
	provider.JoinLeftOuter: "LEFT JOIN",
}

// joinSources compiles both sides and returns the FROM clause up to the
// join condition, plus the aliases.
func (b *builder) joinSources(left, right provider.Provider, jt provider.JoinType) (*fragment, string, string, error) {
	l, err := b.compile(left)
	if err != nil {
		return nil, "", "", err
	}
	r, err := b.compile(right)
	if err != nil {
		return nil, "", "", err
	}
	la, ra := b.alias(), b.alias()
	n, m := left.Header().Len(), right.Header().Len()
	parts := make([]string, 0, n+m)
	for i := range n {
		parts = append(parts, fmt.Sprintf("%s.c%d AS c%d", la, i, i))
	}
	for i := range m {
		parts = append(parts, fmt.Sprintf("%s.c%d AS c%d", ra, i, n+i))
	}
	sql := fmt.Sprintf("SELECT %s FROM (%s) AS %s %s (%s) AS %s ON ",
		strings.Join(parts, ", "), l.sql, la, joinKeyword[jt], r.sql, ra)
	return &fragment{sql: sql, args: append(l.args, r.args...)}, la, ra, nil
}

func (b *builder) join(p *provider.Join) (*fragment, error) {
	f, la, ra, err := b.joinSources(p.Left(), p.Right(), p.JoinType())
	if err != nil {
		return nil, err
	}
	conds := make([]string, 0, len(p.Pairs()))
	for _, pair := range p.Pairs() {
		conds = append(conds, fmt.Sprintf("%s.c%d = %s.c%d", la, pair.Left, ra, pair.Right))
	}
	f.sql += strings.Join(conds, " AND ")
	return f, nil
}

func (b *builder) predicateJoin(p *provider.PredicateJoin) (*fragment, error) {
	f, la, ra, err := b.joinSources(p.Left(), p.Right(), p.JoinType())
	if err != nil {
		return nil, err
	}
	n := p.Left().Header().Len()
	column := func(i int) string {
		if i < n {
			return fmt.Sprintf("%s.c%d", la, i)
		}
		return fmt.Sprintf("%s.c%d", ra, i-n)
	}
	pred, err := newExprWriter(p.Header().Descriptor(), column).write(p.Predicate())
	if err != nil {
		return nil, err
	}
	f.sql += pred.sql
	f.args = append(f.args, pred.args...)
	return f, nil
}

func (b *builder) compound(p provider.Provider, op string) (*fragment, error) {
	sources := p.Sources()
	l, err := b.compile(sources[0])
	if err != nil {
		return nil, err
	}
	r, err := b.compile(sources[1])
	if err != nil {
		return nil, err
	}
	la, ra := b.alias(), b.alias()
	return &fragment{
		sql:  fmt.Sprintf("SELECT * FROM (%s) AS %s %s SELECT * FROM (%s) AS %s", l.sql, la, op, r.sql, ra),
		args: append(l.args, r.args...),
	}, nil
}

// orderBy renders order over the columns of h as seen through alias.
// Strings compare bytewise, matching the default in-memory order.
func orderBy(h *header.Header, alias string, order header.Ordering) (string, error) {
	parts := make([]string, len(order))
	for i, item := range order {
		t := h.Column(item.Index).Type()
		if t == tuple.Decimal {
			return "", provider.ErrUnsupported.New(fmt.Sprintf("ordering by decimal column c%d", item.Index))
		}
		term := fmt.Sprintf("%s.c%d", alias, item.Index)
		if t == tuple.String {
			term += " COLLATE BINARY"
		}
		if item.Direction == header.Descending {
			term += " DESC"
		} else {
			term += " ASC"
		}
		parts[i] = term
	}
	return strings.Join(parts, ", "), nil
}

func columnList(n int) string {
	parts := make([]string, n)
	for i := range n {
		parts[i] = fmt.Sprintf("c%d", i)
	}
	return strings.Join(parts, ", ")
}

func qualified(alias string) func(int) string {
	return func(i int) string { return fmt.Sprintf("%s.c%d", alias, i) }
}

// Ident quotes name as an SQLite identifier.
func Ident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
