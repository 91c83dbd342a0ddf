package provider

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/tuplex/internal/expr"
	"github.com/roach88/tuplex/internal/header"
	"github.com/roach88/tuplex/internal/tuple"
)

// Filter keeps the rows satisfying a predicate.
type Filter struct {
	unary
	predicate expr.Expr
}

// NewFilter binds predicate against the source rows.
func NewFilter(source Provider, predicate expr.Expr) (*Filter, error) {
	if err := checkSource(KindFilter, source); err != nil {
		return nil, err
	}
	if predicate == nil {
		return nil, invalid(KindFilter, "predicate is nil")
	}
	bound, err := expr.BindPredicate(predicate, source.Header().Descriptor())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KindFilter, err)
	}
	return &Filter{unary: unary{node{header: source.Header()}, source}, predicate: bound}, nil
}

// Predicate returns the bound predicate.
func (p *Filter) Predicate() expr.Expr { return p.predicate }

func (*Filter) Kind() Kind { return KindFilter }

func (p *Filter) String() string { return "Filter " + p.predicate.String() }

func (p *Filter) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindFilter, sources, 1); err != nil {
		return nil, err
	}
	return NewFilter(sources[0], p.predicate)
}

// CalculatedColumn is a computed column of Calculate. Inline marks columns a
// backend may fuse into the expressions that use them instead of
// materializing.
type CalculatedColumn struct {
	Name   string
	Expr   expr.Expr
	Inline bool
}

func (c CalculatedColumn) String() string {
	s := c.Name + " = " + c.Expr.String()
	if c.Inline {
		s += " inline"
	}
	return s
}

// Calculate appends computed columns to its source rows. Expressions read
// source columns only.
type Calculate struct {
	unary
	columns []CalculatedColumn
}

// NewCalculate binds each column expression against the source rows.
func NewCalculate(source Provider, columns ...CalculatedColumn) (*Calculate, error) {
	if err := checkSource(KindCalculate, source); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, invalid(KindCalculate, "no columns")
	}
	src := source.Header()
	bound := make([]CalculatedColumn, len(columns))
	added := make([]header.Column, len(columns))
	for i, c := range columns {
		if c.Name == "" || c.Expr == nil {
			return nil, invalid(KindCalculate, "column %d needs a name and an expression", i)
		}
		e, typ, err := expr.Bind(c.Expr, src.Descriptor())
		if err != nil {
			return nil, fmt.Errorf("%s column %s: %w", KindCalculate, c.Name, err)
		}
		if typ == nil {
			return nil, invalid(KindCalculate, "column %s has no type", c.Name)
		}
		bound[i] = CalculatedColumn{Name: c.Name, Expr: e, Inline: c.Inline}
		added[i] = header.System(c.Name, typ)
	}
	h, err := src.Add(added...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KindCalculate, err)
	}
	return &Calculate{unary: unary{node{header: h}, source}, columns: bound}, nil
}

// Columns returns the bound computed columns.
func (p *Calculate) Columns() []CalculatedColumn { return append([]CalculatedColumn(nil), p.columns...) }

// Offset returns the header index of the first computed column.
func (p *Calculate) Offset() int { return p.source.Header().Len() }

func (*Calculate) Kind() Kind { return KindCalculate }

func (p *Calculate) String() string {
	parts := make([]string, len(p.columns))
	for i, c := range p.columns {
		parts[i] = c.String()
	}
	return "Calculate " + strings.Join(parts, ", ")
}

func (p *Calculate) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindCalculate, sources, 1); err != nil {
		return nil, err
	}
	return NewCalculate(sources[0], p.columns...)
}

// Select projects source columns in the given order. Indexes may repeat.
type Select struct {
	unary
	indexes []int
}

// NewSelect returns a projection of source.
func NewSelect(source Provider, indexes ...int) (*Select, error) {
	if err := checkSource(KindSelect, source); err != nil {
		return nil, err
	}
	if err := checkColumns(KindSelect, source.Header(), indexes); err != nil {
		return nil, err
	}
	h, err := source.Header().Select(indexes...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KindSelect, err)
	}
	return &Select{unary: unary{node{header: h}, source}, indexes: append([]int(nil), indexes...)}, nil
}

// Indexes returns the selected source columns.
func (p *Select) Indexes() []int { return append([]int(nil), p.indexes...) }

func (*Select) Kind() Kind { return KindSelect }

func (p *Select) String() string { return "Select " + intList(p.indexes) }

func (p *Select) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindSelect, sources, 1); err != nil {
		return nil, err
	}
	return NewSelect(sources[0], p.indexes...)
}

// Sort orders rows physically. The header carries the new ordering.
type Sort struct {
	unary
	order header.Ordering
}

// NewSort returns source sorted by order.
func NewSort(source Provider, order header.Ordering) (*Sort, error) {
	h, err := reorder(KindSort, source, order)
	if err != nil {
		return nil, err
	}
	return &Sort{unary: unary{node{header: h}, source}, order: append(header.Ordering(nil), order...)}, nil
}

// Order returns the sort specification.
func (p *Sort) Order() header.Ordering { return append(header.Ordering(nil), p.order...) }

func (*Sort) Kind() Kind { return KindSort }

func (p *Sort) String() string { return "Sort " + p.order.String() }

func (p *Sort) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindSort, sources, 1); err != nil {
		return nil, err
	}
	return NewSort(sources[0], p.order)
}

// Reindex declares that source rows already arrive in order. No sorting is
// done.
type Reindex struct {
	unary
	order header.Ordering
}

// NewReindex returns source with its header ordering replaced.
func NewReindex(source Provider, order header.Ordering) (*Reindex, error) {
	h, err := reorder(KindReindex, source, order)
	if err != nil {
		return nil, err
	}
	return &Reindex{unary: unary{node{header: h}, source}, order: append(header.Ordering(nil), order...)}, nil
}

// Order returns the declared ordering.
func (p *Reindex) Order() header.Ordering { return append(header.Ordering(nil), p.order...) }

func (*Reindex) Kind() Kind { return KindReindex }

func (p *Reindex) String() string { return "Reindex " + p.order.String() }

func (p *Reindex) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindReindex, sources, 1); err != nil {
		return nil, err
	}
	return NewReindex(sources[0], p.order)
}

func reorder(k Kind, source Provider, order header.Ordering) (*header.Header, error) {
	if err := checkSource(k, source); err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return nil, invalid(k, "empty ordering")
	}
	h, err := source.Header().Sort(order)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", k, err)
	}
	return h, nil
}

// Count is a row count evaluated when a plan is opened.
type Count func() int

// Const returns a Count that always yields n.
func Const(n int) Count { return func() int { return n } }

// Take yields at most Count rows.
type Take struct {
	unary
	count Count
}

// NewTake limits source to count rows.
func NewTake(source Provider, count Count) (*Take, error) {
	if err := checkSource(KindTake, source); err != nil {
		return nil, err
	}
	if count == nil {
		return nil, invalid(KindTake, "count is nil")
	}
	return &Take{unary: unary{node{header: source.Header()}, source}, count: count}, nil
}

// Count returns the deferred row count.
func (p *Take) Count() Count { return p.count }

func (*Take) Kind() Kind { return KindTake }

func (p *Take) String() string { return "Take" }

func (p *Take) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindTake, sources, 1); err != nil {
		return nil, err
	}
	return NewTake(sources[0], p.count)
}

// Skip drops the first Count rows.
type Skip struct {
	unary
	count Count
}

// NewSkip skips count rows of source.
func NewSkip(source Provider, count Count) (*Skip, error) {
	if err := checkSource(KindSkip, source); err != nil {
		return nil, err
	}
	if count == nil {
		return nil, invalid(KindSkip, "count is nil")
	}
	return &Skip{unary: unary{node{header: source.Header()}, source}, count: count}, nil
}

// Count returns the deferred row count.
func (p *Skip) Count() Count { return p.count }

func (*Skip) Kind() Kind { return KindSkip }

func (p *Skip) String() string { return "Skip" }

func (p *Skip) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindSkip, sources, 1); err != nil {
		return nil, err
	}
	return NewSkip(sources[0], p.count)
}

// Paging skips then takes.
type Paging struct {
	unary
	skip, take Count
}

// NewPaging returns rows skip+1 through skip+take of source.
func NewPaging(source Provider, skip, take Count) (*Paging, error) {
	if err := checkSource(KindPaging, source); err != nil {
		return nil, err
	}
	if skip == nil || take == nil {
		return nil, invalid(KindPaging, "skip and take are required")
	}
	return &Paging{unary: unary{node{header: source.Header()}, source}, skip: skip, take: take}, nil
}

// Skip returns the deferred skip count.
func (p *Paging) Skip() Count { return p.skip }

// Take returns the deferred page size.
func (p *Paging) Take() Count { return p.take }

func (*Paging) Kind() Kind { return KindPaging }

func (p *Paging) String() string { return "Paging" }

func (p *Paging) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindPaging, sources, 1); err != nil {
		return nil, err
	}
	return NewPaging(sources[0], p.skip, p.take)
}

// Distinct removes duplicate rows by full tuple equality. The first
// occurrence wins.
type Distinct struct {
	unary
}

// NewDistinct removes duplicates from source.
func NewDistinct(source Provider) (*Distinct, error) {
	if err := checkSource(KindDistinct, source); err != nil {
		return nil, err
	}
	return &Distinct{unary: unary{node{header: source.Header()}, source}}, nil
}

func (*Distinct) Kind() Kind { return KindDistinct }

func (p *Distinct) String() string { return "Distinct" }

func (p *Distinct) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindDistinct, sources, 1); err != nil {
		return nil, err
	}
	return NewDistinct(sources[0])
}

// Alias renames every column to alias.name.
type Alias struct {
	unary
	alias string
}

// NewAlias returns source under alias.
func NewAlias(source Provider, alias string) (*Alias, error) {
	if err := checkSource(KindAlias, source); err != nil {
		return nil, err
	}
	if alias == "" {
		return nil, invalid(KindAlias, "empty alias")
	}
	return &Alias{unary: unary{node{header: source.Header().Alias(alias)}, source}, alias: alias}, nil
}

// Alias returns the alias.
func (p *Alias) Alias() string { return p.alias }

func (*Alias) Kind() Kind { return KindAlias }

func (p *Alias) String() string { return "Alias " + p.alias }

func (p *Alias) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindAlias, sources, 1); err != nil {
		return nil, err
	}
	return NewAlias(sources[0], p.alias)
}

// RowNumber appends the 1-based arrival ordinal of each row as an int64
// column.
type RowNumber struct {
	unary
	name string
}

// NewRowNumber numbers the rows of source into column name.
func NewRowNumber(source Provider, name string) (*RowNumber, error) {
	h, err := appendColumn(KindRowNumber, source, name, tuple.Int64)
	if err != nil {
		return nil, err
	}
	return &RowNumber{unary: unary{node{header: h}, source}, name: name}, nil
}

// Name returns the name of the number column.
func (p *RowNumber) Name() string { return p.name }

func (*RowNumber) Kind() Kind { return KindRowNumber }

func (p *RowNumber) String() string { return "RowNumber " + p.name }

func (p *RowNumber) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindRowNumber, sources, 1); err != nil {
		return nil, err
	}
	return NewRowNumber(sources[0], p.name)
}

// Existence yields one row with one bool column: whether the source has any
// row.
type Existence struct {
	unary
	name string
}

// NewExistence tests source for rows.
func NewExistence(source Provider, name string) (*Existence, error) {
	if err := checkSource(KindExistence, source); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, invalid(KindExistence, "empty column name")
	}
	h := header.MustNew([]header.Column{header.System(name, tuple.Bool)}, nil, nil)
	return &Existence{unary: unary{node{header: h}, source}, name: name}, nil
}

// Name returns the name of the bool column.
func (p *Existence) Name() string { return p.name }

func (*Existence) Kind() Kind { return KindExistence }

func (p *Existence) String() string { return "Existence " + p.name }

func (p *Existence) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindExistence, sources, 1); err != nil {
		return nil, err
	}
	return NewExistence(sources[0], p.name)
}

// SeekKey supplies the key of a Seek when a plan is opened. The key has the
// descriptor of the source order key.
type SeekKey func() tuple.Tuple

// Seek yields the first source row whose order key equals a key, if any.
type Seek struct {
	unary
	key SeekKey
}

// NewSeek looks up key in source. The source must be ordered.
func NewSeek(source Provider, key SeekKey) (*Seek, error) {
	if err := checkSource(KindSeek, source); err != nil {
		return nil, err
	}
	if len(source.Header().Order()) == 0 {
		return nil, invalid(KindSeek, "source is not ordered")
	}
	if key == nil {
		return nil, invalid(KindSeek, "key is nil")
	}
	return &Seek{unary: unary{node{header: source.Header()}, source}, key: key}, nil
}

// Key returns the deferred key.
func (p *Seek) Key() SeekKey { return p.key }

// KeyDescriptor returns the descriptor keys must have.
func (p *Seek) KeyDescriptor() *tuple.Descriptor {
	return p.header.OrderKey().Descriptor()
}

func (*Seek) Kind() Kind { return KindSeek }

func (p *Seek) String() string { return "Seek " + p.header.Order().String() }

func (p *Seek) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindSeek, sources, 1); err != nil {
		return nil, err
	}
	return NewSeek(sources[0], p.key)
}

// FilterData supplies the key set of an Include when a plan is opened.
type FilterData func() []tuple.Tuple

// Include appends a bool column telling whether the key columns of a row
// are in a filter set.
type Include struct {
	unary
	keys []int
	data FilterData
	name string
}

// NewInclude tests the key columns of each source row against data.
func NewInclude(source Provider, keys []int, data FilterData, name string) (*Include, error) {
	if err := checkSource(KindInclude, source); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, invalid(KindInclude, "no key columns")
	}
	if err := checkColumns(KindInclude, source.Header(), keys); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, invalid(KindInclude, "filter data is nil")
	}
	h, err := appendColumn(KindInclude, source, name, tuple.Bool)
	if err != nil {
		return nil, err
	}
	return &Include{unary: unary{node{header: h}, source}, keys: append([]int(nil), keys...), data: data, name: name}, nil
}

// Keys returns the tested source columns.
func (p *Include) Keys() []int { return append([]int(nil), p.keys...) }

// Data returns the deferred filter set.
func (p *Include) Data() FilterData { return p.data }

// Name returns the name of the bool column.
func (p *Include) Name() string { return p.name }

// KeyDescriptor returns the descriptor filter rows must have.
func (p *Include) KeyDescriptor() *tuple.Descriptor {
	d, _ := p.source.Header().Descriptor().Select(p.keys...)
	return d
}

func (*Include) Kind() Kind { return KindInclude }

func (p *Include) String() string { return fmt.Sprintf("Include %s as %s", intList(p.keys), p.name) }

func (p *Include) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindInclude, sources, 1); err != nil {
		return nil, err
	}
	return NewInclude(sources[0], p.keys, p.data, p.name)
}

func appendColumn(k Kind, source Provider, name string, typ reflect.Type) (*header.Header, error) {
	if err := checkSource(k, source); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, invalid(k, "empty column name")
	}
	h, err := source.Header().Add(header.System(name, typ))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", k, err)
	}
	return h, nil
}

func intList(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
