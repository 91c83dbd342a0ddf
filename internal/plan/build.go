package plan

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/tuplex/internal/header"
	"github.com/roach88/tuplex/internal/memindex"
	"github.com/roach88/tuplex/internal/provider"
	"github.com/roach88/tuplex/internal/store"
	"github.com/roach88/tuplex/internal/tuple"
)

// Index is a declared index and its rows.
type Index struct {
	Info *provider.IndexInfo
	Rows []tuple.Tuple
}

// Plan is a built document.
type Plan struct {
	Name    string
	Root    provider.Provider
	Indexes []Index
	// Params maps declared parameter names to their field types.
	Params map[string]reflect.Type

	counts map[string]*atomic.Int64
}

// Catalog returns an in-memory catalog holding the plan's indexes.
func (p *Plan) Catalog() (*memindex.Catalog, error) {
	c := memindex.NewCatalog()
	for _, ix := range p.Indexes {
		if _, err := c.Create(ix.Info, ix.Rows...); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Populate creates the plan's indexes in s. Indexes that already exist
// with the same field types are left as they are.
func (p *Plan) Populate(ctx context.Context, s *store.Store) error {
	for _, ix := range p.Indexes {
		err := s.CreateIndex(ctx, ix.Info, ix.Rows...)
		if !store.IsIndexExists(err) {
			if err != nil {
				return err
			}
			continue
		}
		existing, err := s.Index(ctx, ix.Info.Name)
		if err != nil {
			return err
		}
		got, want := existing.Header.Descriptor(), ix.Info.Header.Descriptor()
		if !got.Equal(want) {
			return fmt.Errorf("index %s: %w", ix.Info.Name, tuple.ErrSchemaMismatch.New(got, want))
		}
	}
	return nil
}

// Bind parses parameter values given as field text and returns the
// execution parameters. Every declared parameter must be given. Count
// parameters take effect for enumerations opened after Bind returns.
func (p *Plan) Bind(values map[string]string) (map[string]any, error) {
	for name := range values {
		if _, ok := p.Params[name]; !ok {
			return nil, ErrInvalid.New(fmt.Sprintf("unknown parameter $%s", name))
		}
	}
	out := make(map[string]any, len(p.Params))
	for name, typ := range p.Params {
		text, ok := values[name]
		if !ok {
			return nil, ErrInvalid.New(fmt.Sprintf("parameter $%s is not set", name))
		}
		v, err := tuple.ParseField(typ, text)
		if err != nil {
			return nil, fmt.Errorf("parameter $%s: %w", name, err)
		}
		out[name] = v
		if c, ok := p.counts[name]; ok {
			c.Store(reflect.ValueOf(v).Int())
		}
	}
	return out, nil
}

// Build builds the provider tree of doc.
func Build(doc *Document) (*Plan, error) {
	b := &builder{
		plan: &Plan{
			Name:   doc.Name,
			Params: map[string]reflect.Type{},
			counts: map[string]*atomic.Int64{},
		},
		indexes:  map[string]*provider.IndexInfo{},
		stores:   map[string]*provider.Store{},
		storeDef: map[string]*Node{},
		building: map[string]bool{},
	}
	if err := b.declare(doc); err != nil {
		return nil, err
	}
	if err := b.collectStores(doc.Query, "query"); err != nil {
		return nil, err
	}
	root, err := b.node(doc.Query, "query")
	if err != nil {
		return nil, err
	}
	b.plan.Root = root
	return b.plan, nil
}

type builder struct {
	plan     *Plan
	scope    Scope
	indexes  map[string]*provider.IndexInfo
	stores   map[string]*provider.Store
	storeDef map[string]*Node
	building map[string]bool
}

func (b *builder) declare(doc *Document) error {
	for _, f := range doc.Params {
		name := identifier(f.Name)
		typ, ok := tuple.TypeByName(f.Type)
		if !ok {
			return ErrInvalid.New(fmt.Sprintf("parameter $%s: unknown type %q", name, f.Type))
		}
		if _, dup := b.plan.Params[name]; dup {
			return ErrInvalid.New(fmt.Sprintf("parameter $%s declared twice", name))
		}
		b.plan.Params[name] = typ
	}
	b.scope.Params = b.plan.Params

	for _, spec := range doc.Indexes {
		ix, err := buildIndex(spec)
		if err != nil {
			return err
		}
		if _, dup := b.indexes[ix.Info.Name]; dup {
			return ErrInvalid.New(fmt.Sprintf("index %s declared twice", ix.Info.Name))
		}
		b.indexes[ix.Info.Name] = ix.Info
		b.plan.Indexes = append(b.plan.Indexes, ix)
	}
	return nil
}

// identifier normalizes a declared name to NFC.
func identifier(s string) string { return norm.NFC.String(strings.TrimSpace(s)) }

func buildIndex(spec IndexSpec) (Index, error) {
	name := identifier(spec.Name)
	if name == "" {
		return Index{}, ErrInvalid.New("index without a name")
	}
	table := identifier(spec.Table)
	if table == "" {
		table = name
	}
	columns := make([]header.Column, len(spec.Columns))
	positions := map[string]int{}
	for i, f := range spec.Columns {
		col := identifier(f.Name)
		typ, ok := tuple.TypeByName(f.Type)
		if !ok {
			return Index{}, ErrInvalid.New(fmt.Sprintf("index %s column %s: unknown type %q", name, col, f.Type))
		}
		columns[i] = header.Mapped(col, typ, header.ModelRef{Table: table, Column: col})
		positions[col] = i
	}

	var order header.Ordering
	for _, k := range spec.Key {
		col, desc := direction(k)
		i, ok := positions[identifier(col)]
		if !ok {
			return Index{}, ErrInvalid.New(fmt.Sprintf("index %s key: unknown column %s", name, col))
		}
		order = append(order, orderItem(i, desc))
	}

	h, err := header.New(columns, nil, order)
	if err != nil {
		return Index{}, fmt.Errorf("index %s: %w", name, err)
	}
	rows, err := parseRows(h.Descriptor(), spec.Rows)
	if err != nil {
		return Index{}, fmt.Errorf("index %s: %w", name, err)
	}
	return Index{Info: &provider.IndexInfo{Name: name, Header: h}, Rows: rows}, nil
}

func parseRows(d *tuple.Descriptor, text []string) ([]tuple.Tuple, error) {
	rows := make([]tuple.Tuple, len(text))
	for i, s := range text {
		row, err := tuple.Parse(d, s)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rows[i] = row
	}
	return rows, nil
}

// direction splits "name desc" into its name and direction.
func direction(s string) (string, bool) {
	fields := strings.Fields(s)
	switch {
	case len(fields) == 2 && strings.EqualFold(fields[1], "desc"):
		return fields[0], true
	case len(fields) == 2 && strings.EqualFold(fields[1], "asc"):
		return fields[0], false
	}
	return strings.TrimSpace(s), false
}

func orderItem(i int, desc bool) header.OrderItem {
	if desc {
		return header.Desc(i)
	}
	return header.Asc(i)
}

// collectStores records every store node by name so loads can refer to
// stores anywhere in the tree.
func (b *builder) collectStores(n *Node, path string) error {
	if n == nil {
		return nil
	}
	if strings.EqualFold(n.Op, "store") {
		name := identifier(n.Name)
		if _, dup := b.storeDef[name]; dup {
			return ErrInvalid.New(fmt.Sprintf("%s: store %q declared twice", path, name))
		}
		b.storeDef[name] = n
	}
	for _, child := range []struct {
		n    *Node
		name string
	}{{n.Source, "source"}, {n.Left, "left"}, {n.Right, "right"}} {
		if err := b.collectStores(child.n, path+"."+child.name); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) node(n *Node, path string) (provider.Provider, error) {
	if n == nil {
		return nil, ErrInvalid.New(path + " is missing")
	}
	kind, ok := parseKind(n.Op)
	if !ok {
		return nil, ErrInvalid.New(fmt.Sprintf("%s: unknown op %q", path, n.Op))
	}
	p, err := b.build(kind, n, path)
	if err != nil {
		var be *BuildError
		if IsInvalid(err) || errors.As(err, &be) {
			return nil, err
		}
		return nil, &BuildError{Path: path, Kind: kind, Err: err}
	}
	return p, nil
}

// BuildError is a node whose provider could not be constructed.
type BuildError struct {
	Path string
	Kind provider.Kind
	Err  error
}

func (e *BuildError) Error() string { return fmt.Sprintf("%s (%s): %v", e.Path, e.Kind, e.Err) }

func (e *BuildError) Unwrap() error { return e.Err }

func parseKind(op string) (provider.Kind, bool) {
	for _, k := range provider.Kinds() {
		if strings.EqualFold(k.String(), strings.ReplaceAll(op, "_", "")) {
			return k, true
		}
	}
	return 0, false
}

func (b *builder) source(n *Node, path string) (provider.Provider, error) {
	return b.node(n.Source, path+".source")
}

func (b *builder) build(kind provider.Kind, n *Node, path string) (provider.Provider, error) {
	switch kind {
	case provider.KindIndex:
		info, ok := b.indexes[identifier(n.Index)]
		if !ok {
			return nil, ErrInvalid.New(fmt.Sprintf("%s: undeclared index %q", path, n.Index))
		}
		return provider.NewIndex(info)

	case provider.KindRaw:
		return b.raw(n)

	case provider.KindStore:
		return b.store(identifier(n.Name), path)

	case provider.KindLoad:
		s, err := b.store(identifier(n.Store), path)
		if err != nil {
			return nil, err
		}
		return provider.NewLoad(s)

	case provider.KindFilter:
		src, err := b.source(n, path)
		if err != nil {
			return nil, err
		}
		pred, err := ParseExpr(n.Where, &b.scope)
		if err != nil {
			return nil, err
		}
		return provider.NewFilter(src, pred)

	case provider.KindCalculate:
		src, err := b.source(n, path)
		if err != nil {
			return nil, err
		}
		columns := make([]provider.CalculatedColumn, len(n.Calc))
		for i, c := range n.Calc {
			e, err := ParseExpr(c.Expr, &b.scope)
			if err != nil {
				return nil, err
			}
			columns[i] = provider.CalculatedColumn{Name: identifier(c.Name), Expr: e, Inline: c.Inline}
		}
		return provider.NewCalculate(src, columns...)

	case provider.KindSelect:
		src, err := b.source(n, path)
		if err != nil {
			return nil, err
		}
		return provider.NewSelect(src, n.Fields...)

	case provider.KindSort, provider.KindReindex:
		src, err := b.source(n, path)
		if err != nil {
			return nil, err
		}
		order, err := ordering(n.Order)
		if err != nil {
			return nil, err
		}
		if kind == provider.KindSort {
			return provider.NewSort(src, order)
		}
		return provider.NewReindex(src, order)

	case provider.KindTake, provider.KindSkip:
		src, err := b.source(n, path)
		if err != nil {
			return nil, err
		}
		if n.Count == nil {
			return nil, ErrInvalid.New(path + ": count is required")
		}
		count, err := b.count(*n.Count)
		if err != nil {
			return nil, err
		}
		if kind == provider.KindTake {
			return provider.NewTake(src, count)
		}
		return provider.NewSkip(src, count)

	case provider.KindPaging:
		src, err := b.source(n, path)
		if err != nil {
			return nil, err
		}
		if n.Take == nil {
			return nil, ErrInvalid.New(path + ": take is required")
		}
		skip := provider.Const(0)
		if n.Skip != nil {
			if skip, err = b.count(*n.Skip); err != nil {
				return nil, err
			}
		}
		take, err := b.count(*n.Take)
		if err != nil {
			return nil, err
		}
		return provider.NewPaging(src, skip, take)

	case provider.KindDistinct:
		src, err := b.source(n, path)
		if err != nil {
			return nil, err
		}
		return provider.NewDistinct(src)

	case provider.KindAlias:
		src, err := b.source(n, path)
		if err != nil {
			return nil, err
		}
		return provider.NewAlias(src, identifier(n.Name))

	case provider.KindRowNumber, provider.KindExistence:
		src, err := b.source(n, path)
		if err != nil {
			return nil, err
		}
		if kind == provider.KindRowNumber {
			return provider.NewRowNumber(src, identifier(n.Name))
		}
		return provider.NewExistence(src, identifier(n.Name))

	case provider.KindSeek:
		src, err := b.source(n, path)
		if err != nil {
			return nil, err
		}
		key, err := seekKey(src.Header(), n.Key)
		if err != nil {
			return nil, err
		}
		return provider.NewSeek(src, func() tuple.Tuple { return key })

	case provider.KindInclude:
		src, err := b.source(n, path)
		if err != nil {
			return nil, err
		}
		rows, err := includeRows(src.Header(), n.Keys, n.Filter)
		if err != nil {
			return nil, err
		}
		return provider.NewInclude(src, n.Keys, func() []tuple.Tuple { return rows }, identifier(n.Name))

	case provider.KindAggregate:
		src, err := b.source(n, path)
		if err != nil {
			return nil, err
		}
		columns := make([]provider.AggregateColumn, len(n.Aggregates))
		for i, a := range n.Aggregates {
			typ, ok := provider.ParseAggregateType(a.Op)
			if !ok {
				return nil, ErrInvalid.New(fmt.Sprintf("%s: unknown aggregate %q", path, a.Op))
			}
			source := -1
			if a.Source != nil {
				source = *a.Source
			}
			columns[i] = provider.AggregateColumn{Name: identifier(a.Name), Source: source, Type: typ}
		}
		return provider.NewAggregate(src, n.Groups, columns...)

	case provider.KindJoin, provider.KindPredicateJoin:
		left, right, err := b.pair(n, path)
		if err != nil {
			return nil, err
		}
		joinType, err := parseJoinType(n.Join)
		if err != nil {
			return nil, err
		}
		if kind == provider.KindPredicateJoin {
			pred, err := ParseExpr(n.Where, &b.scope)
			if err != nil {
				return nil, err
			}
			return provider.NewPredicateJoin(left, right, joinType, pred)
		}
		pairs := make([]provider.IndexPair, len(n.On))
		for i, on := range n.On {
			pairs[i] = provider.IndexPair{Left: on.Left, Right: on.Right}
		}
		return provider.NewJoin(left, right, joinType, pairs...)

	case provider.KindApply:
		return b.apply(n, path)

	case provider.KindUnion, provider.KindConcat, provider.KindExcept, provider.KindIntersect:
		left, right, err := b.pair(n, path)
		if err != nil {
			return nil, err
		}
		switch kind {
		case provider.KindUnion:
			return provider.NewUnion(left, right)
		case provider.KindConcat:
			return provider.NewConcat(left, right)
		case provider.KindExcept:
			return provider.NewExcept(left, right)
		default:
			return provider.NewIntersect(left, right)
		}
	}
	return nil, ErrInvalid.New(fmt.Sprintf("%s: op %s cannot be built", path, kind))
}

func (b *builder) pair(n *Node, path string) (provider.Provider, provider.Provider, error) {
	left, err := b.node(n.Left, path+".left")
	if err != nil {
		return nil, nil, err
	}
	right, err := b.node(n.Right, path+".right")
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func (b *builder) raw(n *Node) (provider.Provider, error) {
	columns := make([]header.Column, len(n.Columns))
	for i, f := range n.Columns {
		typ, ok := tuple.TypeByName(f.Type)
		if !ok {
			return nil, ErrInvalid.New(fmt.Sprintf("raw column %s: unknown type %q", f.Name, f.Type))
		}
		columns[i] = header.System(identifier(f.Name), typ)
	}
	h, err := header.New(columns, nil, nil)
	if err != nil {
		return nil, err
	}
	rows, err := parseRows(h.Descriptor(), n.Rows)
	if err != nil {
		return nil, err
	}
	return provider.RawOf(h, rows...)
}

// store builds the named store once; every reference shares the node.
func (b *builder) store(name, path string) (*provider.Store, error) {
	if s, ok := b.stores[name]; ok {
		return s, nil
	}
	def, ok := b.storeDef[name]
	if !ok {
		return nil, ErrInvalid.New(fmt.Sprintf("%s: unknown store %q", path, name))
	}
	if b.building[name] {
		return nil, ErrInvalid.New(fmt.Sprintf("%s: store %q reads itself", path, name))
	}
	b.building[name] = true
	defer delete(b.building, name)

	src, err := b.node(def.Source, "store "+name+".source")
	if err != nil {
		return nil, err
	}
	s, err := provider.NewStore(src, name)
	if err != nil {
		return nil, err
	}
	b.stores[name] = s
	return s, nil
}

func (b *builder) apply(n *Node, path string) (provider.Provider, error) {
	left, err := b.node(n.Left, path+".left")
	if err != nil {
		return nil, err
	}
	name := identifier(n.Param)
	if name == "" {
		name = "outer"
	}
	param := provider.NewApplyParameter(name, left)

	b.scope.Outer = append(b.scope.Outer, param)
	right, err := b.node(n.Right, path+".right")
	b.scope.Outer = b.scope.Outer[:len(b.scope.Outer)-1]
	if err != nil {
		return nil, err
	}

	applyType := provider.ApplyCross
	switch strings.ToLower(n.Apply) {
	case "", "cross":
	case "outer":
		applyType = provider.ApplyOuter
	default:
		return nil, ErrInvalid.New(fmt.Sprintf("%s: unknown apply type %q", path, n.Apply))
	}
	sequence := provider.SequenceAll
	if n.Sequence != "" {
		var ok bool
		if sequence, ok = provider.ParseSequenceType(strings.ToLower(n.Sequence)); !ok {
			return nil, ErrInvalid.New(fmt.Sprintf("%s: unknown sequence %q", path, n.Sequence))
		}
	}
	return provider.NewApply(param, left, right, applyType, sequence)
}

func (b *builder) count(c Count) (provider.Count, error) {
	if c.Param == "" {
		return provider.Const(c.N), nil
	}
	typ, ok := b.plan.Params[c.Param]
	if !ok {
		return nil, ErrInvalid.New(fmt.Sprintf("count: undeclared parameter $%s", c.Param))
	}
	switch typ {
	case tuple.Int8, tuple.Int16, tuple.Int32, tuple.Int64:
	default:
		return nil, ErrInvalid.New(fmt.Sprintf("count: parameter $%s has type %s, want a signed integer", c.Param, tuple.TypeName(typ)))
	}
	v, ok := b.plan.counts[c.Param]
	if !ok {
		v = &atomic.Int64{}
		b.plan.counts[c.Param] = v
	}
	return func() int { return int(v.Load()) }, nil
}

func parseJoinType(s string) (provider.JoinType, error) {
	switch strings.ToLower(s) {
	case "", "inner":
		return provider.JoinInner, nil
	case "left", "leftouter", "left-outer":
		return provider.JoinLeftOuter, nil
	}
	return 0, ErrInvalid.New(fmt.Sprintf("unknown join type %q", s))
}

// ordering parses "cN" and "cN desc" items.
func ordering(items []string) (header.Ordering, error) {
	order := make(header.Ordering, len(items))
	for i, item := range items {
		col, desc := direction(item)
		idx, ok := columnRef(col)
		if !ok {
			return nil, ErrInvalid.New(fmt.Sprintf("order item %q: want cN or cN desc", item))
		}
		order[i] = orderItem(idx, desc)
	}
	return order, nil
}

// seekKey parses field texts against the leading ordering columns of h.
func seekKey(h *header.Header, fields []string) (tuple.Tuple, error) {
	order := h.Order()
	if len(fields) == 0 || len(fields) > len(order) {
		return nil, ErrInvalid.New(fmt.Sprintf("seek key has %d fields, source is ordered by %d", len(fields), len(order)))
	}
	types := make([]reflect.Type, len(fields))
	for i := range fields {
		types[i] = h.Column(order[i].Index).Type()
	}
	return parseFields(tuple.Create(types...), fields)
}

func includeRows(h *header.Header, keys []int, text []string) ([]tuple.Tuple, error) {
	types := make([]reflect.Type, len(keys))
	for i, k := range keys {
		if k < 0 || k >= h.Len() {
			return nil, tuple.ErrIndexOutOfRange.New(k, h.Len())
		}
		types[i] = h.Column(k).Type()
	}
	return parseRows(tuple.Create(types...), text)
}

func parseFields(d *tuple.Descriptor, fields []string) (tuple.Tuple, error) {
	out := tuple.New(d)
	for i, text := range fields {
		if strings.TrimSpace(text) == "null" {
			if err := tuple.SetNull(out, i); err != nil {
				return nil, err
			}
			continue
		}
		v, err := tuple.ParseField(d.Type(i), text)
		if err != nil {
			return nil, fmt.Errorf("key field %d: %w", i, err)
		}
		if err := out.SetValue(i, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}
