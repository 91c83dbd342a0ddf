package provider

import (
	"fmt"
	"maps"
	"strings"

	"github.com/roach88/tuplex/internal/expr"
	"github.com/roach88/tuplex/internal/tuple"
)

// Walk calls fn for p and its sources in depth-first pre-order. Returning
// false from fn skips the sources of that node. The store behind a Load is
// not visited.
func Walk(p Provider, fn func(Provider) bool) {
	if p == nil || !fn(p) {
		return
	}
	for _, s := range p.Sources() {
		Walk(s, fn)
	}
}

// Rewrite returns a provider of the same kind and parameters as p over new
// sources. The result is validated like a freshly constructed node.
func Rewrite(p Provider, sources ...Provider) (Provider, error) {
	return p.rebuild(sources)
}

// Transform rebuilds the tree bottom-up, calling fn on every node after its
// sources have been transformed. Nodes whose sources are unchanged are kept,
// so an fn that returns its argument yields the original tree. Loads of a
// rebuilt Store are relinked to the rebuilt node.
func Transform(p Provider, fn func(Provider) (Provider, error)) (Provider, error) {
	t := &transformer{fn: fn, moved: map[*Store]*Store{}}
	out, err := t.transform(p)
	if err != nil {
		return nil, err
	}
	// A Load visited before its Store was rebuilt is relinked by a later pass.
	t.fn = func(p Provider) (Provider, error) { return p, nil }
	for len(t.moved) > 0 {
		next, err := t.transform(out)
		if err != nil {
			return nil, err
		}
		if next == out {
			break
		}
		out = next
	}
	return out, nil
}

type transformer struct {
	fn    func(Provider) (Provider, error)
	moved map[*Store]*Store
}

func (t *transformer) resolve(s *Store) *Store {
	for {
		next, ok := t.moved[s]
		if !ok {
			return s
		}
		s = next
	}
}

func (t *transformer) transform(p Provider) (Provider, error) {
	orig := p
	if l, ok := p.(*Load); ok {
		if s := t.resolve(l.store); s != l.store {
			relinked, err := NewLoad(s)
			if err != nil {
				return nil, err
			}
			p = relinked
		}
	}
	sources := p.Sources()
	changed := false
	next := make([]Provider, len(sources))
	for i, s := range sources {
		out, err := t.transform(s)
		if err != nil {
			return nil, err
		}
		next[i] = out
		changed = changed || out != s
	}
	if changed {
		rebuilt, err := p.rebuild(next)
		if err != nil {
			return nil, err
		}
		p = rebuilt
	}
	out, err := t.fn(p)
	if err != nil {
		return nil, err
	}
	if s, ok := orig.(*Store); ok {
		if ns, ok := out.(*Store); ok && ns != s {
			t.moved[s] = ns
		}
	}
	return out, nil
}

// FreeBindings returns the outer bindings referenced in the tree rooted at p
// that no Apply inside the tree binds, including those reached through the
// store of a Load. A tree without free bindings reads the same rows wherever
// it is evaluated.
func FreeBindings(p Provider) []*expr.Binding {
	var free []*expr.Binding
	seen := map[*expr.Binding]bool{}
	var visit func(p Provider, bound map[*expr.Binding]bool)
	visit = func(p Provider, bound map[*expr.Binding]bool) {
		refs := func(e expr.Expr) {
			expr.Walk(e, func(n expr.Expr) {
				if o, ok := n.(expr.Outer); ok && !bound[o.Binding] && !seen[o.Binding] {
					seen[o.Binding] = true
					free = append(free, o.Binding)
				}
			})
		}
		switch n := p.(type) {
		case *Filter:
			refs(n.predicate)
		case *PredicateJoin:
			refs(n.predicate)
		case *Calculate:
			for _, col := range n.columns {
				refs(col.Expr)
			}
		case *Load:
			visit(n.store, bound)
		case *Apply:
			visit(n.Left(), bound)
			inner := maps.Clone(bound)
			inner[n.param] = true
			visit(n.Right(), inner)
			return
		}
		for _, s := range p.Sources() {
			visit(s, bound)
		}
	}
	visit(p, map[*expr.Binding]bool{})
	return free
}

// CheckResult reports the structural soundness of a tree and whether it
// stays inside the relational fragment every backend can compile.
type CheckResult struct {
	// Problems lists violated structural invariants. Constructed trees never
	// have any; a non-empty list means a provider was built outside this
	// package's constructors.
	Problems []string

	// Portable is true when the tree uses only kinds and expressions that
	// SQL backends can express.
	Portable bool

	// Warnings lists the non-portable features in the tree.
	Warnings []string
}

// Valid reports whether no problems were found.
func (r CheckResult) Valid() bool { return len(r.Problems) == 0 }

// Check verifies header invariants and acyclicity of the tree rooted at p
// and analyses its portability. It never executes anything.
func Check(p Provider) CheckResult {
	c := &checker{onPath: map[Provider]bool{}, done: map[Provider]bool{}}
	c.check(p, "")
	return CheckResult{
		Problems: c.problems,
		Portable: len(c.warnings) == 0,
		Warnings: c.warnings,
	}
}

type checker struct {
	problems []string
	warnings []string
	onPath   map[Provider]bool
	done     map[Provider]bool
}

func (c *checker) addProblem(format string, args ...any) {
	c.problems = append(c.problems, fmt.Sprintf(format, args...))
}

func (c *checker) addWarning(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

func (c *checker) check(p Provider, path string) {
	if p == nil {
		c.addProblem("%s: nil provider", path)
		return
	}
	path += "/" + p.Kind().String()
	if c.onPath[p] {
		c.addProblem("%s: cycle", path)
		return
	}
	if c.done[p] {
		return
	}
	c.onPath[p] = true
	defer func() {
		delete(c.onPath, p)
		c.done[p] = true
	}()

	h := p.Header()
	switch {
	case h == nil:
		c.addProblem("%s: no header", path)
	case h.Len() != h.Descriptor().Count():
		c.addProblem("%s: %d columns but %d fields", path, h.Len(), h.Descriptor().Count())
	default:
		for i, col := range h.Columns() {
			if col.Type() != h.Descriptor().Type(i) {
				c.addProblem("%s: column %d is %s, field is %s", path, i, col.Type(), h.Descriptor().Type(i))
			}
		}
	}

	c.portability(p, path)

	if l, ok := p.(*Load); ok {
		c.check(l.store, path)
	}
	for _, s := range p.Sources() {
		c.check(s, path)
	}
}

func (c *checker) portability(p Provider, path string) {
	switch n := p.(type) {
	case *Raw, *Store, *Load, *Seek, *Include, *Apply:
		c.addWarning("%s: %s has no SQL form", path, p.Kind())
	case *Filter:
		c.portableExpr(n.predicate, path)
	case *PredicateJoin:
		c.portableExpr(n.predicate, path)
	case *Calculate:
		for _, col := range n.columns {
			c.portableExpr(col.Expr, path)
		}
	case *Aggregate:
		for i, col := range n.columns {
			if n.header.Column(len(n.groups)+i).Type() == tuple.Decimal {
				c.addWarning("%s: %s over decimal is computed in memory only", path, col.Type)
			}
		}
	}
}

func (c *checker) portableExpr(e expr.Expr, path string) {
	expr.Walk(e, func(n expr.Expr) {
		switch n := n.(type) {
		case expr.Outer:
			c.addWarning("%s: outer reference %s", path, n)
		case expr.Func:
			if !expr.IsBuiltin(n) {
				c.addWarning("%s: function %s has no SQL form", path, n.Name)
			}
		}
	})
}

// Explain renders the tree one node per line, sources indented under their
// parent, each followed by its header.
func Explain(p Provider) string {
	var b strings.Builder
	explain(&b, p, 0)
	return b.String()
}

func explain(b *strings.Builder, p Provider, depth int) {
	fmt.Fprintf(b, "%s%s => %s\n", strings.Repeat("  ", depth), p, p.Header())
	for _, s := range p.Sources() {
		explain(b, s, depth+1)
	}
}
