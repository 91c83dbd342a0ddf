// Package provider is the relational-algebra tree of a query.
//
// A Provider is one operator: a leaf that produces rows (Index, Raw, Load)
// or an operator over one or two source providers (Filter, Join, Aggregate,
// the set operators, Apply and so on). Each provider derives its Header once,
// at construction, purely from its sources' headers and its own parameters.
//
// FAIL FAST:
//
// Constructors validate everything that can be checked without executing:
// column indexes against source headers, predicate and computed-column types,
// descriptor equality of set-operator operands, aggregate kinds against
// column types. A constructed provider is always well formed; backends never
// have to re-check structure.
//
//	left := provider.MustIndex(customers)
//	right := provider.MustIndex(suppliers)
//	u, err := provider.NewUnion(left, right) // schema mismatch fails here
//
// SEALED INTERFACE:
//
// Provider is sealed with a marker method. The set of kinds is closed, so a
// backend compiler can switch exhaustively over the concrete pointer types:
//
//	switch p := p.(type) {
//	case *provider.Filter:
//	    // ...
//	case *provider.Join:
//	    // ...
//	default:
//	    return provider.ErrUnsupported.New(p.Kind())
//	}
//
// IMMUTABILITY:
//
// Providers never change after construction and may be shared, compiled and
// executed concurrently. Subtrees are shared explicitly through Store and
// Load; otherwise the tree is a tree. Rewrite builds new nodes rather than
// editing old ones.
//
// DEFERRED VALUES:
//
// Counts of Take, Skip and Paging, Seek keys and Include filter data are
// functions evaluated when the plan is opened, not constants captured at
// construction. They run synchronously on the goroutine that opens the
// plan.
package provider
