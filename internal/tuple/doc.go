// Package tuple provides the row representation shared by every provider and
// backend: an immutable Descriptor (ordered field types) and the Tuple value,
// whose fields are each NotAvailable, Available-and-null, or Available with a
// value.
//
// PackedTuple is the dense implementation. Fixed-width scalars live inline in
// a []uint64, everything else in a []any, and field states take two bits per
// field. Every Descriptor carries an accessor table built once from its field
// types, so the generic helpers Get, Lookup and Set reach a monomorphic
// getter or setter without boxing:
//
//	d := tuple.Create(tuple.Int32, tuple.String)
//	t := tuple.New(d)
//	_ = tuple.Set(t, 0, int32(1))
//	_ = tuple.Set(t, 1, "a")
//	n, err := tuple.Get[int32](t, 0) // 1, nil
//
// Field types without a specialised accessor go through the boxed path
// (Value / SetValue) and remain fully supported.
//
// Tuples may route field access to other tuples through MappedContainer; the
// transform package builds views on top of that without copying storage.
//
// A Tuple is not safe for concurrent mutation. Read-only snapshots produced by
// ToFastReadOnly may be shared between goroutines.
package tuple
