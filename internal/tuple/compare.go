package tuple

import (
	"golang.org/x/text/collate"
)

const (
	notAvailableHash uint64 = 0x9e3779b97f4a7c15
	nullHash         uint64 = 0x7f4a7c159e3779b9
)

// Equal reports whether a and b have equal descriptors and field-wise equal
// contents. Fields compare equal when their states match and, for Available
// fields, their values are equal.
func Equal(a, b Tuple) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !a.Descriptor().Equal(b.Descriptor()) {
		return false
	}
	pa, aok := a.(*PackedTuple)
	pb, bok := b.(*PackedTuple)
	if aok && bok {
		return packedEqual(pa, pb)
	}
	d := a.Descriptor()
	for i := 0; i < d.Count(); i++ {
		av, as := a.Value(i)
		bv, bs := b.Value(i)
		if as != bs {
			return false
		}
		if as == Available && !d.fields[i].info.equal(av, bv) {
			return false
		}
	}
	return true
}

func packedEqual(a, b *PackedTuple) bool {
	for w := range a.states {
		if a.states[w] != b.states[w] {
			return false
		}
	}
	for i, layout := range a.desc.fields {
		if a.FieldState(i) != Available {
			continue
		}
		if layout.info.category == categoryScalar {
			if a.values[layout.slot] != b.values[layout.slot] {
				return false
			}
			continue
		}
		if !layout.info.equal(a.objects[layout.slot], b.objects[layout.slot]) {
			return false
		}
	}
	return true
}

// Hash combines field hashes as hash*397 ^ fieldHash. Equal tuples hash
// equally.
func Hash(t Tuple) uint64 {
	d := t.Descriptor()
	var h uint64
	for i := 0; i < d.Count(); i++ {
		h = h*397 ^ fieldHash(t, i)
	}
	return h
}

func fieldHash(t Tuple, i int) uint64 {
	v, state := t.Value(i)
	switch state {
	case Available:
		return t.Descriptor().fields[i].info.hash(v)
	case AvailableNull:
		return nullHash
	default:
		return notAvailableHash
	}
}

// Comparer orders tuples field by field. NotAvailable sorts before null,
// which sorts before any value.
//
// The zero Comparer orders every field ascending with binary string
// comparison.
type Comparer struct {
	// Descending flips the order of the fields it marks true. Fields past its
	// end are ascending.
	Descending []bool

	// Collator, if set, orders string fields.
	Collator *collate.Collator
}

// Compare returns the order of a and b. The tuples must share a descriptor;
// fields whose type has no order compare equal.
func (c Comparer) Compare(a, b Tuple) int {
	d := a.Descriptor()
	for i := 0; i < d.Count(); i++ {
		r := c.compareField(d, a, b, i)
		if r == 0 {
			continue
		}
		if i < len(c.Descending) && c.Descending[i] {
			return -r
		}
		return r
	}
	return 0
}

func (c Comparer) compareField(d *Descriptor, a, b Tuple, i int) int {
	av, as := a.Value(i)
	bv, bs := b.Value(i)
	if as != Available || bs != Available {
		return stateRank(as) - stateRank(bs)
	}
	if c.Collator != nil && d.types[i] == String {
		return c.Collator.CompareString(av.(string), bv.(string))
	}
	info := d.fields[i].info
	if !info.orderable {
		return 0
	}
	return info.compare(av, bv)
}

func stateRank(s FieldState) int {
	switch s {
	case NotAvailable:
		return 0
	case AvailableNull:
		return 1
	default:
		return 2
	}
}

// Compare orders a and b ascending on every field.
func Compare(a, b Tuple) int {
	return Comparer{}.Compare(a, b)
}
