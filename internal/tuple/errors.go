package tuple

import (
	stderrors "errors"

	errors "gopkg.in/src-d/go-errors.v1"
)

var (
	// ErrFieldNotAvailable is returned when a non-defaulting accessor reads a
	// field whose state is NotAvailable.
	ErrFieldNotAvailable = errors.NewKind("field %d is not available")

	// ErrInvalidCast is returned when a field cannot be read or written as the
	// requested type, including reading an available-null field into a
	// non-nullable type.
	ErrInvalidCast = errors.NewKind("field %d: cannot use %s as %s")

	// ErrReadOnly is returned when a read-only tuple is mutated.
	ErrReadOnly = errors.NewKind("tuple is read-only: cannot set field %d")

	// ErrSchemaMismatch is returned when two descriptors that must agree do not.
	ErrSchemaMismatch = errors.NewKind("schema mismatch: %s vs %s")

	// ErrParse is returned for malformed tuple text.
	ErrParse = errors.NewKind("cannot parse tuple: %s")

	// ErrIndexOutOfRange is returned when a field index falls outside the
	// descriptor.
	ErrIndexOutOfRange = errors.NewKind("field index %d out of range [0, %d)")

	// ErrRangeOutOfBounds is returned when a field range [start, end) does not
	// fit a descriptor of the given length.
	ErrRangeOutOfBounds = errors.NewKind("field range [%d, %d) out of bounds for %d fields")
)

// IsFieldNotAvailable reports whether err is, or wraps, ErrFieldNotAvailable.
func IsFieldNotAvailable(err error) bool {
	return IsKind(ErrFieldNotAvailable, err)
}

// IsInvalidCast reports whether err is, or wraps, ErrInvalidCast.
func IsInvalidCast(err error) bool {
	return IsKind(ErrInvalidCast, err)
}

// IsReadOnly reports whether err is, or wraps, ErrReadOnly.
func IsReadOnly(err error) bool {
	return IsKind(ErrReadOnly, err)
}

// IsSchemaMismatch reports whether err is, or wraps, ErrSchemaMismatch.
func IsSchemaMismatch(err error) bool {
	return IsKind(ErrSchemaMismatch, err)
}

// IsParseError reports whether err is, or wraps, ErrParse.
func IsParseError(err error) bool {
	return IsKind(ErrParse, err)
}

// IsOutOfRange reports whether err is, or wraps, ErrIndexOutOfRange or
// ErrRangeOutOfBounds.
func IsOutOfRange(err error) bool {
	return IsKind(ErrIndexOutOfRange, err) || IsKind(ErrRangeOutOfBounds, err)
}

// IsKind reports whether err, or any error it wraps, is of kind k.
func IsKind(k *errors.Kind, err error) bool {
	for err != nil {
		if k.Is(err) {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}
