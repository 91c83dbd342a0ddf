package tuple

import (
	"fmt"
)

// CopyTo copies length fields of src starting at srcStart into dst starting
// at dstStart. Field types must match pairwise. Unavailable source fields
// are skipped; an available null is written as null.
func CopyTo(src Tuple, srcStart int, dst Tuple, dstStart int, length int) error {
	if srcStart < 0 || length < 0 || srcStart+length > src.Count() {
		return ErrRangeOutOfBounds.New(srcStart, srcStart+length, src.Count())
	}
	if dstStart < 0 || dstStart+length > dst.Count() {
		return ErrRangeOutOfBounds.New(dstStart, dstStart+length, dst.Count())
	}
	for k := 0; k < length; k++ {
		if err := copyField(src, srcStart+k, dst, dstStart+k); err != nil {
			return err
		}
	}
	return nil
}

// CopyAll copies every field of src into the same positions of dst.
func CopyAll(src, dst Tuple) error {
	return CopyTo(src, 0, dst, 0, src.Count())
}

// CopyToMap copies src field srcMap[j] into dst field j. A negative entry
// leaves dst field j untouched; an unavailable source field makes dst field
// j unavailable.
func CopyToMap(src, dst Tuple, srcMap []int) error {
	if len(srcMap) > dst.Count() {
		return ErrRangeOutOfBounds.New(0, len(srcMap), dst.Count())
	}
	for j, si := range srcMap {
		if si < 0 {
			continue
		}
		if si >= src.Count() {
			return ErrIndexOutOfRange.New(si, src.Count())
		}
		if !src.FieldState(si).IsAvailable() {
			if st, dt := src.Descriptor().Type(si), dst.Descriptor().Type(j); st != dt {
				return ErrSchemaMismatch.New(fmt.Sprintf("field %d (%s)", si, st), fmt.Sprintf("field %d (%s)", j, dt))
			}
			if err := Unset(dst, j); err != nil {
				return err
			}
			continue
		}
		if err := copyField(src, si, dst, j); err != nil {
			return err
		}
	}
	return nil
}

func copyField(src Tuple, si int, dst Tuple, di int) error {
	st, dt := src.Descriptor().Type(si), dst.Descriptor().Type(di)
	if st != dt {
		return ErrSchemaMismatch.New(fmt.Sprintf("field %d (%s)", si, st), fmt.Sprintf("field %d (%s)", di, dt))
	}
	if !src.FieldState(si).IsAvailable() {
		return nil
	}
	sp, sj := resolve(src, si, false)
	dp, dj := resolve(dst, di, true)
	if sp != nil && dp != nil {
		dp.copyField(dj, sp, sj)
		return nil
	}
	v, _ := src.Value(si)
	return dst.SetValue(di, v)
}

// MergeBehavior controls how MergeWith treats fields already set in the
// origin tuple.
type MergeBehavior int

const (
	// MergeDefault writes every available field of the difference.
	MergeDefault MergeBehavior = iota
	// MergePreferOrigin keeps origin fields that are already available,
	// including available nulls.
	MergePreferOrigin
)

func (b MergeBehavior) String() string {
	switch b {
	case MergeDefault:
		return "Default"
	case MergePreferOrigin:
		return "PreferOrigin"
	default:
		return fmt.Sprintf("MergeBehavior(%d)", int(b))
	}
}

// MergeWith copies the available fields of diff in [start, start+length)
// into the same positions of origin. Unavailable fields of diff never
// overwrite origin.
func MergeWith(origin, diff Tuple, start, length int, behavior MergeBehavior) error {
	if !origin.Descriptor().Equal(diff.Descriptor()) {
		return ErrSchemaMismatch.New(origin.Descriptor(), diff.Descriptor())
	}
	if start < 0 || length < 0 || start+length > origin.Count() {
		return ErrRangeOutOfBounds.New(start, start+length, origin.Count())
	}
	for i := start; i < start+length; i++ {
		if !diff.FieldState(i).IsAvailable() {
			continue
		}
		if behavior == MergePreferOrigin && origin.FieldState(i).IsAvailable() {
			continue
		}
		if err := copyField(diff, i, origin, i); err != nil {
			return err
		}
	}
	return nil
}
