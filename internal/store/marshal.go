package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/src-d/go-errors.v1"

	"github.com/roach88/tuplex/internal/header"
	"github.com/roach88/tuplex/internal/tuple"
)

var (
	// ErrUnsupportedType is returned for field types with no SQLite encoding.
	ErrUnsupportedType = errors.NewKind("type %s has no SQLite encoding")

	// ErrDecode is returned when a stored value cannot be read back as its
	// field type.
	ErrDecode = errors.NewKind("decode %s from %T: %s")
)

// IsUnsupportedType reports whether err is, or wraps, ErrUnsupportedType.
func IsUnsupportedType(err error) bool { return tuple.IsKind(ErrUnsupportedType, err) }

// Affinity returns the SQLite column type used for values of t.
func Affinity(t reflect.Type) (string, error) {
	switch tuple.Normalize(t) {
	case tuple.Bool, tuple.Int8, tuple.Int16, tuple.Int32, tuple.Int64,
		tuple.Uint8, tuple.Uint16, tuple.Uint32, tuple.Uint64,
		tuple.Duration, tuple.Time:
		return "INTEGER", nil
	case tuple.Float32, tuple.Float64:
		return "REAL", nil
	case tuple.String, tuple.Decimal, tuple.UUID:
		return "TEXT", nil
	case tuple.Bytes:
		return "BLOB", nil
	}
	return "", ErrUnsupportedType.New(t)
}

// Encode converts a field value of type t to its SQLite representation.
// nil encodes as NULL.
func Encode(t reflect.Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("uint64 %d exceeds the SQLite integer range", x)
		}
		return int64(x), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case time.Duration:
		return int64(x), nil
	case time.Time:
		return x.UnixNano(), nil
	case string:
		return x, nil
	case []byte:
		return x, nil
	case decimal.Decimal:
		return x.String(), nil
	case uuid.UUID:
		return x.String(), nil
	}
	return nil, ErrUnsupportedType.New(t)
}

// Decode converts a scanned SQLite value back to a field value of type t.
// NULL decodes as nil.
func Decode(t reflect.Type, src any) (any, error) {
	if src == nil {
		return nil, nil
	}
	t = tuple.Normalize(t)
	fail := func(reason string) (any, error) { return nil, ErrDecode.New(t, src, reason) }

	switch t {
	case tuple.Float32, tuple.Float64:
		var f float64
		switch x := src.(type) {
		case float64:
			f = x
		case int64:
			f = float64(x)
		default:
			return fail("want a number")
		}
		if t == tuple.Float32 {
			return float32(f), nil
		}
		return f, nil

	case tuple.String, tuple.Decimal, tuple.UUID, tuple.Bytes:
		var text []byte
		switch x := src.(type) {
		case string:
			text = []byte(x)
		case []byte:
			text = bytes.Clone(x)
		default:
			return fail("want text")
		}
		switch t {
		case tuple.String:
			return string(text), nil
		case tuple.Bytes:
			return text, nil
		case tuple.Decimal:
			d, err := decimal.NewFromString(string(text))
			if err != nil {
				return fail(err.Error())
			}
			return d, nil
		default:
			u, err := uuid.ParseBytes(text)
			if err != nil {
				return fail(err.Error())
			}
			return u, nil
		}
	}

	n, ok := src.(int64)
	if !ok {
		return fail("want an integer")
	}
	inRange := func(lo, hi int64) bool { return n >= lo && n <= hi }
	switch t {
	case tuple.Bool:
		return n != 0, nil
	case tuple.Int8:
		if inRange(math.MinInt8, math.MaxInt8) {
			return int8(n), nil
		}
	case tuple.Int16:
		if inRange(math.MinInt16, math.MaxInt16) {
			return int16(n), nil
		}
	case tuple.Int32:
		if inRange(math.MinInt32, math.MaxInt32) {
			return int32(n), nil
		}
	case tuple.Int64:
		return n, nil
	case tuple.Uint8:
		if inRange(0, math.MaxUint8) {
			return uint8(n), nil
		}
	case tuple.Uint16:
		if inRange(0, math.MaxUint16) {
			return uint16(n), nil
		}
	case tuple.Uint32:
		if inRange(0, math.MaxUint32) {
			return uint32(n), nil
		}
	case tuple.Uint64:
		if n >= 0 {
			return uint64(n), nil
		}
	case tuple.Duration:
		return time.Duration(n), nil
	case tuple.Time:
		return time.Unix(0, n).UTC(), nil
	default:
		return nil, ErrUnsupportedType.New(t)
	}
	return fail("out of range")
}

// columnRecord is the catalog form of one header column. Table and Column
// are set for mapped columns.
type columnRecord struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Table  string `json:"table,omitempty"`
	Column string `json:"column,omitempty"`
}

type orderRecord struct {
	Index int  `json:"index"`
	Desc  bool `json:"desc,omitempty"`
}

type groupRecord struct {
	Keys    []int `json:"keys"`
	Columns []int `json:"columns"`
}

// headerRecord is the catalog form of a header.
type headerRecord struct {
	columns  []columnRecord
	ordering []orderRecord
	groups   []groupRecord
}

func newHeaderRecord(h *header.Header) (*headerRecord, error) {
	r := &headerRecord{
		columns:  []columnRecord{},
		ordering: []orderRecord{},
		groups:   []groupRecord{},
	}
	for _, c := range h.Columns() {
		name := tuple.TypeName(c.Type())
		if name == "" {
			return nil, ErrUnsupportedType.New(c.Type())
		}
		rec := columnRecord{Name: c.Name(), Type: name}
		if m, ok := c.(header.MappedColumn); ok {
			rec.Table, rec.Column = m.Ref.Table, m.Ref.Column
		}
		r.columns = append(r.columns, rec)
	}
	for _, item := range h.Order() {
		r.ordering = append(r.ordering, orderRecord{Index: item.Index, Desc: item.Direction == header.Descending})
	}
	for _, g := range h.Groups() {
		r.groups = append(r.groups, groupRecord{Keys: g.Keys, Columns: g.Columns})
	}
	return r, nil
}

// marshal returns the JSON TEXT of the three header parts.
func (r *headerRecord) marshal() (columns, ordering, groups string, err error) {
	parts := make([]string, 3)
	for i, v := range []any{r.columns, r.ordering, r.groups} {
		data, err := marshalJSON(v)
		if err != nil {
			return "", "", "", fmt.Errorf("marshal header: %w", err)
		}
		parts[i] = data
	}
	return parts[0], parts[1], parts[2], nil
}

func unmarshalHeader(columns, ordering, groups string) (*header.Header, error) {
	var r headerRecord
	if err := json.Unmarshal([]byte(columns), &r.columns); err != nil {
		return nil, fmt.Errorf("unmarshal columns: %w", err)
	}
	if err := json.Unmarshal([]byte(ordering), &r.ordering); err != nil {
		return nil, fmt.Errorf("unmarshal ordering: %w", err)
	}
	if err := json.Unmarshal([]byte(groups), &r.groups); err != nil {
		return nil, fmt.Errorf("unmarshal groups: %w", err)
	}

	cols := make([]header.Column, len(r.columns))
	for i, c := range r.columns {
		t, ok := tuple.TypeByName(c.Type)
		if !ok {
			return nil, fmt.Errorf("column %s: unknown type %q", c.Name, c.Type)
		}
		if c.Table != "" {
			cols[i] = header.Mapped(c.Name, t, header.ModelRef{Table: c.Table, Column: c.Column})
		} else {
			cols[i] = header.System(c.Name, t)
		}
	}
	var order header.Ordering
	for _, o := range r.ordering {
		item := header.Asc(o.Index)
		if o.Desc {
			item = header.Desc(o.Index)
		}
		order = append(order, item)
	}
	var groupList []header.ColumnGroup
	for _, g := range r.groups {
		groupList = append(groupList, header.ColumnGroup{Keys: g.Keys, Columns: g.Columns})
	}
	return header.New(cols, groupList, order)
}

// marshalJSON encodes v with HTML escaping disabled and no trailing newline.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
