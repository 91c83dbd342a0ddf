// Package plan reads query plan documents and builds provider trees from
// them.
//
// A document declares named indexes with their rows and one query tree.
// Documents are YAML or CUE; in CUE, definitions and hidden fields may be
// used freely as they are not part of the exported document.
//
//	name: oslo-customers
//	params:
//	  - {name: city, type: string}
//	indexes:
//	  - name: customers
//	    columns:
//	      - {name: id, type: int64}
//	      - {name: city, type: string}
//	    key: [id]
//	    rows: ["1,Oslo", "2,Rome"]
//	query:
//	  op: filter
//	  where: c1 == $city
//	  source: {op: index, index: customers}
package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	errors "gopkg.in/src-d/go-errors.v1"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tuplex/internal/tuple"
)

var (
	// ErrSyntax is returned for malformed expressions.
	ErrSyntax = errors.NewKind("expression %q: %s")

	// ErrInvalid is returned for documents that do not describe a valid plan.
	ErrInvalid = errors.NewKind("invalid plan: %s")
)

// IsSyntaxError reports whether err is, or wraps, ErrSyntax.
func IsSyntaxError(err error) bool { return tuple.IsKind(ErrSyntax, err) }

// IsInvalid reports whether err is, or wraps, ErrInvalid.
func IsInvalid(err error) bool { return tuple.IsKind(ErrInvalid, err) }

// Document is a plan document.
type Document struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Params      []Field     `yaml:"params,omitempty" json:"params,omitempty"`
	Indexes     []IndexSpec `yaml:"indexes,omitempty" json:"indexes,omitempty"`
	Query       *Node       `yaml:"query" json:"query"`
}

// Field is a named, typed column or parameter. Type is a field type name
// such as int64, string or decimal.
type Field struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// IndexSpec declares an index and its rows.
type IndexSpec struct {
	Name string `yaml:"name" json:"name"`
	// Table is the model table the columns map to. Defaults to Name.
	Table   string  `yaml:"table,omitempty" json:"table,omitempty"`
	Columns []Field `yaml:"columns" json:"columns"`
	// Key lists the ordering columns by name, each optionally followed by
	// "desc".
	Key []string `yaml:"key,omitempty" json:"key,omitempty"`
	// Rows are in tuple text format.
	Rows []string `yaml:"rows,omitempty" json:"rows,omitempty"`
}

// Node is one operator of the query tree. Op names the provider kind,
// case-insensitively; the other fields are the parameters of that kind.
type Node struct {
	Op string `yaml:"op" json:"op"`

	Source *Node `yaml:"source,omitempty" json:"source,omitempty"`
	Left   *Node `yaml:"left,omitempty" json:"left,omitempty"`
	Right  *Node `yaml:"right,omitempty" json:"right,omitempty"`

	// Index names the index of an index leaf.
	Index string `yaml:"index,omitempty" json:"index,omitempty"`
	// Columns and Rows are the contents of a raw leaf.
	Columns []Field  `yaml:"columns,omitempty" json:"columns,omitempty"`
	Rows    []string `yaml:"rows,omitempty" json:"rows,omitempty"`

	// Where is the predicate of filter and predicatejoin.
	Where string `yaml:"where,omitempty" json:"where,omitempty"`
	// Calc lists the columns of calculate.
	Calc []Calc `yaml:"calc,omitempty" json:"calc,omitempty"`
	// Fields lists the source columns of select.
	Fields []int `yaml:"fields,omitempty" json:"fields,omitempty"`
	// Order is the ordering of sort and reindex: "cN" or "cN desc".
	Order []string `yaml:"order,omitempty" json:"order,omitempty"`

	// Count is the count of take and skip; Skip and Take those of paging.
	Count *Count `yaml:"count,omitempty" json:"count,omitempty"`
	Skip  *Count `yaml:"skip,omitempty" json:"skip,omitempty"`
	Take  *Count `yaml:"take,omitempty" json:"take,omitempty"`

	// Name is the alias of alias, the added column of rownumber, existence
	// and include, and the name of store.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	// Store names the store a load reads.
	Store string `yaml:"store,omitempty" json:"store,omitempty"`

	// Key holds the field texts of a seek key.
	Key []string `yaml:"key,omitempty" json:"key,omitempty"`
	// Keys and Filter are the key columns and key rows of include.
	Keys   []int    `yaml:"keys,omitempty" json:"keys,omitempty"`
	Filter []string `yaml:"filter,omitempty" json:"filter,omitempty"`

	Groups     []int       `yaml:"groups,omitempty" json:"groups,omitempty"`
	Aggregates []Aggregate `yaml:"aggregates,omitempty" json:"aggregates,omitempty"`

	// Join is inner (default) or left.
	Join string `yaml:"join,omitempty" json:"join,omitempty"`
	On   []Pair `yaml:"on,omitempty" json:"on,omitempty"`

	// Param names the outer row binding of apply. Defaults to "outer".
	Param string `yaml:"param,omitempty" json:"param,omitempty"`
	// Apply is cross (default) or outer.
	Apply string `yaml:"apply,omitempty" json:"apply,omitempty"`
	// Sequence is all (default), first, first-or-default, single or
	// single-or-default.
	Sequence string `yaml:"sequence,omitempty" json:"sequence,omitempty"`
}

// Calc is a calculated column.
type Calc struct {
	Name   string `yaml:"name" json:"name"`
	Expr   string `yaml:"expr" json:"expr"`
	Inline bool   `yaml:"inline,omitempty" json:"inline,omitempty"`
}

// Aggregate is an aggregate column. A missing Source counts rows.
type Aggregate struct {
	Name   string `yaml:"name" json:"name"`
	Op     string `yaml:"op" json:"op"`
	Source *int   `yaml:"source,omitempty" json:"source,omitempty"`
}

// Pair equates a left and a right join column.
type Pair struct {
	Left  int `yaml:"left" json:"left"`
	Right int `yaml:"right" json:"right"`
}

// Count is a row count: a number, or "$name" for an integer parameter read
// when the plan is executed.
type Count struct {
	N     int
	Param string
}

func (c Count) String() string {
	if c.Param != "" {
		return "$" + c.Param
	}
	return strconv.Itoa(c.N)
}

func (c *Count) set(text string) error {
	text = strings.TrimSpace(text)
	if name, ok := strings.CutPrefix(text, "$"); ok {
		if name == "" {
			return fmt.Errorf("count: empty parameter name")
		}
		*c = Count{Param: name}
		return nil
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("count: %q is neither a number nor a $parameter", text)
	}
	*c = Count{N: n}
	return nil
}

// UnmarshalYAML accepts an integer or a "$name" string.
func (c *Count) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: count must be a scalar", n.Line)
	}
	return c.set(n.Value)
}

// UnmarshalJSON accepts an integer or a "$name" string.
func (c *Count) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return c.set(s)
	}
	return c.set(string(data))
}

// LoadError is a document that could not be read or decoded. Pos is set
// for CUE errors that carry a position.
type LoadError struct {
	Path string
	Pos  token.Pos
	Err  error
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %v", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load reads the document at path. Files ending in .cue are CUE; .yaml,
// .yml and .json are YAML.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		return DecodeCUE(path, data)
	case ".yaml", ".yml", ".json":
		return DecodeYAML(path, data)
	default:
		return nil, &LoadError{Path: path, Err: fmt.Errorf("unknown document type %q", ext)}
	}
}

// DecodeYAML decodes a YAML document. Unknown fields are rejected.
func DecodeYAML(path string, data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("parse YAML: %w", err)}
	}
	return validate(path, &doc)
}

// DecodeCUE evaluates a CUE document. It must be concrete; definitions and
// hidden fields are dropped and the remaining value is decoded like JSON,
// rejecting unknown fields.
func DecodeCUE(path string, data []byte) (*Document, error) {
	v := cuecontext.New().CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, cueError(path, err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(path, err)
	}
	exported, err := v.MarshalJSON()
	if err != nil {
		return nil, cueError(path, err)
	}

	var doc Document
	dec := json.NewDecoder(bytes.NewReader(exported))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("decode CUE value: %w", err)}
	}
	return validate(path, &doc)
}

// cueError keeps the first error and its position.
func cueError(path string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Path: path, Err: err}
	}
	first := errs[0]
	le := &LoadError{Path: path, Err: first}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}

func validate(path string, doc *Document) (*Document, error) {
	if doc.Name == "" {
		return nil, &LoadError{Path: path, Err: ErrInvalid.New("name is required")}
	}
	if doc.Query == nil {
		return nil, &LoadError{Path: path, Err: ErrInvalid.New("query is required")}
	}
	return doc, nil
}
