// Package query parses and analyzes a user SQL statement: it resolves
// column references against the tables named in FROM, classifies those
// tables against the central state store, and extracts the spatial
// restrictor predicates the rewriter needs to compute a chunk set.
package query

import (
	"fmt"
	"strings"

	"github.com/dreamware/qserv-go/internal/css"
)

// JoinKind identifies how a TableRef was introduced relative to the
// preceding entry in a FROM list.
type JoinKind int

const (
	JoinNone JoinKind = iota
	JoinInner
	JoinLeft
	JoinRight
	JoinNatural
)

// TableRef names one FROM-list entry: a database-qualified table plus
// an optional alias used to disambiguate repeated references.
type TableRef struct {
	Db      string
	Table   string
	Alias   string
	Join    JoinKind
	Using   []string
	Columns []string // populated by the caller from the schema/CSS before Analyze
}

// Name returns the ref's binding name: its alias if set, else its
// table name.
func (t TableRef) Name() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Table
}

// ColumnRef is a parsed, possibly-qualified column reference appearing
// anywhere in the SELECT list, WHERE tree, GROUP BY, or ORDER BY.
type ColumnRef struct {
	Table  string // qualifier as written; empty if unqualified
	Column string
}

// Predicate is one leaf of the WHERE boolean-term tree: a comparison,
// function call, or other opaque SQL fragment the analyzer does not
// need to interpret beyond recognizing spatial restrictors.
type Predicate struct {
	Func string // non-empty for a function-call predicate, e.g. "qserv_areaspec_box"
	Args []string
	Raw  string // verbatim SQL text for non-function predicates
}

// BoolOp joins two BoolTerm children.
type BoolOp int

const (
	OpLeaf BoolOp = iota
	OpAnd
	OpOr
	OpNot
)

// BoolTerm is a node of the WHERE boolean-term tree.
type BoolTerm struct {
	Op       BoolOp
	Leaf     *Predicate
	Children []*BoolTerm
}

// SpatialRestrictor is one qserv_areaspec_* predicate extracted from
// WHERE and removed from the boolean tree.
type SpatialRestrictor struct {
	Kind string // "box", "circle", "poly", "hull"
	Args []float64
}

// ParsedStatement is the analyzer's output: a SELECT over a FROM list,
// with WHERE rewritten to exclude spatial restrictors, the restrictors
// pulled out separately, and the remaining clauses passed through.
type ParsedStatement struct {
	SelectList  []ColumnRef
	From        []TableRef
	Where       *BoolTerm
	Restrictors []SpatialRestrictor
	GroupBy     []ColumnRef
	OrderBy     []ColumnRef
	Having      *BoolTerm
	Limit       int64
	HasLimit    bool
}

// AmbiguousColumnError reports a column name claimed by more than one
// FROM-list entry with no NATURAL/USING resolution available.
type AmbiguousColumnError struct {
	Column string
	Tables []string
}

func (e AmbiguousColumnError) Error() string {
	return fmt.Sprintf("column %q is ambiguous among tables %v", e.Column, e.Tables)
}

// UnknownColumnError reports a qualified or unqualified column with no
// matching binding in any FROM-list entry.
type UnknownColumnError struct{ Column string }

func (e UnknownColumnError) Error() string { return fmt.Sprintf("unknown column %q", e.Column) }

// UnknownDbError reports a FROM-list entry naming a database CSS has
// no record of.
type UnknownDbError struct{ Db string }

func (e UnknownDbError) Error() string { return fmt.Sprintf("unknown database %q", e.Db) }

// vertexMap binds each unqualified column name to the set of table
// refs (by binding name) that could supply it.
type vertexMap map[string][]string

// buildVertexMap enumerates every table ref's columns and records
// which refs claim each unqualified name.
func buildVertexMap(refs []TableRef) vertexMap {
	vm := make(vertexMap)
	for _, r := range refs {
		for _, c := range r.Columns {
			vm[c] = append(vm[c], r.Name())
		}
	}
	return vm
}

// splice merges the vertex bindings contributed by a second FROM entry
// into vm: a NATURAL join or an explicit USING list treats the named
// common columns as already resolved (bound to both sides, not
// ambiguous); every other repeated column name becomes ambiguous.
func (vm vertexMap) splice(other TableRef, natural bool, usingCols []string) {
	using := make(map[string]bool, len(usingCols))
	for _, c := range usingCols {
		using[c] = true
	}
	for _, c := range other.Columns {
		_, claimed := vm[c]
		if claimed && !natural && !using[c] {
			vm[c] = append(vm[c], other.Name())
			continue
		}
		if claimed && (natural || using[c]) {
			// common column under NATURAL/USING resolves via COALESCE
			// across both sides rather than becoming ambiguous; record
			// both bindings so resolve() finds either one.
			vm[c] = append(vm[c], other.Name())
			continue
		}
		vm[c] = []string{other.Name()}
	}
}

// resolve finds the single table ref name bound to an unqualified
// column, or fails with AmbiguousColumnError / UnknownColumnError.
func (vm vertexMap) resolve(col string, natural map[string]bool, usingCols map[string]bool) (string, error) {
	bound, ok := vm[col]
	if !ok || len(bound) == 0 {
		return "", UnknownColumnError{Column: col}
	}
	if len(bound) == 1 {
		return bound[0], nil
	}
	if natural[col] || usingCols[col] {
		return bound[0], nil
	}
	return "", AmbiguousColumnError{Column: col, Tables: bound}
}

// Analyzer resolves ParsedStatement column references and table
// classifications against a CSS facade.
type Analyzer struct {
	facade *css.Facade
}

// New returns an Analyzer backed by the given CSS facade.
func New(facade *css.Facade) *Analyzer {
	return &Analyzer{facade: facade}
}

// TableClass describes how a FROM-list entry is partitioned.
type TableClass struct {
	Chunked    bool
	SubChunked bool
}

// Analyze resolves every unqualified ColumnRef in stmt against its
// FROM list's column→vertex map, classifies each table via CSS, and
// extracts spatial restrictors from WHERE. stmt.From[i].Columns must
// already be populated by the caller (schema lookup is outside C4's
// scope). Returns the table classification for each FROM entry in
// order.
func (a *Analyzer) Analyze(stmt *ParsedStatement) ([]TableClass, error) {
	classes := make([]TableClass, len(stmt.From))
	for i, ref := range stmt.From {
		ok, err := a.facade.ContainsDb(ref.Db)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, UnknownDbError{Db: ref.Db}
		}
		chunked, err := a.facade.TableIsChunked(ref.Db, ref.Table)
		if err != nil {
			return nil, err
		}
		sub, err := a.facade.TableIsSubChunked(ref.Db, ref.Table)
		if err != nil {
			return nil, err
		}
		classes[i] = TableClass{Chunked: chunked, SubChunked: sub}
	}

	vm := make(vertexMap)
	natural := map[string]bool{}
	usingCols := map[string]bool{}
	for i, ref := range stmt.From {
		if i == 0 {
			for _, c := range ref.Columns {
				vm[c] = []string{ref.Name()}
			}
			continue
		}
		isNatural := ref.Join == JoinNatural
		if isNatural {
			for _, c := range ref.Columns {
				if _, ok := vm[c]; ok {
					natural[c] = true
				}
			}
		}
		for _, c := range ref.Using {
			usingCols[c] = true
		}
		vm.splice(ref, isNatural, ref.Using)
	}

	resolveAll := func(refs []ColumnRef) error {
		for i, cr := range refs {
			if cr.Table != "" {
				continue
			}
			bound, err := vm.resolve(cr.Column, natural, usingCols)
			if err != nil {
				return err
			}
			refs[i].Table = bound
		}
		return nil
	}
	if err := resolveAll(stmt.SelectList); err != nil {
		return nil, err
	}
	if err := resolveAll(stmt.GroupBy); err != nil {
		return nil, err
	}
	if err := resolveAll(stmt.OrderBy); err != nil {
		return nil, err
	}

	stmt.Restrictors, stmt.Where = extractRestrictors(stmt.Where)
	return classes, nil
}

var spatialFuncNames = map[string]string{
	"qserv_areaspec_box":    "box",
	"qserv_areaspec_circle": "circle",
	"qserv_areaspec_poly":   "poly",
	"qserv_areaspec_hull":   "hull",
}

// extractRestrictors walks term, pulling out every spatial-restrictor
// leaf predicate into a SpatialRestrictor and returning the tree with
// those leaves removed (an AND node with a single remaining child
// collapses to that child; an empty tree becomes nil).
func extractRestrictors(term *BoolTerm) ([]SpatialRestrictor, *BoolTerm) {
	if term == nil {
		return nil, nil
	}
	if term.Op == OpLeaf {
		if term.Leaf != nil {
			if kind, ok := spatialFuncNames[strings.ToLower(term.Leaf.Func)]; ok {
				args := make([]float64, 0, len(term.Leaf.Args))
				for _, a := range term.Leaf.Args {
					args = append(args, parseFloatOrZero(a))
				}
				return []SpatialRestrictor{{Kind: kind, Args: args}}, nil
			}
		}
		return nil, term
	}

	var restrictors []SpatialRestrictor
	var kept []*BoolTerm
	for _, child := range term.Children {
		rs, remaining := extractRestrictors(child)
		restrictors = append(restrictors, rs...)
		if remaining != nil {
			kept = append(kept, remaining)
		}
	}
	switch len(kept) {
	case 0:
		return restrictors, nil
	case 1:
		return restrictors, kept[0]
	default:
		return restrictors, &BoolTerm{Op: term.Op, Children: kept}
	}
}

func parseFloatOrZero(s string) float64 {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%g", &f)
	if err != nil {
		return 0
	}
	return f
}
