// Package rewrite implements the query rewriter (C5): it turns an
// analyzed statement plus its spatial restrictors into a set of
// per-chunk worker fragments, a coordinator merge query, and the chunk
// set the dispatcher must visit.
package rewrite

import (
	"fmt"
	"strings"

	"github.com/dreamware/qserv-go/internal/partition"
	"github.com/dreamware/qserv-go/internal/query"
)

// Fragment is one element of the rewriter's output: a chunk-scoped set
// of SQL strings plus the sub-chunk ids (if any) they restrict to.
type Fragment struct {
	ChunkID     int
	SubChunkIDs []int64
	SQLStrings  []string
	ResultTable string
}

// AggFunc identifies a rewritable aggregate in the SELECT list.
type AggFunc int

const (
	AggNone AggFunc = iota
	AggCount
	AggSum
	AggAvg
	AggMin
	AggMax
)

// aggSpec describes one SELECT-list aggregate and how the rewriter
// splits it into a worker-side partial and a coordinator-side combine.
type aggSpec struct {
	Func   AggFunc
	Arg    string
	Alias  string
}

// Plan is the rewriter's complete output for one query.
type Plan struct {
	Fragments  []Fragment
	MergeQuery string
	ChunkSet   []int
}

// chunkTableName renders the chunked-table identifier for table t at
// chunk c, e.g. "Object_1234".
func chunkTableName(t string, chunk int) string {
	return fmt.Sprintf("%s_%d", t, chunk)
}

// subChunkTableName renders the sub-chunked identifier, e.g.
// "Object_1234_56", and its overlap counterpart when overlap is true.
func subChunkTableName(t string, chunk int, subChunk int64, overlap bool) string {
	base := fmt.Sprintf("%s_%d_%d", t, chunk, subChunk)
	if overlap {
		return base + "Overlap"
	}
	return base
}

// Rewrite produces per-chunk fragments, a merge query, and the chunk
// set for stmt, given its FROM-list classification from the analyzer
// and the sky partitioner used to resolve spatial restrictors into
// chunk ids.
func Rewrite(stmt *query.ParsedStatement, classes []query.TableClass, p *partition.Partitioner) (Plan, error) {
	chunkSet, err := chunkSetFor(stmt, p)
	if err != nil {
		return Plan{}, err
	}

	aggs := detectAggregates(stmt.SelectList)
	subChunked := anySubChunked(classes)

	fragments := make([]Fragment, 0, len(chunkSet))
	for _, chunkID := range chunkSet {
		frag := Fragment{ChunkID: chunkID, ResultTable: fmt.Sprintf("result_%d", chunkID)}
		if subChunked {
			subChunkIDs := subChunkIDsFor(chunkID, p)
			frag.SubChunkIDs = subChunkIDs
			for _, sc := range subChunkIDs {
				frag.SQLStrings = append(frag.SQLStrings, buildFragmentSQL(stmt, classes, chunkID, &sc, aggs, frag.ResultTable))
			}
		} else {
			frag.SQLStrings = append(frag.SQLStrings, buildFragmentSQL(stmt, classes, chunkID, nil, aggs, frag.ResultTable))
		}
		fragments = append(fragments, frag)
	}

	merge := buildMergeQuery(stmt, aggs, fragments)

	return Plan{Fragments: fragments, MergeQuery: merge, ChunkSet: chunkSet}, nil
}

// chunkSetFor derives the chunk ids to visit: the union of
// partition.ChunksFor(region, ...) over every box/circle restrictor's
// bounding region, or every chunk id when no spatial restrictor is
// present.
func chunkSetFor(stmt *query.ParsedStatement, p *partition.Partitioner) ([]int, error) {
	if len(stmt.Restrictors) == 0 {
		return p.AllChunkIDs(), nil
	}
	seen := make(map[int]bool)
	var out []int
	for _, r := range stmt.Restrictors {
		region, err := regionFor(r)
		if err != nil {
			return nil, err
		}
		for _, id := range p.ChunksFor(region, 0, 1, false) {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}

// regionFor computes the RA/Dec bounding box a restrictor covers.
// box: ra1,dec1,ra2,dec2 (opposite corners). circle: ra,dec,radius,
// expanded to its bounding box. poly/hull: the bounding box of the
// listed (ra,dec) vertex pairs.
func regionFor(r query.SpatialRestrictor) (partition.Region, error) {
	switch r.Kind {
	case "box":
		if len(r.Args) != 4 {
			return partition.Region{}, fmt.Errorf("rewrite: box restrictor needs 4 args, got %d", len(r.Args))
		}
		ra1, dec1, ra2, dec2 := r.Args[0], r.Args[1], r.Args[2], r.Args[3]
		return partition.Region{
			RaMin:  minF(ra1, ra2),
			RaMax:  maxF(ra1, ra2),
			DecMin: minF(dec1, dec2),
			DecMax: maxF(dec1, dec2),
		}, nil
	case "circle":
		if len(r.Args) != 3 {
			return partition.Region{}, fmt.Errorf("rewrite: circle restrictor needs 3 args, got %d", len(r.Args))
		}
		ra, dec, radius := r.Args[0], r.Args[1], r.Args[2]
		return partition.Region{
			RaMin:  ra - radius,
			RaMax:  ra + radius,
			DecMin: dec - radius,
			DecMax: dec + radius,
		}, nil
	case "poly", "hull":
		if len(r.Args) < 4 || len(r.Args)%2 != 0 {
			return partition.Region{}, fmt.Errorf("rewrite: %s restrictor needs an even arg count >= 4, got %d", r.Kind, len(r.Args))
		}
		region := partition.Region{RaMin: r.Args[0], RaMax: r.Args[0], DecMin: r.Args[1], DecMax: r.Args[1]}
		for i := 0; i+1 < len(r.Args); i += 2 {
			region.RaMin = minF(region.RaMin, r.Args[i])
			region.RaMax = maxF(region.RaMax, r.Args[i])
			region.DecMin = minF(region.DecMin, r.Args[i+1])
			region.DecMax = maxF(region.DecMax, r.Args[i+1])
		}
		return region, nil
	default:
		return partition.Region{}, fmt.Errorf("rewrite: unknown restrictor kind %q", r.Kind)
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// subChunkIDsFor lists every global sub-chunk id belonging to chunkID.
func subChunkIDsFor(chunkID int, p *partition.Partitioner) []int64 {
	return p.SubChunksPerChunk(chunkID)
}

func anySubChunked(classes []query.TableClass) bool {
	for _, c := range classes {
		if c.SubChunked {
			return true
		}
	}
	return false
}

// detectAggregates scans the SELECT list's raw column text (by
// convention, an aggregate column's Column field carries the SQL
// function call verbatim, e.g. "COUNT(*)") and classifies it.
func detectAggregates(cols []query.ColumnRef) []aggSpec {
	specs := make([]aggSpec, len(cols))
	for i, c := range cols {
		upper := strings.ToUpper(c.Column)
		switch {
		case strings.HasPrefix(upper, "COUNT("):
			specs[i] = aggSpec{Func: AggCount, Arg: argOf(c.Column), Alias: fmt.Sprintf("agg_%d", i)}
		case strings.HasPrefix(upper, "SUM("):
			specs[i] = aggSpec{Func: AggSum, Arg: argOf(c.Column), Alias: fmt.Sprintf("agg_%d", i)}
		case strings.HasPrefix(upper, "AVG("):
			specs[i] = aggSpec{Func: AggAvg, Arg: argOf(c.Column), Alias: fmt.Sprintf("agg_%d", i)}
		case strings.HasPrefix(upper, "MIN("):
			specs[i] = aggSpec{Func: AggMin, Arg: argOf(c.Column), Alias: fmt.Sprintf("agg_%d", i)}
		case strings.HasPrefix(upper, "MAX("):
			specs[i] = aggSpec{Func: AggMax, Arg: argOf(c.Column), Alias: fmt.Sprintf("agg_%d", i)}
		default:
			specs[i] = aggSpec{Func: AggNone}
		}
	}
	return specs
}

func argOf(call string) string {
	open := strings.IndexByte(call, '(')
	closeIdx := strings.LastIndexByte(call, ')')
	if open < 0 || closeIdx < 0 || closeIdx <= open {
		return call
	}
	return strings.TrimSpace(call[open+1 : closeIdx])
}

// buildFragmentSQL renders one fragment's worker-side SELECT, rewriting
// chunked/sub-chunked table names and splitting aggregates into their
// worker-side partial form. When subChunk is non-nil, the query joins
// every sub-chunked table's non-overlap instance against the union of
// the partner side's non-overlap and overlap instances, per the
// at-most-once-counting rule for sub-chunk cross products.
func buildFragmentSQL(stmt *query.ParsedStatement, classes []query.TableClass, chunkID int, subChunk *int64, aggs []aggSpec, resultTable string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(resultTable)
	b.WriteString(" SELECT ")
	writeSelectList(&b, stmt.SelectList, aggs)
	b.WriteString(" FROM ")
	writeFromList(&b, stmt.From, classes, chunkID, subChunk)
	if stmt.Where != nil {
		b.WriteString(" WHERE ")
		writeBoolTerm(&b, stmt.Where)
	}
	writeGroupOrderLimit(&b, stmt)
	return b.String()
}

func writeSelectList(b *strings.Builder, cols []query.ColumnRef, aggs []aggSpec) {
	if len(cols) == 0 {
		b.WriteString("*")
		return
	}
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		if aggs[i].Func != AggNone {
			writePartialAgg(b, aggs[i])
			continue
		}
		if c.Table != "" {
			b.WriteString(c.Table)
			b.WriteByte('.')
		}
		b.WriteString(c.Column)
	}
}

func writePartialAgg(b *strings.Builder, a aggSpec) {
	switch a.Func {
	case AggCount:
		fmt.Fprintf(b, "COUNT(%s) AS %s", a.Arg, a.Alias)
	case AggSum, AggMin, AggMax:
		fmt.Fprintf(b, "%s(%s) AS %s", aggName(a.Func), a.Arg, a.Alias)
	case AggAvg:
		fmt.Fprintf(b, "SUM(%s) AS %s_sum, COUNT(%s) AS %s_count", a.Arg, a.Alias, a.Arg, a.Alias)
	}
}

func aggName(f AggFunc) string {
	switch f {
	case AggSum:
		return "SUM"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	default:
		return ""
	}
}

func writeFromList(b *strings.Builder, refs []query.TableRef, classes []query.TableClass, chunkID int, subChunk *int64) {
	for i, r := range refs {
		if i > 0 {
			switch r.Join {
			case query.JoinLeft:
				b.WriteString(" LEFT JOIN ")
			case query.JoinRight:
				b.WriteString(" RIGHT JOIN ")
			case query.JoinNatural:
				b.WriteString(" NATURAL JOIN ")
			default:
				b.WriteString(" JOIN ")
			}
		}
		writeTableRef(b, r, classes[i], chunkID, subChunk)
		if r.Alias != "" {
			b.WriteString(" AS ")
			b.WriteString(r.Alias)
		}
		if len(r.Using) > 0 && i > 0 {
			fmt.Fprintf(b, " USING (%s)", strings.Join(r.Using, ", "))
		}
	}
}

func writeTableRef(b *strings.Builder, r query.TableRef, class query.TableClass, chunkID int, subChunk *int64) {
	switch {
	case class.SubChunked && subChunk != nil:
		b.WriteString(subChunkTableName(r.Table, chunkID, *subChunk, false))
		fmt.Fprintf(b, " UNION ALL SELECT * FROM %s", subChunkTableName(r.Table, chunkID, *subChunk, true))
	case class.Chunked:
		b.WriteString(chunkTableName(r.Table, chunkID))
	default:
		b.WriteString(r.Table)
	}
}

func writeBoolTerm(b *strings.Builder, t *query.BoolTerm) {
	if t == nil {
		return
	}
	switch t.Op {
	case query.OpLeaf:
		if t.Leaf == nil {
			return
		}
		if t.Leaf.Raw != "" {
			b.WriteString(t.Leaf.Raw)
			return
		}
		fmt.Fprintf(b, "%s(%s)", t.Leaf.Func, strings.Join(t.Leaf.Args, ", "))
	case query.OpNot:
		b.WriteString("NOT (")
		if len(t.Children) > 0 {
			writeBoolTerm(b, t.Children[0])
		}
		b.WriteString(")")
	case query.OpAnd, query.OpOr:
		sep := " AND "
		if t.Op == query.OpOr {
			sep = " OR "
		}
		b.WriteString("(")
		for i, c := range t.Children {
			if i > 0 {
				b.WriteString(sep)
			}
			writeBoolTerm(b, c)
		}
		b.WriteString(")")
	}
}

func writeGroupOrderLimit(b *strings.Builder, stmt *query.ParsedStatement) {
	if len(stmt.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		writeColRefs(b, stmt.GroupBy)
	}
	if len(stmt.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		writeColRefs(b, stmt.OrderBy)
	}
}

func writeColRefs(b *strings.Builder, cols []query.ColumnRef) {
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		if c.Table != "" {
			b.WriteString(c.Table)
			b.WriteByte('.')
		}
		b.WriteString(c.Column)
	}
}

// buildMergeQuery renders the coordinator-side query that consumes the
// union of all fragment result tables, re-applying the final
// projection (with aggregates combined per the map/reduce rule) and
// the GROUP BY/ORDER BY/LIMIT clauses.
func buildMergeQuery(stmt *query.ParsedStatement, aggs []aggSpec, fragments []Fragment) string {
	tables := make([]string, len(fragments))
	for i, f := range fragments {
		tables[i] = f.ResultTable
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	for i, c := range stmt.SelectList {
		if i > 0 {
			b.WriteString(", ")
		}
		if aggs[i].Func != AggNone {
			writeCombineAgg(&b, aggs[i])
			continue
		}
		b.WriteString(c.Column)
	}
	b.WriteString(" FROM (")
	for i, t := range tables {
		if i > 0 {
			b.WriteString(" UNION ALL ")
		}
		fmt.Fprintf(&b, "SELECT * FROM %s", t)
	}
	b.WriteString(") AS merged")
	writeGroupOrderLimit(&b, stmt)
	if stmt.HasLimit {
		fmt.Fprintf(&b, " LIMIT %d", stmt.Limit)
	}
	return b.String()
}

func writeCombineAgg(b *strings.Builder, a aggSpec) {
	switch a.Func {
	case AggCount, AggSum:
		fmt.Fprintf(b, "SUM(%s) AS %s", a.Alias, a.Alias)
	case AggAvg:
		fmt.Fprintf(b, "SUM(%s_sum) / SUM(%s_count) AS %s", a.Alias, a.Alias, a.Alias)
	case AggMin:
		fmt.Fprintf(b, "MIN(%s) AS %s", a.Alias, a.Alias)
	case AggMax:
		fmt.Fprintf(b, "MAX(%s) AS %s", a.Alias, a.Alias)
	}
}
