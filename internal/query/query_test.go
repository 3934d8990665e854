package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/qserv-go/internal/css"
)

func loadFacade(t *testing.T) *css.Facade {
	t.Helper()
	kv, err := css.LoadSnapshot(strings.NewReader(
		"/css_meta/version\t1\n"+
			"/DBS\t\\N\n"+
			"/DBS/LSST\t\\N\n"+
			"/DBS/LSST/partitioning\t\\N\n"+
			"/DBS/LSST/partitioning/nStripes\t200\n"+
			"/DBS/LSST/partitioning/nSubStripes\t5\n"+
			"/DBS/LSST/TABLES\t\\N\n"+
			"/DBS/LSST/TABLES/Object\t\\N\n"+
			"/DBS/LSST/TABLES/Object/partitioning\t\\N\n"+
			"/DBS/LSST/TABLES/Object/partitioning/subChunks\t1\n"+
			"/DBS/LSST/TABLES/Source\t\\N\n"+
			"/DBS/LSST/TABLES/Source/partitioning\t\\N\n"+
			"/DBS/LSST/TABLES/Source/partitioning/subChunks\t0\n"+
			"/DBS/LSST/TABLES/RefMatch\t\\N\n",
	))
	require.NoError(t, err)
	f, err := css.NewFacade(kv, "1")
	require.NoError(t, err)
	return f
}

func TestAnalyzeClassifiesTables(t *testing.T) {
	a := New(loadFacade(t))
	stmt := &ParsedStatement{
		From: []TableRef{
			{Db: "LSST", Table: "Object", Columns: []string{"objectId", "ra", "decl"}},
		},
	}
	classes, err := a.Analyze(stmt)
	require.NoError(t, err)
	require.Len(t, classes, 1)
	assert.True(t, classes[0].Chunked)
	assert.True(t, classes[0].SubChunked)
}

func TestAnalyzeUnknownDb(t *testing.T) {
	a := New(loadFacade(t))
	stmt := &ParsedStatement{From: []TableRef{{Db: "Nope", Table: "Object"}}}
	_, err := a.Analyze(stmt)
	var want UnknownDbError
	require.ErrorAs(t, err, &want)
}

func TestAnalyzeResolvesUnambiguousColumn(t *testing.T) {
	a := New(loadFacade(t))
	stmt := &ParsedStatement{
		SelectList: []ColumnRef{{Column: "ra"}},
		From: []TableRef{
			{Db: "LSST", Table: "Object", Columns: []string{"objectId", "ra", "decl"}},
		},
	}
	_, err := a.Analyze(stmt)
	require.NoError(t, err)
	assert.Equal(t, "Object", stmt.SelectList[0].Table)
}

func TestAnalyzeAmbiguousColumnFails(t *testing.T) {
	a := New(loadFacade(t))
	stmt := &ParsedStatement{
		SelectList: []ColumnRef{{Column: "ra"}},
		From: []TableRef{
			{Db: "LSST", Table: "Object", Alias: "o", Columns: []string{"objectId", "ra", "decl"}},
			{Db: "LSST", Table: "Source", Alias: "s", Join: JoinInner, Columns: []string{"sourceId", "ra", "decl"}},
		},
	}
	_, err := a.Analyze(stmt)
	var want AmbiguousColumnError
	require.ErrorAs(t, err, &want)
	assert.Equal(t, "ra", want.Column)
}

func TestAnalyzeNaturalJoinResolvesCommonColumn(t *testing.T) {
	a := New(loadFacade(t))
	stmt := &ParsedStatement{
		SelectList: []ColumnRef{{Column: "objectId"}},
		From: []TableRef{
			{Db: "LSST", Table: "Object", Alias: "o", Columns: []string{"objectId", "ra", "decl"}},
			{Db: "LSST", Table: "Source", Alias: "s", Join: JoinNatural, Columns: []string{"objectId", "sourceId"}},
		},
	}
	_, err := a.Analyze(stmt)
	require.NoError(t, err)
	assert.Equal(t, "o", stmt.SelectList[0].Table)
}

func TestAnalyzeUsingResolvesCommonColumn(t *testing.T) {
	a := New(loadFacade(t))
	stmt := &ParsedStatement{
		SelectList: []ColumnRef{{Column: "objectId"}},
		From: []TableRef{
			{Db: "LSST", Table: "Object", Alias: "o", Columns: []string{"objectId", "ra"}},
			{Db: "LSST", Table: "Source", Alias: "s", Join: JoinInner, Using: []string{"objectId"}, Columns: []string{"objectId", "sourceId"}},
		},
	}
	_, err := a.Analyze(stmt)
	require.NoError(t, err)
	assert.Equal(t, "o", stmt.SelectList[0].Table)
}

func TestExtractRestrictorsRemovesBoxPredicate(t *testing.T) {
	where := &BoolTerm{
		Op: OpAnd,
		Children: []*BoolTerm{
			{Op: OpLeaf, Leaf: &Predicate{Func: "qserv_areaspec_box", Args: []string{"1.0", "2.0", "3.0", "4.0"}}},
			{Op: OpLeaf, Leaf: &Predicate{Raw: "objectId > 5"}},
		},
	}
	restrictors, remaining := extractRestrictors(where)
	require.Len(t, restrictors, 1)
	assert.Equal(t, "box", restrictors[0].Kind)
	assert.Equal(t, []float64{1.0, 2.0, 3.0, 4.0}, restrictors[0].Args)
	require.NotNil(t, remaining)
	assert.Equal(t, OpLeaf, remaining.Op)
	assert.Equal(t, "objectId > 5", remaining.Leaf.Raw)
}

func TestExtractRestrictorsAllRemovedCollapsesToNil(t *testing.T) {
	where := &BoolTerm{Op: OpLeaf, Leaf: &Predicate{Func: "qserv_areaspec_circle", Args: []string{"1", "2", "0.5"}}}
	restrictors, remaining := extractRestrictors(where)
	require.Len(t, restrictors, 1)
	assert.Nil(t, remaining)
}
