package rewrite

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/qserv-go/internal/partition"
	"github.com/dreamware/qserv-go/internal/query"
)

func TestRewriteChunkedTableFullScan(t *testing.T) {
	p, err := partition.New(0.1, 4, 2)
	require.NoError(t, err)

	stmt := &query.ParsedStatement{
		SelectList: []query.ColumnRef{{Table: "Object", Column: "objectId"}},
		From:       []query.TableRef{{Db: "LSST", Table: "Object"}},
	}
	classes := []query.TableClass{{Chunked: true, SubChunked: false}}

	plan, err := Rewrite(stmt, classes, p)
	require.NoError(t, err)
	assert.Equal(t, p.AllChunkIDs(), plan.ChunkSet)
	require.Len(t, plan.Fragments, len(plan.ChunkSet))

	for _, f := range plan.Fragments {
		require.Len(t, f.SQLStrings, 1)
		want := "Object_" + strconv.Itoa(f.ChunkID)
		assert.Contains(t, f.SQLStrings[0], want)
		assert.Contains(t, f.SQLStrings[0], "INSERT INTO "+f.ResultTable)
	}
	assert.Contains(t, plan.MergeQuery, "UNION ALL")
}

func TestRewriteSubChunkedTableEmitsOverlapUnion(t *testing.T) {
	p, err := partition.New(0.1, 4, 2)
	require.NoError(t, err)

	stmt := &query.ParsedStatement{
		SelectList: []query.ColumnRef{{Table: "Object", Column: "objectId"}},
		From:       []query.TableRef{{Db: "LSST", Table: "Object"}},
	}
	classes := []query.TableClass{{Chunked: true, SubChunked: true}}

	plan, err := Rewrite(stmt, classes, p)
	require.NoError(t, err)
	require.NotEmpty(t, plan.Fragments)

	f := plan.Fragments[0]
	require.NotEmpty(t, f.SubChunkIDs)
	require.Len(t, f.SQLStrings, len(f.SubChunkIDs))
	assert.Contains(t, f.SQLStrings[0], "Overlap")
	assert.Contains(t, f.SQLStrings[0], "UNION ALL")
}

func TestRewriteBoxRestrictorNarrowsChunkSet(t *testing.T) {
	p, err := partition.New(0.1, 8, 2)
	require.NoError(t, err)

	stmt := &query.ParsedStatement{
		SelectList:  []query.ColumnRef{{Table: "Object", Column: "objectId"}},
		From:        []query.TableRef{{Db: "LSST", Table: "Object"}},
		Restrictors: []query.SpatialRestrictor{{Kind: "box", Args: []float64{0, 0, 10, 10}}},
	}
	classes := []query.TableClass{{Chunked: true}}

	plan, err := Rewrite(stmt, classes, p)
	require.NoError(t, err)
	assert.Less(t, len(plan.ChunkSet), len(p.AllChunkIDs()))
}

func TestRewriteCountAggregateSplitsIntoSumSum(t *testing.T) {
	p, err := partition.New(0.1, 2, 2)
	require.NoError(t, err)

	stmt := &query.ParsedStatement{
		SelectList: []query.ColumnRef{{Table: "Object", Column: "COUNT(*)"}},
		From:       []query.TableRef{{Db: "LSST", Table: "Object"}},
	}
	classes := []query.TableClass{{Chunked: true}}

	plan, err := Rewrite(stmt, classes, p)
	require.NoError(t, err)
	require.NotEmpty(t, plan.Fragments)
	assert.Contains(t, plan.Fragments[0].SQLStrings[0], "COUNT(*)")
	assert.Contains(t, plan.MergeQuery, "SUM(agg_0)")
}

func TestRewriteAvgAggregateSplitsIntoSumOverSum(t *testing.T) {
	p, err := partition.New(0.1, 2, 2)
	require.NoError(t, err)

	stmt := &query.ParsedStatement{
		SelectList: []query.ColumnRef{{Table: "Object", Column: "AVG(flux)"}},
		From:       []query.TableRef{{Db: "LSST", Table: "Object"}},
	}
	classes := []query.TableClass{{Chunked: true}}

	plan, err := Rewrite(stmt, classes, p)
	require.NoError(t, err)
	assert.Contains(t, plan.Fragments[0].SQLStrings[0], "SUM(flux) AS agg_0_sum")
	assert.Contains(t, plan.Fragments[0].SQLStrings[0], "COUNT(flux) AS agg_0_count")
	assert.Contains(t, plan.MergeQuery, "SUM(agg_0_sum) / SUM(agg_0_count)")
}

func TestRewriteUnpartitionedTableKeepsBareName(t *testing.T) {
	p, err := partition.New(0.1, 2, 2)
	require.NoError(t, err)

	stmt := &query.ParsedStatement{
		SelectList: []query.ColumnRef{{Table: "RefCatalog", Column: "id"}},
		From:       []query.TableRef{{Db: "LSST", Table: "RefCatalog"}},
	}
	classes := []query.TableClass{{}}

	plan, err := Rewrite(stmt, classes, p)
	require.NoError(t, err)
	for _, f := range plan.Fragments {
		assert.True(t, strings.Contains(f.SQLStrings[0], "FROM RefCatalog"))
	}
}
