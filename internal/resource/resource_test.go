package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseQueryAndChunk(t *testing.T) {
	p := Parse("/q/LSST/42")
	assert.Equal(t, Query, p.Kind)
	assert.Equal(t, "LSST", p.Db)
	assert.Equal(t, 42, p.ChunkID)
	assert.Equal(t, "/q/LSST/42", p.String())

	p = Parse("/chk/LSST/7")
	assert.Equal(t, Chunk, p.Kind)
	assert.Equal(t, "/chk/LSST/7", p.String())
}

func TestParseResult(t *testing.T) {
	p := Parse("/result/abc123")
	assert.Equal(t, Result, p.Kind)
	assert.Equal(t, "abc123", p.Hash)
	assert.Equal(t, "/result/abc123", p.String())
}

func TestParseGarbage(t *testing.T) {
	tests := []string{
		"",
		"no-leading-slash",
		"/unknownkind/x/1",
		"/q//1",
		"/q/LSST/notanumber",
		"/q/LSST",
		"/result/",
		"/chk/LSST/1/extra",
	}
	for _, s := range tests {
		p := Parse(s)
		assert.Equal(t, Garbage, p.Kind, "expected GARBAGE for %q", s)
		assert.Equal(t, "GARBAGE", p.String())
	}
}

func TestParseKVSuffix(t *testing.T) {
	p := Parse("/q/LSST/42?wantresult=1")
	assert.Equal(t, Query, p.Kind)
	assert.Equal(t, "1", p.KV["wantresult"])
}
