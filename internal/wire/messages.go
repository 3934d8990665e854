// Package wire implements the coordinator<->worker message types and
// the framed byte-stream protocol: each response buffer is a 1-byte
// header length, a 256-byte padded header region, and a payload whose
// size and MD5 the header declares.
package wire

// TaskMsg is the fragment-dispatch request sent to a worker.
type TaskMsg struct {
	Session int64
	Db      string
	ChunkID int64
	User    string
	Fragments []Fragment
}

// Fragment is one element of a TaskMsg's fragment list.
type Fragment struct {
	Queries     []string
	ResultTable string
	Subchunks   *Subchunks
}

// Subchunks carries the sub-chunk tables and ids a fragment restricts to.
type Subchunks struct {
	Tables []string
	IDs    []int64
}

// ProtoHeader is the fixed-size-region header preceding every result
// payload on the wire.
type ProtoHeader struct {
	Size        uint32
	MD5         [16]byte
	Wname       string
	LargeResult bool
	EndNoData   bool
}

// RowSchema describes the column names of a Result's rows. Types are not
// modeled beyond name, matching the surface the merger actually needs
// (CREATE TABLE column list) rather than full SQL type semantics.
type RowSchema struct {
	Columns []string
}

// RowBundle is one packed row: one byte slice per column, with a
// parallel null bitmap.
type RowBundle struct {
	Column []([]byte)
	IsNull []bool
}

// Result is the worker's response payload: either end-of-fragment
// metadata plus 0+ row bundles, or a terminal error.
type Result struct {
	Session      int64
	QueryID      int64
	RowSchema    RowSchema
	Row          []RowBundle
	RowCount     uint64
	TransmitSize uint64
	ErrorCode    int32
	ErrorMsg     string
	Continues    bool
}
