// Package executor implements the worker-side task executor (C8): it
// pulls admitted tasks from the scan scheduler, runs their fragments
// against the local SQL engine, and streams the resulting rows back to
// the dispatcher as framed RowBundle messages.
package executor

import (
	"bytes"

	"github.com/dreamware/qserv-go/internal/rowcodec"
)

// largeRowThreshold is the conservative per-row size estimate above
// which the fetcher switches to per-column streaming.
const largeRowThreshold = 500 * 1024

// BufferTooSmallError means a single column's escaped size exceeds the
// entire caller-supplied buffer — the only condition under which the
// fetcher can make no forward progress at all.
type BufferTooSmallError struct {
	ColumnSize int
	BufferSize int
}

func (e BufferTooSmallError) Error() string {
	return "executor: buffer too small for column"
}

// Row is one result row: parallel column byte slices and a null bitmap.
type Row struct {
	Columns [][]byte
	IsNull  []bool
}

// rowSize conservatively estimates the escaped wire size of row: each
// column's worst case is twice its raw length (every byte escaped)
// plus one separator, plus a trailing newline.
func rowSize(row Row) int {
	n := 0
	for _, c := range row.Columns {
		n += 2*len(c) + 1
	}
	return n + 1
}

// RowSource yields rows one at a time; Next returns ok==false once the
// fragment's result set is exhausted.
type RowSource interface {
	Next() (row Row, ok bool, err error)
}

// columnCursor tracks per-column streaming progress across successive
// Fill calls when the fetcher is mid-way through a large row.
type columnCursor struct {
	active    bool
	row       Row
	colIndex  int
	byteIndex int
}

// Fetcher packs rows from a RowSource into caller-supplied buffers:
// whole rows when small (continuing a row across Fill calls when it
// doesn't fully fit), per-column streaming when a row is large, and
// BufferTooSmallError only when a single column cannot fit in an
// entire empty buffer.
type Fetcher struct {
	src      RowSource
	cursor   columnCursor
	carry    []byte // unwritten tail of a whole-row encoding from a previous Fill call
	poisoned *bool
}

// NewFetcher returns a Fetcher pulling rows from src. poisoned, if
// non-nil, is checked at each row boundary; once true, Fill stops
// producing further rows.
func NewFetcher(src RowSource, poisoned *bool) *Fetcher {
	return &Fetcher{src: src, poisoned: poisoned}
}

// Fill packs whole rows (or, for a row over largeRowThreshold,
// successive columns) into buf starting at offset 0, returning the
// number of bytes written. last is true once the source is exhausted
// or the task has been poisoned at a row boundary.
func (f *Fetcher) Fill(buf []byte) (n int, last bool, err error) {
	if len(f.carry) > 0 {
		n += copy(buf, f.carry)
		f.carry = f.carry[n:]
		if len(f.carry) > 0 {
			return n, false, nil
		}
	}

	if f.cursor.active {
		wrote, done, cerr := f.fillFromCursor(buf[n:])
		n += wrote
		if cerr != nil {
			return n, false, cerr
		}
		if !done {
			return n, false, nil
		}
	}

	for {
		if f.isPoisoned() {
			return n, true, nil
		}
		row, ok, rerr := f.src.Next()
		if rerr != nil {
			return n, false, rerr
		}
		if !ok {
			return n, true, nil
		}

		if rowSize(row) > largeRowThreshold {
			f.cursor = columnCursor{active: true, row: row}
			wrote, done, cerr := f.fillFromCursor(buf[n:])
			n += wrote
			if cerr != nil {
				return n, false, cerr
			}
			if !done {
				return n, false, nil
			}
			continue
		}

		encoded := encodeRow(row)
		space := len(buf) - n
		if len(encoded) <= space {
			copy(buf[n:], encoded)
			n += len(encoded)
			continue
		}
		copy(buf[n:], encoded[:space])
		f.carry = encoded[space:]
		n += space
		return n, false, nil
	}
}

func (f *Fetcher) isPoisoned() bool {
	return f.poisoned != nil && *f.poisoned
}

// fillFromCursor emits successive columns from the active large-row
// cursor into buf, returning done==true once every column of the
// current row has been written.
func (f *Fetcher) fillFromCursor(buf []byte) (n int, done bool, err error) {
	row := f.cursor.row
	for f.cursor.colIndex < len(row.Columns) {
		col := encodeColumn(row, f.cursor.colIndex)
		if f.cursor.byteIndex == 0 && n == 0 && len(col) > len(buf) {
			return n, false, BufferTooSmallError{ColumnSize: len(col), BufferSize: len(buf)}
		}
		remaining := col[f.cursor.byteIndex:]
		space := len(buf) - n
		if space <= 0 {
			return n, false, nil
		}
		toWrite := remaining
		if len(toWrite) > space {
			toWrite = toWrite[:space]
		}
		copy(buf[n:n+len(toWrite)], toWrite)
		n += len(toWrite)
		f.cursor.byteIndex += len(toWrite)
		if f.cursor.byteIndex == len(col) {
			f.cursor.colIndex++
			f.cursor.byteIndex = 0
		}
	}
	f.cursor.active = false
	return n, true, nil
}

// encodeRow renders one whole row as tab-separated escaped columns
// terminated by a newline.
func encodeRow(row Row) []byte {
	var b bytes.Buffer
	for i, c := range row.Columns {
		if i > 0 {
			b.WriteByte(rowcodec.Separator)
		}
		if row.IsNull[i] {
			b.WriteString(rowcodec.NullToken)
			continue
		}
		b.Write(rowcodec.Escape(c))
	}
	b.WriteByte(rowcodec.Terminator)
	return b.Bytes()
}

// encodeColumn renders one column's escaped bytes (or the null token),
// without a trailing separator — streaming mode relies on the caller's
// framing to delimit columns, not the column payload itself.
func encodeColumn(row Row, i int) []byte {
	if row.IsNull[i] {
		return []byte(rowcodec.NullToken)
	}
	return rowcodec.Escape(row.Columns[i])
}
