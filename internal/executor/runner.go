package executor

import (
	"context"
	"crypto/md5"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/dreamware/qserv-go/internal/wire"
)

// sqlRowSource adapts *sql.Rows into a RowSource, converting every
// column to its raw byte form so the fetcher can escape it uniformly
// regardless of the underlying MySQL type.
type sqlRowSource struct {
	rows    *sql.Rows
	ncols   int
	scanBuf []sql.RawBytes
	ptrs    []any
}

func newSQLRowSource(rows *sql.Rows) (*sqlRowSource, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	s := &sqlRowSource{rows: rows, ncols: len(cols), scanBuf: make([]sql.RawBytes, len(cols))}
	s.ptrs = make([]any, len(cols))
	for i := range s.scanBuf {
		s.ptrs[i] = &s.scanBuf[i]
	}
	return s, nil
}

func (s *sqlRowSource) Next() (Row, bool, error) {
	if !s.rows.Next() {
		return Row{}, false, s.rows.Err()
	}
	if err := s.rows.Scan(s.ptrs...); err != nil {
		return Row{}, false, err
	}
	row := Row{Columns: make([][]byte, s.ncols), IsNull: make([]bool, s.ncols)}
	for i, raw := range s.scanBuf {
		if raw == nil {
			row.IsNull[i] = true
			continue
		}
		buf := make([]byte, len(raw))
		copy(buf, raw)
		row.Columns[i] = buf
	}
	return row, true, nil
}

// Sink receives the framed results of one fragment execution: zero or
// more row payloads, and a final call with last==true carrying an
// end-of-fragment header (possibly with EndNoData set).
type Sink interface {
	Send(header wire.ProtoHeader, payload []byte, last bool) error
}

// bufferSize is the caller-supplied buffer size B used to pack rows,
// matching the wire layer's preferred frame payload size.
const bufferSize = wire.PreferredPayloadSize

// Runner executes one fragment's SQL strings against a local MySQL
// connection and drives a Fetcher to stream RowBundle messages to a
// Sink, writing the header first and signaling a final frame last.
type Runner struct {
	db   *sql.DB
	sink Sink
}

// NewRunner returns a Runner executing fragments against db (typically
// opened with the "mysql" driver against the worker's local engine)
// and delivering framed results to sink.
func NewRunner(db *sql.DB, sink Sink) *Runner {
	return &Runner{db: db, sink: sink}
}

// Run executes every SQL string in queries against r's database in
// order, streaming rows from each to the sink. poisoned is polled at
// row boundaries; when true, Run emits a final frame carrying an
// end-of-fragment header with no further data and stops early.
func (r *Runner) Run(ctx context.Context, session int64, queries []string, poisoned *bool) error {
	header := wire.ProtoHeader{Wname: fmt.Sprintf("session-%d", session)}

	for qi, q := range queries {
		if poisoned != nil && *poisoned {
			return r.emitEndNoData(header)
		}
		if err := r.runOne(ctx, q, header, poisoned); err != nil {
			return fmt.Errorf("executor: query %d: %w", qi, err)
		}
	}
	return r.emitEndNoData(header)
}

// runOne executes one query and streams its rows to the sink via a
// Fetcher, without emitting the final end-of-fragment frame (the
// caller emits exactly one of those once all queries have run).
func (r *Runner) runOne(ctx context.Context, q string, header wire.ProtoHeader, poisoned *bool) error {
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	src, err := newSQLRowSource(rows)
	if err != nil {
		return err
	}
	fetcher := NewFetcher(src, poisoned)

	for {
		buf := make([]byte, bufferSize)
		n, last, ferr := fetcher.Fill(buf)
		if ferr != nil {
			return ferr
		}
		if n > 0 {
			payload := buf[:n]
			hdr := header
			hdr.Size = uint32(len(payload))
			hdr.MD5 = md5.Sum(payload)
			if err := r.send(hdr, payload, false); err != nil {
				return err
			}
		}
		if last {
			return nil
		}
	}
}

// emitEndNoData sends the terminal frame for a fragment that produced
// no further data: either because every query finished normally or
// because the task was poisoned before completion.
func (r *Runner) emitEndNoData(header wire.ProtoHeader) error {
	header.EndNoData = true
	header.Size = 0
	header.MD5 = md5.Sum(nil)
	return r.send(header, nil, true)
}

func (r *Runner) send(header wire.ProtoHeader, payload []byte, last bool) error {
	if r.sink == nil {
		return nil
	}
	return r.sink.Send(header, payload, last)
}
