// Package merger implements the coordinator-side result merger (C9): it
// consumes framed result buffers from each fragment, creates the merge
// target table from the first row schema it sees, streams rows into it,
// and on finalize runs the coordinator merge query to produce the
// user-visible result table.
package merger

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/dreamware/qserv-go/internal/messages"
	"github.com/dreamware/qserv-go/internal/rowcodec"
	"github.com/dreamware/qserv-go/internal/wire"
)

// State is one node of the per-query merge state machine.
type State int

const (
	Idle State = iota
	HeaderParsed
	TableCreated
	RowsLoading
	Finalizing
	Done
	CreateTableError
	MergeWriteError
	MySQLExecError
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case HeaderParsed:
		return "HEADER_PARSED"
	case TableCreated:
		return "TABLE_CREATED"
	case RowsLoading:
		return "ROWS_LOADING"
	case Finalizing:
		return "FINALIZE"
	case Done:
		return "DONE"
	case CreateTableError:
		return "CREATE_TABLE_ERROR"
	case MergeWriteError:
		return "MERGEWRITE_ERROR"
	case MySQLExecError:
		return "MYSQLEXEC_ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrorKind classifies a MergeError.
type ErrorKind int

const (
	KindCreateTable ErrorKind = iota
	KindMergeWrite
	KindMySQLExec
	KindTerminate
)

func (k ErrorKind) String() string {
	switch k {
	case KindCreateTable:
		return "CreateTable"
	case KindMergeWrite:
		return "MergeWrite"
	case KindMySQLExec:
		return "MySQLExec"
	case KindTerminate:
		return "Terminate"
	default:
		return "Unknown"
	}
}

// MergeError is a terminal failure of a merge session, carrying the
// state-machine error branch it came from.
type MergeError struct {
	Kind  ErrorKind
	Cause error
}

func (e MergeError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("merger: %s", e.Kind)
	}
	return fmt.Sprintf("merger: %s: %v", e.Kind, e.Cause)
}

func (e MergeError) Unwrap() error { return e.Cause }

// RowProducer streams pre-escaped row bytes into a caller buffer,
// mirroring the worker-side Fetcher's contract: Next returns the number
// of bytes written; zero means the stream is exhausted.
type RowProducer interface {
	Next(buf []byte) (n int, err error)
}

// Backend performs the SQL-engine side effects a merge session drives:
// creating the target table from a row schema, loading escaped rows
// into it, and running the final coordinator merge query. Implementors
// typically wrap a *sql.DB opened against the coordinator's local MySQL
// engine with a LOAD DATA LOCAL INFILE pipe feeding off a RowProducer.
type Backend interface {
	CreateTable(ctx context.Context, table string, columns []string) error
	LoadRows(ctx context.Context, table string, rows RowProducer) (int64, error)
	RunMergeQuery(ctx context.Context, query string) (int64, error)
}

// rowStream adapts a decoded wire.Result's row bundles into a
// RowProducer, carrying the unwritten tail of a row's encoding across
// successive Next calls exactly as the executor's Fetcher does for its
// producer side.
type rowStream struct {
	rows  []wire.RowBundle
	idx   int
	carry []byte
}

func newRowStream(rows []wire.RowBundle) *rowStream { return &rowStream{rows: rows} }

func (s *rowStream) Next(buf []byte) (int, error) {
	n := 0
	if len(s.carry) > 0 {
		n = copy(buf, s.carry)
		s.carry = s.carry[n:]
		if len(s.carry) > 0 {
			return n, nil
		}
	}
	for s.idx < len(s.rows) {
		encoded := encodeRowBundle(s.rows[s.idx])
		space := len(buf) - n
		if space <= 0 {
			return n, nil
		}
		if len(encoded) <= space {
			copy(buf[n:], encoded)
			n += len(encoded)
			s.idx++
			continue
		}
		copy(buf[n:], encoded[:space])
		s.carry = encoded[space:]
		n += space
		return n, nil
	}
	return n, nil
}

func encodeRowBundle(row wire.RowBundle) []byte {
	var b bytes.Buffer
	for i, c := range row.Column {
		if i > 0 {
			b.WriteByte(rowcodec.Separator)
		}
		if i < len(row.IsNull) && row.IsNull[i] {
			b.WriteString(rowcodec.NullToken)
			continue
		}
		b.Write(rowcodec.Escape(c))
	}
	b.WriteByte(rowcodec.Terminator)
	return b.Bytes()
}

// Merger drives one query's result merge: one session, a fixed number
// of expected fragment deliveries, a single merge target table created
// at-most-once, and a final coordinator merge query.
type Merger struct {
	mu   sync.Mutex
	cond *sync.Cond

	session   int64
	expected  int
	completed int

	targetTable string
	mergeQuery  string
	backend     Backend
	messages    *messages.Store

	state         State
	tableCreated  bool
	rowsLoaded    int64
	finalRowCount int64
	terminalErr   error
}

// New returns a Merger for one query session. expectedFragments is the
// number of distinct fragment deliveries finalize() must observe (via
// their end-of-fragment frames) before running mergeQuery. msgs may be
// nil, in which case merge events are not recorded.
func New(session int64, expectedFragments int, targetTable, mergeQuery string, backend Backend, msgs *messages.Store) *Merger {
	m := &Merger{
		session:     session,
		expected:    expectedFragments,
		targetTable: targetTable,
		mergeQuery:  mergeQuery,
		backend:     backend,
		messages:    msgs,
		state:       Idle,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *Merger) sessionTag() string { return fmt.Sprintf("session-%d", m.session) }

// Merge parses one framed result buffer (as produced by the worker
// executor: a 1-byte header length, the padded header region, and a
// payload whose size/MD5 the header declares), verifies the session,
// and, for a row-bearing frame, creates the target table on first sight
// of its schema and loads its rows. A frame with EndNoData set carries
// no payload and marks one fragment's delivery complete.
func (m *Merger) Merge(ctx context.Context, buffer []byte, length int) error {
	header, payload, err := wire.ReadFrame(bytes.NewReader(buffer[:length]))
	if err != nil {
		return fmt.Errorf("merger: read frame: %w", err)
	}
	return m.mergeFrame(ctx, header, payload)
}

// mergeFrame is Merge's logic from an already-decoded header/payload
// pair, shared with DispatchRequester.Deliver so a dispatch layer that already
// parsed the frame (e.g. dispatch.Executive, which calls wire.ReadFrame
// itself inside Conn.Recv) doesn't have to re-encode it.
func (m *Merger) mergeFrame(ctx context.Context, header wire.ProtoHeader, payload []byte) error {
	if header.Wname != m.sessionTag() {
		return fmt.Errorf("merger: session mismatch: want %q got %q", m.sessionTag(), header.Wname)
	}

	if err := m.terminal(); err != nil {
		return err
	}

	if header.EndNoData {
		m.mu.Lock()
		m.completed++
		m.mu.Unlock()
		m.cond.Broadcast()
		return nil
	}

	res, err := wire.UnmarshalResult(payload)
	if err != nil {
		return fmt.Errorf("merger: decode result: %w", err)
	}
	if res.Session != m.session {
		return fmt.Errorf("merger: result session mismatch: want %d got %d", m.session, res.Session)
	}
	if res.ErrorCode != 0 {
		return m.fail(MySQLExecError, KindMySQLExec, fmt.Errorf("worker error %d: %s", res.ErrorCode, res.ErrorMsg))
	}

	m.mu.Lock()
	m.state = HeaderParsed
	needCreate := !m.tableCreated
	m.mu.Unlock()

	if needCreate {
		if err := m.backend.CreateTable(ctx, m.targetTable, res.RowSchema.Columns); err != nil {
			return m.fail(CreateTableError, KindCreateTable, err)
		}
		m.mu.Lock()
		m.tableCreated = true
		m.state = TableCreated
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.state = RowsLoading
	m.mu.Unlock()

	n, err := m.backend.LoadRows(ctx, m.targetTable, newRowStream(res.Row))
	if err != nil {
		return m.fail(MergeWriteError, KindMergeWrite, err)
	}

	m.mu.Lock()
	m.rowsLoaded += n
	m.mu.Unlock()
	m.addMessage(int(res.QueryID), 0, fmt.Sprintf("merged %d rows", n), messages.Info)
	return nil
}

// fail records a terminal error, transitions to the matching error
// state, wakes any finalize() waiters, and returns the MergeError.
func (m *Merger) fail(state State, kind ErrorKind, cause error) error {
	err := MergeError{Kind: kind, Cause: cause}
	m.mu.Lock()
	if m.terminalErr == nil {
		m.terminalErr = err
		m.state = state
	}
	m.mu.Unlock()
	m.cond.Broadcast()
	m.addMessage(-1, int(kind), err.Error(), messages.Error)
	return err
}

func (m *Merger) terminal() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminalErr
}

func (m *Merger) addMessage(chunkID, code int, description string, severity messages.Severity) {
	if m.messages != nil {
		m.messages.AddMessage(chunkID, code, description, severity)
	}
}

// Cancel aborts the merge session immediately: finalize() returns
// MergeError{Kind: KindTerminate} and the target table is left exactly
// as it stood at the moment of cancellation (Cancel performs no table
// writes of its own). It is a no-op once the session is already
// terminal.
func (m *Merger) Cancel() {
	m.mu.Lock()
	if m.terminalErr != nil || m.state == Done {
		m.mu.Unlock()
		return
	}
	m.terminalErr = MergeError{Kind: KindTerminate}
	m.mu.Unlock()
	m.cond.Broadcast()
}

// Finalize waits for every expected fragment delivery to complete (or
// the session to fail/cancel), then runs the coordinator merge query
// and returns the final table name.
func (m *Merger) Finalize(ctx context.Context) (string, error) {
	m.mu.Lock()
	for m.completed < m.expected && m.terminalErr == nil {
		m.cond.Wait()
	}
	if m.terminalErr != nil {
		err := m.terminalErr
		m.mu.Unlock()
		return "", err
	}
	m.state = Finalizing
	m.mu.Unlock()

	count, err := m.backend.RunMergeQuery(ctx, m.mergeQuery)
	if err != nil {
		m.mu.Lock()
		m.terminalErr = MergeError{Kind: KindMySQLExec, Cause: err}
		m.state = MySQLExecError
		m.mu.Unlock()
		m.addMessage(-1, int(KindMySQLExec), err.Error(), messages.Error)
		return "", m.terminalErr
	}

	m.mu.Lock()
	m.finalRowCount = count
	m.state = Done
	m.mu.Unlock()
	return m.targetTable, nil
}

// IsFinished reports whether the session has reached DONE or any
// terminal error state.
func (m *Merger) IsFinished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Done || m.terminalErr != nil
}

// State returns the current state-machine node, for observability.
func (m *Merger) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// FinalRowCount returns the row count produced by the merge query, only
// meaningful once IsFinished reports true with a nil error.
func (m *Merger) FinalRowCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalRowCount
}
