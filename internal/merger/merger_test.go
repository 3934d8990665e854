package merger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/qserv-go/internal/messages"
	"github.com/dreamware/qserv-go/internal/wire"
)

type fakeBackend struct {
	mu          sync.Mutex
	createCalls int
	columns     []string
	totalRows   int64
	failCreate  bool
	failLoad    bool
	failMerge   bool
}

func (b *fakeBackend) CreateTable(_ context.Context, _ string, columns []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failCreate {
		return errors.New("create table failed")
	}
	b.createCalls++
	b.columns = columns
	return nil
}

func (b *fakeBackend) LoadRows(_ context.Context, _ string, rows RowProducer) (int64, error) {
	if b.failLoad {
		return 0, errors.New("load rows failed")
	}
	var count int64
	buf := make([]byte, 64)
	for {
		n, err := rows.Next(buf)
		if err != nil {
			return count, err
		}
		if n == 0 {
			break
		}
		count += int64(bytes.Count(buf[:n], []byte{'\n'}))
	}
	b.mu.Lock()
	b.totalRows += count
	b.mu.Unlock()
	return count, nil
}

func (b *fakeBackend) RunMergeQuery(_ context.Context, _ string) (int64, error) {
	if b.failMerge {
		return 0, errors.New("merge query failed")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalRows, nil
}

func makeRows(n int) []wire.RowBundle {
	rows := make([]wire.RowBundle, n)
	for i := range rows {
		rows[i] = wire.RowBundle{Column: [][]byte{[]byte(fmt.Sprintf("%d", i))}, IsNull: []bool{false}}
	}
	return rows
}

func frameResult(t *testing.T, wname string, res wire.Result) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, wire.WriteFrame(&buf, wire.ProtoHeader{Wname: wname}, res.Marshal()))
	return buf.Bytes()
}

func frameEndNoData(t *testing.T, wname string) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, wire.WriteFrame(&buf, wire.ProtoHeader{Wname: wname, EndNoData: true}, nil))
	return buf.Bytes()
}

// TestMergerS5ResultMerge reproduces the two-fragment, 1000+500-row
// merge scenario: finalize returns the target table with all 1500 rows
// accounted for and the message store records no errors.
func TestMergerS5ResultMerge(t *testing.T) {
	backend := &fakeBackend{}
	msgs := messages.New(nil)
	m := New(42, 2, "result_1500", "SELECT COUNT(*) FROM result_table", backend, msgs)
	wname := "session-42"
	ctx := context.Background()

	res1 := wire.Result{Session: 42, RowSchema: wire.RowSchema{Columns: []string{"id"}}, Row: makeRows(1000)}
	buf1 := frameResult(t, wname, res1)
	require.NoError(t, m.Merge(ctx, buf1, len(buf1)))
	end1 := frameEndNoData(t, wname)
	require.NoError(t, m.Merge(ctx, end1, len(end1)))

	res2 := wire.Result{Session: 42, RowSchema: wire.RowSchema{Columns: []string{"id"}}, Row: makeRows(500)}
	buf2 := frameResult(t, wname, res2)
	require.NoError(t, m.Merge(ctx, buf2, len(buf2)))
	end2 := frameEndNoData(t, wname)
	require.NoError(t, m.Merge(ctx, end2, len(end2)))

	table, err := m.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "result_1500", table)
	assert.EqualValues(t, 1500, m.FinalRowCount())
	assert.True(t, m.IsFinished())
	assert.Equal(t, 1, backend.createCalls)
	assert.False(t, msgs.HasErrors())
}

// TestMergerS6Cancellation reproduces the mid-flight cancellation
// scenario: once Cancel is called, further merges are rejected and
// finalize reports MergeError{Kind: KindTerminate}.
func TestMergerS6Cancellation(t *testing.T) {
	backend := &fakeBackend{}
	m := New(7, 1, "result_cancel", "SELECT 1", backend, nil)
	wname := "session-7"
	ctx := context.Background()

	first := frameResult(t, wname, wire.Result{
		Session:   7,
		RowSchema: wire.RowSchema{Columns: []string{"id"}},
		Row:       makeRows(10000),
	})
	require.NoError(t, m.Merge(ctx, first, len(first)))

	m.Cancel()

	second := frameResult(t, wname, wire.Result{
		Session:   7,
		RowSchema: wire.RowSchema{Columns: []string{"id"}},
		Row:       makeRows(1),
	})
	err := m.Merge(ctx, second, len(second))
	require.Error(t, err)
	var merr MergeError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, KindTerminate, merr.Kind)

	table, ferr := m.Finalize(ctx)
	require.Error(t, ferr)
	assert.Empty(t, table)
	require.ErrorAs(t, ferr, &merr)
	assert.Equal(t, KindTerminate, merr.Kind)
	assert.True(t, m.IsFinished())
}

func TestMergerRejectsSessionMismatch(t *testing.T) {
	backend := &fakeBackend{}
	m := New(1, 1, "t", "SELECT 1", backend, nil)
	frame := frameResult(t, "session-1", wire.Result{Session: 999, RowSchema: wire.RowSchema{Columns: []string{"id"}}, Row: makeRows(1)})
	err := m.Merge(context.Background(), frame, len(frame))
	require.Error(t, err)
}

func TestMergerCreateTableFailureIsTerminal(t *testing.T) {
	backend := &fakeBackend{failCreate: true}
	msgs := messages.New(nil)
	m := New(1, 1, "t", "SELECT 1", backend, msgs)
	wname := "session-1"
	frame := frameResult(t, wname, wire.Result{Session: 1, RowSchema: wire.RowSchema{Columns: []string{"id"}}, Row: makeRows(1)})

	err := m.Merge(context.Background(), frame, len(frame))
	require.Error(t, err)
	var merr MergeError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, KindCreateTable, merr.Kind)
	assert.Equal(t, CreateTableError, m.State())
	assert.True(t, msgs.HasErrors())

	// Finalize also fails once the session is terminally failed.
	_, ferr := m.Finalize(context.Background())
	require.Error(t, ferr)
}

func TestMergerWorkerErrorResultIsTerminal(t *testing.T) {
	backend := &fakeBackend{}
	m := New(1, 1, "t", "SELECT 1", backend, nil)
	wname := "session-1"
	frame := frameResult(t, wname, wire.Result{Session: 1, ErrorCode: 5, ErrorMsg: "syntax error"})

	err := m.Merge(context.Background(), frame, len(frame))
	require.Error(t, err)
	var merr MergeError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, KindMySQLExec, merr.Kind)
}
