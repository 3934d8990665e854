package merger

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"database/sql"

	mysqldriver "github.com/go-sql-driver/mysql"
)

// MySQLBackend is the production Backend: it creates the merge target
// table from a worker's row schema, loads escaped rows via a
// LOAD DATA LOCAL INFILE pipe sourced from a RowProducer (registered
// with the driver as an in-memory reader, per go-sql-driver/mysql's
// reader-handler extension — no temp file touches disk), and runs the
// coordinator merge query.
type MySQLBackend struct {
	db *sql.DB
}

// NewMySQLBackend returns a Backend driving db, which must already be
// opened against the coordinator's local MySQL engine with a DSN that
// sets allowAllFiles=true (required for the "Reader::" pseudo-file
// LOAD DATA LOCAL INFILE source).
func NewMySQLBackend(db *sql.DB) *MySQLBackend {
	return &MySQLBackend{db: db}
}

// CreateTable creates table with one LONGBLOB column per name in
// columns, preserving column bytes exactly regardless of the worker's
// original MySQL type — the merge query downstream is responsible for
// any needed CAST.
func (b *MySQLBackend) CreateTable(ctx context.Context, table string, columns []string) error {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = fmt.Sprintf("`%s` LONGBLOB", c)
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(cols, ", "))
	_, err := b.db.ExecContext(ctx, ddl)
	return err
}

var readerHandlerSeq int64

// LoadRows streams rows into table via LOAD DATA LOCAL INFILE, sourcing
// bytes from rows through a registered reader handle rather than a
// temp file.
func (b *MySQLBackend) LoadRows(ctx context.Context, table string, rows RowProducer) (int64, error) {
	name := fmt.Sprintf("qserv-merge-%d", atomic.AddInt64(&readerHandlerSeq, 1))
	mysqldriver.RegisterReaderHandler(name, func() io.Reader { return &rowProducerReader{src: rows} })
	defer mysqldriver.DeregisterReaderHandler(name)

	stmt := fmt.Sprintf(
		"LOAD DATA LOCAL INFILE 'Reader::%s' INTO TABLE %s FIELDS TERMINATED BY '\\t' LINES TERMINATED BY '\\n'",
		name, table,
	)
	res, err := b.db.ExecContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("merger: load data infile: %w", err)
	}
	return res.RowsAffected()
}

// RunMergeQuery executes query (expected to be an INSERT ... SELECT or
// similar DML producing the final visible result) and returns the
// affected row count.
func (b *MySQLBackend) RunMergeQuery(ctx context.Context, query string) (int64, error) {
	res, err := b.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// rowProducerReader adapts a RowProducer's "zero means exhausted"
// contract to io.Reader's io.EOF convention.
type rowProducerReader struct {
	src RowProducer
}

func (r *rowProducerReader) Read(p []byte) (int, error) {
	n, err := r.src.Next(p)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

var _ Backend = (*MySQLBackend)(nil)
