// Command worker runs the per-node query engine process (C7/C8): it
// accepts one task per resource-scoped websocket connection, admits it
// through a scan scheduler, executes its fragment SQL against the
// local MySQL engine, and streams framed results back over the same
// connection.
//
// Configuration:
//   - NODE_ID, NODE_LISTEN, CZAR_ADDR: process addressing, read via plain
//     getenv/mustGetenv.
//   - mysqlSocket, numThreads, QSW_*: engine tuning, read via an INI file
//     (WORKER_CONFIG_FILE) and/or environment.
package main

import (
	"context"
	"crypto/md5"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql"

	"github.com/dreamware/qserv-go/internal/config"
	"github.com/dreamware/qserv-go/internal/executor"
	"github.com/dreamware/qserv-go/internal/logging"
	"github.com/dreamware/qserv-go/internal/scheduler"
	"github.com/dreamware/qserv-go/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wire.PreferredPayloadSize,
	WriteBufferSize: wire.PreferredPayloadSize,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSink adapts a websocket connection to executor.Sink: every Send
// call writes exactly one framed buffer as one binary message, guarded
// by a mutex since Runner may be called from more than one goroutine
// across fragments but never concurrently within a single fragment.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(header wire.ProtoHeader, payload []byte, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(w, header, payload); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// pendingExec is an admitted task's connection and decoded request,
// kept around from admission until its executor goroutine finishes.
type pendingExec struct {
	conn *websocket.Conn
	msg  wire.TaskMsg
}

// engine owns the worker's admission loop and in-flight executions.
type engine struct {
	db    *sql.DB
	sched scheduler.Scheduler
	log   *zap.SugaredLogger

	mu      sync.Mutex
	pending map[string]*pendingExec

	wake chan struct{}
}

func newEngine(db *sql.DB, sched scheduler.Scheduler, log *zap.SugaredLogger) *engine {
	return &engine{db: db, sched: sched, log: log, pending: make(map[string]*pendingExec), wake: make(chan struct{}, 1)}
}

func (e *engine) nudge() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// admitLoop pulls runnable tasks from the scheduler whenever work is
// enqueued or a task completes, falling back to a periodic tick so a
// task enqueued between wake signals is never stranded.
func (e *engine) admitLoop(ctx context.Context, maxRunning int) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		case <-ticker.C:
		}
		for _, t := range e.sched.GetNextTasks(maxRunning) {
			go e.execute(ctx, t)
		}
	}
}

// execute runs one admitted task's fragments to completion against the
// local MySQL engine, streaming results to its websocket connection,
// then frees the scheduler slot and closes the connection.
func (e *engine) execute(ctx context.Context, task *scheduler.Task) {
	e.mu.Lock()
	pe, ok := e.pending[task.Hash]
	if ok {
		delete(e.pending, task.Hash)
	}
	e.mu.Unlock()

	defer func() {
		e.sched.Complete(1)
		e.nudge()
	}()

	if !ok {
		e.log.Errorw("admitted task has no pending connection", "hash", task.Hash)
		return
	}
	defer pe.conn.Close()

	sink := &wsSink{conn: pe.conn}
	runner := executor.NewRunner(e.db, sink)

	for fi, frag := range pe.msg.Fragments {
		if task.Poisoned {
			break
		}
		for _, q := range frag.Queries {
			if _, err := e.db.ExecContext(ctx, q); err != nil {
				e.log.Errorw("fragment insert failed", "chunkId", task.ChunkID, "fragment", fi, "err", err)
				break
			}
		}
		if err := runner.Run(ctx, pe.msg.Session, []string{"SELECT * FROM " + frag.ResultTable}, &task.Poisoned); err != nil {
			e.log.Errorw("fragment execution failed", "chunkId", task.ChunkID, "fragment", fi, "err", err)
		}
		if _, err := e.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+frag.ResultTable); err != nil {
			e.log.Warnw("result table cleanup failed", "table", frag.ResultTable, "err", err)
		}
	}
}

// handleTask upgrades one request to a websocket, reads exactly one
// raw, unframed TaskMsg, and enqueues it.
func (e *engine) handleTask(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.log.Errorw("websocket upgrade failed", "err", err)
		return
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		e.log.Errorw("read task message failed", "err", err)
		conn.Close()
		return
	}
	msg, err := wire.UnmarshalTaskMsg(data)
	if err != nil {
		e.log.Errorw("decode task message failed", "err", err)
		conn.Close()
		return
	}

	sum := md5.Sum(data)
	hash := fmt.Sprintf("%x-%d", sum, time.Now().UnixNano())

	var queries []string
	for _, f := range msg.Fragments {
		queries = append(queries, f.Queries...)
	}
	task := &scheduler.Task{
		Hash:        hash,
		ChunkID:     int(msg.ChunkID),
		Fragments:   queries,
		Db:          msg.Db,
		User:        msg.User,
		EntryTime:   time.Now().UnixNano(),
		Fingerprint: msg.Db,
	}

	e.mu.Lock()
	e.pending[hash] = &pendingExec{conn: conn, msg: msg}
	e.mu.Unlock()

	e.sched.Enqueue(task)
	e.nudge()
}

func main() {
	proc := config.LoadWorkerProcessConfig()
	wcfg, err := config.LoadWorkerConfig(os.Getenv("WORKER_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.ComponentWorker, os.Getenv("LOG_LEVEL"), os.Getenv("ENV") == "production")
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log = log.With("nodeId", proc.NodeID)

	dsn := fmt.Sprintf("%s@unix(%s)/", wcfg.MySQLDefaultUser, wcfg.MySQLSocket)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalw("open mysql", "err", err)
	}
	defer db.Close()

	sched := scheduler.NewScanScheduler(wcfg.NumThreads)
	eng := newEngine(db, sched, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.admitLoop(ctx, wcfg.NumThreads)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/chk/", eng.handleTask)
	mux.HandleFunc("/q/", eng.handleTask)

	srv := &http.Server{
		Addr:              proc.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infow("listening", "addr", proc.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("listen", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("shutdown", "err", err)
	}
	log.Infow("worker stopped")
}
