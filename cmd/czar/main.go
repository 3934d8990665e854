// Command czar runs the coordinator process: it accepts an
// already-parsed query statement, analyzes and rewrites it into
// per-chunk fragments, dispatches them to the workers that own each
// chunk, and merges the streamed results into a final table.
//
// Parsing SQL text into query.ParsedStatement is out of scope (an
// explicit Non-goal): the /query endpoint accepts the parsed surface
// directly as a JSON body.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	_ "github.com/go-sql-driver/mysql"

	"github.com/dreamware/qserv-go/internal/config"
	"github.com/dreamware/qserv-go/internal/css"
	"github.com/dreamware/qserv-go/internal/dispatch"
	"github.com/dreamware/qserv-go/internal/fleet"
	"github.com/dreamware/qserv-go/internal/logging"
	"github.com/dreamware/qserv-go/internal/merger"
	"github.com/dreamware/qserv-go/internal/messages"
	"github.com/dreamware/qserv-go/internal/partition"
	"github.com/dreamware/qserv-go/internal/query"
	"github.com/dreamware/qserv-go/internal/rewrite"
	"github.com/dreamware/qserv-go/internal/wire"

	"go.uber.org/zap"
)

// defaultOverlap is the sky-partitioner overlap margin used when
// dispatching queries; it is not yet CSS-managed per table, so it is a
// single process-wide knob.
const defaultOverlap = 0.01667 // ~1 arcminute, matching common Qserv deployments

type czarServer struct {
	log         *zap.SugaredLogger
	facade      *css.Facade
	backend     merger.Backend
	workerAddrs []string
	fleet       *fleet.Registry

	sessionSeq int64

	mu         sync.Mutex
	executives map[string]*dispatch.Executive
}

// handleWorkers reports every configured worker's most recent health
// check, for operators and load-balancer probes rather than for the
// fragment dispatch path, which always routes by the deterministic
// partition.ChunkToNode mapping regardless of liveness.
func (s *czarServer) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.fleet.Snapshot())
}

// queryResponse is the /query endpoint's success body.
type queryResponse struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

func (s *czarServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	var stmt query.ParsedStatement
	if err := json.NewDecoder(r.Body).Decode(&stmt); err != nil {
		http.Error(w, fmt.Sprintf("decode statement: %v", err), http.StatusBadRequest)
		return
	}
	if len(stmt.From) == 0 {
		http.Error(w, "statement has an empty FROM list", http.StatusBadRequest)
		return
	}

	analyzer := query.New(s.facade)
	classes, err := analyzer.Analyze(&stmt)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	striping, err := s.facade.GetDbStriping(stmt.From[0].Db)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	partitioner, err := partition.New(defaultOverlap, striping.Stripes, striping.SubStripes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	plan, err := rewrite.Rewrite(&stmt, classes, partitioner)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	session := atomic.AddInt64(&s.sessionSeq, 1)
	targetTable := "result_" + uuid.New().String()
	targetTable = sanitizeTableName(targetTable)
	msgs := messages.New(s.log)
	m := merger.New(session, len(plan.Fragments), targetTable, plan.MergeQuery, s.backend, msgs)
	requester := merger.DispatchRequester{Merger: m}

	var wg sync.WaitGroup
	var usedWorkers []string
	for _, frag := range plan.Fragments {
		ex, addr := s.executiveFor(frag.ChunkID, requester)
		if !slices.ContainsFunc(usedWorkers, func(w string) bool { return w == addr }) {
			usedWorkers = append(usedWorkers, addr)
		}
		taskMsg := wire.TaskMsg{
			Session: session,
			Db:      stmt.From[0].Db,
			ChunkID: int64(frag.ChunkID),
			User:    "qserv",
			Fragments: []wire.Fragment{
				{Queries: frag.SQLStrings, ResultTable: frag.ResultTable},
			},
		}
		job := ex.AddJob(stmt.From[0].Db, frag.ChunkID, 0, taskMsg.Marshal())

		wg.Add(1)
		go func(ex *dispatch.Executive, job *dispatch.Job, addr string) {
			defer wg.Done()
			if err := ex.Run(r.Context(), job); err != nil {
				s.log.Errorw("fragment dispatch failed", "chunkId", job.Key.ChunkID, "worker", addr, "err", err)
			}
		}(ex, job, addr)
	}
	s.log.Infow("dispatched query", "session", session, "fragments", len(plan.Fragments), "workers", usedWorkers)
	wg.Wait()

	table, err := m.Finalize(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(queryResponse{Table: table, Rows: m.FinalRowCount()})
}

// executiveFor returns the (lazily created, cached) Executive dispatching
// to the worker that owns chunkID, per the C2 node-placement rule.
func (s *czarServer) executiveFor(chunkID int, requester dispatch.ResponseRequester) (*dispatch.Executive, string) {
	node := partition.ChunkToNode(chunkID, len(s.workerAddrs), false)
	addr := s.workerAddrs[node]

	if s.fleet != nil && !s.fleet.IsHealthy(addr) {
		s.log.Warnw("dispatching to a worker not currently reporting healthy", "worker", addr, "chunkId", chunkID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.executives[addr]
	if !ok {
		ex = dispatch.NewExecutive(dispatch.NewWSTransport(addr), requester)
		s.executives[addr] = ex
	}
	return ex, addr
}

// sanitizeTableName strips characters MySQL identifiers disallow from a
// UUID-derived table name.
func sanitizeTableName(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '-' {
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

func loadCSS(cfg config.CzarConfig) (css.KV, error) {
	if cfg.CSSSnapshotFile != "" {
		f, err := os.Open(cfg.CSSSnapshotFile)
		if err != nil {
			return nil, fmt.Errorf("czar: open css snapshot: %w", err)
		}
		defer f.Close()
		return css.LoadSnapshot(f)
	}
	if len(cfg.CSSZKServers) == 0 {
		return nil, fmt.Errorf("czar: neither CZAR_CSS_SNAPSHOT nor CZAR_CSS_ZK_SERVERS set")
	}
	return css.DialZK(cfg.CSSZKServers, 10*time.Second)
}

func main() {
	cfg := config.LoadCzarConfig()
	if len(cfg.WorkerAddrs) == 0 {
		fmt.Fprintln(os.Stderr, "czar: WORKER_ADDRS must name at least one worker")
		os.Exit(1)
	}

	log, err := logging.New(logging.ComponentCzar, os.Getenv("LOG_LEVEL"), os.Getenv("ENV") == "production")
	if err != nil {
		fmt.Fprintf(os.Stderr, "czar: logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	kv, err := loadCSS(cfg)
	if err != nil {
		log.Fatalw("css", "err", err)
	}
	facade, err := css.NewFacade(kv, cfg.CSSVersion)
	if err != nil {
		log.Fatalw("css facade", "err", err)
	}

	db, err := sql.Open("mysql", cfg.CoordMySQLDSN)
	if err != nil {
		log.Fatalw("open coordinator mysql", "err", err)
	}
	defer db.Close()

	workerFleet := fleet.NewRegistry(cfg.WorkerAddrs)
	monitor := fleet.NewMonitor(workerFleet, 5*time.Second)
	monitor.OnUnhealthy(func(addr string) { log.Warnw("worker became unhealthy", "worker", addr) })
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go monitor.Run(monitorCtx)

	srv := &czarServer{
		log:         log,
		facade:      facade,
		backend:     merger.NewMySQLBackend(db),
		workerAddrs: cfg.WorkerAddrs,
		fleet:       workerFleet,
		executives:  make(map[string]*dispatch.Executive),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/workers", srv.handleWorkers)
	mux.HandleFunc("/query", srv.handleQuery)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infow("listening", "addr", cfg.ListenAddr, "workers", cfg.WorkerAddrs)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("listen", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Errorw("shutdown", "err", err)
	}
	log.Infow("czar stopped")
}
