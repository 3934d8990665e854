package config

import (
	"log"
	"os"
	"strings"
)

// logFatal is a var so tests can intercept a missing required env var
// instead of exiting the test process.
var logFatal = log.Fatalf

// CzarConfig is the czar/coordinator process's own small set of
// addressing knobs: getenv with a default for optional values,
// mustGetenv for values that have none.
type CzarConfig struct {
	ListenAddr  string
	WorkerAddrs []string

	// CSSSnapshotFile, when set, loads the in-memory CSS back end from
	// a tab-separated snapshot file. Otherwise CSSZKServers must name
	// at least one ZooKeeper ensemble member.
	CSSSnapshotFile string
	CSSZKServers    []string
	CSSVersion      string

	// CoordMySQLDSN addresses the local MySQL engine the merger loads
	// merged rows into and runs the coordinator merge query against.
	CoordMySQLDSN string
}

// LoadCzarConfig reads the czar's process configuration from the
// environment.
func LoadCzarConfig() CzarConfig {
	return CzarConfig{
		ListenAddr:      getenv("CZAR_LISTEN", ":8080"),
		WorkerAddrs:     splitNonEmpty(getenv("WORKER_ADDRS", "")),
		CSSSnapshotFile: getenv("CZAR_CSS_SNAPSHOT", ""),
		CSSZKServers:    splitNonEmpty(getenv("CZAR_CSS_ZK_SERVERS", "")),
		CSSVersion:      getenv("CZAR_CSS_VERSION", "1"),
		CoordMySQLDSN:   getenv("CZAR_MYSQL_DSN", "root@unix(/tmp/mysql.sock)/qservResult"),
	}
}

// WorkerProcessConfig is the handful of worker process knobs that are
// always environment-sourced regardless of the viper-backed
// WorkerConfig in worker.go: its node id, the address it listens on,
// and the czar's address.
type WorkerProcessConfig struct {
	NodeID    string
	Listen    string
	CoordAddr string
}

// LoadWorkerProcessConfig reads the worker process's addressing
// knobs, terminating via logFatal if a required variable is unset.
func LoadWorkerProcessConfig() WorkerProcessConfig {
	return WorkerProcessConfig{
		NodeID:    mustGetenv("NODE_ID"),
		Listen:    getenv("NODE_LISTEN", ":8081"),
		CoordAddr: mustGetenv("CZAR_ADDR"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustGetenv(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	logFatal("missing env %s", k)
	return ""
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
