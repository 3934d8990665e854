// Command admin is the administrative CLI surface: register,
// unregister, show, and export a worker's on-disk chunk export tree.
//
// Every subcommand takes an authFile (a one-line file holding the
// go-sql-driver/mysql DSN used to discover a database's chunk tables on
// the local engine) and a uniqueId (the worker identity that scopes the
// export tree root, ADMIN_EXPORT_ROOT/<uniqueId> by default).
package main

import (
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	_ "github.com/go-sql-driver/mysql"

	"github.com/dreamware/qserv-go/internal/export"
)

const defaultExportRoot = "/export"

// baseChunkTable matches a physical chunk table name like "Object_1234".
// Overlap variants ("Object_1234_56Overlap") never match it; sub-chunk
// variants ("Object_1234_56") do, with a prefix that itself matches, and
// matchChunkTable rejects those. The export tree does not track them
// per-row — only whole-chunk presence matters for the export tree's
// marker files.
var baseChunkTable = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)_([0-9]+)$`)

func readDSN(authFile string) (string, error) {
	b, err := os.ReadFile(authFile)
	if err != nil {
		return "", fmt.Errorf("admin: read auth file: %w", err)
	}
	dsn := strings.TrimSpace(string(b))
	if dsn == "" {
		return "", fmt.Errorf("admin: auth file %s is empty", authFile)
	}
	return dsn, nil
}

func exportRootFor(uniqueID string) string {
	root := os.Getenv("ADMIN_EXPORT_ROOT")
	if root == "" {
		root = defaultExportRoot
	}
	return root + "/" + uniqueID
}

// discoverChunkPaths lists every base chunk table for db (restricted to
// the given table prefixes when non-empty) and returns the export
// marker path for each distinct chunk id found.
func discoverChunkPaths(db *sql.DB, baseDir, dbName string, tables []string) ([]string, error) {
	rows, err := db.Query(
		"SELECT table_name FROM information_schema.tables WHERE table_schema = ?", dbName,
	)
	if err != nil {
		return nil, fmt.Errorf("admin: list tables: %w", err)
	}
	defer rows.Close()

	wanted := make(map[string]bool, len(tables))
	for _, t := range tables {
		wanted[t] = true
	}

	seenChunks := make(map[int64]bool)
	var paths []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		chunkID, ok := matchChunkTable(name, wanted)
		if !ok || seenChunks[chunkID] {
			continue
		}
		seenChunks[chunkID] = true
		paths = append(paths, export.ChunkPath(baseDir, dbName, chunkID))
	}
	return paths, rows.Err()
}

// matchChunkTable reports whether name is a base chunk table (not a
// sub-chunk or overlap variant) and, when wanted is non-empty, whether
// its table prefix is one of the requested names.
func matchChunkTable(name string, wanted map[string]bool) (int64, bool) {
	m := baseChunkTable.FindStringSubmatch(name)
	if m == nil || baseChunkTable.MatchString(m[1]) {
		return 0, false
	}
	if len(wanted) > 0 && !wanted[m[1]] {
		return 0, false
	}
	chunkID, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, false
	}
	return chunkID, true
}

func runRegister(authFile, uniqueID, dbName string, tables []string) error {
	dsn, err := readDSN(authFile)
	if err != nil {
		return err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("admin: open mysql: %w", err)
	}
	defer db.Close()

	baseDir := exportRootFor(uniqueID)
	paths, err := discoverChunkPaths(db, baseDir, dbName, tables)
	if err != nil {
		return err
	}
	ps := export.New()
	ps.Insert(paths)
	if err := ps.Register(); err != nil {
		return err
	}
	fmt.Printf("registered %d chunk(s) for %s under %s\n", len(paths), dbName, baseDir)
	return nil
}

func runUnregister(uniqueID, dbName string) error {
	dbDir := exportRootFor(uniqueID) + "/" + dbName
	if err := export.Unregister(dbDir); err != nil {
		return err
	}
	fmt.Printf("unregistered %s\n", dbDir)
	return nil
}

// runShow lists every database directory registered under uniqueId's
// export root.
func runShow(uniqueID string) error {
	root := exportRootFor(uniqueID)
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		fmt.Printf("%s: no databases registered\n", root)
		return nil
	}
	if err != nil {
		return fmt.Errorf("admin: list %s: %w", root, err)
	}
	found := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		fmt.Printf("%s: registered\n", e.Name())
		found++
	}
	if found == 0 {
		fmt.Printf("%s: no databases registered\n", root)
	}
	return nil
}

func runExport(authFile, uniqueID, baseDir string, dbNames []string) error {
	dsn, err := readDSN(authFile)
	if err != nil {
		return err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("admin: open mysql: %w", err)
	}
	defer db.Close()

	for _, dbName := range dbNames {
		paths, err := discoverChunkPaths(db, baseDir, dbName, nil)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d chunk(s) would export under %s\n", dbName, len(paths), baseDir)
		for _, p := range paths {
			fmt.Println("  " + p)
		}
	}
	return nil
}

// exitCode maps an admin command's error to the process exit code:
// 0 for success, 2 for export.AlreadyRegisteredError, and 1 for any
// other error. No other error is given a code of its own; an errno
// carried by an underlying error is not passed through.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var already export.AlreadyRegisteredError
	if ok := asAlreadyRegistered(err, &already); ok {
		return 2
	}
	return 1
}

func asAlreadyRegistered(err error, target *export.AlreadyRegisteredError) bool {
	for e := err; e != nil; {
		if ar, ok := e.(export.AlreadyRegisteredError); ok {
			*target = ar
			return true
		}
		unwrapper, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = unwrapper.Unwrap()
	}
	return false
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "admin",
		Short: "manage a worker's chunk export tree",
	}

	root.AddCommand(&cobra.Command{
		Use:   "register <authFile> <uniqueId> <db> [<table>...]",
		Short: "discover and register a database's chunk export tree",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			return runRegister(args[0], args[1], args[2], args[3:])
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "unregister <authFile> <uniqueId> <db>",
		Short: "remove a database's registered export tree",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			return runUnregister(args[1], args[2])
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "show <authFile> <uniqueId>",
		Short: "list the databases registered for a worker",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runShow(args[1])
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "export <authFile> <uniqueId> <baseDir> [<db>...]",
		Short: "preview the chunk tree a register would create",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			return runExport(args[0], args[1], args[2], args[3:])
		},
	})

	return root
}

func main() {
	root := newRootCmd()
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "admin:", err)
	}
	os.Exit(exitCode(err))
}
