// Command migrate applies every migrations/*.sql file in lexical order,
// each in its own transaction. Statements are idempotent (CREATE TABLE IF
// NOT EXISTS), so re-running is safe.
package main

import (
	"database/sql"
	"flag"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/ignite/sendrelay/internal/pkg/logger"
)

func main() {
	dir := flag.String("dir", "migrations", "directory of .sql migration files")
	flag.Parse()

	log := logger.New(logger.INFO, "migrate")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	entries, err := os.ReadDir(*dir)
	if err != nil {
		log.Error("read migrations dir failed", "dir", *dir, "error", err)
		os.Exit(1)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	failed := 0
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(*dir, name))
		if err != nil {
			log.Error("read failed", "file", name, "error", err)
			os.Exit(1)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			log.Error("begin failed", "file", name, "error", err)
			failed++
			continue
		}
		if _, err := tx.Exec(string(data)); err != nil {
			tx.Rollback()
			log.Error("migration failed", "file", name, "error", err)
			failed++
			continue
		}
		if err := tx.Commit(); err != nil {
			log.Error("commit failed", "file", name, "error", err)
			failed++
			continue
		}
		log.Info("applied", "file", name)
	}

	if failed > 0 {
		log.Error("migrations finished with errors", "failed", failed)
		os.Exit(1)
	}
	log.Info("migrations complete", "applied", len(files))
}
