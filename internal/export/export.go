// Package export writes a snapshot to a SQLite database for downstream
// tooling that wants SQL access rather than the live query API.
package export

import (
	"database/sql"
	"fmt"
	"sort"

	_ "github.com/mattn/go-sqlite3"

	"loupe/internal/index"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS meta (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
  path            TEXT PRIMARY KEY,
  language        TEXT NOT NULL,
  module          TEXT NOT NULL,
  content_hash    TEXT NOT NULL,
  parse_error     INTEGER NOT NULL DEFAULT 0,
  unresolved      INTEGER NOT NULL DEFAULT 0,
  version         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS symbols (
  hash            TEXT PRIMARY KEY,
  qualified_name  TEXT NOT NULL,
  name            TEXT NOT NULL,
  kind            TEXT NOT NULL,
  language        TEXT NOT NULL,
  file            TEXT NOT NULL,
  start_line      INTEGER,
  end_line        INTEGER,
  visibility      TEXT,
  risk_level      TEXT,
  cluster_key     TEXT,
  signature       TEXT
);

CREATE TABLE IF NOT EXISTS call_edges (
  caller          TEXT NOT NULL REFERENCES symbols(hash),
  callee          TEXT NOT NULL REFERENCES symbols(hash),
  count           INTEGER NOT NULL,
  PRIMARY KEY (caller, callee)
);

CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE INDEX IF NOT EXISTS idx_symbols_qualified ON symbols(qualified_name);
CREATE INDEX IF NOT EXISTS idx_edges_callee ON call_edges(callee);
`

// ToSQLite writes the snapshot to a SQLite database at dbPath, replacing
// any previous contents. The whole export runs in one transaction.
func ToSQLite(snap *index.Snapshot, dbPath string) error {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"call_edges", "symbols", "files", "meta"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if _, err := tx.Exec(
		"INSERT INTO meta (key, value) VALUES ('version', ?)",
		fmt.Sprintf("%d", snap.Version),
	); err != nil {
		return fmt.Errorf("insert meta: %w", err)
	}

	fileStmt, err := tx.Prepare(
		`INSERT INTO files (path, language, module, content_hash, parse_error, unresolved, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare files: %w", err)
	}
	defer fileStmt.Close()
	for _, path := range sortedKeys(snap.Files) {
		rec := snap.Files[path]
		if _, err := fileStmt.Exec(
			rec.Path, rec.Language, rec.Module, rec.ContentHash,
			boolInt(rec.ParseError), rec.Unresolved, rec.Version,
		); err != nil {
			return fmt.Errorf("insert file %s: %w", path, err)
		}
	}

	symStmt, err := tx.Prepare(
		`INSERT INTO symbols (hash, qualified_name, name, kind, language, file,
		                      start_line, end_line, visibility, risk_level, cluster_key, signature)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare symbols: %w", err)
	}
	defer symStmt.Close()
	for _, hash := range sortedKeys(snap.Symbols) {
		s := snap.Symbols[hash]
		if _, err := symStmt.Exec(
			s.Hash, s.QualifiedName, s.Name, string(s.Kind), s.Language, s.File,
			s.StartLine, s.EndLine, string(s.Visibility), string(s.RiskLevel),
			s.ClusterKey, s.Signature,
		); err != nil {
			return fmt.Errorf("insert symbol %s: %w", hash, err)
		}
	}

	edgeStmt, err := tx.Prepare(
		"INSERT INTO call_edges (caller, callee, count) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare edges: %w", err)
	}
	defer edgeStmt.Close()
	for k, n := range snap.Edges {
		// Only edges whose callee joined a known symbol land here; the
		// schema's foreign keys assume both endpoints exist.
		if _, ok := snap.Symbols[k.Caller]; !ok {
			continue
		}
		if _, ok := snap.Symbols[k.Callee]; !ok {
			continue
		}
		if _, err := edgeStmt.Exec(k.Caller, k.Callee, n); err != nil {
			return fmt.Errorf("insert edge %s -> %s: %w", k.Caller, k.Callee, err)
		}
	}

	return tx.Commit()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
