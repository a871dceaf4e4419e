package export

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loupe/internal/graph"
	"loupe/internal/index"
	"loupe/internal/sym"
)

func testSnapshot() *index.Snapshot {
	s := index.NewSnapshot()
	caller := &sym.Symbol{
		Hash: "aa11:caller0000000000", QualifiedName: "p.caller", Name: "caller",
		Kind: sym.KindFunction, Language: "go", RiskLevel: sym.RiskMedium,
	}
	helper := &sym.Symbol{
		Hash: "bb22:helper0000000000", QualifiedName: "p.helper", Name: "helper",
		Kind: sym.KindFunction, Language: "go", RiskLevel: sym.RiskLow,
	}
	s.Apply([]*graph.FileResult{
		{
			Path: "a.go", Language: "go", Module: "p", ContentHash: "h1",
			Symbols: []*sym.Symbol{caller}, SymbolHashes: []string{caller.Hash},
			IntraEdges:   map[graph.EdgeKey]int{},
			ExternalRefs: []graph.ExternalRef{{Caller: caller.Hash, Name: "p.helper", Count: 3}},
		},
		{
			Path: "b.go", Language: "go", Module: "p", ContentHash: "h2",
			Symbols: []*sym.Symbol{helper}, SymbolHashes: []string{helper.Hash},
			IntraEdges: map[graph.EdgeKey]int{},
		},
	}, nil)
	return s
}

func TestToSQLite(t *testing.T) {
	snap := testSnapshot()
	dbPath := filepath.Join(t.TempDir(), "index.db")
	require.NoError(t, ToSQLite(snap, dbPath))

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var version string
	require.NoError(t, db.QueryRow("SELECT value FROM meta WHERE key = 'version'").Scan(&version))
	assert.Equal(t, "1", version)

	var files, symbols, edges int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM files").Scan(&files))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM symbols").Scan(&symbols))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM call_edges").Scan(&edges))
	assert.Equal(t, 2, files)
	assert.Equal(t, 2, symbols)
	assert.Equal(t, 1, edges)

	var callee string
	var count int
	require.NoError(t, db.QueryRow(
		"SELECT callee, count FROM call_edges WHERE caller = ?",
		"aa11:caller0000000000",
	).Scan(&callee, &count))
	assert.Equal(t, "bb22:helper0000000000", callee)
	assert.Equal(t, 3, count)

	var risk string
	require.NoError(t, db.QueryRow(
		"SELECT risk_level FROM symbols WHERE qualified_name = 'p.caller'").Scan(&risk))
	assert.Equal(t, string(sym.RiskMedium), risk)
}

func TestToSQLite_ReplacesPreviousContents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")
	require.NoError(t, ToSQLite(testSnapshot(), dbPath))

	// Exporting a smaller snapshot over the same file must not leave
	// stale rows behind.
	small := index.NewSnapshot()
	lone := &sym.Symbol{
		Hash: "cc33:lone000000000000", QualifiedName: "q.lone", Name: "lone",
		Kind: sym.KindFunction, Language: "go", RiskLevel: sym.RiskLow,
	}
	small.Apply([]*graph.FileResult{{
		Path: "c.go", Language: "go", Module: "q", ContentHash: "h3",
		Symbols: []*sym.Symbol{lone}, SymbolHashes: []string{lone.Hash},
		IntraEdges: map[graph.EdgeKey]int{},
	}}, nil)
	require.NoError(t, ToSQLite(small, dbPath))

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var symbols int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM symbols").Scan(&symbols))
	assert.Equal(t, 1, symbols)

	var name string
	require.NoError(t, db.QueryRow("SELECT name FROM symbols").Scan(&name))
	assert.Equal(t, "lone", name)
}
