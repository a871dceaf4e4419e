// Package loupe provides deterministic, scope-aware semantic indexing
// built on tree-sitter. It extracts symbols, scopes, and references from
// Go, Python, JavaScript, and TypeScript sources, resolves calls across
// files, and maintains an incremental on-disk index per repository.
//
// # Pipeline
//
// Indexing runs in three phases:
//
//  1. Prepare (serial): detect languages, hash content, and skip files
//     whose content hash already matches the index.
//  2. Extract (parallel): parse changed files with tree-sitter, normalize
//     definitions, scopes, references, and imports, then resolve
//     references through the scope chain into weighted call edges.
//  3. Commit (copy-on-write): fold the per-file results into a clone of
//     the snapshot, persist it under .loupe/ with checksummed shards,
//     and publish it in one swap so readers keep a frozen view.
//
// Cross-file edges are a deterministic join of each file's external
// references against the global qualified-name table. An incremental
// pass recomputes only the contributions of affected files, so any
// sequence of updates converges on the same index a full rebuild
// produces.
//
// # Usage
//
// Open an Engine rooted at a repository, index it, and query:
//
//	e, err := loupe.Open("path/to/repo")
//	if err != nil { ... }
//
//	ctx := context.Background()
//	stats, err := e.IndexAll(ctx)
//
//	q := e.Query()
//	hits := q.Search("handleRequest", 10)
//	graph, err := q.CallGraph(hits[0].Hash, loupe.CallGraphOptions{MaxDepth: 3})
//
// # Query API
//
// The [QueryBuilder] returned by [Engine.Query] provides:
//
//   - [QueryBuilder.Symbol] — look up one symbol by hash, hash prefix, or
//     qualified name.
//   - [QueryBuilder.Search] — ranked substring search over symbol names.
//   - [QueryBuilder.Callers] / [QueryBuilder.Callees] — direct call edges.
//   - [QueryBuilder.CallGraph] — transitive BFS in either direction.
//   - [QueryBuilder.Source] — read a symbol's text back from disk.
//   - [QueryBuilder.Context] — a symbol with callers, callees, and file
//     siblings in one call.
//   - [QueryBuilder.Overview] — index-wide counts by language, kind, and
//     risk.
//   - [QueryBuilder.Duplicates] — clusters of structurally identical
//     functions under different names.
//
// # Symbol identity
//
// A symbol's hash covers its kind, name, collapsed signature, and body
// token sequence, so formatting and comment churn never change identity
// while any semantic edit does. Hashes render as prefix:suffix; query
// operations accept unambiguous prefixes.
//
// # Daemon
//
// The internal/daemon package serves the same operations over a
// WebSocket protocol, watching registered repositories for changes and
// pushing index_updated notifications to subscribers.
package loupe
