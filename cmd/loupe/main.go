package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"loupe"
	"loupe/internal/config"
	"loupe/internal/daemon"
	"loupe/internal/export"
	"loupe/internal/logging"
)

var (
	flagRepo      string
	flagFormat    string
	flagLogLevel  string
	flagLogFormat string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "loupe",
	Short:         "Deterministic, scope-aware semantic code indexing",
	Long:          "Loupe indexes source code with tree-sitter, resolves calls across files, and answers structural queries from an incremental on-disk index.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
	// No Run — prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRepo, "repo", "", "repository root (default: nearest .git ancestor of the working directory)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format: text|json")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(daemonCmd)
}

var (
	flagForce     bool
	flagLanguages string
	flagWorkers   int
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a repository",
	Long:  "Discovers source files, extracts symbols and references from changed files, and updates the on-disk index under .loupe/.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "discard the index and rebuild from scratch")
	indexCmd.Flags().StringVar(&flagLanguages, "languages", "", "comma-separated language filter (e.g. go,python)")
	indexCmd.Flags().IntVar(&flagWorkers, "workers", 0, "extraction worker count (default: NumCPU)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	root, err := resolveRepoRoot(args)
	if err != nil {
		return err
	}
	engine, err := openEngine(root)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	var stats *loupe.IndexStats
	if flagForce {
		stats, err = engine.Rebuild(ctx)
	} else {
		stats, err = engine.IndexAll(ctx)
	}
	if err != nil {
		return outputError("index", err)
	}

	fmt.Fprintf(os.Stderr, "Indexed %s in %s (%d indexed, %d skipped, %d removed, version %d)\n",
		root, stats.Duration.Round(time.Millisecond),
		stats.Indexed, stats.Skipped, stats.Removed, stats.Version)
	return nil
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [path...]",
	Short: "Risk-classify changed files",
	Long:  "Reindexes the given files (default: uncommitted changes from git status) and reports their symbols with risk levels.",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRepoRoot(nil)
		if err != nil {
			return err
		}
		engine, err := openEngine(root)
		if err != nil {
			return err
		}
		report, err := engine.Analyze(cmd.Context(), args)
		if err != nil {
			return outputError("analyze", err)
		}
		return outputResult(CLIResult{Command: "analyze", Results: report})
	},
}

var flagExportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the index to SQLite",
	Long:  "Writes the current snapshot to a SQLite database for SQL-based tooling.",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRepoRoot(nil)
		if err != nil {
			return err
		}
		engine, err := openEngine(root)
		if err != nil {
			return err
		}
		out := flagExportOut
		if out == "" {
			out = filepath.Join(root, loupe.CacheDirName, "index.db")
		}
		if err := export.ToSQLite(engine.Snapshot(), out); err != nil {
			return outputError("export", err)
		}
		fmt.Fprintf(os.Stderr, "Exported version %d to %s\n", engine.Version(), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&flagExportOut, "out", "", "output database path (default: .loupe/index.db)")
}

var (
	flagAddr  string
	flagRepos []string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Serve the index over WebSocket",
	Long:  "Registers repositories, watches them for changes, and serves queries and index_updated notifications over WebSocket.",
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (default: $LOUPE_ADDR or :7819)")
	daemonCmd.Flags().StringArrayVar(&flagRepos, "repo-dir", nil, "repository to register, as name=path (repeatable)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	log := logging.New(
		firstNonEmpty(flagLogLevel, cfg.LogLevel),
		firstNonEmpty(flagLogFormat, cfg.LogFormat),
	)
	addr := firstNonEmpty(flagAddr, cfg.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []loupe.Option
	opts = append(opts, loupe.WithLogger(log))
	if cfg.Workers > 0 {
		opts = append(opts, loupe.WithWorkers(cfg.Workers))
	}
	if cfg.CacheSize > 0 {
		opts = append(opts, loupe.WithCacheSize(cfg.CacheSize))
	}

	reg := daemon.NewRegistry(log)
	repos := flagRepos
	if len(repos) == 0 {
		root, err := resolveRepoRoot(nil)
		if err != nil {
			return err
		}
		repos = []string{filepath.Base(root) + "=" + root}
	}
	for _, spec := range repos {
		name, path, ok := strings.Cut(spec, "=")
		if !ok {
			return fmt.Errorf("bad --repo-dir %q: want name=path", spec)
		}
		if _, err := reg.Add(ctx, name, path, opts...); err != nil {
			return err
		}
	}

	return daemon.NewServer(reg, log).ListenAndServe(ctx, addr)
}

// resolveRepoRoot picks the repository root: the --repo flag, an explicit
// argument, or the nearest .git ancestor of the working directory.
func resolveRepoRoot(args []string) (string, error) {
	if flagRepo != "" {
		return absDir(flagRepo)
	}
	if len(args) > 0 {
		return absDir(args[0])
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}
	return findRepoRoot(cwd), nil
}

func absDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// openEngine opens the engine with shared flag handling.
func openEngine(root string) (*loupe.Engine, error) {
	var opts []loupe.Option
	if flagLanguages != "" {
		langs := strings.Split(flagLanguages, ",")
		for i := range langs {
			langs[i] = strings.TrimSpace(langs[i])
		}
		opts = append(opts, loupe.WithLanguages(langs...))
	}
	if flagWorkers > 0 {
		opts = append(opts, loupe.WithWorkers(flagWorkers))
	}
	if flagLogLevel != "" || flagLogFormat != "" {
		opts = append(opts, loupe.WithLogger(logging.New(
			firstNonEmpty(flagLogLevel, "info"),
			firstNonEmpty(flagLogFormat, "text"),
		)))
	}
	engine, err := loupe.Open(root, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening engine: %w", err)
	}
	return engine, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
