package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"loupe"
)

var (
	flagLimit   int
	flagDepth   int
	flagReverse bool
	flagSummary bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the semantic index",
	Long:  "Run queries against an indexed repository. Symbols are addressed by hash, unambiguous hash prefix, or qualified name.",
}

func init() {
	queryCmd.AddCommand(overviewCmd)
	queryCmd.AddCommand(symbolCmd)
	queryCmd.AddCommand(callersCmd)
	queryCmd.AddCommand(calleesCmd)
	queryCmd.AddCommand(callgraphCmd)
	queryCmd.AddCommand(sourceCmd)
	queryCmd.AddCommand(contextCmd)
	queryCmd.AddCommand(duplicatesCmd)
	queryCmd.AddCommand(fileCmd)
}

// queryBuilder opens the engine for the current repo and returns its
// query builder.
func queryBuilder() (*loupe.QueryBuilder, error) {
	root, err := resolveRepoRoot(nil)
	if err != nil {
		return nil, err
	}
	engine, err := openEngine(root)
	if err != nil {
		return nil, err
	}
	return engine.Query(), nil
}

var overviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Index-wide statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queryBuilder()
		if err != nil {
			return err
		}
		return outputResult(CLIResult{Command: "overview", Results: q.Overview()})
	},
}

var symbolCmd = &cobra.Command{
	Use:   "symbol <hash|name>",
	Short: "Look up one symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queryBuilder()
		if err != nil {
			return err
		}
		s, err := q.Symbol(args[0])
		if err != nil {
			return outputError("symbol", err)
		}
		return outputResult(CLIResult{Command: "symbol", Results: s})
	},
}

var callersCmd = &cobra.Command{
	Use:   "callers <hash|name>",
	Short: "Who calls this symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queryBuilder()
		if err != nil {
			return err
		}
		edges, err := q.Callers(args[0])
		if err != nil {
			return outputError("callers", err)
		}
		return outputResult(CLIResult{Command: "callers", Results: edges})
	},
}

var calleesCmd = &cobra.Command{
	Use:   "callees <hash|name>",
	Short: "What this symbol calls",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queryBuilder()
		if err != nil {
			return err
		}
		edges, err := q.Callees(args[0])
		if err != nil {
			return outputError("callees", err)
		}
		return outputResult(CLIResult{Command: "callees", Results: edges})
	},
}

var callgraphCmd = &cobra.Command{
	Use:   "callgraph <hash|name>",
	Short: "Transitive call graph from a symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queryBuilder()
		if err != nil {
			return err
		}
		dir := loupe.DirCallees
		if flagReverse {
			dir = loupe.DirCallers
		}
		g, err := q.CallGraph(args[0], loupe.CallGraphOptions{
			Direction: dir,
			MaxDepth:  flagDepth,
			Summary:   flagSummary,
		})
		if err != nil {
			return outputError("callgraph", err)
		}
		return outputResult(CLIResult{Command: "callgraph", Results: g})
	},
}

func init() {
	callgraphCmd.Flags().IntVar(&flagDepth, "depth", 3, "maximum traversal depth")
	callgraphCmd.Flags().BoolVar(&flagReverse, "reverse", false, "walk callers instead of callees")
	callgraphCmd.Flags().BoolVar(&flagSummary, "summary", false, "omit edges, return nodes with depths only")
}

var sourceCmd = &cobra.Command{
	Use:   "source <hash|name>",
	Short: "Read a symbol's source text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queryBuilder()
		if err != nil {
			return err
		}
		src, err := q.Source(args[0])
		if err != nil {
			return outputError("source", err)
		}
		return outputResult(CLIResult{Command: "source", Results: src})
	},
}

var contextCmd = &cobra.Command{
	Use:   "context <hash|name>",
	Short: "A symbol with callers, callees, and file siblings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queryBuilder()
		if err != nil {
			return err
		}
		c, err := q.Context(args[0])
		if err != nil {
			return outputError("context", err)
		}
		return outputResult(CLIResult{Command: "context", Results: c})
	},
}

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Clusters of structurally identical functions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queryBuilder()
		if err != nil {
			return err
		}
		return outputResult(CLIResult{Command: "duplicates", Results: q.Duplicates()})
	},
}

var fileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Symbols owned by one file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queryBuilder()
		if err != nil {
			return err
		}
		symbols, err := q.FileSymbols(args[0])
		if err != nil {
			return outputError("file", err)
		}
		return outputResult(CLIResult{Command: "file", Results: symbols})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <term> [limit]",
	Short: "Search symbols by name",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queryBuilder()
		if err != nil {
			return err
		}
		limit := flagLimit
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return outputError("search", err)
			}
			limit = n
		}
		return outputResult(CLIResult{Command: "search", Results: q.Search(args[0], limit)})
	},
}

func init() {
	searchCmd.Flags().IntVar(&flagLimit, "limit", 20, "maximum results")
}
