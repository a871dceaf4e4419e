package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"loupe"
	"loupe/internal/sym"
)

// CLIResult is the JSON envelope every command emits.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results,omitempty"`
	Error   string `json:"error,omitempty"`
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so
// RunE can propagate it to Cobra. In JSON mode the error goes to stdout
// as a CLIResult envelope; in text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{Command: command, Error: err.Error()}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

// outputResultText dispatches to a text formatter based on result type.
func outputResultText(result CLIResult) error {
	w := io.Writer(os.Stdout)

	switch v := result.Results.(type) {
	case *sym.Symbol:
		formatSymbolsText(w, []*sym.Symbol{v})
	case []*sym.Symbol:
		formatSymbolsText(w, v)
	case []loupe.CallEdge:
		formatEdgesText(w, v)
	case *loupe.CallGraph:
		formatCallGraphText(w, v)
	case *loupe.Source:
		fmt.Fprintf(w, "%s:%d-%d\n%s\n", v.Path, v.StartLine, v.EndLine, v.Text)
	case *loupe.Overview:
		formatOverviewText(w, v)
	case [][]*sym.Symbol:
		for i, group := range v {
			if i > 0 {
				fmt.Fprintln(w)
			}
			formatSymbolsText(w, group)
		}
	case nil:
	default:
		// Shapes without a dedicated text form fall back to JSON.
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return nil
}

func formatSymbolsText(w io.Writer, syms []*sym.Symbol) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HASH\tNAME\tKIND\tRISK\tFILE\tLINE")
	for _, s := range syms {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			sym.ShortHash(s.Hash), s.QualifiedName, s.Kind, s.RiskLevel, s.File, s.StartLine)
	}
	tw.Flush()
}

func formatEdgesText(w io.Writer, edges []loupe.CallEdge) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CALLER\tCALLEE\tCOUNT")
	for _, e := range edges {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", e.Caller.QualifiedName, e.Callee.QualifiedName, e.Count)
	}
	tw.Flush()
}

func formatCallGraphText(w io.Writer, g *loupe.CallGraph) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEPTH\tSYMBOL\tRISK\tFILE")
	for _, n := range g.Nodes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n",
			n.Depth, n.Symbol.QualifiedName, n.Symbol.RiskLevel, n.Symbol.File)
	}
	tw.Flush()
	if g.Truncated {
		fmt.Fprintln(w, "\n(truncated at depth limit)")
	}
}

func formatOverviewText(w io.Writer, ov *loupe.Overview) {
	fmt.Fprintf(w, "Version: %d\n", ov.Version)
	fmt.Fprintf(w, "Files: %d  Symbols: %d  Edges: %d  Unresolved: %d\n",
		ov.Files, ov.Symbols, ov.Edges, ov.Unresolved)
	if len(ov.ByLanguage) > 0 {
		fmt.Fprintln(w, "Languages:")
		for _, l := range sortedKeys(ov.ByLanguage) {
			fmt.Fprintf(w, "  %s: %d files\n", l, ov.ByLanguage[l])
		}
	}
	if len(ov.ByRisk) > 0 {
		fmt.Fprintln(w, "Risk:")
		for _, r := range []string{"low", "medium", "high"} {
			if n, ok := ov.ByRisk[r]; ok {
				fmt.Fprintf(w, "  %s: %d\n", r, n)
			}
		}
	}
	if len(ov.ParseFails) > 0 {
		fmt.Fprintf(w, "Parse failures: %s\n", strings.Join(ov.ParseFails, ", "))
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var validFormats = []string{"json", "text"}

func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
