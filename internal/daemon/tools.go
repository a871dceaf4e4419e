package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"loupe"
)

// queryParams is the union of parameters across dispatch methods; each
// method validates the fields it needs.
type queryParams struct {
	Query    string   `json:"query,omitempty"`
	Term     string   `json:"term,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	MaxDepth int      `json:"max_depth,omitempty"`
	Reverse  bool     `json:"reverse,omitempty"`
	Summary  bool     `json:"summary,omitempty"`
	Paths    []string `json:"paths,omitempty"`
}

// dispatchError pairs a protocol error code with its message.
type dispatchError struct {
	code string
	msg  string
}

func (e *dispatchError) Error() string { return e.msg }

func invalidf(format string, args ...any) error {
	return &dispatchError{code: CodeInvalidArgument, msg: fmt.Sprintf(format, args...)}
}

// dispatch routes one query to the repo's engine. The method names are
// the daemon's public tool surface.
func dispatch(ctx context.Context, repo *Repo, method string, raw json.RawMessage) (any, error) {
	var p queryParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, invalidf("bad params: %v", err)
		}
	}
	q := repo.Engine().Query()

	switch method {
	case "search":
		if p.Term == "" {
			return nil, invalidf("search requires term")
		}
		limit := p.Limit
		if limit <= 0 {
			limit = 20
		}
		return q.Search(p.Term, limit), nil

	case "get_symbol":
		if p.Query == "" {
			return nil, invalidf("get_symbol requires query")
		}
		return mapLookupErr(q.Symbol(p.Query))

	case "get_source":
		if p.Query == "" {
			return nil, invalidf("get_source requires query")
		}
		return mapLookupErr(q.Source(p.Query))

	case "get_callers":
		if p.Query == "" {
			return nil, invalidf("get_callers requires query")
		}
		return mapLookupErr(q.Callers(p.Query))

	case "get_callgraph":
		if p.Query == "" {
			return nil, invalidf("get_callgraph requires query")
		}
		depth := p.MaxDepth
		if depth <= 0 {
			depth = 3
		}
		dir := loupe.DirCallees
		if p.Reverse {
			dir = loupe.DirCallers
		}
		return mapLookupErr(q.CallGraph(p.Query, loupe.CallGraphOptions{
			Direction: dir,
			MaxDepth:  depth,
			Summary:   p.Summary,
		}))

	case "get_context":
		if p.Query == "" {
			return nil, invalidf("get_context requires query")
		}
		return mapLookupErr(q.Context(p.Query))

	case "analyze":
		return repo.Analyze(ctx, p.Paths)

	case "overview":
		return q.Overview(), nil

	default:
		return nil, invalidf("unsupported method: %s", method)
	}
}

// mapLookupErr translates engine lookup failures into protocol codes.
func mapLookupErr[T any](v T, err error) (any, error) {
	if err == nil {
		return v, nil
	}
	var amb *loupe.AmbiguousError
	switch {
	case errors.Is(err, loupe.ErrSymbolNotFound):
		return nil, &dispatchError{code: CodeNotFound, msg: err.Error()}
	case errors.As(err, &amb):
		return nil, &dispatchError{code: CodeAmbiguous, msg: err.Error()}
	default:
		return nil, err
	}
}
