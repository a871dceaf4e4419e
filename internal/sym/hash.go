package sym

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Symbol hashes are exposed as two-part strings "prefix:suffix". The prefix
// alone is a human-friendly short form; the suffix disambiguates exact
// lookups. Both parts are slices of one digest, so the full id remains a
// pure function of the symbol's structural content.
const (
	prefixLen = 8
	suffixLen = 16
)

// selfToken replaces occurrences of the symbol's own name when computing
// the duplicate-cluster key, so a pure rename lands in the same cluster.
const selfToken = "@self"

// ComputeHash derives the content-addressed identity of a symbol from its
// normalized structural content: kind, name, collapsed signature, and body
// token sequence. Identical content in different files or repositories
// yields the same hash. A rename changes the hash; duplicate detection is
// served by ComputeClusterKey instead, which is rename-insensitive.
func ComputeHash(kind Kind, name, signature string, bodyTokens []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "kind:%s\n", kind)
	fmt.Fprintf(h, "name:%s\n", name)
	fmt.Fprintf(h, "sig:%s\n", collapseSpace(signature))
	fmt.Fprintf(h, "body:%s\n", strings.Join(bodyTokens, "\x1f"))
	sum := fmt.Sprintf("%x", h.Sum(nil))
	return sum[:prefixLen] + ":" + sum[prefixLen:prefixLen+suffixLen]
}

// ComputeClusterKey derives the structural duplicate-cluster key: the same
// digest inputs as ComputeHash, but with every occurrence of the symbol's
// own name replaced by a placeholder. Two symbols whose normalized bodies
// differ only in name share a cluster key.
func ComputeClusterKey(kind Kind, name, signature string, bodyTokens []string) string {
	masked := make([]string, len(bodyTokens))
	for i, tok := range bodyTokens {
		if tok == name {
			masked[i] = selfToken
		} else {
			masked[i] = tok
		}
	}
	sig := strings.ReplaceAll(collapseSpace(signature), name, selfToken)

	h := sha256.New()
	fmt.Fprintf(h, "kind:%s\n", kind)
	fmt.Fprintf(h, "sig:%s\n", sig)
	fmt.Fprintf(h, "body:%s\n", strings.Join(masked, "\x1f"))
	return fmt.Sprintf("%x", h.Sum(nil))[:suffixLen]
}

// ShortHash returns the display prefix of a two-part hash.
func ShortHash(hash string) string {
	if i := strings.IndexByte(hash, ':'); i >= 0 {
		return hash[:i]
	}
	return hash
}

// MatchesHash reports whether a query string identifies the given full
// hash: either the exact two-part form or the bare prefix.
func MatchesHash(query, hash string) bool {
	if query == hash {
		return true
	}
	return query == ShortHash(hash)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
