// Package router implements statement classification and backend
// selection from spec §4.5: a small keyword scanner over the leading
// token of a query's text, never a real SQL parser, feeding a weighted
// replica selector and an all-backends reply merger.
package router

import (
	"strings"

	"github.com/cuemby/vanguard/pkg/types"
)

// writeKeywords mark a statement as mutating ordinary table data (rule 1:
// once seen inside a transaction, every subsequent statement in that
// transaction routes primary_only).
var writeKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "TRUNCATE": true,
	"MERGE": true, "COPY": true,
}

// globalStateKeywords mutate server-global or session-global state and
// must be replayed on every backend (rule 2).
var globalStateKeywords = map[string]bool{
	"SET": true, "RESET": true, "PREPARE": true, "DEALLOCATE": true,
	"CREATE": true, "DROP": true, "ALTER": true, "LISTEN": true,
	"UNLISTEN": true, "LOCK": true,
}

// readKeywords are syntactically read-only statements eligible for
// replica routing under rule 3.
var readKeywords = map[string]bool{
	"SELECT": true, "SHOW": true,
}

// txBeginKeywords start a new explicit transaction.
var txBeginKeywords = map[string]bool{"BEGIN": true, "START": true}

// txEndKeywords close the current explicit transaction.
var txEndKeywords = map[string]bool{"COMMIT": true, "ROLLBACK": true, "END": true}

// Classify inspects query text and session state and returns the
// classification spec §4.5 describes, applying the four rules in order.
// Session transaction bookkeeping (TxDepth, TxHasWrite) is advisory only
// here; it is overridden by the authoritative ReadyForQuery status byte
// in pkg/session once the backend replies.
func Classify(queryText string, session *types.SessionState, statementLevelLB bool) types.StatementClass {
	keyword := leadingKeyword(queryText)

	switch {
	case txBeginKeywords[keyword]:
		session.TxDepth++
		return types.StatementClass{Routing: types.RoutePrimaryOnly}
	case txEndKeywords[keyword]:
		if session.TxDepth > 0 {
			session.TxDepth--
		}
		if session.TxDepth == 0 {
			session.TxHasWrite = false
			session.StickyNodeID = 0
		}
		return types.StatementClass{Routing: types.RoutePrimaryOnly}
	}

	// Rule 1: a write inside the current transaction pins primary_only for
	// the remainder of the transaction.
	if writeKeywords[keyword] {
		if session.InTransaction() {
			session.TxHasWrite = true
		}
		return types.StatementClass{Routing: types.RoutePrimaryOnly}
	}
	if session.InTransaction() && session.TxHasWrite {
		return types.StatementClass{Routing: types.RoutePrimaryOnly}
	}

	// Rule 2: global-state mutation, multicast with merge, never
	// row-returning so never downgraded.
	if globalStateKeywords[keyword] {
		return types.StatementClass{Routing: types.RouteAllBackends, MustMerge: true}
	}

	// Rule 3: syntactic read, outside a transaction or statement-level LB on.
	if isSyntacticRead(keyword, queryText) && (!session.InTransaction() || statementLevelLB) {
		return types.StatementClass{Routing: types.RouteAnyReplica}
	}

	// Rule 4: default.
	return types.StatementClass{Routing: types.RoutePrimaryOnly}
}

// isSyntacticRead reports whether keyword/queryText is a read the router
// is willing to send to a replica: SELECT/SHOW without a locking clause,
// or EXPLAIN without ANALYZE.
func isSyntacticRead(keyword, queryText string) bool {
	if readKeywords[keyword] {
		return isPlainRead(queryText)
	}
	if keyword == "EXPLAIN" {
		return !strings.Contains(strings.ToUpper(queryText), "ANALYZE")
	}
	return false
}

// isPlainRead rejects SELECT statements carrying a locking clause
// (FOR UPDATE / FOR SHARE), which must not be routed to a replica.
func isPlainRead(queryText string) bool {
	upper := strings.ToUpper(queryText)
	return !strings.Contains(upper, "FOR UPDATE") && !strings.Contains(upper, "FOR SHARE") &&
		!strings.Contains(upper, "FOR NO KEY UPDATE") && !strings.Contains(upper, "FOR KEY SHARE")
}

// leadingKeyword extracts the first whitespace-delimited token of a
// statement, upper-cased, skipping leading whitespace and "--" line
// comments (a leading /* */ block comment is not skipped). This
// is the entire "parser": spec §4.5's Non-goal rules out a real SQL
// parser, so classification only ever looks at the leading token.
func leadingKeyword(queryText string) string {
	trimmed := strings.TrimSpace(queryText)
	for strings.HasPrefix(trimmed, "--") {
		if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
			trimmed = strings.TrimSpace(trimmed[idx+1:])
		} else {
			return ""
		}
	}
	end := strings.IndexFunc(trimmed, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '('
	})
	if end < 0 {
		end = len(trimmed)
	}
	return strings.ToUpper(trimmed[:end])
}
