package router

import (
	"bytes"

	"github.com/cuemby/vanguard/pkg/pgproto"
)

// MergeResult is the outcome of waiting for every multicast target's
// reply to an all_backends/must_merge statement, per spec §4.5.
type MergeResult struct {
	// Forward is the single message to relay to the frontend: either the
	// agreed CommandComplete or the first ErrorResponse seen.
	Forward pgproto.Message
	// Disagreed lists backend node ids whose reply differed from Forward
	// when all backends nominally succeeded but returned different bodies
	// (e.g. a CREATE TABLE IF NOT EXISTS racing a concurrent DDL). These
	// are surfaced to the caller for logging; the merger still forwards
	// one copy rather than failing the statement outright.
	Disagreed []int
	// Failed lists every backend node id whose reply was an ErrorResponse,
	// whether or not another backend succeeded.
	Failed []int
}

// Merge implements the reply-merger semantics from spec §4.5: wait for a
// CommandComplete or ErrorResponse from every target (already collected
// by the caller into replies, keyed by backend node id), compare them,
// and decide what single reply to forward.
func Merge(replies map[int]pgproto.Message) MergeResult {
	var result MergeResult
	var firstError *pgproto.Message
	var firstSuccessNode = -1
	var firstSuccess pgproto.Message

	for nodeID, msg := range replies {
		if msg.Type == pgproto.TypeErrorResponse {
			if firstError == nil {
				m := msg
				firstError = &m
			}
			result.Failed = append(result.Failed, nodeID)
			continue
		}
		if firstSuccessNode == -1 {
			firstSuccessNode = nodeID
			firstSuccess = msg
			continue
		}
		if !bytes.Equal(msg.Body, firstSuccess.Body) {
			result.Disagreed = append(result.Disagreed, nodeID)
		}
	}

	if len(result.Failed) > 0 {
		result.Forward = *firstError
		return result
	}
	result.Forward = firstSuccess
	return result
}
