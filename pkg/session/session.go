// Package session implements the per-frontend session worker from spec
// §4.4: one goroutine per accepted frontend connection, fanning out to a
// reader goroutine per socket (frontend plus every currently open backend)
// that deserialize protocol messages onto a buffered channel, while this
// goroutine itself is the dispatcher that owns all mutable session state
// (transaction depth, load-balance affinity, the cached pool slot) and is
// therefore never touched concurrently.
package session

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/cuemby/vanguard/pkg/backend"
	"github.com/cuemby/vanguard/pkg/pgproto"
	"github.com/cuemby/vanguard/pkg/pool"
	"github.com/cuemby/vanguard/pkg/router"
	"github.com/cuemby/vanguard/pkg/statustable"
	"github.com/cuemby/vanguard/pkg/types"
)

// frontendEvent is what the frontend reader goroutine posts to the
// dispatcher.
type frontendEvent struct {
	msg pgproto.Message
	err error
}

// backendEvent is what a backend reader goroutine posts to the
// dispatcher, tagged with the backend node that produced it and the pool
// slot generation it belongs to (so the dispatcher can discard events
// from a slot it has already discarded).
type backendEvent struct {
	nodeID int
	gen    uint64
	msg    pgproto.Message
	err    error
}

// Config holds everything a Session needs that is not per-connection
// state: the shared pool cache, the status table, the set of configured
// backends, and load-balance policy.
type Config struct {
	Nodes            []types.BackendNode
	Table            *statustable.Table
	Cache            *pool.Cache
	StatementLevelLB bool
	LagOK            func(nodeID int) bool // nil => always true
}

// Session is one frontend connection's worker. It is created after the
// frontend has completed startup/auth (pkg/pgproto, driven by the
// supervisor) and implements the loop from spec §4.4.
type Session struct {
	id   string
	conn net.Conn
	rd   *bufio.Reader

	creds backend.Credentials
	key   pool.Key
	cfg   Config
	rnd   *rand.Rand

	state types.SessionState
	slot  *pool.Slot

	backendCh  chan backendEvent
	invalidate chan struct{}
	cancelReq  chan struct{}

	backendMu         sync.Mutex // never locked; no field is guarded by it
	readerWG          sync.WaitGroup
	currentGen        uint64
	pendingInvalidate bool
}

// New creates a session for an already-authenticated frontend connection.
func New(id string, conn net.Conn, creds backend.Credentials, protocolMajor uint32, cfg Config) *Session {
	return &Session{
		id:    id,
		conn:  conn,
		rd:    bufio.NewReader(conn),
		creds: creds,
		key:   pool.Key{User: creds.User, Database: creds.Database, ProtocolMajor: protocolMajor},
		cfg:   cfg,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano() + int64(len(id)))),
		state: types.SessionState{ID: id, User: creds.User, Database: creds.Database, StartedAt: time.Now()},

		backendCh:  make(chan backendEvent, 64),
		invalidate: make(chan struct{}, 1),
		cancelReq:  make(chan struct{}, 1),
	}
}

// Cancel implements the out-of-band cancel-channel handling from spec
// §4.5: it asks the dispatcher goroutine to issue a CancelRequest to
// whichever backend is currently the target of this session's active
// statement. Safe to call from another goroutine (the supervisor's
// cancel-connection handler).
func (s *Session) Cancel() {
	select {
	case s.cancelReq <- struct{}{}:
	default:
	}
}

// issueCancel opens a throwaway connection to the currently active
// backend and sends it a CancelRequest quoting the pid/secret that
// backend handed this session's slot at Open time — run only from the
// dispatcher goroutine so it never races with ensureSlot/closeSlot.
func (s *Session) issueCancel() {
	if s.slot == nil || s.state.StickyNodeID == 0 {
		return
	}
	b, ok := s.slot.Backends[s.state.StickyNodeID]
	if !ok {
		return
	}
	var node types.BackendNode
	for _, n := range s.cfg.Nodes {
		if n.ID == s.state.StickyNodeID {
			node = n
			break
		}
	}
	addr := fmt.Sprintf("%s:%d", node.Host, node.Port)
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return
	}
	defer conn.Close()
	_ = pgproto.WriteCancelRequest(conn, b.BackendPID, b.SecretKey)
}

// InvalidatePool implements failover.WorkerNotifier's per-session half:
// the Registry (notifier.go) calls this on every live session when the
// failover executor's "sync workers" step runs. The session does not
// terminate; per spec §4.7 it invalidates its cached pool slot so the
// next statement dials fresh against the post-failover backend set.
func (s *Session) InvalidatePool() {
	select {
	case s.invalidate <- struct{}{}:
	default:
	}
}

// Run drives the session until the frontend disconnects, the context is
// canceled, or a protocol error forces the session to close.
func (s *Session) Run(ctx context.Context) error {
	frontendCh := make(chan frontendEvent, 8)
	s.readerWG.Add(1)
	go s.readFrontend(frontendCh)
	defer s.readerWG.Wait()
	defer s.closeSlot()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.cancelReq:
			s.issueCancel()

		case <-s.invalidate:
			// Per spec §4.7 this only takes effect "at the next idle
			// point"; a session mid-transaction keeps its slot until the
			// next ReadyForQuery so an in-flight statement is not torn
			// out from under it.
			if s.state.TxDepth == 0 {
				s.closeSlot()
			} else {
				s.pendingInvalidate = true
			}

		case ev := <-frontendCh:
			if ev.err != nil {
				return ev.err
			}
			if err := s.handleFrontend(ctx, ev.msg); err != nil {
				return err
			}
			if ev.msg.Type == pgproto.TypeTerminate {
				return nil
			}

		case ev := <-s.backendCh:
			if ev.gen != s.currentGen {
				continue // stale reader from a discarded slot
			}
			if ev.err != nil {
				return s.handleBackendError(ev)
			}
			// Unsolicited backend traffic outside a request/response we
			// are actively collecting is forwarded straight through
			// (NoticeResponse, async NotificationResponse).
			if err := pgproto.WriteMessage(s.conn, ev.msg); err != nil {
				return err
			}
		}
	}
}

func (s *Session) readFrontend(out chan<- frontendEvent) {
	defer s.readerWG.Done()
	for {
		msg, err := pgproto.ReadMessage(s.rd)
		out <- frontendEvent{msg: msg, err: err}
		if err != nil {
			return
		}
	}
}

func (s *Session) readBackend(nodeID int, gen uint64, conn *backend.Slot, out chan<- backendEvent) {
	for {
		msg, err := conn.Recv()
		out <- backendEvent{nodeID: nodeID, gen: gen, msg: msg, err: err}
		if err != nil {
			return
		}
	}
}

func (s *Session) closeSlot() {
	s.currentGen++ // orphans any in-flight backend readers from the old slot
	s.slot = nil
}

func (s *Session) ensureSlot(ctx context.Context) (*pool.Slot, error) {
	if s.slot != nil {
		return s.slot, nil
	}
	slot, err := s.cfg.Cache.Lookup(ctx, s.key, s.creds)
	if err != nil {
		return nil, err
	}
	s.slot = slot
	s.currentGen++
	for nodeID, b := range slot.Backends {
		go s.readBackend(nodeID, s.currentGen, b, s.backendCh)
	}
	return slot, nil
}

// primaryNode resolves the backend currently serving as primary. The
// status table's role is authoritative once a promote has run; the
// static config is only a fallback for a table row that was never
// seeded (e.g. before cmd/vanguard wires SeedRoles in), so routing
// still works the instant a table is created.
func (s *Session) primaryNode() int {
	if s.cfg.Table != nil {
		if id, ok := s.cfg.Table.PrimaryNodeID(); ok {
			return id
		}
	}
	for _, n := range s.cfg.Nodes {
		if n.Role == types.RolePrimary {
			return n.ID
		}
	}
	return 0
}

func (s *Session) lagOK(nodeID int) bool {
	if s.cfg.LagOK == nil {
		return true
	}
	return s.cfg.LagOK(nodeID)
}

func (s *Session) replicaCandidates(slot *pool.Slot) []router.ReplicaCandidate {
	candidates := make([]router.ReplicaCandidate, 0, len(s.cfg.Nodes))
	for _, n := range s.cfg.Nodes {
		if _, open := slot.Backends[n.ID]; !open {
			continue
		}
		status, ok := s.cfg.Table.Get(n.ID)
		if !ok || !status.Up() {
			continue
		}
		role := status.Role
		if role == "" {
			role = n.Role
		}
		if role != types.RoleReplica {
			continue
		}
		weight := int(n.Weight * 100)
		if weight <= 0 {
			weight = 1
		}
		candidates = append(candidates, router.ReplicaCandidate{NodeID: n.ID, Weight: weight, LagOK: s.lagOK(n.ID)})
	}
	return candidates
}

// handleFrontend classifies and routes one frontend message, per spec
// §4.4 step 2: pass-through types go straight to whichever backend is
// already the target of the in-flight extended-query sequence, while
// router-bound types re-run classification.
func (s *Session) handleFrontend(ctx context.Context, msg pgproto.Message) error {
	switch msg.Type {
	case pgproto.TypeTerminate:
		return nil

	case pgproto.TypePasswordMessage, pgproto.TypeFlush:
		return s.forwardToTarget(msg)

	case pgproto.TypeQuery, pgproto.TypeParse, pgproto.TypeBind, pgproto.TypeExecute,
		pgproto.TypeDescribe, pgproto.TypeClose, pgproto.TypeSync, pgproto.TypeCopyData:
		return s.route(ctx, msg)

	default:
		return s.forwardToTarget(msg)
	}
}

// route implements spec §4.5: classify, pick a target (or target set),
// forward, and for the Sync that ends an extended-query message, await
// ReadyForQuery to update the authoritative transaction state.
func (s *Session) route(ctx context.Context, msg pgproto.Message) error {
	slot, err := s.ensureSlot(ctx)
	if err != nil {
		return s.sendError(fmt.Sprintf("no backend available: %v", err))
	}

	queryText := ""
	if msg.Type == pgproto.TypeQuery || msg.Type == pgproto.TypeParse {
		queryText = cString(msg.Body)
	}

	class := router.Classify(queryText, &s.state, s.cfg.StatementLevelLB)

	switch class.Routing {
	case types.RouteAllBackends:
		return s.forwardAllAndMerge(slot, msg)
	case types.RouteAnyReplica:
		candidates := s.replicaCandidates(slot)
		node, err := router.ResolveLoadBalanceNode(&s.state, candidates, s.cfg.StatementLevelLB, s.rnd)
		if err != nil {
			// No eligible replica: fall back to the primary rather than
			// failing the statement outright.
			s.state.StickyNodeID = s.primaryNode()
			return s.forwardTo(slot, s.primaryNode(), msg)
		}
		s.state.StickyNodeID = node
		return s.forwardTo(slot, node, msg)
	default: // RoutePrimaryOnly, RouteSpecificNode
		target := s.primaryNode()
		if class.Routing == types.RouteSpecificNode {
			target = class.TargetNode
		}
		s.state.StickyNodeID = target
		if err := s.forwardTo(slot, target, msg); err != nil {
			return err
		}
		if msg.Type == pgproto.TypeSync {
			return s.awaitReadyForQuery(target)
		}
		return nil
	}
}

func (s *Session) forwardToTarget(msg pgproto.Message) error {
	if s.slot == nil || s.state.StickyNodeID == 0 {
		return pgproto.WriteMessage(s.conn, msg) // nothing routed yet; nowhere to send
	}
	b, ok := s.slot.Backends[s.state.StickyNodeID]
	if !ok {
		return fmt.Errorf("session: sticky backend %d is no longer open", s.state.StickyNodeID)
	}
	return b.Send(msg)
}

func (s *Session) forwardTo(slot *pool.Slot, nodeID int, msg pgproto.Message) error {
	b, ok := slot.Backends[nodeID]
	if !ok {
		return fmt.Errorf("session: backend %d is not open in this pool slot", nodeID)
	}
	return b.Send(msg)
}

// forwardAllAndMerge implements the must_merge half of spec §4.5: send to
// every open backend, collect one CommandComplete/ErrorResponse from
// each, and forward the merged result.
func (s *Session) forwardAllAndMerge(slot *pool.Slot, msg pgproto.Message) error {
	for nodeID, b := range slot.Backends {
		if err := b.Send(msg); err != nil {
			return fmt.Errorf("session: forward to backend %d: %w", nodeID, err)
		}
	}

	replies := make(map[int]pgproto.Message, len(slot.Backends))
	for len(replies) < len(slot.Backends) {
		ev := <-s.backendCh
		if ev.gen != s.currentGen {
			continue
		}
		if ev.err != nil {
			return s.handleBackendError(ev)
		}
		if ev.msg.Type == pgproto.TypeCommandComplete || ev.msg.Type == pgproto.TypeErrorResponse {
			replies[ev.nodeID] = ev.msg
			continue
		}
		// Row descriptions/data rows are not expected for must_merge
		// statements (spec §4.5 says row-returning multicast is
		// downgraded before reaching here); anything else just forwards.
		if err := pgproto.WriteMessage(s.conn, ev.msg); err != nil {
			return err
		}
	}

	result := router.Merge(replies)
	for _, nodeID := range result.Failed {
		_ = nodeID // the implicit rollback happens naturally on that backend's next Sync
	}
	return pgproto.WriteMessage(s.conn, result.Forward)
}

// awaitReadyForQuery reads backend events until the target's
// ReadyForQuery arrives, forwarding everything along the way, and
// updates the authoritative transaction-depth bookkeeping from its
// status byte per spec §4.4.
func (s *Session) awaitReadyForQuery(nodeID int) error {
	for {
		ev := <-s.backendCh
		if ev.gen != s.currentGen {
			continue
		}
		if ev.err != nil {
			return s.handleBackendError(ev)
		}
		if err := pgproto.WriteMessage(s.conn, ev.msg); err != nil {
			return err
		}
		if ev.nodeID == nodeID && ev.msg.Type == pgproto.TypeReadyForQuery {
			s.applyReadyForQuery(ev.msg)
			return nil
		}
	}
}

// applyReadyForQuery reconciles the advisory tx_depth kept by the
// classifier against the authoritative status byte ('I' idle, 'T' in a
// transaction block, 'E' in a failed transaction block).
func (s *Session) applyReadyForQuery(msg pgproto.Message) {
	if len(msg.Body) == 0 {
		return
	}
	status := msg.Body[0]
	if status == 'I' {
		s.state.TxDepth = 0
		s.state.TxHasWrite = false
		s.state.StickyNodeID = 0
		if s.pendingInvalidate {
			s.closeSlot()
			s.pendingInvalidate = false
		}
	}
}

func (s *Session) handleBackendError(ev backendEvent) error {
	// A transport error mid-statement on the primary fails the session
	// (spec §4.5); on a replica selected under any_replica it could in
	// principle retry against the primary, but since the statement has
	// already been sent and may have partially executed, failing the
	// session is the safe default this implementation takes rather than
	// silently re-executing a read with unknown side effects.
	s.closeSlot()
	return fmt.Errorf("session: backend %d transport error: %w", ev.nodeID, ev.err)
}

func (s *Session) sendError(message string) error {
	body := pgproto.FormatErrorResponse(pgproto.BackendErrorResponse{
		Severity: "ERROR",
		Code:     "08006",
		Message:  message,
	})
	return pgproto.WriteMessage(s.conn, pgproto.Message{Type: pgproto.TypeErrorResponse, Body: body})
}

func cString(body []byte) string {
	for i, b := range body {
		if b == 0 {
			return string(body[:i])
		}
	}
	return string(body)
}
