package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/vanguard/pkg/failover"
	"github.com/cuemby/vanguard/pkg/types"
)

// requestTimeout bounds how long a node-action handler waits for the
// failover executor to finish the pipeline before responding 202
// instead of the transition's final outcome.
const requestTimeout = 10 * time.Second

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		var body struct{ Username, Password string }
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "expected Basic auth or a {username,password} body")
			return
		}
		user, pass = body.Username, body.Password
	}
	if !checkBasicCredentials(s.deps.Config.AdminUsername, s.deps.Config.AdminPasswordHash, user, pass) {
		writeUnauthorized(w)
		return
	}
	token, err := issueToken(s.jwtSecret, user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"generation": s.deps.Table.Generation(),
		"nodes":      s.deps.Table.Snapshot(),
	}
	if s.deps.Coordinator != nil {
		resp["watchdog"] = s.watchdogStatus()
	}
	writeJSON(w, http.StatusOK, resp)
}

type nodeView struct {
	types.BackendNode
	Status types.BackendStatus `json:"status"`
}

func (s *Server) nodeViews() []nodeView {
	snapshot := s.deps.Table.Snapshot()
	views := make([]nodeView, 0, len(s.deps.Nodes))
	for _, n := range s.deps.Nodes {
		views = append(views, nodeView{BackendNode: n, Status: snapshot[n.ID]})
	}
	return views
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.nodeViews())
}

func (s *Server) lookupNode(id int) (types.BackendNode, bool) {
	for _, n := range s.deps.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return types.BackendNode{}, false
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "node id must be an integer")
		return
	}
	node, ok := s.lookupNode(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no node with id %d", id))
		return
	}
	status, _ := s.deps.Table.Get(id)
	writeJSON(w, http.StatusOK, nodeView{BackendNode: node, Status: status})
}

// handleNodeAction dispatches spec §5's POST /nodes/{id}/{attach,detach,
// promote,recovery}. attach/detach/recovery map directly onto the
// existing failback/degenerate/recovery request kinds; promote submits
// a RequestPromote naming the target node, which the failover executor
// resolves into the two ordered status-table transitions spec §4.1
// requires — old primary down first, then the target up as the new
// primary — and runs follow_primary_command against the result.
func (s *Server) handleNodeAction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "node id must be an integer")
		return
	}
	target, ok := s.lookupNode(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no node with id %d", id))
		return
	}

	action := chi.URLParam(r, "action")
	principal := principalFrom(r.Context())

	var req types.PendingRequest
	switch action {
	case "attach":
		req = failover.NewRequest(types.RequestFailback, id, "admin_attach by "+principal)
	case "detach":
		req = failover.NewRequest(types.RequestDegenerate, id, "admin_detach by "+principal)
	case "recovery":
		req = failover.NewRequest(types.RequestRecovery, id, "admin_recovery by "+principal)
	case "promote":
		if primary, ok := s.currentPrimary(); ok && primary.ID == target.ID {
			writeError(w, http.StatusConflict, "already_primary", fmt.Sprintf("node %d is already primary", id))
			return
		}
		req = failover.NewRequest(types.RequestPromote, target.ID, "admin_promote by "+principal)
	default:
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown node action %q", action))
		return
	}

	s.submitAndRespond(w, r, req)
}

// currentPrimary resolves the primary from the mutable status table,
// which a prior promote may have moved away from the statically
// configured node; it falls back to the static config for a row the
// table never seeded a role for.
func (s *Server) currentPrimary() (types.BackendNode, bool) {
	if id, ok := s.deps.Table.PrimaryNodeID(); ok {
		if n, ok := s.lookupNode(id); ok {
			return n, true
		}
	}
	for _, n := range s.deps.Nodes {
		if n.Role == types.RolePrimary {
			return n, true
		}
	}
	return types.BackendNode{}, false
}

// submitAndRespond enqueues req on the failover executor and waits up to
// requestTimeout for its pipeline to finish, responding with the result
// or 202 Accepted if it is still running when the timeout elapses.
func (s *Server) submitAndRespond(w http.ResponseWriter, r *http.Request, req types.PendingRequest) {
	result := make(chan error, 1)
	req.ResultCh = result
	s.deps.Executor.Submit(req)

	select {
	case err := <-result:
		if err != nil {
			writeError(w, http.StatusConflict, "request_failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "applied", "node": strconv.Itoa(req.NodeID), "kind": string(req.Kind)})
	case <-time.After(requestTimeout):
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending", "node": strconv.Itoa(req.NodeID), "kind": string(req.Kind)})
	case <-r.Context().Done():
	}
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"count": s.deps.Sessions.Count(),
		"ids":   s.deps.Sessions.IDs(),
	})
}

func (s *Server) handleHealthStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Stats.Snapshot())
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	switch action {
	case "stop":
		if s.deps.Shutdown == nil {
			writeError(w, http.StatusNotImplemented, "not_supported", "shutdown hook not configured")
			return
		}
		go s.deps.Shutdown()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
	case "reload":
		if s.deps.Reload == nil {
			writeError(w, http.StatusNotImplemented, "not_supported", "reload hook not configured")
			return
		}
		if err := s.deps.Reload(); err != nil {
			// spec §7's config_invalid rule: a bad reload keeps the old
			// config and is reported, not fatal.
			writeError(w, http.StatusBadRequest, "config_invalid", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
	case "logrotate":
		if s.deps.LogRotate == nil {
			writeError(w, http.StatusNotImplemented, "not_supported", "logrotate hook not configured")
			return
		}
		if err := s.deps.LogRotate(); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "rotated"})
	default:
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown control action %q", action))
	}
}

// handleCacheInvalidate implements POST /cache/invalidate by running the
// same "sync workers" step the failover pipeline uses (spec §4.7 step
// 5): every live session is told to drop its cached pool slots at its
// next idle point.
func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	s.deps.Sessions.InvalidateAll("admin requested cache invalidation")
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (s *Server) watchdogStatus() map[string]any {
	c := s.deps.Coordinator
	lastIndex, appliedIndex := c.Stats()
	status := map[string]any{
		"is_leader":      c.IsLeader(),
		"leader_address": c.LeaderAddr(),
		"has_quorum":     c.HasQuorum(),
		"last_index":     lastIndex,
		"applied_index":  appliedIndex,
	}
	if servers, err := c.Servers(); err == nil {
		members := make([]map[string]string, 0, len(servers))
		for _, srv := range servers {
			members = append(members, map[string]string{
				"id":       string(srv.ID),
				"address":  string(srv.Address),
				"suffrage": srv.Suffrage.String(),
			})
		}
		status["members"] = members
	}
	return status
}

func (s *Server) handleWatchdogInfo(w http.ResponseWriter, r *http.Request) {
	if s.deps.Coordinator == nil {
		writeError(w, http.StatusNotFound, "watchdog_disabled", "watchdog clustering is not enabled on this node")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"priority":  s.deps.Config.WDPriority,
		"bind_addr": s.deps.Config.WDBindAddr,
	})
}

func (s *Server) handleWatchdogStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Coordinator == nil {
		writeError(w, http.StatusNotFound, "watchdog_disabled", "watchdog clustering is not enabled on this node")
		return
	}
	writeJSON(w, http.StatusOK, s.watchdogStatus())
}

// handleWatchdogStart always reports 501: hashicorp/raft offers no safe
// way to re-bootstrap an *raft.Raft after Shutdown within the same
// process, so a stopped watchdog node can only be restarted by
// restarting the process (an Open Question in SPEC_FULL.md §9, resolved
// this way).
func (s *Server) handleWatchdogStart(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "not_supported", "watchdog cannot be restarted in-process; restart vanguard instead")
}

func (s *Server) handleWatchdogStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Coordinator == nil {
		writeError(w, http.StatusNotFound, "watchdog_disabled", "watchdog clustering is not enabled on this node")
		return
	}
	if err := s.deps.Coordinator.Shutdown(); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
