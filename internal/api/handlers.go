package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/cmstate/cmstate/internal/engine"
	"github.com/cmstate/cmstate/internal/hadoop"
	"github.com/cmstate/cmstate/internal/reconcile"
	"github.com/cmstate/cmstate/internal/ws"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.engine.Status(r.Context())
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, statuses)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	infos := []ServiceInfo{}
	for _, kind := range hadoop.Configured(s.engine.Config) {
		info := ServiceInfo{
			Kind:    kind.Name(),
			Type:    kind.Type(),
			Service: kind.ServiceName(),
		}
		if placement, err := kind.Placement(); err == nil {
			for _, a := range placement {
				info.Placement = append(info.Placement, PlacementInfo{RoleType: a.Type, Hosts: a.Hosts})
			}
		}
		infos = append(infos, info)
	}
	jsonResponse(w, http.StatusOK, infos)
}

func (s *Server) handleEnsure(w http.ResponseWriter, r *http.Request) {
	var req EnsureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	desired, err := reconcile.ParseState(req.State)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := hadoop.ForConfig(req.Service, s.engine.Config); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	// Dry runs are quick and read-only, so they answer inline.
	if req.DryRun {
		res, err := s.engine.Ensure(r.Context(), req.Service, desired, engine.EnsureOptions{DryRun: true})
		if err != nil {
			if errors.Is(err, engine.ErrBusy) {
				errorResponse(w, http.StatusConflict, err.Error())
				return
			}
			errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		jsonResponse(w, http.StatusOK, res)
		return
	}

	if kind, busy := s.engine.Running(); busy {
		errorResponse(w, http.StatusConflict, fmt.Sprintf("a %s reconciliation is already running", kind))
		return
	}

	runID := uuid.NewString()
	opts := engine.EnsureOptions{RunID: runID}
	if s.hub != nil {
		opts.Notifier = s.hub.Notifier(runID)
		s.hub.BroadcastRunStarted(ws.RunEvent{RunID: runID, Kind: req.Service, Desired: req.State})
	}

	// The run outlives the request; progress streams over the hub.
	go func() {
		res, err := s.engine.Ensure(context.Background(), req.Service, desired, opts)
		if err != nil {
			s.logger.Error("ensure failed", "kind", req.Service, "run", runID, "error", err)
		}
		s.broadcastFinished(runID, req.Service, req.State, res, err)
	}()

	jsonResponse(w, http.StatusAccepted, RunAccepted{Status: "accepted", RunID: runID})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req RestartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := hadoop.ForConfig(req.Service, s.engine.Config); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if kind, busy := s.engine.Running(); busy {
		errorResponse(w, http.StatusConflict, fmt.Sprintf("a %s reconciliation is already running", kind))
		return
	}

	runID := uuid.NewString()
	if s.hub != nil {
		s.hub.BroadcastRunStarted(ws.RunEvent{RunID: runID, Kind: req.Service, Desired: "restart"})
	}

	go func() {
		res, err := s.engine.Restart(context.Background(), req.Service)
		if err != nil {
			s.logger.Error("restart failed", "kind", req.Service, "run", runID, "error", err)
		}
		s.broadcastFinished(runID, req.Service, "restart", res, err)
	}()

	jsonResponse(w, http.StatusAccepted, RunAccepted{Status: "accepted", RunID: runID})
}

func (s *Server) broadcastFinished(runID, kind, desired string, res *reconcile.Result, err error) {
	if s.hub == nil {
		return
	}
	ev := ws.RunEvent{RunID: runID, Kind: kind, Desired: desired, Result: res}
	if err != nil {
		ev.Error = err.Error()
	}
	s.hub.BroadcastRunFinished(ev)
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	checks := s.engine.Preflight(r.Context())
	jsonResponse(w, http.StatusOK, PreflightResponse{
		AllPassed: engine.AllPassed(checks),
		Checks:    checks,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.History()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, st)
}
