package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-orchestrator/internal/history"
	"github.com/nerrad567/gray-logic-orchestrator/internal/lifecycle"
	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
	"github.com/nerrad567/gray-logic-orchestrator/internal/registry"
)

// maxNameLen bounds device names accepted in URLs.
const maxNameLen = 256

// CommandRequest is the body of POST /devices/{name}/commands.
type CommandRequest struct {
	Command string `json:"command"`
}

// CommandResponse reports a device's reply to a command.
type CommandResponse struct {
	Device  string          `json:"device"`
	Command string          `json:"command"`
	Result  protocol.Result `json:"result"`
	OK      bool            `json:"ok"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	name, ok := deviceName(w, r)
	if !ok {
		return
	}
	d, found := s.registry.Get(name)
	if !found {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, d.Status())
}

// handleDeviceCommand feeds one line of command text to a device and waits
// for its reply.
//
// Protocol results map onto HTTP status: parse failures are 400, refusals
// (InvalidState, LowQuality, ...) are 409, and a device that does not answer
// within the command timeout is 504.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	name, ok := deviceName(w, r)
	if !ok {
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	ctx := r.Context()
	if timeout := s.cfg.CommandTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := s.registry.Command(ctx, name, req.Command)
	switch {
	case errors.Is(err, registry.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
		return
	case errors.Is(err, lifecycle.ErrStopped):
		writeUnavailable(w, "device is shutting down")
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "device did not answer in time")
		return
	case err != nil:
		s.logger.Warn("device command failed", "device", name, "error", err)
		writeInternalError(w, "command failed")
		return
	}

	s.logger.Info("device command", "device", name, "command", req.Command, "result", res.String())
	s.auditCommand(r, name, req.Command, res)
	writeJSON(w, commandStatus(res), CommandResponse{
		Device:  name,
		Command: req.Command,
		Result:  res,
		OK:      res.OK(),
	})
}

func commandStatus(res protocol.Result) int {
	switch res {
	case protocol.NoError:
		return http.StatusOK
	case protocol.UnknownCommand, protocol.IncorrectParameterCount:
		return http.StatusBadRequest
	default:
		return http.StatusConflict
	}
}

func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	name, ok := deviceName(w, r)
	if !ok {
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if s.history == nil {
		writeUnavailable(w, "history unavailable")
		return
	}

	entries, err := s.history.List(r.Context(), name, limit)
	if err != nil {
		s.logger.Warn("history query failed", "device", name, "error", err)
		writeInternalError(w, "failed to load device history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device":  name,
		"history": entries,
		"count":   len(entries),
	})
}

// deviceName extracts and validates the {name} URL parameter, writing a 400
// when it is unusable.
func deviceName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "name")
	if name == "" || len(name) > maxNameLen {
		writeBadRequest(w, "invalid device name")
		return "", false
	}
	return name, true
}

// parseHistoryLimit reads ?limit=, defaulting and clamping it to the
// repository's bounds.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return history.DefaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > history.MaxLimit {
		n = history.MaxLimit
	}
	return n, nil
}
