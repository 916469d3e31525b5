package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-orchestrator/internal/audit"
	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
)

// auditChanSize is the buffer size for the async command audit channel.
// Entries beyond this are dropped so a slow database never holds up a reply.
const auditChanSize = 256

// auditCommand enqueues a record of a command and the device's reply.
// If the channel is full the entry is dropped and a warning is logged.
func (s *Server) auditCommand(r *http.Request, device, command string, res protocol.Result) {
	if s.audit == nil || s.auditCh == nil {
		return
	}

	requestID, _ := r.Context().Value(ctxKeyRequestID).(string)
	entry := &audit.Entry{
		Device:    device,
		Command:   command,
		Result:    res.String(),
		RequestID: requestID,
		Source:    "api",
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("command audit channel full, dropping entry",
			"device", device,
			"command", command,
		)
	}
}

// drainAuditLog writes queued entries one at a time until ctx is cancelled,
// then flushes whatever is still queued.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAudit(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAudit(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAudit(entry *audit.Entry) {
	if err := s.audit.Create(context.Background(), entry); err != nil {
		s.logger.Error("command audit write failed",
			"device", entry.Device,
			"command", entry.Command,
			"error", err,
		)
	}
}

// handleListAudit returns recorded commands, newest first.
//
// Query parameters:
//   - device: only commands sent to this device
//   - result: only commands answered with this result (NoError, InvalidState, ...)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "command audit unavailable")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Device: q.Get("device"),
		Result: q.Get("result"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list command audit", "error", err)
		writeInternalError(w, "failed to list command audit")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
