package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/nerrad567/devicelink-core/internal/command"
)

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "command id must be a positive integer")
		return
	}

	cmd, err := s.deps.Commands.Get(r.Context(), id)
	if errors.Is(err, command.ErrCommandNotFound) {
		writeNotFound(w, "command not found")
		return
	}
	if err != nil {
		s.logger.Error("loading command", "command_id", id, "error", err)
		writeInternalError(w, "failed to load command")
		return
	}

	writeJSON(w, http.StatusOK, cmd)
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	page, err := s.deps.Commands.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing commands", "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// parseFilter reads device_pk, status, source, limit and offset. Limit
// clamping is left to the log store.
func parseFilter(q url.Values) (command.Filter, error) {
	var f command.Filter

	if v := q.Get("device_pk"); v != "" {
		pk, err := strconv.ParseInt(v, 10, 64)
		if err != nil || pk <= 0 {
			return f, fmt.Errorf("device_pk must be a positive integer")
		}
		f.DevicePK = pk
	}
	if v := q.Get("status"); v != "" {
		f.Status = command.Status(v)
		if !f.Status.Valid() {
			return f, fmt.Errorf("unknown status %q", v)
		}
	}
	if v := q.Get("source"); v != "" {
		f.Source = command.Source(v)
		if !f.Source.Valid() {
			return f, fmt.Errorf("unknown source %q", v)
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}
