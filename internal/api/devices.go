package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devicelink-core/internal/command"
	"github.com/nerrad567/devicelink-core/internal/device"
)

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	pk, ok := pathID(r, "pk")
	if !ok {
		writeBadRequest(w, "device pk must be a positive integer")
		return
	}

	d, err := s.deps.Devices.GetByPK(r.Context(), pk)
	if errors.Is(err, device.ErrDeviceNotFound) {
		writeNotFound(w, "device not found")
		return
	}
	if err != nil {
		s.logger.Error("loading device", "device_pk", pk, "error", err)
		writeInternalError(w, "failed to load device")
		return
	}

	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeviceConnection(w http.ResponseWriter, r *http.Request) {
	pk, ok := pathID(r, "pk")
	if !ok {
		writeBadRequest(w, "device pk must be a positive integer")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_pk": pk,
		"connected": s.deps.Commands.IsConnected(pk),
	})
}

// handleControl dispatches the request body as the control payload.
// An empty body sends {}.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	pk, ok := pathID(r, "pk")
	if !ok {
		writeBadRequest(w, "device pk must be a positive integer")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
		writeBadRequest(w, "failed to read request body")
		return
	}

	res, err := s.deps.Commands.Dispatch(r.Context(), command.Request{
		DevicePK: pk,
		Payload:  json.RawMessage(body),
		IssuedBy: userIDFromContext(r.Context()),
		Source:   command.SourceAPI,
	})
	switch {
	case errors.Is(err, command.ErrInvalidPayload):
		writeBadRequest(w, "request body must be valid JSON")
		return
	case errors.Is(err, command.ErrInvalidTarget):
		writeBadRequest(w, "device pk must be a positive integer")
		return
	case err != nil:
		s.logger.Error("dispatching control", "device_pk", pk, "error", err)
		writeInternalError(w, "failed to dispatch command")
		return
	}

	writeJSON(w, http.StatusAccepted, res)
}
