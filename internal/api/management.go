package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iotdm-agent/internal/dm"
)

// ManageRequest is the body of POST /api/v1/manage. Omitted fields fall
// back to the management section of the configuration.
type ManageRequest struct {
	Lifetime        *int  `json:"lifetime,omitempty"`
	DeviceActions   *bool `json:"deviceActions,omitempty"`
	FirmwareActions *bool `json:"firmwareActions,omitempty"`
}

// LocationRequest is the body of PUT /api/v1/location.
type LocationRequest struct {
	Latitude   *float64  `json:"latitude"`
	Longitude  *float64  `json:"longitude"`
	Elevation  float64   `json:"elevation"`
	Accuracy   float64   `json:"accuracy"`
	MeasuredAt time.Time `json:"measuredAt,omitzero"`
}

// ErrorCodeRequest is the body of POST /api/v1/diag/errors.
type ErrorCodeRequest struct {
	Code *int `json:"code"`
}

// LogRequest is the body of POST /api/v1/diag/logs.
type LogRequest struct {
	Message  string `json:"message"`
	Data     string `json:"data,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// ResultResponse reports the platform's answer to a management request.
type ResultResponse struct {
	ReqID   string `json:"reqId"`
	RC      int    `json:"rc"`
	Message string `json:"message,omitempty"`
}

func parseSeverity(s string) (dm.LogSeverity, bool) {
	switch s {
	case "", "info":
		return dm.SeverityInfo, true
	case "warning", "warn":
		return dm.SeverityWarning, true
	case "error":
		return dm.SeverityError, true
	default:
		return 0, false
	}
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// opContext bounds a management call so its answer is written before the
// server's write timeout.
func (s *Server) opContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.opBudget)
}

// respond writes the outcome of a management request.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, resp dm.Response, err error) {
	if err != nil {
		s.logger.Warn("management request failed",
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeEngineError(w, resp, err)
		return
	}
	writeJSON(w, http.StatusOK, ResultResponse{
		ReqID:   resp.ReqID,
		RC:      int(resp.Code),
		Message: resp.Message,
	})
}

func (s *Server) handleManage(w http.ResponseWriter, r *http.Request) {
	var req ManageRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	lifetime := s.management.Lifetime
	if req.Lifetime != nil {
		lifetime = *req.Lifetime
	}
	deviceActions := s.management.DeviceActions
	if req.DeviceActions != nil {
		deviceActions = *req.DeviceActions
	}
	firmwareActions := s.management.FirmwareActions
	if req.FirmwareActions != nil {
		firmwareActions = *req.FirmwareActions
	}

	ctx, cancel := s.opContext(r)
	defer cancel()
	resp, err := s.engine.Manage(ctx, lifetime, deviceActions, firmwareActions)
	s.respond(w, r, resp, err)
}

func (s *Server) handleUnmanage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.opContext(r)
	defer cancel()
	resp, err := s.engine.Unmanage(ctx)
	s.respond(w, r, resp, err)
}

func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req LocationRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeBadRequest(w, "latitude and longitude are required")
		return
	}

	ctx, cancel := s.opContext(r)
	defer cancel()
	resp, err := s.engine.UpdateLocation(ctx, dm.UpdateLocation{
		Latitude:   *req.Latitude,
		Longitude:  *req.Longitude,
		Elevation:  req.Elevation,
		Accuracy:   req.Accuracy,
		MeasuredAt: req.MeasuredAt,
	})
	s.respond(w, r, resp, err)
}

func (s *Server) handleAddErrorCode(w http.ResponseWriter, r *http.Request) {
	var req ErrorCodeRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Code == nil {
		writeBadRequest(w, "code is required")
		return
	}

	ctx, cancel := s.opContext(r)
	defer cancel()
	resp, err := s.engine.AddErrorCode(ctx, *req.Code)
	s.respond(w, r, resp, err)
}

func (s *Server) handleClearErrorCodes(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.opContext(r)
	defer cancel()
	resp, err := s.engine.ClearErrorCodes(ctx)
	s.respond(w, r, resp, err)
}

func (s *Server) handleAddLog(w http.ResponseWriter, r *http.Request) {
	var req LogRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Message == "" {
		writeBadRequest(w, "message is required")
		return
	}
	severity, ok := parseSeverity(req.Severity)
	if !ok {
		writeBadRequest(w, "severity must be info, warning or error")
		return
	}

	ctx, cancel := s.opContext(r)
	defer cancel()
	resp, err := s.engine.AddLog(ctx, req.Message, req.Data, severity)
	s.respond(w, r, resp, err)
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.opContext(r)
	defer cancel()
	resp, err := s.engine.ClearLogs(ctx)
	s.respond(w, r, resp, err)
}

// handlePublishEvent publishes the raw request body as an application event.
// The format segment is taken from ?format=, defaulting to json.
func (s *Server) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	event := chi.URLParam(r, "event")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading body: "+err.Error())
		return
	}

	ctx, cancel := s.opContext(r)
	defer cancel()
	if err := s.engine.PublishEvent(ctx, event, format, payload); err != nil {
		s.respond(w, r, dm.Response{}, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
