package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tbdash/internal/thingsboard"
)

// Query defaults.
const (
	defaultPageSize      = thingsboard.DefaultPageSize
	defaultHistoryWindow = 24 * time.Hour
	maxRPCTimeout        = 5 * time.Minute
)

// handleListDevices lists one page of devices, or with ?type= the devices
// of that type on the first page.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if t := q.Get("type"); t != "" {
		devices, err := s.backend.ListDevicesByType(r.Context(), t)
		if err != nil {
			s.writeBackendError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	pageSize, err := intParam(q.Get("pageSize"), defaultPageSize)
	if err != nil {
		writeBadRequest(w, "pageSize must be an integer")
		return
	}
	page, err := intParam(q.Get("page"), 0)
	if err != nil {
		writeBadRequest(w, "page must be an integer")
		return
	}

	devices, err := s.backend.ListDevices(r.Context(), pageSize, page)
	if err != nil {
		s.writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := s.backend.DeviceByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// handleLatestTelemetry returns the latest values for ?keys=a,b.
func (s *Server) handleLatestTelemetry(w http.ResponseWriter, r *http.Request) {
	keys := splitKeys(r.URL.Query().Get("keys"))
	tel, err := s.backend.LatestTelemetry(r.Context(), chi.URLParam(r, "id"), keys)
	if err != nil {
		s.writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tel)
}

// handleHistory returns a chart-ready series for ?key= between ?start= and
// ?end= (epoch ms, default the last 24 hours), capped at ?limit= samples.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	id := chi.URLParam(r, "id")
	key := q.Get("key")

	now := time.Now()
	end, err := int64Param(q.Get("end"), now.UnixMilli())
	if err != nil {
		writeBadRequest(w, "end must be epoch milliseconds")
		return
	}
	start, err := int64Param(q.Get("start"), end-defaultHistoryWindow.Milliseconds())
	if err != nil {
		writeBadRequest(w, "start must be epoch milliseconds")
		return
	}
	limit, err := intParam(q.Get("limit"), thingsboard.DefaultHistoryLimit)
	if err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}

	samples, err := s.backend.HistoricalTelemetry(ctx, id, key, thingsboard.Range{StartTs: start, EndTs: end}, limit)
	if err != nil {
		s.writeBackendError(w, r, err)
		return
	}

	// The device name is decoration; a failed lookup only loses the label.
	name := thingsboard.UnknownDeviceName
	if device, derr := s.backend.DeviceByID(ctx, id); derr == nil && device.Name != "" {
		name = device.Name
	} else if thingsboard.IsAuthError(derr) {
		s.writeBackendError(w, r, derr)
		return
	}

	writeJSON(w, http.StatusOK, thingsboard.Series{
		DeviceID:   id,
		DeviceName: name,
		Key:        key,
		Points:     samples,
		Unit:       thingsboard.UnitForKey(key),
	})
}

// RPCRequest is the body of POST /devices/{id}/rpc.
type RPCRequest struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	TwoWay    bool            `json:"twoWay"`
	TimeoutMs int64           `json:"timeoutMs,omitempty"`
}

// handleRPC sends a one-way command (202) or a two-way call (200 with the
// device's reply).
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.TimeoutMs < 0 || req.TimeoutMs > maxRPCTimeout.Milliseconds() {
		writeBadRequest(w, "timeoutMs out of range")
		return
	}

	var params any
	if len(req.Params) > 0 {
		params = req.Params
	}
	id := chi.URLParam(r, "id")

	if !req.TwoWay {
		if err := s.backend.SendCommand(r.Context(), id, req.Method, params); err != nil {
			s.writeBackendError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"sent": true})
		return
	}

	reply, err := s.backend.SendRPC(r.Context(), id, req.Method, params, time.Duration(req.TimeoutMs)*time.Millisecond)
	if err != nil {
		s.writeBackendError(w, r, err)
		return
	}
	if len(reply) == 0 {
		reply = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, map[string]any{"response": reply})
}

// splitKeys parses a comma-separated key list, dropping blanks.
func splitKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func int64Param(raw string, def int64) (int64, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
