// Package api is the HTTP shim over the controller: JSON endpoints for
// operators and scripts, plus Prometheus metrics.
package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/server"
)

type Handler struct {
	ctrl   *server.Controller
	logger *zap.Logger
}

type machineBody struct {
	ID        string `json:"id"`
	Type      string `json:"type,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

// NewHTTPHandler returns the shim's routes.
func NewHTTPHandler(ctrl *server.Controller, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{ctrl: ctrl, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", h.handlePing)
	mux.HandleFunc("/status", h.handleStatus)
	mux.HandleFunc("/machines", h.handleMachines)
	mux.HandleFunc("/machine", h.handleMachine)
	mux.HandleFunc("/machine/register", h.post(h.handleRegister))
	mux.HandleFunc("/machine/start", h.post(h.transition(ctrl.RequestStart)))
	mux.HandleFunc("/machine/stop", h.post(h.transition(ctrl.RequestStop)))
	mux.HandleFunc("/machine/repair", h.post(h.transition(ctrl.NotifyRepair)))
	mux.HandleFunc("/machine/maintain", h.post(h.transition(ctrl.NotifyMaintenance)))
	mux.HandleFunc("/storage/alert", h.post(h.handleAlert))
	mux.HandleFunc("/needs", h.handleNeeds)
	mux.HandleFunc("/stations", h.handleStations)

	mux.HandleFunc("/chaos/fail", h.post(h.handleChaosFail))

	RegisterMetrics(mux)
	return mux
}

func (h *Handler) post(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			h.writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}
		next(w, r)
	}
}

func (h *Handler) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"msg": "pong from factory controller"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(h.ctrl.GetSystemStatus()))
}

func (h *Handler) handleMachines(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Machines())
}

func (h *Handler) handleMachine(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "id required")
		return
	}
	m, err := h.ctrl.Machine(id)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "machine not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body machineBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if body.ID == "" || body.Type == "" {
		h.writeError(w, http.StatusBadRequest, "id and type required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": h.ctrl.RegisterMachine(body.ID, body.Type)})
}

// transition answers {"ok": bool, "status": ...}. A refused transition is a
// normal answer, not an HTTP error.
func (h *Handler) transition(fn func(id string) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body machineBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		if body.ID == "" {
			h.writeError(w, http.StatusBadRequest, "id required")
			return
		}
		ok := fn(body.ID)
		writeJSON(w, http.StatusOK, map[string]any{
			"id":     body.ID,
			"ok":     ok,
			"status": h.ctrl.GetMachineStatus(body.ID),
		})
	}
}

func (h *Handler) handleAlert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type  string `json:"type"`
		Level *int   `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if body.Type == "" || body.Level == nil {
		h.writeError(w, http.StatusBadRequest, "type and level required")
		return
	}
	h.ctrl.NotifyStorageAlert(body.Type, *body.Level)
	writeJSON(w, http.StatusOK, map[string]any{"type": body.Type, "level": *body.Level})
}

func (h *Handler) handleNeeds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Needs())
}

func (h *Handler) handleStations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Stations())
}

// handleChaosFail injects a failure as if the machine had reported it.
func (h *Handler) handleChaosFail(w http.ResponseWriter, r *http.Request) {
	var body machineBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.ID == "" {
		h.writeError(w, http.StatusBadRequest, "id required")
		return
	}
	if body.ErrorType == "" {
		body.ErrorType = "CHAOS"
	}
	reply := h.ctrl.NotifyFailure(body.ID, body.ErrorType)
	h.logger.Warn("chaos failure injected", zap.String("machine", body.ID), zap.String("reply", reply))
	writeJSON(w, http.StatusOK, map[string]string{"id": body.ID, "reply": reply})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
	h.logger.Debug("http error", zap.Int("status", status), zap.String("msg", msg))
}
