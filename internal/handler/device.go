package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"academy-attendance/internal/ingest"
	"academy-attendance/internal/model"
	"academy-attendance/internal/service"
)

const maxWebhookBytes = 1 << 20

type DeviceHandler struct {
	devices  *service.DeviceService
	pipeline *ingest.Pipeline
	logger   *slog.Logger
	now      func() time.Time
}

func NewDeviceHandler(devices *service.DeviceService, pipeline *ingest.Pipeline, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{devices: devices, pipeline: pipeline, logger: logger, now: time.Now}
}

// WebhookResponse tells a pushing device what happened to its capture.
type WebhookResponse struct {
	EventID   string            `json:"event_id,omitempty"`
	Status    model.EventStatus `json:"status"`
	PunchType model.PunchType   `json:"punch_type,omitempty"`
	PersonID  string            `json:"person_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// HandleWebhook ingests one pushed capture. State conflicts are still a
// successful delivery; unresolved captures are accepted for review and
// unparseable ones are refused with 422.
func (h *DeviceHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "err.bad_request", nil)
		return
	}

	ev, err := h.pipeline.HandlePush(r.Context(), r.Header.Get("X-Device-ID"), r.Header.Get("X-Device-Token"), body, h.now())
	if errors.Is(err, service.ErrDeviceUnauthorized) {
		writeError(w, r, http.StatusUnauthorized, "auth.err.invalid_token", nil)
		return
	}
	if err != nil {
		h.logger.Error("device webhook", "error", err)
		writeError(w, r, http.StatusInternalServerError, "err.internal", nil)
		return
	}

	resp := WebhookResponse{
		Status:    ev.Status,
		PunchType: ev.PunchType,
		PersonID:  ev.PersonID,
		Reason:    ev.Reason,
	}
	if !ev.ID.IsZero() {
		resp.EventID = ev.ID.Hex()
	}

	status := http.StatusOK
	switch ev.Status {
	case model.EventStatusUnresolved:
		status = http.StatusAccepted
	case model.EventStatusMalformed:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func (h *DeviceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	devices, err := h.devices.List(r.Context(), model.DeliveryModel(q.Get("delivery")), model.DeviceStatus(q.Get("status")))
	if err != nil {
		h.logger.Error("list devices", "error", err)
		writeError(w, r, http.StatusInternalServerError, "err.internal", nil)
		return
	}
	if devices == nil {
		devices = []*model.BiometricDevice{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (h *DeviceHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in service.DeviceInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, http.StatusBadRequest, "err.bad_request", nil)
		return
	}
	d, err := h.devices.Register(r.Context(), in)
	if err != nil {
		h.writeDeviceError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *DeviceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deviceID(w, r)
	if !ok {
		return
	}
	d, err := h.devices.Get(r.Context(), id)
	if err != nil {
		h.writeDeviceError(w, r, id.Hex(), err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DeviceHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deviceID(w, r)
	if !ok {
		return
	}
	var in service.DeviceInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, http.StatusBadRequest, "err.bad_request", nil)
		return
	}
	d, err := h.devices.Update(r.Context(), id, in)
	if err != nil {
		h.writeDeviceError(w, r, id.Hex(), err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DeviceHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deviceID(w, r)
	if !ok {
		return
	}
	if err := h.devices.Delete(r.Context(), id); err != nil {
		h.writeDeviceError(w, r, id.Hex(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTest probes the device and reports whether it answered.
func (h *DeviceHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deviceID(w, r)
	if !ok {
		return
	}
	result, err := h.pipeline.Probe(r.Context(), id, h.now())
	if err != nil {
		h.writeDeviceError(w, r, id.Hex(), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *DeviceHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deviceID(w, r)
	if !ok {
		return
	}
	report, err := h.pipeline.SyncDevice(r.Context(), id, h.now())
	if err != nil && report != nil {
		// The device could not be reached; the report says why.
		writeJSON(w, http.StatusBadGateway, report)
		return
	}
	if err != nil {
		h.writeDeviceError(w, r, id.Hex(), err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *DeviceHandler) HandleSyncAll(w http.ResponseWriter, r *http.Request) {
	reports, err := h.pipeline.SyncAll(r.Context(), h.now())
	if err != nil {
		h.logger.Error("sync all devices", "error", err)
		writeError(w, r, http.StatusInternalServerError, "err.internal", nil)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (h *DeviceHandler) HandleUnresolved(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.pipeline.Unresolved(r.Context(), limit)
	if err != nil {
		h.logger.Error("list unresolved events", "error", err)
		writeError(w, r, http.StatusInternalServerError, "err.internal", nil)
		return
	}
	if events == nil {
		events = []*model.RawAttendanceEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *DeviceHandler) deviceID(w http.ResponseWriter, r *http.Request) (bson.ObjectID, bool) {
	raw := r.PathValue("id")
	id, err := bson.ObjectIDFromHex(raw)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "device.err.not_found", map[string]any{"ID": raw})
		return bson.ObjectID{}, false
	}
	return id, true
}

func (h *DeviceHandler) writeDeviceError(w http.ResponseWriter, r *http.Request, id string, err error) {
	switch {
	case errors.Is(err, service.ErrDeviceNotFound):
		writeError(w, r, http.StatusNotFound, "device.err.not_found", map[string]any{"ID": id})
	case errors.Is(err, service.ErrDeviceExists):
		writeError(w, r, http.StatusConflict, "device.err.exists", nil)
	case errors.Is(err, service.ErrInvalidDevice):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "device.err.invalid"})
	case errors.Is(err, ingest.ErrNotPullDevice):
		writeError(w, r, http.StatusBadRequest, "device.err.not_pull", nil)
	default:
		h.logger.Error("device operation", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "err.internal", nil)
	}
}

// RegisterRoutes registers the webhook and the device management routes.
func (h *DeviceHandler) RegisterRoutes(mux *http.ServeMux, auth *Auth) {
	mux.HandleFunc("POST /api/devices/webhook", h.HandleWebhook)

	mux.Handle("GET /api/devices", auth.RequireAdmin(h.HandleList))
	mux.Handle("POST /api/devices", auth.RequireAdmin(h.HandleCreate))
	mux.Handle("POST /api/devices/sync", auth.RequireAdmin(h.HandleSyncAll))
	mux.Handle("GET /api/devices/events/unresolved", auth.RequireAdmin(h.HandleUnresolved))
	mux.Handle("GET /api/devices/{id}", auth.RequireAdmin(h.HandleGet))
	mux.Handle("PUT /api/devices/{id}", auth.RequireAdmin(h.HandleUpdate))
	mux.Handle("DELETE /api/devices/{id}", auth.RequireAdmin(h.HandleDelete))
	mux.Handle("POST /api/devices/{id}/test", auth.RequireAdmin(h.HandleTest))
	mux.Handle("POST /api/devices/{id}/sync", auth.RequireAdmin(h.HandleSync))
}
