package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"academy-attendance/internal/i18n"
	"academy-attendance/internal/model"
	"academy-attendance/internal/punch"
	"academy-attendance/internal/service"
)

const maxPhotoBytes = 5 << 20

// PhotoStore keeps punch photos and hands back an opaque reference.
type PhotoStore interface {
	SavePhoto(ctx context.Context, personID, contentType string, data []byte) (string, error)
}

type AttendanceHandler struct {
	svc    *service.AttendanceService
	photos PhotoStore
	logger *slog.Logger
	now    func() time.Time
}

func NewAttendanceHandler(svc *service.AttendanceService, photos PhotoStore, logger *slog.Logger) *AttendanceHandler {
	return &AttendanceHandler{svc: svc, photos: photos, logger: logger, now: time.Now}
}

// PunchRequest is the JSON body of the manual punch endpoints. Multipart
// requests carry the same fields as form values plus a "photo" file.
type PunchRequest struct {
	PhotoBase64  string   `json:"photo_base64"`
	Verification string   `json:"verification"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Accuracy     *float64 `json:"accuracy"`
	Reason       string   `json:"reason"`
}

var (
	errInvalidPhoto    = errors.New("invalid photo")
	errInvalidLocation = errors.New("invalid location")
	errBadBody         = errors.New("bad request body")
)

// conflictMessages maps state conflicts to their localised message.
var conflictMessages = []struct {
	err error
	id  string
}{
	{punch.ErrAlreadyPunchedIn, "attendance.err.already_punched_in"},
	{punch.ErrAlreadyPunchedOut, "attendance.err.already_punched_out"},
	{punch.ErrNotPunchedInYet, "attendance.err.not_punched_in"},
	{punch.ErrAlreadyOnBreak, "attendance.err.already_on_break"},
	{punch.ErrNoActiveBreak, "attendance.err.no_active_break"},
	{punch.ErrBreakStillOpen, "attendance.err.break_still_open"},
	{punch.ErrTimeOutOfOrder, "attendance.err.time_out_of_order"},
}

// PunchResponse is returned by every manual transition. On a conflict it
// carries the unchanged record so clients can resync.
type PunchResponse struct {
	Error  string              `json:"error,omitempty"`
	Code   string              `json:"code,omitempty"`
	Record *service.RecordView `json:"record"`
}

func (h *AttendanceHandler) HandlePunchIn(w http.ResponseWriter, r *http.Request) {
	claims, _ := PrincipalFrom(r.Context())
	now := h.now()

	capture, err := h.readPunch(r, claims.UserID)
	if err != nil {
		h.writeRequestError(w, r, err)
		return
	}

	record, err := h.svc.PunchIn(r.Context(), claims.UserID, now, capture)
	h.respond(w, r, record, now, err)
}

func (h *AttendanceHandler) HandlePunchOut(w http.ResponseWriter, r *http.Request) {
	claims, _ := PrincipalFrom(r.Context())
	now := h.now()

	capture, err := h.readPunch(r, claims.UserID)
	if err != nil {
		h.writeRequestError(w, r, err)
		return
	}

	record, err := h.svc.PunchOut(r.Context(), claims.UserID, now, capture)
	h.respond(w, r, record, now, err)
}

func (h *AttendanceHandler) HandleBreakIn(w http.ResponseWriter, r *http.Request) {
	claims, _ := PrincipalFrom(r.Context())
	now := h.now()

	var req PunchRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		h.writeRequestError(w, r, err)
		return
	}

	record, err := h.svc.BreakIn(r.Context(), claims.UserID, now, strings.TrimSpace(req.Reason))
	h.respond(w, r, record, now, err)
}

func (h *AttendanceHandler) HandleBreakOut(w http.ResponseWriter, r *http.Request) {
	claims, _ := PrincipalFrom(r.Context())
	now := h.now()

	record, err := h.svc.BreakOut(r.Context(), claims.UserID, now)
	h.respond(w, r, record, now, err)
}

func (h *AttendanceHandler) HandleToday(w http.ResponseWriter, r *http.Request) {
	claims, _ := PrincipalFrom(r.Context())
	now := h.now()

	record, err := h.svc.Today(r.Context(), claims.UserID, now)
	if err != nil {
		h.logger.Error("today", "person_id", claims.UserID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "err.internal", nil)
		return
	}
	writeJSON(w, http.StatusOK, service.View(record, now))
}

// HandleHistory lists records between the from and to query dates,
// defaulting to the last 30 days.
func (h *AttendanceHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	claims, _ := PrincipalFrom(r.Context())
	now := h.now()

	to := r.URL.Query().Get("to")
	if to == "" {
		to = model.DayOf(now)
	}
	from := r.URL.Query().Get("from")
	if from == "" {
		from = model.DayOf(now.AddDate(0, 0, -30))
	}

	records, err := h.svc.History(r.Context(), claims.UserID, from, to)
	if errors.Is(err, service.ErrInvalidRange) {
		writeError(w, r, http.StatusBadRequest, "attendance.err.invalid_range", nil)
		return
	}
	if err != nil {
		h.logger.Error("history", "person_id", claims.UserID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "err.internal", nil)
		return
	}

	views := make([]*service.RecordView, 0, len(records))
	for _, rec := range records {
		views = append(views, service.View(rec, now))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *AttendanceHandler) respond(w http.ResponseWriter, r *http.Request, record *model.AttendanceRecord, now time.Time, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, PunchResponse{Record: service.View(record, now)})
		return
	}
	for _, c := range conflictMessages {
		if errors.Is(err, c.err) {
			var view *service.RecordView
			if record != nil {
				view = service.View(record, now)
			}
			writeJSON(w, http.StatusConflict, PunchResponse{
				Error:  i18n.T(r.Context(), c.id),
				Code:   c.id,
				Record: view,
			})
			return
		}
	}
	h.logger.Error("attendance transition", "path", r.URL.Path, "error", err)
	writeError(w, r, http.StatusInternalServerError, "err.internal", nil)
}

func (h *AttendanceHandler) writeRequestError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errInvalidPhoto):
		writeError(w, r, http.StatusBadRequest, "attendance.err.invalid_photo", nil)
	case errors.Is(err, errInvalidLocation):
		writeError(w, r, http.StatusBadRequest, "attendance.err.invalid_location", nil)
	case errors.Is(err, errBadBody):
		writeError(w, r, http.StatusBadRequest, "err.bad_request", nil)
	default:
		h.logger.Error("read punch request", "error", err)
		writeError(w, r, http.StatusInternalServerError, "err.internal", nil)
	}
}

// readPunch reads the optional capture evidence of a punch. A photo is
// stored before the transition runs.
func (h *AttendanceHandler) readPunch(r *http.Request, personID string) (*model.Capture, error) {
	var (
		req         PunchRequest
		photo       []byte
		contentType string
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadBody, err)
		}
		req.PhotoBase64 = r.FormValue("photo_base64")
		req.Verification = r.FormValue("verification")
		req.Reason = r.FormValue("reason")
		var err error
		if req.Latitude, err = formFloat(r, "latitude"); err != nil {
			return nil, err
		}
		if req.Longitude, err = formFloat(r, "longitude"); err != nil {
			return nil, err
		}
		if req.Accuracy, err = formFloat(r, "accuracy"); err != nil {
			return nil, err
		}
		if file, header, err := r.FormFile("photo"); err == nil {
			defer file.Close()
			photo, err = io.ReadAll(io.LimitReader(file, maxPhotoBytes+1))
			if err != nil || len(photo) > maxPhotoBytes {
				return nil, errInvalidPhoto
			}
			contentType = header.Header.Get("Content-Type")
		} else if !errors.Is(err, http.ErrMissingFile) {
			return nil, fmt.Errorf("%w: %v", errInvalidPhoto, err)
		}
	} else if err := decodeOptionalJSON(r, &req); err != nil {
		return nil, err
	}

	if photo == nil && req.PhotoBase64 != "" {
		data, mime, err := decodeDataURL(req.PhotoBase64)
		if err != nil || len(data) > maxPhotoBytes {
			return nil, errInvalidPhoto
		}
		photo, contentType = data, mime
	}

	if (req.Latitude == nil) != (req.Longitude == nil) {
		return nil, errInvalidLocation
	}

	capture := &model.Capture{
		Verification: strings.TrimSpace(req.Verification),
		VerifyMode:   model.VerifyManual,
	}
	if req.Latitude != nil {
		lat, lng := *req.Latitude, *req.Longitude
		if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			return nil, errInvalidLocation
		}
		capture.Location = &model.GeoPoint{Latitude: lat, Longitude: lng, Accuracy: req.Accuracy}
	}
	if len(photo) > 0 {
		if contentType == "" {
			contentType = http.DetectContentType(photo)
		}
		ref, err := h.photos.SavePhoto(r.Context(), personID, contentType, photo)
		if err != nil {
			return nil, fmt.Errorf("save photo: %w", err)
		}
		capture.PhotoRef = ref
	}
	return capture, nil
}

func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 2*maxPhotoBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

func formFloat(r *http.Request, key string) (*float64, error) {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, errInvalidLocation
	}
	return &f, nil
}

// decodeDataURL accepts plain base64 or a data: URL.
func decodeDataURL(s string) ([]byte, string, error) {
	var mime string
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, "", errInvalidPhoto
		}
		mime = strings.TrimSuffix(meta, ";base64")
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, "", err
	}
	return data, mime, nil
}

// RegisterRoutes registers the manual attendance routes on the given mux.
func (h *AttendanceHandler) RegisterRoutes(mux *http.ServeMux, auth *Auth) {
	mux.Handle("POST /api/attendance/punch-in", auth.RequireEmployee(h.HandlePunchIn))
	mux.Handle("POST /api/attendance/punch-out", auth.RequireEmployee(h.HandlePunchOut))
	mux.Handle("POST /api/attendance/break-in", auth.RequireEmployee(h.HandleBreakIn))
	mux.Handle("POST /api/attendance/break-out", auth.RequireEmployee(h.HandleBreakOut))
	mux.Handle("GET /api/attendance/today", auth.RequireEmployee(h.HandleToday))
	mux.Handle("GET /api/attendance/history", auth.RequireEmployee(h.HandleHistory))
}
