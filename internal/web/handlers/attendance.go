package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kozaktomas/gate-attendance/internal/attendance"
	"github.com/kozaktomas/gate-attendance/internal/logger"
)

// Recorder is the subset of the attendance recorder used by the API.
type Recorder interface {
	Record(ctx context.Context, studentID string, intent attendance.Intent) (attendance.Result, error)
	Today(ctx context.Context, intent attendance.Intent, mode attendance.DisplayMode) ([]attendance.TodayEntry, error)
}

// RecordRequest represents an attendance event from a camera client.
type RecordRequest struct {
	StudentID string `json:"student_id"`
	Intent    string `json:"intent"`
}

// RecordResponse represents the outcome of an attendance event.
type RecordResponse struct {
	Success   bool       `json:"success"`
	StudentID string     `json:"student_id"`
	Name      string     `json:"name,omitempty"`
	Intent    string     `json:"intent"`
	Mode      string     `json:"mode,omitempty"`
	Status    string     `json:"status,omitempty"`
	Time      *time.Time `json:"time,omitempty"`
	Conflict  string     `json:"conflict,omitempty"`
	Message   string     `json:"message"`
}

// AttendanceHandler handles attendance recording and the today lists.
type AttendanceHandler struct {
	recorder Recorder
	log      *logger.Logger
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(rec Recorder, log *logger.Logger) *AttendanceHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &AttendanceHandler{recorder: rec, log: log}
}

func successMessage(intent attendance.Intent) string {
	if intent == attendance.IntentDeparture {
		return "time out recorded"
	}
	return "time in recorded"
}

// Record handles POST /api/v1/attendance/record
func (h *AttendanceHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req RecordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.StudentID == "" {
		respondError(w, http.StatusBadRequest, "student_id is required")
		return
	}
	intent, err := attendance.ParseIntent(req.Intent)
	if err != nil {
		respondError(w, http.StatusBadRequest, "intent must be arrival or departure")
		return
	}

	res, err := h.recorder.Record(r.Context(), req.StudentID, intent)
	if errors.Is(err, attendance.ErrUnknownStudent) {
		respondError(w, http.StatusNotFound, "unknown student")
		return
	}
	if err != nil {
		h.log.Error("failed to record attendance",
			"student_id", sanitizeForLog(req.StudentID), "intent", intent, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to record attendance")
		return
	}

	resp := RecordResponse{
		Success:   res.Success,
		StudentID: res.StudentID,
		Name:      res.Name,
		Intent:    string(res.Intent),
		Mode:      string(res.Mode),
		Status:    string(res.Status),
		Time:      res.Time,
	}
	if !res.Success {
		resp.Conflict = string(res.Conflict)
		resp.Message = res.Conflict.Message()
		respondJSON(w, http.StatusConflict, resp)
		return
	}
	resp.Message = successMessage(res.Intent)
	respondJSON(w, http.StatusOK, resp)
}

// TodayArrivals handles GET /api/v1/attendance/today/arrivals
func (h *AttendanceHandler) TodayArrivals(w http.ResponseWriter, r *http.Request) {
	h.today(w, r, attendance.IntentArrival)
}

// TodayDepartures handles GET /api/v1/attendance/today/departures
func (h *AttendanceHandler) TodayDepartures(w http.ResponseWriter, r *http.Request) {
	h.today(w, r, attendance.IntentDeparture)
}

func (h *AttendanceHandler) today(w http.ResponseWriter, r *http.Request, intent attendance.Intent) {
	mode := attendance.ParseDisplayMode(r.URL.Query().Get("display"))
	entries, err := h.recorder.Today(r.Context(), intent, mode)
	if err != nil {
		h.log.Error("failed to list today's attendance", "intent", intent, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list attendance")
		return
	}
	if entries == nil {
		entries = []attendance.TodayEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}
