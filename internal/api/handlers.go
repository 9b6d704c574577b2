package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"carecoop/internal/domain"
	"carecoop/internal/export"
	"carecoop/internal/models"
	"carecoop/internal/scheduling"
	"carecoop/internal/service"
)

type statusRequest struct {
	Status  models.Status `json:"status"`
	Version int64         `json:"version"`
	Force   bool          `json:"force"`
}

type recurrenceRequest struct {
	Template   *models.BookingTemplate `json:"template,omitempty"`
	FirstDate  string                  `json:"firstDate,omitempty"`
	Recurrence *models.Recurrence      `json:"recurrence,omitempty"`
	Instances  []models.Booking        `json:"instances,omitempty"`
	Force      bool                    `json:"force,omitempty"`
}

// resyncRequest is the date range body of the roster admin endpoints.
type resyncRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	staffID := strings.TrimSpace(q.Get("staffId"))
	if staffID == "" {
		writeError(w, http.StatusBadRequest, "staffId is required")
		return
	}
	duration, err := intParam(q.Get("duration"), "durationMinutes")
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	date := strings.TrimSpace(q.Get("date"))
	slots, err := s.svc.AvailableSlots(r.Context(), staffID, date, duration)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"staffId":  staffID,
		"date":     date,
		"duration": duration,
		"slots":    slots,
	})
}

func (s *HTTPServer) handleCheckConflicts(w http.ResponseWriter, r *http.Request) {
	var candidate models.Booking
	if !decodeBody(w, r, &candidate) {
		return
	}
	conflicts, err := s.svc.CheckConflicts(r.Context(), candidate)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if conflicts == nil {
		conflicts = []models.Conflict{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.BookingFilter{
		StaffID:   strings.TrimSpace(q.Get("staffId")),
		PatientID: strings.TrimSpace(q.Get("patientId")),
		DateFrom:  strings.TrimSpace(q.Get("from")),
		DateTo:    strings.TrimSpace(q.Get("to")),
	}
	for _, raw := range splitCSV(q.Get("status")) {
		st := models.Status(raw)
		if !st.Valid() {
			s.writeServiceError(w, &scheduling.ValidationError{Field: "status", Value: raw, Reason: "unknown status"})
			return
		}
		filter.Statuses = append(filter.Statuses, st)
	}

	bookings, err := s.svc.ListBookings(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var booking models.Booking
	if !decodeBody(w, r, &booking) {
		return
	}
	res, err := s.svc.CreateBooking(r.Context(), booking, queryBool(r, "force"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeSaveResult(w, res, http.StatusCreated)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := s.svc.GetBooking(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleUpdateBooking(w http.ResponseWriter, r *http.Request) {
	var booking models.Booking
	if !decodeBody(w, r, &booking) {
		return
	}
	id := r.PathValue("id")
	if booking.ID != "" && booking.ID != id {
		s.writeServiceError(w, &scheduling.ValidationError{Field: "id", Value: booking.ID, Reason: "does not match the path"})
		return
	}
	booking.ID = id

	res, err := s.svc.UpdateBooking(r.Context(), booking, queryBool(r, "force"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeSaveResult(w, res, http.StatusOK)
}

func (s *HTTPServer) handleDeleteBooking(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteBooking(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.svc.ChangeStatus(r.Context(), r.PathValue("id"), req.Version, req.Status, req.Force)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeSaveResult(w, res, http.StatusOK)
}

func (s *HTTPServer) handlePreviewRecurrence(w http.ResponseWriter, r *http.Request) {
	var req recurrenceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	plan, err := s.plan(r, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// handleCommitRecurrence stores either the instances of an earlier preview
// or a fresh expansion of the template.
func (s *HTTPServer) handleCommitRecurrence(w http.ResponseWriter, r *http.Request) {
	var req recurrenceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	instances := req.Instances
	if len(instances) == 0 {
		plan, err := s.plan(r, req)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		instances = plan.Instances
	}

	res, err := s.svc.CommitRecurring(r.Context(), instances, req.Force)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !res.Saved {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) plan(r *http.Request, req recurrenceRequest) (*service.RecurrencePlan, error) {
	if req.Template == nil {
		return nil, &scheduling.ValidationError{Field: "template", Reason: "is required"}
	}
	if req.Recurrence == nil {
		return nil, &scheduling.ValidationError{Field: "recurrence", Reason: "is required"}
	}
	return s.svc.PlanRecurring(r.Context(), *req.Template, req.Recurrence.Pattern, req.FirstDate, req.Recurrence.EndDate)
}

func (s *HTTPServer) handleListAbsences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	absences, err := s.svc.ListAbsences(r.Context(), strings.TrimSpace(q.Get("staffId")), strings.TrimSpace(q.Get("date")))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if absences == nil {
		absences = []models.Absence{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"absences": absences})
}

func (s *HTTPServer) handleAddAbsence(w http.ResponseWriter, r *http.Request) {
	var absence models.Absence
	if !decodeBody(w, r, &absence) {
		return
	}
	saved, err := s.svc.AddAbsence(r.Context(), absence)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *HTTPServer) handleRemoveAbsence(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RemoveAbsence(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleEndTime(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	duration, err := intParam(q.Get("duration"), "durationMinutes")
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	end, err := scheduling.CalculateEndTime(q.Get("start"), duration)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"start": q.Get("start"), "duration": duration, "end": end})
}

func (s *HTTPServer) handleDuration(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	d, err := scheduling.CalculateDuration(q.Get("start"), q.Get("end"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hours":        d.Hours,
		"minutes":      d.Minutes,
		"totalMinutes": d.TotalMinutes(),
	})
}

func (s *HTTPServer) handleExportRoster(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))

	var buf bytes.Buffer
	if err := s.svc.ExportRoster(r.Context(), &buf, from, to); err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(from, to)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *HTTPServer) handleResyncRoster(w http.ResponseWriter, r *http.Request) {
	var req resyncRequest
	if !decodeBody(w, r, &req) {
		return
	}
	n, err := s.svc.ResyncRoster(r.Context(), req.From, req.To)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": req.From, "to": req.To, "bookings": n})
}

func (s *HTTPServer) handleSaveRosterExport(w http.ResponseWriter, r *http.Request) {
	var req resyncRequest
	if !decodeBody(w, r, &req) {
		return
	}
	path, err := s.svc.SaveRosterExport(r.Context(), req.From, req.To)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

// writeSaveResult answers 409 for a write that conflicts blocked.
func writeSaveResult(w http.ResponseWriter, res *service.SaveResult, okStatus int) {
	if !res.Saved {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, okStatus, res)
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	var vErr *scheduling.ValidationError
	switch {
	case errors.As(err, &vErr):
		body := map[string]string{"error": vErr.Error(), "field": vErr.Field}
		if vErr.BookingID != "" {
			body["bookingId"] = vErr.BookingID
		}
		writeJSON(w, http.StatusBadRequest, body)
	case errors.Is(err, scheduling.ErrTooManyInstances):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConcurrentModification), errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrRosterDisabled), errors.Is(err, service.ErrExportDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func intParam(raw, field string) (int, error) {
	raw = strings.TrimSpace(raw)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &scheduling.ValidationError{Field: field, Value: raw, Reason: "must be an integer"}
	}
	return n, nil
}

func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}
