package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/apperr"
	"github.com/hackgods/clinic-flow/internal/appointment"
	"github.com/hackgods/clinic-flow/internal/lock"
	"github.com/hackgods/clinic-flow/internal/queue"
	"github.com/hackgods/clinic-flow/internal/triage"
	"github.com/hackgods/clinic-flow/internal/visit"
)

func bookAppointmentHandler(wf *visit.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if !decode(w, r, &req) {
			return
		}

		booking := appointment.BookingRequest{
			PatientID:       uuid.MustParse(req.PatientID),
			ClinicID:        uuid.MustParse(req.ClinicID),
			Start:           req.Start,
			DurationMinutes: req.DurationMinutes,
		}
		if req.ProviderID != "" {
			id := uuid.MustParse(req.ProviderID)
			booking.ProviderID = &id
		}

		appt, err := wf.Book(r.Context(), booking)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(wf *visit.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		appt, err := wf.Get(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// listAppointmentsHandler serves ?patient_id=&limit=&offset= and
// ?clinic_id=&date=YYYY-MM-DD.
func listAppointmentsHandler(wf *visit.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var (
			list []appointment.Appointment
			err  error
		)
		switch {
		case q.Get("patient_id") != "":
			patientID, perr := uuid.Parse(q.Get("patient_id"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			limit, _ := strconv.Atoi(q.Get("limit"))
			offset, _ := strconv.Atoi(q.Get("offset"))
			list, err = wf.ListByPatient(r.Context(), patientID, limit, offset)
		case q.Get("clinic_id") != "":
			clinicID, perr := uuid.Parse(q.Get("clinic_id"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
				return
			}
			day, perr := time.Parse("2006-01-02", q.Get("date"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			// noon keeps the day stable across clinic time zones
			list, err = wf.ListByClinicDay(r.Context(), clinicID, day.Add(12*time.Hour))
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "patient_id or clinic_id is required")
			return
		}
		if err != nil {
			handleError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toAppointmentResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func checkInHandler(wf *visit.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req CheckInRequest
		if !decodeOptional(w, r, &req) {
			return
		}

		res, err := wf.CheckIn(r.Context(), id, req.Vitals, req.AssessedBy)
		if err != nil {
			handleError(w, err)
			return
		}

		resp := CheckInResponse{Appointment: toAppointmentResponse(res.Appointment), QueueEntry: res.Entry}
		if res.Assessment != nil {
			a := toAssessmentResponse(res.Assessment)
			resp.Assessment = &a
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func rescheduleHandler(wf *visit.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req RescheduleRequest
		if !decode(w, r, &req) {
			return
		}

		appt, err := wf.Reschedule(r.Context(), id, req.Start)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelHandler(wf *visit.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req CancelRequest
		if !decodeOptional(w, r, &req) {
			return
		}

		appt, err := wf.Cancel(r.Context(), id, req.Reason)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func noShowHandler(wf *visit.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		appt, err := wf.NoShow(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func submitTriageHandler(wf *visit.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TriageRequest
		if !decode(w, r, &req) {
			return
		}

		a, err := wf.SubmitTriage(r.Context(), uuid.MustParse(req.AppointmentID), uuid.MustParse(req.PatientID), req.Vitals, req.AssessedBy)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAssessmentResponse(a))
	}
}

func latestTriageHandler(wf *visit.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		a, err := wf.LatestTriage(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAssessmentResponse(a))
	}
}

func triageHistoryHandler(wf *visit.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := uuidParam(w, r, "patientID")
		if !ok {
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		list, err := wf.TriageHistory(r.Context(), patientID, limit)
		if err != nil {
			handleError(w, err)
			return
		}

		resp := make([]AssessmentResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toAssessmentResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func enqueueHandler(wf *visit.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID")
		if !ok {
			return
		}
		var req EnqueueRequest
		if !decode(w, r, &req) {
			return
		}

		band, _ := triage.ParseBand(req.Band)
		entry, err := wf.Enqueue(r.Context(), clinicID, uuid.MustParse(req.AppointmentID), uuid.MustParse(req.PatientID), band)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

func snapshotHandler(wf *visit.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID")
		if !ok {
			return
		}
		q, err := wf.Snapshot(r.Context(), clinicID)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

func positionHandler(wf *visit.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID")
		if !ok {
			return
		}
		patientID, ok := uuidParam(w, r, "patientID")
		if !ok {
			return
		}
		pos, err := wf.Position(r.Context(), clinicID, patientID)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, PositionResponse{ClinicID: clinicID, PatientID: patientID, Position: pos})
	}
}

func processNextHandler(wf *visit.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID")
		if !ok {
			return
		}
		entry, err := wf.ProcessNext(r.Context(), clinicID)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func completeHandler(wf *visit.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID")
		if !ok {
			return
		}
		var req CompleteRequest
		if !decode(w, r, &req) {
			return
		}
		done, err := wf.Complete(r.Context(), clinicID, uuid.MustParse(req.PatientID))
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, CompleteResponse{Completed: done})
	}
}

func refreshHandler(wf *visit.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID")
		if !ok {
			return
		}
		q, err := wf.RefreshEstimates(r.Context(), clinicID)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// decode writes a 400 and returns false when the body does not parse or
// fails its own validation rules.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return validate(w, dst)
}

// decodeOptional is decode for endpoints whose body may be empty.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return true
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return validate(w, dst)
}

func validate(w http.ResponseWriter, dst any) bool {
	v, ok := dst.(validation.Validatable)
	if !ok {
		return true
	}
	if err := v.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

func handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrQueueEmpty):
		w.WriteHeader(http.StatusNoContent)
		return
	case errors.Is(err, lock.ErrNotAcquired),
		errors.Is(err, appointment.ErrBookingContended),
		errors.Is(err, queue.ErrQueueBusy):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, "busy", "resource is being modified, please retry shortly")
		return
	}

	switch apperr.Kind(err) {
	case apperr.ErrNotFound:
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case apperr.ErrValidation:
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case apperr.ErrConflict:
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case apperr.ErrState:
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
