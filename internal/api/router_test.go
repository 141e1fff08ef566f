package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-flow/internal/appointment"
	"github.com/hackgods/clinic-flow/internal/clock"
	"github.com/hackgods/clinic-flow/internal/lock"
	"github.com/hackgods/clinic-flow/internal/notify"
	"github.com/hackgods/clinic-flow/internal/queue"
	"github.com/hackgods/clinic-flow/internal/triage"
	"github.com/hackgods/clinic-flow/internal/visit"
)

type testServer struct {
	handler  http.Handler
	clinicID uuid.UUID
	provider uuid.UUID
}

func newTestServer(t *testing.T, rl RateLimiterConfig) *testServer {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC))
	locker := lock.NewLocal()
	log := zerolog.Nop()

	store := appointment.NewMemoryRepository()
	clinic := appointment.Clinic{ID: uuid.New(), Code: "CL-1", Name: "Central", Active: true, SlotDurationMinutes: 30, OverbookingThreshold: 10}
	provider := appointment.Provider{ID: uuid.New(), Name: "Dr. Bello", Active: true}
	store.PutClinic(clinic)
	store.PutProvider(provider)

	wf := visit.NewWorkflow(
		appointment.NewService(store, store, locker, clk, log),
		triage.NewService(triage.NewMemoryRepository(), clk, log),
		queue.NewManager(queue.NewMemoryRepository(), locker, clk, log, 15),
		&notify.Recorder{}, clk, log,
	)

	return &testServer{
		handler:  NewRouter(RouterConfig{Workflow: wf, Logger: log, RateLimit: rl, Env: "test"}),
		clinicID: clinic.ID,
		provider: provider.ID,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (s *testServer) book(t *testing.T, start string) AppointmentResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID:  uuid.NewString(),
		ClinicID:   s.clinicID.String(),
		ProviderID: s.provider.String(),
		Start:      mustTime(start),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[AppointmentResponse](t, rec)
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, RateLimiterConfig{})

	rec := s.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = s.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[ReadinessResponse](t, rec).Status)
}

func TestBookingEndpoints(t *testing.T) {
	s := newTestServer(t, RateLimiterConfig{})

	a := s.book(t, "2026-03-02T09:00:00Z")
	assert.Equal(t, "SCHEDULED", a.Status)
	assert.Equal(t, "APT-20260302-0001", a.Number)

	rec := s.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID:  uuid.NewString(),
		ClinicID:   s.clinicID.String(),
		ProviderID: s.provider.String(),
		Start:      mustTime("2026-03-02T09:10:00Z"),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{PatientID: "nope", ClinicID: s.clinicID.String()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/appointments/"+a.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/appointments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/appointments/"+a.ID.String()+"/reschedule", RescheduleRequest{Start: mustTime("2026-03-02T11:00:00Z")})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mustTime("2026-03-02T11:30:00Z"), decodeBody[AppointmentResponse](t, rec).End)

	rec = s.do(t, http.MethodGet, "/appointments?clinic_id="+s.clinicID.String()+"&date=2026-03-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]AppointmentResponse](t, rec), 1)

	rec = s.do(t, http.MethodPost, "/appointments/"+a.ID.String()+"/cancel", CancelRequest{Reason: "sick"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decodeBody[AppointmentResponse](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/appointments/"+a.ID.String()+"/check-in", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decodeBody[ErrorResponse](t, rec).Error)
}

func TestQueueEndpoints(t *testing.T) {
	s := newTestServer(t, RateLimiterConfig{})
	queuePath := "/clinics/" + s.clinicID.String() + "/queue"

	rec := s.do(t, http.MethodPost, queuePath+"/next", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	low := s.book(t, "2026-03-02T09:00:00Z")
	urgent := s.book(t, "2026-03-02T10:00:00Z")

	rec = s.do(t, http.MethodPost, "/appointments/"+low.ID.String()+"/check-in", CheckInRequest{
		Vitals: &triage.Vitals{PainScore: ptr(1)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	checkIn := decodeBody[CheckInResponse](t, rec)
	require.NotNil(t, checkIn.QueueEntry)
	assert.Equal(t, "LOW", checkIn.Assessment.Band)

	rec = s.do(t, http.MethodPost, "/appointments/"+urgent.ID.String()+"/check-in", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, queuePath, EnqueueRequest{
		AppointmentID: urgent.ID.String(),
		PatientID:     urgent.PatientID.String(),
		Band:          "CRITICAL",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, queuePath+"/position/"+urgent.PatientID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[PositionResponse](t, rec).Position)

	rec = s.do(t, http.MethodPost, queuePath+"/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, urgent.PatientID, decodeBody[queue.Entry](t, rec).PatientID)

	rec = s.do(t, http.MethodPost, queuePath+"/complete", CompleteRequest{PatientID: urgent.PatientID.String()})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[CompleteResponse](t, rec).Completed, 1)

	rec = s.do(t, http.MethodPost, queuePath+"/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody[queue.Queue](t, rec)
	assert.Equal(t, 1, snap.TotalWaiting)

	rec = s.do(t, http.MethodPost, queuePath+"/complete", CompleteRequest{PatientID: low.PatientID.String()})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, queuePath+"/position/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, queuePath, EnqueueRequest{AppointmentID: uuid.NewString(), PatientID: uuid.NewString(), Band: "URGENT"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriageEndpoint(t *testing.T) {
	s := newTestServer(t, RateLimiterConfig{})
	a := s.book(t, "2026-03-02T09:00:00Z")

	rec := s.do(t, http.MethodPost, "/triage", TriageRequest{
		AppointmentID: a.ID.String(),
		PatientID:     a.PatientID.String(),
		Vitals:        triage.Vitals{SpO2: ptr(93), HeartRate: ptr(120)},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	got := decodeBody[AssessmentResponse](t, rec)
	assert.Equal(t, 3, got.CalculatedScore)
	assert.Equal(t, "MEDIUM", got.Band)

	rec = s.do(t, http.MethodGet, "/appointments/"+a.ID.String()+"/triage", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/patients/"+a.PatientID.String()+"/triage?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[[]AssessmentResponse](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, a.ID, history[0].AppointmentID)

	rec = s.do(t, http.MethodGet, "/patients/not-a-uuid/triage", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/triage", TriageRequest{
		AppointmentID: a.ID.String(),
		PatientID:     a.PatientID.String(),
		Vitals:        triage.Vitals{PainScore: ptr(11)},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, RateLimiterConfig{RequestsPerSecond: 1, Burst: 2})
	path := "/appointments/" + uuid.NewString()

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodGet, path, nil).Code)

	// health checks are never limited
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/live", nil).Code)
}

func ptr[T any](v T) *T { return &v }
