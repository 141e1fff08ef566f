package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-flow/internal/db"
	"github.com/hackgods/clinic-flow/internal/logger"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ArrivalRatio float64
	StaffRatio   float64
	ReadRatio    float64
	PostgresDSN  string
	ClinicIDs    []uuid.UUID
}

type booked struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	ClinicID  uuid.UUID
}

type DataPool struct {
	Clinics   []uuid.UUID
	Providers []uuid.UUID

	mu        sync.Mutex
	scheduled []booked
	queued    []booked
}

func (dp *DataPool) AddScheduled(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.scheduled = append(dp.scheduled, b)
}

// TakeScheduled removes and returns a random scheduled appointment.
func (dp *DataPool) TakeScheduled(rng *rand.Rand) (booked, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.scheduled) == 0 {
		return booked{}, false
	}
	i := rng.Intn(len(dp.scheduled))
	b := dp.scheduled[i]
	dp.scheduled[i] = dp.scheduled[len(dp.scheduled)-1]
	dp.scheduled = dp.scheduled[:len(dp.scheduled)-1]
	return b, true
}

func (dp *DataPool) AddQueued(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.queued = append(dp.queued, b)
}

func (dp *DataPool) RandomQueued(rng *rand.Rand) (booked, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.queued) == 0 {
		return booked{}, false
	}
	return dp.queued[rng.Intn(len(dp.queued))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := append([]time.Duration(nil), om.Latencies...)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	n := len(latencies)
	return sum / time.Duration(n), latencies[n*50/100], latencies[min(n*95/100, n-1)], latencies[n-1]
}

type Metrics struct {
	Booking     OperationMetrics
	CheckIn     OperationMetrics
	ProcessNext OperationMetrics
	Complete    OperationMetrics
	Position    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	log := logger.New(getEnv("APP_ENV", "dev"), "simulate")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dataPool, err := loadDataPool(ctx, cfg)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("clinics", len(dataPool.Clinics)).
		Int("providers", len(dataPool.Providers)).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	if err := sim.Run(); err != nil {
		log.Error().Err(err).Msg("simulation aborted")
	}
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.4),
		ArrivalRatio: getFloat("SIM_ARRIVAL_RATIO", 0.25),
		StaffRatio:   getFloat("SIM_STAFF_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.15),
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
	}

	for _, raw := range strings.Split(os.Getenv("SIM_CLINIC_IDS"), ",") {
		if id, err := uuid.Parse(strings.TrimSpace(raw)); err == nil {
			cfg.ClinicIDs = append(cfg.ClinicIDs, id)
		}
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.ArrivalRatio + cfg.StaffRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ArrivalRatio /= total
		cfg.StaffRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" && len(cfg.ClinicIDs) == 0 {
		return fmt.Errorf("POSTGRES_DSN or SIM_CLINIC_IDS is required")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{Clinics: cfg.ClinicIDs}
	if cfg.PostgresDSN == "" {
		return dp, nil
	}

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 2)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	if len(dp.Clinics) == 0 {
		if dp.Clinics, err = loadIDs(ctx, pool, `SELECT id FROM clinics WHERE active LIMIT 50`); err != nil {
			return nil, fmt.Errorf("load clinics: %w", err)
		}
	}
	if dp.Providers, err = loadIDs(ctx, pool, `SELECT id FROM providers WHERE active LIMIT 500`); err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}

	if len(dp.Clinics) == 0 {
		return nil, fmt.Errorf("no clinics loaded")
	}
	return dp, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Run drives the workers until the duration elapses. A worker only returns an
// error when the API is unreachable, which stops the whole run.
func (s *Simulator) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			return s.worker(ctx, workerID)
		})
	}

	err := g.Wait()
	s.log.Info().Msg("simulation complete")
	return err
}

func (s *Simulator) worker(ctx context.Context, workerID int) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	failures := 0

	for ctx.Err() == nil {
		var err error
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			err = s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.ArrivalRatio:
			err = s.doCheckIn(ctx, rng)
		case r < s.config.BookingRatio+s.config.ArrivalRatio+s.config.StaffRatio:
			err = s.doStaff(ctx, rng)
		default:
			err = s.doPosition(ctx, rng)
		}

		if err != nil && ctx.Err() == nil {
			failures++
			if failures >= 20 {
				return fmt.Errorf("worker %d: %w", workerID, err)
			}
			continue
		}
		failures = 0
	}
	return nil
}

// post sends body as JSON and decodes a 2xx response into out when non-nil.
// A transport error is returned; HTTP status is reported to the caller.
func (s *Simulator) post(ctx context.Context, path string, body, out any) (int, time.Duration, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.send(req, out)
}

func (s *Simulator) get(ctx context.Context, path string, out any) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		return 0, 0, err
	}
	return s.send(req, out)
}

func (s *Simulator) send(req *http.Request, out any) (int, time.Duration, error) {
	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, latency, nil
}

// doBooking aims a few workers at the same half-hour slots so provider and
// capacity conflicts actually happen.
func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) error {
	clinic := s.pool.Clinics[rng.Intn(len(s.pool.Clinics))]
	body := map[string]any{
		"patient_id": uuid.NewString(),
		"clinic_id":  clinic.String(),
		"start":      nextWeekdaySlot(rng),
	}
	if len(s.pool.Providers) > 0 && rng.Float64() < 0.7 {
		body["provider_id"] = s.pool.Providers[rng.Intn(len(s.pool.Providers))].String()
	}

	var resp struct {
		ID        uuid.UUID `json:"id"`
		PatientID uuid.UUID `json:"patient_id"`
	}
	status, latency, err := s.post(ctx, "/appointments", body, &resp)
	if err != nil {
		s.metrics.Booking.Record(latency, false, false)
		return err
	}

	ok := status == http.StatusCreated
	if ok {
		s.pool.AddScheduled(booked{ID: resp.ID, PatientID: resp.PatientID, ClinicID: clinic})
	}
	s.metrics.Booking.Record(latency, ok, status == http.StatusConflict)
	return nil
}

func (s *Simulator) doCheckIn(ctx context.Context, rng *rand.Rand) error {
	b, ok := s.pool.TakeScheduled(rng)
	if !ok {
		return nil
	}

	body := map[string]any{
		"assessed_by": "sim-nurse",
		"vitals": map[string]any{
			"temperature_c":    35.5 + rng.Float64()*5,
			"heart_rate":       45 + rng.Intn(100),
			"respiratory_rate": 8 + rng.Intn(22),
			"spo2":             88 + rng.Intn(13),
			"consciousness":    "ALERT",
			"pain_score":       rng.Intn(11),
		},
	}
	status, latency, err := s.post(ctx, "/appointments/"+b.ID.String()+"/check-in", body, nil)
	if err != nil {
		s.metrics.CheckIn.Record(latency, false, false)
		return err
	}

	success := status == http.StatusOK
	if success {
		s.pool.AddQueued(b)
	}
	s.metrics.CheckIn.Record(latency, success, status == http.StatusConflict)
	return nil
}

// doStaff calls the next patient at a random clinic and finishes their visit.
func (s *Simulator) doStaff(ctx context.Context, rng *rand.Rand) error {
	clinic := s.pool.Clinics[rng.Intn(len(s.pool.Clinics))]
	base := "/clinics/" + clinic.String() + "/queue"

	var entry struct {
		PatientID uuid.UUID `json:"patient_id"`
	}
	status, latency, err := s.post(ctx, base+"/next", nil, &entry)
	if err != nil {
		s.metrics.ProcessNext.Record(latency, false, false)
		return err
	}
	s.metrics.ProcessNext.Record(latency, status == http.StatusOK || status == http.StatusNoContent, status == http.StatusConflict)
	if status != http.StatusOK {
		return nil
	}

	status, latency, err = s.post(ctx, base+"/complete", map[string]string{"patient_id": entry.PatientID.String()}, nil)
	if err != nil {
		s.metrics.Complete.Record(latency, false, false)
		return err
	}
	s.metrics.Complete.Record(latency, status == http.StatusOK, status == http.StatusConflict)
	return nil
}

func (s *Simulator) doPosition(ctx context.Context, rng *rand.Rand) error {
	b, ok := s.pool.RandomQueued(rng)
	if !ok {
		return nil
	}
	status, latency, err := s.get(ctx, fmt.Sprintf("/clinics/%s/queue/position/%s", b.ClinicID, b.PatientID), nil)
	if err != nil {
		s.metrics.Position.Record(latency, false, false)
		return err
	}
	// 404 once the patient has been seen is expected
	s.metrics.Position.Record(latency, status == http.StatusOK || status == http.StatusNotFound, false)
	return nil
}

// nextWeekdaySlot picks a half-hour slot between 08:00 and 16:30 on one of
// the next five weekdays.
func nextWeekdaySlot(rng *rand.Rand) string {
	day := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	for offset := rng.Intn(5); ; day = day.AddDate(0, 0, 1) {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		if offset == 0 {
			break
		}
		offset--
	}
	slot := day.Add(8*time.Hour + time.Duration(rng.Intn(18))*30*time.Minute)
	return slot.Format(time.RFC3339)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Check-in + triage", &s.metrics.CheckIn)
	printOperationReport("Process next", &s.metrics.ProcessNext)
	printOperationReport("Complete", &s.metrics.Complete)
	printOperationReport("Queue position", &s.metrics.Position)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
