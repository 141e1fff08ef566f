package triage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Band string

const (
	BandLow      Band = "LOW"
	BandMedium   Band = "MEDIUM"
	BandHigh     Band = "HIGH"
	BandCritical Band = "CRITICAL"
)

// Rank maps a band onto the queue ordering value, 1 being the most urgent.
// Anything unrecognised sorts last.
func (b Band) Rank() int {
	switch b {
	case BandCritical:
		return 1
	case BandHigh:
		return 2
	case BandMedium:
		return 3
	case BandLow:
		return 4
	default:
		return 5
	}
}

func (b Band) Valid() bool {
	switch b {
	case BandLow, BandMedium, BandHigh, BandCritical:
		return true
	default:
		return false
	}
}

func ParseBand(s string) (Band, error) {
	b := Band(strings.ToUpper(strings.TrimSpace(s)))
	if !b.Valid() {
		return "", fmt.Errorf("invalid priority band %q (valid: LOW, MEDIUM, HIGH, CRITICAL)", s)
	}
	return b, nil
}

type Consciousness string

const (
	Alert           Consciousness = "ALERT"
	RespondsToVoice Consciousness = "RESPONDS_TO_VOICE"
	RespondsToPain  Consciousness = "RESPONDS_TO_PAIN"
	Unresponsive    Consciousness = "UNRESPONSIVE"
)

func (c Consciousness) Valid() bool {
	switch c {
	case Alert, RespondsToVoice, RespondsToPain, Unresponsive:
		return true
	default:
		return false
	}
}

// Vitals is the snapshot taken at the triage desk. Nil fields were not
// measured and contribute nothing to the score.
type Vitals struct {
	TemperatureC    *float64       `json:"temperature_c,omitempty"`
	HeartRate       *int           `json:"heart_rate,omitempty"`
	RespiratoryRate *int           `json:"respiratory_rate,omitempty"`
	SpO2            *int           `json:"spo2,omitempty"`
	Consciousness   *Consciousness `json:"consciousness,omitempty"`
	PainScore       *int           `json:"pain_score,omitempty"`
	SystolicBP      *int           `json:"systolic_bp,omitempty"`
	DiastolicBP     *int           `json:"diastolic_bp,omitempty"`
	Pregnant        bool           `json:"pregnant"`
	MalariaRisk     bool           `json:"malaria_risk"`
	OtherSymptoms   string         `json:"other_symptoms,omitempty"`
}

// Assessment is the persisted result of scoring one set of vitals.
type Assessment struct {
	ID              uuid.UUID
	AppointmentID   uuid.UUID
	PatientID       uuid.UUID
	Vitals          Vitals
	CalculatedScore int
	Band            Band
	AssessedBy      string
	AssessedAt      time.Time
}
