package triage

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/hackgods/clinic-flow/internal/apperr"
)

// Validate rejects values outside the physical domain of each vital.
func (v Vitals) Validate() error {
	err := validation.ValidateStruct(&v,
		validation.Field(&v.TemperatureC, validation.Min(0.0), validation.Max(50.0)),
		validation.Field(&v.HeartRate, validation.Min(0), validation.Max(350)),
		validation.Field(&v.RespiratoryRate, validation.Min(0), validation.Max(100)),
		validation.Field(&v.SpO2, validation.Min(0), validation.Max(100)),
		validation.Field(&v.Consciousness, validation.By(validConsciousness)),
		validation.Field(&v.PainScore, validation.Min(0), validation.Max(10)),
		validation.Field(&v.SystolicBP, validation.Min(0), validation.Max(300)),
		validation.Field(&v.DiastolicBP, validation.Min(0), validation.Max(250)),
		validation.Field(&v.OtherSymptoms, validation.Length(0, 500)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return nil
}

func validConsciousness(value interface{}) error {
	c, _ := value.(*Consciousness)
	if c == nil || c.Valid() {
		return nil
	}
	return fmt.Errorf("unknown consciousness level %q", string(*c))
}

// Score sums the per-vital contributions and bands the total. Rules for each
// vital are checked top to bottom and the first match wins.
func Score(v Vitals) (int, Band, error) {
	if err := v.Validate(); err != nil {
		return 0, "", err
	}

	score := 0
	if v.TemperatureC != nil {
		score += temperaturePoints(*v.TemperatureC)
	}
	if v.HeartRate != nil {
		score += heartRatePoints(*v.HeartRate)
	}
	if v.RespiratoryRate != nil {
		score += respiratoryRatePoints(*v.RespiratoryRate)
	}
	if v.SpO2 != nil {
		score += spo2Points(*v.SpO2)
	}
	if v.Consciousness != nil {
		score += consciousnessPoints(*v.Consciousness)
	}
	if v.PainScore != nil {
		score += painPoints(*v.PainScore)
	}

	return score, BandFor(score), nil
}

func BandFor(score int) Band {
	switch {
	case score >= 7:
		return BandCritical
	case score >= 4:
		return BandHigh
	case score >= 2:
		return BandMedium
	default:
		return BandLow
	}
}

// temperaturePoints: the >=35.0 fallback only catches readings that fall
// between the listed bands (35.0-35.1, 36.0-36.1, 38.0-38.1, 39.0-39.1).
func temperaturePoints(t float64) int {
	switch {
	case t >= 36.1 && t <= 38.0:
		return 0
	case t >= 35.1 && t <= 36.0:
		return 1
	case t >= 38.1 && t <= 39.0:
		return 1
	case t >= 39.1:
		return 2
	case t >= 35.0:
		return 1
	default:
		return 0
	}
}

func heartRatePoints(hr int) int {
	switch {
	case hr >= 51 && hr <= 90:
		return 0
	case hr >= 41 && hr <= 50, hr >= 91 && hr <= 110:
		return 1
	case hr >= 111 && hr <= 130:
		return 1
	case hr >= 131 || hr <= 40:
		return 3
	default:
		return 0
	}
}

func respiratoryRatePoints(rr int) int {
	switch {
	case rr >= 9 && rr <= 11:
		return 1
	case rr >= 12 && rr <= 20:
		return 0
	case rr >= 21 && rr <= 24:
		return 2
	case rr >= 25:
		return 3
	default:
		return 0
	}
}

func spo2Points(spo2 int) int {
	switch {
	case spo2 >= 96:
		return 0
	case spo2 >= 94:
		return 1
	case spo2 >= 92:
		return 2
	default:
		return 3
	}
}

func consciousnessPoints(c Consciousness) int {
	switch c {
	case Alert:
		return 0
	case RespondsToVoice, RespondsToPain, Unresponsive:
		return 3
	default:
		return 0
	}
}

func painPoints(p int) int {
	switch {
	case p >= 7:
		return 2
	case p >= 4:
		return 1
	default:
		return 0
	}
}
