package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/appointment"
)

// FakeClinic builds an active clinic open 08:00-17:00 on weekdays.
func FakeClinic(f *gofakeit.Faker, n int) appointment.Clinic {
	hours := make([]appointment.OperatingHours, 0, 5)
	for d := time.Monday; d <= time.Friday; d++ {
		hours = append(hours, appointment.OperatingHours{Weekday: d, OpenMinute: 8 * 60, CloseMinute: 17 * 60})
	}
	return appointment.Clinic{
		ID:                   uuid.New(),
		Code:                 fmt.Sprintf("CL-%03d-%s", n, strings.ToUpper(f.LetterN(4))),
		Name:                 f.City() + " Clinic",
		Active:               true,
		Location:             "UTC",
		Hours:                hours,
		SlotDurationMinutes:  appointment.DefaultSlotDurationMinutes,
		OverbookingThreshold: f.IntRange(20, 60),
	}
}

func FakeProvider(f *gofakeit.Faker) appointment.Provider {
	return appointment.Provider{
		ID:     uuid.New(),
		Name:   "Dr. " + f.LastName(),
		Active: true,
	}
}

// SeedMemory fills the memory directory with fake clinics and providers and
// returns what it created.
func SeedMemory(mem *appointment.MemoryRepository, clinics, providers int) ([]appointment.Clinic, []appointment.Provider) {
	f := gofakeit.New(0)

	cs := make([]appointment.Clinic, 0, clinics)
	for i := 1; i <= clinics; i++ {
		c := FakeClinic(f, i)
		mem.PutClinic(c)
		cs = append(cs, c)
	}
	ps := make([]appointment.Provider, 0, providers)
	for i := 0; i < providers; i++ {
		p := FakeProvider(f)
		mem.PutProvider(p)
		ps = append(ps, p)
	}
	return cs, ps
}
