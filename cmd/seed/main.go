package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/clinic-flow/internal/app"
	"github.com/hackgods/clinic-flow/internal/appointment"
	"github.com/hackgods/clinic-flow/internal/db"
	"github.com/hackgods/clinic-flow/internal/logger"
)

func main() {
	log := logger.New(os.Getenv("APP_ENV"), "seed")
	log.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 4)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, log); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	repo := appointment.NewPgRepository(pool)
	faker := gofakeit.New(0)

	clinics := envInt("SEED_CLINICS", 5)
	for i := 1; i <= clinics; i++ {
		c := app.FakeClinic(faker, i)
		if err := repo.CreateClinic(ctx, &c); err != nil {
			log.Fatal().Err(err).Str("code", c.Code).Msg("seed clinic")
		}
		log.Info().Str("clinic_id", c.ID.String()).Str("code", c.Code).Str("name", c.Name).Msg("clinic seeded")
	}

	providers := envInt("SEED_PROVIDERS", 20)
	for i := 0; i < providers; i++ {
		p := app.FakeProvider(faker)
		if err := repo.CreateProvider(ctx, &p); err != nil {
			log.Fatal().Err(err).Msg("seed provider")
		}
	}
	log.Info().Int("clinics", clinics).Int("providers", providers).Msg("seed complete")
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return def
}
