/*
seed.go - Demo data loader

PURPOSE:

	Populates an empty database with a caretaker, a few patients and their
	medications, plus a plausible dose history so the dashboards have
	something to show.

HOW IT WORKS:
 1. Create one caretaker and N patients through auth.Service (hashed
    passwords, same path as signup)
 2. Create medications backdated Days days
 3. Walk every day from creation through today and, with probability
    TakeRate, replay the dose through Reconciler.MarkTakenOn

The faker is seeded, so the same Options produce the same data.

NOTE:

	Meant for development and demos. Running it twice adds a second set.
*/
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"go.uber.org/zap"

	"github.com/warp/medication-tracker/adherence"
	"github.com/warp/medication-tracker/auth"
)

// DefaultPassword is shared by every seeded account.
const DefaultPassword = "demo1234"

var (
	medicationNames = []string{
		"Metformin", "Lisinopril", "Atorvastatin", "Levothyroxine", "Amlodipine",
		"Omeprazole", "Sertraline", "Losartan", "Simvastatin", "Gabapentin",
	}
	frequencies = []string{"once daily", "twice daily", "every morning", "at bedtime"}
)

// Deps are the services the loader drives.
type Deps struct {
	Store      adherence.Store
	Auth       *auth.Service
	Reconciler *adherence.Reconciler
	Days       adherence.DateKeyProvider
	Logger     *zap.Logger
}

type Options struct {
	Patients              int
	MedicationsPerPatient int
	// Days is the length of each medication's history, today included.
	Days int
	// TakeRate is the probability a given day's dose was taken.
	TakeRate float64
	Seed     int64
	Password string
}

// DefaultOptions is what -seed uses.
func DefaultOptions() Options {
	return Options{
		Patients:              3,
		MedicationsPerPatient: 2,
		Days:                  14,
		TakeRate:              0.8,
		Seed:                  42,
		Password:              DefaultPassword,
	}
}

func (o Options) validate() error {
	switch {
	case o.Patients < 0 || o.MedicationsPerPatient < 0:
		return fmt.Errorf("seed: negative counts")
	case o.Days < 1:
		return fmt.Errorf("seed: days must be at least 1, got %d", o.Days)
	case o.TakeRate < 0 || o.TakeRate > 1:
		return fmt.Errorf("seed: take rate %v outside [0,1]", o.TakeRate)
	case o.Password == "":
		return fmt.Errorf("seed: password required")
	}
	return nil
}

// Result summarizes what was created.
type Result struct {
	Caretaker   adherence.User
	Patients    []adherence.User
	Medications []adherence.Medication
	Doses       int
}

// =============================================================================
// LOADER
// =============================================================================

// Load creates the demo data set.
func Load(ctx context.Context, deps Deps, opts Options) (Result, error) {
	if err := opts.validate(); err != nil {
		return Result{}, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	faker := gofakeit.New(opts.Seed)

	var res Result
	caretaker, err := signup(ctx, deps.Auth, faker, "care", opts.Password, adherence.RoleCaretaker)
	if err != nil {
		return res, err
	}
	res.Caretaker = caretaker

	today := deps.Days.Today()
	start := today.AddDays(-(opts.Days - 1))
	createdAt := deps.Days.Now().In(deps.Days.Location()).AddDate(0, 0, -(opts.Days - 1))

	for i := 0; i < opts.Patients; i++ {
		patient, err := signup(ctx, deps.Auth, faker, "", opts.Password, adherence.RolePatient)
		if err != nil {
			return res, err
		}
		res.Patients = append(res.Patients, patient)

		for j := 0; j < opts.MedicationsPerPatient; j++ {
			med, err := deps.Store.CreateMedication(ctx, adherence.Medication{
				UserID:    patient.ID,
				Name:      faker.RandomString(medicationNames),
				Dosage:    fmt.Sprintf("%dmg", faker.Number(1, 50)*10),
				Frequency: faker.RandomString(frequencies),
				CreatedAt: createdAt.UTC().Truncate(time.Second),
			})
			if err != nil {
				return res, fmt.Errorf("seed: create medication: %w", err)
			}
			res.Medications = append(res.Medications, med)

			doses, err := replay(ctx, deps.Reconciler, faker, med.ID, start, today, opts.TakeRate)
			res.Doses += doses
			if err != nil {
				return res, err
			}
		}
	}

	logger.Info("seeded demo data",
		zap.String("caretaker", res.Caretaker.Username),
		zap.Int("patients", len(res.Patients)),
		zap.Int("medications", len(res.Medications)),
		zap.Int("doses", res.Doses),
		zap.String("from", start.String()),
		zap.String("to", today.String()))
	return res, nil
}

// replay marks the days in [start, today] the faker picks as taken.
func replay(ctx context.Context, r *adherence.Reconciler, faker *gofakeit.Faker, id adherence.MedicationID, start, today adherence.DateKey, rate float64) (int, error) {
	doses := 0
	for day := start; !day.After(today); day = day.AddDays(1) {
		if faker.Float64Range(0, 1) >= rate {
			continue
		}
		if _, err := r.MarkTakenOn(ctx, id, day); err != nil {
			return doses, fmt.Errorf("seed: mark %d taken on %s: %w", id, day, err)
		}
		doses++
	}
	return doses, nil
}

const maxUsernameAttempts = 5

// signup registers a user under a fresh faker username, retrying on
// collisions with existing accounts.
func signup(ctx context.Context, svc *auth.Service, faker *gofakeit.Faker, suffix, password string, role adherence.Role) (adherence.User, error) {
	var lastErr error
	for i := 0; i < maxUsernameAttempts; i++ {
		username := faker.Username()
		if suffix != "" {
			username += "-" + suffix
		}
		user, err := svc.Signup(ctx, username, password, role)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, adherence.ErrDuplicateUsername) {
			return adherence.User{}, fmt.Errorf("seed: signup %s: %w", role, err)
		}
		lastErr = err
	}
	return adherence.User{}, fmt.Errorf("seed: no free username after %d attempts: %w", maxUsernameAttempts, lastErr)
}
