package adherence

import (
	"context"
	"strings"
	"time"
)

// Medications is the plain CRUD surface over MedicationStore. It stamps
// CreatedAt from the same provider the Engine uses, so the adherence window
// and the log agree on what "today" means.
type Medications struct {
	store MedicationStore
	days  DateKeyProvider
}

func NewMedications(store MedicationStore, days DateKeyProvider) *Medications {
	return &Medications{store: store, days: days}
}

// Create registers a medication for userID.
func (s *Medications) Create(ctx context.Context, userID UserID, u MedicationUpdate) (Medication, error) {
	if userID <= 0 {
		return Medication{}, &InvalidInputError{Field: "user id", Value: userID}
	}
	if err := validateUpdate(u); err != nil {
		return Medication{}, err
	}

	med, err := s.store.CreateMedication(ctx, Medication{
		UserID:    userID,
		Name:      strings.TrimSpace(u.Name),
		Dosage:    strings.TrimSpace(u.Dosage),
		Frequency: strings.TrimSpace(u.Frequency),
		CreatedAt: s.days.Now().UTC().Truncate(time.Second),
	})
	if err != nil {
		return Medication{}, unavailable("create medication", err)
	}
	return med, nil
}

// Get returns the medication or a NotFound error.
func (s *Medications) Get(ctx context.Context, id MedicationID) (Medication, error) {
	if id <= 0 {
		return Medication{}, &InvalidInputError{Field: "medication id", Value: id}
	}
	med, err := s.store.GetMedication(ctx, id)
	if err != nil {
		return Medication{}, unavailable("load medication", err)
	}
	if med == nil {
		return Medication{}, &NotFoundError{Resource: "medication", ID: int64(id)}
	}
	return *med, nil
}

func (s *Medications) List(ctx context.Context, userID UserID) ([]Medication, error) {
	meds, err := s.store.ListMedications(ctx, userID)
	if err != nil {
		return nil, unavailable("list medications", err)
	}
	return meds, nil
}

// Update changes name, dosage and frequency. CreatedAt is never touched.
func (s *Medications) Update(ctx context.Context, id MedicationID, u MedicationUpdate) error {
	if id <= 0 {
		return &InvalidInputError{Field: "medication id", Value: id}
	}
	if err := validateUpdate(u); err != nil {
		return err
	}
	u.Name = strings.TrimSpace(u.Name)
	u.Dosage = strings.TrimSpace(u.Dosage)
	u.Frequency = strings.TrimSpace(u.Frequency)

	ok, err := s.store.UpdateMedication(ctx, id, u)
	if err != nil {
		return unavailable("update medication", err)
	}
	if !ok {
		return &NotFoundError{Resource: "medication", ID: int64(id)}
	}
	return nil
}

// Delete removes the medication and its log entries.
func (s *Medications) Delete(ctx context.Context, id MedicationID) error {
	if id <= 0 {
		return &InvalidInputError{Field: "medication id", Value: id}
	}
	ok, err := s.store.DeleteMedication(ctx, id)
	if err != nil {
		return unavailable("delete medication", err)
	}
	if !ok {
		return &NotFoundError{Resource: "medication", ID: int64(id)}
	}
	return nil
}

func validateUpdate(u MedicationUpdate) error {
	if strings.TrimSpace(u.Name) == "" {
		return &InvalidInputError{Field: "name", Value: u.Name}
	}
	return nil
}
