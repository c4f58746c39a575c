package pharmacy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/store"
)

// Catalogue is the YAML seed document.
//
//	medicines:
//	  - name: Metformin
//	    dosage: 500mg
//	    stock: 40
//	    unit: tablet
//	    expiry_date: 2026-12-31
//	    price_cents: 250
type Catalogue struct {
	Medicines     []SeedMedicine     `yaml:"medicines"`
	Patients      []SeedPatient      `yaml:"patients"`
	Employees     []SeedEmployee     `yaml:"employees"`
	Prescriptions []SeedPrescription `yaml:"prescriptions"`
}

type SeedMedicine struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Dosage     string `yaml:"dosage"`
	Stock      int64  `yaml:"stock"`
	Unit       string `yaml:"unit"`
	ExpiryDate string `yaml:"expiry_date"`
	PriceCents int64  `yaml:"price_cents"`
}

type SeedPatient struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	DateOfBirth string `yaml:"date_of_birth"`
	Contact     string `yaml:"contact"`
}

type SeedEmployee struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Role string `yaml:"role"`
}

type SeedPrescription struct {
	ID           string `yaml:"id"`
	PatientID    string `yaml:"patient_id"`
	PatientName  string `yaml:"patient_name"`
	Medication   string `yaml:"medication"`
	Dosage       string `yaml:"dosage"`
	Frequency    string `yaml:"frequency"`
	Duration     string `yaml:"duration"`
	Instructions string `yaml:"instructions"`
	DoctorID     string `yaml:"doctor_id"`
	DoctorName   string `yaml:"doctor_name"`
}

// SeedResult counts what ImportCatalogue inserted and skipped.
type SeedResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// ParseCatalogue decodes a seed document. Unknown keys are errors.
func ParseCatalogue(r io.Reader) (Catalogue, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Catalogue
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return Catalogue{}, nil
		}
		return Catalogue{}, fmt.Errorf("parse catalogue: %w", err)
	}
	return c, nil
}

// ImportCatalogue inserts every entry of the seed document in one
// transaction, ignoring duplicates. Medicines are matched by name, the
// other entities by id. Entries without a name (or medication) are
// skipped.
func (s *Service) ImportCatalogue(ctx context.Context, r io.Reader) (SeedResult, error) {
	c, err := ParseCatalogue(r)
	if err != nil {
		return SeedResult{}, err
	}

	var res SeedResult
	err = s.store.Update(ctx, func(tx *store.Tx) error {
		res = SeedResult{}
		for _, sm := range c.Medicines {
			ok, err := s.seedMedicine(ctx, tx, sm)
			if err != nil {
				return err
			}
			res.count(ok)
		}
		for _, sp := range c.Patients {
			ok, err := s.seedPatient(ctx, tx, sp)
			if err != nil {
				return err
			}
			res.count(ok)
		}
		for _, se := range c.Employees {
			ok, err := s.seedEmployee(ctx, tx, se)
			if err != nil {
				return err
			}
			res.count(ok)
		}
		for _, sp := range c.Prescriptions {
			ok, err := s.seedPrescription(ctx, tx, sp)
			if err != nil {
				return err
			}
			res.count(ok)
		}
		return nil
	})
	if err != nil {
		return SeedResult{}, fmt.Errorf("import catalogue: %w", err)
	}

	s.logger.Info("seeded catalogue", "inserted", res.Inserted, "skipped", res.Skipped)
	return res, nil
}

func (r *SeedResult) count(inserted bool) {
	if inserted {
		r.Inserted++
	} else {
		r.Skipped++
	}
}

func (s *Service) seedMedicine(ctx context.Context, tx *store.Tx, sm SeedMedicine) (bool, error) {
	name := strings.TrimSpace(sm.Name)
	if name == "" {
		return false, nil
	}
	_, err := tx.MedicineByName(ctx, name)
	if err == nil {
		return false, nil
	}
	if !store.IsNotFound(err) {
		return false, err
	}

	m := model.Medicine{
		ID:         sm.ID,
		Name:       name,
		Dosage:     sm.Dosage,
		Stock:      sm.Stock,
		Unit:       sm.Unit,
		PriceCents: sm.PriceCents,
	}
	if m.ID == "" {
		m.ID = s.ids.Generate()
	}
	if sm.ExpiryDate != "" {
		if m.ExpiryDate, err = model.ParseDate(sm.ExpiryDate); err != nil {
			return false, fmt.Errorf("medicine %s: %w", name, err)
		}
	}
	if _, err := tx.PutMedicine(ctx, m); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) seedPatient(ctx context.Context, tx *store.Tx, sp SeedPatient) (bool, error) {
	if strings.TrimSpace(sp.Name) == "" {
		return false, nil
	}
	p := model.Patient{ID: sp.ID, Name: strings.TrimSpace(sp.Name), Contact: sp.Contact}
	if p.ID == "" {
		p.ID = s.ids.Generate()
	} else if _, err := tx.GetPatient(ctx, p.ID); err == nil {
		return false, nil
	} else if !store.IsNotFound(err) {
		return false, err
	}
	if sp.DateOfBirth != "" {
		dob, err := model.ParseDate(sp.DateOfBirth)
		if err != nil {
			return false, fmt.Errorf("patient %s: %w", p.Name, err)
		}
		p.DateOfBirth = dob
	}
	if _, err := tx.PutPatient(ctx, p); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) seedEmployee(ctx context.Context, tx *store.Tx, se SeedEmployee) (bool, error) {
	if strings.TrimSpace(se.Name) == "" {
		return false, nil
	}
	e := model.Employee{
		ID:   se.ID,
		Name: strings.TrimSpace(se.Name),
		Role: strings.ToLower(strings.TrimSpace(se.Role)),
	}
	if e.ID == "" {
		e.ID = s.ids.Generate()
	} else if _, err := tx.GetEmployee(ctx, e.ID); err == nil {
		return false, nil
	} else if !store.IsNotFound(err) {
		return false, err
	}
	if _, err := tx.PutEmployee(ctx, e); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) seedPrescription(ctx context.Context, tx *store.Tx, sp SeedPrescription) (bool, error) {
	if strings.TrimSpace(sp.Medication) == "" {
		return false, nil
	}
	p := model.Prescription{
		ID:           sp.ID,
		PatientID:    sp.PatientID,
		PatientName:  sp.PatientName,
		Medication:   sp.Medication,
		Dosage:       sp.Dosage,
		Frequency:    sp.Frequency,
		Duration:     sp.Duration,
		Instructions: sp.Instructions,
		DoctorID:     sp.DoctorID,
		DoctorName:   sp.DoctorName,
		Status:       model.StatusActive,
	}
	if p.ID == "" {
		p.ID = s.ids.Generate()
	} else if _, err := tx.GetPrescription(ctx, p.ID); err == nil {
		return false, nil
	} else if !store.IsNotFound(err) {
		return false, err
	}
	if _, err := tx.PutPrescription(ctx, p); err != nil {
		return false, err
	}
	return true, nil
}
