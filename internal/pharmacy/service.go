// Package pharmacy is the operation surface collaborators call: medicine
// and prescription maintenance, tag binding, dispensing and the inventory
// counts dashboards refresh.
//
// Every operation runs against the canonical local store and returns
// synchronously. Sync happens behind the store and never blocks a caller.
package pharmacy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/rxvault/internal/dispense"
	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/policy"
	"github.com/roach88/rxvault/internal/store"
	"github.com/roach88/rxvault/internal/tags"
)

// SettingsSource supplies the inventory thresholds in effect. It is read
// on every query, never cached.
type SettingsSource interface {
	Thresholds(ctx context.Context, defaults policy.Thresholds) (policy.Thresholds, error)
}

// Service is the collaborator façade over the store, the tag registry and
// the dispensing workflow.
type Service struct {
	store    *store.Store
	tags     *tags.Registry
	dispense *dispense.Workflow

	settings SettingsSource
	defaults policy.Thresholds
	ids      model.IDGenerator
	now      func() time.Time
	rule     dispense.QuantityRule
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithIDGenerator sets the generator for new entity ids.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(s *Service) {
		s.ids = g
	}
}

// WithDefaultThresholds sets the thresholds used when no setting is stored.
func WithDefaultThresholds(th policy.Thresholds) Option {
	return func(s *Service) {
		s.defaults = th
	}
}

// WithSettings replaces the store as the thresholds source.
func WithSettings(src SettingsSource) Option {
	return func(s *Service) {
		s.settings = src
	}
}

// WithClock sets the clock that decides "today" for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithQuantityRule sets the dispense quantity rule.
func WithQuantityRule(r dispense.QuantityRule) Option {
	return func(s *Service) {
		s.rule = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// New wires a Service over st.
func New(st *store.Store, opts ...Option) *Service {
	s := &Service{
		store:    st,
		settings: st,
		defaults: policy.DefaultThresholds(),
		ids:      model.UUIDv7Generator{},
		now:      time.Now,
		rule:     dispense.QuantityUnit,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tags = tags.New(st, tags.WithIDGenerator(s.ids), tags.WithLogger(s.logger))
	s.dispense = dispense.New(st, dispense.WithQuantityRule(s.rule), dispense.WithLogger(s.logger))
	return s
}

// Store returns the underlying canonical store.
func (s *Service) Store() *store.Store {
	return s.store
}

// Today returns the reference date for expiry checks.
func (s *Service) Today() model.Date {
	return model.DateOf(s.now())
}

// Thresholds returns the inventory thresholds currently in effect.
func (s *Service) Thresholds(ctx context.Context) (policy.Thresholds, error) {
	th, err := s.settings.Thresholds(ctx, s.defaults)
	if err != nil {
		return policy.Thresholds{}, fmt.Errorf("read thresholds: %w", err)
	}
	return th, nil
}

// BindTag binds tagID to an Active prescription.
func (s *Service) BindTag(ctx context.Context, tagID, prescriptionID string) (model.TagBinding, error) {
	return s.tags.Bind(ctx, tagID, prescriptionID)
}

// ReadTag returns what tagID reports, or false when it has no live binding.
func (s *Service) ReadTag(ctx context.Context, tagID string) (model.BindingSnapshot, bool, error) {
	return s.tags.Read(ctx, tagID)
}

// TagHistory lists every binding tagID ever had.
func (s *Service) TagHistory(ctx context.Context, tagID string) ([]model.TagBinding, error) {
	return s.tags.History(ctx, tagID)
}

// Dispense fulfils the prescription bound to tagID.
func (s *Service) Dispense(ctx context.Context, tagID, pharmacistID string) (dispense.Receipt, error) {
	return s.dispense.Dispense(ctx, tagID, pharmacistID)
}

// DispenseHistory lists completed dispenses.
func (s *Service) DispenseHistory(ctx context.Context, f dispense.HistoryFilter) ([]dispense.HistoryEntry, error) {
	return s.dispense.History(ctx, f)
}

// AddPatient stores a new patient, assigning an id when none is given.
func (s *Service) AddPatient(ctx context.Context, p model.Patient) (model.Patient, error) {
	if p.ID == "" {
		p.ID = s.ids.Generate()
	}
	return s.store.PutPatient(ctx, p)
}

// ListPatients returns all patients.
func (s *Service) ListPatients(ctx context.Context) ([]model.Patient, error) {
	return s.store.ListPatients(ctx)
}

// AddEmployee stores a new employee, assigning an id when none is given.
func (s *Service) AddEmployee(ctx context.Context, e model.Employee) (model.Employee, error) {
	if e.ID == "" {
		e.ID = s.ids.Generate()
	}
	e.Role = strings.ToLower(strings.TrimSpace(e.Role))
	return s.store.PutEmployee(ctx, e)
}

// ListEmployees returns all employees.
func (s *Service) ListEmployees(ctx context.Context) ([]model.Employee, error) {
	return s.store.ListEmployees(ctx)
}
