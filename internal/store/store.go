// Package store is the renderer-side cache of patient data. It is the only
// component that calls the backend for patient resources, and it announces
// selection changes on the event bus.
package store

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rehab/wardshell/internal/eventbus"
	"github.com/rehab/wardshell/internal/patient"
)

// EventPatientChanged carries the newly selected *patient.Patient, or nil.
const EventPatientChanged = "patient-changed"

// Backend is the patient API the store drives. *patient.Client implements it.
type Backend interface {
	List(ctx context.Context, opts patient.ListOptions) ([]patient.Patient, error)
	Get(ctx context.Context, hospitalNumber string) (*patient.Patient, error)
	Create(ctx context.Context, req patient.CreateRequest) (*patient.Patient, error)
	Update(ctx context.Context, hospitalNumber string, req patient.UpdateRequest) (*patient.Patient, error)
	Discharge(ctx context.Context, hospitalNumber string) (*patient.DischargeReceipt, error)
}

// State is a point-in-time copy of the store.
type State struct {
	Patients       []patient.Patient
	CurrentPatient *patient.Patient
	Loading        bool
	LastError      string
}

// PatientStore holds the patient list and the active patient. Overlapping
// fetches are sequenced: only the most recently issued list or patient
// request may apply its response.
type PatientStore struct {
	backend Backend
	bus     *eventbus.Bus
	logger  zerolog.Logger

	mu                sync.Mutex
	patients          []patient.Patient
	current           *patient.Patient
	inflight          int
	lastErr           string
	listSeq           uint64
	currentSeq        uint64
	includeDischarged bool
}

// New creates an empty store.
func New(backend Backend, bus *eventbus.Bus, logger zerolog.Logger) *PatientStore {
	return &PatientStore{
		backend:  backend,
		bus:      bus,
		logger:   logger,
		patients: []patient.Patient{},
	}
}

// Snapshot returns a copy of the current state.
func (s *PatientStore) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Patients:  append(make([]patient.Patient, 0, len(s.patients)), s.patients...),
		Loading:   s.inflight > 0,
		LastError: s.lastErr,
	}
	if s.current != nil {
		cp := *s.current
		st.CurrentPatient = &cp
	}
	return st
}

// Patients returns a copy of the cached list.
func (s *PatientStore) Patients() []patient.Patient {
	return s.Snapshot().Patients
}

// CurrentPatient returns the active patient or nil.
func (s *PatientStore) CurrentPatient() *patient.Patient {
	return s.Snapshot().CurrentPatient
}

// Loading reports whether any fetch or mutation is in flight.
func (s *PatientStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

// FetchPatients replaces the cached list with the backend's. Failures are
// logged and recorded in LastError; the previous list stays visible.
func (s *PatientStore) FetchPatients(ctx context.Context, opts patient.ListOptions) {
	s.mu.Lock()
	s.listSeq++
	seq := s.listSeq
	s.mu.Unlock()

	done := s.begin()
	defer done()

	list, err := s.backend.List(ctx, opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.listSeq {
		s.logger.Debug().Uint64("seq", seq).Msg("discarding stale patient list")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("fetch patients failed")
		s.lastErr = err.Error()
		return
	}
	s.patients = list
	s.includeDischarged = opts.IncludeDischarged
	s.lastErr = ""
}

// FetchPatient loads one patient and makes it current. The fetched value is
// returned even if a newer selection has superseded it.
func (s *PatientStore) FetchPatient(ctx context.Context, hospitalNumber string) (*patient.Patient, error) {
	s.mu.Lock()
	s.currentSeq++
	seq := s.currentSeq
	s.mu.Unlock()

	done := s.begin()
	defer done()

	p, err := s.backend.Get(ctx, hospitalNumber)
	if err != nil {
		s.logger.Error().Err(err).Str("hospital_number", hospitalNumber).Msg("fetch patient failed")
		return nil, err
	}

	s.mu.Lock()
	if seq == s.currentSeq {
		cp := *p
		s.current = &cp
	} else {
		s.logger.Debug().Uint64("seq", seq).Msg("discarding stale patient")
	}
	s.mu.Unlock()
	return p, nil
}

// SelectPatient makes p current and emits EventPatientChanged with it.
// Passing nil deselects and emits nil.
func (s *PatientStore) SelectPatient(p *patient.Patient) {
	var cp *patient.Patient
	if p != nil {
		v := *p
		cp = &v
	}

	s.mu.Lock()
	s.currentSeq++
	s.current = cp
	s.mu.Unlock()

	s.emitChanged(cp)
}

// ClearCurrentPatient deselects without notifying subscribers.
func (s *PatientStore) ClearCurrentPatient() {
	s.mu.Lock()
	s.currentSeq++
	s.current = nil
	s.mu.Unlock()
}

// CreatePatient admits a patient and appends it to the cached list.
func (s *PatientStore) CreatePatient(ctx context.Context, req patient.CreateRequest) (*patient.Patient, error) {
	done := s.begin()
	defer done()

	p, err := s.backend.Create(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).Str("hospital_number", req.HospitalNumber).Msg("create patient failed")
		return nil, err
	}

	s.mu.Lock()
	s.patients = append(s.patients, *p)
	s.mu.Unlock()
	return p, nil
}

// UpdatePatient applies req and refreshes the cached copies of the patient.
func (s *PatientStore) UpdatePatient(ctx context.Context, hospitalNumber string, req patient.UpdateRequest) (*patient.Patient, error) {
	done := s.begin()
	defer done()

	p, err := s.backend.Update(ctx, hospitalNumber, req)
	if err != nil {
		s.logger.Error().Err(err).Str("hospital_number", hospitalNumber).Msg("update patient failed")
		return nil, err
	}

	s.mu.Lock()
	for i := range s.patients {
		if s.patients[i].HospitalNumber == hospitalNumber {
			s.patients[i] = *p
		}
	}
	var changed *patient.Patient
	if s.current != nil && s.current.HospitalNumber == hospitalNumber {
		cp := *p
		s.current = &cp
		s.currentSeq++
		changed = &cp
	}
	s.mu.Unlock()

	if changed != nil {
		s.emitChanged(changed)
	}
	return p, nil
}

// DischargePatient soft-deletes the patient on the backend.
func (s *PatientStore) DischargePatient(ctx context.Context, hospitalNumber string) (*patient.DischargeReceipt, error) {
	done := s.begin()
	defer done()

	r, err := s.backend.Discharge(ctx, hospitalNumber)
	if err != nil {
		s.logger.Error().Err(err).Str("hospital_number", hospitalNumber).Msg("discharge patient failed")
		return nil, err
	}

	s.mu.Lock()
	keepEntry := s.includeDischarged
	s.mu.Unlock()

	// A list that shows discharged records needs the backend's view of the
	// entry, including its discharge date.
	var refreshed *patient.Patient
	if keepEntry {
		refreshed, err = s.backend.Get(ctx, hospitalNumber)
		if err != nil {
			s.logger.Warn().Err(err).Str("hospital_number", hospitalNumber).Msg("refresh discharged patient failed")
		}
	}

	s.mu.Lock()
	switch {
	case refreshed != nil:
		for i := range s.patients {
			if s.patients[i].HospitalNumber == hospitalNumber {
				s.patients[i] = *refreshed
			}
		}
	case !keepEntry:
		kept := s.patients[:0:0]
		for _, p := range s.patients {
			if p.HospitalNumber != hospitalNumber {
				kept = append(kept, p)
			}
		}
		s.patients = kept
	}
	deselected := s.current != nil && s.current.HospitalNumber == hospitalNumber
	if deselected {
		s.current = nil
		s.currentSeq++
	}
	s.mu.Unlock()

	if deselected {
		s.emitChanged(nil)
	}
	return r, nil
}

// begin marks an operation in flight. The returned func must be deferred so
// loading clears even if the backend call panics.
func (s *PatientStore) begin() func() {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}
}

func (s *PatientStore) emitChanged(p *patient.Patient) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(EventPatientChanged, p)
}
