package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rehab/wardshell/internal/eventbus"
	"github.com/rehab/wardshell/internal/patient"
)

type fakeBackend struct {
	listFn      func(ctx context.Context, opts patient.ListOptions) ([]patient.Patient, error)
	getFn       func(ctx context.Context, hn string) (*patient.Patient, error)
	createFn    func(ctx context.Context, req patient.CreateRequest) (*patient.Patient, error)
	updateFn    func(ctx context.Context, hn string, req patient.UpdateRequest) (*patient.Patient, error)
	dischargeFn func(ctx context.Context, hn string) (*patient.DischargeReceipt, error)
}

func (f *fakeBackend) List(ctx context.Context, opts patient.ListOptions) ([]patient.Patient, error) {
	return f.listFn(ctx, opts)
}

func (f *fakeBackend) Get(ctx context.Context, hn string) (*patient.Patient, error) {
	return f.getFn(ctx, hn)
}

func (f *fakeBackend) Create(ctx context.Context, req patient.CreateRequest) (*patient.Patient, error) {
	return f.createFn(ctx, req)
}

func (f *fakeBackend) Update(ctx context.Context, hn string, req patient.UpdateRequest) (*patient.Patient, error) {
	return f.updateFn(ctx, hn, req)
}

func (f *fakeBackend) Discharge(ctx context.Context, hn string) (*patient.DischargeReceipt, error) {
	return f.dischargeFn(ctx, hn)
}

func newTestStore(b Backend) (*PatientStore, *eventbus.Bus) {
	bus := eventbus.New(zerolog.Nop())
	return New(b, bus, zerolog.Nop()), bus
}

func strPtr(s string) *string { return &s }

func TestFetchPatients_ReplacesList(t *testing.T) {
	var gotOpts patient.ListOptions
	s, _ := newTestStore(&fakeBackend{listFn: func(_ context.Context, opts patient.ListOptions) ([]patient.Patient, error) {
		gotOpts = opts
		return []patient.Patient{{HospitalNumber: "H2"}, {HospitalNumber: "H1"}}, nil
	}})

	s.FetchPatients(context.Background(), patient.ListOptions{IncludeDischarged: true})

	st := s.Snapshot()
	if len(st.Patients) != 2 || st.Patients[0].HospitalNumber != "H2" || st.Patients[1].HospitalNumber != "H1" {
		t.Errorf("unexpected patients %+v", st.Patients)
	}
	if st.Loading {
		t.Error("expected loading to be false")
	}
	if !gotOpts.IncludeDischarged {
		t.Error("expected options forwarded")
	}
}

func TestFetchPatients_FailureKeepsListAndClearsLoading(t *testing.T) {
	fail := false
	s, _ := newTestStore(&fakeBackend{listFn: func(context.Context, patient.ListOptions) ([]patient.Patient, error) {
		if fail {
			return nil, &patient.BackendError{Message: "network request failed"}
		}
		return []patient.Patient{{HospitalNumber: "H1"}}, nil
	}})

	s.FetchPatients(context.Background(), patient.ListOptions{})
	fail = true
	s.FetchPatients(context.Background(), patient.ListOptions{})

	st := s.Snapshot()
	if len(st.Patients) != 1 || st.Patients[0].HospitalNumber != "H1" {
		t.Errorf("expected stale list to stay visible, got %+v", st.Patients)
	}
	if st.Loading {
		t.Error("expected loading to be false after failure")
	}
	if st.LastError != "network request failed" {
		t.Errorf("unexpected last error %q", st.LastError)
	}
}

func TestFetchPatients_ClearsLoadingOnPanic(t *testing.T) {
	s, _ := newTestStore(&fakeBackend{listFn: func(context.Context, patient.ListOptions) ([]patient.Patient, error) {
		panic("transport exploded")
	}})

	func() {
		defer func() { recover() }()
		s.FetchPatients(context.Background(), patient.ListOptions{})
	}()

	if s.Loading() {
		t.Error("expected loading to be false after panic")
	}
}

func TestFetchPatients_LoadingWhileInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	s, _ := newTestStore(&fakeBackend{listFn: func(context.Context, patient.ListOptions) ([]patient.Patient, error) {
		close(entered)
		<-release
		return nil, nil
	}})

	done := make(chan struct{})
	go func() {
		s.FetchPatients(context.Background(), patient.ListOptions{})
		close(done)
	}()

	<-entered
	if !s.Loading() {
		t.Error("expected loading while fetch is in flight")
	}
	close(release)
	<-done
	if s.Loading() {
		t.Error("expected loading to clear")
	}
}

func TestFetchPatients_DiscardsStaleResponse(t *testing.T) {
	firstEntered := make(chan struct{})
	releaseFirst := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	s, _ := newTestStore(&fakeBackend{listFn: func(context.Context, patient.ListOptions) ([]patient.Patient, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(firstEntered)
			<-releaseFirst
			return []patient.Patient{{HospitalNumber: "old"}}, nil
		}
		return []patient.Patient{{HospitalNumber: "new"}}, nil
	}})

	done := make(chan struct{})
	go func() {
		s.FetchPatients(context.Background(), patient.ListOptions{})
		close(done)
	}()
	<-firstEntered

	s.FetchPatients(context.Background(), patient.ListOptions{})
	close(releaseFirst)
	<-done

	st := s.Snapshot()
	if len(st.Patients) != 1 || st.Patients[0].HospitalNumber != "new" {
		t.Errorf("expected latest response to win, got %+v", st.Patients)
	}
	if st.Loading {
		t.Error("expected loading to be false")
	}
}

func TestFetchPatient_SetsCurrent(t *testing.T) {
	s, _ := newTestStore(&fakeBackend{getFn: func(_ context.Context, hn string) (*patient.Patient, error) {
		return &patient.Patient{ID: 7, HospitalNumber: hn}, nil
	}})

	p, err := s.FetchPatient(context.Background(), "H7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != 7 {
		t.Errorf("unexpected patient %+v", p)
	}
	cur := s.CurrentPatient()
	if cur == nil || cur.HospitalNumber != "H7" {
		t.Errorf("unexpected current patient %+v", cur)
	}
	if s.Loading() {
		t.Error("expected loading to be false")
	}
}

func TestFetchPatient_ReturnsBackendError(t *testing.T) {
	s, _ := newTestStore(&fakeBackend{getFn: func(context.Context, string) (*patient.Patient, error) {
		return nil, &patient.BackendError{Status: 404, Message: "not found"}
	}})
	s.SelectPatient(&patient.Patient{HospitalNumber: "H1"})

	_, err := s.FetchPatient(context.Background(), "H999")
	var be *patient.BackendError
	if !errors.As(err, &be) || be.Status != 404 {
		t.Fatalf("expected backend 404, got %v", err)
	}
	if !errors.Is(err, patient.ErrNotFound) {
		t.Error("expected ErrNotFound")
	}
	if cur := s.CurrentPatient(); cur == nil || cur.HospitalNumber != "H1" {
		t.Errorf("current patient must be unchanged, got %+v", cur)
	}
	if s.Loading() {
		t.Error("expected loading to be false after failure")
	}
}

func TestFetchPatient_SupersededBySelect(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	s, _ := newTestStore(&fakeBackend{getFn: func(_ context.Context, hn string) (*patient.Patient, error) {
		close(entered)
		<-release
		return &patient.Patient{HospitalNumber: hn}, nil
	}})

	type out struct {
		p   *patient.Patient
		err error
	}
	res := make(chan out)
	go func() {
		p, err := s.FetchPatient(context.Background(), "slow")
		res <- out{p, err}
	}()
	<-entered
	s.SelectPatient(&patient.Patient{HospitalNumber: "picked"})
	close(release)
	r := <-res

	if r.err != nil || r.p.HospitalNumber != "slow" {
		t.Fatalf("caller should still receive the fetched value, got %+v %v", r.p, r.err)
	}
	if cur := s.CurrentPatient(); cur == nil || cur.HospitalNumber != "picked" {
		t.Errorf("expected newer selection to win, got %+v", cur)
	}
}

func TestSelectPatient_EmitsOnce(t *testing.T) {
	s, bus := newTestStore(&fakeBackend{})
	var got []*patient.Patient
	bus.On(EventPatientChanged, func(args ...any) {
		got = append(got, args[0].(*patient.Patient))
	})

	s.SelectPatient(&patient.Patient{HospitalNumber: "p2"})

	if cur := s.CurrentPatient(); cur == nil || cur.HospitalNumber != "p2" {
		t.Fatalf("unexpected current patient %+v", cur)
	}
	if len(got) != 1 || got[0].HospitalNumber != "p2" {
		t.Errorf("expected exactly one event with p2, got %+v", got)
	}
}

func TestSelectPatient_NilEmitsNil(t *testing.T) {
	s, bus := newTestStore(&fakeBackend{})
	calls := 0
	bus.On(EventPatientChanged, func(args ...any) {
		calls++
		if p, _ := args[0].(*patient.Patient); p != nil {
			t.Errorf("expected nil patient, got %+v", p)
		}
	})

	s.SelectPatient(nil)
	if calls != 1 {
		t.Errorf("expected one event, got %d", calls)
	}
}

func TestClearCurrentPatient_DoesNotEmit(t *testing.T) {
	s, bus := newTestStore(&fakeBackend{})
	s.SelectPatient(&patient.Patient{HospitalNumber: "p2"})
	calls := 0
	bus.On(EventPatientChanged, func(...any) { calls++ })

	s.ClearCurrentPatient()

	if s.CurrentPatient() != nil {
		t.Error("expected no current patient")
	}
	if calls != 0 {
		t.Errorf("expected no event, got %d", calls)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	s, _ := newTestStore(&fakeBackend{listFn: func(context.Context, patient.ListOptions) ([]patient.Patient, error) {
		return []patient.Patient{{HospitalNumber: "H1"}}, nil
	}})
	s.FetchPatients(context.Background(), patient.ListOptions{})
	s.SelectPatient(&patient.Patient{HospitalNumber: "H1"})

	st := s.Snapshot()
	st.Patients[0].HospitalNumber = "mutated"
	st.CurrentPatient.HospitalNumber = "mutated"

	again := s.Snapshot()
	if again.Patients[0].HospitalNumber != "H1" || again.CurrentPatient.HospitalNumber != "H1" {
		t.Errorf("snapshot leaked internal state: %+v", again)
	}
}

func TestCreatePatient_Appends(t *testing.T) {
	s, _ := newTestStore(&fakeBackend{createFn: func(_ context.Context, req patient.CreateRequest) (*patient.Patient, error) {
		return &patient.Patient{ID: 3, HospitalNumber: req.HospitalNumber}, nil
	}})

	if _, err := s.CreatePatient(context.Background(), patient.CreateRequest{HospitalNumber: "H3"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ps := s.Patients(); len(ps) != 1 || ps[0].ID != 3 {
		t.Errorf("unexpected patients %+v", ps)
	}
}

func TestUpdatePatient_RefreshesCurrent(t *testing.T) {
	s, bus := newTestStore(&fakeBackend{
		listFn: func(context.Context, patient.ListOptions) ([]patient.Patient, error) {
			return []patient.Patient{{HospitalNumber: "H1"}, {HospitalNumber: "H2"}}, nil
		},
		updateFn: func(_ context.Context, hn string, req patient.UpdateRequest) (*patient.Patient, error) {
			return &patient.Patient{HospitalNumber: hn, Diagnosis: req.Diagnosis}, nil
		},
	})
	s.FetchPatients(context.Background(), patient.ListOptions{})
	s.SelectPatient(&patient.Patient{HospitalNumber: "H2"})

	var events []*patient.Patient
	bus.On(EventPatientChanged, func(args ...any) { events = append(events, args[0].(*patient.Patient)) })

	if _, err := s.UpdatePatient(context.Background(), "H2", patient.UpdateRequest{Diagnosis: strPtr("stroke")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ps := s.Patients()
	if ps[1].Diagnosis == nil || *ps[1].Diagnosis != "stroke" {
		t.Errorf("list entry not refreshed: %+v", ps[1])
	}
	cur := s.CurrentPatient()
	if cur.Diagnosis == nil || *cur.Diagnosis != "stroke" {
		t.Errorf("current patient not refreshed: %+v", cur)
	}
	if len(events) != 1 {
		t.Errorf("expected one change event, got %d", len(events))
	}
}

func TestDischargePatient_RemovesAndDeselects(t *testing.T) {
	s, bus := newTestStore(&fakeBackend{
		listFn: func(context.Context, patient.ListOptions) ([]patient.Patient, error) {
			return []patient.Patient{{HospitalNumber: "H1"}, {HospitalNumber: "H2"}}, nil
		},
		dischargeFn: func(_ context.Context, hn string) (*patient.DischargeReceipt, error) {
			return &patient.DischargeReceipt{Message: "discharged", HospitalNumber: hn}, nil
		},
	})
	s.FetchPatients(context.Background(), patient.ListOptions{})
	s.SelectPatient(&patient.Patient{HospitalNumber: "H1"})

	events := 0
	bus.On(EventPatientChanged, func(args ...any) {
		events++
		if p, _ := args[0].(*patient.Patient); p != nil {
			t.Errorf("expected nil patient, got %+v", p)
		}
	})

	if _, err := s.DischargePatient(context.Background(), "H1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ps := s.Patients(); len(ps) != 1 || ps[0].HospitalNumber != "H2" {
		t.Errorf("unexpected patients %+v", ps)
	}
	if s.CurrentPatient() != nil {
		t.Error("expected discharged patient to be deselected")
	}
	if events != 1 {
		t.Errorf("expected one change event, got %d", events)
	}
}

func TestDischargePatient_RefreshesEntryWhenListIncludesDischarged(t *testing.T) {
	discharged := patient.NewDate(2024, time.June, 3)
	s, _ := newTestStore(&fakeBackend{
		listFn: func(context.Context, patient.ListOptions) ([]patient.Patient, error) {
			return []patient.Patient{{HospitalNumber: "H1"}, {HospitalNumber: "H2"}}, nil
		},
		dischargeFn: func(_ context.Context, hn string) (*patient.DischargeReceipt, error) {
			return &patient.DischargeReceipt{HospitalNumber: hn}, nil
		},
		getFn: func(_ context.Context, hn string) (*patient.Patient, error) {
			return &patient.Patient{HospitalNumber: hn, DischargeDate: &discharged}, nil
		},
	})
	s.FetchPatients(context.Background(), patient.ListOptions{IncludeDischarged: true})

	if _, err := s.DischargePatient(context.Background(), "H1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ps := s.Patients()
	if len(ps) != 2 {
		t.Fatalf("expected entry to remain, got %+v", ps)
	}
	if !ps[0].Discharged() || ps[0].DischargeDate.String() != "2024-06-03" {
		t.Errorf("expected backend discharge date on cached entry, got %+v", ps[0])
	}
	if ps[1].Discharged() {
		t.Errorf("other entries must be untouched, got %+v", ps[1])
	}
	if s.Loading() {
		t.Error("expected loading to be false")
	}
}

func TestDischargePatient_RefreshFailureKeepsEntry(t *testing.T) {
	s, _ := newTestStore(&fakeBackend{
		listFn: func(context.Context, patient.ListOptions) ([]patient.Patient, error) {
			return []patient.Patient{{HospitalNumber: "H1"}}, nil
		},
		dischargeFn: func(_ context.Context, hn string) (*patient.DischargeReceipt, error) {
			return &patient.DischargeReceipt{HospitalNumber: hn}, nil
		},
		getFn: func(context.Context, string) (*patient.Patient, error) {
			return nil, &patient.BackendError{Message: "network request failed"}
		},
	})
	s.FetchPatients(context.Background(), patient.ListOptions{IncludeDischarged: true})

	r, err := s.DischargePatient(context.Background(), "H1")
	if err != nil || r.HospitalNumber != "H1" {
		t.Fatalf("discharge itself succeeded, got %+v %v", r, err)
	}
	if ps := s.Patients(); len(ps) != 1 || ps[0].HospitalNumber != "H1" {
		t.Errorf("expected entry to remain, got %+v", ps)
	}
}

func TestSnapshot_EmptyListEncodesAsArray(t *testing.T) {
	s, _ := newTestStore(&fakeBackend{listFn: func(context.Context, patient.ListOptions) ([]patient.Patient, error) {
		return []patient.Patient{}, nil
	}})

	b, _ := json.Marshal(s.Snapshot().Patients)
	if string(b) != "[]" {
		t.Errorf("expected [] before any fetch, got %s", b)
	}

	s.FetchPatients(context.Background(), patient.ListOptions{})
	b, _ = json.Marshal(s.Snapshot().Patients)
	if string(b) != "[]" {
		t.Errorf("expected [] after empty fetch, got %s", b)
	}
}
