// Package patient holds the patient resource as the backend serves it and a
// typed client for the backend's patient endpoints.
package patient

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar date serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate builds a UTC calendar date.
func NewDate(y int, m time.Month, d int) Date {
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t}, nil
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return fmt.Errorf("empty date")
	}
	// tolerate datetimes
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Patient maps to the backend's patient response.
type Patient struct {
	ID             int     `json:"id"`
	HospitalNumber string  `json:"hospital_number"`
	Name           *string `json:"name,omitempty"`
	Gender         *string `json:"gender,omitempty"`
	Age            *int    `json:"age,omitempty"`
	AdmissionDate  *Date   `json:"admission_date,omitempty"`
	DischargeDate  *Date   `json:"discharge_date,omitempty"`
	Diagnosis      *string `json:"diagnosis,omitempty"`
	ChiefComplaint *string `json:"chief_complaint,omitempty"`
	DaysInHospital int     `json:"days_in_hospital"`
}

// Discharged reports whether the patient has a discharge date.
func (p *Patient) Discharged() bool {
	return p.DischargeDate != nil
}

// DisplayName returns the name, falling back to the hospital number.
func (p *Patient) DisplayName() string {
	if p.Name != nil && *p.Name != "" {
		return *p.Name
	}
	return p.HospitalNumber
}

// CreateRequest is the payload for admitting a patient.
type CreateRequest struct {
	HospitalNumber string  `json:"hospital_number"`
	Name           *string `json:"name,omitempty"`
	Gender         *string `json:"gender,omitempty"`
	Age            *int    `json:"age,omitempty"`
	AdmissionDate  Date    `json:"admission_date"`
	ChiefComplaint *string `json:"chief_complaint,omitempty"`
	Diagnosis      *string `json:"diagnosis,omitempty"`
	PastHistory    *string `json:"past_history,omitempty"`
	AllergyHistory *string `json:"allergy_history,omitempty"`
	SpecialistExam *string `json:"specialist_exam,omitempty"`
	InitialNote    *string `json:"initial_note,omitempty"`
}

func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.HospitalNumber) == "" {
		return fmt.Errorf("hospital_number is required")
	}
	if r.AdmissionDate.IsZero() {
		return fmt.Errorf("admission_date is required")
	}
	if r.Age != nil && *r.Age < 0 {
		return fmt.Errorf("age must not be negative")
	}
	return nil
}

// UpdateRequest carries only the fields to change.
type UpdateRequest struct {
	Name           *string `json:"name,omitempty"`
	Gender         *string `json:"gender,omitempty"`
	Age            *int    `json:"age,omitempty"`
	DischargeDate  *Date   `json:"discharge_date,omitempty"`
	Diagnosis      *string `json:"diagnosis,omitempty"`
	ChiefComplaint *string `json:"chief_complaint,omitempty"`
	PastHistory    *string `json:"past_history,omitempty"`
	AllergyHistory *string `json:"allergy_history,omitempty"`
	SpecialistExam *string `json:"specialist_exam,omitempty"`
}

func (r *UpdateRequest) Validate() error {
	if r.Age != nil && *r.Age < 0 {
		return fmt.Errorf("age must not be negative")
	}
	return nil
}

// DischargeReceipt is returned by the backend after a soft discharge.
type DischargeReceipt struct {
	Message        string `json:"message"`
	HospitalNumber string `json:"hospital_number"`
}

// ListOptions filters the patient list.
type ListOptions struct {
	IncludeDischarged bool
	Search            string
}
