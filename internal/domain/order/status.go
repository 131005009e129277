package order

import (
	"fmt"
	"slices"
)

// Built-in order status codes. Negative codes are pre-fulfilment states.
const (
	StatusCancelled        = -300
	StatusAwaitingPayment  = -100
	StatusAwaitingDispatch = 0
	StatusProcessing       = 500
	StatusDispatched       = 1000
	StatusComplete         = 2000
)

// Status is an order status definition.
type Status struct {
	Code int
	Name string
}

// Statuses is a registry of status definitions keyed by code.
type Statuses struct {
	byCode map[int]Status
	codes  []int
}

// NewStatuses returns a registry holding statuses.
func NewStatuses(statuses ...Status) (*Statuses, error) {
	s := &Statuses{byCode: make(map[int]Status, len(statuses))}
	for _, st := range statuses {
		if err := s.Add(st); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// DefaultStatuses returns the built-in statuses.
func DefaultStatuses() *Statuses {
	s, err := NewStatuses(
		Status{Code: StatusCancelled, Name: "Cancelled"},
		Status{Code: StatusAwaitingPayment, Name: "Awaiting payment"},
		Status{Code: StatusAwaitingDispatch, Name: "Awaiting dispatch"},
		Status{Code: StatusProcessing, Name: "Processing"},
		Status{Code: StatusDispatched, Name: "Dispatched"},
		Status{Code: StatusComplete, Name: "Complete"},
	)
	if err != nil {
		panic(err)
	}
	return s
}

// Add registers st. Codes must be unique.
func (s *Statuses) Add(st Status) error {
	if existing, ok := s.byCode[st.Code]; ok {
		return fmt.Errorf("status %d is already defined as %q: %w", st.Code, existing.Name, ErrDuplicateStatus)
	}
	s.byCode[st.Code] = st
	i, _ := slices.BinarySearch(s.codes, st.Code)
	s.codes = slices.Insert(s.codes, i, st.Code)
	return nil
}

// Get returns the status registered under code.
func (s *Statuses) Get(code int) (Status, error) {
	st, ok := s.byCode[code]
	if !ok {
		return Status{}, fmt.Errorf("status %d: %w", code, ErrUnknownStatus)
	}
	return st, nil
}

// Exists reports whether code is registered.
func (s *Statuses) Exists(code int) bool {
	_, ok := s.byCode[code]
	return ok
}

// All returns the registered statuses ordered by code.
func (s *Statuses) All() []Status {
	out := make([]Status, len(s.codes))
	for i, c := range s.codes {
		out[i] = s.byCode[c]
	}
	return out
}

// Len returns the number of registered statuses.
func (s *Statuses) Len() int { return len(s.codes) }
