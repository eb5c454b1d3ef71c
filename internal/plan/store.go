package plan

import (
	"sync"

	"github.com/RohitAchyutuni/PlanGenie/internal/metrics"
	"github.com/RohitAchyutuni/PlanGenie/internal/models"
)

// Listener receives the full plan after every store change.
type Listener func(models.PlanViewModel)

// Store is the single source of truth for the current plan view model.
// One Store exists per session; it is created by the controller and passed
// by reference to consumers, never reached through a package global. Each
// setter replaces its slice wholesale and notifies listeners exactly once;
// merging and dedup are the caller's job.
type Store struct {
	mu        sync.Mutex
	plan      models.PlanViewModel
	listeners []Listener
}

// NewStore creates a store holding the canonical empty plan.
func NewStore() *Store {
	return &Store{plan: models.EmptyPlan()}
}

// OnChange registers a listener for store updates. Listeners are invoked
// outside the store lock, in registration order, once per setter call.
func (s *Store) OnChange(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SetFlights replaces the flights slice.
func (s *Store) SetFlights(flights []models.Flight) {
	s.mu.Lock()
	if flights == nil {
		flights = []models.Flight{}
	}
	s.plan.Flights = flights
	s.notifyLocked("flights")
}

// SetHotels replaces the hotels slice.
func (s *Store) SetHotels(hotels []models.Hotel) {
	s.mu.Lock()
	if hotels == nil {
		hotels = []models.Hotel{}
	}
	s.plan.Hotels = hotels
	s.notifyLocked("hotels")
}

// SetItineraryDays replaces the itinerary days slice.
func (s *Store) SetItineraryDays(days []models.ItineraryDay) {
	s.mu.Lock()
	if days == nil {
		days = []models.ItineraryDay{}
	}
	s.plan.ItineraryDays = days
	s.notifyLocked("itinerary")
}

// SetSummary replaces the summary text.
func (s *Store) SetSummary(summary string) {
	s.mu.Lock()
	s.plan.Summary = summary
	s.notifyLocked("summary")
}

// SetNotes replaces the notes text.
func (s *Store) SetNotes(notes string) {
	s.mu.Lock()
	s.plan.Notes = notes
	s.notifyLocked("notes")
}

// ResetPlan clears every slice back to the canonical empty state. Safe to
// call at any time, any number of times.
func (s *Store) ResetPlan() {
	s.mu.Lock()
	s.plan = models.EmptyPlan()
	s.notifyLocked("reset")
}

// Snapshot returns a copy of the current plan. The top-level slices are
// copied so callers cannot alias the store's state.
func (s *Store) Snapshot() models.PlanViewModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() models.PlanViewModel {
	p := s.plan
	p.Flights = append([]models.Flight{}, s.plan.Flights...)
	p.Hotels = append([]models.Hotel{}, s.plan.Hotels...)
	p.ItineraryDays = append([]models.ItineraryDay{}, s.plan.ItineraryDays...)
	return p
}

// notifyLocked releases the lock and delivers one update to every listener.
func (s *Store) notifyLocked(kind string) {
	snapshot := s.snapshotLocked()
	listeners := append([]Listener{}, s.listeners...)
	s.mu.Unlock()

	metrics.PlanUpdates.WithLabelValues(kind).Inc()
	for _, fn := range listeners {
		fn(snapshot)
	}
}
