package plan

import (
	"testing"

	"github.com/RohitAchyutuni/PlanGenie/internal/models"
)

func TestStoreOneNotificationPerSetter(t *testing.T) {
	s := NewStore()
	calls := 0
	s.OnChange(func(models.PlanViewModel) { calls++ })

	s.SetFlights([]models.Flight{{ID: "f1"}})
	s.SetHotels([]models.Hotel{{ID: "h1"}})
	s.SetSummary("summary")

	if calls != 3 {
		t.Fatalf("expected 3 notifications, got %d", calls)
	}
}

func TestStoreListenerSeesFullPlan(t *testing.T) {
	s := NewStore()
	var last models.PlanViewModel
	s.OnChange(func(p models.PlanViewModel) { last = p })

	s.SetFlights([]models.Flight{{ID: "f1"}})
	s.SetSummary("done")

	if len(last.Flights) != 1 || last.Flights[0].ID != "f1" {
		t.Fatalf("expected earlier flights in later snapshot, got %+v", last.Flights)
	}
	if last.Summary != "done" {
		t.Fatalf("expected summary, got %q", last.Summary)
	}
}

func TestStoreResetThenSet(t *testing.T) {
	s := NewStore()
	s.SetFlights([]models.Flight{{ID: "old"}})
	s.SetHotels([]models.Hotel{{ID: "old"}})
	s.SetSummary("old")

	s.ResetPlan()
	s.SetFlights([]models.Flight{{ID: "new"}})

	p := s.Snapshot()
	if len(p.Flights) != 1 || p.Flights[0].ID != "new" {
		t.Fatalf("expected only new flight, got %+v", p.Flights)
	}
	if len(p.Hotels) != 0 || p.Summary != "" {
		t.Fatalf("expected hotels and summary cleared, got %+v", p)
	}
}

func TestStoreNilSliceBecomesEmpty(t *testing.T) {
	s := NewStore()
	s.SetFlights(nil)
	p := s.Snapshot()
	if p.Flights == nil || len(p.Flights) != 0 {
		t.Fatalf("expected non-nil empty flights, got %+v", p.Flights)
	}
}

func TestStoreSnapshotDoesNotAlias(t *testing.T) {
	s := NewStore()
	s.SetHotels([]models.Hotel{{ID: "h1", Name: "Okura"}})

	p := s.Snapshot()
	p.Hotels[0].Name = "mutated"

	if s.Snapshot().Hotels[0].Name != "Okura" {
		t.Fatal("snapshot mutation leaked into store")
	}
}

func TestStoreListenerCanReadStore(t *testing.T) {
	// Listeners run outside the lock; calling back into the store must not
	// deadlock.
	s := NewStore()
	done := make(chan struct{})
	s.OnChange(func(models.PlanViewModel) {
		_ = s.Snapshot()
		close(done)
	})
	s.SetSummary("x")
	<-done
}
