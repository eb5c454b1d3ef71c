package thread

import (
	"encoding/json"
	"testing"

	"github.com/RohitAchyutuni/PlanGenie/internal/models"
)

func assistantMsg(blocks ...models.ContentBlock) models.Message {
	return models.Message{ID: "m", Role: models.RoleAssistant, Content: blocks}
}

func TestExtractFirstOccurrenceWins(t *testing.T) {
	th := &models.ChatThread{
		ID: "t1",
		Messages: []models.Message{
			assistantMsg(models.ContentBlock{
				Type:    models.BlockFlights,
				Flights: []models.Flight{{ID: "f1", Airline: "ANA", Price: 820}},
			}),
			assistantMsg(models.ContentBlock{
				Type:    models.BlockFlights,
				Flights: []models.Flight{{ID: "f1", Airline: "ANA", Price: 999}, {ID: "f2", Airline: "JAL"}},
			}),
		},
	}

	p := ExtractPlan(th)
	if len(p.Flights) != 2 {
		t.Fatalf("expected 2 flights, got %d", len(p.Flights))
	}
	if p.Flights[0].Price != 820 {
		t.Fatalf("first occurrence must win, got price %v", p.Flights[0].Price)
	}
	if p.Flights[1].ID != "f2" {
		t.Fatalf("expected f2 second, got %q", p.Flights[1].ID)
	}
}

func TestExtractLastTextIsSummary(t *testing.T) {
	th := &models.ChatThread{
		ID: "t1",
		Messages: []models.Message{
			{ID: "u", Role: models.RoleUser, Content: []models.ContentBlock{{Type: models.BlockText, Text: "user text"}}},
			assistantMsg(models.ContentBlock{Type: models.BlockText, Text: "first"}),
			assistantMsg(models.ContentBlock{Type: models.BlockText, Text: "second"}),
		},
	}

	p := ExtractPlan(th)
	if p.Summary != "second" {
		t.Fatalf("expected last assistant text as summary, got %q", p.Summary)
	}
}

func TestExtractIgnoresUserBlocks(t *testing.T) {
	th := &models.ChatThread{
		ID: "t1",
		Messages: []models.Message{
			{ID: "u", Role: models.RoleUser, Content: []models.ContentBlock{{
				Type:    models.BlockFlights,
				Flights: []models.Flight{{ID: "sneaky"}},
			}}},
		},
	}
	if p := ExtractPlan(th); len(p.Flights) != 0 {
		t.Fatalf("user blocks must be ignored, got %+v", p.Flights)
	}
}

func TestExtractMemoryFallback(t *testing.T) {
	th := &models.ChatThread{
		ID: "t1",
		Messages: []models.Message{
			assistantMsg(models.ContentBlock{Type: models.BlockText, Text: "from messages"}),
		},
		Memory: &models.ChatMemory{
			Plan: json.RawMessage(`{"flights":[{"id":"f1"}],"summary":"from memory"}`),
		},
	}

	p := ExtractPlan(th)
	if len(p.Flights) != 1 || p.Flights[0].ID != "f1" {
		t.Fatalf("expected fallback flights, got %+v", p.Flights)
	}
	if p.Summary != "from memory" {
		t.Fatalf("non-empty fallback summary must win, got %q", p.Summary)
	}
}

func TestExtractMemoryFallbackKeepsMessageSummary(t *testing.T) {
	th := &models.ChatThread{
		ID: "t1",
		Messages: []models.Message{
			assistantMsg(models.ContentBlock{Type: models.BlockText, Text: "from messages"}),
		},
		Memory: &models.ChatMemory{
			Plan: json.RawMessage(`{"hotels":[{"id":"h1"}]}`),
		},
	}

	p := ExtractPlan(th)
	if len(p.Hotels) != 1 {
		t.Fatalf("expected fallback hotels, got %+v", p.Hotels)
	}
	if p.Summary != "from messages" {
		t.Fatalf("message summary must survive empty fallback summary, got %q", p.Summary)
	}
}

func TestExtractNoFallbackWhenMessagesHaveData(t *testing.T) {
	th := &models.ChatThread{
		ID: "t1",
		Messages: []models.Message{
			assistantMsg(models.ContentBlock{
				Type:   models.BlockHotels,
				Hotels: []models.Hotel{{ID: "h-live"}},
			}),
		},
		Memory: &models.ChatMemory{
			Plan: json.RawMessage(`{"hotels":[{"id":"h-stale"}]}`),
		},
	}

	p := ExtractPlan(th)
	if len(p.Hotels) != 1 || p.Hotels[0].ID != "h-live" {
		t.Fatalf("message data must shadow memory fallback, got %+v", p.Hotels)
	}
}

func TestExtractDeterministic(t *testing.T) {
	th := &models.ChatThread{
		ID: "t1",
		Messages: []models.Message{
			assistantMsg(
				models.ContentBlock{Type: models.BlockFlights, Flights: []models.Flight{{ID: "f1"}}},
				models.ContentBlock{Type: models.BlockItinerary, Itinerary: []models.ItineraryDay{{Date: "2026-04-01"}, {Date: "2026-04-01"}}},
			),
		},
	}

	a, _ := json.Marshal(ExtractPlan(th))
	b, _ := json.Marshal(ExtractPlan(th))
	if string(a) != string(b) {
		t.Fatal("extraction must be deterministic")
	}
	if len(ExtractPlan(th).ItineraryDays) != 1 {
		t.Fatal("duplicate dates must collapse to the first")
	}
}
