// Package thread orchestrates the active chat thread: load/switch,
// send-message lifecycle, streaming side effects, and reconciliation of the
// plan view model against the backend.
package thread

import (
	"github.com/RohitAchyutuni/PlanGenie/internal/models"
	"github.com/RohitAchyutuni/PlanGenie/internal/plan"
)

// versionToken identifies one observed state of a thread. Extraction is
// memoized on it: an unchanged token means an unchanged derivation, so the
// controller skips the recompute instead of tracking scattered flags.
type versionToken struct {
	threadID     string
	messageCount int
	updatedAt    string
}

func tokenFor(t *models.ChatThread) versionToken {
	return versionToken{
		threadID:     t.ID,
		messageCount: len(t.Messages),
		updatedAt:    t.UpdatedAt,
	}
}

// ExtractPlan derives the plan view model from a thread's message history.
// Assistant messages are scanned in order; flights and hotels are collected
// by id and itinerary days by date, first occurrence winning on duplicates.
// The last text block encountered becomes the summary. When the messages
// yield no plan data at all, the thread's persisted memory snapshot is the
// fallback source. Pure and idempotent: the same thread state always yields
// the same plan.
func ExtractPlan(t *models.ChatThread) models.PlanViewModel {
	flights := []models.Flight{}
	hotels := []models.Hotel{}
	days := []models.ItineraryDay{}
	summary := ""

	seenFlights := map[string]bool{}
	seenHotels := map[string]bool{}
	seenDays := map[string]bool{}

	for _, msg := range t.Messages {
		if msg.Role != models.RoleAssistant {
			continue
		}
		for _, block := range msg.Content {
			switch block.Type {
			case models.BlockFlights:
				for _, f := range block.Flights {
					if !seenFlights[f.ID] {
						seenFlights[f.ID] = true
						flights = append(flights, f)
					}
				}
			case models.BlockHotels:
				for _, h := range block.Hotels {
					if !seenHotels[h.ID] {
						seenHotels[h.ID] = true
						hotels = append(hotels, h)
					}
				}
			case models.BlockItinerary:
				for _, d := range block.Itinerary {
					if !seenDays[d.Date] {
						seenDays[d.Date] = true
						days = append(days, d)
					}
				}
			case models.BlockText:
				if block.Text != "" {
					summary = block.Text
				}
			}
		}
	}

	if len(flights) == 0 && len(hotels) == 0 && len(days) == 0 &&
		t.Memory != nil && len(t.Memory.Plan) > 0 {
		fallback := plan.Normalize(t.Memory.Plan)
		if fallback.Summary != "" {
			summary = fallback.Summary
		}
		fallback.Summary = summary
		return fallback
	}

	out := plan.Normalize(map[string]any{
		"flights":   flights,
		"hotels":    hotels,
		"itinerary": days,
	})
	out.Summary = summary
	return out
}
