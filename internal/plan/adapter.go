// Package plan holds the canonical trip-plan view model logic: the adapter
// that normalizes raw plan JSON and the reactive store the UI renders from.
package plan

import (
	"encoding/json"

	"github.com/RohitAchyutuni/PlanGenie/internal/models"
)

// Normalize maps arbitrary, possibly partial plan JSON onto the canonical
// view model. It accepts nil, raw JSON bytes, generic maps, or typed
// structs, tolerates both the unified {itinerary:{days:[...]}} shape and the
// legacy flat {itinerary:[...]} shape, filters null entries out of every
// slice, and coerces summary/notes to strings. It is pure and never panics;
// malformed input degrades to the empty record. Raw shape detection happens
// here and nowhere else.
func Normalize(raw any) models.PlanViewModel {
	out := models.EmptyPlan()

	m := toMap(raw)
	if m == nil {
		return out
	}

	out.Flights = decodeSlice[models.Flight](m["flights"])
	out.Hotels = decodeSlice[models.Hotel](m["hotels"])
	out.ItineraryDays = decodeSlice[models.ItineraryDay](itineraryDays(m))
	out.Summary = coerceString(m["summary"])
	out.Notes = coerceString(m["notes"])

	return out
}

// toMap renders the input as a generic JSON object, or nil when it is not one.
func toMap(raw any) map[string]any {
	switch v := raw.(type) {
	case nil:
		return nil
	case map[string]any:
		return v
	case json.RawMessage:
		return unmarshalMap([]byte(v))
	case []byte:
		return unmarshalMap(v)
	default:
		// Typed structs take the marshal round-trip.
		data, err := json.Marshal(raw)
		if err != nil {
			return nil
		}
		return unmarshalMap(data)
	}
}

func unmarshalMap(data []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// itineraryDays resolves the itinerary source value. Unified payloads nest
// the days under itinerary.days; legacy payloads carry a flat array; the
// adapter's own output uses itineraryDays. All three remain accepted because
// all three exist in historical persisted data.
func itineraryDays(m map[string]any) any {
	if days, ok := m["itineraryDays"]; ok && days != nil {
		return days
	}
	switch it := m["itinerary"].(type) {
	case map[string]any:
		return it["days"]
	default:
		return it
	}
}

// decodeSlice decodes a generic value into a typed slice, dropping null and
// undecodable elements. Anything that is not an array yields the empty slice.
func decodeSlice[T any](v any) []T {
	out := []T{}
	if v == nil {
		return out
	}

	data, err := json.Marshal(v)
	if err != nil {
		return out
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return out
	}

	for _, item := range items {
		if len(item) == 0 || string(item) == "null" {
			continue
		}
		var t T
		if err := json.Unmarshal(item, &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

// coerceString renders a JSON value as a string: strings verbatim, null and
// absence as empty, everything else re-encoded.
func coerceString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
