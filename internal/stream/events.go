// Package stream consumes the assistant's server-sent event stream and
// dispatches typed callbacks to the thread controller.
package stream

import "github.com/RohitAchyutuni/PlanGenie/internal/models"

// SchemaVersion is the plan-stream protocol version this client speaks.
// It is sent on every stream request; events outside the closed kind set
// below are logged and counted, never silently ignored.
const SchemaVersion = "1"

// Event kinds of the plan-stream protocol. The set is closed: a server
// event with any other name is an unknown event.
const (
	EventOpen      = "open"
	EventText      = "text"
	EventFlights   = "flights"
	EventHotels    = "hotels"
	EventItinerary = "itinerary"
	EventSummary   = "summary"
	EventFinal     = "final"
	EventError     = "error"
)

// Callbacks receives stream events. Exactly one callback fires per server
// event. OnFinal fires at most once and only when the stream completes
// naturally; cancellation never triggers it. OnClose fires when the
// transport shuts down, whatever the reason, unless the stream was
// cancelled. Nil callbacks are skipped.
type Callbacks struct {
	OnOpen      func()
	OnTextChunk func(text string)
	OnFlights   func(flights []models.Flight)
	OnHotels    func(hotels []models.Hotel)
	OnItinerary func(days []models.ItineraryDay)
	OnSummary   func(summary string)
	OnError     func(err error)
	OnClose     func()
	OnFinal     func()
}
