package models

// Flight is one flight option in a plan. Identity key: ID.
type Flight struct {
	ID            string  `json:"id"`
	Airline       string  `json:"airline"`
	FlightNumber  string  `json:"flightNumber"`
	DepartAirport string  `json:"departAirport"`
	ArriveAirport string  `json:"arriveAirport"`
	DepartTime    string  `json:"departTime"`
	ArriveTime    string  `json:"arriveTime"`
	Duration      string  `json:"duration"`
	Stops         int     `json:"stops"`
	Cabin         string  `json:"cabin"`
	Price         float64 `json:"price"`
	Currency      string  `json:"currency"`
}

// Hotel is one lodging option in a plan. Identity key: ID.
type Hotel struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Stars        int      `json:"stars"`
	Neighborhood string   `json:"neighborhood"`
	Refundable   bool     `json:"refundable"`
	NightlyPrice float64  `json:"nightlyPrice"`
	TotalPrice   float64  `json:"totalPrice"`
	Currency     string   `json:"currency"`
	Amenities    []string `json:"amenities"`
}

// Activity is one thing to do inside an itinerary time block.
type Activity struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	Description   string `json:"description,omitempty"`
	OpeningHours  string `json:"openingHours,omitempty"`
	EstimatedTime string `json:"estimatedTime"`
	TicketInfo    string `json:"ticketInfo,omitempty"`
	MapLink       string `json:"mapLink,omitempty"`
}

// TimeBlock groups the activities of one part of a day.
type TimeBlock struct {
	Time       string     `json:"time"`
	Activities []Activity `json:"activities"`
	TravelTime string     `json:"travelTime,omitempty"`
}

// ItineraryDay is one day of the trip schedule. Identity key: Date;
// within one itinerary dates are assumed unique.
type ItineraryDay struct {
	Date   string      `json:"date"` // ISO yyyy-MM-dd
	City   string      `json:"city"`
	Blocks []TimeBlock `json:"blocks"`
}

// PlanViewModel is the aggregate plan for one thread: the canonical record
// the side panel renders from. Slices never contain zero-value placeholder
// entries and string fields are never absent.
type PlanViewModel struct {
	Flights       []Flight       `json:"flights"`
	Hotels        []Hotel        `json:"hotels"`
	ItineraryDays []ItineraryDay `json:"itineraryDays"`
	Summary       string         `json:"summary"`
	Notes         string         `json:"notes"`
}

// EmptyPlan returns the canonical all-empty plan with non-nil slices.
func EmptyPlan() PlanViewModel {
	return PlanViewModel{
		Flights:       []Flight{},
		Hotels:        []Hotel{},
		ItineraryDays: []ItineraryDay{},
	}
}

// IsEmpty reports whether the plan carries no data at all.
func (p PlanViewModel) IsEmpty() bool {
	return len(p.Flights) == 0 && len(p.Hotels) == 0 &&
		len(p.ItineraryDays) == 0 && p.Summary == "" && p.Notes == ""
}
