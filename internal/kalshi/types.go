package kalshi

import (
	"time"
)

// Event is an open or settled event within a series.
type Event struct {
	EventTicker  string `json:"event_ticker"`
	SeriesTicker string `json:"series_ticker"`
	Title        string `json:"title"`
	SubTitle     string `json:"sub_title"`
	Category     string `json:"category"`
	StrikeDate   string `json:"strike_date,omitempty"`
}

// Strike parses StrikeDate; ok is false when it is absent or malformed.
func (e Event) Strike() (time.Time, bool) {
	if e.StrikeDate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, e.StrikeDate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Market is a binary contract. Prices are in cents (0-100).
type Market struct {
	Ticker       string `json:"ticker"`
	EventTicker  string `json:"event_ticker"`
	Title        string `json:"title"`
	Subtitle     string `json:"subtitle"`
	YesSubTitle  string `json:"yes_sub_title"`
	Status       string `json:"status"`
	YesBid       int    `json:"yes_bid"`
	YesAsk       int    `json:"yes_ask"`
	LastPrice    int    `json:"last_price"`
	Volume       int64  `json:"volume"`
	OpenInterest int64  `json:"open_interest"`
	OpenTime     string `json:"open_time,omitempty"`
	CloseTime    string `json:"close_time,omitempty"`
}

// MidProbability is (yes_bid + yes_ask) / 2 on the 0-100 scale.
func (m Market) MidProbability() float64 {
	return float64(m.YesBid+m.YesAsk) / 2
}

// EventDetail is an event together with its constituent markets.
type EventDetail struct {
	Event   Event    `json:"event"`
	Markets []Market `json:"markets"`
}

// EventsQuery filters GET /events.
type EventsQuery struct {
	SeriesTicker string
	Status       string
	Limit        int
	Cursor       string
}

// MarketsQuery filters GET /markets.
type MarketsQuery struct {
	EventTicker  string
	SeriesTicker string
	Status       string
	Limit        int
	Cursor       string
}

// OrderRequest is the body of POST /portfolio/orders.
type OrderRequest struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Side          string `json:"side"`
	Action        string `json:"action"`
	Count         int    `json:"count"`
	Type          string `json:"type"`
	YesPrice      int    `json:"yes_price,omitempty"`
	NoPrice       int    `json:"no_price,omitempty"`
}

// Order is the exchange's view of a submitted order.
type Order struct {
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	Ticker        string `json:"ticker"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Action        string `json:"action"`
	YesPrice      int    `json:"yes_price"`
	CreatedTime   string `json:"created_time"`
}

type eventsResponse struct {
	Events []Event `json:"events"`
	Cursor string  `json:"cursor"`
}

type marketsResponse struct {
	Markets []Market `json:"markets"`
	Cursor  string   `json:"cursor"`
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

type orderResponse struct {
	Order Order `json:"order"`
}
