package models

import "time"

type EventType string

const (
	EventConnection   EventType = "connection"
	EventTradeDraft   EventType = "trade.draft"
	EventTradeStaged  EventType = "trade.staged"
	EventTradeUpdated EventType = "trade.updated"
	EventStopLoss     EventType = "trade.stopLoss"
)

// Event is the envelope pushed to realtime clients.
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

// StopLossTrigger is a trade flattened together with the trigger details.
type StopLossTrigger struct {
	Trade
	TriggeredAtPrice float64   `bson:"triggered_at_price" json:"triggeredAtPrice"`
	ExecutedAt       time.Time `bson:"executed_at" json:"executedAt"`
}
