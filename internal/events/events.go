// Package events carries the structured decision stream: every signal,
// verdict, order and risk-level transition is published here so a decision
// can be reconstructed after the fact.
package events

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeEngineStarted   Type = "engine_started"
	TypeEngineStopped   Type = "engine_stopped"
	TypeSignalEmitted   Type = "signal_emitted"
	TypeSignalSkipped   Type = "signal_skipped"
	TypeSignalValidated Type = "signal_validated"
	TypeSignalRejected  Type = "signal_rejected"
	TypeSizingSkipped   Type = "sizing_skipped"
	TypeOrderPlaced     Type = "order_placed"
	TypeOrderFilled     Type = "order_filled"
	TypeStopRatcheted   Type = "stop_ratcheted"
	TypeTakeLevelHit    Type = "take_level_hit"
	TypePartialClose    Type = "partial_close"
	TypePositionClosing Type = "position_closing"
	TypePositionClosed  Type = "position_closed"
	TypeCloseRetryAlert Type = "close_retry_alert"
	TypeSymbolHalted    Type = "symbol_halted"
)

type Event struct {
	ID      string         `json:"id"`
	Type    Type           `json:"type"`
	Symbol  string         `json:"symbol,omitempty"`
	At      time.Time      `json:"at"`
	Details map[string]any `json:"details,omitempty"`
}

func New(t Type, symbol string, details map[string]any) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    t,
		Symbol:  symbol,
		At:      time.Now(),
		Details: details,
	}
}
