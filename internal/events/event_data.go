// Package events defines the typed payloads emitted by the engine toward the
// audit collaborator.
package events

import (
	"time"
)

// EventType identifies the kind of engine event.
type EventType string

const (
	DisagreementRecorded EventType = "disagreement_recorded"
	CorrelationAlert     EventType = "correlation_alert"
	EmergencyTriggered   EventType = "emergency_triggered"
)

// EventData is the interface that all event data types implement. It allows
// type-safe event payloads while keeping the audit pipeline generic.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// DisagreementRecordedData summarizes one processed signal.
type DisagreementRecordedData struct {
	SignalID          string  `json:"signal_id"`
	Symbol            string  `json:"symbol"`
	Accounts          int     `json:"accounts"`
	ParticipationRate float64 `json:"participation_rate"`
	DisagreementRate  float64 `json:"disagreement_rate"`
	Corrections       int     `json:"corrections"`
}

// EventType returns the event type for DisagreementRecordedData
func (d *DisagreementRecordedData) EventType() EventType {
	return DisagreementRecorded
}

// CorrelationAlertData carries one threshold breach.
type CorrelationAlertData struct {
	PairID            string    `json:"pair_id"`
	Correlation       float64   `json:"correlation"`
	Severity          string    `json:"severity"`
	RecommendedAction string    `json:"recommended_action"`
	Timestamp         time.Time `json:"timestamp"`
}

// EventType returns the event type for CorrelationAlertData
func (d *CorrelationAlertData) EventType() EventType {
	return CorrelationAlert
}

// EmergencyTriggeredData carries the halt actions emitted by the emergency
// protocol check.
type EmergencyTriggeredData struct {
	Actions []string `json:"actions"`
}

// EventType returns the event type for EmergencyTriggeredData
func (d *EmergencyTriggeredData) EventType() EventType {
	return EmergencyTriggered
}
