package protocol

import (
	"encoding/json"
	"time"
)

// ActivationEvent is the message format for alert activation events
// published to Kafka. Delivery is best effort; the alert_activations row is
// the authoritative record.
type ActivationEvent struct {
	ActivationID  int64     `json:"activation_id"`
	RuleID        int64     `json:"rule_id"`
	UserID        int64     `json:"user_id"`
	LocationID    int64     `json:"location_id"`
	LocationName  string    `json:"location_name"`
	Metric        string    `json:"metric"`
	Operator      string    `json:"operator"`
	Threshold     float64   `json:"threshold"`
	ObservedValue float64   `json:"observed_value"`
	Unit          string    `json:"unit,omitempty"`
	Ts            time.Time `json:"ts"`
}

// EncodeActivationEvent encodes an ActivationEvent to JSON
func EncodeActivationEvent(event *ActivationEvent) ([]byte, error) {
	return json.Marshal(event)
}

// DecodeActivationEvent decodes JSON to ActivationEvent
func DecodeActivationEvent(data []byte) (*ActivationEvent, error) {
	var event ActivationEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
