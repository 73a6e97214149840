package models

import "time"

// Reading is one historical data point value persisted to storage.
type Reading struct {
	ID         int64      `json:"id"`
	Key        Key        `json:"key"`
	Value      Value      `json:"value"`
	UnitSystem string     `json:"unit_system,omitempty"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
	FetchedAt  time.Time  `json:"fetched_at"`
	CreatedAt  time.Time  `json:"created_at"`
}
