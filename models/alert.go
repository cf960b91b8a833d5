package models

import (
	"strings"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Category string

const (
	CategorySensor      Category = "sensor"
	CategorySystem      Category = "system"
	CategoryIrrigation  Category = "irrigation"
	CategoryClimate     Category = "climate"
	CategoryMaintenance Category = "maintenance"
	CategoryAnalytics   Category = "analytics"
)

// ConditionKind names a live alert condition. It is the cooldown key.
type ConditionKind string

const (
	ConditionSoilCritical    ConditionKind = "soil-critical"
	ConditionSoilLow         ConditionKind = "soil-low"
	ConditionTemperatureHigh ConditionKind = "temperature-high"
	ConditionHumidityHigh    ConditionKind = "humidity-high"
	ConditionConnectionLost  ConditionKind = "connection-lost"
)

var conditionKinds = []ConditionKind{
	ConditionSoilCritical,
	ConditionSoilLow,
	ConditionTemperatureHigh,
	ConditionHumidityHigh,
	ConditionConnectionLost,
}

// ID prefixes separating live alerts from stored ones.
const (
	LiveAlertPrefix   = "live-"
	StoredAlertPrefix = "stored-"
)

// AlertRecord is either ephemeral (derived live, Kind set) or durable (SourceID set).
type AlertRecord struct {
	ID          string        `json:"id"`
	Kind        ConditionKind `json:"kind,omitempty"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Severity    Severity      `json:"severity"`
	Category    Category      `json:"category"`
	CreatedAt   time.Time     `json:"created_at"`
	IsRead      bool          `json:"is_read"`
	IsResolved  bool          `json:"is_resolved"`
	SourceID    string        `json:"source_id,omitempty"`
}

func (a AlertRecord) IsDurable() bool {
	return a.SourceID != ""
}

// LiveAlertID is deterministic in the condition kind.
func LiveAlertID(kind ConditionKind) string {
	return LiveAlertPrefix + string(kind)
}

func StoredAlertID(sourceID string) string {
	return StoredAlertPrefix + sourceID
}

// ParseLiveAlertID returns the condition kind behind a live alert ID.
func ParseLiveAlertID(id string) (ConditionKind, bool) {
	name, ok := strings.CutPrefix(id, LiveAlertPrefix)
	if !ok {
		return "", false
	}
	for _, k := range conditionKinds {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}

// ParseStoredAlertID returns the store record ID behind a durable alert ID.
func ParseStoredAlertID(id string) (string, bool) {
	sourceID, ok := strings.CutPrefix(id, StoredAlertPrefix)
	return sourceID, ok && sourceID != ""
}
