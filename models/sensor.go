package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrUnknownTopic   = errors.New("unknown topic")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Topic is one of the fixed broker topics shared with the controller.
type Topic uint8

const (
	TopicTemperature Topic = iota
	TopicHumidity
	TopicSoilMoisture
	TopicMode
	TopicIrrigation
	TopicVentilation

	topicCount
)

var topicNames = [topicCount]string{
	TopicTemperature:  "greenhouse/temperature",
	TopicHumidity:     "greenhouse/humidity",
	TopicSoilMoisture: "greenhouse/soilMoisturePercent",
	TopicMode:         "greenhouse/mode",
	TopicIrrigation:   "greenhouse/irrigation",
	TopicVentilation:  "greenhouse/ventilation",
}

func (t Topic) String() string {
	if t >= topicCount {
		return fmt.Sprintf("topic(%d)", uint8(t))
	}
	return topicNames[t]
}

// ParseTopic matches a broker topic exactly (case-sensitive).
func ParseTopic(name string) (Topic, bool) {
	for i, n := range topicNames {
		if n == name {
			return Topic(i), true
		}
	}
	return 0, false
}

// AllTopics returns the subscription set in declaration order.
func AllTopics() []Topic {
	out := make([]Topic, 0, topicCount)
	for t := Topic(0); t < topicCount; t++ {
		out = append(out, t)
	}
	return out
}

// TopicSet is a bitmask of topics.
type TopicSet uint8

func (s TopicSet) Has(t Topic) bool { return s&(1<<t) != 0 }

func (s TopicSet) With(t Topic) TopicSet { return s | (1 << t) }

// Mode is the controller operating mode.
type Mode string

const (
	ModeAuto   Mode = "AUTO"
	ModeManual Mode = "MANUAL"
)

// Actuator payload vocabulary
const (
	IrrigationOn     = "ON"
	IrrigationOff    = "OFF"
	VentilationOpen  = "OPEN"
	VentilationClose = "CLOSE"
)

// SensorState is the current telemetry snapshot. Values are copied, never shared.
type SensorState struct {
	Temperature  float64   `json:"temperature"`
	Humidity     float64   `json:"humidity"`
	SoilMoisture int       `json:"soil_moisture"`
	Mode         Mode      `json:"mode"`
	Irrigation   bool      `json:"irrigation"`
	Ventilation  bool      `json:"ventilation"`
	Received     TopicSet  `json:"-"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// NewSensorState returns the cold-start defaults.
func NewSensorState() SensorState {
	return SensorState{Mode: ModeAuto}
}

// HasReading reports whether temperature, humidity and soil moisture have all arrived.
func (s SensorState) HasReading() bool {
	return s.Received.Has(TopicTemperature) &&
		s.Received.Has(TopicHumidity) &&
		s.Received.Has(TopicSoilMoisture)
}

// Apply parses raw for the given topic and updates only that field.
// On error the state is left untouched.
func (s *SensorState) Apply(topic Topic, raw string, at time.Time) error {
	value := strings.TrimSpace(raw)

	switch topic {
	case TopicTemperature:
		f, err := parseFinite(value)
		if err != nil {
			return err
		}
		s.Temperature = f
	case TopicHumidity:
		f, err := parseFinite(value)
		if err != nil {
			return err
		}
		s.Humidity = f
	case TopicSoilMoisture:
		n, err := parseWhole(value)
		if err != nil {
			return err
		}
		s.SoilMoisture = n
	case TopicMode:
		m, err := parseMode(value)
		if err != nil {
			return err
		}
		s.Mode = m
	case TopicIrrigation:
		on, err := parseSwitch(value, IrrigationOn, IrrigationOff)
		if err != nil {
			return err
		}
		s.Irrigation = on
	case TopicVentilation:
		open, err := parseSwitch(value, VentilationOpen, VentilationClose)
		if err != nil {
			return err
		}
		s.Ventilation = open
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	s.Received = s.Received.With(topic)
	s.UpdatedAt = at
	return nil
}

// ValidatePayload checks an outbound command against the topic vocabulary.
func ValidatePayload(topic Topic, payload string) error {
	scratch := NewSensorState()
	return scratch.Apply(topic, payload, time.Time{})
}

func parseFinite(value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidPayload, value)
	}
	return f, nil
}

// parseWhole accepts integers and truncates finite decimals ("42.7" -> 42).
func parseWhole(value string) (int, error) {
	if n, err := strconv.Atoi(value); err == nil {
		return n, nil
	}
	f, err := parseFinite(value)
	if err != nil {
		return 0, err
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidPayload, value)
	}
	return int(f), nil
}

func parseMode(value string) (Mode, error) {
	switch Mode(value) {
	case ModeAuto, ModeManual:
		return Mode(value), nil
	}
	return "", fmt.Errorf("%w: mode %q", ErrInvalidPayload, value)
}

func parseSwitch(value, on, off string) (bool, error) {
	switch value {
	case on:
		return true, nil
	case off:
		return false, nil
	}
	return false, fmt.Errorf("%w: expected %s or %s, got %q", ErrInvalidPayload, on, off, value)
}
