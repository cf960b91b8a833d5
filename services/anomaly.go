package services

import (
	"fmt"
	"time"

	"greentech/models"
)

// Thresholds for live alert conditions.
const (
	SoilCriticalBelow   = 30
	SoilLowBelow        = 50
	TemperatureMaxAlert = 30.0
	HumidityMaxAlert    = 75.0
)

// DeriveLiveAlerts evaluates the fixed condition set in order: soil critical,
// soil low, high temperature, high humidity, broker disconnected. The two soil
// conditions are exclusive. Sensor conditions are only checked for fields that
// have received a reading.
func DeriveLiveAlerts(state models.SensorState, conn models.ConnectionState, now time.Time) []models.AlertRecord {
	var alerts []models.AlertRecord

	if state.Received.Has(models.TopicSoilMoisture) {
		switch {
		case state.SoilMoisture < SoilCriticalBelow:
			alerts = append(alerts, liveAlert(models.ConditionSoilCritical, now,
				"Low Soil Moisture - Irrigation Needed",
				fmt.Sprintf("Soil moisture at %d%%. Turn on irrigation or enable AUTO mode.", state.SoilMoisture),
				models.SeverityCritical, models.CategoryIrrigation))
		case state.SoilMoisture < SoilLowBelow:
			alerts = append(alerts, liveAlert(models.ConditionSoilLow, now,
				"Soil Moisture Low",
				fmt.Sprintf("Soil moisture at %d%%. Monitor and consider irrigation.", state.SoilMoisture),
				models.SeverityHigh, models.CategorySensor))
		}
	}

	if state.Received.Has(models.TopicTemperature) && state.Temperature > TemperatureMaxAlert {
		alerts = append(alerts, liveAlert(models.ConditionTemperatureHigh, now,
			"High Temperature",
			fmt.Sprintf("Temperature at %.1f°C. Ventilation recommended.", state.Temperature),
			models.SeverityHigh, models.CategoryClimate))
	}

	if state.Received.Has(models.TopicHumidity) && state.Humidity > HumidityMaxAlert {
		alerts = append(alerts, liveAlert(models.ConditionHumidityHigh, now,
			"High Humidity",
			fmt.Sprintf("Humidity at %.0f%%. Ventilation may help.", state.Humidity),
			models.SeverityMedium, models.CategoryClimate))
	}

	if !conn.IsConnected() {
		alerts = append(alerts, liveAlert(models.ConditionConnectionLost, now,
			"Controller Disconnected",
			"Live sensor data is not available. Check the broker connection.",
			models.SeverityMedium, models.CategorySystem))
	}

	return alerts
}

func liveAlert(kind models.ConditionKind, now time.Time, title, description string, severity models.Severity, category models.Category) models.AlertRecord {
	return models.AlertRecord{
		ID:          models.LiveAlertID(kind),
		Kind:        kind,
		Title:       title,
		Description: description,
		Severity:    severity,
		Category:    category,
		CreatedAt:   now,
	}
}
