// Package analytics turns raw greenhouse readings into agronomic scores.
// Everything here is pure: no I/O, no clocks, no shared state.
package analytics

import (
	"math"
	"sort"
	"time"

	"greentech/models"
)

// Reading is the subset of sensor state the engine scores.
type Reading struct {
	Temperature  float64
	Humidity     float64
	SoilMoisture int
}

// HistoryPoint is one past scoring pass.
type HistoryPoint struct {
	PlantHealthScore int
	CreatedAt        time.Time
}

// Input bounds. NaN is mapped to the bound that scores worst.
const (
	minTemperature = -50.0
	maxTemperature = 60.0
	maxVPD         = 5.0
)

const (
	trendWindow     = 5
	trendMinOlder   = 3
	trendDeltaLimit = 5.0
)

const fallbackRecommendation = "Conditions are within optimal ranges. Keep monitoring."

// Compute runs one scoring pass. history is expected newest first; it is
// re-sorted by CreatedAt when timestamps are present.
func Compute(r Reading, history []HistoryPoint) models.AnalyticsResult {
	r = sanitize(r)

	vpd := VPD(r.Temperature, r.Humidity)
	vpdStatus := ClassifyVPD(vpd)
	health := PlantHealth(r.Temperature, r.Humidity, r.SoilMoisture, vpd)
	risk := ClimateRisk(r.Temperature, r.Humidity)

	return models.AnalyticsResult{
		PlantHealthScore:    health,
		IrrigationNeedScore: IrrigationNeed(r.SoilMoisture),
		ClimateRiskScore:    risk,
		VPD:                 round(vpd, 3),
		VPDStatus:           vpdStatus,
		Trend:               ComputeTrend(history),
		Recommendations:     Recommendations(r.Temperature, r.Humidity, r.SoilMoisture, vpdStatus),
		Summary:             Summary(health, risk),
		Metrics: models.Metrics{
			TemperatureStatus: classifyTemperature(r.Temperature),
			HumidityStatus:    classifyHumidity(r.Humidity),
			SoilStatus:        classifySoil(r.SoilMoisture),
			DewPoint:          round(DewPoint(r.Temperature, r.Humidity), 1),
			HeatIndex:         round(HeatIndex(r.Temperature, r.Humidity), 1),
		},
	}
}

func sanitize(r Reading) Reading {
	if math.IsNaN(r.Temperature) {
		r.Temperature = maxTemperature
	}
	r.Temperature = clampFloat(r.Temperature, minTemperature, maxTemperature)

	if math.IsNaN(r.Humidity) {
		r.Humidity = 0
	}
	r.Humidity = clampFloat(r.Humidity, 0, 100)

	r.SoilMoisture = clampInt(r.SoilMoisture, 0, 100)
	return r
}

// saturationVaporPressure uses the Tetens approximation, kPa.
func saturationVaporPressure(tempC float64) float64 {
	return 0.61078 * math.Exp((17.27*tempC)/(tempC+237.3))
}

// VPD is the vapor-pressure deficit in kPa, clamped to [0,5].
func VPD(tempC, humidity float64) float64 {
	svp := saturationVaporPressure(tempC)
	avp := svp * (humidity / 100)
	vpd := svp - avp
	if math.IsNaN(vpd) {
		return maxVPD
	}
	return clampFloat(vpd, 0, maxVPD)
}

func ClassifyVPD(vpd float64) models.VPDStatus {
	switch {
	case vpd >= 0.6 && vpd <= 1.0:
		return models.VPDOptimal
	case vpd < 0.3:
		return models.VPDExtreme
	case vpd < 0.4:
		return models.VPDLow
	case vpd > 1.6:
		return models.VPDExtreme
	case vpd > 1.2:
		return models.VPDHigh
	default:
		return models.VPDOptimal
	}
}

// DewPoint uses the Magnus approximation, °C.
func DewPoint(tempC, humidity float64) float64 {
	const a, b = 17.27, 237.7
	h := math.Max(humidity, 1)
	alpha := (a*tempC)/(b+tempC) + math.Log(h/100)
	return (b * alpha) / (a - alpha)
}

// HeatIndex is a simplified greenhouse feels-like temperature, °C.
func HeatIndex(tempC, humidity float64) float64 {
	if tempC < 20 {
		return tempC
	}
	return tempC + (humidity-50)*0.02
}

// PlantHealth starts at 100 and subtracts independent per-variable penalties.
// The outermost temperature and humidity bands include their boundaries.
func PlantHealth(tempC, humidity float64, soil int, vpd float64) int {
	score := 100

	switch {
	case soil < 20:
		score -= 50
	case soil < 35:
		score -= 30
	case soil < 45:
		score -= 15
	case soil > 95:
		score -= 20
	}

	switch {
	case tempC <= 10 || tempC >= 35:
		score -= 25
	case tempC < 15 || tempC > 30:
		score -= 15
	case tempC < 18 || tempC > 28:
		score -= 5
	}

	switch {
	case humidity >= 85 || humidity <= 25:
		score -= 15
	case humidity > 75 || humidity < 35:
		score -= 8
	}

	switch {
	case vpd < 0.2 || vpd > 1.8:
		score -= 10
	case vpd < 0.4 || vpd > 1.4:
		score -= 5
	}

	return clampInt(score, 0, 100)
}

// IrrigationNeed is a step function of soil moisture alone.
func IrrigationNeed(soil int) int {
	switch {
	case soil >= 60:
		return 0
	case soil >= 45:
		return 15
	case soil >= 35:
		return 40
	case soil >= 25:
		return 70
	default:
		return 95
	}
}

func ClimateRisk(tempC, humidity float64) int {
	risk := 0

	switch {
	case tempC > 32 || tempC < 12:
		risk += 40
	case tempC > 28 || tempC < 16:
		risk += 20
	}

	switch {
	case humidity > 80:
		risk += 35
	case humidity > 70:
		risk += 15
	}

	if humidity < 30 && tempC > 25 {
		risk += 20
	}

	return clampInt(risk, 0, 100)
}

// ComputeTrend compares the mean health of the 5 newest snapshots with the
// next 5. Fewer than 5 snapshots is unknown; fewer than 3 older ones is stable.
func ComputeTrend(history []HistoryPoint) models.Trend {
	if len(history) < trendWindow {
		return models.TrendUnknown
	}

	points := make([]HistoryPoint, len(history))
	copy(points, history)
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].CreatedAt.After(points[j].CreatedAt)
	})

	recent := points[:trendWindow]
	older := points[trendWindow:min(len(points), 2*trendWindow)]
	if len(older) < trendMinOlder {
		return models.TrendStable
	}

	delta := meanHealth(recent) - meanHealth(older)
	switch {
	case delta > trendDeltaLimit:
		return models.TrendImproving
	case delta < -trendDeltaLimit:
		return models.TrendDeclining
	default:
		return models.TrendStable
	}
}

func meanHealth(points []HistoryPoint) float64 {
	sum := 0
	for _, p := range points {
		sum += p.PlantHealthScore
	}
	return float64(sum) / float64(len(points))
}

// Recommendations is never empty.
func Recommendations(tempC, humidity float64, soil int, vpdStatus models.VPDStatus) []string {
	var recs []string

	switch {
	case soil < 35:
		recs = append(recs, "Increase irrigation: soil moisture is low. Turn on the pump or water manually.")
	case soil < 45:
		recs = append(recs, "Monitor soil moisture; consider a short irrigation cycle soon.")
	case soil > 90:
		recs = append(recs, "Soil is very wet; avoid overwatering to prevent root rot.")
	}

	switch {
	case tempC > 30:
		recs = append(recs, "High temperature. Ensure ventilation is on and consider shading.")
	case tempC > 28:
		recs = append(recs, "Temperature rising; increase ventilation to keep plants comfortable.")
	case tempC < 16:
		recs = append(recs, "Low temperature; check heating or reduce ventilation to retain warmth.")
	}

	switch {
	case humidity > 75:
		recs = append(recs, "High humidity increases disease risk. Improve air circulation.")
	case humidity < 40 && tempC > 22:
		recs = append(recs, "Low humidity; misting or a humidifier can help in dry heat.")
	}

	switch vpdStatus {
	case models.VPDLow:
		recs = append(recs, "VPD is low (humid air); reduce misting or increase ventilation.")
	case models.VPDHigh, models.VPDExtreme:
		recs = append(recs, "VPD is high (dry air); consider misting or increasing humidity.")
	}

	if len(recs) == 0 {
		recs = append(recs, fallbackRecommendation)
	}
	return recs
}

func Summary(health, risk int) string {
	switch {
	case health >= 80 && risk < 25:
		return "Greenhouse conditions are excellent. Plants are in good health."
	case health >= 60:
		return "Greenhouse is in good shape with minor adjustments possible."
	case health >= 40:
		return "Some stress factors detected. Review the recommendations."
	default:
		return "Conditions need attention. Follow the recommendations to improve plant health."
	}
}

func classifyTemperature(tempC float64) models.TemperatureStatus {
	switch {
	case tempC >= 18 && tempC <= 28:
		return models.TempOptimal
	case tempC > 30:
		return models.TempHot
	case tempC > 28:
		return models.TempWarm
	case tempC < 16:
		return models.TempCold
	default:
		return models.TempCool
	}
}

func classifyHumidity(humidity float64) models.HumidityStatus {
	switch {
	case humidity > 80:
		return models.HumidityVeryHumid
	case humidity > 70:
		return models.HumidityHumid
	case humidity < 35:
		return models.HumidityDry
	default:
		return models.HumidityOptimal
	}
}

func classifySoil(soil int) models.SoilStatus {
	switch {
	case soil >= 50 && soil <= 80:
		return models.SoilOptimal
	case soil < 25:
		return models.SoilVeryLow
	case soil < 45:
		return models.SoilLow
	case soil > 90:
		return models.SoilVeryHigh
	default:
		return models.SoilHigh
	}
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
