package models

import "time"

type VPDStatus string

const (
	VPDOptimal VPDStatus = "optimal"
	VPDLow     VPDStatus = "low"
	VPDHigh    VPDStatus = "high"
	VPDExtreme VPDStatus = "extreme"
)

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
	TrendUnknown   Trend = "unknown"
)

type TemperatureStatus string

const (
	TempOptimal TemperatureStatus = "optimal"
	TempWarm    TemperatureStatus = "warm"
	TempHot     TemperatureStatus = "hot"
	TempCool    TemperatureStatus = "cool"
	TempCold    TemperatureStatus = "cold"
)

type HumidityStatus string

const (
	HumidityOptimal   HumidityStatus = "optimal"
	HumidityDry       HumidityStatus = "dry"
	HumidityHumid     HumidityStatus = "humid"
	HumidityVeryHumid HumidityStatus = "very_humid"
)

type SoilStatus string

const (
	SoilOptimal  SoilStatus = "optimal"
	SoilLow      SoilStatus = "low"
	SoilVeryLow  SoilStatus = "very_low"
	SoilHigh     SoilStatus = "high"
	SoilVeryHigh SoilStatus = "very_high"
)

// Metrics holds derived physical quantities and per-variable categories.
type Metrics struct {
	TemperatureStatus TemperatureStatus `json:"temp_status"`
	HumidityStatus    HumidityStatus    `json:"humidity_status"`
	SoilStatus        SoilStatus        `json:"soil_status"`
	DewPoint          float64           `json:"dew_point"`
	HeatIndex         float64           `json:"heat_index"`
}

// AnalyticsResult is one scoring pass. Scores are always within [0,100].
type AnalyticsResult struct {
	PlantHealthScore    int       `json:"plant_health_score"`
	IrrigationNeedScore int       `json:"irrigation_need_score"`
	ClimateRiskScore    int       `json:"climate_risk_score"`
	VPD                 float64   `json:"vpd"`
	VPDStatus           VPDStatus `json:"vpd_status"`
	Trend               Trend     `json:"trend"`
	Recommendations     []string  `json:"recommendations"`
	Summary             string    `json:"summary"`
	Metrics             Metrics   `json:"metrics"`
	Insight             *Insight  `json:"insight,omitempty"`
	ComputedAt          time.Time `json:"computed_at"`
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Insight is the optional narrative returned by the external generator.
type Insight struct {
	Summary         string    `json:"summary"`
	Recommendations []string  `json:"recommendations"`
	RiskLevel       RiskLevel `json:"riskLevel"`
	PredictedImpact string    `json:"predictedImpact,omitempty"`
}

// ReadingSnapshot is the raw reading stored alongside a scoring pass.
type ReadingSnapshot struct {
	Temperature  float64 `json:"temp"`
	Humidity     float64 `json:"humidity"`
	SoilMoisture int     `json:"soil_moisture"`
}

// AnalyticsSnapshot is a persisted row of the analytics table.
type AnalyticsSnapshot struct {
	ID                  string          `json:"id,omitempty"`
	UserID              string          `json:"user_id"`
	PlantHealthScore    int             `json:"plant_health_score"`
	IrrigationNeedScore int             `json:"irrigation_need_score"`
	ClimateRiskScore    int             `json:"climate_risk_score"`
	Recommendations     []string        `json:"recommendations"`
	Snapshot            ReadingSnapshot `json:"snapshot"`
	CreatedAt           time.Time       `json:"created_at"`
}
