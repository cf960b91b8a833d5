package main

import (
	"math"
	"math/rand"
	"strconv"
	"sync"

	"greentech/models"
)

// Reading is one simulated controller sample.
type Reading struct {
	Temperature  float64
	Humidity     float64
	SoilMoisture int
	Anomaly      bool
}

// Messages returns the plain-text payloads the controller publishes for r.
func (r Reading) Messages() map[models.Topic]string {
	return map[models.Topic]string{
		models.TopicTemperature:  strconv.FormatFloat(r.Temperature, 'f', 1, 64),
		models.TopicHumidity:     strconv.FormatFloat(r.Humidity, 'f', 1, 64),
		models.TopicSoilMoisture: strconv.Itoa(r.SoilMoisture),
	}
}

// Greenhouse simulates the controller: slow soil drying, irrigation and
// ventilation effects, and random excursions.
type Greenhouse struct {
	mu          sync.Mutex
	rng         *rand.Rand
	anomalyProb float64
	baseTemp    float64
	baseHumid   float64
	soil        float64
	mode        models.Mode
	irrigation  bool
	ventilation bool
}

func NewGreenhouse(anomalyProb float64, seed int64) *Greenhouse {
	return &Greenhouse{
		rng:         rand.New(rand.NewSource(seed)),
		anomalyProb: anomalyProb,
		baseTemp:    25.0,
		baseHumid:   60.0,
		soil:        55,
		mode:        models.ModeAuto,
	}
}

// Next advances the simulation by one sample.
func (g *Greenhouse) Next() Reading {
	g.mu.Lock()
	defer g.mu.Unlock()

	isAnomaly := g.rng.Float64() < g.anomalyProb

	temperature := g.baseTemp + g.rng.Float64()*4.0 - 2.0
	humidity := g.baseHumid + g.rng.Float64()*10.0 - 5.0
	if g.ventilation {
		temperature -= 2.0
		humidity -= 8.0
	}

	if g.irrigation {
		g.soil += 3
	} else {
		g.soil -= 0.5
	}

	if isAnomaly {
		switch g.rng.Intn(3) {
		case 0:
			temperature = 31.0 + g.rng.Float64()*6.0
		case 1:
			humidity = 76.0 + g.rng.Float64()*15.0
		default:
			g.soil = 10 + g.rng.Float64()*15
		}
	}

	g.soil = math.Max(0, math.Min(100, g.soil))

	// AUTO mode irrigates below 30% and stops at 60%
	if g.mode == models.ModeAuto {
		if g.soil < 30 {
			g.irrigation = true
		} else if g.soil >= 60 {
			g.irrigation = false
		}
	}

	return Reading{
		Temperature:  math.Round(temperature*10) / 10,
		Humidity:     math.Round(math.Max(0, math.Min(100, humidity))*10) / 10,
		SoilMoisture: int(g.soil),
		Anomaly:      isAnomaly,
	}
}

// Apply handles an inbound command. Unknown or malformed commands are rejected.
func (g *Greenhouse) Apply(topic models.Topic, payload string) error {
	if err := models.ValidatePayload(topic, payload); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	switch topic {
	case models.TopicMode:
		g.mode = models.Mode(payload)
	case models.TopicIrrigation:
		g.irrigation = payload == models.IrrigationOn
	case models.TopicVentilation:
		g.ventilation = payload == models.VentilationOpen
	}
	return nil
}

// Actuators returns the current actuator payloads.
func (g *Greenhouse) Actuators() map[models.Topic]string {
	g.mu.Lock()
	defer g.mu.Unlock()

	irrigation, ventilation := models.IrrigationOff, models.VentilationClose
	if g.irrigation {
		irrigation = models.IrrigationOn
	}
	if g.ventilation {
		ventilation = models.VentilationOpen
	}
	return map[models.Topic]string{
		models.TopicMode:        string(g.mode),
		models.TopicIrrigation:  irrigation,
		models.TopicVentilation: ventilation,
	}
}
