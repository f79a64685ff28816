package prediction

import (
	"math"

	"github.com/talgya/firesim/internal/entropy"
)

// FallbackConfidence is the fixed confidence of locally generated predictions.
const FallbackConfidence = 0.85

// Prediction is a fire-risk estimate.
type Prediction struct {
	Source             string     `json:"source"`
	EnsembleRiskScore  float64    `json:"ensemble_risk_score"`
	ML                 ModelRisk  `json:"ml_prediction"`
	ConfidenceInterval Confidence `json:"confidence_interval"`
}

// ModelRisk is the model's own view of the risk.
type ModelRisk struct {
	OverallRisk  float64 `json:"overall_risk"`
	Confidence   float64 `json:"confidence"`
	RiskCategory string  `json:"risk_category"`
}

// Confidence bounds a risk score.
type Confidence struct {
	Level      float64 `json:"confidence_level"`
	LowerBound float64 `json:"lower_bound"`
	UpperBound float64 `json:"upper_bound"`
}

// Simulation is an hourly fire progression.
type Simulation struct {
	Source      string `json:"source"`
	Progression []Step `json:"fire_progression"`
}

// Step is one hour of a simulated progression.
type Step struct {
	Hour        int     `json:"hour"`
	BurnedArea  float64 `json:"burned_area_hectares"`
	Perimeter   float64 `json:"fire_perimeter_km"`
	SpreadRate  float64 `json:"spread_rate"`
	Coordinates LatLng  `json:"coordinates"`
}

// LatLng is a geographic position in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RiskCategory buckets a score into high, moderate or low.
func RiskCategory(risk float64) string {
	switch {
	case risk > 0.7:
		return "high"
	case risk > 0.4:
		return "moderate"
	default:
		return "low"
	}
}

// FallbackPrediction scores risk from temperature, dryness and wind, plus up
// to 0.1 of noise.
func FallbackPrediction(req Request, rng entropy.Source) *Prediction {
	tempFactor := math.Min(req.Temperature/40, 1)
	humidityFactor := math.Max(0, (100-req.Humidity)/100)
	windFactor := math.Min(req.WindSpeed/30, 1)

	base := tempFactor*0.4 + humidityFactor*0.4 + windFactor*0.2
	risk := math.Min(base+rng.Float()*0.1, 1)
	if !(risk > 0) {
		risk = 0
	}

	return &Prediction{
		Source:            SourceFallback,
		EnsembleRiskScore: risk,
		ML: ModelRisk{
			OverallRisk:  risk,
			Confidence:   FallbackConfidence,
			RiskCategory: RiskCategory(risk),
		},
		ConfidenceInterval: Confidence{
			Level:      FallbackConfidence,
			LowerBound: math.Max(0, risk-0.1),
			UpperBound: math.Min(1, risk+0.1),
		},
	}
}

// FallbackSimulation grows a fire for req.Duration hours around req.Lat, req.Lng.
func FallbackSimulation(req Request, rng entropy.Source) *Simulation {
	hours := req.Duration
	if hours <= 0 {
		hours = DefaultDuration
	}
	steps := make([]Step, hours)
	for i := range steps {
		n := float64(i + 1)
		steps[i] = Step{
			Hour:       i,
			BurnedArea: math.Pow(n, 1.5) * 2,
			Perimeter:  math.Sqrt(n * 10),
			SpreadRate: n * 0.8,
			Coordinates: LatLng{
				Lat: req.Lat + entropy.Jitter(rng)*0.01,
				Lng: req.Lng + entropy.Jitter(rng)*0.01,
			},
		}
	}
	return &Simulation{Source: SourceFallback, Progression: steps}
}
