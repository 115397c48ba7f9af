package domain

import "time"

// CongestionStatus classifies expected wait time at the destination.
type CongestionStatus string

const (
	CongestionGreen  CongestionStatus = "GREEN"
	CongestionYellow CongestionStatus = "YELLOW"
	CongestionRed    CongestionStatus = "RED"
)

// ForecastMethod records how a cost estimate was derived. A result
// never mixes methods.
type ForecastMethod string

const (
	MethodHistoricalAvg ForecastMethod = "historical_avg"
	MethodTariffBased   ForecastMethod = "tariff_based"
)

// DocumentMetrics summarizes requirement state for one arrival.
type DocumentMetrics struct {
	Required        int
	Missing         int
	Submitted       int
	Approved        int
	ComplianceScore int // 0-100; 100 when Required == 0
	CriticalMissing []string
	NextDeadline    *time.Time
}

// CostForecast is a three-point cost estimate with confidence and a
// component breakdown. Method tags which derivation produced it.
type CostForecast struct {
	EstimateMin        float64
	EstimateMax        float64
	EstimateMostLikely float64
	Confidence         float64 // 0-1
	Breakdown          map[string]float64
	Factors            []string
	Method             ForecastMethod
}

// CongestionAnalysis is the congestion sub-result. WaitTime bounds are
// hours. Factors carries reason tags, including "no_data" when the
// neutral default was returned.
type CongestionAnalysis struct {
	Status             CongestionStatus
	WaitTimeMinHours   float64
	WaitTimeMaxHours   float64
	VesselsInPort      int
	VesselsAtAnchorage int
	BerthAvailability  string // AVAILABLE / MODERATE / LIMITED / UNKNOWN
	PilotAvailability  string // AVAILABLE / DELAYED
	Factors            []string
	Recommendation     string
}

// Intelligence is the single derived-state record per arrival (1:1),
// created lazily on first aggregation and mutated in place.
type Intelligence struct {
	ArrivalID string

	Documents  DocumentMetrics
	Cost       CostForecast
	Congestion CongestionAnalysis

	// LastAlertedCost is the most-likely estimate recorded when the
	// last cost-anomaly alert fired; the trigger engine compares
	// against this instead of replaying alert history.
	LastAlertedCost *float64

	GeneratedAt time.Time
	UpdatedAt   time.Time
}

// PortCallCost is one completed historical port call used by the
// historical-average forecaster and the cost-anomaly monitor.
type PortCallCost struct {
	ID           string
	AssetID      string
	LocationID   string
	GrossTonnage float64
	TotalCost    float64
	CompletedAt  time.Time
}

// CongestionSnapshot is an hourly sample of port congestion used for
// the 30-day historical wait-time override.
type CongestionSnapshot struct {
	ID                 int64
	LocationID         string
	At                 time.Time
	VesselsInPort      int
	VesselsAtAnchorage int
	AvgWaitTimeHours   float64
}

// ForecastAccuracy pairs a stored prediction with the actual cost once
// known, for forecaster monitoring.
type ForecastAccuracy struct {
	ID              int64
	ArrivalID       string
	PredictedMin    float64
	PredictedMax    float64
	PredictedLikely float64
	Confidence      float64
	Method          ForecastMethod
	PredictedAt     time.Time

	ActualCost      *float64
	ActualAt        *time.Time
	PercentageError *float64
	WithinRange     *bool
}
