package domain

import (
	"fmt"
	"time"
)

// TriggerType enumerates the alert condition kinds.
type TriggerType string

const (
	TriggerProximity        TriggerType = "PROXIMITY"
	TriggerDocumentMissing  TriggerType = "DOCUMENT_MISSING"
	TriggerDocumentDeadline TriggerType = "DOCUMENT_DEADLINE"
	TriggerDocumentOverdue  TriggerType = "DOCUMENT_OVERDUE"
	TriggerCongestion       TriggerType = "CONGESTION"
	TriggerETAChange        TriggerType = "ETA_CHANGE"
	TriggerCostAnomaly      TriggerType = "COST_ANOMALY"
)

// TriggerTypes lists every kind, for registration and validation.
var TriggerTypes = []TriggerType{
	TriggerProximity,
	TriggerDocumentMissing,
	TriggerDocumentDeadline,
	TriggerDocumentOverdue,
	TriggerCongestion,
	TriggerETAChange,
	TriggerCostAnomaly,
}

// ParseTriggerType validates a wire string against the known kinds.
func ParseTriggerType(s string) (TriggerType, error) {
	for _, t := range TriggerTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown trigger type %q", s)
}

// TriggerMetadata is the tagged union of per-type payloads. Each
// composer branch switches on the concrete type, so a condition can
// never carry the wrong payload shape past construction.
type TriggerMetadata interface {
	TriggerType() TriggerType
}

type ProximityMeta struct {
	DistanceNM float64
	SpeedKn    float64
	ETA        time.Time
}

func (ProximityMeta) TriggerType() TriggerType { return TriggerProximity }

type DocumentMissingMeta struct {
	Documents  []string
	HoursToETA float64
}

func (DocumentMissingMeta) TriggerType() TriggerType { return TriggerDocumentMissing }

type DocumentDeadlineMeta struct {
	DocumentType   string
	HoursRemaining float64
	ThresholdHours int // which of the 24/12/6 thresholds was crossed
}

func (DocumentDeadlineMeta) TriggerType() TriggerType { return TriggerDocumentDeadline }

type DocumentOverdueMeta struct {
	DocumentType string
	HoursOverdue float64
}

func (DocumentOverdueMeta) TriggerType() TriggerType { return TriggerDocumentOverdue }

type CongestionMeta struct {
	Status             CongestionStatus
	WaitTimeMinHours   float64
	WaitTimeMaxHours   float64
	VesselsAtAnchorage int
}

func (CongestionMeta) TriggerType() TriggerType { return TriggerCongestion }

type ETAChangeMeta struct {
	PreviousETA time.Time
	NewETA      time.Time
	DeltaHours  float64
}

func (ETAChangeMeta) TriggerType() TriggerType { return TriggerETAChange }

type CostAnomalyMeta struct {
	Estimate       float64
	HistoricalMean float64
	PercentAbove   float64
	SampleCount    int
}

func (CostAnomalyMeta) TriggerType() TriggerType { return TriggerCostAnomaly }

// TriggerCondition is the ephemeral output of one monitor match. It is
// never persisted; it exists only to flow into the composer.
type TriggerCondition struct {
	Type      TriggerType
	ArrivalID string
	AssetID   string
	Meta      TriggerMetadata

	// DedupScope narrows the dedup window beyond the trigger type.
	// Empty for most triggers; the document-deadline monitor sets it to
	// the document type so different documents don't suppress each
	// other.
	DedupScope string
}

// NewTriggerCondition builds a condition, rejecting metadata whose tag
// doesn't match the declared type.
func NewTriggerCondition(t TriggerType, arrivalID, assetID string, meta TriggerMetadata) (TriggerCondition, error) {
	if meta == nil {
		return TriggerCondition{}, fmt.Errorf("trigger %s: nil metadata", t)
	}
	if meta.TriggerType() != t {
		return TriggerCondition{}, fmt.Errorf("trigger %s: metadata is for %s", t, meta.TriggerType())
	}
	return TriggerCondition{Type: t, ArrivalID: arrivalID, AssetID: assetID, Meta: meta}, nil
}
