package tracking

import "backend-runtrack/internal/shared/geo"

type RejectReason string

const (
	RejectLowAccuracy     RejectReason = "low_accuracy"
	RejectImplausibleJump RejectReason = "implausible_jump"
	RejectOutOfOrder      RejectReason = "out_of_order"
)

type Thresholds struct {
	MaxAccuracyM float64 // reject samples reporting a worse accuracy radius
	MaxJumpM     float64 // reject samples farther than this from the last accepted one
}

func DefaultThresholds() Thresholds {
	return Thresholds{MaxAccuracyM: 60, MaxJumpM: 50}
}

type Verdict struct {
	Accepted bool
	Reason   RejectReason
	JumpM    float64
}

type Validator struct {
	cfg Thresholds
}

func NewValidator(cfg Thresholds) Validator {
	return Validator{cfg: cfg}
}

// Check decides whether candidate may follow last. It has no side effects;
// appending an accepted sample is up to the caller.
func (v Validator) Check(candidate GeoSample, last *GeoSample) Verdict {
	if candidate.Accuracy != nil && *candidate.Accuracy > v.cfg.MaxAccuracyM {
		return Verdict{Reason: RejectLowAccuracy}
	}
	if last == nil {
		return Verdict{Accepted: true}
	}

	jump := geo.Distance(last.LatLng(), candidate.LatLng())
	if jump > v.cfg.MaxJumpM {
		return Verdict{Reason: RejectImplausibleJump, JumpM: jump}
	}
	if candidate.Timestamp.Before(last.Timestamp) {
		return Verdict{Reason: RejectOutOfOrder, JumpM: jump}
	}
	return Verdict{Accepted: true, JumpM: jump}
}
