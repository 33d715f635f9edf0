package diagnostics

import (
	"github.com/angelmondragon/marginguard-backend/pkg/config"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// Factor names stored on every health score.
const (
	FactorRefundBleed  = "refund_bleed_impact"
	FactorSilentFee    = "silent_fee_impact"
	FactorROASTrap     = "roas_trap_impact"
	FactorCashFlow     = "cash_flow_impact"
	FactorToxicProduct = "toxic_product_impact"
)

// FactorNames lists the factors in a fixed order.
var FactorNames = []string{
	FactorRefundBleed,
	FactorSilentFee,
	FactorROASTrap,
	FactorCashFlow,
	FactorToxicProduct,
}

// Weights scale each factor's 0-100 impact into the composite score.
type Weights struct {
	RefundBleed  float64
	SilentFee    float64
	ROASTrap     float64
	CashFlow     float64
	ToxicProduct float64
}

// Levels are the inclusive upper score bounds of the first three levels.
type Levels struct {
	SafeMax    float64
	UnawareMax float64
	PainfulMax float64
}

// Policy holds every tunable of the risk engine.
type Policy struct {
	WindowDays int
	Weights    Weights
	Levels     Levels

	AcceptableRefundRate float64
	FeeRatioFloor        float64
	FeeRatioCeiling      float64
	// ROASSensitivity is the ROI drop between windows that saturates the trend signal.
	ROASSensitivity  float64
	RunwaySafetyDays float64
	FixedDailyCost   float64
	MinProductMargin float64
	// MaxToxicShare is the low-margin revenue share that saturates the toxic factor.
	MaxToxicShare float64
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		WindowDays: 30,
		Weights: Weights{
			RefundBleed:  0.25,
			SilentFee:    0.15,
			ROASTrap:     0.25,
			CashFlow:     0.20,
			ToxicProduct: 0.15,
		},
		Levels:               Levels{SafeMax: 30, UnawareMax: 60, PainfulMax: 80},
		AcceptableRefundRate: 0.05,
		FeeRatioFloor:        0.03,
		FeeRatioCeiling:      0.15,
		ROASSensitivity:      0.5,
		RunwaySafetyDays:     60,
		MinProductMargin:     0.15,
		MaxToxicShare:        0.5,
	}
}

// PolicyFromConfig converts environment configuration into a Policy.
func PolicyFromConfig(cfg config.RiskConfig) Policy {
	return Policy{
		WindowDays: cfg.WindowDays,
		Weights: Weights{
			RefundBleed:  cfg.RefundWeight,
			SilentFee:    cfg.FeeWeight,
			ROASTrap:     cfg.ROASWeight,
			CashFlow:     cfg.CashFlowWeight,
			ToxicProduct: cfg.ToxicProductWeight,
		},
		Levels: Levels{
			SafeMax:    cfg.SafeMax,
			UnawareMax: cfg.UnawareMax,
			PainfulMax: cfg.PainfulMax,
		},
		AcceptableRefundRate: cfg.AcceptableRefundRate,
		FeeRatioFloor:        cfg.FeeRatioFloor,
		FeeRatioCeiling:      cfg.FeeRatioCeiling,
		ROASSensitivity:      cfg.ROASSensitivity,
		RunwaySafetyDays:     cfg.RunwaySafetyDays,
		FixedDailyCost:       cfg.FixedDailyCost,
		MinProductMargin:     cfg.MinProductMargin,
		MaxToxicShare:        cfg.MaxToxicShare,
	}
}

// Level maps a score onto the step function.
func (p Policy) Level(score int) enums.RiskLevel {
	s := float64(score)
	switch {
	case s <= p.Levels.SafeMax:
		return enums.RiskLevelSafe
	case s <= p.Levels.UnawareMax:
		return enums.RiskLevelUnaware
	case s <= p.Levels.PainfulMax:
		return enums.RiskLevelPainful
	default:
		return enums.RiskLevelCritical
	}
}
