package plans

import (
	"fmt"

	"github.com/angelmondragon/marginguard-backend/pkg/config"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// Matrix maps risk bands and volume signals onto subscription tiers.
type Matrix struct {
	LowTierID  string
	MidTierID  string
	HighTierID string

	// LowBandMax and MidBandMax are inclusive upper score bounds.
	LowBandMax float64
	MidBandMax float64

	HighOrderVolume     int64
	VeryHighOrderVolume int64
	ChannelThreshold    int64
	VolumeWindowDays    int
}

// DefaultMatrix mirrors the configuration defaults.
func DefaultMatrix() Matrix {
	return Matrix{
		LowTierID:           "starter",
		MidTierID:           "growth",
		HighTierID:          "scale",
		LowBandMax:          30,
		MidBandMax:          60,
		HighOrderVolume:     500,
		VeryHighOrderVolume: 2000,
		ChannelThreshold:    3,
		VolumeWindowDays:    30,
	}
}

// MatrixFromConfig converts env config into a matrix.
func MatrixFromConfig(cfg config.PlansConfig) Matrix {
	return Matrix{
		LowTierID:           cfg.LowTierID,
		MidTierID:           cfg.MidTierID,
		HighTierID:          cfg.HighTierID,
		LowBandMax:          cfg.LowBandMax,
		MidBandMax:          cfg.MidBandMax,
		HighOrderVolume:     cfg.HighOrderVolume,
		VeryHighOrderVolume: cfg.VeryHighOrderVolume,
		ChannelThreshold:    cfg.ChannelThreshold,
		VolumeWindowDays:    cfg.VolumeWindowDays,
	}
}

// Signals are the inputs to a plan decision.
type Signals struct {
	Score        int
	OrderCount   int64
	ChannelCount int64
}

// Decision is the required tier for one set of signals.
type Decision struct {
	PlanID string
	Band   enums.RiskBand
	Reason string
}

const (
	tierLow = iota
	tierMid
	tierHigh
)

// Band places a score in its risk band.
func (m Matrix) Band(score int) enums.RiskBand {
	s := float64(score)
	switch {
	case s <= m.LowBandMax:
		return enums.RiskBandLow
	case s <= m.MidBandMax:
		return enums.RiskBandMid
	default:
		return enums.RiskBandHigh
	}
}

func (m Matrix) tierID(tier int) string {
	switch tier {
	case tierHigh:
		return m.HighTierID
	case tierMid:
		return m.MidTierID
	default:
		return m.LowTierID
	}
}

// Required picks the tier for the signals. The band sets the base tier;
// volume and channel overrides only ever move it up.
func Required(m Matrix, sig Signals) Decision {
	band := m.Band(sig.Score)
	tier := tierLow
	switch band {
	case enums.RiskBandMid:
		tier = tierMid
	case enums.RiskBandHigh:
		tier = tierHigh
	}
	reason := fmt.Sprintf("%s risk band (score %d)", band, sig.Score)

	switch {
	case sig.OrderCount > m.VeryHighOrderVolume && tier < tierHigh:
		tier = tierHigh
		reason = fmt.Sprintf("order volume %d above %d requires top tier", sig.OrderCount, m.VeryHighOrderVolume)
	case sig.ChannelCount > m.ChannelThreshold && tier < tierHigh:
		tier = tierHigh
		reason = fmt.Sprintf("%d sales channels above %d requires top tier", sig.ChannelCount, m.ChannelThreshold)
	case sig.OrderCount > m.HighOrderVolume && tier < tierMid:
		tier = tierMid
		reason = fmt.Sprintf("order volume %d above %d requires mid tier", sig.OrderCount, m.HighOrderVolume)
	}

	return Decision{PlanID: m.tierID(tier), Band: band, Reason: reason}
}
