package enums

import "fmt"

// RiskLevel is the step-function band of a health score.
type RiskLevel string

const (
	RiskLevelSafe     RiskLevel = "safe"
	RiskLevelUnaware  RiskLevel = "unaware"
	RiskLevelPainful  RiskLevel = "painful"
	RiskLevelCritical RiskLevel = "critical"
)

var validRiskLevels = []RiskLevel{
	RiskLevelSafe,
	RiskLevelUnaware,
	RiskLevelPainful,
	RiskLevelCritical,
}

// String implements fmt.Stringer.
func (r RiskLevel) String() string {
	return string(r)
}

// IsValid reports whether the level is known.
func (r RiskLevel) IsValid() bool {
	for _, candidate := range validRiskLevels {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRiskLevel converts raw input into a RiskLevel.
func ParseRiskLevel(value string) (RiskLevel, error) {
	for _, candidate := range validRiskLevels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid risk level %q", value)
}

// RiskBand is the coarse three-way split used for plan selection.
type RiskBand string

const (
	RiskBandLow  RiskBand = "low"
	RiskBandMid  RiskBand = "mid"
	RiskBandHigh RiskBand = "high"
)

// IsValid reports whether the band is known.
func (b RiskBand) IsValid() bool {
	return b == RiskBandLow || b == RiskBandMid || b == RiskBandHigh
}
