package values

import (
	"fmt"
	"strings"
)

// RiskLevel is the qualitative tier assigned to a control or a whole system.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func ParseRiskLevel(raw string) (RiskLevel, error) {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(raw))) {
	case RiskLow:
		return RiskLow, nil
	case RiskModerate:
		return RiskModerate, nil
	case RiskMedium:
		return RiskMedium, nil
	case RiskHigh:
		return RiskHigh, nil
	case RiskCritical:
		return RiskCritical, nil
	default:
		return "", fmt.Errorf("invalid risk level: %q", raw)
	}
}

func (r RiskLevel) String() string {
	return string(r)
}

// ImpactLevel is a system's FIPS-199 style impact categorization.
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "low"
	ImpactModerate ImpactLevel = "moderate"
	ImpactHigh     ImpactLevel = "high"
)

func ParseImpactLevel(raw string) (ImpactLevel, error) {
	switch ImpactLevel(strings.ToLower(strings.TrimSpace(raw))) {
	case ImpactLow:
		return ImpactLow, nil
	case ImpactModerate:
		return ImpactModerate, nil
	case ImpactHigh:
		return ImpactHigh, nil
	default:
		return "", fmt.Errorf("invalid impact level: %q", raw)
	}
}

func (i ImpactLevel) String() string {
	return string(i)
}
