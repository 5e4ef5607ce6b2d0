package assessment

import (
	"github.com/compliancekit/assessment-backend/internal/domain/finding"
	"github.com/compliancekit/assessment-backend/internal/domain/values"
)

// FindingsRiskScore scores raw findings before any control aggregation has
// run. It weights findings 4/3/2/1 by severity and normalizes against the
// worst case (every finding critical). Zero findings score 0 / low.
//
// This is deliberately a different formula from CompositeRiskScore: the two
// serve different pipeline stages and must stay separate.
func FindingsRiskScore(findings []*finding.Finding) (float64, values.RiskLevel) {
	if len(findings) == 0 {
		return 0, values.RiskLow
	}
	weighted := 0
	for _, f := range findings {
		weighted += f.Severity.Weight()
	}
	score := float64(weighted) / float64(len(findings)*4) * 100

	switch {
	case score >= 80:
		return score, values.RiskCritical
	case score >= 60:
		return score, values.RiskHigh
	case score >= 40:
		return score, values.RiskModerate
	default:
		return score, values.RiskLow
	}
}

// CompositeRiskScore combines open-finding counts with per-control risk tiers
// into the 0-100 system risk score reported in the final summary (higher is
// worse). The result is clamped so pathological inputs cannot overflow the
// scale.
func CompositeRiskScore(openBySeverity map[values.Severity]int, controlRisk map[values.RiskLevel]int) int {
	score := openBySeverity[values.SeverityCritical]*values.SeverityCritical.CompositeWeight() +
		openBySeverity[values.SeverityHigh]*values.SeverityHigh.CompositeWeight() +
		openBySeverity[values.SeverityMedium]*values.SeverityMedium.CompositeWeight() +
		controlRisk[values.RiskCritical]*15 +
		controlRisk[values.RiskHigh]*8

	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}
