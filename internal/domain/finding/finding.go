package finding

import (
	"time"

	"github.com/google/uuid"

	"github.com/compliancekit/assessment-backend/internal/domain/values"
)

// Status is the remediation state of a finding. Findings are read-only inputs
// to the assessment engine; status transitions happen in remediation
// workflows outside this core.
type Status string

const (
	StatusOpen          Status = "open"
	StatusFixed         Status = "fixed"
	StatusAccepted      Status = "accepted"
	StatusFalsePositive Status = "false_positive"
)

// Finding is an observed violation produced by upstream scan ingestion.
type Finding struct {
	ID          uuid.UUID       `json:"id"`
	SystemID    uuid.UUID       `json:"system_id"`
	StigRuleID  *string         `json:"stig_rule_id,omitempty"`
	Title       string          `json:"title"`
	Severity    values.Severity `json:"severity"`
	Status      Status          `json:"status"`
	Description string          `json:"description"`
	Remediation string          `json:"remediation"`
	CreatedAt   time.Time       `json:"created_at"`
}

// IsResolved reports whether the finding no longer counts against a rule.
// Accepted findings carry a documented risk acceptance; false positives stay
// unresolved until disposition review closes them.
func (f *Finding) IsResolved() bool {
	return f.Status == StatusFixed || f.Status == StatusAccepted
}

// IsOpen reports whether the finding is actionable.
func (f *Finding) IsOpen() bool {
	return f.Status == StatusOpen
}

// ReferencesRule reports whether the finding is attributed to the given STIG
// rule. Findings without a rule reference never match.
func (f *Finding) ReferencesRule(ruleID string) bool {
	return f.StigRuleID != nil && *f.StigRuleID == ruleID
}

// CountBySeverity tallies findings per severity.
func CountBySeverity(findings []*Finding) map[values.Severity]int {
	counts := make(map[values.Severity]int, 4)
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts
}

// CountOpenBySeverity tallies open findings per severity.
func CountOpenBySeverity(findings []*Finding) map[values.Severity]int {
	counts := make(map[values.Severity]int, 4)
	for _, f := range findings {
		if f.IsOpen() {
			counts[f.Severity]++
		}
	}
	return counts
}
