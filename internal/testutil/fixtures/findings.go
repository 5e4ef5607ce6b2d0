package fixtures

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/compliancekit/assessment-backend/internal/domain/finding"
	"github.com/compliancekit/assessment-backend/internal/domain/values"
)

// FindingBuilder builds test Finding entities
type FindingBuilder struct {
	t        *testing.T
	id       uuid.UUID
	systemID uuid.UUID
	ruleID   *string
	title    string
	severity values.Severity
	status   finding.Status
}

// NewFindingBuilder creates a new FindingBuilder with defaults
func NewFindingBuilder(t *testing.T) *FindingBuilder {
	t.Helper()
	return &FindingBuilder{
		t:        t,
		id:       uuid.New(),
		systemID: uuid.New(),
		title:    "Insecure configuration detected",
		severity: values.SeverityMedium,
		status:   finding.StatusOpen,
	}
}

// WithID sets the finding ID
func (b *FindingBuilder) WithID(id uuid.UUID) *FindingBuilder {
	b.id = id
	return b
}

// WithSystemID sets the owning system
func (b *FindingBuilder) WithSystemID(systemID uuid.UUID) *FindingBuilder {
	b.systemID = systemID
	return b
}

// WithStigRule attributes the finding to a STIG rule
func (b *FindingBuilder) WithStigRule(ruleID string) *FindingBuilder {
	b.ruleID = &ruleID
	return b
}

// WithTitle sets the finding title
func (b *FindingBuilder) WithTitle(title string) *FindingBuilder {
	b.title = title
	return b
}

// WithSeverity sets the severity
func (b *FindingBuilder) WithSeverity(severity values.Severity) *FindingBuilder {
	b.severity = severity
	return b
}

// WithStatus sets the remediation status
func (b *FindingBuilder) WithStatus(status finding.Status) *FindingBuilder {
	b.status = status
	return b
}

// Build creates the Finding
func (b *FindingBuilder) Build() *finding.Finding {
	return &finding.Finding{
		ID:          b.id,
		SystemID:    b.systemID,
		StigRuleID:  b.ruleID,
		Title:       b.title,
		Severity:    b.severity,
		Status:      b.status,
		Description: "Observed during automated scan ingestion.",
		Remediation: "Apply the vendor hardening guidance.",
		CreatedAt:   time.Now().UTC(),
	}
}

// ScanEvaluation creates an automated scan payload for a profile with the
// given failed rules.
func ScanEvaluation(profile string, failedRuleIDs ...string) *finding.ScanEvaluation {
	failed := make([]finding.FailedRule, 0, len(failedRuleIDs))
	for _, id := range failedRuleIDs {
		failed = append(failed, finding.FailedRule{
			RuleID:      id,
			FindingText: "Scanner reported rule " + id + " as failing.",
		})
	}
	return &finding.ScanEvaluation{
		Profile:     profile,
		ScannedAt:   time.Now().UTC(),
		FailedRules: failed,
	}
}

// ScanEvidence wraps a scan evaluation in an evidence record the way the
// store resolves it from the metadata blob.
func ScanEvidence(systemID uuid.UUID, scan *finding.ScanEvaluation) *finding.Evidence {
	return &finding.Evidence{
		ID:       uuid.New(),
		SystemID: systemID,
		Title:    "Automated scan results",
		Payload: finding.EvidencePayload{
			Kind:           finding.PayloadScanEvaluation,
			ScanEvaluation: scan,
		},
		CreatedAt: time.Now().UTC(),
	}
}
