package finding

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/compliancekit/assessment-backend/internal/domain/values"
)

// PoamItem is a tracked remediation task for an unresolved weakness. Items
// are created by the POA&M generator and never mutated by the engine.
type PoamItem struct {
	ID                    uuid.UUID       `json:"id"`
	SystemID              uuid.UUID       `json:"system_id"`
	ControlID             *string         `json:"control_id,omitempty"`
	FindingID             uuid.UUID       `json:"finding_id"`
	Weakness              string          `json:"weakness"`
	RiskStatement         string          `json:"risk_statement"`
	Remediation           string          `json:"remediation"`
	Priority              values.Severity `json:"priority"`
	PlannedCompletionDate time.Time       `json:"planned_completion_date"`
	CreatedAt             time.Time       `json:"created_at"`
}

// NewPoamItem builds a remediation item for an open finding. The planned
// completion date follows the severity's canonical remediation window.
func NewPoamItem(f *Finding, controlID *string, riskStatement string, now time.Time) *PoamItem {
	remediation := f.Remediation
	if remediation == "" {
		remediation = "Remediation plan to be determined by the system owner."
	}
	return &PoamItem{
		ID:                    uuid.New(),
		SystemID:              f.SystemID,
		ControlID:             controlID,
		FindingID:             f.ID,
		Weakness:              f.Title,
		RiskStatement:         riskStatement,
		Remediation:           remediation,
		Priority:              f.Severity,
		PlannedCompletionDate: now.Add(f.Severity.RemediationWindow()),
		CreatedAt:             now,
	}
}

// RiskStatement renders the templated risk sentence for a finding, optionally
// attributed to a control.
func RiskStatement(f *Finding, controlID, controlTitle string) string {
	if controlID == "" {
		return fmt.Sprintf("A %s severity weakness (%s) remains open and degrades the system's security posture.",
			f.Severity, f.Title)
	}
	return fmt.Sprintf("A %s severity weakness (%s) remains open against control %s (%s) and degrades the system's security posture.",
		f.Severity, f.Title, controlID, controlTitle)
}
