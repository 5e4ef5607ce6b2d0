package catalog

import (
	"time"

	"github.com/google/uuid"

	"github.com/compliancekit/assessment-backend/internal/domain/values"
)

// System is a compliance target under assessment.
type System struct {
	ID               uuid.UUID          `json:"id"`
	Name             string             `json:"name"`
	ImpactLevel      values.ImpactLevel `json:"impact_level"`
	Owner            string             `json:"owner"`
	ComplianceStatus ComplianceStatus   `json:"compliance_status"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// ComplianceStatus is a system's aggregate posture, rewritten by the
// orchestrator at assessment completion.
type ComplianceStatus string

const (
	ComplianceStatusCompliant    ComplianceStatus = "compliant"
	ComplianceStatusInProgress   ComplianceStatus = "in-progress"
	ComplianceStatusNonCompliant ComplianceStatus = "non-compliant"
)

// Control is a NIST 800-53 style requirement. Immutable reference data.
type Control struct {
	ID       string `json:"id"` // e.g. "AC-2"
	Title    string `json:"title"`
	Family   string `json:"family"` // e.g. "AC"
	Priority string `json:"priority"`
}

// CCI bridges controls and STIG rules (many-to-many via two mapping tables).
type CCI struct {
	ID         string `json:"id"` // e.g. "CCI-000015"
	Definition string `json:"definition"`
}

// StigRuleMapping links a CCI to a STIG rule.
type StigRuleMapping struct {
	CciID      string `json:"cci_id"`
	StigRuleID string `json:"stig_rule_id"`
}

// RuleType distinguishes the catalog a technical check came from.
type RuleType string

const (
	RuleTypeStig RuleType = "stig"
	RuleTypeJsig RuleType = "jsig"
)

// StigRule is a specific technical hardening check.
type StigRule struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Severity values.Severity `json:"severity"`
	RuleType RuleType        `json:"rule_type"`
}

// ControlImplStatus is the coarse implementation state recorded on a
// system-control link.
type ControlImplStatus string

const (
	ControlNotAssessed  ControlImplStatus = "not-assessed"
	ControlCompliant    ControlImplStatus = "compliant"
	ControlInProgress   ControlImplStatus = "in-progress"
	ControlNonCompliant ControlImplStatus = "non-compliant"
)

// SystemControl is the implementation record linking a system to a control.
type SystemControl struct {
	ID             uuid.UUID         `json:"id"`
	SystemID       uuid.UUID         `json:"system_id"`
	ControlID      string            `json:"control_id"`
	Implementation string            `json:"implementation"` // free-text narrative
	Status         ControlImplStatus `json:"status"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NewSystem creates a system in the not-yet-assessed posture.
func NewSystem(name, owner string, impact values.ImpactLevel) *System {
	now := time.Now().UTC()
	return &System{
		ID:               uuid.New(),
		Name:             name,
		Owner:            owner,
		ImpactLevel:      impact,
		ComplianceStatus: ComplianceStatusInProgress,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// StatusForCompliance maps an overall compliance percentage to the system's
// aggregate posture. Thresholds match the control aggregation tiers.
func StatusForCompliance(pct float64) ComplianceStatus {
	switch {
	case pct >= 95:
		return ComplianceStatusCompliant
	case pct >= 50:
		return ComplianceStatusInProgress
	default:
		return ComplianceStatusNonCompliant
	}
}
