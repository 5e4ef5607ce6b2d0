package fixtures

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/compliancekit/assessment-backend/internal/domain/catalog"
	"github.com/compliancekit/assessment-backend/internal/domain/values"
)

// SystemBuilder builds test System entities
type SystemBuilder struct {
	t      *testing.T
	id     uuid.UUID
	name   string
	impact values.ImpactLevel
	owner  string
	status catalog.ComplianceStatus
}

// NewSystemBuilder creates a new SystemBuilder with defaults
func NewSystemBuilder(t *testing.T) *SystemBuilder {
	t.Helper()
	return &SystemBuilder{
		t:      t,
		id:     uuid.New(),
		name:   "Mission Support System",
		impact: values.ImpactModerate,
		owner:  "ISSO",
		status: catalog.ComplianceStatusInProgress,
	}
}

// WithID sets the system ID
func (b *SystemBuilder) WithID(id uuid.UUID) *SystemBuilder {
	b.id = id
	return b
}

// WithName sets the system name
func (b *SystemBuilder) WithName(name string) *SystemBuilder {
	b.name = name
	return b
}

// WithImpactLevel sets the FIPS impact level
func (b *SystemBuilder) WithImpactLevel(impact values.ImpactLevel) *SystemBuilder {
	b.impact = impact
	return b
}

// WithComplianceStatus sets the aggregate posture
func (b *SystemBuilder) WithComplianceStatus(status catalog.ComplianceStatus) *SystemBuilder {
	b.status = status
	return b
}

// Build creates the System
func (b *SystemBuilder) Build() *catalog.System {
	now := time.Now().UTC()
	return &catalog.System{
		ID:               b.id,
		Name:             b.name,
		ImpactLevel:      b.impact,
		Owner:            b.owner,
		ComplianceStatus: b.status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Control creates a test control.
func Control(id, title string) *catalog.Control {
	family := id
	if i := strings.Index(id, "-"); i > 0 {
		family = id[:i]
	}
	return &catalog.Control{ID: id, Title: title, Family: family, Priority: "P1"}
}

// StigRule creates a test STIG rule.
func StigRule(id string, severity values.Severity) *catalog.StigRule {
	return &catalog.StigRule{
		ID:       id,
		Title:    "Hardening check " + id,
		Severity: severity,
		RuleType: catalog.RuleTypeStig,
	}
}
