package assessment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/compliancekit/assessment-backend/internal/domain/assessment"
	"github.com/compliancekit/assessment-backend/internal/domain/finding"
)

// PoamGenerator emits remediation items for open, high-severity findings.
// Generation is best-effort: persistence failures become warnings on the
// assessment, never a failed run.
type PoamGenerator struct {
	store  ComplianceStore
	logger *zap.Logger
}

// NewPoamGenerator creates a POA&M generator.
func NewPoamGenerator(store ComplianceStore, logger *zap.Logger) *PoamGenerator {
	return &PoamGenerator{store: store, logger: logger}
}

// Generate creates one PoamItem per open critical/high finding. Findings that
// are fixed, accepted, false-positive, or below high severity never produce
// items. Each finding is attributed to the first control result that lists it
// among its related findings.
func (g *PoamGenerator) Generate(
	ctx context.Context,
	findings []*finding.Finding,
	controlResults []assessment.ControlAssessmentResult,
) (created []*finding.PoamItem, warnings []string) {
	attribution := buildAttribution(controlResults)
	now := time.Now().UTC()

	for _, f := range findings {
		if !f.IsOpen() || !f.Severity.RequiresPoam() {
			continue
		}

		var controlID *string
		var controlTitle string
		if attr, ok := attribution[f.ID]; ok {
			id := attr.controlID
			controlID = &id
			controlTitle = attr.controlTitle
		}

		statement := finding.RiskStatement(f, derefOrEmpty(controlID), controlTitle)
		item := finding.NewPoamItem(f, controlID, statement, now)

		if _, err := g.store.CreatePoamItem(ctx, item); err != nil {
			g.logger.Warn("poam item persistence failed",
				zap.String("finding_id", f.ID.String()),
				zap.Error(err),
			)
			warnings = append(warnings, fmt.Sprintf("poam item for finding %s not persisted: %v", f.ID, err))
			continue
		}
		created = append(created, item)
	}

	g.logger.Info("poam generation finished",
		zap.Int("items_created", len(created)),
		zap.Int("failures", len(warnings)),
	)
	return created, warnings
}

type controlAttribution struct {
	controlID    string
	controlTitle string
}

// buildAttribution indexes finding ids to the first control result claiming
// them, preserving the control result order of the run.
func buildAttribution(results []assessment.ControlAssessmentResult) map[uuid.UUID]controlAttribution {
	attribution := make(map[uuid.UUID]controlAttribution)
	for _, r := range results {
		for _, fid := range r.RelatedFindingIDs {
			if _, seen := attribution[fid]; !seen {
				attribution[fid] = controlAttribution{controlID: r.ControlID, controlTitle: r.ControlTitle}
			}
		}
	}
	return attribution
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
