package assessment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/compliancekit/assessment-backend/internal/domain/assessment"
	"github.com/compliancekit/assessment-backend/internal/domain/catalog"
	"github.com/compliancekit/assessment-backend/internal/domain/finding"
	"github.com/compliancekit/assessment-backend/internal/domain/values"
)

// ControlAggregator maps STIG rules to NIST controls through CCIs and rolls
// rule verdicts up into per-control compliance results.
type ControlAggregator struct {
	store  ComplianceStore
	logger *zap.Logger
}

// NewControlAggregator creates a control aggregator.
func NewControlAggregator(store ComplianceStore, logger *zap.Logger) *ControlAggregator {
	return &ControlAggregator{store: store, logger: logger}
}

// AssessControls produces one result per in-scope control. A failure while
// processing a single control never aborts the run: the control gets a
// degraded not-assessed placeholder and aggregation continues.
func (a *ControlAggregator) AssessControls(
	ctx context.Context,
	system *catalog.System,
	controls []*catalog.Control,
	evals map[string]assessment.RuleEvaluation,
	findingsByID map[uuid.UUID]*finding.Finding,
	systemControls []*catalog.SystemControl,
	opts assessment.Options,
) []assessment.ControlAssessmentResult {
	implHints := make(map[string]string, len(systemControls))
	for _, sc := range systemControls {
		if sc.Implementation != "" {
			implHints[sc.ControlID] = sc.Implementation
		}
	}

	results := make([]assessment.ControlAssessmentResult, 0, len(controls))
	for _, control := range controls {
		result, err := a.assessControl(ctx, system, control, evals, findingsByID, implHints[control.ID], opts)
		if err != nil {
			a.logger.Warn("control assessment degraded",
				zap.String("control_id", control.ID),
				zap.Error(err),
			)
			result = placeholderResult(control, err)
		}
		results = append(results, *result)
	}
	return results
}

func (a *ControlAggregator) assessControl(
	ctx context.Context,
	system *catalog.System,
	control *catalog.Control,
	evals map[string]assessment.RuleEvaluation,
	findingsByID map[uuid.UUID]*finding.Finding,
	implHint string,
	opts assessment.Options,
) (*assessment.ControlAssessmentResult, error) {
	ccis, err := a.store.GetCcisByControl(ctx, control.ID)
	if err != nil {
		return nil, fmt.Errorf("fetching CCIs for %s: %w", control.ID, err)
	}

	// Deduplicate mapped rules: several CCIs of one control often map to the
	// same rule, which must count once.
	ruleIDs := make(map[string]struct{})
	for _, cci := range ccis {
		mappings, err := a.store.GetStigRuleCcisByCci(ctx, cci.ID)
		if err != nil {
			return nil, fmt.Errorf("fetching rule mappings for %s: %w", cci.ID, err)
		}
		for _, m := range mappings {
			ruleIDs[m.StigRuleID] = struct{}{}
		}
	}

	mapped := 0
	compliant := 0
	relatedSet := make(map[uuid.UUID]struct{})
	for ruleID := range ruleIDs {
		eval, ok := evals[ruleID]
		if !ok {
			// Mapped rule absent from the loaded catalog; nothing to score.
			continue
		}
		mapped++
		if eval.Status.IsCompliant() {
			compliant++
		}
		for _, fid := range eval.RelatedFindingIDs {
			relatedSet[fid] = struct{}{}
		}
	}

	result := &assessment.ControlAssessmentResult{
		ControlID:          control.ID,
		ControlTitle:       control.Title,
		StigRulesMapped:    mapped,
		StigRulesCompliant: compliant,
		RelatedFindingIDs:  sortedIDs(relatedSet),
	}
	classifyControl(result)

	openFindings := 0
	for fid := range relatedSet {
		if f, ok := findingsByID[fid]; ok && f.IsOpen() {
			openFindings++
		}
	}
	result.Narrative = buildNarrative(control, result, openFindings, implHint)

	if opts.GenerateEvidence && len(result.RelatedFindingIDs) > 0 && result.Status != catalog.ControlNotAssessed {
		a.generateEvidence(ctx, system, control, result)
	}

	return result, nil
}

// classifyControl applies the fixed compliance thresholds.
func classifyControl(r *assessment.ControlAssessmentResult) {
	if r.StigRulesMapped == 0 {
		r.CompliancePercentage = 0
		r.Status = catalog.ControlNotAssessed
		r.ImplementationStatus = assessment.ImplNotAssessed
		r.RiskLevel = values.RiskMedium
		return
	}
	r.CompliancePercentage = float64(r.StigRulesCompliant) / float64(r.StigRulesMapped) * 100
	switch {
	case r.CompliancePercentage >= 95:
		r.Status = catalog.ControlCompliant
		r.ImplementationStatus = assessment.ImplImplemented
		r.RiskLevel = values.RiskLow
	case r.CompliancePercentage >= 80:
		r.Status = catalog.ControlInProgress
		r.ImplementationStatus = assessment.ImplPartial
		r.RiskLevel = values.RiskMedium
	case r.CompliancePercentage >= 50:
		r.Status = catalog.ControlInProgress
		r.ImplementationStatus = assessment.ImplPartial
		r.RiskLevel = values.RiskHigh
	default:
		r.Status = catalog.ControlNonCompliant
		r.ImplementationStatus = assessment.ImplNotDone
		r.RiskLevel = values.RiskCritical
	}
}

// placeholderResult is the degraded substitute for a control whose processing
// failed.
func placeholderResult(control *catalog.Control, err error) *assessment.ControlAssessmentResult {
	return &assessment.ControlAssessmentResult{
		ControlID:            control.ID,
		ControlTitle:         control.Title,
		Status:               catalog.ControlNotAssessed,
		ImplementationStatus: assessment.ImplNotAssessed,
		CompliancePercentage: 0,
		RiskLevel:            values.RiskHigh,
		Narrative:            fmt.Sprintf("Assessment of %s could not be completed: %v", control.ID, err),
	}
}

// buildNarrative renders the deterministic human-readable summary for a
// control result. No external text generation is involved.
func buildNarrative(control *catalog.Control, r *assessment.ControlAssessmentResult, openFindings int, implHint string) string {
	if r.StigRulesMapped == 0 {
		return fmt.Sprintf("Control %s (%s) has no mapped STIG rules and was not assessed.", control.ID, control.Title)
	}
	narrative := fmt.Sprintf("Control %s (%s): %d mapped STIG rule(s), %.1f%% compliant, %d open finding(s).",
		control.ID, control.Title, r.StigRulesMapped, r.CompliancePercentage, openFindings)
	if implHint != "" {
		narrative += " Documented implementation: " + implHint
	}
	return narrative
}

// generateEvidence records an evidence artifact summarizing the automated
// verdict for the control. Best-effort: failures are logged, never fatal.
func (a *ControlAggregator) generateEvidence(
	ctx context.Context,
	system *catalog.System,
	control *catalog.Control,
	result *assessment.ControlAssessmentResult,
) {
	verdict := "partially_satisfies"
	switch result.Status {
	case catalog.ControlCompliant:
		verdict = "satisfies"
	case catalog.ControlNonCompliant:
		verdict = "does_not_satisfy"
	}

	controlID := control.ID
	ev := &finding.Evidence{
		ID:          uuid.New(),
		SystemID:    system.ID,
		ControlID:   &controlID,
		Title:       fmt.Sprintf("Automated assessment evidence for %s", control.ID),
		Description: fmt.Sprintf("Automated verdict: %s (%d/%d mapped rules compliant).", verdict, result.StigRulesCompliant, result.StigRulesMapped),
		Payload:     finding.EvidencePayload{Kind: finding.PayloadGeneric},
		CreatedAt:   time.Now().UTC(),
	}

	created, err := a.store.CreateEvidence(ctx, ev)
	if err != nil {
		a.logger.Warn("evidence generation failed",
			zap.String("control_id", control.ID),
			zap.Error(err),
		)
		return
	}
	result.RelatedEvidenceIDs = append(result.RelatedEvidenceIDs, created.ID)
}

func sortedIDs(set map[uuid.UUID]struct{}) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
