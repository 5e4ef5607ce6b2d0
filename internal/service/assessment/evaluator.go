package assessment

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/compliancekit/assessment-backend/internal/domain/assessment"
	"github.com/compliancekit/assessment-backend/internal/domain/catalog"
	"github.com/compliancekit/assessment-backend/internal/domain/finding"
	"github.com/compliancekit/assessment-backend/internal/domain/values"
)

// RuleEvaluator classifies each STIG rule's compliance state from findings
// and any automated scan-evaluation evidence.
type RuleEvaluator struct {
	logger *zap.Logger
}

// NewRuleEvaluator creates a rule evaluator.
func NewRuleEvaluator(logger *zap.Logger) *RuleEvaluator {
	return &RuleEvaluator{logger: logger}
}

// Evaluate produces a verdict for every rule in scope. Precedence per rule:
//  1. a scan evaluation naming the rule as failed is authoritative (fail)
//  2. a scan evaluation executed for the rule's profile that did not name it
//     passes the rule
//  3. no referencing findings: pass only in automated mode, not_reviewed
//     otherwise (silence is not compliance when a human is in the loop)
//  4. referencing findings: pass iff all are fixed or accepted
func (e *RuleEvaluator) Evaluate(
	rules []*catalog.StigRule,
	findings []*finding.Finding,
	scans []*finding.ScanEvaluation,
	mode assessment.Mode,
) map[string]assessment.RuleEvaluation {
	now := time.Now().UTC()
	results := make(map[string]assessment.RuleEvaluation, len(rules))

	// Index findings by rule once; findings without a rule reference never
	// influence rule verdicts.
	byRule := make(map[string][]*finding.Finding)
	for _, f := range findings {
		if f.StigRuleID != nil {
			byRule[*f.StigRuleID] = append(byRule[*f.StigRuleID], f)
		}
	}

	for _, rule := range rules {
		results[rule.ID] = e.evaluateRule(rule, byRule[rule.ID], scans, mode, now)
	}

	e.logger.Debug("evaluated stig rules",
		zap.Int("rules", len(rules)),
		zap.Int("scan_evaluations", len(scans)),
		zap.String("mode", string(mode)),
	)
	return results
}

func (e *RuleEvaluator) evaluateRule(
	rule *catalog.StigRule,
	related []*finding.Finding,
	scans []*finding.ScanEvaluation,
	mode assessment.Mode,
	now time.Time,
) assessment.RuleEvaluation {
	eval := assessment.RuleEvaluation{
		RuleID:       rule.ID,
		Severity:     rule.Severity,
		LastAssessed: now,
	}
	for _, f := range related {
		eval.RelatedFindingIDs = append(eval.RelatedFindingIDs, f.ID)
	}

	// Automated scan verdicts strictly outrank finding-derived state.
	covered := false
	for _, scan := range scans {
		if fr, ok := scan.FailedRule(rule.ID); ok {
			eval.Status = assessment.VerdictFail
			eval.EvidenceText = fr.FindingText
			eval.AssessorComments = "Automated scan evaluation reported this rule as failed."
			return eval
		}
		if scan.Covers(string(rule.RuleType)) {
			covered = true
		}
	}
	if covered {
		eval.Status = assessment.VerdictPass
		eval.EvidenceText = "Automated scan evaluation executed for this profile reported no failure."
		return eval
	}

	if len(related) == 0 {
		if mode == assessment.ModeAutomated {
			eval.Status = assessment.VerdictPass
			eval.AssessorComments = "No findings reference this rule; automated assessment assumes compliance."
		} else {
			eval.Status = assessment.VerdictNotReviewed
			eval.AssessorComments = "No findings reference this rule; manual review required."
		}
		return eval
	}

	open := 0
	openBySeverity := make(map[values.Severity]int)
	for _, f := range related {
		if !f.IsResolved() {
			open++
			openBySeverity[f.Severity]++
		}
	}
	if open == 0 {
		eval.Status = assessment.VerdictPass
		eval.AssessorComments = fmt.Sprintf("All %d referencing findings are fixed or accepted.", len(related))
		return eval
	}

	eval.Status = assessment.VerdictFail
	eval.AssessorComments = openFindingCommentary(open, openBySeverity)
	return eval
}

// openFindingCommentary renders a deterministic open-finding summary, worst
// severity first.
func openFindingCommentary(open int, bySeverity map[values.Severity]int) string {
	order := []values.Severity{values.SeverityCritical, values.SeverityHigh, values.SeverityMedium, values.SeverityLow}
	parts := make([]string, 0, len(bySeverity))
	for _, sev := range order {
		if n := bySeverity[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	return fmt.Sprintf("%d open finding(s) reference this rule (%s).", open, strings.Join(parts, ", "))
}

// SummarizeVerdicts counts verdicts across a run for the assessment record.
func SummarizeVerdicts(evals map[string]assessment.RuleEvaluation) assessment.StigComplianceSummary {
	summary := assessment.StigComplianceSummary{TotalRules: len(evals)}
	for _, ev := range evals {
		switch ev.Status {
		case assessment.VerdictPass:
			summary.Pass++
		case assessment.VerdictFail:
			summary.Fail++
		case assessment.VerdictNotApplicable:
			summary.NotApplicable++
		case assessment.VerdictNotReviewed:
			summary.NotReviewed++
		case assessment.VerdictInformational:
			summary.Informational++
		}
	}
	return summary
}
