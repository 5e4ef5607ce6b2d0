package assessment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/compliancekit/assessment-backend/internal/domain/assessment"
	"github.com/compliancekit/assessment-backend/internal/domain/catalog"
	domainerrors "github.com/compliancekit/assessment-backend/internal/domain/errors"
	"github.com/compliancekit/assessment-backend/internal/domain/finding"
	"github.com/compliancekit/assessment-backend/internal/domain/values"
	"github.com/compliancekit/assessment-backend/internal/testutil/fixtures"
)

// setupTestService wires a service over a two-control catalog: AC-2 maps to
// rules SV-1001 and SV-1002 through one CCI, AU-3 has no mappings at all.
func setupTestService(t *testing.T) (*Service, *memStore, uuid.UUID) {
	t.Helper()

	store := newMemStore()
	system := fixtures.NewSystemBuilder(t).Build()
	store.systems[system.ID] = system

	store.controls = []*catalog.Control{
		fixtures.Control("AC-2", "Account Management"),
		fixtures.Control("AU-3", "Content of Audit Records"),
	}
	store.stigRules = []*catalog.StigRule{
		fixtures.StigRule("SV-1001", values.SeverityHigh),
		fixtures.StigRule("SV-1002", values.SeverityMedium),
	}
	store.ccisByControl["AC-2"] = []*catalog.CCI{{ID: "CCI-000015", Definition: "Automated account management"}}
	store.mappingsByCci["CCI-000015"] = []*catalog.StigRuleMapping{
		{CciID: "CCI-000015", StigRuleID: "SV-1001"},
		{CciID: "CCI-000015", StigRuleID: "SV-1002"},
	}

	svc := NewService(zaptest.NewLogger(t), store, nil, DefaultServiceConfig())
	return svc, store, system.ID
}

func controlResult(t *testing.T, run *assessment.Assessment, controlID string) assessment.ControlAssessmentResult {
	t.Helper()
	for _, r := range run.ControlResults {
		if r.ControlID == controlID {
			return r
		}
	}
	t.Fatalf("no result for control %s", controlID)
	return assessment.ControlAssessmentResult{}
}

func TestAssessSystemAllPassAutomated(t *testing.T) {
	svc, store, systemID := setupTestService(t)

	run, err := svc.AssessSystem(context.Background(), systemID, assessment.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, assessment.StatusCompleted, run.Status)
	assert.Equal(t, assessment.ProgressComplete, run.Progress)
	require.NotNil(t, run.EndTime)
	assert.Empty(t, run.Errors)

	// Automated mode passes unreferenced rules, so AC-2 is fully compliant.
	ac2 := controlResult(t, run, "AC-2")
	assert.Equal(t, catalog.ControlCompliant, ac2.Status)
	assert.Equal(t, assessment.ImplImplemented, ac2.ImplementationStatus)
	assert.Equal(t, 100.0, ac2.CompliancePercentage)
	assert.Equal(t, values.RiskLow, ac2.RiskLevel)
	assert.Equal(t, 2, ac2.StigRulesMapped)

	// AU-3 has no mapped rules and must come back not-assessed at medium risk.
	au3 := controlResult(t, run, "AU-3")
	assert.Equal(t, catalog.ControlNotAssessed, au3.Status)
	assert.Equal(t, assessment.ImplNotAssessed, au3.ImplementationStatus)
	assert.Equal(t, 0.0, au3.CompliancePercentage)
	assert.Equal(t, values.RiskMedium, au3.RiskLevel)

	require.NotNil(t, run.Summary)
	assert.Equal(t, 2, run.Summary.TotalControls)
	assert.Equal(t, 1, run.Summary.CompliantControls)
	assert.Equal(t, 50.0, run.Summary.OverallCompliancePercentage)
	assert.Equal(t, 0, run.Summary.SystemRiskScore)
	assert.Equal(t, 0, run.Summary.PoamItemsCreated)
	assert.Equal(t, values.RiskModerate, run.Summary.RiskTolerance)

	require.NotNil(t, run.StigCompliance)
	assert.Equal(t, 2, run.StigCompliance.Pass)
	assert.Equal(t, 0, run.StigCompliance.Fail)

	// 50% compliance leaves the system in-progress.
	require.Len(t, store.systemPatches, 1)
	assert.Equal(t, catalog.ComplianceStatusInProgress, *store.systemPatches[0].ComplianceStatus)
	assert.Equal(t, catalog.ControlCompliant, store.controlUpdates["AC-2"])
	assert.Equal(t, catalog.ControlNotAssessed, store.controlUpdates["AU-3"])
}

func TestAssessSystemSingleCriticalFinding(t *testing.T) {
	svc, store, systemID := setupTestService(t)

	f := fixtures.NewFindingBuilder(t).
		WithSystemID(systemID).
		WithStigRule("SV-1001").
		WithSeverity(values.SeverityCritical).
		Build()
	store.findings[systemID] = []*finding.Finding{f}

	run, err := svc.AssessSystem(context.Background(), systemID, assessment.DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, assessment.StatusCompleted, run.Status)

	// One of two mapped rules fails: 50% puts AC-2 in the high-risk tier.
	ac2 := controlResult(t, run, "AC-2")
	assert.Equal(t, catalog.ControlInProgress, ac2.Status)
	assert.Equal(t, assessment.ImplPartial, ac2.ImplementationStatus)
	assert.Equal(t, 50.0, ac2.CompliancePercentage)
	assert.Equal(t, values.RiskHigh, ac2.RiskLevel)

	require.NotNil(t, run.Findings)
	assert.Equal(t, 1, run.Findings.Total)
	assert.Equal(t, 1, run.Findings.Open)
	assert.Equal(t, 100.0, run.Findings.RiskScore)
	assert.Equal(t, values.RiskCritical, run.Findings.RiskLevel)

	// Composite: 10 for the open critical finding, 8 for the high-risk control.
	assert.Equal(t, 18, run.Summary.SystemRiskScore)

	require.Len(t, store.poamItems, 1)
	item := store.poamItems[0]
	assert.Equal(t, values.SeverityCritical, item.Priority)
	assert.Equal(t, f.ID, item.FindingID)
	require.NotNil(t, item.ControlID)
	assert.Equal(t, "AC-2", *item.ControlID)
	assert.Equal(t, 72*time.Hour, item.PlannedCompletionDate.Sub(item.CreatedAt))
	assert.Equal(t, 1, run.Summary.PoamItemsCreated)
}

func TestAssessSystemManualModeSilence(t *testing.T) {
	svc, _, systemID := setupTestService(t)

	opts := assessment.DefaultOptions()
	opts.Mode = assessment.ModeManual

	run, err := svc.AssessSystem(context.Background(), systemID, opts)
	require.NoError(t, err)
	require.Equal(t, assessment.StatusCompleted, run.Status)

	// Manual mode never passes a rule on silence.
	assert.Equal(t, 2, run.StigCompliance.NotReviewed)
	assert.Equal(t, 0, run.StigCompliance.Pass)

	ac2 := controlResult(t, run, "AC-2")
	assert.Equal(t, catalog.ControlNonCompliant, ac2.Status)
	assert.Equal(t, values.RiskCritical, ac2.RiskLevel)
	assert.Equal(t, 0.0, run.Summary.OverallCompliancePercentage)
	assert.Equal(t, 15, run.Summary.SystemRiskScore)
}

func TestScanPayloadOutranksFindingState(t *testing.T) {
	svc, store, systemID := setupTestService(t)

	// The finding says fixed, the scan says failed: the scan wins.
	f := fixtures.NewFindingBuilder(t).
		WithSystemID(systemID).
		WithStigRule("SV-1001").
		WithStatus(finding.StatusFixed).
		Build()
	store.findings[systemID] = []*finding.Finding{f}
	store.evidence[systemID] = []*finding.Evidence{
		fixtures.ScanEvidence(systemID, fixtures.ScanEvaluation("stig", "SV-1001")),
	}

	run, err := svc.AssessSystem(context.Background(), systemID, assessment.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 1, run.StigCompliance.Fail)
	assert.Equal(t, 1, run.StigCompliance.Pass)
	assert.Equal(t, 50.0, controlResult(t, run, "AC-2").CompliancePercentage)
}

func TestAssessSystemUnknownSystem(t *testing.T) {
	svc, _, _ := setupTestService(t)

	run, err := svc.AssessSystem(context.Background(), uuid.New(), assessment.DefaultOptions())
	require.NoError(t, err, "pipeline failures never escape as errors")

	assert.Equal(t, assessment.StatusFailed, run.Status)
	require.NotNil(t, run.EndTime)
	require.NotEmpty(t, run.Errors)
	assert.Contains(t, run.Errors[len(run.Errors)-1], "system not found")
}

func TestAssessSystemStageFailure(t *testing.T) {
	svc, store, systemID := setupTestService(t)
	store.failOn("GetControls", errors.New("connection reset"))

	run, err := svc.AssessSystem(context.Background(), systemID, assessment.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, assessment.StatusFailed, run.Status)
	assert.Equal(t, assessment.ProgressValidateSystem, run.Progress, "progress stays at the last completed milestone")
	require.NotEmpty(t, run.Errors)
	assert.Contains(t, run.Errors[len(run.Errors)-1], "loading baseline data")

	// The mirrored generation job must agree.
	require.NotEmpty(t, store.jobPatches)
	last := store.jobPatches[len(store.jobPatches)-1]
	assert.Equal(t, assessment.JobFailed, *last.Status)
}

func TestAssessSystemRejectsConcurrentRun(t *testing.T) {
	svc, store, systemID := setupTestService(t)
	store.blockGetSystem = make(chan struct{})

	done := make(chan *assessment.Assessment, 1)
	go func() {
		run, err := svc.AssessSystem(context.Background(), systemID, assessment.DefaultOptions())
		assert.NoError(t, err)
		done <- run
	}()

	// Wait until the first run is registered.
	require.Eventually(t, func() bool {
		return len(svc.GetActiveAssessments()) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := svc.AssessSystem(context.Background(), systemID, assessment.DefaultOptions())
	assert.ErrorIs(t, err, domainerrors.ErrAssessmentInFlight)

	close(store.blockGetSystem)
	run := <-done
	assert.Equal(t, assessment.StatusCompleted, run.Status)

	// With the first run terminal, a new launch is accepted again.
	store.blockGetSystem = nil
	_, err = svc.AssessSystem(context.Background(), systemID, assessment.DefaultOptions())
	assert.NoError(t, err)
}

func TestAssessSystemThrottled(t *testing.T) {
	_, store, systemID := setupTestService(t)

	cfg := DefaultServiceConfig()
	cfg.LaunchRate = rate.Limit(0.001)
	cfg.LaunchBurst = 1
	svc := NewService(zaptest.NewLogger(t), store, nil, cfg)

	_, err := svc.AssessSystem(context.Background(), systemID, assessment.DefaultOptions())
	require.NoError(t, err)

	_, err = svc.AssessSystem(context.Background(), systemID, assessment.DefaultOptions())
	assert.ErrorIs(t, err, domainerrors.ErrAssessmentThrottled)
}

func TestAssessSystemInvalidMode(t *testing.T) {
	svc, _, systemID := setupTestService(t)

	opts := assessment.DefaultOptions()
	opts.Mode = "adversarial"

	_, err := svc.AssessSystem(context.Background(), systemID, opts)
	assert.ErrorIs(t, err, domainerrors.ErrInvalidOptions)
}

func TestProgressMirroredMonotonically(t *testing.T) {
	svc, store, systemID := setupTestService(t)

	_, err := svc.AssessSystem(context.Background(), systemID, assessment.DefaultOptions())
	require.NoError(t, err)

	var milestones []int
	for _, p := range store.assessmentPatches {
		if p.Progress != nil {
			milestones = append(milestones, *p.Progress)
		}
	}
	require.NotEmpty(t, milestones)
	for i := 1; i < len(milestones); i++ {
		assert.GreaterOrEqual(t, milestones[i], milestones[i-1])
	}
	assert.Equal(t, assessment.ProgressComplete, milestones[len(milestones)-1])
	assert.Contains(t, milestones, assessment.ProgressEvaluateRules)
	assert.Contains(t, milestones, assessment.ProgressAssessControls)
}

func TestGetAssessmentSnapshot(t *testing.T) {
	svc, _, systemID := setupTestService(t)

	before := svc.GetAssessmentSnapshot(systemID)
	assert.Equal(t, assessment.StatusNotStarted, before.Status)
	assert.Equal(t, 0, before.Progress)

	run, err := svc.AssessSystem(context.Background(), systemID, assessment.DefaultOptions())
	require.NoError(t, err)

	after := svc.GetAssessmentSnapshot(systemID)
	assert.Equal(t, run.ID, after.AssessmentID)
	assert.Equal(t, assessment.StatusCompleted, after.Status)
	assert.Equal(t, assessment.ProgressComplete, after.Progress)
}

func TestGetActiveAssessmentsReturnsSnapshots(t *testing.T) {
	svc, _, systemID := setupTestService(t)

	run, err := svc.AssessSystem(context.Background(), systemID, assessment.DefaultOptions())
	require.NoError(t, err)

	snapshots := svc.GetActiveAssessments()
	require.Len(t, snapshots, 1)
	assert.Equal(t, run.ID, snapshots[0].AssessmentID)
	assert.Equal(t, assessment.StatusCompleted, snapshots[0].Status)

	// Returned entries are copies: mutating one must not touch the registry.
	snapshots[0].Status = assessment.StatusFailed
	assert.Equal(t, assessment.StatusCompleted, svc.GetActiveAssessments()[0].Status)
}

func TestCleanupAssessments(t *testing.T) {
	svc, _, systemID := setupTestService(t)

	run, err := svc.AssessSystem(context.Background(), systemID, assessment.DefaultOptions())
	require.NoError(t, err)

	// Nothing old enough yet.
	assert.Equal(t, 0, svc.CleanupAssessments(time.Hour))

	stale := time.Now().UTC().Add(-2 * time.Hour)
	run.EndTime = &stale
	assert.Equal(t, 1, svc.CleanupAssessments(time.Hour))
	assert.Empty(t, svc.GetActiveAssessments())
	assert.Equal(t, assessment.StatusNotStarted, svc.GetAssessmentSnapshot(systemID).Status)
}

func TestAssessSystemIsIdempotent(t *testing.T) {
	svc, store, systemID := setupTestService(t)

	f := fixtures.NewFindingBuilder(t).
		WithSystemID(systemID).
		WithStigRule("SV-1001").
		WithSeverity(values.SeverityHigh).
		Build()
	store.findings[systemID] = []*finding.Finding{f}

	first, err := svc.AssessSystem(context.Background(), systemID, assessment.DefaultOptions())
	require.NoError(t, err)
	second, err := svc.AssessSystem(context.Background(), systemID, assessment.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, first.Summary.OverallCompliancePercentage, second.Summary.OverallCompliancePercentage)
	assert.Equal(t, first.Summary.SystemRiskScore, second.Summary.SystemRiskScore)
	assert.Equal(t, first.Summary.CompliantControls, second.Summary.CompliantControls)
	assert.Len(t, store.createdAssessments, 2)
}

func TestEvidenceGenerationBestEffort(t *testing.T) {
	svc, store, systemID := setupTestService(t)

	f := fixtures.NewFindingBuilder(t).
		WithSystemID(systemID).
		WithStigRule("SV-1001").
		WithSeverity(values.SeverityHigh).
		Build()
	store.findings[systemID] = []*finding.Finding{f}
	store.failOn("CreateEvidence", errors.New("disk full"))

	opts := assessment.DefaultOptions()
	opts.GenerateEvidence = true

	run, err := svc.AssessSystem(context.Background(), systemID, opts)
	require.NoError(t, err)

	// Evidence persistence failure degrades, never fails the run.
	assert.Equal(t, assessment.StatusCompleted, run.Status)
	assert.Empty(t, controlResult(t, run, "AC-2").RelatedEvidenceIDs)
}

func TestPoamPersistenceFailureIsWarning(t *testing.T) {
	svc, store, systemID := setupTestService(t)

	f := fixtures.NewFindingBuilder(t).
		WithSystemID(systemID).
		WithStigRule("SV-1001").
		WithSeverity(values.SeverityCritical).
		Build()
	store.findings[systemID] = []*finding.Finding{f}
	store.failOn("CreatePoamItem", errors.New("constraint violation"))

	run, err := svc.AssessSystem(context.Background(), systemID, assessment.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, assessment.StatusCompleted, run.Status)
	assert.Equal(t, 0, run.Summary.PoamItemsCreated)
	require.NotEmpty(t, run.Errors)
	assert.Contains(t, run.Errors[0], "warning:")
}
