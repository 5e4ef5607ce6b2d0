package assessment

import (
	"context"

	"github.com/google/uuid"

	"github.com/compliancekit/assessment-backend/internal/domain/assessment"
	"github.com/compliancekit/assessment-backend/internal/domain/catalog"
	"github.com/compliancekit/assessment-backend/internal/domain/finding"
)

// SystemPatch is the subset of system fields the orchestrator rewrites at
// completion.
type SystemPatch struct {
	ComplianceStatus *catalog.ComplianceStatus
}

// AssessmentPatch is the mutable subset of an assessment record. Nil fields
// are left untouched.
type AssessmentPatch struct {
	Status         *assessment.Status
	Progress       *int
	EndTime        bool // set EndTime to now
	Findings       *assessment.FindingsSummary
	StigCompliance *assessment.StigComplianceSummary
	Summary        *assessment.Summary
	ControlResults []assessment.ControlAssessmentResult
	Errors         []string
}

// JobPatch is the mutable subset of a generation job record.
type JobPatch struct {
	Status   *assessment.JobStatus
	Progress *int
	Message  *string
}

// MetricsRecorder receives domain metric events from the engine. The
// orchestrator treats a nil recorder as a no-op.
type MetricsRecorder interface {
	// RecordRun records the terminal outcome and duration of one run.
	RecordRun(ctx context.Context, durationSeconds float64, failed bool, mode string)
	// RecordRejection counts a refused launch (throttled, in-flight).
	RecordRejection(ctx context.Context, reason string)
	// RecordPipeline records per-run stage volumes.
	RecordPipeline(ctx context.Context, rulesEvaluated, controlsAssessed, poamItems int)
	// RecordOutcome records the final posture of a completed run.
	RecordOutcome(ctx context.Context, riskScore, compliancePercentage float64)
}

// ComplianceStore is the narrow contract the engine consumes from the
// relational persistence layer. Everything behind it (schema, transactions,
// caching) is an external collaborator's concern.
type ComplianceStore interface {
	// GetSystem returns nil (no error) when the system does not exist.
	GetSystem(ctx context.Context, id uuid.UUID) (*catalog.System, error)
	UpdateSystem(ctx context.Context, id uuid.UUID, patch SystemPatch) error

	GetControls(ctx context.Context) ([]*catalog.Control, error)
	GetControl(ctx context.Context, id string) (*catalog.Control, error)
	GetStigRules(ctx context.Context) ([]*catalog.StigRule, error)

	// GetCcisByControl returns the CCIs mapped to a control.
	GetCcisByControl(ctx context.Context, controlID string) ([]*catalog.CCI, error)
	// GetStigRuleCcisByCci returns the rule mappings for a CCI.
	GetStigRuleCcisByCci(ctx context.Context, cciID string) ([]*catalog.StigRuleMapping, error)

	GetFindingsBySystem(ctx context.Context, systemID uuid.UUID) ([]*finding.Finding, error)

	GetEvidenceBySystem(ctx context.Context, systemID uuid.UUID) ([]*finding.Evidence, error)
	GetEvidenceByControl(ctx context.Context, controlID string) ([]*finding.Evidence, error)
	CreateEvidence(ctx context.Context, ev *finding.Evidence) (*finding.Evidence, error)

	GetSystemControls(ctx context.Context, systemID uuid.UUID) ([]*catalog.SystemControl, error)
	// UpdateSystemControl overwrites the coarse implementation status on a
	// system-control link at assessment completion.
	UpdateSystemControl(ctx context.Context, systemID uuid.UUID, controlID string, status catalog.ControlImplStatus) error

	CreateAssessment(ctx context.Context, a *assessment.Assessment) (*assessment.Assessment, error)
	UpdateAssessment(ctx context.Context, id uuid.UUID, patch AssessmentPatch) error

	CreateGenerationJob(ctx context.Context, job *assessment.GenerationJob) (*assessment.GenerationJob, error)
	UpdateGenerationJob(ctx context.Context, id uuid.UUID, patch JobPatch) error

	CreatePoamItem(ctx context.Context, item *finding.PoamItem) (*finding.PoamItem, error)
}
