package assessment

import (
	"time"

	"github.com/google/uuid"

	"github.com/compliancekit/assessment-backend/internal/domain/catalog"
	"github.com/compliancekit/assessment-backend/internal/domain/values"
)

// Mode selects how much the engine may assume from silence. Automated mode
// treats a rule with no findings as passing; manual and hybrid do not.
type Mode string

const (
	ModeAutomated Mode = "automated"
	ModeManual    Mode = "manual"
	ModeHybrid    Mode = "hybrid"
)

func (m Mode) IsValid() bool {
	return m == ModeAutomated || m == ModeManual || m == ModeHybrid
}

// Status is the lifecycle state of one assessment run.
// not_started is synthetic: it never exists on a persisted record, only in
// snapshots for systems with no active run.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Progress milestones. Progress is monotonic within a run and reported only
// at these fixed points.
const (
	ProgressValidateSystem   = 10
	ProgressLoadBaseline     = 20
	ProgressSummarizeFinding = 30
	ProgressEvaluateRules    = 50
	ProgressAssessControls   = 70
	ProgressComputeSummary   = 80
	ProgressGeneratePoam     = 90
	ProgressComplete         = 100
)

// Scope optionally restricts which controls a run evaluates. An empty scope
// matches every control.
type Scope struct {
	Families   []string `json:"families,omitempty"`
	ControlIDs []string `json:"control_ids,omitempty"`
}

// IsEmpty reports whether the scope places no restriction.
func (s Scope) IsEmpty() bool {
	return len(s.Families) == 0 && len(s.ControlIDs) == 0
}

// Matches reports whether a control falls inside the scope.
func (s Scope) Matches(c *catalog.Control) bool {
	if s.IsEmpty() {
		return true
	}
	for _, id := range s.ControlIDs {
		if id == c.ID {
			return true
		}
	}
	for _, fam := range s.Families {
		if fam == c.Family {
			return true
		}
	}
	return false
}

// Options configure one assessment run.
type Options struct {
	Mode               Mode             `json:"mode"`
	GeneratePoam       bool             `json:"generate_poam"`
	GenerateEvidence   bool             `json:"generate_evidence"`
	UpdateSystemStatus bool             `json:"update_system_status"`
	RiskTolerance      values.RiskLevel `json:"risk_tolerance,omitempty"`
	Scope              Scope            `json:"scope,omitempty"`
}

// DefaultOptions returns the options used when a caller passes none.
func DefaultOptions() Options {
	return Options{
		Mode:               ModeAutomated,
		GeneratePoam:       true,
		GenerateEvidence:   false,
		UpdateSystemStatus: true,
		RiskTolerance:      values.RiskModerate,
	}
}

// RuleVerdict is the compliance state assigned to a single STIG rule.
type RuleVerdict string

const (
	VerdictPass          RuleVerdict = "pass"
	VerdictFail          RuleVerdict = "fail"
	VerdictNotApplicable RuleVerdict = "not_applicable"
	VerdictNotReviewed   RuleVerdict = "not_reviewed"
	VerdictInformational RuleVerdict = "informational"
)

// IsCompliant reports whether the verdict counts toward a control's
// compliance percentage.
func (v RuleVerdict) IsCompliant() bool {
	return v == VerdictPass || v == VerdictNotApplicable
}

// RuleEvaluation is the evaluator's verdict for one STIG rule.
type RuleEvaluation struct {
	RuleID            string          `json:"rule_id"`
	Status            RuleVerdict     `json:"status"`
	Severity          values.Severity `json:"severity"`
	RelatedFindingIDs []uuid.UUID     `json:"related_finding_ids,omitempty"`
	EvidenceText      string          `json:"evidence_text,omitempty"`
	AssessorComments  string          `json:"assessor_comments,omitempty"`
	LastAssessed      time.Time       `json:"last_assessed"`
}

// ImplementationStatus is the implementation tier derived from a control's
// compliance percentage.
type ImplementationStatus string

const (
	ImplNotAssessed ImplementationStatus = "not_assessed"
	ImplImplemented ImplementationStatus = "implemented"
	ImplPartial     ImplementationStatus = "partially_implemented"
	ImplNotDone     ImplementationStatus = "not_implemented"
)

// ControlAssessmentResult is the derived per-control outcome of a run. It is
// computed fresh each run and embedded in the assessment record rather than
// persisted as its own table.
type ControlAssessmentResult struct {
	ControlID            string                    `json:"control_id"`
	ControlTitle         string                    `json:"control_title"`
	Status               catalog.ControlImplStatus `json:"status"`
	ImplementationStatus ImplementationStatus      `json:"implementation_status"`
	CompliancePercentage float64                   `json:"compliance_percentage"`
	RiskLevel            values.RiskLevel          `json:"risk_level"`
	StigRulesMapped      int                       `json:"stig_rules_mapped"`
	StigRulesCompliant   int                       `json:"stig_rules_compliant"`
	Narrative            string                    `json:"narrative"`
	RelatedFindingIDs    []uuid.UUID               `json:"related_finding_ids,omitempty"`
	RelatedEvidenceIDs   []uuid.UUID               `json:"related_evidence_ids,omitempty"`
}

// FindingsSummary is the raw-findings rollup computed before control
// aggregation.
type FindingsSummary struct {
	Total          int                     `json:"total"`
	Open           int                     `json:"open"`
	BySeverity     map[values.Severity]int `json:"by_severity"`
	OpenBySeverity map[values.Severity]int `json:"open_by_severity"`
	RiskScore      float64                 `json:"risk_score"`
	RiskLevel      values.RiskLevel        `json:"risk_level"`
}

// StigComplianceSummary counts rule verdicts across the whole run.
type StigComplianceSummary struct {
	TotalRules    int `json:"total_rules"`
	Pass          int `json:"pass"`
	Fail          int `json:"fail"`
	NotApplicable int `json:"not_applicable"`
	NotReviewed   int `json:"not_reviewed"`
	Informational int `json:"informational"`
}

// Summary is the final rollup of a completed run.
type Summary struct {
	TotalControls               int              `json:"total_controls"`
	CompliantControls           int              `json:"compliant_controls"`
	OverallCompliancePercentage float64          `json:"overall_compliance_percentage"`
	SystemRiskScore             int              `json:"system_risk_score"`
	PoamItemsCreated            int              `json:"poam_items_created"`
	RiskTolerance               values.RiskLevel `json:"risk_tolerance,omitempty"`
}

// Assessment is one run of the pipeline.
type Assessment struct {
	ID             uuid.UUID                 `json:"id"`
	SystemID       uuid.UUID                 `json:"system_id"`
	JobID          uuid.UUID                 `json:"job_id"`
	Status         Status                    `json:"status"`
	Progress       int                       `json:"progress"`
	Options        Options                   `json:"options"`
	StartTime      time.Time                 `json:"start_time"`
	EndTime        *time.Time                `json:"end_time,omitempty"`
	Findings       *FindingsSummary          `json:"findings,omitempty"`
	StigCompliance *StigComplianceSummary    `json:"stig_compliance,omitempty"`
	Summary        *Summary                  `json:"summary,omitempty"`
	ControlResults []ControlAssessmentResult `json:"control_assessments,omitempty"`
	Errors         []string                  `json:"errors,omitempty"`
}

// New creates a pending assessment for a system.
func New(systemID uuid.UUID, opts Options) *Assessment {
	return &Assessment{
		ID:        uuid.New(),
		SystemID:  systemID,
		Status:    StatusPending,
		Progress:  0,
		Options:   opts,
		StartTime: time.Now().UTC(),
	}
}

// RecordProgress advances the run to a milestone. Progress never decreases.
func (a *Assessment) RecordProgress(milestone int) {
	if milestone > a.Progress {
		a.Progress = milestone
	}
	if a.Status == StatusPending {
		a.Status = StatusInProgress
	}
}

// Complete marks the run terminal-successful.
func (a *Assessment) Complete() {
	now := time.Now().UTC()
	a.Status = StatusCompleted
	a.Progress = ProgressComplete
	a.EndTime = &now
}

// Fail marks the run terminal-failed and records the cause. Progress stays at
// the last successful milestone.
func (a *Assessment) Fail(cause string) {
	now := time.Now().UTC()
	a.Status = StatusFailed
	a.EndTime = &now
	a.Errors = append(a.Errors, cause)
}

// AddWarning records a non-fatal error (best-effort stages).
func (a *Assessment) AddWarning(cause string) {
	a.Errors = append(a.Errors, "warning: "+cause)
}

// Snapshot is a read-only view of a run's progress for polling callers.
type Snapshot struct {
	SystemID     uuid.UUID  `json:"system_id"`
	AssessmentID uuid.UUID  `json:"assessment_id,omitempty"`
	Status       Status     `json:"status"`
	Progress     int        `json:"progress"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Snapshot derives the polling view of the run.
func (a *Assessment) Snapshot() Snapshot {
	s := Snapshot{
		SystemID:     a.SystemID,
		AssessmentID: a.ID,
		Status:       a.Status,
		Progress:     a.Progress,
		StartTime:    &a.StartTime,
		EndTime:      a.EndTime,
	}
	if len(a.Errors) > 0 {
		s.LastError = a.Errors[len(a.Errors)-1]
	}
	return s
}

// NotStartedSnapshot is the zero-value view for a system with no active run.
func NotStartedSnapshot(systemID uuid.UUID) Snapshot {
	return Snapshot{SystemID: systemID, Status: StatusNotStarted}
}

// JobStatus mirrors the generic generation-job tracking states shared with
// the document-generation pipeline.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// GenerationJob is the external progress-tracking record each run mirrors its
// milestones into, so progress survives loss of the in-memory process.
type GenerationJob struct {
	ID        uuid.UUID              `json:"id"`
	SystemID  uuid.UUID              `json:"system_id"`
	JobType   string                 `json:"job_type"`
	Status    JobStatus              `json:"status"`
	Progress  int                    `json:"progress"`
	Message   string                 `json:"message,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}
