package assessment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/compliancekit/assessment-backend/internal/domain/assessment"
	"github.com/compliancekit/assessment-backend/internal/domain/catalog"
	domainerrors "github.com/compliancekit/assessment-backend/internal/domain/errors"
	"github.com/compliancekit/assessment-backend/internal/domain/finding"
	"github.com/compliancekit/assessment-backend/internal/domain/values"
)

// ServiceConfig holds the orchestrator configuration.
type ServiceConfig struct {
	DefaultMode assessment.Mode `json:"default_mode"`
	// CleanupAge is the default terminal-entry age for CleanupAssessments.
	CleanupAge time.Duration `json:"cleanup_age"`
	// LaunchRate / LaunchBurst throttle how fast new runs may start.
	LaunchRate  rate.Limit `json:"launch_rate"`
	LaunchBurst int        `json:"launch_burst"`
}

// DefaultServiceConfig returns the default orchestrator configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		DefaultMode: assessment.ModeAutomated,
		CleanupAge:  24 * time.Hour,
		LaunchRate:  rate.Limit(5),
		LaunchBurst: 10,
	}
}

// Service drives the assessment pipeline end to end: validate target, load
// baseline data, evaluate STIG rules, aggregate control compliance, score
// risk, generate POA&M items, and persist progress at every milestone.
type Service struct {
	logger     *zap.Logger
	store      ComplianceStore
	evaluator  *RuleEvaluator
	aggregator *ControlAggregator
	poam       *PoamGenerator
	tracer     trace.Tracer
	limiter    *rate.Limiter
	recorder   MetricsRecorder
	config     ServiceConfig

	// Registry of in-memory runs. inflight enforces single-flight per
	// system: a second AssessSystem call for a system with a live run is
	// rejected, never raced.
	mu       sync.RWMutex
	active   map[uuid.UUID]*assessment.Assessment
	inflight map[uuid.UUID]uuid.UUID
}

// NewService creates the assessment orchestrator. rec may be nil to disable
// domain metrics.
func NewService(logger *zap.Logger, store ComplianceStore, rec MetricsRecorder, config ServiceConfig) *Service {
	if config.DefaultMode == "" {
		config.DefaultMode = assessment.ModeAutomated
	}
	if config.LaunchRate <= 0 {
		config.LaunchRate = rate.Inf
	}
	if config.LaunchBurst <= 0 {
		config.LaunchBurst = 1
	}
	return &Service{
		logger:     logger,
		store:      store,
		evaluator:  NewRuleEvaluator(logger.Named("evaluator")),
		aggregator: NewControlAggregator(store, logger.Named("aggregator")),
		poam:       NewPoamGenerator(store, logger.Named("poam")),
		tracer:     otel.Tracer("assessment"),
		limiter:    rate.NewLimiter(config.LaunchRate, config.LaunchBurst),
		recorder:   rec,
		config:     config,
		active:     make(map[uuid.UUID]*assessment.Assessment),
		inflight:   make(map[uuid.UUID]uuid.UUID),
	}
}

// AssessSystem runs a full compliance assessment for one system. The returned
// error is non-nil only for invocation-level refusals (invalid options, launch
// throttling, another run in flight for the system). Pipeline failures never
// escape: the returned assessment carries Status failed and a non-empty
// Errors list, and both the registry entry and the persisted record agree.
func (s *Service) AssessSystem(ctx context.Context, systemID uuid.UUID, opts assessment.Options) (*assessment.Assessment, error) {
	if opts.Mode == "" {
		opts.Mode = s.config.DefaultMode
	}
	if !opts.Mode.IsValid() {
		return nil, domainerrors.ErrInvalidOptions
	}
	if !s.limiter.Allow() {
		s.recordRejection(ctx, "throttled")
		return nil, domainerrors.ErrAssessmentThrottled
	}

	run := assessment.New(systemID, opts)

	s.mu.Lock()
	if existingID, ok := s.inflight[systemID]; ok {
		if existing, live := s.active[existingID]; live && !existing.Status.IsTerminal() {
			s.mu.Unlock()
			s.logger.Warn("assessment rejected, run already in flight",
				zap.String("system_id", systemID.String()),
				zap.String("assessment_id", existingID.String()),
			)
			s.recordRejection(ctx, "in_flight")
			return nil, domainerrors.ErrAssessmentInFlight
		}
	}
	s.active[run.ID] = run
	s.inflight[systemID] = run.ID
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.inflight[systemID] == run.ID {
			delete(s.inflight, systemID)
		}
		s.mu.Unlock()
	}()

	ctx, span := s.tracer.Start(ctx, "assessment.run",
		trace.WithAttributes(
			attribute.String("system.id", systemID.String()),
			attribute.String("assessment.id", run.ID.String()),
			attribute.String("assessment.mode", string(opts.Mode)),
		))
	defer span.End()

	s.logger.Info("assessment started",
		zap.String("assessment_id", run.ID.String()),
		zap.String("system_id", systemID.String()),
		zap.String("mode", string(opts.Mode)),
	)

	start := time.Now()
	s.bootstrapRecords(ctx, run)

	if err := s.runPipeline(ctx, run); err != nil {
		s.failRun(ctx, run, err)
		span.RecordError(err)
	}
	if s.recorder != nil {
		s.recorder.RecordRun(ctx, time.Since(start).Seconds(), run.Status == assessment.StatusFailed, string(opts.Mode))
	}

	s.logger.Info("assessment finished",
		zap.String("assessment_id", run.ID.String()),
		zap.String("status", string(run.Status)),
		zap.Int("errors", len(run.Errors)),
	)
	return run, nil
}

// bootstrapRecords persists the assessment record and its mirror generation
// job. Persistence failures here are recorded but do not abort the run: the
// in-memory registry still tracks it, and later milestone writes are skipped
// for records that never existed.
func (s *Service) bootstrapRecords(ctx context.Context, run *assessment.Assessment) {
	if _, err := s.store.CreateAssessment(ctx, run); err != nil {
		s.logger.Error("assessment record creation failed", zap.Error(err))
		s.withLock(func() { run.AddWarning(fmt.Sprintf("assessment record not persisted: %v", err)) })
	}

	job := &assessment.GenerationJob{
		ID:       uuid.New(),
		SystemID: run.SystemID,
		JobType:  "assessment",
		Status:   assessment.JobRunning,
		Metadata: map[string]interface{}{"assessment_id": run.ID.String()},
	}
	created, err := s.store.CreateGenerationJob(ctx, job)
	if err != nil {
		s.logger.Error("generation job creation failed", zap.Error(err))
		s.withLock(func() { run.AddWarning(fmt.Sprintf("generation job not persisted: %v", err)) })
		return
	}
	s.withLock(func() { run.JobID = created.ID })
}

// runPipeline executes the ordered stages. Any returned error marks the run
// failed; per-control and POA&M/evidence failures are absorbed before this
// level.
func (s *Service) runPipeline(ctx context.Context, run *assessment.Assessment) error {
	// Stage 1: validate target system.
	system, err := s.store.GetSystem(ctx, run.SystemID)
	if err != nil {
		return domainerrors.Wrap(err, "validating system")
	}
	if system == nil {
		return domainerrors.ErrSystemNotFound
	}
	s.recordProgress(ctx, run, assessment.ProgressValidateSystem, "system validated", nil)

	// Stage 2: load baseline data. The independent reads are issued
	// concurrently and awaited together.
	baseline, err := s.loadBaseline(ctx, run.SystemID)
	if err != nil {
		return domainerrors.Wrap(err, "loading baseline data")
	}
	s.recordProgress(ctx, run, assessment.ProgressLoadBaseline, "baseline data loaded", nil)

	// Stage 3: summarize raw findings.
	findingsSummary := summarizeFindings(baseline.findings)
	s.recordProgress(ctx, run, assessment.ProgressSummarizeFinding, "findings summarized", &AssessmentPatch{
		Findings: &findingsSummary,
	})
	s.withLock(func() { run.Findings = &findingsSummary })

	// Stage 4: evaluate STIG rules.
	scans := finding.ScanEvaluations(baseline.evidence)
	evals := s.evaluator.Evaluate(baseline.stigRules, baseline.findings, scans, run.Options.Mode)
	stigSummary := SummarizeVerdicts(evals)
	s.recordProgress(ctx, run, assessment.ProgressEvaluateRules, "stig rules evaluated", &AssessmentPatch{
		StigCompliance: &stigSummary,
	})
	s.withLock(func() { run.StigCompliance = &stigSummary })

	// Stage 5: assess control implementation.
	inScope := scopeControls(baseline.controls, run.Options.Scope)
	findingsByID := indexFindings(baseline.findings)
	results := s.aggregator.AssessControls(ctx, system, inScope, evals, findingsByID, baseline.systemControls, run.Options)
	s.recordProgress(ctx, run, assessment.ProgressAssessControls, "controls assessed", &AssessmentPatch{
		ControlResults: results,
	})
	s.withLock(func() { run.ControlResults = results })

	// Stage 6: compute the final summary, including the composite risk score.
	summary := buildSummary(results, baseline.findings, run.Options.RiskTolerance)
	s.recordProgress(ctx, run, assessment.ProgressComputeSummary, "summary computed", &AssessmentPatch{
		Summary: &summary,
	})
	s.withLock(func() { run.Summary = &summary })

	// Stage 7: generate POA&M items. Best-effort by design.
	poamCount := 0
	if run.Options.GeneratePoam {
		items, warnings := s.poam.Generate(ctx, baseline.findings, results)
		poamCount = len(items)
		s.withLock(func() {
			run.Summary.PoamItemsCreated = poamCount
			for _, w := range warnings {
				run.AddWarning(w)
			}
		})
	}
	s.recordProgress(ctx, run, assessment.ProgressGeneratePoam, "poam generation finished", &AssessmentPatch{
		Summary: run.Summary,
	})

	// Stage 8: update the system's aggregate posture.
	if run.Options.UpdateSystemStatus {
		if err := s.updateSystemStatus(ctx, run, results, summary); err != nil {
			return domainerrors.Wrap(err, "updating system status")
		}
	}

	if s.recorder != nil {
		s.recorder.RecordPipeline(ctx, len(evals), len(results), poamCount)
		s.recorder.RecordOutcome(ctx, float64(summary.SystemRiskScore), summary.OverallCompliancePercentage)
	}

	s.completeRun(ctx, run)
	return nil
}

// baselineData holds the stage-2 reads.
type baselineData struct {
	findings       []*finding.Finding
	controls       []*catalog.Control
	stigRules      []*catalog.StigRule
	evidence       []*finding.Evidence
	systemControls []*catalog.SystemControl
}

// loadBaseline fetches the independent baseline reads concurrently.
func (s *Service) loadBaseline(ctx context.Context, systemID uuid.UUID) (*baselineData, error) {
	var (
		wg   sync.WaitGroup
		data baselineData
		errs = make([]error, 5)
	)

	wg.Add(5)
	go func() {
		defer wg.Done()
		data.findings, errs[0] = s.store.GetFindingsBySystem(ctx, systemID)
	}()
	go func() {
		defer wg.Done()
		data.controls, errs[1] = s.store.GetControls(ctx)
	}()
	go func() {
		defer wg.Done()
		data.stigRules, errs[2] = s.store.GetStigRules(ctx)
	}()
	go func() {
		defer wg.Done()
		data.evidence, errs[3] = s.store.GetEvidenceBySystem(ctx, systemID)
	}()
	go func() {
		defer wg.Done()
		data.systemControls, errs[4] = s.store.GetSystemControls(ctx, systemID)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return &data, nil
}

// updateSystemStatus rewrites the system's aggregate posture and the coarse
// status on each assessed system-control link.
func (s *Service) updateSystemStatus(
	ctx context.Context,
	run *assessment.Assessment,
	results []assessment.ControlAssessmentResult,
	summary assessment.Summary,
) error {
	status := catalog.StatusForCompliance(summary.OverallCompliancePercentage)
	if err := s.store.UpdateSystem(ctx, run.SystemID, SystemPatch{ComplianceStatus: &status}); err != nil {
		return err
	}
	for _, r := range results {
		if err := s.store.UpdateSystemControl(ctx, run.SystemID, r.ControlID, r.Status); err != nil {
			// A missing link row is not worth failing a finished run over.
			s.logger.Warn("system control status update failed",
				zap.String("control_id", r.ControlID),
				zap.Error(err),
			)
			s.withLock(func() { run.AddWarning(fmt.Sprintf("control %s status not updated: %v", r.ControlID, err)) })
		}
	}
	return nil
}

// completeRun marks the run terminal-successful in memory and in both
// persisted records.
func (s *Service) completeRun(ctx context.Context, run *assessment.Assessment) {
	s.withLock(run.Complete)

	status := assessment.StatusCompleted
	progress := assessment.ProgressComplete
	s.persistPatch(ctx, run, AssessmentPatch{
		Status:   &status,
		Progress: &progress,
		EndTime:  true,
		Errors:   run.Errors,
	})
	s.mirrorJob(ctx, run, assessment.JobCompleted, progress, "assessment completed")
}

// failRun marks the run terminal-failed everywhere a caller can observe it.
func (s *Service) failRun(ctx context.Context, run *assessment.Assessment, cause error) {
	s.logger.Error("assessment failed",
		zap.String("assessment_id", run.ID.String()),
		zap.String("system_id", run.SystemID.String()),
		zap.Error(cause),
	)
	s.withLock(func() { run.Fail(cause.Error()) })

	status := assessment.StatusFailed
	s.persistPatch(ctx, run, AssessmentPatch{
		Status:  &status,
		EndTime: true,
		Errors:  run.Errors,
	})
	s.mirrorJob(ctx, run, assessment.JobFailed, run.Progress, cause.Error())
}

// recordProgress advances the run to a milestone and mirrors it to the
// persisted assessment record and generation job. Mirror failures are logged
// but never interrupt the pipeline; the in-memory registry remains the
// freshest view.
func (s *Service) recordProgress(ctx context.Context, run *assessment.Assessment, milestone int, message string, extra *AssessmentPatch) {
	s.withLock(func() { run.RecordProgress(milestone) })

	patch := AssessmentPatch{}
	if extra != nil {
		patch = *extra
	}
	status := assessment.StatusInProgress
	patch.Status = &status
	patch.Progress = &milestone

	s.persistPatch(ctx, run, patch)
	s.mirrorJob(ctx, run, assessment.JobRunning, milestone, message)

	s.logger.Debug("assessment progress",
		zap.String("assessment_id", run.ID.String()),
		zap.Int("progress", milestone),
		zap.String("stage", message),
	)
}

func (s *Service) recordRejection(ctx context.Context, reason string) {
	if s.recorder != nil {
		s.recorder.RecordRejection(ctx, reason)
	}
}

func (s *Service) persistPatch(ctx context.Context, run *assessment.Assessment, patch AssessmentPatch) {
	if err := s.store.UpdateAssessment(ctx, run.ID, patch); err != nil {
		s.logger.Warn("assessment record update failed",
			zap.String("assessment_id", run.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) mirrorJob(ctx context.Context, run *assessment.Assessment, status assessment.JobStatus, progress int, message string) {
	if run.JobID == uuid.Nil {
		return
	}
	if err := s.store.UpdateGenerationJob(ctx, run.JobID, JobPatch{
		Status:   &status,
		Progress: &progress,
		Message:  &message,
	}); err != nil {
		s.logger.Warn("generation job update failed",
			zap.String("job_id", run.JobID.String()),
			zap.Error(err),
		)
	}
}

// GetAssessmentSnapshot returns the most recent in-memory run for a system,
// or a not_started snapshot when none exists. Read-only and non-blocking.
func (s *Service) GetAssessmentSnapshot(systemID uuid.UUID) assessment.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *assessment.Assessment
	for _, run := range s.active {
		if run.SystemID != systemID {
			continue
		}
		if latest == nil || run.StartTime.After(latest.StartTime) {
			latest = run
		}
	}
	if latest == nil {
		return assessment.NotStartedSnapshot(systemID)
	}
	return latest.Snapshot()
}

// GetActiveAssessments lists every in-memory run regardless of system. Like
// GetAssessmentSnapshot it hands out value copies, never live run state.
func (s *Service) GetActiveAssessments() []assessment.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshots := make([]assessment.Snapshot, 0, len(s.active))
	for _, run := range s.active {
		snapshots = append(snapshots, run.Snapshot())
	}
	return snapshots
}

// CleanupAssessments evicts terminal registry entries whose end time is older
// than the cutoff. Persisted records are untouched. Returns the eviction
// count.
func (s *Service) CleanupAssessments(olderThan time.Duration) int {
	if olderThan <= 0 {
		olderThan = s.config.CleanupAge
	}
	cutoff := time.Now().UTC().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, run := range s.active {
		if run.Status.IsTerminal() && run.EndTime != nil && run.EndTime.Before(cutoff) {
			delete(s.active, id)
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Info("assessment registry cleaned", zap.Int("evicted", evicted))
	}
	return evicted
}

// withLock runs a registry-visible mutation under the service mutex so
// snapshot readers never observe a torn write.
func (s *Service) withLock(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// summarizeFindings rolls raw findings up into the pre-aggregation summary,
// scored with the findings-only formula.
func summarizeFindings(findings []*finding.Finding) assessment.FindingsSummary {
	score, level := FindingsRiskScore(findings)
	open := 0
	for _, f := range findings {
		if f.IsOpen() {
			open++
		}
	}
	return assessment.FindingsSummary{
		Total:          len(findings),
		Open:           open,
		BySeverity:     finding.CountBySeverity(findings),
		OpenBySeverity: finding.CountOpenBySeverity(findings),
		RiskScore:      score,
		RiskLevel:      level,
	}
}

// buildSummary computes the final rollup, including the composite system risk
// score.
func buildSummary(results []assessment.ControlAssessmentResult, findings []*finding.Finding, tolerance values.RiskLevel) assessment.Summary {
	summary := assessment.Summary{
		TotalControls: len(results),
		RiskTolerance: tolerance,
	}
	controlRisk := make(map[values.RiskLevel]int)
	for _, r := range results {
		if r.Status == catalog.ControlCompliant {
			summary.CompliantControls++
		}
		controlRisk[r.RiskLevel]++
	}
	if summary.TotalControls > 0 {
		summary.OverallCompliancePercentage = float64(summary.CompliantControls) / float64(summary.TotalControls) * 100
	}
	summary.SystemRiskScore = CompositeRiskScore(finding.CountOpenBySeverity(findings), controlRisk)
	return summary
}

func scopeControls(controls []*catalog.Control, scope assessment.Scope) []*catalog.Control {
	if scope.IsEmpty() {
		return controls
	}
	scoped := make([]*catalog.Control, 0, len(controls))
	for _, c := range controls {
		if scope.Matches(c) {
			scoped = append(scoped, c)
		}
	}
	return scoped
}

func indexFindings(findings []*finding.Finding) map[uuid.UUID]*finding.Finding {
	byID := make(map[uuid.UUID]*finding.Finding, len(findings))
	for _, f := range findings {
		byID[f.ID] = f
	}
	return byID
}
