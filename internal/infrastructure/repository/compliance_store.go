package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainassessment "github.com/compliancekit/assessment-backend/internal/domain/assessment"
	"github.com/compliancekit/assessment-backend/internal/domain/catalog"
	domainerrors "github.com/compliancekit/assessment-backend/internal/domain/errors"
	"github.com/compliancekit/assessment-backend/internal/domain/finding"
	"github.com/compliancekit/assessment-backend/internal/service/assessment"
)

// ComplianceStore implements assessment.ComplianceStore on PostgreSQL.
type ComplianceStore struct {
	db *pgxpool.Pool
}

// NewComplianceStore creates a PostgreSQL-backed compliance store.
func NewComplianceStore(db *pgxpool.Pool) *ComplianceStore {
	return &ComplianceStore{db: db}
}

var _ assessment.ComplianceStore = (*ComplianceStore)(nil)

// GetSystem returns nil without error when the system does not exist.
func (s *ComplianceStore) GetSystem(ctx context.Context, id uuid.UUID) (*catalog.System, error) {
	var sys catalog.System
	err := s.db.QueryRow(ctx, `
		SELECT id, name, impact_level, owner, compliance_status, created_at, updated_at
		FROM systems
		WHERE id = $1
	`, id).Scan(&sys.ID, &sys.Name, &sys.ImpactLevel, &sys.Owner,
		&sys.ComplianceStatus, &sys.CreatedAt, &sys.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to get system").WithCause(err)
	}
	return &sys, nil
}

func (s *ComplianceStore) UpdateSystem(ctx context.Context, id uuid.UUID, patch assessment.SystemPatch) error {
	if patch.ComplianceStatus == nil {
		return nil
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE systems SET compliance_status = $2, updated_at = NOW()
		WHERE id = $1
	`, id, *patch.ComplianceStatus)
	if err != nil {
		return domainerrors.NewInternalError("failed to update system").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.ErrSystemNotFound
	}
	return nil
}

func (s *ComplianceStore) GetControls(ctx context.Context) ([]*catalog.Control, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, title, family, priority FROM controls ORDER BY id
	`)
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to list controls").WithCause(err)
	}
	defer rows.Close()

	var controls []*catalog.Control
	for rows.Next() {
		var c catalog.Control
		if err := rows.Scan(&c.ID, &c.Title, &c.Family, &c.Priority); err != nil {
			return nil, domainerrors.NewInternalError("failed to scan control").WithCause(err)
		}
		controls = append(controls, &c)
	}
	return controls, rows.Err()
}

func (s *ComplianceStore) GetControl(ctx context.Context, id string) (*catalog.Control, error) {
	var c catalog.Control
	err := s.db.QueryRow(ctx, `
		SELECT id, title, family, priority FROM controls WHERE id = $1
	`, id).Scan(&c.ID, &c.Title, &c.Family, &c.Priority)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainerrors.ErrControlNotFound
	}
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to get control").WithCause(err)
	}
	return &c, nil
}

func (s *ComplianceStore) GetStigRules(ctx context.Context) ([]*catalog.StigRule, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, title, severity, rule_type FROM stig_rules ORDER BY id
	`)
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to list stig rules").WithCause(err)
	}
	defer rows.Close()

	var rules []*catalog.StigRule
	for rows.Next() {
		var r catalog.StigRule
		if err := rows.Scan(&r.ID, &r.Title, &r.Severity, &r.RuleType); err != nil {
			return nil, domainerrors.NewInternalError("failed to scan stig rule").WithCause(err)
		}
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

func (s *ComplianceStore) GetCcisByControl(ctx context.Context, controlID string) ([]*catalog.CCI, error) {
	rows, err := s.db.Query(ctx, `
		SELECT c.id, c.definition
		FROM ccis c
		JOIN control_ccis cc ON cc.cci_id = c.id
		WHERE cc.control_id = $1
		ORDER BY c.id
	`, controlID)
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to list CCIs for control").WithCause(err)
	}
	defer rows.Close()

	var ccis []*catalog.CCI
	for rows.Next() {
		var c catalog.CCI
		if err := rows.Scan(&c.ID, &c.Definition); err != nil {
			return nil, domainerrors.NewInternalError("failed to scan CCI").WithCause(err)
		}
		ccis = append(ccis, &c)
	}
	return ccis, rows.Err()
}

func (s *ComplianceStore) GetStigRuleCcisByCci(ctx context.Context, cciID string) ([]*catalog.StigRuleMapping, error) {
	rows, err := s.db.Query(ctx, `
		SELECT cci_id, stig_rule_id
		FROM cci_stig_rules
		WHERE cci_id = $1
		ORDER BY stig_rule_id
	`, cciID)
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to list rule mappings").WithCause(err)
	}
	defer rows.Close()

	var mappings []*catalog.StigRuleMapping
	for rows.Next() {
		var m catalog.StigRuleMapping
		if err := rows.Scan(&m.CciID, &m.StigRuleID); err != nil {
			return nil, domainerrors.NewInternalError("failed to scan rule mapping").WithCause(err)
		}
		mappings = append(mappings, &m)
	}
	return mappings, rows.Err()
}

func (s *ComplianceStore) GetFindingsBySystem(ctx context.Context, systemID uuid.UUID) ([]*finding.Finding, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, system_id, stig_rule_id, title, severity, status, description, remediation, created_at
		FROM findings
		WHERE system_id = $1
		ORDER BY created_at
	`, systemID)
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to list findings").WithCause(err)
	}
	defer rows.Close()

	var findings []*finding.Finding
	for rows.Next() {
		var f finding.Finding
		var ruleID sql.NullString
		if err := rows.Scan(&f.ID, &f.SystemID, &ruleID, &f.Title, &f.Severity,
			&f.Status, &f.Description, &f.Remediation, &f.CreatedAt); err != nil {
			return nil, domainerrors.NewInternalError("failed to scan finding").WithCause(err)
		}
		if ruleID.Valid {
			f.StigRuleID = &ruleID.String
		}
		findings = append(findings, &f)
	}
	return findings, rows.Err()
}

func (s *ComplianceStore) GetEvidenceBySystem(ctx context.Context, systemID uuid.UUID) ([]*finding.Evidence, error) {
	return s.queryEvidence(ctx, `
		SELECT id, system_id, control_id, finding_id, title, description, metadata, created_at
		FROM evidence
		WHERE system_id = $1
		ORDER BY created_at
	`, systemID)
}

func (s *ComplianceStore) GetEvidenceByControl(ctx context.Context, controlID string) ([]*finding.Evidence, error) {
	return s.queryEvidence(ctx, `
		SELECT id, system_id, control_id, finding_id, title, description, metadata, created_at
		FROM evidence
		WHERE control_id = $1
		ORDER BY created_at
	`, controlID)
}

func (s *ComplianceStore) queryEvidence(ctx context.Context, query string, arg interface{}) ([]*finding.Evidence, error) {
	rows, err := s.db.Query(ctx, query, arg)
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to list evidence").WithCause(err)
	}
	defer rows.Close()

	var records []*finding.Evidence
	for rows.Next() {
		var e finding.Evidence
		var controlID sql.NullString
		var findingID *uuid.UUID
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.SystemID, &controlID, &findingID,
			&e.Title, &e.Description, &metadata, &e.CreatedAt); err != nil {
			return nil, domainerrors.NewInternalError("failed to scan evidence").WithCause(err)
		}
		if controlID.Valid {
			e.ControlID = &controlID.String
		}
		e.FindingID = findingID
		// Classify the metadata blob once at the boundary; the engine never
		// touches raw JSON.
		e.Payload = finding.ResolvePayload(metadata)
		records = append(records, &e)
	}
	return records, rows.Err()
}

func (s *ComplianceStore) CreateEvidence(ctx context.Context, ev *finding.Evidence) (*finding.Evidence, error) {
	metadata, err := marshalEvidenceMetadata(ev.Payload)
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to marshal evidence metadata").WithCause(err)
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO evidence (id, system_id, control_id, finding_id, title, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.ID, ev.SystemID, ev.ControlID, ev.FindingID, ev.Title, ev.Description, metadata, ev.CreatedAt)
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to create evidence").WithCause(err)
	}
	return ev, nil
}

// marshalEvidenceMetadata writes the payload back in the stored blob layout
// that ResolvePayload reads.
func marshalEvidenceMetadata(p finding.EvidencePayload) ([]byte, error) {
	if p.Kind != finding.PayloadScanEvaluation || p.ScanEvaluation == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}{"stigEvaluation": p.ScanEvaluation})
}

func (s *ComplianceStore) GetSystemControls(ctx context.Context, systemID uuid.UUID) ([]*catalog.SystemControl, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, system_id, control_id, implementation, status, updated_at
		FROM system_controls
		WHERE system_id = $1
		ORDER BY control_id
	`, systemID)
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to list system controls").WithCause(err)
	}
	defer rows.Close()

	var links []*catalog.SystemControl
	for rows.Next() {
		var sc catalog.SystemControl
		if err := rows.Scan(&sc.ID, &sc.SystemID, &sc.ControlID,
			&sc.Implementation, &sc.Status, &sc.UpdatedAt); err != nil {
			return nil, domainerrors.NewInternalError("failed to scan system control").WithCause(err)
		}
		links = append(links, &sc)
	}
	return links, rows.Err()
}

func (s *ComplianceStore) UpdateSystemControl(ctx context.Context, systemID uuid.UUID, controlID string, status catalog.ControlImplStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE system_controls SET status = $3, updated_at = NOW()
		WHERE system_id = $1 AND control_id = $2
	`, systemID, controlID, status)
	if err != nil {
		return domainerrors.NewInternalError("failed to update system control").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.ErrControlNotFound
	}
	return nil
}

func (s *ComplianceStore) CreateAssessment(ctx context.Context, a *domainassessment.Assessment) (*domainassessment.Assessment, error) {
	options, err := json.Marshal(a.Options)
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to marshal options").WithCause(err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO assessments (id, system_id, status, progress, options, start_time, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.SystemID, a.Status, a.Progress, options, a.StartTime, a.Errors)
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to create assessment").WithCause(err)
	}
	return a, nil
}

// UpdateAssessment applies only the fields set on the patch, building the SET
// clause dynamically.
func (s *ComplianceStore) UpdateAssessment(ctx context.Context, id uuid.UUID, patch assessment.AssessmentPatch) error {
	sets := make([]string, 0, 8)
	args := make([]interface{}, 0, 8)
	args = append(args, id)

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Progress != nil {
		add("progress", *patch.Progress)
	}
	if patch.EndTime {
		sets = append(sets, "end_time = NOW()")
	}
	if patch.Findings != nil {
		blob, err := json.Marshal(patch.Findings)
		if err != nil {
			return domainerrors.NewInternalError("failed to marshal findings summary").WithCause(err)
		}
		add("findings", blob)
	}
	if patch.StigCompliance != nil {
		blob, err := json.Marshal(patch.StigCompliance)
		if err != nil {
			return domainerrors.NewInternalError("failed to marshal stig compliance").WithCause(err)
		}
		add("stig_compliance", blob)
	}
	if patch.Summary != nil {
		blob, err := json.Marshal(patch.Summary)
		if err != nil {
			return domainerrors.NewInternalError("failed to marshal summary").WithCause(err)
		}
		add("summary", blob)
	}
	if patch.ControlResults != nil {
		blob, err := json.Marshal(patch.ControlResults)
		if err != nil {
			return domainerrors.NewInternalError("failed to marshal control results").WithCause(err)
		}
		add("control_results", blob)
	}
	if patch.Errors != nil {
		add("errors", patch.Errors)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = NOW()")

	query := fmt.Sprintf("UPDATE assessments SET %s WHERE id = $1", strings.Join(sets, ", "))
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return domainerrors.NewInternalError("failed to update assessment").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.ErrAssessmentNotFound
	}
	return nil
}

func (s *ComplianceStore) CreateGenerationJob(ctx context.Context, job *domainassessment.GenerationJob) (*domainassessment.GenerationJob, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to marshal job metadata").WithCause(err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO generation_jobs (id, system_id, job_type, status, progress, message, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, job.ID, job.SystemID, job.JobType, job.Status, job.Progress, job.Message, metadata, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to create generation job").WithCause(err)
	}
	return job, nil
}

func (s *ComplianceStore) UpdateGenerationJob(ctx context.Context, id uuid.UUID, patch assessment.JobPatch) error {
	sets := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)
	args = append(args, id)

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Progress != nil {
		add("progress", *patch.Progress)
	}
	if patch.Message != nil {
		add("message", *patch.Message)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = NOW()")

	query := fmt.Sprintf("UPDATE generation_jobs SET %s WHERE id = $1", strings.Join(sets, ", "))
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return domainerrors.NewInternalError("failed to update generation job").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.NewNotFoundError("generation job")
	}
	return nil
}

func (s *ComplianceStore) CreatePoamItem(ctx context.Context, item *finding.PoamItem) (*finding.PoamItem, error) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO poam_items (id, system_id, control_id, finding_id, weakness, risk_statement,
			remediation, priority, planned_completion_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, item.ID, item.SystemID, item.ControlID, item.FindingID, item.Weakness,
		item.RiskStatement, item.Remediation, item.Priority, item.PlannedCompletionDate, item.CreatedAt)
	if err != nil {
		return nil, domainerrors.NewInternalError("failed to create poam item").WithCause(err)
	}
	return item, nil
}
