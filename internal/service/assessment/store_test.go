package assessment

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/compliancekit/assessment-backend/internal/domain/assessment"
	"github.com/compliancekit/assessment-backend/internal/domain/catalog"
	"github.com/compliancekit/assessment-backend/internal/domain/finding"
)

// memStore is an in-memory ComplianceStore for engine tests. It records every
// write so tests can assert on the persisted trail, and supports per-method
// error injection and a blocking hook for concurrency tests.
type memStore struct {
	mu sync.Mutex

	systems        map[uuid.UUID]*catalog.System
	controls       []*catalog.Control
	stigRules      []*catalog.StigRule
	ccisByControl  map[string][]*catalog.CCI
	mappingsByCci  map[string][]*catalog.StigRuleMapping
	findings       map[uuid.UUID][]*finding.Finding
	evidence       map[uuid.UUID][]*finding.Evidence
	systemControls map[uuid.UUID][]*catalog.SystemControl

	createdAssessments []*assessment.Assessment
	assessmentPatches  []AssessmentPatch
	createdJobs        []*assessment.GenerationJob
	jobPatches         []JobPatch
	createdEvidence    []*finding.Evidence
	poamItems          []*finding.PoamItem
	systemPatches      []SystemPatch
	controlUpdates     map[string]catalog.ControlImplStatus

	// errOn injects an error for the named method.
	errOn map[string]error
	// blockGetSystem, when non-nil, makes GetSystem wait until it is closed.
	blockGetSystem chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		systems:        make(map[uuid.UUID]*catalog.System),
		ccisByControl:  make(map[string][]*catalog.CCI),
		mappingsByCci:  make(map[string][]*catalog.StigRuleMapping),
		findings:       make(map[uuid.UUID][]*finding.Finding),
		evidence:       make(map[uuid.UUID][]*finding.Evidence),
		systemControls: make(map[uuid.UUID][]*catalog.SystemControl),
		controlUpdates: make(map[string]catalog.ControlImplStatus),
		errOn:          make(map[string]error),
	}
}

func (m *memStore) failOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errOn[method] = err
}

func (m *memStore) injected(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errOn[method]
}

func (m *memStore) GetSystem(ctx context.Context, id uuid.UUID) (*catalog.System, error) {
	if m.blockGetSystem != nil {
		<-m.blockGetSystem
	}
	if err := m.injected("GetSystem"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.systems[id], nil
}

func (m *memStore) UpdateSystem(ctx context.Context, id uuid.UUID, patch SystemPatch) error {
	if err := m.injected("UpdateSystem"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPatches = append(m.systemPatches, patch)
	if sys, ok := m.systems[id]; ok && patch.ComplianceStatus != nil {
		sys.ComplianceStatus = *patch.ComplianceStatus
	}
	return nil
}

func (m *memStore) GetControls(ctx context.Context) ([]*catalog.Control, error) {
	if err := m.injected("GetControls"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controls, nil
}

func (m *memStore) GetControl(ctx context.Context, id string) (*catalog.Control, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.controls {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetStigRules(ctx context.Context) ([]*catalog.StigRule, error) {
	if err := m.injected("GetStigRules"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stigRules, nil
}

func (m *memStore) GetCcisByControl(ctx context.Context, controlID string) ([]*catalog.CCI, error) {
	if err := m.injected("GetCcisByControl"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ccisByControl[controlID], nil
}

func (m *memStore) GetStigRuleCcisByCci(ctx context.Context, cciID string) ([]*catalog.StigRuleMapping, error) {
	if err := m.injected("GetStigRuleCcisByCci"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mappingsByCci[cciID], nil
}

func (m *memStore) GetFindingsBySystem(ctx context.Context, systemID uuid.UUID) ([]*finding.Finding, error) {
	if err := m.injected("GetFindingsBySystem"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findings[systemID], nil
}

func (m *memStore) GetEvidenceBySystem(ctx context.Context, systemID uuid.UUID) ([]*finding.Evidence, error) {
	if err := m.injected("GetEvidenceBySystem"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evidence[systemID], nil
}

func (m *memStore) GetEvidenceByControl(ctx context.Context, controlID string) ([]*finding.Evidence, error) {
	return nil, nil
}

func (m *memStore) CreateEvidence(ctx context.Context, ev *finding.Evidence) (*finding.Evidence, error) {
	if err := m.injected("CreateEvidence"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createdEvidence = append(m.createdEvidence, ev)
	return ev, nil
}

func (m *memStore) GetSystemControls(ctx context.Context, systemID uuid.UUID) ([]*catalog.SystemControl, error) {
	if err := m.injected("GetSystemControls"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.systemControls[systemID], nil
}

func (m *memStore) UpdateSystemControl(ctx context.Context, systemID uuid.UUID, controlID string, status catalog.ControlImplStatus) error {
	if err := m.injected("UpdateSystemControl"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controlUpdates[controlID] = status
	return nil
}

func (m *memStore) CreateAssessment(ctx context.Context, a *assessment.Assessment) (*assessment.Assessment, error) {
	if err := m.injected("CreateAssessment"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createdAssessments = append(m.createdAssessments, a)
	return a, nil
}

func (m *memStore) UpdateAssessment(ctx context.Context, id uuid.UUID, patch AssessmentPatch) error {
	if err := m.injected("UpdateAssessment"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assessmentPatches = append(m.assessmentPatches, patch)
	return nil
}

func (m *memStore) CreateGenerationJob(ctx context.Context, job *assessment.GenerationJob) (*assessment.GenerationJob, error) {
	if err := m.injected("CreateGenerationJob"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	m.createdJobs = append(m.createdJobs, job)
	return job, nil
}

func (m *memStore) UpdateGenerationJob(ctx context.Context, id uuid.UUID, patch JobPatch) error {
	if err := m.injected("UpdateGenerationJob"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobPatches = append(m.jobPatches, patch)
	return nil
}

func (m *memStore) CreatePoamItem(ctx context.Context, item *finding.PoamItem) (*finding.PoamItem, error) {
	if err := m.injected("CreatePoamItem"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.poamItems = append(m.poamItems, item)
	return item, nil
}
