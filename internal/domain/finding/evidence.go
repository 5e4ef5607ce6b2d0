package finding

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PayloadKind tags the resolved shape of an evidence metadata blob.
type PayloadKind string

const (
	PayloadScanEvaluation PayloadKind = "scan_evaluation"
	PayloadGeneric        PayloadKind = "generic"
)

// FailedRule is one rule named as failed by an automated scan evaluation.
type FailedRule struct {
	RuleID      string `json:"rule_id"`
	FindingText string `json:"finding_text"`
}

// ScanEvaluation is the automated scan verdict optionally embedded in an
// evidence record. When present it is authoritative for the rules of its
// profile.
type ScanEvaluation struct {
	Profile     string       `json:"profile"` // matches StigRule.RuleType
	ScannedAt   time.Time    `json:"scanned_at"`
	FailedRules []FailedRule `json:"failed_rules"`
}

// FailedRule returns the failure entry for ruleID, if the evaluation names it.
func (se *ScanEvaluation) FailedRule(ruleID string) (FailedRule, bool) {
	for _, fr := range se.FailedRules {
		if fr.RuleID == ruleID {
			return fr, true
		}
	}
	return FailedRule{}, false
}

// Covers reports whether the evaluation was executed for the given profile.
// A covered rule that is not named as failed passed the scan.
func (se *ScanEvaluation) Covers(profile string) bool {
	return se.Profile == profile
}

// EvidencePayload is the tagged variant resolved once from the stored
// metadata blob, instead of probing the raw JSON during evaluation.
type EvidencePayload struct {
	Kind           PayloadKind     `json:"kind"`
	ScanEvaluation *ScanEvaluation `json:"scan_evaluation,omitempty"`
}

// Evidence is a supporting artifact for a control or finding.
type Evidence struct {
	ID          uuid.UUID       `json:"id"`
	SystemID    uuid.UUID       `json:"system_id"`
	ControlID   *string         `json:"control_id,omitempty"`
	FindingID   *uuid.UUID      `json:"finding_id,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Payload     EvidencePayload `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// rawEvidenceMetadata mirrors the legacy metadata blob layout.
type rawEvidenceMetadata struct {
	StigEvaluation *ScanEvaluation `json:"stigEvaluation"`
}

// ResolvePayload classifies a raw metadata blob into the tagged payload
// variant. Unparseable or unrecognized blobs resolve to Generic.
func ResolvePayload(metadata []byte) EvidencePayload {
	if len(metadata) == 0 {
		return EvidencePayload{Kind: PayloadGeneric}
	}
	var raw rawEvidenceMetadata
	if err := json.Unmarshal(metadata, &raw); err != nil || raw.StigEvaluation == nil {
		return EvidencePayload{Kind: PayloadGeneric}
	}
	return EvidencePayload{
		Kind:           PayloadScanEvaluation,
		ScanEvaluation: raw.StigEvaluation,
	}
}

// ScanEvaluations extracts the authoritative scan payloads from a set of
// evidence records.
func ScanEvaluations(evidence []*Evidence) []*ScanEvaluation {
	var evals []*ScanEvaluation
	for _, e := range evidence {
		if e.Payload.Kind == PayloadScanEvaluation && e.Payload.ScanEvaluation != nil {
			evals = append(evals, e.Payload.ScanEvaluation)
		}
	}
	return evals
}
