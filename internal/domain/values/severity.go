package values

import (
	"fmt"
	"strings"
	"time"
)

// Severity classifies how serious a finding or STIG rule is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity normalizes a raw severity string. Unknown values are an error
// rather than silently downgraded.
func ParseSeverity(raw string) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(raw))) {
	case SeverityLow:
		return SeverityLow, nil
	case SeverityMedium:
		return SeverityMedium, nil
	case SeverityHigh:
		return SeverityHigh, nil
	case SeverityCritical:
		return SeverityCritical, nil
	default:
		return "", fmt.Errorf("invalid severity: %q", raw)
	}
}

func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

func (s Severity) String() string {
	return string(s)
}

// Weight is the findings-risk weight: low=1 medium=2 high=3 critical=4.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// CompositeWeight is the per-finding weight in the composite system risk
// score. Low findings do not contribute.
func (s Severity) CompositeWeight() int {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 5
	case SeverityMedium:
		return 2
	default:
		return 0
	}
}

// RemediationWindow is the planned-completion window for a POA&M item of this
// severity. This is the single canonical severity-to-days table.
func (s Severity) RemediationWindow() time.Duration {
	days := 30
	switch s {
	case SeverityCritical:
		days = 3
	case SeverityHigh:
		days = 7
	case SeverityMedium:
		days = 14
	}
	return time.Duration(days) * 24 * time.Hour
}

// RequiresPoam reports whether an open finding of this severity must produce
// a remediation item.
func (s Severity) RequiresPoam() bool {
	return s == SeverityHigh || s == SeverityCritical
}
