// Package triage implements the vulnerability-report triage policy:
// severity classification from exploitability and CVSS score, and the
// acknowledgement and remediation deadlines each tier carries.
package triage

import (
	"fmt"
	"time"
)

// Severity is a triage tier for a reported vulnerability.
type Severity string

const (
	// SeverityP1 is an exploitable vulnerability with a high CVSS score.
	SeverityP1 Severity = "P1"
	// SeverityP2 is a theoretical (not practically exploitable) vulnerability
	// with a high CVSS score.
	SeverityP2 Severity = "P2"
	// SeverityP3 covers the remainder.
	SeverityP3 Severity = "P3"
)

func (s Severity) String() string {
	return string(s)
}

// HighCVSSThreshold is the CVSS v3 score at which a report enters the high
// band (7.0 marks the High range boundary).
const HighCVSSThreshold = 7.0

// Classify maps a report to its severity tier.
func Classify(exploitable bool, cvss float64) Severity {
	if cvss >= HighCVSSThreshold {
		if exploitable {
			return SeverityP1
		}
		return SeverityP2
	}
	return SeverityP3
}

// Policy holds the response-time commitments.
type Policy struct {
	// AckBusinessDays is the acknowledgement SLA in business days.
	AckBusinessDays int
	// Remediation maps each severity tier to its remediation window.
	Remediation map[Severity]time.Duration
}

// DefaultPolicy returns the published commitments: acknowledgement within 3
// business days, remediation within 14 days for P1, 90 for P2 and 180 for P3.
func DefaultPolicy() Policy {
	return Policy{
		AckBusinessDays: 3,
		Remediation: map[Severity]time.Duration{
			SeverityP1: 14 * 24 * time.Hour,
			SeverityP2: 90 * 24 * time.Hour,
			SeverityP3: 180 * 24 * time.Hour,
		},
	}
}

// AckDeadline computes the acknowledgement deadline for a report submitted
// at the given time.
func (p Policy) AckDeadline(submitted time.Time) time.Time {
	return AddBusinessDays(submitted, p.AckBusinessDays)
}

// RemediationDeadline computes the remediation deadline for a severity tier.
func (p Policy) RemediationDeadline(severity Severity, submitted time.Time) (time.Time, error) {
	window, ok := p.Remediation[severity]
	if !ok {
		return time.Time{}, fmt.Errorf("no remediation window for severity %s", severity)
	}
	return submitted.Add(window), nil
}

// AddBusinessDays advances t by n business days, skipping weekends. A start
// on a weekend first rolls forward to Monday.
func AddBusinessDays(t time.Time, n int) time.Time {
	for isWeekend(t) {
		t = t.AddDate(0, 0, 1)
	}
	for i := 0; i < n; i++ {
		t = t.AddDate(0, 0, 1)
		for isWeekend(t) {
			t = t.AddDate(0, 0, 1)
		}
	}
	return t
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
