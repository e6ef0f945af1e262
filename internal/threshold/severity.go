package threshold

import "strings"

type Severity string

const (
	SeverityNormal   Severity = "NORMAL"
	SeverityWarn     Severity = "WARN"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarn:
		return 1
	default:
		return 0
	}
}

func (s Severity) String() string {
	return string(s)
}

// Max returns the more severe of a and b.
func Max(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Parse maps a stored value back to a Severity; unknown values are Normal.
func Parse(value string) Severity {
	switch Severity(strings.ToUpper(strings.TrimSpace(value))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityWarn:
		return SeverityWarn
	default:
		return SeverityNormal
	}
}
