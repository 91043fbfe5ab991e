package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Snapshot is the envelope handed to display collaborators after a cycle.
type Snapshot struct {
	ID          string               `json:"id"`
	Region      string               `json:"region"`
	AsOf        time.Time            `json:"as_of"`
	Headline    string               `json:"headline"`
	Fingerprint string               `json:"fingerprint"`
	Result      ReconciliationResult `json:"result"`
	Report      Report               `json:"report"`
}

// NewSnapshot stamps a result with a fresh ID and the given time.
func NewSnapshot(asOf time.Time, region, fingerprint string, result ReconciliationResult, report Report) Snapshot {
	return Snapshot{
		ID:          uuid.NewString(),
		Region:      region,
		AsOf:        asOf.UTC(),
		Headline:    Headline(asOf, result.Total),
		Fingerprint: fingerprint,
		Result:      result,
		Report:      report,
	}
}

// Restamp returns a copy of s stamped at asOf, with the headline redrawn for
// that day. ID, result, and report are kept.
func (s Snapshot) Restamp(asOf time.Time) Snapshot {
	s.AsOf = asOf.UTC()
	s.Headline = Headline(asOf, s.Result.Total)
	return s
}

// Headline renders the display line, e.g. "As of April 2nd : 1430".
func Headline(t time.Time, total int64) string {
	return fmt.Sprintf("As of %s %s : %d", t.Format("January"), ordinal(t.Day()), total)
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
