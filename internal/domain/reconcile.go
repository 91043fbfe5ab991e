package domain

import (
	"gopkg.in/guregu/null.v3"
)

// Offset is the raw-feed index a cursor starts at. AutoOffset detects it from
// the data.
type Offset int

// AutoOffset starts the cursor at the first raw entry whose date appears on
// the axis after the seeded first day.
const AutoOffset Offset = -1

// ReconcileHospitalizations aligns a cumulative hospitalization feed onto the
// axis and differences it into per-day counts. It returns the aligned series
// and the cursor start that was used.
func ReconcileHospitalizations(axis CanonicalAxis, raw []DatedValue, offset Offset) (Series, int) {
	return align(axis, raw, offset, func(h int) null.Float {
		if h == 0 {
			// No earlier cumulative value to difference against.
			return null.Float{}
		}
		return null.FloatFrom(raw[h].Value - raw[h-1].Value)
	})
}

// ReconcileDeaths aligns a daily death feed onto the axis. It returns the
// aligned series and the cursor start that was used.
func ReconcileDeaths(axis CanonicalAxis, raw []DatedValue, offset Offset) (Series, int) {
	return align(axis, raw, offset, func(d int) null.Float {
		return null.FloatFrom(raw[d].Value)
	})
}

// align walks the axis once with a single cursor into raw. On a key match it
// emits value(cursor) and advances; otherwise it emits null and retries the
// same raw entry against the next day. Index 0 is seeded with 0.
func align(axis CanonicalAxis, raw []DatedValue, offset Offset, value func(cursor int) null.Float) (Series, int) {
	out := make(Series, len(axis))
	if len(axis) == 0 {
		return out, 0
	}
	out[0] = null.FloatFrom(0)

	start := int(offset)
	switch {
	case offset == AutoOffset:
		start = detectOffset(axis, raw)
	case start < 0:
		start = 0
	}

	cursor := start
	for x := 1; x < len(axis); x++ {
		if cursor >= len(raw) {
			continue
		}
		if raw[cursor].Date != axis[x] {
			continue
		}
		out[x] = value(cursor)
		cursor++
	}
	return out, start
}

// detectOffset returns the index of the first raw entry whose date is on the
// axis past index 0, or len(raw) when there is none.
func detectOffset(axis CanonicalAxis, raw []DatedValue) int {
	keys := make(map[string]struct{}, len(axis))
	for _, k := range axis[1:] {
		keys[k] = struct{}{}
	}
	for i, dv := range raw {
		if _, ok := keys[dv.Date]; ok {
			return i
		}
	}
	return len(raw)
}
