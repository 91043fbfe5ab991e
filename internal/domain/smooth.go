package domain

import (
	"fmt"
	"math"

	"gopkg.in/guregu/null.v3"
)

// NullPolicy controls how missing days count toward a moving average.
type NullPolicy int

const (
	// NullAsZero counts a missing day as 0 in both sum and denominator.
	NullAsZero NullPolicy = iota
	// NullSkip leaves missing days out of the denominator. A window with no
	// reported days yields null.
	NullSkip
)

// ParseNullPolicy resolves "zero" or "skip".
func ParseNullPolicy(s string) (NullPolicy, error) {
	switch s {
	case "", "zero":
		return NullAsZero, nil
	case "skip":
		return NullSkip, nil
	default:
		return NullAsZero, fmt.Errorf("unknown null policy %q", s)
	}
}

func (p NullPolicy) String() string {
	if p == NullSkip {
		return "skip"
	}
	return "zero"
}

// Smooth returns the trailing moving average of s over full windows only, with
// missing days counted as zero. A window <= 0 means the whole series. The
// result has len(s)-window+1 entries, or none when s is shorter than window.
func Smooth(s Series, window int) Series {
	return SmoothWith(s, window, NullAsZero)
}

// SmoothWith is Smooth with an explicit null policy. The input is not modified.
func SmoothWith(s Series, window int, policy NullPolicy) Series {
	if window <= 0 {
		window = len(s)
	}
	if window == 0 || len(s) < window {
		return Series{}
	}

	out := make(Series, len(s)-window+1)
	for i := range out {
		var sum float64
		var reported int
		for _, v := range s[i : i+window] {
			if v.Valid {
				sum += v.Float64
				reported++
			}
		}
		out[i] = average(sum, reported, window, policy)
	}
	return out
}

func average(sum float64, reported, window int, policy NullPolicy) null.Float {
	if policy == NullSkip {
		if reported == 0 {
			return null.Float{}
		}
		return null.FloatFrom(math.Round(sum / float64(reported)))
	}
	return null.FloatFrom(math.Round(sum / float64(window)))
}
