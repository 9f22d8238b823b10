// Package mapq estimates mapping quality for extended regions, per
// spec.md §4.7.
package mapq

import (
	"math"

	"github.com/grailbio/bwamem/align"
)

// Estimator computes MAPQ from an extended region's score statistics. It
// holds no per-call state and is safe for concurrent use.
type Estimator struct {
	Params *align.ScoringParameters
}

// NewEstimator builds an Estimator bound to params.
func NewEstimator(params *align.ScoringParameters) *Estimator {
	return &Estimator{Params: params}
}

// Estimate returns the MAPQ for region given readLen, clamped to [0, 60].
func (e *Estimator) Estimate(region *align.MemAlnReg, readLen int) int {
	if region.Score <= 0 {
		return 0
	}
	match := float64(e.Params.Match)
	if match <= 0 {
		match = 1
	}
	mapq := 6.02*(float64(region.Score)-float64(region.Sub))/match -
		4.343*math.Log(float64(region.SubN)+1)
	identity := float64(region.Score) / (match * float64(readLen))
	if identity > 1 {
		identity = 1
	}
	mapq = math.Round(mapq * identity)
	return clamp(int(mapq), 0, 60)
}

// CapSupplementary applies spec.md §4.7's supplementary MAPQ cap: unless
// keepSuppMapq is set, a supplementary record's MAPQ is capped to the
// primary's, except for ALT-contig supplementary records, which skip the
// cap entirely (an ALT placement can legitimately be a better, higher-MAPQ
// alignment than the chosen non-ALT primary).
func (e *Estimator) CapSupplementary(suppMapq, primaryMapq int, isAlt bool) int {
	if e.Params.KeepSuppMapq || isAlt {
		return suppMapq
	}
	if suppMapq > primaryMapq {
		return primaryMapq
	}
	return suppMapq
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
