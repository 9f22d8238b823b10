// Package pairend resolves paired-end reads: insert-size distribution
// estimation, pair scoring, and mate rescue, per spec.md §4.8.
package pairend

import (
	"math"
	"sort"

	"github.com/grailbio/bwamem/align"
	"github.com/grailbio/bwamem/extend"
)

// Observation is one sampled pair used to estimate the insert-size
// distribution: a unique-mapped, MAPQ >= 20 pair from the first batch.
type Observation struct {
	InsertSize  float64
	Orientation align.Orientation
}

// Estimator runs all three phases of paired-end resolution. It holds no
// per-call state beyond its scoring parameters and is safe for concurrent
// use; mate rescue is delegated to a caller-owned *extend.Extender since
// that type owns non-shareable DP scratch.
type Estimator struct {
	Params *align.ScoringParameters
}

// NewEstimator builds an Estimator bound to params.
func NewEstimator(params *align.ScoringParameters) *Estimator {
	return &Estimator{Params: params}
}

// EstimateDistribution computes the insert-size model from a batch's sampled
// observations, per spec.md §4.8 phase 1. The result is meant to be computed
// once per batch, under a one-shot barrier, and then shared read-only.
func (e *Estimator) EstimateDistribution(obs []Observation) align.InsertSizeDist {
	if len(obs) == 0 {
		return align.InsertSizeDist{}
	}
	sizes := make([]float64, len(obs))
	for i, o := range obs {
		sizes[i] = o.InsertSize
	}
	sort.Float64s(sizes)

	q25 := percentile(sizes, 0.25)
	q75 := percentile(sizes, 0.75)
	iqr := q75 - q25
	low := q25 - 2*iqr
	high := q75 + 2*iqr

	var sum, sumSq float64
	n := 0
	for _, s := range sizes {
		if s >= low && s <= high {
			sum += s
			sumSq += s * s
			n++
		}
	}
	var mean, stddev float64
	if n > 0 {
		mean = sum / float64(n)
		if variance := sumSq/float64(n) - mean*mean; variance > 0 {
			stddev = math.Sqrt(variance)
		}
	}

	return align.InsertSizeDist{
		Low: low, High: high,
		Mean: mean, StdDev: stddev,
		Orientation:   dominantOrientation(obs),
		NPairsSampled: len(obs),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func dominantOrientation(obs []Observation) align.Orientation {
	var counts [4]int
	for _, o := range obs {
		counts[o.Orientation]++
	}
	best := align.OrientationFR
	for o, c := range counts {
		if c > counts[best] {
			best = align.Orientation(o)
		}
	}
	return best
}

// PairCandidate is one scored combination of a region from each mate.
type PairCandidate struct {
	Idx1, Idx2 int
	Score      int32
	Proper     bool
}

// BestPair scores every combination of a region from regions1 against a
// region from regions2 (spec.md §4.8 phase 2) and returns the
// highest-scoring one. Candidates whose orientation/insert size don't match
// dist are still scored, penalized by UnpairedPenalty, so a strong
// discordant pair can still beat a weak concordant one; found is false if
// neither slice has a region or none share a contig.
func (e *Estimator) BestPair(ref *align.ReferenceMetadata, regions1, regions2 []align.MemAlnReg, dist *align.InsertSizeDist) (best PairCandidate, found bool) {
	best.Idx1, best.Idx2 = -1, -1
	for i := range regions1 {
		for j := range regions2 {
			insertSize, orientation, ok := pairGeometry(ref, &regions1[i], &regions2[j])
			if !ok {
				continue
			}
			proper := dist.IsProperPair(insertSize, orientation)
			score := regions1[i].Score + regions2[j].Score
			if !proper {
				score -= e.Params.UnpairedPenalty
			}
			if !found || score > best.Score {
				best = PairCandidate{Idx1: i, Idx2: j, Score: score, Proper: proper}
				found = true
			}
		}
	}
	return best, found
}

// Geometry computes the insert size and orientation classification of two
// mates' regions in forward reference coordinates, or ok=false when the two
// land on different contigs. The batch driver uses it both to collect
// insert-size observations from the first batch and to fill the signed
// template-length field of the final records.
func Geometry(ref *align.ReferenceMetadata, r1, r2 *align.MemAlnReg) (insertSize float64, orientation align.Orientation, ok bool) {
	return pairGeometry(ref, r1, r2)
}

// forwardInterval maps a region's span, which may live in the
// reverse-complement half of the coordinate space, back onto the forward
// reference axis, returning whether it was on the reverse strand.
func forwardInterval(ref *align.ReferenceMetadata, r *align.MemAlnReg) (begin, end int64, reverse bool) {
	if !ref.IsReverseStrand(r.RefBegin) {
		return r.RefBegin, r.RefEnd, false
	}
	begin = ref.ForwardEquivalent(r.RefEnd - 1)
	end = ref.ForwardEquivalent(r.RefBegin) + 1
	return begin, end, true
}

// pairGeometry computes the insert size and relative-orientation
// classification of two mates' regions, in forward reference coordinates.
func pairGeometry(ref *align.ReferenceMetadata, r1, r2 *align.MemAlnReg) (insertSize float64, orientation align.Orientation, ok bool) {
	tid1, _, _, ok1 := ref.Decode(r1.RefBegin)
	tid2, _, _, ok2 := ref.Decode(r2.RefBegin)
	if !ok1 || !ok2 || tid1 != tid2 {
		return 0, 0, false
	}
	b1, e1, rev1 := forwardInterval(ref, r1)
	b2, e2, rev2 := forwardInterval(ref, r2)

	var leftRev, rightRev bool
	if b1 <= b2 {
		leftRev, rightRev = rev1, rev2
		insertSize = float64(e2 - b1)
	} else {
		leftRev, rightRev = rev2, rev1
		insertSize = float64(e1 - b2)
	}
	return insertSize, classifyOrientation(leftRev, rightRev), true
}

func classifyOrientation(leftRev, rightRev bool) align.Orientation {
	switch {
	case !leftRev && rightRev:
		return align.OrientationFR
	case leftRev && !rightRev:
		return align.OrientationRF
	case !leftRev && !rightRev:
		return align.OrientationFF
	default:
		return align.OrientationRR
	}
}

// Rescuer runs mate rescue: a one-sided Smith-Waterman search for a missing
// or weakly-mapped mate against the window implied by the insert-size
// distribution. It wraps a caller-owned Extender, which is itself
// not safe for concurrent use, so each worker should own one Rescuer.
type Rescuer struct {
	Params   *align.ScoringParameters
	Extender *extend.Extender
}

// NewRescuer builds a Rescuer around an existing Extender so the two share
// the same DP scratch buffer rather than allocating a second one.
func NewRescuer(params *align.ScoringParameters, ex *extend.Extender) *Rescuer {
	return &Rescuer{Params: params, Extender: ex}
}

// Rescue searches for mateRead within [windowBegin, windowEnd) of the
// reference, returning the best region found or false if nothing scored
// above zero. The fit alignment lets the mate land at any offset inside
// the window. The caller is responsible for enforcing the
// MaxMateRescue-per-batch cap (spec.md §4.8 phase 3); this method performs
// exactly one search.
func (r *Rescuer) Rescue(mateRead []align.Base, ref extend.RefReader, windowBegin, windowEnd int64) (*align.MemAlnReg, bool) {
	if windowEnd <= windowBegin || len(mateRead) == 0 {
		return nil, false
	}
	return r.Extender.Fit(mateRead, ref, windowBegin, int(windowEnd-windowBegin))
}

// RescueWindow computes the reference search window for one mate given the
// partner's forward-space position and the frozen insert-size distribution.
func RescueWindow(matePos int64, dist *align.InsertSizeDist) (begin, end int64) {
	span := int64(3 * dist.StdDev)
	begin = matePos + int64(dist.Mean) - span
	end = matePos + int64(dist.Mean) + span
	if begin < 0 {
		begin = 0
	}
	return begin, end
}
