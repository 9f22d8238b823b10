// Package seed extracts supermaximal exact matches (SMEMs) from a read
// against an FM-index, per spec.md §4.2.
package seed

import "github.com/grailbio/bwamem/align"

// FMIndex is the subset of index.FMIndex the seeder needs. Declaring it
// here lets seed be tested against a fake without importing the index
// package, the same "accept an interface" convention used throughout the
// pipeline.
type FMIndex interface {
	InitInterval() align.SAInterval
	ExtendBackward(iv align.SAInterval, base align.Base) align.SAInterval
	ExtendForward(iv align.SAInterval, base align.Base) align.SAInterval
	SALookup(iv align.SAInterval, k int64) (int64, bool)
}

// smem is an internal, not-yet-materialized supermaximal exact match: a
// read range and the SA interval it corresponds to.
type smem struct {
	begin, end int
	iv         align.SAInterval
}

func (s smem) length() int { return s.end - s.begin }

// Extractor pulls SMEMs out of reads against a shared FM-index, re-seeding
// long matches and capping materialized occurrence counts, per spec.md
// §4.2. It holds no per-call state; the zero value bound to an index and
// params is ready to use, and is safe for concurrent use by multiple
// workers as long as the FMIndex itself is read-only (which it is).
type Extractor struct {
	Index  FMIndex
	Params *align.ScoringParameters
}

// NewExtractor builds an Extractor bound to idx and params.
func NewExtractor(idx FMIndex, params *align.ScoringParameters) *Extractor {
	return &Extractor{Index: idx, Params: params}
}

// Extract returns every SMEM of read at least MinSeed bases long, plus
// re-seeded sub-matches for any SMEM longer than MinSeed*SeedSplitRatio, as
// concrete Seed values (one per materialized occurrence, capped at MaxOcc).
func (e *Extractor) Extract(read []align.Base) []align.Seed {
	seeds, _ := e.ExtractRep(read)
	return seeds
}

// ExtractRep is Extract plus the read's repetitive fraction: the share of
// read bases covered by SMEMs whose occurrence count exceeds MaxOcc. The
// batch driver (mem) stores this on each region's MemAlnReg.FracRep; neither
// the classifier nor the MAPQ estimator reads it.
func (e *Extractor) ExtractRep(read []align.Base) ([]align.Seed, float64) {
	raw := e.findSMEMs(read, 0, len(read))

	reseeded := make([]smem, 0, 4)
	splitLen := float64(e.Params.MinSeed) * e.Params.SeedSplitRatio
	for _, s := range raw {
		if float64(s.length()) > splitLen {
			mid := (s.begin + s.end) / 2
			reseeded = append(reseeded, e.findSMEMs(read, mid, mid+1)...)
		}
	}

	all := dedupeSMEMs(append(raw, reseeded...))

	var out []align.Seed
	covered := make([]bool, len(read))
	for _, s := range all {
		if s.length() < e.Params.MinSeed {
			continue
		}
		n := s.iv.Size()
		if n > e.Params.MaxOcc {
			n = e.Params.MaxOcc
			for i := s.begin; i < s.end; i++ {
				covered[i] = true
			}
		}
		for k := int64(0); k < n; k++ {
			pos, ok := e.Index.SALookup(s.iv, k)
			if !ok {
				continue
			}
			out = append(out, align.Seed{ReadOffset: s.begin, RefPos: pos, Len: s.length()})
		}
	}
	repBases := 0
	for _, c := range covered {
		if c {
			repBases++
		}
	}
	var fracRep float64
	if len(read) > 0 {
		fracRep = float64(repBases) / float64(len(read))
	}
	return out, fracRep
}

// findSMEMs runs the forward-then-backward maximal extension from every
// pivot offset in [lo, hi), per spec.md §4.2's algorithm description:
// "at each read offset, extend forward to the right until the interval
// shrinks to zero, then extend leftward to record the longest prefix whose
// interval is still non-empty".
func (e *Extractor) findSMEMs(read []align.Base, lo, hi int) []smem {
	var out []smem
	for pivot := lo; pivot < hi && pivot < len(read); pivot++ {
		// Forward phase. These intervals live in the reversed-text table's
		// coordinate space and are good only for occurrence counts, not for
		// SA decoding (see index.FMIndex).
		fiv := e.Index.InitInterval()
		end := pivot
		for j := pivot; j < len(read); j++ {
			next := e.Index.ExtendForward(fiv, read[j])
			if next.Empty() {
				break
			}
			fiv = next
			end = j + 1
		}
		if end == pivot {
			// Even the single base at pivot doesn't occur; nothing to extend.
			continue
		}
		// Switch to the primary table for the backward phase: re-derive the
		// interval of read[pivot:end) by pure backward search, which the
		// forward phase guarantees is non-empty, then keep prepending.
		iv := e.backwardSearch(read, pivot, end)
		begin := pivot
		for i := pivot - 1; i >= 0; i-- {
			next := e.Index.ExtendBackward(iv, read[i])
			if next.Empty() {
				break
			}
			iv = next
			begin = i
		}
		out = append(out, smem{begin: begin, end: end, iv: iv})
	}
	return out
}

// backwardSearch derives the primary-table interval of read[begin:end) by
// prepending bases right to left.
func (e *Extractor) backwardSearch(read []align.Base, begin, end int) align.SAInterval {
	iv := e.Index.InitInterval()
	for i := end - 1; i >= begin; i-- {
		iv = e.Index.ExtendBackward(iv, read[i])
	}
	return iv
}

// dedupeSMEMs removes exact (begin,end) duplicates, keeping the first
// occurrence's interval (all duplicates share the same interval since the
// search is deterministic).
func dedupeSMEMs(in []smem) []smem {
	seen := make(map[[2]int]bool, len(in))
	out := make([]smem, 0, len(in))
	for _, s := range in {
		key := [2]int{s.begin, s.end}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
