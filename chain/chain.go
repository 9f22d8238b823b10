// Package chain groups seeds into collinear chains and filters weak or
// redundant ones, per spec.md §4.3.
package chain

import (
	"sort"

	"github.com/grailbio/bwamem/align"
)

// Chainer groups a read's seeds into chains of collinear matches. It holds
// no per-call state and is safe for concurrent use across workers as long
// as Params is not mutated after construction.
type Chainer struct {
	Params *align.ScoringParameters
}

// NewChainer builds a Chainer bound to params.
func NewChainer(params *align.ScoringParameters) *Chainer {
	return &Chainer{Params: params}
}

// buildingChain tracks one in-progress chain while seeds are consumed in
// reference-position order.
type buildingChain struct {
	seeds              []align.Seed
	lastRef            int64
	lastRead           int
	refBegin, refEnd   int64
	readBegin, readEnd int
}

// Chain groups seeds into chains, then discards weak or fully-redundant
// ones, returning the survivors in no particular order.
func (c *Chainer) Chain(seeds []align.Seed) []align.Chain {
	if len(seeds) == 0 {
		return nil
	}
	ordered := make([]align.Seed, len(seeds))
	copy(ordered, seeds)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].RefPos != ordered[j].RefPos {
			return ordered[i].RefPos < ordered[j].RefPos
		}
		return ordered[i].ReadOffset < ordered[j].ReadOffset
	})

	maxGap := int64(maxChainGapDefault)
	band := int64(c.Params.BandWidth)

	var open []*buildingChain
	for _, s := range ordered {
		best := -1
		var bestDiff int64 = -1
		for i, bc := range open {
			dRef := s.RefPos - bc.lastRef
			if dRef <= 0 || dRef > maxGap {
				continue
			}
			dRead := int64(s.ReadOffset - bc.lastRead)
			diff := dRef - dRead
			if diff < -band || diff > band {
				continue
			}
			if diff < 0 {
				diff = -diff
			}
			if best == -1 || diff < bestDiff {
				best, bestDiff = i, diff
			}
		}
		if best == -1 {
			open = append(open, newBuildingChain(s))
			continue
		}
		open[best].extend(s)
	}

	chains := make([]align.Chain, 0, len(open))
	for _, bc := range open {
		chains = append(chains, bc.finalize())
	}

	chains = filterWeak(chains, c.Params)
	return chains
}

const maxChainGapDefault = 10000

func newBuildingChain(s align.Seed) *buildingChain {
	return &buildingChain{
		seeds:     []align.Seed{s},
		lastRef:   s.RefPos,
		lastRead:  s.ReadOffset,
		refBegin:  s.RefPos,
		refEnd:    s.RefEnd(),
		readBegin: s.ReadOffset,
		readEnd:   s.ReadEnd(),
	}
}

func (bc *buildingChain) extend(s align.Seed) {
	bc.seeds = append(bc.seeds, s)
	bc.lastRef = s.RefPos
	bc.lastRead = s.ReadOffset
	if s.RefEnd() > bc.refEnd {
		bc.refEnd = s.RefEnd()
	}
	if s.ReadEnd() > bc.readEnd {
		bc.readEnd = s.ReadEnd()
	}
}

// finalize computes the chain's weight as the number of uniquely-covered
// read bases: seeds are already in read order within a chain (since ref
// and read coordinates are collinear by construction), so merging their
// read intervals is a single linear sweep.
func (bc *buildingChain) finalize() align.Chain {
	weight := uniqueCoverage(bc.seeds)
	return align.Chain{
		Seeds:     bc.seeds,
		RefBegin:  bc.refBegin,
		RefEnd:    bc.refEnd,
		ReadBegin: bc.readBegin,
		ReadEnd:   bc.readEnd,
		Weight:    weight,
	}
}

func uniqueCoverage(seeds []align.Seed) int {
	ordered := make([]align.Seed, len(seeds))
	copy(ordered, seeds)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ReadOffset < ordered[j].ReadOffset })

	total := 0
	curEnd := -1
	for _, s := range ordered {
		b, e := s.ReadOffset, s.ReadEnd()
		if b < curEnd {
			b = curEnd
		}
		if e > b {
			total += e - b
			curEnd = e
		}
	}
	return total
}

// filterWeak drops chains below MinChainWeight outright, then drops chains
// whose weight is below ChainDropRatio times the best weight among chains
// they read-overlap with, per spec.md §4.3.
func filterWeak(chains []align.Chain, params *align.ScoringParameters) []align.Chain {
	kept := chains[:0]
	for _, c := range chains {
		if c.Weight >= params.MinChainWeight {
			kept = append(kept, c)
		}
	}
	chains = kept

	sort.Slice(chains, func(i, j int) bool { return chains[i].Weight > chains[j].Weight })

	out := make([]align.Chain, 0, len(chains))
	for i, c := range chains {
		bestOverlap := 0
		for j := 0; j < i; j++ {
			if readOverlaps(c, chains[j]) && chains[j].Weight > bestOverlap {
				bestOverlap = chains[j].Weight
			}
		}
		if bestOverlap > 0 && float64(c.Weight) < params.ChainDropRatio*float64(bestOverlap) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func readOverlaps(a, b align.Chain) bool {
	return a.ReadBegin < b.ReadEnd && b.ReadBegin < a.ReadEnd
}
