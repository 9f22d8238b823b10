// Package mem wires the pipeline stages into the per-batch driver described
// in spec.md §5: a bounded worker pool that takes each read from seeding
// through record assembly, an input-order output stage, and the one-shot
// insert-size barrier for paired batches.
package mem

import (
	"runtime"
	"sync"

	"github.com/grailbio/base/log"

	"github.com/grailbio/bwamem/align"
	"github.com/grailbio/bwamem/chain"
	"github.com/grailbio/bwamem/classify"
	"github.com/grailbio/bwamem/extend"
	"github.com/grailbio/bwamem/interval"
	"github.com/grailbio/bwamem/output"
	"github.com/grailbio/bwamem/pairend"
	"github.com/grailbio/bwamem/seed"
	"github.com/grailbio/bwamem/seq"
)

// Opts configures an Aligner beyond the scoring parameters themselves.
type Opts struct {
	Scoring    align.ScoringParameters
	NumThreads int
	// Exclude optionally masks reference regions: an alignment whose span
	// starts and ends inside the mask is dropped before classification.
	Exclude *interval.Mask
	// ReadGroupLine is the raw @RG header line to carry into the output
	// header; its ID is expected to already be parsed into
	// Scoring.ReadGroupID by the caller.
	ReadGroupLine string
}

// Aligner owns the shared immutable state of the pipeline: the FM-index,
// packed reference, scoring parameters, and the stateless stage objects.
// Per-worker scratch (DP matrices, region vectors) lives in workers created
// by each batch call, never here.
type Aligner struct {
	opts    Opts
	idx     seed.FMIndex
	ref     *seq.PackedReference
	seeder  *seed.Extractor
	chainer *chain.Chainer
	class   *classify.Classifier
	pairer  *pairend.Estimator
	builder *output.Builder

	distOnce sync.Once
	dist     align.InsertSizeDist
}

// New builds an Aligner over a loaded index and reference. The index and
// reference are shared read-only across every batch and worker for the
// aligner's lifetime.
func New(idx seed.FMIndex, ref *seq.PackedReference, opts Opts) (*Aligner, error) {
	a := &Aligner{opts: opts, idx: idx, ref: ref}
	p := &a.opts.Scoring
	a.seeder = seed.NewExtractor(idx, p)
	a.chainer = chain.NewChainer(p)
	a.class = classify.NewClassifier(p)
	a.pairer = pairend.NewEstimator(p)
	builder, err := output.NewBuilder(p, ref.Meta, ref, opts.ReadGroupLine)
	if err != nil {
		return nil, err
	}
	a.builder = builder
	return a, nil
}

// Builder exposes the record builder, mainly so callers can obtain the
// output header for their sink.
func (a *Aligner) Builder() *output.Builder { return a.builder }

// InsertSizeDist returns the frozen insert-size model, valid after the
// first paired batch completes.
func (a *Aligner) InsertSizeDist() align.InsertSizeDist { return a.dist }

func (a *Aligner) parallelism() int {
	if a.opts.NumThreads > 0 {
		return a.opts.NumThreads
	}
	return runtime.GOMAXPROCS(0)
}

// worker holds one goroutine's reusable scratch: the DP matrix inside the
// extender (shared with the rescuer) and the region vector. Cleared and
// reused across the worker's reads, per spec.md §9.
type worker struct {
	a        *Aligner
	extender *extend.Extender
	rescuer  *pairend.Rescuer
	regions  []align.MemAlnReg
}

func (a *Aligner) newWorker() *worker {
	ex := extend.NewExtender(&a.opts.Scoring)
	return &worker{
		a:        a,
		extender: ex,
		rescuer:  pairend.NewRescuer(&a.opts.Scoring, ex),
	}
}

// alignRegions runs one read through seed → chain → extend, returning the
// surviving regions in the worker's reusable buffer. The result is valid
// only until the next call; callers that hold regions across reads must
// copy.
func (w *worker) alignRegions(read *align.ReadSequence) []align.MemAlnReg {
	a := w.a
	seeds, fracRep := a.seeder.ExtractRep(read.Bases)
	chains := a.chainer.Chain(seeds)

	regions := w.regions[:0]
	band := int64(a.opts.Scoring.BandWidth)
	for i := range chains {
		c := &chains[i]
		// Chain joining bounds per-step diagonal drift, but cumulative drift
		// can still exceed what the band can hold; such a chain's DP would
		// overflow the band, so the would-be region is discarded up front.
		if drift := (c.RefEnd - c.RefBegin) - int64(c.ReadEnd-c.ReadBegin); drift > band || drift < -band {
			log.Debug.Printf("mem: %v: %s", align.ErrBandOverflow, c)
			continue
		}
		anchor := anchorSeed(c)
		reg := w.extender.Extend(read.Bases, a.ref, anchor, anchor.RefPos)
		if reg.Score < a.opts.Scoring.MinScore {
			continue
		}
		reg.FracRep = fracRep
		if !a.acceptRegion(reg) {
			continue
		}
		regions = append(regions, *reg)
	}
	w.regions = regions
	return regions
}

// anchorSeed picks the chain's longest seed as the extension anchor.
func anchorSeed(c *align.Chain) align.Seed {
	best := c.Seeds[0]
	for _, s := range c.Seeds[1:] {
		if s.Len > best.Len {
			best = s
		}
	}
	return best
}

// acceptRegion applies the checked region-boundary validation: the span
// must decode onto a single contig and strand, and must clear the optional
// exclusion mask. It also stamps the region's ALT status from its contig.
func (a *Aligner) acceptRegion(reg *align.MemAlnReg) bool {
	meta := a.ref.Meta
	tid1, _, rev1, ok1 := meta.Decode(reg.RefBegin)
	tid2, _, rev2, ok2 := meta.Decode(reg.RefEnd - 1)
	if !ok1 || !ok2 || tid1 != tid2 || rev1 != rev2 {
		return false
	}
	reg.IsAlt = meta.Contigs[tid1].IsAlt && !a.opts.Scoring.IgnoreAlt
	if a.opts.Exclude == nil {
		return true
	}
	begin, end := forwardSpan(meta, reg)
	name := meta.Contigs[tid1].Name
	// Dropped when both ends of the span lie inside the mask.
	if a.opts.Exclude.Contains(name, begin) && a.opts.Exclude.Contains(name, end-1) {
		return false
	}
	return true
}

// forwardSpan maps a region's span, possibly in the reverse-complement
// half, onto forward contig-local coordinates.
func forwardSpan(meta *align.ReferenceMetadata, reg *align.MemAlnReg) (begin, end int64) {
	if meta.IsReverseStrand(reg.RefBegin) {
		begin = meta.ForwardEquivalent(reg.RefEnd - 1)
		end = meta.ForwardEquivalent(reg.RefBegin) + 1
	} else {
		begin, end = reg.RefBegin, reg.RefEnd
	}
	if _, local, ok := meta.ContigAt(begin); ok {
		return local, local + (end - begin)
	}
	return begin, end
}
