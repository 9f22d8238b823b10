package mem

import (
	"context"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"

	"github.com/grailbio/bwamem/align"
	"github.com/grailbio/bwamem/classify"
	"github.com/grailbio/bwamem/output"
	"github.com/grailbio/bwamem/pairend"
)

// AlignBatch aligns a batch of single-end reads and writes their records to
// sink in input order. Workers run in parallel with read-boundary
// cancellation: a ctx cancellation observed between reads aborts the batch
// with no partial records emitted.
func (a *Aligner) AlignBatch(ctx context.Context, reads []*align.ReadSequence, sink output.Sink) error {
	slots := make([][]*output.Record, len(reads))
	par := a.parallelism()
	err := traverse.Each(par, func(job int) error {
		w := a.newWorker()
		begin, end := stripe(len(reads), par, job)
		for i := begin; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			read := reads[i]
			regions := w.alignRegions(read)
			res := a.class.Classify(regions)
			recs, err := a.builder.Build(read, regions, res, nil)
			if err != nil {
				return err
			}
			slots[i] = recs
		}
		return nil
	})
	if err != nil {
		return err
	}
	return a.emit(slots, sink)
}

// pairScratch holds the phase-1 products of one pair: the cloned region
// sets and their independent classifications, consumed by the insert-size
// estimate and by pair resolution.
type pairScratch struct {
	regions1, regions2 []align.MemAlnReg
	res1, res2         classify.Result
}

// AlignPairedBatch aligns a batch of read pairs. Phase 1 computes and
// classifies both mates' regions in parallel; phase 2 estimates the
// insert-size distribution under a one-shot barrier (first batch only,
// frozen afterward); phase 3 runs pair selection, mate rescue, and record
// assembly in parallel; phase 4 emits in input order.
func (a *Aligner) AlignPairedBatch(ctx context.Context, pairs [][2]*align.ReadSequence, sink output.Sink) error {
	n := len(pairs)
	scratch := make([]pairScratch, n)
	par := a.parallelism()

	err := traverse.Each(par, func(job int) error {
		w := a.newWorker()
		begin, end := stripe(n, par, job)
		for i := begin; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			sc := &scratch[i]
			sc.regions1 = cloneRegions(w.alignRegions(pairs[i][0]))
			sc.regions2 = cloneRegions(w.alignRegions(pairs[i][1]))
			sc.res1 = a.class.Classify(sc.regions1)
			sc.res2 = a.class.Classify(sc.regions2)
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.distOnce.Do(func() {
		a.dist = a.estimateDist(pairs, scratch)
		log.Printf("mem: insert-size model: mean %.1f sd %.1f range [%.0f, %.0f] orientation %s (%d pairs)",
			a.dist.Mean, a.dist.StdDev, a.dist.Low, a.dist.High, a.dist.Orientation, a.dist.NPairsSampled)
	})
	dist := a.dist

	slots := make([][]*output.Record, n)
	rescueBudget := int64(a.opts.Scoring.MaxMateRescue)
	err = traverse.Each(par, func(job int) error {
		w := a.newWorker()
		begin, end := stripe(n, par, job)
		for i := begin; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			recs, err := a.resolvePair(w, pairs[i], &scratch[i], &dist, &rescueBudget)
			if err != nil {
				return err
			}
			slots[i] = recs
		}
		return nil
	})
	if err != nil {
		return err
	}
	return a.emit(slots, sink)
}

// estimateDist collects the high-confidence observations of spec.md §4.8
// phase 1 from an already-classified batch: pairs where both primaries
// exist, both MAPQs are at least 20, and both land on the same contig.
func (a *Aligner) estimateDist(pairs [][2]*align.ReadSequence, scratch []pairScratch) align.InsertSizeDist {
	var obs []pairend.Observation
	for i := range scratch {
		sc := &scratch[i]
		if sc.res1.Primary < 0 || sc.res2.Primary < 0 {
			continue
		}
		r1 := &sc.regions1[sc.res1.Primary]
		r2 := &sc.regions2[sc.res2.Primary]
		if a.builder.Mapq.Estimate(r1, pairs[i][0].Len()) < 20 ||
			a.builder.Mapq.Estimate(r2, pairs[i][1].Len()) < 20 {
			continue
		}
		size, orientation, ok := pairend.Geometry(a.ref.Meta, r1, r2)
		if !ok {
			continue
		}
		obs = append(obs, pairend.Observation{InsertSize: size, Orientation: orientation})
	}
	return a.pairer.EstimateDistribution(obs)
}

// resolvePair runs spec.md §4.8 phases 2 and 3 for one pair and assembles
// both mates' records.
func (a *Aligner) resolvePair(w *worker, pair [2]*align.ReadSequence, sc *pairScratch, dist *align.InsertSizeDist, rescueBudget *int64) ([]*output.Record, error) {
	p := &a.opts.Scoring

	if !p.SkipMateRescue && dist.NPairsSampled > 0 {
		a.maybeRescue(w, pair[1], sc.res1, sc.regions1, &sc.regions2, &sc.res2, dist, rescueBudget)
		a.maybeRescue(w, pair[0], sc.res2, sc.regions2, &sc.regions1, &sc.res1, dist, rescueBudget)
	}

	proper := false
	if !p.SkipPairing && len(sc.regions1) > 0 && len(sc.regions2) > 0 {
		if cand, ok := a.pairer.BestPair(a.ref.Meta, sc.regions1, sc.regions2, dist); ok {
			proper = cand.Proper
			promotePrimary(&sc.res1, cand.Idx1)
			promotePrimary(&sc.res2, cand.Idx2)
		}
	}

	info1, info2, err := a.pairInfos(pair, sc, proper)
	if err != nil {
		return nil, err
	}
	recs1, err := a.builder.Build(pair[0], sc.regions1, sc.res1, info1)
	if err != nil {
		return nil, err
	}
	recs2, err := a.builder.Build(pair[1], sc.regions2, sc.res2, info2)
	if err != nil {
		return nil, err
	}
	return append(recs1, recs2...), nil
}

// maybeRescue attempts mate rescue of mateRead when its side has no
// surviving region but the partner has a primary, spending one attempt from
// the shared per-batch budget. A successful rescue appends the new region
// and re-classifies the side.
func (a *Aligner) maybeRescue(w *worker, mateRead *align.ReadSequence, partnerRes classify.Result, partnerRegions []align.MemAlnReg, mateRegions *[]align.MemAlnReg, mateRes *classify.Result, dist *align.InsertSizeDist, rescueBudget *int64) {
	if mateRes.Primary >= 0 || partnerRes.Primary < 0 {
		return
	}
	if atomic.AddInt64(rescueBudget, -1) < 0 {
		return
	}
	meta := a.ref.Meta
	partner := &partnerRegions[partnerRes.Primary]
	fwdPos := partner.RefBegin
	if meta.IsReverseStrand(fwdPos) {
		fwdPos = meta.ForwardEquivalent(partner.RefEnd - 1)
	}
	wb, we := pairend.RescueWindow(fwdPos, dist)
	if we > meta.TotalLength {
		we = meta.TotalLength
	}

	// The missing mate may sit on either strand; in the bidirectional
	// coordinate space the reverse-strand candidate window is the forward
	// window reflected onto the upper half.
	best, ok := w.rescuer.Rescue(mateRead.Bases, a.ref, wb, we)
	if rb, re := 2*meta.TotalLength-we, 2*meta.TotalLength-wb; re > rb {
		if rev, okRev := w.rescuer.Rescue(mateRead.Bases, a.ref, rb, re); okRev && (!ok || rev.Score > best.Score) {
			best, ok = rev, true
		}
	}
	if !ok || best.Score < a.opts.Scoring.MinScore || !a.acceptRegion(best) {
		return
	}
	*mateRegions = append(*mateRegions, *best)
	*mateRes = a.class.Classify(*mateRegions)
}

// promotePrimary makes idx the side's primary, demoting the previous
// primary to the head of the XA list so it survives as an alternate hit.
func promotePrimary(res *classify.Result, idx int) {
	if res.Primary == idx || res.Primary < 0 {
		if res.Primary < 0 {
			res.Primary = idx
		}
		return
	}
	old := res.Primary
	res.Supplementary = removeIdx(res.Supplementary, idx)
	res.XA = removeIdx(res.XA, idx)
	res.XA = append([]int{old}, res.XA...)
	res.Primary = idx
}

func removeIdx(s []int, idx int) []int {
	out := s[:0]
	for _, v := range s {
		if v != idx {
			out = append(out, v)
		}
	}
	return out
}

// pairInfos computes both mates' PairInfo from the chosen primaries: mate
// fields, MC/MQ values, proper-pair status, and the signed template length.
func (a *Aligner) pairInfos(pair [2]*align.ReadSequence, sc *pairScratch, proper bool) (*output.PairInfo, *output.PairInfo, error) {
	info1 := &output.PairInfo{First: true}
	info2 := &output.PairInfo{First: false}

	var p1, p2 output.Placement
	var ok1, ok2 bool
	if sc.res1.Primary >= 0 {
		var err error
		p1, err = a.builder.PrimaryPlacement(pair[0], sc.regions1, sc.res1.Primary)
		if err != nil {
			return nil, nil, err
		}
		ok1 = true
	}
	if sc.res2.Primary >= 0 {
		var err error
		p2, err = a.builder.PrimaryPlacement(pair[1], sc.regions2, sc.res2.Primary)
		if err != nil {
			return nil, nil, err
		}
		ok2 = true
	}

	if ok1 {
		info2.MateMapped = true
		info2.MateReverse = p1.Reverse
		info2.MateTid = p1.Tid
		info2.MatePos = p1.Pos
		info2.MateMapq = p1.Mapq
		info2.MateCigar = p1.Cigar.String()
	}
	if ok2 {
		info1.MateMapped = true
		info1.MateReverse = p2.Reverse
		info1.MateTid = p2.Tid
		info1.MatePos = p2.Pos
		info1.MateMapq = p2.Mapq
		info1.MateCigar = p2.Cigar.String()
	}

	if ok1 && ok2 && p1.Tid == p2.Tid {
		r1 := &sc.regions1[sc.res1.Primary]
		r2 := &sc.regions2[sc.res2.Primary]
		if size, _, ok := pairend.Geometry(a.ref.Meta, r1, r2); ok {
			isize := int(size)
			if p1.Pos <= p2.Pos {
				info1.ISize, info2.ISize = isize, -isize
			} else {
				info1.ISize, info2.ISize = -isize, isize
			}
			info1.Proper, info2.Proper = proper, proper
		}
	}
	return info1, info2, nil
}

func cloneRegions(regions []align.MemAlnReg) []align.MemAlnReg {
	if len(regions) == 0 {
		return nil
	}
	return append([]align.MemAlnReg(nil), regions...)
}

// stripe splits n items into par contiguous job ranges.
func stripe(n, par, job int) (begin, end int) {
	return job * n / par, (job + 1) * n / par
}

// emit writes every read's records to the sink in input order, the
// single-writer serialization point of spec.md §5.
func (a *Aligner) emit(slots [][]*output.Record, sink output.Sink) error {
	for _, recs := range slots {
		for _, rec := range recs {
			if err := sink.Write(rec); err != nil {
				return errors.E("mem: record sink write failed", err)
			}
		}
	}
	return nil
}
