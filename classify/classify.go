// Package classify turns the unordered bag of extended regions produced for
// one read into primary/supplementary/secondary roles, per spec.md §4.5.
package classify

import (
	"encoding/binary"
	"sort"

	"github.com/biogo/store/llrb"
	farm "github.com/dgryski/go-farm"
	"github.com/minio/highwayhash"

	"github.com/grailbio/bwamem/align"
)

// Classifier runs the two-pass region classification. It holds no per-call
// state and is safe for concurrent use across workers.
type Classifier struct {
	Params *align.ScoringParameters
}

// NewClassifier builds a Classifier bound to params.
func NewClassifier(params *align.ScoringParameters) *Classifier {
	return &Classifier{Params: params}
}

// Result records the role assigned to each region in the slice passed to
// Classify. Indices refer to positions in that same slice.
type Result struct {
	Primary       int   // index of the primary region, or -1 if the read has no surviving region
	Supplementary []int // indices emitted as supplementary (flag 0x800) records, descending score; with Primary5Reorder the demoted primary takes the promoted segment's slot
	XA            []int // indices folded into the primary's XA:Z tag, descending score
}

// hwKey is the fixed zero seed used for the highwayhash cross-check, mirroring
// the zero-seed convention used elsewhere in the pack for keying hash maps.
var hwKey [highwayhash.Size]byte

// Classify assigns roles to regions. It sets Secondary on every region that
// is suppressed or folded into another region's tag, leaving the rest
// untouched, and returns the primary/supplementary/XA index sets.
//
// Pass 1 deduplicates regions that land on the exact same coordinates (a
// byproduct of multiple chains converging on one alignment) using a
// farmhash/highwayhash pair, then applies spec.md's overlap-based
// suboptimal filter. Pass 2 picks a non-ALT primary and classifies the
// survivors into supplementary (disjoint-on-read, i.e. chimeric) or XA
// (overlapping-on-read, i.e. an alternate placement of the same segment).
func (cl *Classifier) Classify(regions []align.MemAlnReg) Result {
	n := len(regions)
	if n == 0 {
		return Result{Primary: -1}
	}
	for i := range regions {
		regions[i].Hash = farm.Hash64(regionKeyBytes(&regions[i]))
		regions[i].Secondary = -1
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := &regions[order[a]], &regions[order[b]]
		if ra.Score != rb.Score {
			return ra.Score > rb.Score
		}
		// Deterministic tie-break: lower absolute position wins.
		return ra.RefBegin < rb.RefBegin
	})

	suppressed := make([]bool, n)
	dedupeExact(regions, order, suppressed)

	kept := &llrb.Tree{}
	for _, idx := range order {
		if suppressed[idx] {
			continue
		}
		r := &regions[idx]
		suppressedBy := -1
		kept.Do(func(item llrb.Comparable) bool {
			k := item.(*keptItem)
			if k.readBegin >= r.ReadEnd {
				return true // sorted by ReadBegin ascending: nothing further can overlap
			}
			other := &regions[k.idx]
			if overlapFraction(r, other) >= 0.5 {
				// Score order means other.Score >= r.Score: r is a
				// lower-scoring alternative placement of the same read
				// segment, so it feeds other's second-best score, whether
				// or not it survives below.
				switch {
				case r.Score > other.Sub:
					other.Sub, other.SubN = r.Score, 1
				case r.Score == other.Sub && other.Sub > 0:
					other.SubN++
				}
				if float64(r.Score) < cl.Params.OverlapSubRatio*float64(other.Score) {
					suppressedBy = k.idx
					return true
				}
			}
			return false
		})
		if suppressedBy >= 0 {
			suppressed[idx] = true
			regions[idx].Secondary = suppressedBy
			continue
		}
		kept.Insert(&keptItem{idx: idx, readBegin: r.ReadBegin})
	}

	primary := -1
	for _, idx := range order {
		if suppressed[idx] || regions[idx].IsAlt {
			continue
		}
		primary = idx
		break
	}
	if primary < 0 {
		for _, idx := range order {
			if !suppressed[idx] {
				primary = idx
				break
			}
		}
	}
	if primary < 0 {
		return Result{Primary: -1}
	}

	hasAlt := false
	for i := range regions {
		if regions[i].IsAlt {
			hasAlt = true
			break
		}
	}
	xaLimit := cl.Params.XALimit
	if hasAlt {
		xaLimit = cl.Params.XALimitAlt
	}

	primaryReg := &regions[primary]
	var supplementary, xa []int
	for _, idx := range order {
		if idx == primary || suppressed[idx] {
			continue
		}
		r := &regions[idx]
		if overlapFraction(r, primaryReg) > 0 {
			if float64(r.Score) >= cl.Params.XADropRatio*float64(primaryReg.Score) && len(xa) < xaLimit {
				xa = append(xa, idx)
			} else {
				regions[idx].Secondary = primary
			}
			continue
		}
		disjointFromAccepted := true
		for _, sidx := range supplementary {
			if overlapFraction(r, &regions[sidx]) > 0 {
				disjointFromAccepted = false
				break
			}
		}
		if disjointFromAccepted {
			supplementary = append(supplementary, idx)
		} else {
			regions[idx].Secondary = primary
		}
	}

	// With primary5Reorder, a split read's primary is the segment closest to
	// the 5' end of the read rather than the highest-scoring one.
	if cl.Params.Primary5Reorder && len(supplementary) > 0 {
		best := primary
		for _, idx := range supplementary {
			if regions[idx].ReadBegin < regions[best].ReadBegin {
				best = idx
			}
		}
		if best != primary {
			for i, idx := range supplementary {
				if idx == best {
					supplementary[i] = primary
				}
			}
			primary = best
		}
	}

	return Result{Primary: primary, Supplementary: supplementary, XA: xa}
}

// keptItem is the llrb.Comparable stored in the pass-1 overlap index, keyed
// by ReadBegin so ordered traversal visits regions left-to-right on the
// read; idx breaks ties between regions starting at the same offset.
type keptItem struct {
	idx       int
	readBegin int
}

func (k *keptItem) Compare(o llrb.Comparable) int {
	other := o.(*keptItem)
	if k.readBegin != other.readBegin {
		return k.readBegin - other.readBegin
	}
	return k.idx - other.idx
}

// overlapFraction returns the fraction of the shorter region's read span
// that the two regions share, in [0, 1].
func overlapFraction(a, b *align.MemAlnReg) float64 {
	begin := a.ReadBegin
	if b.ReadBegin > begin {
		begin = b.ReadBegin
	}
	end := a.ReadEnd
	if b.ReadEnd < end {
		end = b.ReadEnd
	}
	if end <= begin {
		return 0
	}
	shorter := a.ReadEnd - a.ReadBegin
	if bl := b.ReadEnd - b.ReadBegin; bl < shorter {
		shorter = bl
	}
	if shorter <= 0 {
		return 0
	}
	return float64(end-begin) / float64(shorter)
}

// regionKeyBytes packs a region's coordinates into a fixed byte buffer
// consumed by both hash families below.
func regionKeyBytes(r *align.MemAlnReg) []byte {
	var buf [33]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.RefBegin))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.RefEnd))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(r.ReadBegin))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(r.ReadEnd))
	if r.IsAlt {
		buf[32] = 1
	}
	return buf[:]
}

// dedupeExact marks every region after the first (in score order) sharing
// the exact same coordinates as suppressed. Two independent hash families
// (farmhash, already stashed on Hash; highwayhash, computed here) must both
// agree before two regions are treated as coordinate-identical, so a single
// hash family's collision can't silently merge two distinct regions.
func dedupeExact(regions []align.MemAlnReg, order []int, suppressed []bool) {
	type combinedKey struct {
		farm uint64
		hw   [highwayhash.Size]byte
	}
	seen := make(map[combinedKey]int, len(regions))
	for _, idx := range order {
		hw := highwayhash.Sum(regionKeyBytes(&regions[idx]), hwKey[:])
		key := combinedKey{farm: regions[idx].Hash, hw: hw}
		if rep, ok := seen[key]; ok {
			suppressed[idx] = true
			regions[idx].Secondary = rep
			continue
		}
		seen[key] = idx
	}
}
