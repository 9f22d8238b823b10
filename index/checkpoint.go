package index

// occTable is the occurrence-count checkpoint structure backing rank
// queries over a BWT string of a 4-symbol alphabet. It trades memory for
// speed by caching cumulative per-symbol counts every checkpointInterval
// positions and scanning the short remainder linearly, the same tradeoff
// spec.md §3 calls out for FMIndex's "occurrence-count checkpoints".
type occTable struct {
	bwt      []byte
	interval int
	counts   [][4]int64 // counts[k][s] = occurrences of symbol s in bwt[:k*interval]
}

const defaultCheckpointInterval = 128

// buildOccTable computes checkpoint counts for bwt at the given interval.
func buildOccTable(bwt []byte, interval int) *occTable {
	if interval <= 0 {
		interval = defaultCheckpointInterval
	}
	nBlocks := len(bwt)/interval + 1
	counts := make([][4]int64, nBlocks)
	var running [4]int64
	for i := 0; i < len(bwt); i++ {
		if i%interval == 0 {
			counts[i/interval] = running
		}
		if sym := bwt[i]; sym < 4 {
			running[sym]++
		}
	}
	if len(bwt)%interval == 0 {
		counts[len(bwt)/interval] = running
	}
	return &occTable{bwt: bwt, interval: interval, counts: counts}
}

// Occ returns the number of occurrences of sym in bwt[:pos].
func (t *occTable) Occ(sym byte, pos int64) int64 {
	if pos <= 0 {
		return 0
	}
	block := pos / int64(t.interval)
	cum := t.counts[block][sym]
	start := block * int64(t.interval)
	for i := start; i < pos; i++ {
		if t.bwt[i] == sym {
			cum++
		}
	}
	return cum
}
