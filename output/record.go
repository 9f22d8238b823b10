package output

import (
	"sync"

	"github.com/biogo/hts/sam"
)

// Record is one assembled alignment record, ready for a Sink. It embeds
// sam.Record so a SAM/BAM writer can consume it directly; the wrapper
// exists so records can cycle through the free list below without the
// writer library knowing about it.
type Record struct {
	sam.Record
}

// The free list recycles Records along the aligner's fixed traffic
// pattern: builders on many worker goroutines take one per emitted
// alignment, the single-goroutine sink returns each once serialized. Every
// record carries the same small aux-tag set, so reset keeps the AuxFields
// backing array and the per-record steady state allocates nothing.
const maxFreeRecords = 1 << 16

var freeRecords struct {
	mu   sync.Mutex
	recs []*Record
}

// GetRecord returns a cleared Record, recycling one when available.
func GetRecord() *Record {
	freeRecords.mu.Lock()
	var r *Record
	if n := len(freeRecords.recs); n > 0 {
		r = freeRecords.recs[n-1]
		freeRecords.recs[n-1] = nil
		freeRecords.recs = freeRecords.recs[:n-1]
	}
	freeRecords.mu.Unlock()
	if r == nil {
		r = &Record{}
	}
	r.reset()
	return r
}

// PutRecord hands a Record back to the free list. Records are move-only:
// the caller must hold the only reference and must not touch r afterward.
func PutRecord(r *Record) {
	freeRecords.mu.Lock()
	if len(freeRecords.recs) < maxFreeRecords {
		freeRecords.recs = append(freeRecords.recs, r)
	}
	freeRecords.mu.Unlock()
}

func (r *Record) reset() {
	r.Name = ""
	r.Ref = nil
	r.Pos = 0
	r.MapQ = 0
	r.Cigar = nil
	r.Flags = 0
	r.MateRef = nil
	r.MatePos = 0
	r.TempLen = 0
	r.Seq = sam.Seq{}
	r.Qual = nil
	r.AuxFields = r.AuxFields[:0]
}
