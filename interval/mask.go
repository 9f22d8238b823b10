// Package interval implements the reference exclusion mask: a per-contig
// union of BED intervals the aligner consults to drop alignments that fall
// into blacklisted regions (low-complexity tracts, centromeres). The mask
// is built once at startup and shared read-only by every worker.
package interval

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/klauspost/compress/gzip"
)

// span is one half-open masked interval [begin, end) in contig-local
// coordinates.
type span struct {
	begin, end int64
}

// Mask is an immutable union of masked intervals, keyed by contig name.
// Per contig, spans are merged and sorted, so containment is one binary
// search.
type Mask struct {
	byContig map[string][]span
}

// NewMask builds a Mask from BED data: three-or-more tab- or
// space-separated columns per line, 0-based half-open coordinates.
// "track" and "browser" lines and comments are skipped. Overlapping and
// adjacent intervals are merged.
func NewMask(r io.Reader) (*Mask, error) {
	raw := map[string][]span{}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") ||
			strings.HasPrefix(line, "track") || strings.HasPrefix(line, "browser") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("interval: line %d: fewer than 3 BED columns", lineNo)
		}
		begin, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("interval: line %d: bad start %q", lineNo, fields[1])
		}
		end, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("interval: line %d: bad end %q", lineNo, fields[2])
		}
		if begin < 0 || end < begin {
			return nil, fmt.Errorf("interval: line %d: bad interval [%d, %d)", lineNo, begin, end)
		}
		if end == begin {
			continue
		}
		raw[fields[0]] = append(raw[fields[0]], span{begin: begin, end: end})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	m := &Mask{byContig: make(map[string][]span, len(raw))}
	for contig, spans := range raw {
		m.byContig[contig] = mergeSpans(spans)
	}
	return m, nil
}

// NewMaskFromPath opens path (gzip-compressed when it ends in .gz) and
// builds a Mask from it.
func NewMaskFromPath(path string) (*Mask, error) {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	var r io.Reader = in.Reader(ctx)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gz.Close() // nolint: errcheck
		r = gz
	}
	return NewMask(r)
}

// mergeSpans sorts spans by begin and coalesces overlapping or adjacent
// ones into a minimal sorted union.
func mergeSpans(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool { return spans[i].begin < spans[j].begin })
	out := spans[:1]
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.begin <= last.end {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// Contains reports whether position pos of the named contig is masked.
func (m *Mask) Contains(contig string, pos int64) bool {
	spans := m.byContig[contig]
	i := sort.Search(len(spans), func(i int) bool { return spans[i].end > pos })
	return i < len(spans) && spans[i].begin <= pos
}

// NumContigs returns the number of contigs with at least one masked span,
// useful for startup logging.
func (m *Mask) NumContigs() int { return len(m.byContig) }
