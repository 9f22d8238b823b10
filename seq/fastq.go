package seq

import (
	"bufio"
	"errors"
	"io"

	"github.com/grailbio/bwamem/align"
)

var (
	// ErrShortFASTQ is returned when the input ends mid-record.
	ErrShortFASTQ = errors.New("seq: truncated FASTQ record")
	// ErrInvalidFASTQ is returned when a record's ID or separator line is
	// malformed. Unlike a bad individual read, this is a stream-level error
	// that aborts ingestion.
	ErrInvalidFASTQ = errors.New("seq: invalid FASTQ record")
	// ErrDiscordantPair is returned when two paired FASTQ streams run out
	// at different points.
	ErrDiscordantPair = errors.New("seq: discordant FASTQ pair streams")
)

var errEOF = errors.New("eof")

// Scanner reads FASTQ records straight into packed ReadSequence values.
// Scan reuses the destination's base and quality slices when the caller
// passes the same ReadSequence back in; callers that retain reads (as a
// batch loop does) pass a fresh one per record.
//
// Per-read problems (empty sequence, quality length not matching the
// sequence) do not stop the scan: the read comes out as an all-N
// placeholder of matching length and the Invalid counter is bumped, so the
// pipeline emits it as an unmapped record and the caller can report the
// count. Malformed framing ('@'/'+' lines missing) is a stream error
// surfaced through Err.
type Scanner struct {
	b       *bufio.Scanner
	err     error
	Invalid int
}

// NewScanner constructs a Scanner reading raw FASTQ data from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{b: bufio.NewScanner(r)}
}

// Scan reads the next record into read, reporting whether a record was
// read. Once Scan returns false it never returns true again; check Err to
// distinguish end of input from a stream error.
func (s *Scanner) Scan(read *align.ReadSequence) bool {
	if s.err != nil {
		return false
	}
	if !s.b.Scan() {
		if s.err = s.b.Err(); s.err == nil {
			s.err = errEOF
		}
		return false
	}
	id := s.b.Bytes()
	if len(id) == 0 || id[0] != '@' {
		s.err = ErrInvalidFASTQ
		return false
	}
	read.Name, read.Comment = SplitQName(string(id))

	if !s.scanLine() {
		return false
	}
	seqLine := append([]byte(nil), s.b.Bytes()...)

	if !s.scanLine() {
		return false
	}
	if sep := s.b.Bytes(); len(sep) == 0 || sep[0] != '+' {
		s.err = ErrInvalidFASTQ
		return false
	}

	if !s.scanLine() {
		return false
	}
	qualLine := s.b.Bytes()

	if len(seqLine) == 0 || len(seqLine) != len(qualLine) {
		s.fillPlaceholder(read, len(seqLine))
		return true
	}
	read.Bases = appendPacked(read.Bases[:0], seqLine)
	read.Quals = read.Quals[:0]
	for _, q := range qualLine {
		if q < qualOffset {
			s.fillPlaceholder(read, len(seqLine))
			return true
		}
		read.Quals = append(read.Quals, q-qualOffset)
	}
	return true
}

// fillPlaceholder turns read into an all-N stand-in of length n (minimum
// 1) and counts it, implementing the invalid-read policy: the read flows
// through the pipeline, finds no seeds, and is emitted unmapped.
func (s *Scanner) fillPlaceholder(read *align.ReadSequence, n int) {
	s.Invalid++
	if n == 0 {
		n = 1
	}
	read.Bases = read.Bases[:0]
	read.Quals = read.Quals[:0]
	for i := 0; i < n; i++ {
		read.Bases = append(read.Bases, align.BaseN)
		read.Quals = append(read.Quals, 0)
	}
}

func (s *Scanner) scanLine() bool {
	ok := s.b.Scan()
	if !ok {
		if s.err = s.b.Err(); s.err == nil {
			s.err = ErrShortFASTQ
		}
	}
	return ok
}

// Err returns the stream error, if any, once Scan has returned false.
func (s *Scanner) Err() error {
	if s.err == errEOF {
		return nil
	}
	return s.err
}

// PairScanner composes two Scanners over the R1 and R2 streams of a
// paired run.
type PairScanner struct {
	r1, r2 *Scanner
	err    error
}

// NewPairScanner constructs a PairScanner from the two mate streams.
func NewPairScanner(r1, r2 io.Reader) *PairScanner {
	return &PairScanner{r1: NewScanner(r1), r2: NewScanner(r2)}
}

// Scan reads the next mate pair into read1 and read2, reporting whether a
// pair was read.
func (p *PairScanner) Scan(read1, read2 *align.ReadSequence) bool {
	ok1 := p.r1.Scan(read1)
	ok2 := p.r2.Scan(read2)
	if ok1 != ok2 {
		p.err = ErrDiscordantPair
	}
	return ok1 && ok2
}

// Invalid returns the number of placeholder reads produced across both
// streams.
func (p *PairScanner) Invalid() int {
	return p.r1.Invalid + p.r2.Invalid
}

// Err returns the stream error, if any, once Scan has returned false.
func (p *PairScanner) Err() error {
	if err := p.r1.Err(); err != nil {
		return err
	}
	if err := p.r2.Err(); err != nil {
		return err
	}
	return p.err
}
