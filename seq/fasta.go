package seq

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/grailbio/bwamem/align"
)

// ParseFasta reads a FASTA reference from r and packs it straight into a
// PackedReference, one pass, without holding the ASCII text. Contigs whose
// name has an "_alt" suffix, or appears in isAlt, are marked as ALT
// haplotypes, the naming convention ALT-aware references use.
func ParseFasta(r io.Reader, isAlt map[string]bool) (*PackedReference, error) {
	br := bufio.NewReader(r)
	var contigs []align.Contig
	var bases []align.Base
	var cur string
	started := false
	var curLen int64

	flush := func() {
		if !started {
			return
		}
		contigs = append(contigs, align.Contig{
			Name:   cur,
			Length: curLen,
			IsAlt:  isAlt[cur] || strings.HasSuffix(cur, "_alt"),
		})
	}

	lineNo := 0
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			line = trimEOL(line)
			switch {
			case len(line) == 0:
				// blank lines between records are tolerated
			case line[0] == '>':
				flush()
				name := strings.TrimSpace(string(line[1:]))
				if i := strings.IndexAny(name, " \t"); i >= 0 {
					name = name[:i]
				}
				if name == "" {
					return nil, errors.Errorf("fasta: empty sequence name at line %d", lineNo)
				}
				cur, curLen, started = name, 0, true
			default:
				if !started {
					return nil, errors.Errorf("fasta: sequence data before any '>' header at line %d", lineNo)
				}
				bases = appendPacked(bases, line)
				curLen += int64(len(line))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "fasta: read failed")
		}
	}
	flush()
	if len(contigs) == 0 {
		return nil, errors.New("fasta: no sequences found")
	}
	return NewPackedReference(align.NewReferenceMetadata(contigs), bases), nil
}

func trimEOL(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
