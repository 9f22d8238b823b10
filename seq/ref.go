package seq

import "github.com/grailbio/bwamem/align"

// PackedReference holds the reference's forward-strand bases in packed form
// and serves windows from the bidirectional coordinate space [0,
// 2*TotalLength): forward-half requests are subslices of the stored bases,
// reverse-half requests are complemented on the fly. It is loaded once and
// shared read-only by every worker; each reverse-half window is a fresh
// allocation.
type PackedReference struct {
	Meta  *align.ReferenceMetadata
	bases []align.Base
}

// NewPackedReference wraps already-packed forward bases. len(bases) must
// equal meta.TotalLength.
func NewPackedReference(meta *align.ReferenceMetadata, bases []align.Base) *PackedReference {
	if int64(len(bases)) != meta.TotalLength {
		panic("seq: reference base count does not match metadata total length")
	}
	return &PackedReference{Meta: meta, bases: bases}
}

// Bases returns up to n packed bases starting at absolute position pos,
// fewer when the request runs past either end of the coordinate space. It
// implements extend.RefReader.
func (p *PackedReference) Bases(pos int64, n int) []align.Base {
	l := p.Meta.TotalLength
	end := pos + int64(n)
	if pos < 0 {
		pos = 0
	}
	if end > 2*l {
		end = 2 * l
	}
	if end <= pos {
		return nil
	}
	if end <= l {
		return p.bases[pos:end]
	}
	out := make([]align.Base, end-pos)
	for i := range out {
		abs := pos + int64(i)
		if abs < l {
			out[i] = p.bases[abs]
		} else {
			out[i] = align.Complement(p.bases[2*l-1-abs])
		}
	}
	return out
}

// Text returns the full bidirectional text (forward bases followed by their
// reverse complement), the string an FM-index over this reference is built
// from. Used by index-construction tooling and tests, never on the alignment
// path.
func (p *PackedReference) Text() []align.Base {
	l := p.Meta.TotalLength
	out := make([]align.Base, 2*l)
	copy(out, p.bases)
	for i := int64(0); i < l; i++ {
		out[l+i] = align.Complement(p.bases[l-1-i])
	}
	return out
}
