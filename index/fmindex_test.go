package index

import (
	"sort"
	"testing"

	"github.com/grailbio/bwamem/align"
	"github.com/stretchr/testify/require"
)

// buildBruteForce constructs a bwtTable for text (terminated implicitly,
// sentinel represented by value 4) via a naive O(n^2 log n) suffix sort.
// This is test-only scaffolding: the core never builds an index itself
// (spec.md's non-goals exclude index construction), it only searches one
// handed to it by a loader.
func buildBruteForce(t *testing.T, text []align.Base, sampleRate int) *bwtTable {
	t.Helper()
	n := len(text)
	padded := append(append([]align.Base{}, text...), 4) // sentinel
	suffixes := make([]int, n+1)
	for i := range suffixes {
		suffixes[i] = i
	}
	sort.Slice(suffixes, func(a, b int) bool {
		sa, sb := suffixes[a], suffixes[b]
		for sa < len(padded) && sb < len(padded) {
			if padded[sa] != padded[sb] {
				return padded[sa] < padded[sb]
			}
			sa++
			sb++
		}
		return len(padded)-suffixes[a] < len(padded)-suffixes[b]
	})
	bwt := make([]byte, n+1)
	for row, suffixStart := range suffixes {
		if suffixStart == 0 {
			bwt[row] = 4
		} else {
			bwt[row] = padded[suffixStart-1]
		}
	}
	sa := make([]int64, 0, (n+1)/sampleRate+1)
	for row, suffixStart := range suffixes {
		if row%sampleRate == 0 {
			sa = append(sa, int64(suffixStart))
		}
	}
	return newBWTTable(bwt, sa, sampleRate)
}

func TestBackwardSearchFindsExactMatch(t *testing.T) {
	text := []align.Base{0, 1, 2, 3, 0, 1, 2, 3} // ACGTACGT
	table := buildBruteForce(t, text, 2)

	iv := align.SAInterval{L: 0, U: int64(len(text) + 1)}
	pattern := []align.Base{0, 1, 2, 3} // ACGT, prepended right-to-left below
	for i := len(pattern) - 1; i >= 0; i-- {
		iv = table.extend(iv, pattern[i])
		require.False(t, iv.Empty(), "interval collapsed at step %d", i)
	}
	require.Equal(t, int64(2), iv.Size()) // ACGT occurs at offsets 0 and 4

	var hits []int64
	for k := int64(0); k < iv.Size(); k++ {
		pos, ok := table.saLookup(iv, k)
		require.True(t, ok)
		hits = append(hits, pos)
	}
	sort.Slice(hits, func(a, b int) bool { return hits[a] < hits[b] })
	require.Equal(t, []int64{0, 4}, hits)
}

func TestBackwardSearchNoMatch(t *testing.T) {
	text := []align.Base{0, 1, 2, 3}
	table := buildBruteForce(t, text, 2)
	iv := align.SAInterval{L: 0, U: int64(len(text) + 1)}
	iv = table.extend(iv, 3) // T, present
	require.False(t, iv.Empty())
	iv = table.extend(iv, 3) // TT, absent
	require.True(t, iv.Empty())
}

func TestFMIndexForwardAndBackwardAgree(t *testing.T) {
	text := []align.Base{0, 1, 2, 3, 0, 1, 2, 3}
	rtext := make([]align.Base, len(text))
	for i, b := range text {
		rtext[len(text)-1-i] = b
	}
	fwd := buildBruteForce(t, text, 2)
	rev := buildBruteForce(t, rtext, 2)
	idx := &FMIndex{fwd: fwd, rev: rev}

	// ExtendForward("AC") should find the same count as backward search for
	// "CA" reversed i.e. "AC" occurring as a substring.
	iv := idx.InitInterval()
	iv = idx.ExtendForward(iv, 0) // A
	iv = idx.ExtendForward(iv, 1) // C -> pattern "AC"
	require.Equal(t, int64(2), iv.Size())
}
