package interval

import (
	"compress/gzip"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const testBED = `# blacklist
track name=exclude
chr1	10	20
chr1	15	30
chr1	30	40
chr2	0	5
`

func TestMaskMergesAndContains(t *testing.T) {
	m, err := NewMask(strings.NewReader(testBED))
	assert.NoError(t, err)
	expect.EQ(t, m.NumContigs(), 2)

	// chr1's three intervals merge into one span [10, 40).
	expect.False(t, m.Contains("chr1", 9))
	expect.True(t, m.Contains("chr1", 10))
	expect.True(t, m.Contains("chr1", 29))
	expect.True(t, m.Contains("chr1", 39))
	expect.False(t, m.Contains("chr1", 40))

	expect.True(t, m.Contains("chr2", 0))
	expect.False(t, m.Contains("chr2", 5))
	expect.False(t, m.Contains("chr3", 0))
}

func TestMaskRejectsMalformedBED(t *testing.T) {
	_, err := NewMask(strings.NewReader("chr1\t10\n"))
	expect.True(t, err != nil)
	_, err = NewMask(strings.NewReader("chr1\tx\t20\n"))
	expect.True(t, err != nil)
	_, err = NewMask(strings.NewReader("chr1\t20\t10\n"))
	expect.True(t, err != nil)
}

func TestMaskFromPathPlainAndGzip(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	plain := filepath.Join(tempDir, "exclude.bed")
	assert.NoError(t, ioutil.WriteFile(plain, []byte(testBED), 0600))
	m, err := NewMaskFromPath(plain)
	assert.NoError(t, err)
	expect.True(t, m.Contains("chr1", 12))

	gzPath := filepath.Join(tempDir, "exclude.bed.gz")
	f, err := os.Create(gzPath)
	assert.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(testBED))
	assert.NoError(t, err)
	assert.NoError(t, gz.Close())
	assert.NoError(t, f.Close())

	m, err = NewMaskFromPath(gzPath)
	assert.NoError(t, err)
	expect.True(t, m.Contains("chr2", 3))
}
