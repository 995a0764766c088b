package fetchcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasPDFSuffix(t *testing.T) {
	cases := map[string]bool{
		"https://www.hesc.ny.gov/form.pdf":         true,
		"https://www.hesc.ny.gov/FORM.PDF?dl=1":    true,
		"https://www.hesc.ny.gov/form.pdf#page=2":  true,
		"https://www.ccny.cuny.edu/financial-aid":  false,
		"https://www.ccny.cuny.edu/?file=form.pdf": false,
		"form.pdf": true,
	}
	for in, want := range cases {
		require.Equal(t, want, HasPDFSuffix(in), in)
	}
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", Truncate("abc", 10))
	require.Equal(t, "ab", Truncate("abc", 2))
	require.Equal(t, "日本", Truncate("日本語", 2))
	require.Equal(t, "anything", Truncate("anything", 0))
}

func TestNormalizeQuery(t *testing.T) {
	require.Equal(t, "scholarships for daca", NormalizeQuery("  Scholarships\tFOR\n daca "))
}

func TestParsePDFPolicy(t *testing.T) {
	p, err := ParsePDFPolicy("")
	require.NoError(t, err)
	require.Equal(t, PDFMinimal, p)

	p, err = ParsePDFPolicy(" SKIP ")
	require.NoError(t, err)
	require.Equal(t, PDFSkip, p)

	_, err = ParsePDFPolicy("sometimes")
	require.Error(t, err)
}
