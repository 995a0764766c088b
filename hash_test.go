package dreamdesk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashString_KnownVector(t *testing.T) {
	// BLAKE3 of the empty input.
	require.Equal(t,
		"af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262",
		HashString("").String())
}

func TestHashShortString(t *testing.T) {
	h := HashString("https://www.ccny.cuny.edu/")
	short := h.ShortString()
	require.Len(t, short, 16)
	require.True(t, strings.HasPrefix(h.String(), short))
}

func TestParseHash(t *testing.T) {
	original := HashString("scholarships for daca")

	parsed, err := ParseHash(original.String())
	require.NoError(t, err)
	require.Equal(t, original, parsed)

	_, err = ParseHash("abc")
	require.Error(t, err)

	_, err = ParseHash(strings.Repeat("zz", HashSize))
	require.Error(t, err)
}

func TestHashParts_Separated(t *testing.T) {
	require.NotEqual(t, HashParts("ab", "c"), HashParts("a", "bc"))
	require.Equal(t, HashParts("q", "6", "false"), HashParts("q", "6", "false"))
	require.NotEqual(t, HashParts("q", "6", "false"), HashParts("q", "6", "true"))
	require.NotEqual(t, HashString("q"), HashParts("q"))
}
