package fat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePathNameShort(t *testing.T) {
	fn, rest, err := parsePathName("FOO.TXT")
	require.NoError(t, err)
	require.Empty(t, rest)
	require.False(t, fn.isLFN())
	require.Equal(t, "FOO     TXT", string(fn.sfn[:]))
	require.Zero(t, fn.lfnSlotCount())
}

func TestParsePathNameComponents(t *testing.T) {
	fn, rest, err := parsePathName("A/B/C.TXT")
	require.NoError(t, err)
	require.Equal(t, "B/C.TXT", rest)
	require.Equal(t, "A          ", string(fn.sfn[:]))

	fn, rest, err = parsePathName(rest)
	require.NoError(t, err)
	require.Equal(t, "C.TXT", rest)
	require.Equal(t, "B          ", string(fn.sfn[:]))

	// Repeated and backslash separators collapse.
	_, rest, err = parsePathName(`A\\B`)
	require.NoError(t, err)
	require.Equal(t, "B", rest)
}

func TestParsePathNameLowercaseNeedsLFN(t *testing.T) {
	fn, _, err := parsePathName("foo.txt")
	require.NoError(t, err)
	require.True(t, fn.isLFN())
	require.Zero(t, fn.flags&fnameLossy)
	require.Equal(t, "FOO     TXT", string(fn.sfn[:]))
	require.Equal(t, 1, fn.lfnSlotCount())
}

func TestParsePathNameLossy(t *testing.T) {
	fn, _, err := parsePathName("long_name_example.txt")
	require.NoError(t, err)
	require.True(t, fn.isLFN())
	require.NotZero(t, fn.flags&fnameLossy)
	require.Equal(t, "LONG_NAMTXT", string(fn.sfn[:]))
	// 21 chars -> two 13-unit slots.
	require.Equal(t, 2, fn.lfnSlotCount())
}

func TestParsePathNameInvalid(t *testing.T) {
	for _, bad := range []string{"", "   ", "...", "a*b", "a?b", "x|y", `q"w`, "a:b", "a\x01b"} {
		_, _, err := parsePathName(bad)
		require.Error(t, err, "input %q", bad)
	}
}

func TestParsePathNameTrailingDotsSpaces(t *testing.T) {
	fn, _, err := parsePathName("NAME. ")
	require.NoError(t, err)
	require.Equal(t, "NAME       ", string(fn.sfn[:]))
}

func TestSFNWithTail(t *testing.T) {
	var fn fname
	require.True(t, makeSFN(&fn, "long_name_example.txt"))
	got := sfnWithTail(fn.sfn, 1)
	require.Equal(t, "LONG_N~1TXT", string(got[:]))
	got = sfnWithTail(fn.sfn, 12)
	require.Equal(t, "LONG_~12TXT", string(got[:]))
}

func TestSFNStringRoundTrip(t *testing.T) {
	var sfn [11]byte
	copy(sfn[:], "FOO     TXT")
	require.Equal(t, "FOO.TXT", sfnString(sfn))
	copy(sfn[:], "NOEXT      ")
	require.Equal(t, "NOEXT", sfnString(sfn))
}

func TestSFNCodepageMapping(t *testing.T) {
	// é encodes into CP437 and must survive the 8.3 field round trip.
	fn, _, err := parsePathName("café.txt")
	require.NoError(t, err)
	require.Equal(t, byte(0x82), fn.sfn[3]) // CP437 'é'
	require.Contains(t, sfnString(fn.sfn), "é")

	// A rune with no CP437 mapping degrades to '_' and marks loss.
	fn, _, err = parsePathName("日record.bin")
	require.NoError(t, err)
	require.Equal(t, byte('_'), fn.sfn[0])
	require.NotZero(t, fn.flags&fnameLossy)
}

func TestLFNEqual(t *testing.T) {
	a := []uint16{'a', 'b'}
	require.True(t, lfnEqual(a, []uint16{'a', 'b'}))
	require.False(t, lfnEqual(a, []uint16{'a', 'B'}))
	require.False(t, lfnEqual(a, []uint16{'a'}))
}
