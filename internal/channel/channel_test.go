package channel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		tag  string
		want Channel
		ok   bool
	}{
		{"v1.2.3", Stable, true},
		{"v0.0.1-beta.9", Beta, true},
		{"nightly-2026-02-02", Nightly, true},
		{"v01.2.3", "", false},
		{"nightly-2026-2-2", "", false},
		{"garbage", "", false},
	}
	for _, c := range cases {
		got, ok := Classify(c.tag)
		require.Equal(t, c.ok, ok, c.tag)
		if c.ok {
			require.Equal(t, c.want, got, c.tag)
		}
	}
}

func TestParseSelfConsistency(t *testing.T) {
	for _, tag := range []string{"v1.2.3", "v0.0.1-beta.9", "nightly-2026-02-02"} {
		ch, ok := Classify(tag)
		require.True(t, ok)
		v, ok := Parse(ch, tag)
		require.True(t, ok)
		require.Equal(t, tag, v.Tag)
		ord, ok := Compare(ch, tag, tag)
		require.True(t, ok)
		require.Equal(t, Equal, ord)
	}
}

func TestCompareDifferentChannelsIncomparable(t *testing.T) {
	_, ok := Compare(Stable, "v1.0.0", "nightly-2026-02-02")
	require.False(t, ok)
}

func TestBetaOrdering(t *testing.T) {
	tags := []string{"v0.0.1-beta.9", "v0.0.2-beta.1", "v0.0.1-beta.10", "v0.0.2-beta.2"}
	max := tags[0]
	for _, tag := range tags[1:] {
		ord, ok := Compare(Beta, tag, max)
		require.True(t, ok)
		if ord == Greater {
			max = tag
		}
	}
	require.Equal(t, "v0.0.2-beta.2", max)
}

func TestNightlyOrdering(t *testing.T) {
	tags := []string{"nightly-2026-02-01", "nightly-2026-02-02", "nightly-2025-12-31"}
	max := tags[0]
	for _, tag := range tags[1:] {
		ord, ok := Compare(Nightly, tag, max)
		require.True(t, ok)
		if ord == Greater {
			max = tag
		}
	}
	require.Equal(t, "nightly-2026-02-02", max)
}

func TestStableCompare(t *testing.T) {
	ord, ok := Compare(Stable, "v0.1.0", "v0.2.0")
	require.True(t, ok)
	require.Equal(t, Less, ord)
}

func TestBetaNNumericNotLexicographic(t *testing.T) {
	ord, ok := Compare(Beta, "v1.0.0-beta.10", "v1.0.0-beta.2")
	require.True(t, ok)
	require.Equal(t, Greater, ord)
}

func TestParseRejectsZeroPadding(t *testing.T) {
	_, ok := Parse(Stable, "v01.2.3")
	require.False(t, ok)
}

func TestParseNightlyRequiresTwoDigitMonthDay(t *testing.T) {
	_, ok := Parse(Nightly, "nightly-2026-2-2")
	require.False(t, ok)
	_, ok = Parse(Nightly, "nightly-2026-02-02")
	require.True(t, ok)
}

func TestKeyFor(t *testing.T) {
	id, err := Stable.KeyFor()
	require.NoError(t, err)
	require.Equal(t, KeyStable, id)

	id, err = Beta.KeyFor()
	require.NoError(t, err)
	require.Equal(t, KeyStable, id)

	id, err = Nightly.KeyFor()
	require.NoError(t, err)
	require.Equal(t, KeyNightly, id)

	_, err = Channel("unknown").KeyFor()
	require.Error(t, err)
}

func TestCompareVersionStrings(t *testing.T) {
	ord, ok := CompareVersionStrings("1.2.3", "v1.3.0")
	require.True(t, ok)
	require.Equal(t, Less, ord)
}
