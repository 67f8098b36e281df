package tuple

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackOrderPreserving(t *testing.T) {
	t.Run("integers sort numerically across sign", func(t *testing.T) {
		ints := []int64{-1000, -1, 0, 1, 42, 1000}
		packed := make([][]byte, len(ints))
		for i, v := range ints {
			packed[i] = Tuple{v}.Pack()
		}
		shuffled := append([][]byte(nil), packed...)
		sort.Slice(shuffled, func(i, j int) bool {
			return string(shuffled[i]) < string(shuffled[j])
		})
		for i := range packed {
			assert.Equal(t, packed[i], shuffled[i], "byte order should match numeric order")
		}
	})

	t.Run("floats sort numerically across sign", func(t *testing.T) {
		floats := []float64{-3.5, -0.1, 0, 0.1, 2.75}
		var prev []byte
		for _, f := range floats {
			cur := Tuple{f}.Pack()
			if prev != nil {
				assert.Less(t, string(prev), string(cur))
			}
			prev = cur
		}
	})

	t.Run("strings sort lexicographically", func(t *testing.T) {
		a := Tuple{"apple"}.Pack()
		b := Tuple{"banana"}.Pack()
		assert.Less(t, string(a), string(b))
	})

	t.Run("cross-type order null < bool < int < float < string < bytes", func(t *testing.T) {
		order := []Tuple{
			{nil},
			{false},
			{true},
			{int64(5)},
			{5.5},
			{"z"},
			{[]byte("z")},
		}
		var prev []byte
		for _, tup := range order {
			cur := tup.Pack()
			if prev != nil {
				assert.Less(t, string(prev), string(cur))
			}
			prev = cur
		}
	})
}

func TestNext(t *testing.T) {
	base := Tuple{"abc"}
	next := base.Next()
	assert.Greater(t, string(next), string(base.Pack()))

	// Next() must be the *smallest* byte string greater than Pack(); no
	// valid Pack() of a tuple sharing base as a prefix component can fall
	// strictly between them.
	extended := Tuple{"abc", "x"}.Pack()
	assert.GreaterOrEqual(t, string(extended), string(next))
}

func TestConcat(t *testing.T) {
	a := Tuple{"x"}
	b := Tuple{"y", int64(1)}
	got := a.Concat(b)
	assert.Equal(t, Tuple{"x", "y", int64(1)}, got)
}

func TestEscapeRoundTrip(t *testing.T) {
	tricky := []string{"", "a\x00b", "a\x01b", "\x00\x01\x00", "plain"}
	for _, s := range tricky {
		packed := Tuple{s}.Pack()
		el, n, err := DecodeFirst(packed)
		require.NoError(t, err)
		assert.Equal(t, len(packed), n)
		assert.Equal(t, s, el)
	}
}

func TestUnpackN(t *testing.T) {
	t.Run("decodes exactly n elements", func(t *testing.T) {
		tup := Tuple{"a", int64(7), true}
		packed := tup.Pack()
		got, err := UnpackN(packed, 3)
		require.NoError(t, err)
		assert.Equal(t, tup, got)
	})

	t.Run("errors on trailing bytes", func(t *testing.T) {
		tup := Tuple{"a", int64(7)}
		packed := tup.Pack()
		_, err := UnpackN(packed, 1)
		assert.Error(t, err)
	})

	t.Run("splits a flat-concatenated key back into two halves", func(t *testing.T) {
		keyPart := Tuple{"category-a"}
		pkPart := Tuple{"sku-1"}
		flat := keyPart.Concat(pkPart).Pack()

		full, err := UnpackN(flat, 2)
		require.NoError(t, err)
		assert.Equal(t, keyPart[0], full[0])
		assert.Equal(t, pkPart[0], full[1])
	})
}

func TestStringPrefixRange(t *testing.T) {
	lo, hi := StringPrefixRange("cat")
	assert.True(t, string(lo) < string(hi))

	matching := []string{"cat", "category", "catalog"}
	for _, s := range matching {
		packed := Tuple{s}.Pack()
		assert.True(t, string(packed) >= string(lo) && string(packed) < string(hi), "expected %q in range", s)
	}

	nonMatching := []string{"ca", "dog", "cas"}
	for _, s := range nonMatching {
		packed := Tuple{s}.Pack()
		inRange := string(packed) >= string(lo) && string(packed) < string(hi)
		if s == "ca" {
			assert.False(t, inRange, "%q is a proper prefix of the range bound, not a match", s)
			continue
		}
		assert.False(t, inRange, "expected %q outside range", s)
	}
}

func TestCompare(t *testing.T) {
	assert.Equal(t, 0, Compare(Tuple{"a", int64(1)}, Tuple{"a", int64(1)}))
	assert.Negative(t, Compare(Tuple{"a"}, Tuple{"b"}))
	assert.Positive(t, Compare(Tuple{int64(2)}, Tuple{int64(1)}))
}

func TestDecodeFirstEmptyInput(t *testing.T) {
	_, _, err := DecodeFirst(nil)
	assert.Error(t, err)
}
