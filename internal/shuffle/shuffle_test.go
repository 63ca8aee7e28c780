package shuffle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blobbygame/summit/internal/shuffle"
)

func TestHash(t *testing.T) {
	t.Run("is non-negative", func(t *testing.T) {
		for _, s := range []string{"", "ABCD-0", "WXYZ-25", "a very long seed string to force overflow wrapping"} {
			assert.GreaterOrEqual(t, shuffle.Hash(s), int64(0), "seed %q", s)
		}
	})

	t.Run("stays non-negative at the int32 minimum", func(t *testing.T) {
		// This seed lands exactly on math.MinInt32, the one value whose
		// int32 negation is itself.
		assert.Equal(t, int64(1)<<31, shuffle.Hash("0b2ydiq"))
	})

	t.Run("is stable", func(t *testing.T) {
		assert.Equal(t, shuffle.Hash("ABCD-0"), shuffle.Hash("ABCD-0"))
	})

	t.Run("distinguishes question indices", func(t *testing.T) {
		assert.NotEqual(t, shuffle.Hash("ABCD-0"), shuffle.Hash("ABCD-1"))
	})
}

func TestWithSeed(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e", "f"}

	t.Run("is deterministic", func(t *testing.T) {
		first := shuffle.WithSeed(items, 42)
		second := shuffle.WithSeed(items, 42)
		assert.Equal(t, first, second)
	})

	t.Run("does not mutate the input", func(t *testing.T) {
		shuffle.WithSeed(items, 42)
		assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, items)
	})

	t.Run("is a permutation", func(t *testing.T) {
		assert.ElementsMatch(t, items, shuffle.WithSeed(items, 7))
	})

	t.Run("different seeds usually differ", func(t *testing.T) {
		diverged := false
		for seed := int64(1); seed <= 10; seed++ {
			if !assert.ObjectsAreEqual(shuffle.WithSeed(items, 0), shuffle.WithSeed(items, seed)) {
				diverged = true
				break
			}
		}
		assert.True(t, diverged, "10 consecutive seeds produced the same order")
	})

	t.Run("handles empty and single-item slices", func(t *testing.T) {
		assert.Empty(t, shuffle.WithSeed([]string{}, 3))
		assert.Equal(t, []string{"x"}, shuffle.WithSeed([]string{"x"}, 3))
	})
}

func TestOptions(t *testing.T) {
	options := []string{"North face", "South ridge", "East col", "West spur"}

	t.Run("same session and index yield the same order", func(t *testing.T) {
		a := shuffle.Options(options, "ABCD", 3)
		b := shuffle.Options(options, "ABCD", 3)
		assert.Equal(t, a, b)
	})

	t.Run("round-trips every index", func(t *testing.T) {
		for _, code := range []string{"ABCD", "WXYZ", "QQQQ"} {
			for idx := 0; idx < 10; idx++ {
				o := shuffle.Options(options, code, idx)
				for i := range options {
					require.Equal(t, i, o.OriginalIndex(o.ShuffledIndex(i)),
						"code %s question %d original %d", code, idx, i)
					require.Equal(t, i, o.ShuffledIndex(o.OriginalIndex(i)))
				}
			}
		}
	})

	t.Run("projects option text by original index", func(t *testing.T) {
		o := shuffle.Options(options, "ABCD", 0)
		for _, opt := range o.Options {
			assert.Equal(t, options[opt.OriginalIndex], opt.Text)
		}
	})

	t.Run("out-of-range lookups fall through", func(t *testing.T) {
		o := shuffle.Options(options, "ABCD", 0)
		assert.Equal(t, 9, o.OriginalIndex(9))
		assert.Equal(t, -1, o.ShuffledIndex(-1))
	})

	t.Run("seed derives from code and index", func(t *testing.T) {
		o := shuffle.Options(options, "ABCD", 2)
		assert.Equal(t, shuffle.Hash("ABCD-2"), o.Seed)
	})
}
