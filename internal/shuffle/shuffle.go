// Package shuffle produces the answer ordering shown for a question.
//
// Every viewer of a question must see options in the same order without the
// server broadcasting one, so the order is recomputed anywhere from the
// session join code and question index. The hash and generator constants are
// part of the wire contract: changing them desynchronizes clients.
package shuffle

import "fmt"

// Hash reduces a seed string to a non-negative integer (djb2 variant).
func Hash(s string) int64 {
	var h int32 = 5381
	for _, c := range s {
		h = (h<<5 + h) ^ int32(c)
	}
	// Widen before negating: -MinInt32 overflows back to itself in int32.
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v
}

// lcg is a linear congruential generator yielding values in [0, 1).
type lcg struct {
	seed int64
}

func (g *lcg) next() float64 {
	g.seed = (g.seed*1103515245 + 12345) & 0x7fffffff
	return float64(g.seed) / float64(0x80000000)
}

// WithSeed returns a new slice holding items shuffled deterministically by
// seed. The input is never mutated; identical (items, seed) always yields the
// identical order.
func WithSeed[T any](items []T, seed int64) []T {
	g := &lcg{seed: seed}

	shuffled := make([]T, len(items))
	copy(shuffled, items)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := int(g.next() * float64(i+1))
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	return shuffled
}

// Option pairs an option's text with its position before and after the
// shuffle.
type Option struct {
	Text          string
	OriginalIndex int
	ShuffledIndex int
}

// Order is a question's presentation order plus both inverse lookups.
type Order struct {
	Options []Option
	Seed    int64

	shuffledToOriginal []int
	originalToShuffled []int
}

// OriginalIndex maps a position on screen back to the stored option index.
// Out-of-range positions map to themselves.
func (o Order) OriginalIndex(shuffledIndex int) int {
	if shuffledIndex < 0 || shuffledIndex >= len(o.shuffledToOriginal) {
		return shuffledIndex
	}
	return o.shuffledToOriginal[shuffledIndex]
}

// ShuffledIndex maps a stored option index to its position on screen.
// Out-of-range indices map to themselves.
func (o Order) ShuffledIndex(originalIndex int) int {
	if originalIndex < 0 || originalIndex >= len(o.originalToShuffled) {
		return originalIndex
	}
	return o.originalToShuffled[originalIndex]
}

// Options computes the presentation order for a question's options. The seed
// derives from the session join code and the zero-based question index, so
// any client recomputes the same order independently.
func Options(options []string, sessionCode string, questionIndex int) Order {
	seed := Hash(fmt.Sprintf("%s-%d", sessionCode, questionIndex))

	indices := make([]int, len(options))
	for i := range indices {
		indices[i] = i
	}

	shuffled := WithSeed(indices, seed)

	o := Order{
		Options:            make([]Option, len(shuffled)),
		Seed:               seed,
		shuffledToOriginal: shuffled,
		originalToShuffled: make([]int, len(shuffled)),
	}

	for shuffledIndex, originalIndex := range shuffled {
		o.Options[shuffledIndex] = Option{
			Text:          options[originalIndex],
			OriginalIndex: originalIndex,
			ShuffledIndex: shuffledIndex,
		}
		o.originalToShuffled[originalIndex] = shuffledIndex
	}

	return o
}
