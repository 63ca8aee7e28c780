// Package elevation computes how far a player climbs for a correct answer.
//
// A gain has two parts: a base score that decays linearly with answer
// latency, and a minority bonus for picking an option few others picked.
// Both are scaled by game length so that answering about two thirds of the
// deck at full quality reaches the summit, and a reveal-time dynamic cap
// keeps a frontrunner from making the remaining game unwinnable.
package elevation

import "math"

const (
	// Summit is the elevation at which a player completes the climb.
	// Elevation keeps accumulating past it; summiting is an event, not a cap.
	Summit = 1000

	// summitFraction is the fraction of the deck a player must answer at
	// maximum quality to reach the summit.
	summitFraction = 0.66

	// Defaults used when the deck length is unknown.
	defaultMaxPerQuestion = 175
	defaultSpeedCeiling   = 125
	defaultRarityCeiling  = 50
)

// MaxPerQuestion returns the combined per-question ceiling for a deck of the
// given length. Uncapped: short games score more per question, long games
// less. Non-positive lengths fall back to the default ceiling.
func MaxPerQuestion(totalQuestions int) float64 {
	if totalQuestions <= 0 {
		return defaultMaxPerQuestion
	}
	return Summit / (float64(totalQuestions) * summitFraction)
}

// BaseScore returns the speed component for an answer given in answerTimeMs.
// Linear decay from the ceiling at 0s to zero at 10s, regardless of the
// question's own time limit. totalQuestions <= 0 means pacing is unknown.
func BaseScore(answerTimeMs int64, totalQuestions int) int {
	ceiling := float64(defaultSpeedCeiling)
	if totalQuestions > 0 {
		ceiling = MaxPerQuestion(totalQuestions) * defaultSpeedCeiling / defaultMaxPerQuestion
	}

	seconds := math.Max(0, float64(answerTimeMs)/1000)
	return int(math.Round(math.Max(0, ceiling-seconds*ceiling/10)))
}

// MinorityBonus returns the rarity component: the fewer peers chose the same
// option, the larger the bonus.
func MinorityBonus(countOnSameOption, totalAnswered, totalQuestions int) int {
	if totalAnswered == 0 {
		return 0
	}

	ceiling := float64(defaultRarityCeiling)
	if totalQuestions > 0 {
		ceiling = MaxPerQuestion(totalQuestions) * defaultRarityCeiling / defaultMaxPerQuestion
	}

	aloneRatio := 1 - float64(countOnSameOption)/float64(totalAnswered)
	return int(math.Round(aloneRatio * ceiling))
}

// Gain is the breakdown of one player's elevation award for one question.
type Gain struct {
	Base  int
	Bonus int
	Total int
}

// ElevationGain combines the speed and rarity components for a correct
// answer. Incorrect answers gain nothing.
func ElevationGain(isCorrect bool, answerTimeMs int64, countOnSameOption, totalAnswered, totalQuestions int) Gain {
	if !isCorrect {
		return Gain{}
	}

	base := BaseScore(answerTimeMs, totalQuestions)
	bonus := MinorityBonus(countOnSameOption, totalAnswered, totalQuestions)
	return Gain{
		Base:  base,
		Bonus: bonus,
		Total: base + bonus,
	}
}

// DynamicMax returns the per-reveal ceiling on a single gain. It rises when
// the leading unsummited player could not otherwise be caught in the
// questions that remain, and never drops below the default ceiling.
func DynamicMax(leaderElevation, questionsRemaining int) int {
	if questionsRemaining <= 0 || leaderElevation >= Summit {
		return defaultMaxPerQuestion
	}

	cap := int(math.Round(float64(Summit-leaderElevation) / (float64(questionsRemaining) * summitFraction)))
	if cap < defaultMaxPerQuestion {
		return defaultMaxPerQuestion
	}
	return cap
}

// ApplyGain adds a gain to an elevation. Deliberately uncapped.
func ApplyGain(currentElevation, gain int) int {
	return currentElevation + gain
}

// HasReachedSummit reports whether an elevation is at or past the summit.
func HasReachedSummit(elevation int) bool {
	return elevation >= Summit
}
