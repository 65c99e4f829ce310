// Package scoring turns prioritized answer picks into archetype scores and a
// ranked result. Everything here is pure.
package scoring

import (
	"math/rand"
	"sort"

	"archetype-quiz/internal/domain"
)

// Points returns the score for the click at clickIndex (0-based) within one
// question: 3, 2, 1, then nothing.
func Points(clickIndex int) int {
	if clickIndex < 0 || clickIndex >= domain.SelectionsPerQuestion {
		return 0
	}
	return domain.SelectionsPerQuestion - clickIndex
}

// Outcome describes how Select treated one pick.
type Outcome int

const (
	Accepted Outcome = iota
	Duplicate
	Full
	UnknownCategory
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Full:
		return "full"
	case UnknownCategory:
		return "unknown_category"
	default:
		return "unknown"
	}
}

// Select applies a pick of answer to the current question's selections and the
// cumulative scores. Only accepted picks change selected or scores; the score map
// never gains keys.
func Select(selected []int, answer domain.Answer, scores map[string]int) ([]int, int, Outcome) {
	if len(selected) >= domain.SelectionsPerQuestion {
		return selected, 0, Full
	}
	for _, id := range selected {
		if id == answer.ID {
			return selected, 0, Duplicate
		}
	}
	if _, ok := scores[answer.CategoryID]; !ok {
		return selected, 0, UnknownCategory
	}
	points := Points(len(selected))
	scores[answer.CategoryID] += points
	return append(selected, answer.ID), points, Accepted
}

// InitialScores returns a zero score for every archetype together with the list
// order used for tie-breaks.
func InitialScores(archetypes []domain.Archetype) (map[string]int, []string) {
	scores := make(map[string]int, len(archetypes))
	order := make([]string, 0, len(archetypes))
	for _, a := range archetypes {
		if _, ok := scores[a.ID]; ok {
			continue
		}
		scores[a.ID] = 0
		order = append(order, a.ID)
	}
	return scores, order
}

// Ranked is one category with its cumulative score.
type Ranked struct {
	CategoryID string
	Score      int
}

// Rank orders categories by score, highest first. Equal scores keep their
// position in order; categories missing from order follow in lexical order.
func Rank(scores map[string]int, order []string) []Ranked {
	out := make([]Ranked, 0, len(scores))
	listed := make(map[string]bool, len(order))
	for _, id := range order {
		score, ok := scores[id]
		if !ok || listed[id] {
			continue
		}
		listed[id] = true
		out = append(out, Ranked{CategoryID: id, Score: score})
	}
	var rest []string
	for id := range scores {
		if !listed[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		out = append(out, Ranked{CategoryID: id, Score: scores[id]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Result is the primary archetype and up to two secondary archetypes.
type Result struct {
	Primary   string
	Secondary []string
}

// Resolve picks the result slots from a ranking. Fewer than three categories
// leave the missing secondary slots out.
func Resolve(ranked []Ranked) (Result, bool) {
	if len(ranked) == 0 {
		return Result{}, false
	}
	res := Result{Primary: ranked[0].CategoryID}
	for i := 1; i < len(ranked) && i <= 2; i++ {
		res.Secondary = append(res.Secondary, ranked[i].CategoryID)
	}
	return res, true
}

// Shuffle returns a random permutation of answers without touching the input.
func Shuffle(answers []domain.Answer, rng *rand.Rand) []domain.Answer {
	out := append([]domain.Answer(nil), answers...)
	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}
	shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
