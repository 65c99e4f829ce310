package quiz

import (
	"context"
	"fmt"
	"strings"

	"archetype-quiz/internal/domain"
	"archetype-quiz/internal/scoring"
)

// maxScore is the total a single category can reach over the whole quiz.
const maxScore = domain.QuestionCount * domain.SelectionsPerQuestion

// selfTest renders the result path for random scores. The session is read for
// its variant only.
func (e *Engine) selfTest(ctx context.Context, ev domain.Event) ([]domain.Action, error) {
	snap, err := e.sessions.GetOrCreate(ctx, ev.ConversationID)
	if err != nil {
		return nil, newError(ErrorInternal, "session_read", err)
	}
	variant := snap.Variant
	if variant == "" {
		variant = e.defaultVariant
	}

	archetypes, err := e.content.AllArchetypes(ctx, string(variant))
	if err != nil || len(archetypes) == 0 {
		e.logger.Error("selftest archetypes unavailable", "variant", variant, "err", err)
		return []domain.Action{e.errorMessage(ctx, ev.ConversationID)}, nil
	}
	scores, order := scoring.InitialScores(archetypes)
	for id := range scores {
		scores[id] = e.intn(maxScore + 1)
	}
	ranked := scoring.Rank(scores, order)
	res, _ := scoring.Resolve(ranked)

	var b strings.Builder
	fmt.Fprintf(&b, "Self-test (%s)\n", variant)
	for _, r := range ranked {
		fmt.Fprintf(&b, "%s: %d\n", r.CategoryID, r.Score)
	}

	msgs, err := e.resultMessages(ctx, ev.ConversationID, variant, res)
	if err != nil {
		e.logger.Error("selftest rendering failed", "variant", variant, "err", err)
		return []domain.Action{sendText(ev.ConversationID, b.String(), nil), e.errorMessage(ctx, ev.ConversationID)}, nil
	}
	e.logger.Info("selftest rendered", "conversation_id", ev.ConversationID, "variant", variant, "primary", res.Primary)
	return append([]domain.Action{sendText(ev.ConversationID, b.String(), nil)}, msgs...), nil
}

// health reports content cache counters and the state of every partition.
func (e *Engine) health(ctx context.Context, ev domain.Event) []domain.Action {
	hr, ok := e.content.(HealthReporter)
	if !ok {
		return []domain.Action{sendText(ev.ConversationID, "health: content store does not report health", nil)}
	}
	st := hr.Stats()

	var b strings.Builder
	fmt.Fprintf(&b, "cache: hits=%d misses=%d fetches=%d failures=%d entries=%d\n",
		st.Hits, st.Misses, st.Fetches, st.Failures, st.Entries)
	healthy := true
	for _, p := range hr.Probe(ctx) {
		if p.Err != "" {
			healthy = false
			fmt.Fprintf(&b, "%s: error: %s\n", p.Partition, p.Err)
			continue
		}
		fmt.Fprintf(&b, "%s: %d rows\n", p.Partition, p.Rows)
	}
	e.logger.Info("health reported", "conversation_id", ev.ConversationID, "healthy", healthy)
	return []domain.Action{sendText(ev.ConversationID, strings.TrimRight(b.String(), "\n"), nil)}
}
